package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurements written by the gateway.
const (
	MeasurementRoomClimate = "room_climate"
	MeasurementCubeLink    = "cube_link"
)

// RoomClimate is one sample of a room's thermostat state.
type RoomClimate struct {
	Cube       string
	Room       string
	SetTemp    float64
	ActualTemp float64
	ValvePos   int
	Mode       string
	Time       time.Time
}

// CubeLink is one sample of the cube's radio budget, taken from a send
// acknowledgement.
type CubeLink struct {
	Cube      string
	DutyCycle int
	FreeSlots int
	Failed    bool
	Time      time.Time
}

// WriteRoomClimate queues a room sample in the room_climate measurement.
//
// Tags are cube and room; fields are set_temp, act_temp, valve_pos and mode.
// A zero ActualTemp means no reading yet and is left out.
//
// Example:
//
//	client.WriteRoomClimate(influxdb.RoomClimate{
//	    Cube: "NEQ0526955", Room: "Living", SetTemp: 21.5, ValvePos: 40, Mode: "AUTO",
//	})
func (c *Client) WriteRoomClimate(sample RoomClimate) {
	c.write(roomClimatePoint(sample))
}

// WriteCubeLink queues a link sample in the cube_link measurement, tagged
// by cube with duty_cycle, free_slots and failed fields.
func (c *Client) WriteCubeLink(sample CubeLink) {
	c.write(cubeLinkPoint(sample))
}

func roomClimatePoint(sample RoomClimate) *write.Point {
	fields := map[string]interface{}{
		"set_temp":  sample.SetTemp,
		"valve_pos": sample.ValvePos,
		"mode":      sample.Mode,
	}
	if sample.ActualTemp != 0 {
		fields["act_temp"] = sample.ActualTemp
	}
	tags := map[string]string{
		"cube": sample.Cube,
		"room": sample.Room,
	}
	return write.NewPoint(MeasurementRoomClimate, tags, fields, sampleTime(sample.Time))
}

func cubeLinkPoint(sample CubeLink) *write.Point {
	return write.NewPoint(MeasurementCubeLink,
		map[string]string{"cube": sample.Cube},
		map[string]interface{}{
			"duty_cycle": sample.DutyCycle,
			"free_slots": sample.FreeSlots,
			"failed":     sample.Failed,
		},
		sampleTime(sample.Time),
	)
}

func sampleTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
