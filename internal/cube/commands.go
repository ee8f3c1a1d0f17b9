package cube

import (
	"fmt"
	"math"
)

// Outbound verbs.
const (
	verbLiveList   = "l:"
	verbSend       = "s:"
	verbTimeServer = "f:"
	verbQuit       = "q:"
	lineEnding     = "\r\n"
)

// Command type bytes of the s: body.
const (
	cmdSetTempMode = 0x40
	cmdSetSchedule = 0x10
)

// Wire limits of a half-degree temperature.
const (
	maxTempModeHalf = 63  // six bits in the temp/mode byte
	maxScheduleHalf = 127 // seven bits in a schedule point
)

// Mode tags OR'd into the packed temperature byte.
var modeTags = map[Mode]byte{
	ModeAuto:     0x00,
	ModeManual:   0x40,
	ModeVacation: 0x80,
	ModeBoost:    0xC0,
}

// commandHeader returns the fixed six-byte prefix plus destination and room.
func commandHeader(cmd byte, dest uint32, roomID uint8) []byte {
	b := []byte{0x00, 0x04, cmd, 0x00, 0x00, 0x00, 0, 0, 0, roomID}
	putUint24(b[6:9], dest)
	return b
}

// EncodeTempMode builds the body of a set-temperature/mode command.
//
// The temperature is sent in half degrees in the low six bits of the last
// byte, so anything that rounds above 31.5 °C (or below zero) is rejected
// with ErrTemperatureOutOfRange.
func EncodeTempMode(dest uint32, roomID uint8, celsius float64, mode Mode) ([]byte, error) {
	tag, ok := modeTags[mode]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMode, mode)
	}

	half := math.Round(celsius * 2)
	if math.IsNaN(half) || half < 0 || half > maxTempModeHalf {
		return nil, fmt.Errorf("%w: %.1f", ErrTemperatureOutOfRange, celsius)
	}

	body := commandHeader(cmdSetTempMode, dest, roomID)
	return append(body, byte(half)|tag), nil
}

// EncodeSchedule builds the body of a set-programme command for one day.
//
// Points must be at most 13, end on a five-minute boundary within the day
// and be non-decreasing in end time.
func EncodeSchedule(dest uint32, roomID uint8, day Weekday, points []SchedulePoint) ([]byte, error) {
	if day >= DaysPerWeek {
		return nil, fmt.Errorf("%w: day %d", ErrInvalidSchedule, day)
	}
	if len(points) == 0 || len(points) > PointsPerDay {
		return nil, fmt.Errorf("%w: %d points", ErrInvalidSchedule, len(points))
	}

	body := commandHeader(cmdSetSchedule, dest, roomID)
	body = append(body, byte(day))

	last := 0
	for i, p := range points {
		if p.EndMinute <= 0 || p.EndMinute > MinutesPerDay || p.EndMinute < last {
			return nil, fmt.Errorf("%w: point %d ends at minute %d", ErrInvalidSchedule, i, p.EndMinute)
		}
		last = p.EndMinute

		half := math.Round(p.Temperature * 2)
		if math.IsNaN(half) {
			half = 0
		}
		half = math.Max(0, math.Min(maxScheduleHalf, half))

		v := uint16(half)<<9 | uint16(p.EndMinute/5) //nolint:gosec,mnd // bounded above
		body = append(body, byte(v>>8), byte(v))
	}

	return body, nil
}

// SendFrame wraps a command body as an s: line.
func SendFrame(body []byte) string {
	return verbSend + EncodeBase64(body) + lineEnding
}

// ResolveDestination picks the RF address a room command is sent to: the
// room's group address, then its wall thermostat, then its first radiator.
func ResolveDestination(rc *RoomConfig) (uint32, error) {
	switch {
	case rc == nil:
		return 0, ErrUnknownRoom
	case rc.GroupAddress != 0:
		return rc.GroupAddress, nil
	case rc.WallThermostat != 0:
		return rc.WallThermostat, nil
	case len(rc.Radiators) > 0:
		return rc.Radiators[0], nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrNoTargetDevice, rc.Name)
	}
}
