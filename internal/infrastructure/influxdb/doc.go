// Package influxdb provides InfluxDB connectivity for room climate telemetry.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, batched writes and health monitoring.
//
// # Purpose
//
// Every room snapshot produced by the cube engine is written as a point in
// the room_climate measurement, tagged by cube serial and room name, so
// set and actual temperatures and valve openings can be graphed over time.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteRoomClimate(influxdb.RoomClimate{Cube: serial, Room: "Living", SetTemp: 21})
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are reported via the
// SetOnError callback. Connection and health check errors are returned directly.
package influxdb
