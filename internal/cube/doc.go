// Package cube talks to an eQ-3 MAX! Cube heating controller.
//
// The cube is found by UDP multicast on port 23272 and then speaks a
// line-oriented text protocol over TCP port 62910. Binary payloads inside
// frames are base64 encoded.
//
// # Architecture
//
//	┌──────────────┐  probe/reply  ┌──────────────┐
//	│  Discoverer  │◄─────────────►│              │
//	└──────┬───────┘   UDP 23272   │   MAX! Cube  │
//	       │                       │              │
//	┌──────▼───────┐  H M L C S F  │              │
//	│    Engine    │◄─────────────►│              │
//	│  (run loop)  │  l: s: f: q:  └──────────────┘
//	└──────┬───────┘   TCP 62910
//	       │ RoomSnapshot / DeviceInfo
//	┌──────▼───────┐
//	│ EventHandler │  (MQTT bridge, API, history, console)
//	└──────────────┘
//
// The Engine owns a single goroutine. Discovery replies, dial results,
// received lines, timers and queued commands are all handled there, so
// the Store needs no locking. ChangeTemp, ChangeMode and ChangeSchedule
// may be called from any goroutine and return the command's error.
//
// # Frames
//
//   - H: hello with serial, RF address and duty cycle
//   - M: rooms and devices
//   - L: live readings, one length-prefixed submessage per device
//   - C: per-device configuration and week programme
//   - S: acknowledgement of an s: command
//   - F: time server configuration
//
// # Example
//
//	eng, err := cube.New(cube.Options{Logger: log, Handler: handlers})
//	if err != nil {
//	    return err
//	}
//	go eng.Run(ctx)
//	err = eng.ChangeTemp(ctx, "Living Room", 21.5)
package cube
