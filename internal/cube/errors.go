package cube

import "errors"

// Domain errors for the cube package.
var (
	// ErrMalformedFrame is returned when a line from the cube has the wrong
	// field count, a truncated payload, or an unknown prefix.
	ErrMalformedFrame = errors.New("cube: malformed frame")

	// ErrInvalidReading is returned for a live-list submessage whose valid
	// bit is not set.
	ErrInvalidReading = errors.New("cube: invalid device reading")

	// ErrUnsupportedDevice is returned when a configuration payload carries a
	// device type or length the decoder does not understand.
	ErrUnsupportedDevice = errors.New("cube: unsupported device configuration")

	// ErrUnknownDevice is returned when a reading references an RF address
	// with no known device or room.
	ErrUnknownDevice = errors.New("cube: unknown device")

	// ErrUnknownRoom is returned when a command names a room the cube has
	// not reported.
	ErrUnknownRoom = errors.New("cube: unknown room")

	// ErrNoTargetDevice is returned when a room has neither a group address
	// nor any thermostat to address a command to.
	ErrNoTargetDevice = errors.New("cube: no target device in room")

	// ErrTemperatureOutOfRange is returned when a temperature cannot be
	// encoded in half-degree units.
	ErrTemperatureOutOfRange = errors.New("cube: temperature out of range")

	// ErrInvalidMode is returned when a mode name cannot be parsed.
	ErrInvalidMode = errors.New("cube: invalid mode")

	// ErrInvalidSchedule is returned when a schedule-set command has too many
	// points or out-of-order end times.
	ErrInvalidSchedule = errors.New("cube: invalid schedule")

	// ErrNotConnected is returned when a command is issued while no cube
	// session is established.
	ErrNotConnected = errors.New("cube: not connected")

	// ErrEngineStopped is returned when a command is issued to an engine
	// whose run loop has exited.
	ErrEngineStopped = errors.New("cube: engine stopped")

	// ErrDiscoveryBind is returned from Run when the discovery socket
	// cannot be opened.
	ErrDiscoveryBind = errors.New("cube: cannot bind discovery socket")
)
