package maxcube

import (
	"errors"

	"github.com/nerrad567/maxcube-core/internal/cube"
)

// Domain-specific errors for the MQTT bridge.
var (
	// ErrMissingMQTT is returned by NewBridge without an MQTT client.
	ErrMissingMQTT = errors.New("maxcube bridge: MQTT client is required")

	// ErrMissingCommander is returned by NewBridge without a command target.
	ErrMissingCommander = errors.New("maxcube bridge: commander is required")

	// ErrUnknownCommand is returned for a set topic other than temp, mode or weekplan.
	ErrUnknownCommand = errors.New("maxcube bridge: unknown command")

	// ErrInvalidPayload is returned when a set payload cannot be parsed.
	ErrInvalidPayload = errors.New("maxcube bridge: invalid payload")
)

// errorCode maps an error to the ack error code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, cube.ErrUnknownRoom):
		return ErrCodeUnknownRoom
	case errors.Is(err, cube.ErrNoTargetDevice):
		return ErrCodeNoTargetDevice
	case errors.Is(err, cube.ErrNotConnected), errors.Is(err, cube.ErrEngineStopped):
		return ErrCodeNotConnected
	case errors.Is(err, ErrUnknownCommand):
		return ErrCodeUnknownCommand
	case errors.Is(err, ErrInvalidPayload),
		errors.Is(err, cube.ErrTemperatureOutOfRange),
		errors.Is(err, cube.ErrInvalidMode),
		errors.Is(err, cube.ErrInvalidSchedule):
		return ErrCodeInvalidValue
	default:
		return ErrCodeBridgeError
	}
}
