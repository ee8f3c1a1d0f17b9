package cube

import "time"

// Logger is the logging interface used by the engine. *logging.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// EventHandler receives engine events.
//
// Both methods are called on the engine's run-loop goroutine. They must
// return quickly and must not call back into the engine's command methods
// synchronously, since the loop is blocked until they return. Consumers
// that answer queries from other goroutines must keep their own copy of
// the data behind their own lock.
type EventHandler interface {
	// OnDeviceInfo is called once per session after the first live list.
	OnDeviceInfo(info DeviceInfo)
	// OnRoomChanged is called once per room per processed frame in which
	// the room changed.
	OnRoomChanged(snap RoomSnapshot)
}

// Handlers fans events out to several handlers in order.
type Handlers []EventHandler

// OnDeviceInfo implements EventHandler.
func (h Handlers) OnDeviceInfo(info DeviceInfo) {
	for _, x := range h {
		if x != nil {
			x.OnDeviceInfo(info)
		}
	}
}

// OnRoomChanged implements EventHandler.
func (h Handlers) OnRoomChanged(snap RoomSnapshot) {
	for _, x := range h {
		if x != nil {
			x.OnRoomChanged(snap)
		}
	}
}

// LinkStatus is the cube's radio budget as reported by a send
// acknowledgement.
type LinkStatus struct {
	Serial    string    `json:"serial"`
	DutyCycle uint32    `json:"duty_cycle"`
	FreeSlots uint32    `json:"free_slots"`
	Failed    bool      `json:"failed"`
	Time      time.Time `json:"time"`
}

// LinkObserver is implemented by handlers that also want a LinkStatus after
// every send acknowledgement. The engine checks for it on Options.Handler.
// It runs on the run-loop goroutine under the same rules as EventHandler.
type LinkObserver interface {
	OnLinkStatus(status LinkStatus)
}

// OnLinkStatus implements LinkObserver for the members that do.
func (h Handlers) OnLinkStatus(status LinkStatus) {
	for _, x := range h {
		if o, ok := x.(LinkObserver); ok {
			o.OnLinkStatus(status)
		}
	}
}
