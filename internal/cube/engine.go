package cube

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Default intervals.
const (
	DefaultRefreshInterval      = 30 * time.Second
	DefaultShortRefreshInterval = 5 * time.Second
	DefaultRetryInterval        = 10 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
)

// State is the connection state of the engine.
type State int32

// Engine states.
const (
	StateIdle State = iota
	StateDiscovering
	StateConnecting
	StateConnected
	StateDisconnected
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDiscovering:
		return "discovering"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for st := StateIdle; st <= StateDisconnected; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown engine state %q", text)
}

// Dialer opens the TCP session to a cube. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Options configures an Engine.
type Options struct {
	// Serial restricts discovery to one cube. Empty accepts the first cube
	// that answers.
	Serial string

	// SessionPort is the cube's TCP port (default 62910).
	SessionPort int

	// RefreshInterval is the watchdog period between l: requests.
	RefreshInterval time.Duration

	// ShortRefreshInterval replaces RefreshInterval once after an S frame.
	ShortRefreshInterval time.Duration

	// RetryInterval is the delay before rediscovery after a failed connect,
	// and the period at which probes are repeated while discovering.
	RetryInterval time.Duration

	// WriteTimeout bounds each write to the cube.
	WriteTimeout time.Duration

	// RequestTimeServer sends f: after the hello frame.
	RequestTimeServer bool

	Discoverer Discoverer
	Dialer     Dialer
	Handler    EventHandler
	Logger     Logger
}

// SessionInfo describes the current cube session.
type SessionInfo struct {
	State       State     `json:"state"`
	Serial      string    `json:"serial,omitempty"`
	Address     string    `json:"address,omitempty"`
	RFAddress   uint32    `json:"rf_address,omitempty"`
	Firmware    uint16    `json:"firmware,omitempty"`
	DutyCycle   uint32    `json:"duty_cycle"`
	FreeSlots   uint32    `json:"free_slots"`
	TimeServers []string  `json:"time_servers,omitempty"`
	ConnectedAt time.Time `json:"connected_at,omitzero"`
}

// Stats holds engine counters.
type Stats struct {
	FramesReceived  uint64    `json:"frames_received"`
	FramesMalformed uint64    `json:"frames_malformed"`
	CommandsSent    uint64    `json:"commands_sent"`
	Reconnects      uint64    `json:"reconnects"`
	LastActivity    time.Time `json:"last_activity,omitzero"`
}

// Engine discovers a MAX! Cube, keeps a session to it, decodes its frames
// into the store and sends commands.
//
// A single run-loop goroutine owns the socket, the timers and the store.
// Command methods may be called from any goroutine; they queue a closure
// on the loop and wait for its result.
type Engine struct {
	opts   Options
	log    Logger
	disc   Discoverer
	dialer Dialer
	events EventHandler

	store *Store

	cmds          chan func()
	announcements chan Announcement
	dialed        chan dialResult
	lines         chan lineEvent
	readErrs      chan readError

	// Loop-owned.
	sessions map[uint32]*session
	nextGen  uint64
	watchdog *time.Timer
	retry    *time.Timer
	runCtx   context.Context
	wg       sync.WaitGroup

	running atomic.Bool
	done    chan struct{}

	state           atomic.Int32
	info            atomic.Pointer[SessionInfo]
	framesRx        atomic.Uint64
	framesMalformed atomic.Uint64
	commandsTx      atomic.Uint64
	reconnects      atomic.Uint64
	lastActivity    atomic.Int64
}

// New creates an engine. Missing intervals take their defaults; a nil
// Discoverer or Dialer selects the UDP discoverer and a net.Dialer.
func New(opts Options) (*Engine, error) {
	if opts.Serial != "" && len(opts.Serial) != serialLength {
		return nil, fmt.Errorf("cube: serial %q must be %d characters", opts.Serial, serialLength)
	}
	if opts.SessionPort == 0 {
		opts.SessionPort = SessionPort
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}
	if opts.ShortRefreshInterval <= 0 {
		opts.ShortRefreshInterval = DefaultShortRefreshInterval
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}

	e := &Engine{
		opts:          opts,
		log:           opts.Logger,
		disc:          opts.Discoverer,
		dialer:        opts.Dialer,
		events:        opts.Handler,
		store:         NewStore(),
		cmds:          make(chan func()),
		announcements: make(chan Announcement),
		dialed:        make(chan dialResult),
		lines:         make(chan lineEvent),
		readErrs:      make(chan readError),
		sessions:      make(map[uint32]*session),
		done:          make(chan struct{}),
	}
	if e.log == nil {
		e.log = nopLogger{}
	}
	if e.disc == nil {
		e.disc = NewUDPDiscoverer("", 0)
	}
	if e.dialer == nil {
		e.dialer = &net.Dialer{Timeout: opts.RetryInterval}
	}
	if e.events == nil {
		e.events = Handlers(nil)
	}
	e.info.Store(&SessionInfo{State: StateIdle})
	return e, nil
}

// Run binds discovery and runs the loop until ctx is cancelled. It returns
// an error wrapping ErrDiscoveryBind if the discovery socket cannot be
// opened; otherwise it returns nil after shutdown.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("cube: engine already running")
	}
	defer close(e.done)

	if err := e.disc.Open(); err != nil {
		return fmt.Errorf("%w: %w", ErrDiscoveryBind, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.runCtx = runCtx

	e.watchdog = newStoppedTimer()
	e.retry = newStoppedTimer()
	defer e.watchdog.Stop()
	defer e.retry.Stop()

	e.wg.Add(1)
	go e.receiveAnnouncements(runCtx)

	e.startDiscovery()

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			cancel()
			_ = e.disc.Close()
			e.wg.Wait()
			e.setState(StateIdle)
			return nil
		case fn := <-e.cmds:
			fn()
		case a := <-e.announcements:
			e.handleAnnouncement(a)
		case r := <-e.dialed:
			e.handleDialResult(r)
		case l := <-e.lines:
			e.handleLine(l)
		case r := <-e.readErrs:
			e.handleReadError(r)
		case <-e.watchdog.C:
			e.handleWatchdog()
		case <-e.retry.C:
			e.handleRetry()
		}
	}
}

// ChangeTemp sets a room's target temperature, keeping its current mode.
func (e *Engine) ChangeTemp(ctx context.Context, room string, celsius float64) error {
	return e.do(ctx, func() error {
		rc, err := e.resolveRoom(room)
		if err != nil {
			return err
		}
		mode := ModeAuto
		if st, ok := e.store.State(rc.ID); ok {
			mode = st.Mode
		}
		return e.sendTempMode(rc, celsius, mode)
	})
}

// ChangeMode sets a room's operating mode, keeping its current target
// temperature.
func (e *Engine) ChangeMode(ctx context.Context, room string, mode Mode) error {
	return e.do(ctx, func() error {
		rc, err := e.resolveRoom(room)
		if err != nil {
			return err
		}
		var celsius float64
		if st, ok := e.store.State(rc.ID); ok {
			celsius = st.SetTemp.Celsius
		}
		return e.sendTempMode(rc, celsius, mode)
	})
}

// ChangeSchedule replaces one day of a room's weekly programme.
func (e *Engine) ChangeSchedule(ctx context.Context, room string, day Weekday, points []SchedulePoint) error {
	return e.do(ctx, func() error {
		rc, err := e.resolveRoom(room)
		if err != nil {
			return err
		}
		s := e.current()
		if s == nil || s.state != StateConnected {
			return ErrNotConnected
		}
		dest, err := ResolveDestination(rc)
		if err != nil {
			return err
		}
		body, err := EncodeSchedule(dest, rc.ID, day, points)
		if err != nil {
			return err
		}
		if err := e.write(s, SendFrame(body)); err != nil {
			return err
		}
		e.commandsTx.Add(1)
		e.log.Info("schedule sent", "room", rc.Name, "day", day.String(), "points", len(points))

		e.store.SetRoomSchedule(rc.ID, day, points)
		e.flush()
		return nil
	})
}

// Devices returns the devices currently known to the engine.
func (e *Engine) Devices(ctx context.Context) ([]DeviceConfig, error) {
	var out []DeviceConfig
	err := e.do(ctx, func() error {
		out = e.store.Devices()
		return nil
	})
	return out, err
}

// State returns the current connection state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Session returns a copy of the current session description.
func (e *Engine) Session() SessionInfo {
	info := *e.info.Load()
	info.State = e.State()
	return info
}

// Stats returns engine counters.
func (e *Engine) Stats() Stats {
	var last time.Time
	if ts := e.lastActivity.Load(); ts != 0 {
		last = time.Unix(ts, 0)
	}
	return Stats{
		FramesReceived:  e.framesRx.Load(),
		FramesMalformed: e.framesMalformed.Load(),
		CommandsSent:    e.commandsTx.Load(),
		Reconnects:      e.reconnects.Load(),
		LastActivity:    last,
	}
}

// HealthCheck reports whether a cube session is established.
func (e *Engine) HealthCheck(_ context.Context) error {
	if e.State() != StateConnected {
		return fmt.Errorf("%w: state %s", ErrNotConnected, e.State())
	}
	return nil
}

// do queues fn on the run loop and waits for its result.
func (e *Engine) do(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	select {
	case e.cmds <- func() { reply <- fn() }:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrEngineStopped
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrEngineStopped
	}
}

func (e *Engine) resolveRoom(name string) (*RoomConfig, error) {
	rc, ok := e.store.RoomByName(name)
	if !ok {
		e.log.Warn("command for unknown room", "room", name)
		return nil, fmt.Errorf("%w: %q", ErrUnknownRoom, name)
	}
	return rc, nil
}

func (e *Engine) sendTempMode(rc *RoomConfig, celsius float64, mode Mode) error {
	s := e.current()
	if s == nil || s.state != StateConnected {
		return ErrNotConnected
	}
	dest, err := ResolveDestination(rc)
	if err != nil {
		return err
	}
	body, err := EncodeTempMode(dest, rc.ID, celsius, mode)
	if err != nil {
		return err
	}
	if err := e.write(s, SendFrame(body)); err != nil {
		return err
	}
	e.commandsTx.Add(1)
	e.log.Info("temperature command sent",
		"room", rc.Name,
		"destination", FormatRFAddress(dest),
		"temperature", celsius,
		"mode", mode.String(),
	)

	if err := e.write(s, verbLiveList+lineEnding); err != nil {
		return err
	}
	return nil
}

func (e *Engine) setState(s State) {
	old := State(e.state.Swap(int32(s)))
	if old != s {
		e.log.Debug("cube state changed", "from", old.String(), "to", s.String())
	}
}

func (e *Engine) publishInfo(s *session) {
	info := &SessionInfo{State: e.State()}
	if s != nil {
		info.Serial = s.serial
		info.Address = s.address
		info.RFAddress = s.rfAddress
		info.Firmware = s.firmware
		info.DutyCycle = s.dutyCycle
		info.FreeSlots = s.freeSlots
		info.TimeServers = append([]string(nil), s.timeServers...)
		info.ConnectedAt = s.connectedAt
	}
	e.info.Store(info)
}

// flush emits one snapshot per changed room.
func (e *Engine) flush() {
	for _, snap := range e.store.TakeSnapshots() {
		e.emit(func() { e.events.OnRoomChanged(snap) })
	}
}

// emit calls a handler and contains panics so a faulty consumer cannot
// stop the loop.
func (e *Engine) emit(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("event handler panicked", "panic", r)
		}
	}()
	fn()
}

func newStoppedTimer() *time.Timer {
	t := time.NewTimer(time.Hour)
	t.Stop()
	return t
}
