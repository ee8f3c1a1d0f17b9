package cube

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

const configTimeServer = "time_server"

// session is one cube connection. It lives in the engine's registry keyed
// by RF address and is only touched by the run loop.
type session struct {
	// key is the RF address the session was registered under. rfAddress
	// may later be corrected by the hello frame.
	key       uint32
	gen       uint64
	rfAddress uint32
	address   string
	serial    string
	firmware  uint16
	state     State
	conn      net.Conn

	dutyCycle    uint32
	freeSlots    uint32
	timeServers  []string
	shortRefresh bool
	infoSent     bool
	connectedAt  time.Time

	// pendingConfig holds configuration requests awaiting an ack frame.
	pendingConfig map[string]struct{}
}

// sessionRef identifies a session from goroutines outside the loop.
type sessionRef struct {
	rf  uint32
	gen uint64
}

type dialResult struct {
	ref  sessionRef
	conn net.Conn
	err  error
}

type lineEvent struct {
	ref  sessionRef
	line string
}

type readError struct {
	ref sessionRef
	err error
}

func (s *session) ref() sessionRef {
	return sessionRef{rf: s.key, gen: s.gen}
}

// lookup resolves a reference, returning nil for sessions that have since
// been torn down or replaced.
func (e *Engine) lookup(ref sessionRef) *session {
	s, ok := e.sessions[ref.rf]
	if !ok || s.gen != ref.gen {
		return nil
	}
	return s
}

// current returns the active session, if any.
func (e *Engine) current() *session {
	for _, s := range e.sessions {
		return s
	}
	return nil
}

func (e *Engine) receiveAnnouncements(ctx context.Context) {
	defer e.wg.Done()
	for {
		a, err := e.disc.Receive()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			if errors.Is(err, errNotReply) {
				e.log.Debug("ignoring discovery datagram", "error", err)
			} else {
				e.log.Warn("discovery receive failed", "error", err)
			}
			continue
		}
		select {
		case e.announcements <- a:
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) startDiscovery() {
	e.setState(StateDiscovering)
	e.publishInfo(nil)
	if err := e.disc.Probe(e.opts.Serial); err != nil {
		e.log.Warn("discovery probe failed", "error", err)
	} else {
		e.log.Debug("discovery probe sent", "serial", e.opts.Serial)
	}
	e.retry.Reset(e.opts.RetryInterval)
}

func (e *Engine) handleRetry() {
	switch e.State() {
	case StateDiscovering, StateDisconnected:
		e.startDiscovery()
	}
}

func (e *Engine) handleAnnouncement(a Announcement) {
	kv := []any{"serial", a.Serial, "address", a.Address, "rf_address", FormatRFAddress(a.RFAddress)}

	if e.opts.Serial != "" && a.Serial != e.opts.Serial {
		e.log.Debug("ignoring cube with other serial", kv...)
		return
	}
	if _, ok := e.sessions[a.RFAddress]; ok {
		e.log.Debug("session already established or in progress", kv...)
		return
	}
	if len(e.sessions) > 0 || e.State() != StateDiscovering {
		e.log.Debug("ignoring discovery reply", append(kv, "state", e.State().String())...)
		return
	}

	e.nextGen++
	s := &session{
		key:           a.RFAddress,
		gen:           e.nextGen,
		rfAddress:     a.RFAddress,
		address:       a.Address,
		serial:        a.Serial,
		firmware:      a.Firmware,
		state:         StateConnecting,
		pendingConfig: make(map[string]struct{}),
	}
	e.sessions[a.RFAddress] = s
	e.retry.Stop()
	e.setState(StateConnecting)
	e.publishInfo(s)
	e.log.Info("cube discovered", append(kv, "firmware", a.Firmware)...)

	addr := net.JoinHostPort(a.Address, strconv.Itoa(e.opts.SessionPort))
	ref := s.ref()
	ctx := e.runCtx
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		conn, err := e.dialer.DialContext(ctx, "tcp", addr)
		select {
		case e.dialed <- dialResult{ref: ref, conn: conn, err: err}:
		case <-ctx.Done():
			if conn != nil {
				_ = conn.Close()
			}
		}
	}()
}

func (e *Engine) handleDialResult(r dialResult) {
	s := e.lookup(r.ref)
	if s == nil {
		if r.conn != nil {
			_ = r.conn.Close()
		}
		return
	}

	if r.err != nil {
		e.log.Warn("cube connect failed, rediscovering",
			"address", s.address,
			"error", r.err,
			"retry_in", e.opts.RetryInterval.String(),
		)
		delete(e.sessions, s.key)
		e.setState(StateDisconnected)
		e.publishInfo(nil)
		e.retry.Reset(e.opts.RetryInterval)
		return
	}

	s.conn = r.conn
	s.state = StateConnected
	s.connectedAt = time.Now()
	e.setState(StateConnected)
	e.publishInfo(s)
	e.log.Info("connected to cube", "serial", s.serial, "address", s.address)

	e.wg.Add(1)
	go e.readLoop(e.runCtx, s.ref(), r.conn)
	e.armWatchdog(s)
}

// maxLineLength bounds one cube line. The largest real frame, a C frame
// carrying a full weekly programme, is a few hundred bytes.
const maxLineLength = 64 << 10

// readLoop splits the TCP stream into lines and hands them to the run loop.
// Lines longer than maxLineLength are discarded up to their newline.
func (e *Engine) readLoop(ctx context.Context, ref sessionRef, conn net.Conn) {
	defer e.wg.Done()
	r := bufio.NewReader(conn)
	var partial strings.Builder
	overlong := false
	for {
		chunk, err := r.ReadSlice('\n')
		switch {
		case overlong:
		case partial.Len()+len(chunk) > maxLineLength:
			overlong = true
			partial.Reset()
		default:
			partial.Write(chunk)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			select {
			case e.readErrs <- readError{ref: ref, err: err}:
			case <-ctx.Done():
			}
			return
		}

		if overlong {
			overlong = false
			e.malformed("line", fmt.Errorf("%w: line exceeds %d bytes", ErrMalformedFrame, maxLineLength))
			continue
		}

		line := partial.String()
		partial.Reset()
		select {
		case e.lines <- lineEvent{ref: ref, line: line}:
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) handleReadError(r readError) {
	s := e.lookup(r.ref)
	if s == nil {
		return
	}
	e.dropSession(s, r.err)
}

// dropSession tears down a session after a connection-level error and
// returns to discovery.
func (e *Engine) dropSession(s *session, err error) {
	e.log.Warn("cube connection lost", "serial", s.serial, "error", err)
	e.watchdog.Stop()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	delete(e.sessions, s.key)
	e.reconnects.Add(1)
	e.setState(StateDisconnected)
	e.startDiscovery()
}

func (e *Engine) handleLine(l lineEvent) {
	s := e.lookup(l.ref)
	if s == nil {
		return
	}
	e.watchdog.Stop()

	line := strings.TrimRight(l.line, "\r\n")
	if line != "" {
		e.framesRx.Add(1)
		e.lastActivity.Store(time.Now().Unix())
		e.dispatch(s, line)
	}

	// dispatch may have dropped the session on a write error.
	if s = e.lookup(l.ref); s != nil {
		e.armWatchdog(s)
	}
}

func (e *Engine) armWatchdog(s *session) {
	d := e.opts.RefreshInterval
	if s.shortRefresh {
		d = e.opts.ShortRefreshInterval
		s.shortRefresh = false
	}
	e.watchdog.Reset(d)
}

func (e *Engine) handleWatchdog() {
	s := e.current()
	if s == nil || s.state != StateConnected {
		return
	}
	e.log.Debug("requesting live list", "serial", s.serial)
	if err := e.write(s, verbLiveList+lineEnding); err != nil {
		return
	}
	e.watchdog.Reset(e.opts.RefreshInterval)
}

// write sends one line to the cube. A failed write tears the session down.
func (e *Engine) write(s *session, line string) error {
	if s.conn == nil {
		return ErrNotConnected
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(e.opts.WriteTimeout))
	if _, err := s.conn.Write([]byte(line)); err != nil {
		e.dropSession(s, err)
		return errors.Join(ErrNotConnected, err)
	}
	return nil
}

// shutdown says goodbye to the cube and closes every session.
func (e *Engine) shutdown() {
	e.watchdog.Stop()
	e.retry.Stop()
	for rf, s := range e.sessions {
		if s.conn != nil {
			_ = s.conn.SetWriteDeadline(time.Now().Add(e.opts.WriteTimeout))
			if _, err := s.conn.Write([]byte(verbQuit + lineEnding)); err != nil {
				e.log.Debug("sending quit failed", "error", err)
			}
			_ = s.conn.Close()
		}
		delete(e.sessions, rf)
	}
	e.publishInfo(nil)
	e.log.Info("cube engine stopped")
}

// dispatch decodes one line and applies it.
func (e *Engine) dispatch(s *session, line string) {
	switch line[0] {
	case FrameHello:
		e.onHello(s, line)
	case FrameMetadata:
		e.onMetadata(line)
	case FrameLiveList:
		e.onLiveList(s, line)
	case FrameConfig:
		e.onConfig(line)
	case FrameSendAck:
		e.onSendAck(s, line)
	case FrameNTPAck:
		e.onNTPAck(s, line)
	default:
		e.log.Debug("unhandled frame", "prefix", string(line[0]))
	}
}

func (e *Engine) malformed(kind string, err error) {
	e.framesMalformed.Add(1)
	e.log.Warn("discarding frame", "frame", kind, "error", err)
}

func (e *Engine) onHello(s *session, line string) {
	h, err := ParseHello(line)
	if err != nil {
		e.malformed("H", err)
		return
	}
	if h.RFAddress != s.rfAddress {
		e.log.Warn("hello rf address differs from discovery",
			"discovered", FormatRFAddress(s.rfAddress),
			"hello", FormatRFAddress(h.RFAddress),
		)
		s.rfAddress = h.RFAddress
	}
	s.serial = h.Serial
	s.dutyCycle = h.DutyCycle
	e.publishInfo(s)

	if e.opts.RequestTimeServer {
		if _, pending := s.pendingConfig[configTimeServer]; !pending {
			if err := e.write(s, verbTimeServer+lineEnding); err == nil {
				s.pendingConfig[configTimeServer] = struct{}{}
			}
		}
	}
}

func (e *Engine) onMetadata(line string) {
	meta, err := ParseMetadata(line)
	if err != nil {
		e.malformed("M", err)
		return
	}
	for _, r := range meta.Rooms {
		e.store.UpsertRoomConfig(r)
	}
	for _, d := range meta.Devices {
		e.store.UpsertDeviceMeta(d)
	}
	e.log.Info("cube metadata received", "rooms", len(meta.Rooms), "devices", len(meta.Devices))
	e.flush()
}

func (e *Engine) onLiveList(s *session, line string) {
	readings, err := ParseLiveList(line)
	if err != nil {
		e.malformed("L", err)
		if len(readings) == 0 {
			return
		}
	}
	for _, r := range readings {
		if _, err := e.store.ApplyReading(r); err != nil {
			e.log.Debug("reading for unknown device, data incomplete", "rf_address", FormatRFAddress(r.RFAddress))
		}
	}
	e.flush()

	if !s.infoSent {
		s.infoSent = true
		info := DeviceInfo{Serial: s.serial, Address: s.address, RFAddress: s.rfAddress, Firmware: s.firmware}
		e.emit(func() { e.events.OnDeviceInfo(info) })
	}
}

func (e *Engine) onConfig(line string) {
	cfg, err := ParseDeviceConfig(line)
	if err != nil {
		if !errors.Is(err, ErrUnsupportedDevice) {
			e.malformed("C", err)
			return
		}
		e.log.Debug("storing identity of unsupported device", "rf_address", FormatRFAddress(cfg.RFAddress), "error", err)
	}
	e.store.UpsertDeviceConfig(cfg)
	e.flush()
}

func (e *Engine) onSendAck(s *session, line string) {
	s.shortRefresh = true
	ack, err := ParseSendAck(line)
	if err != nil {
		e.malformed("S", err)
		return
	}
	s.dutyCycle = ack.DutyCycle
	s.freeSlots = ack.FreeSlots
	if ack.Failed {
		e.log.Warn("cube reports command failed", "duty_cycle", ack.DutyCycle, "free_slots", ack.FreeSlots)
	}
	e.publishInfo(s)
	if o, ok := e.events.(LinkObserver); ok {
		status := LinkStatus{
			Serial:    s.serial,
			DutyCycle: ack.DutyCycle,
			FreeSlots: ack.FreeSlots,
			Failed:    ack.Failed,
			Time:      time.Now(),
		}
		e.emit(func() { o.OnLinkStatus(status) })
	}
}

func (e *Engine) onNTPAck(s *session, line string) {
	servers, err := ParseNTPAck(line)
	if err != nil {
		e.malformed("F", err)
		return
	}
	delete(s.pendingConfig, configTimeServer)
	s.timeServers = servers
	e.publishInfo(s)
}
