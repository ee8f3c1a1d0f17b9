package maxcube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/maxcube-core/internal/audit"
	"github.com/nerrad567/maxcube-core/internal/cube"
	"github.com/nerrad567/maxcube-core/internal/infrastructure/mqtt"
)

// BridgeID names this bridge in health messages.
const BridgeID = "maxcube"

// Bridge defaults.
const (
	// DefaultHealthInterval is how often the health report is republished.
	DefaultHealthInterval = 30 * time.Second

	// DefaultQueueSize bounds the snapshots waiting for the publisher.
	DefaultQueueSize = 256

	// commandTimeout bounds a command issued from an MQTT set topic.
	commandTimeout = 5 * time.Second
)

// Bridge translates between the cube engine and MQTT.
// It handles:
//   - Publishing changed room fields as retained topics
//   - Receiving set commands and forwarding them to the engine
//   - Acknowledging commands and reporting health
//
// The engine calls OnDeviceInfo and OnRoomChanged on its loop goroutine;
// the bridge only queues there and publishes from its own goroutine.
type Bridge struct {
	client  MQTTClient
	cmd     Commander
	health  *HealthReporter
	topics  mqtt.Topics
	qos     byte
	version string
	auditor Auditor

	queue     chan bridgeEvent
	republish chan struct{}
	dropped   atomic.Uint64

	// Publisher state, owned by the publish goroutine. serial and levels
	// are also read by MQTT callbacks, so writes hold mu.
	serial string
	latest map[uint8]cube.RoomSnapshot
	seen   map[uint8]bool
	named  int

	// levels maps a sanitised topic level to the room name.
	levels map[string]string
	mu     sync.RWMutex

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// MQTTClient is the subset of the MQTT client the bridge uses.
// *mqtt.Client satisfies it.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Commander accepts room commands. *cube.Engine satisfies it.
type Commander interface {
	ChangeTemp(ctx context.Context, room string, celsius float64) error
	ChangeMode(ctx context.Context, room string, mode cube.Mode) error
	ChangeSchedule(ctx context.Context, room string, day cube.Weekday, points []cube.SchedulePoint) error
}

// StatusSource describes the cube session. *cube.Engine satisfies it.
type StatusSource interface {
	Session() cube.SessionInfo
	Stats() cube.Stats
}

// Auditor records the outcome of set commands. *audit.Recorder satisfies it.
type Auditor interface {
	Record(source, user, room, command, value string, err error)
}

// Logger is the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	MQTTClient MQTTClient
	Commander  Commander

	// Status feeds the health report. Optional.
	Status StatusSource

	// Topics builds topic names. Zero value uses the default prefix.
	Topics mqtt.Topics

	// QoS for published values and subscriptions.
	QoS byte

	// Serial is the configured cube serial. When empty, room topics are
	// held back until the engine reports the cube's serial.
	Serial string

	// Auditor records each executed command. Optional.
	Auditor Auditor

	Version        string
	HealthInterval time.Duration
	QueueSize      int
	Logger         Logger
}

type bridgeEvent struct {
	info *cube.DeviceInfo
	snap *cube.RoomSnapshot
}

// NewBridge creates a new bridge instance. Call Start to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, ErrMissingMQTT
	}
	if opts.Commander == nil {
		return nil, ErrMissingCommander
	}

	topics := opts.Topics
	if topics.Prefix == "" {
		topics = mqtt.NewTopics("")
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		client:    opts.MQTTClient,
		cmd:       opts.Commander,
		topics:    topics,
		qos:       opts.QoS,
		version:   opts.Version,
		auditor:   opts.Auditor,
		queue:     make(chan bridgeEvent, queueSize),
		republish: make(chan struct{}, 1),
		serial:    opts.Serial,
		latest:    make(map[uint8]cube.RoomSnapshot),
		seen:      make(map[uint8]bool),
		levels:    make(map[string]string),
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		Version:   opts.Version,
		Topic:     topics.Health(),
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTTClient,
		Source:    opts.Status,
		Counts:    b.counts,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start subscribes to the set topics and starts the publisher and health
// reporter.
func (b *Bridge) Start(ctx context.Context) error {
	var err error
	b.startOnce.Do(func() {
		if perr := b.health.PublishStarting(); perr != nil {
			b.logError("failed to publish starting status", perr)
		}

		for _, command := range []string{mqtt.SetTemp, mqtt.SetMode, mqtt.SetWeekplan} {
			pattern := b.topics.SetPattern(command)
			if serr := b.client.Subscribe(pattern, b.qos, b.handleSet); serr != nil {
				err = fmt.Errorf("subscribe to %s: %w", pattern, serr)
				return
			}
			b.logDebug("subscribed to commands", "topic", pattern)
		}

		b.wg.Add(1)
		go b.publishLoop()

		b.health.Start(ctx)

		b.logInfo("bridge started", "prefix", b.topics.Prefix, "serial", b.serial)
	})
	return err
}

// Stop shuts the bridge down, cancelling in-flight commands.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.ctxCancel()
		b.health.Stop()
		b.wg.Wait()
		b.logInfo("bridge stopped", "dropped", b.dropped.Load())
	})
}

// OnDeviceInfo implements cube.EventHandler.
func (b *Bridge) OnDeviceInfo(info cube.DeviceInfo) {
	b.enqueue(bridgeEvent{info: &info})
}

// OnRoomChanged implements cube.EventHandler.
func (b *Bridge) OnRoomChanged(snap cube.RoomSnapshot) {
	b.enqueue(bridgeEvent{snap: &snap})
}

// Republish marks every known room for a full publish. It is wired to the
// MQTT client's on-connect callback so retained values survive a broker
// restart.
func (b *Bridge) Republish() {
	select {
	case b.republish <- struct{}{}:
	default:
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (b *Bridge) Dropped() uint64 {
	return b.dropped.Load()
}

// SetLogger sets the logger for the bridge and its health reporter.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
	b.health.SetLogger(logger)
}

func (b *Bridge) enqueue(ev bridgeEvent) {
	select {
	case b.queue <- ev:
	default:
		n := b.dropped.Add(1)
		b.logWarn("bridge queue full, event dropped", "dropped", n)
	}
}

func (b *Bridge) counts() (int, uint64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.levels), b.dropped.Load()
}

func (b *Bridge) publishLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.done:
			return
		case ev := <-b.queue:
			b.handleEvent(ev)
		case <-b.republish:
			b.publishAll()
		}
	}
}

func (b *Bridge) handleEvent(ev bridgeEvent) {
	switch {
	case ev.info != nil:
		if ev.info.Serial == "" || ev.info.Serial == b.serial {
			return
		}
		b.mu.Lock()
		b.serial = ev.info.Serial
		b.mu.Unlock()
		b.logInfo("cube serial known, publishing rooms", "serial", b.serial, "rooms", len(b.latest))
		b.publishAll()

	case ev.snap != nil:
		snap := *ev.snap
		b.latest[snap.ID] = snap
		b.rememberLevel(snap.Name)
		if b.serial == "" {
			return
		}
		first := !b.seen[snap.ID]
		b.publishRoom(snap, first)
		if first {
			b.publishRoomList()
		}
	}
}

func (b *Bridge) publishAll() {
	if b.serial == "" {
		return
	}
	for _, id := range b.roomIDs() {
		b.publishRoom(b.latest[id], true)
	}
	b.named = 0
	b.publishRoomList()
}

// publishRoom publishes the changed fields of snap, or every field when
// full is set.
func (b *Bridge) publishRoom(snap cube.RoomSnapshot, full bool) {
	b.seen[snap.ID] = true
	for _, v := range roomValues(snap, full) {
		topic := b.topics.RoomValue(b.serial, snap.Name, v.field)
		if err := b.client.Publish(topic, v.payload, b.qos, true); err != nil {
			b.logError("failed to publish room value", err, "topic", topic)
		}
	}
}

// publishRoomList publishes the comma-joined room names when the set of
// rooms has grown since the last publish.
func (b *Bridge) publishRoomList() {
	ids := b.roomIDs()
	if len(ids) <= b.named {
		return
	}
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, b.latest[id].Name)
	}
	topic := b.topics.Rooms(b.serial)
	if err := b.client.Publish(topic, []byte(strings.Join(names, ",")), b.qos, true); err != nil {
		b.logError("failed to publish room list", err, "topic", topic)
		return
	}
	b.named = len(ids)
}

func (b *Bridge) roomIDs() []uint8 {
	ids := make([]uint8, 0, len(b.latest))
	for id := range b.latest {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (b *Bridge) rememberLevel(name string) {
	level := mqtt.SanitizeLevel(name)
	b.mu.Lock()
	b.levels[level] = name
	b.mu.Unlock()
}

// roomName maps a topic level back to the room name the cube reported.
func (b *Bridge) roomName(level string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if name, ok := b.levels[level]; ok {
		return name
	}
	return level
}

type roomValue struct {
	field   string
	payload []byte
}

// roomValues renders the topics to publish for a snapshot.
func roomValues(snap cube.RoomSnapshot, full bool) []roomValue {
	var out []roomValue
	if snap.Changes.Has(cube.ChangeActTemp) || (full && !snap.ActualTemp.UpdatedAt.IsZero()) {
		out = append(out, roomValue{mqtt.FieldActualTemp, []byte(FormatTemp(snap.ActualTemp.Celsius))})
	}
	if full || snap.Changes.Has(cube.ChangeSetTemp) {
		out = append(out, roomValue{mqtt.FieldSetTemp, []byte(FormatTemp(snap.SetTemp.Celsius))})
	}
	if full || snap.Changes.Has(cube.ChangeValvePos) {
		out = append(out, roomValue{mqtt.FieldValvePos, []byte(strconv.Itoa(snap.Valve.Percent))})
	}
	if full || snap.Changes.Has(cube.ChangeMode) {
		out = append(out, roomValue{mqtt.FieldMode, []byte(snap.Mode.String())})
	}
	if full || snap.Changes.Has(cube.ChangeConfig) {
		if plan, err := json.Marshal(NewWeekplan(snap.Schedule)); err == nil {
			out = append(out, roomValue{mqtt.FieldWeekplan, plan})
		}
	}
	return out
}

// handleSet processes <prefix>/<cube>/<room>/set/<command>.
func (b *Bridge) handleSet(topic string, payload []byte) error {
	set, ok := b.topics.ParseSet(topic)
	if !ok {
		b.logWarn("ignoring malformed set topic", "topic", topic)
		return nil
	}

	serial := b.currentSerial()
	if serial != "" && set.Cube != mqtt.SanitizeLevel(serial) {
		b.logDebug("ignoring command for another cube", "topic", topic)
		return nil
	}

	room := b.roomName(set.Room)

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	err := b.execute(ctx, set.Command, room, payload)
	if b.auditor != nil {
		b.auditor.Record(audit.SourceMQTT, "", room, set.Command, auditValue(set.Command, payload), err)
	}
	if err != nil {
		b.logWarn("command failed", "command", set.Command, "room", room, "error", err)
	} else {
		b.logInfo("command accepted", "command", set.Command, "room", room)
	}

	b.publishAck(set, err)
	return nil
}

func (b *Bridge) execute(ctx context.Context, command, room string, payload []byte) error {
	text := strings.TrimSpace(string(payload))

	switch command {
	case mqtt.SetTemp:
		celsius, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return fmt.Errorf("%w: temperature %q", ErrInvalidPayload, text)
		}
		return b.cmd.ChangeTemp(ctx, room, celsius)

	case mqtt.SetMode:
		mode, err := cube.ParseMode(text)
		if err != nil {
			return err
		}
		return b.cmd.ChangeMode(ctx, room, mode)

	case mqtt.SetWeekplan:
		plan, err := ParseWeekplan(payload)
		if err != nil {
			return err
		}
		days, err := plan.Days()
		if err != nil {
			return err
		}
		var errs []error
		for _, day := range days {
			if err := b.cmd.ChangeSchedule(ctx, room, day, plan.Points(day)); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", day, err))
			}
		}
		return errors.Join(errs...)

	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, command)
	}
}

// auditValue keeps scalar payloads and elides weekplans.
func auditValue(command string, payload []byte) string {
	if command == mqtt.SetWeekplan {
		return ""
	}
	return strings.TrimSpace(string(payload))
}

func (b *Bridge) publishAck(set mqtt.SetTopic, cmdErr error) {
	msg := NewAckMessage(set.Command, set.Room, cmdErr)
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}
	if err := b.client.Publish(b.topics.Ack(set.Cube, set.Room), payload, 1, false); err != nil {
		b.logError("failed to publish ack", err, "room", set.Room)
	}
}

// currentSerial reads the serial for the MQTT callback goroutine.
func (b *Bridge) currentSerial() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.serial
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if l := b.getLogger(); l != nil {
		l.Debug(msg, keysAndValues...)
	}
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if l := b.getLogger(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if l := b.getLogger(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error, keysAndValues ...any) {
	if l := b.getLogger(); l != nil {
		l.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
