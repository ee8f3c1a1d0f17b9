package room

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/maxcube-core/internal/cube"
)

const (
	defaultQueueSize     = 256
	defaultPruneInterval = 24 * time.Hour
	recordTimeout        = 5 * time.Second
)

// Logger is the logging interface used by this package.
// *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// ClimateWriter sends room snapshots and cube link samples to a
// time-series store. Writes are expected to be non-blocking.
type ClimateWriter interface {
	WriteRoomClimate(cubeSerial string, snap cube.RoomSnapshot)
	WriteCubeLink(status cube.LinkStatus)
}

// RecorderConfig tunes the recorder worker.
type RecorderConfig struct {
	// QueueSize bounds the snapshots waiting to be written. Default 256.
	QueueSize int

	// Retention is how long history is kept. Zero disables pruning.
	Retention time.Duration

	// PruneInterval is the time between prune runs. Default 24h.
	PruneInterval time.Duration
}

// Recorder writes room snapshots to history and telemetry on its own
// goroutine. It implements cube.EventHandler; OnRoomChanged never blocks,
// so a slow database cannot stall the cube session.
type Recorder struct {
	history HistoryRepository
	climate ClimateWriter
	logger  Logger
	cfg     RecorderConfig

	queue chan cube.RoomSnapshot

	serialMu sync.RWMutex
	serial   string

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	recorded atomic.Uint64
	dropped  atomic.Uint64
}

// NewRecorder creates a recorder. history and climate may each be nil when
// that sink is disabled.
func NewRecorder(history HistoryRepository, climate ClimateWriter, cfg RecorderConfig, logger Logger) *Recorder {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = defaultPruneInterval
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &Recorder{
		history: history,
		climate: climate,
		logger:  logger,
		cfg:     cfg,
		queue:   make(chan cube.RoomSnapshot, cfg.QueueSize),
	}
}

// Start launches the worker. Calling it more than once has no effect.
func (r *Recorder) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		r.cancel = cancel
		r.wg.Add(1)
		go r.run(ctx)
	})
}

// Stop halts the worker after writing the snapshots already queued.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
		r.wg.Wait()
	})
}

// OnDeviceInfo implements cube.EventHandler. The serial tags telemetry.
func (r *Recorder) OnDeviceInfo(info cube.DeviceInfo) {
	r.serialMu.Lock()
	r.serial = info.Serial
	r.serialMu.Unlock()
}

// OnRoomChanged implements cube.EventHandler.
func (r *Recorder) OnRoomChanged(snap cube.RoomSnapshot) {
	if !worthRecording(snap) {
		return
	}
	select {
	case r.queue <- snap:
	default:
		r.dropped.Add(1)
		r.logger.Warn("room recorder queue full, snapshot dropped",
			"room", snap.Name,
			"version", snap.Version,
		)
	}
}

// OnLinkStatus implements cube.LinkObserver. Link samples skip the queue
// and go straight to the non-blocking telemetry writer.
func (r *Recorder) OnLinkStatus(status cube.LinkStatus) {
	if r.climate != nil {
		r.climate.WriteCubeLink(status)
	}
}

// Recorded returns how many snapshots were written to history.
func (r *Recorder) Recorded() uint64 { return r.recorded.Load() }

// Dropped returns how many snapshots were discarded on overflow.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

func (r *Recorder) run(ctx context.Context) {
	defer r.wg.Done()

	var prune <-chan time.Time
	if r.history != nil && r.cfg.Retention > 0 {
		ticker := time.NewTicker(r.cfg.PruneInterval)
		defer ticker.Stop()
		prune = ticker.C
		r.prune()
	}

	for {
		select {
		case <-ctx.Done():
			r.drain()
			return
		case snap := <-r.queue:
			r.record(snap)
		case <-prune:
			r.prune()
		}
	}
}

func (r *Recorder) drain() {
	for {
		select {
		case snap := <-r.queue:
			r.record(snap)
		default:
			return
		}
	}
}

func (r *Recorder) record(snap cube.RoomSnapshot) {
	if r.climate != nil {
		r.serialMu.RLock()
		serial := r.serial
		r.serialMu.RUnlock()
		r.climate.WriteRoomClimate(serial, snap)
	}

	if r.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := r.history.RecordSnapshot(ctx, snap); err != nil {
		r.logger.Error("recording room history failed",
			"room", snap.Name,
			"error", err,
		)
		return
	}
	r.recorded.Add(1)
}

func (r *Recorder) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	n, err := r.history.PruneHistory(ctx, r.cfg.Retention)
	if err != nil {
		r.logger.Error("pruning room history failed", "error", err)
		return
	}
	if n > 0 {
		r.logger.Info("pruned room history", "rows", n, "retention", r.cfg.Retention)
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
