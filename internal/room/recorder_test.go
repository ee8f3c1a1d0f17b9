package room

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/maxcube-core/internal/cube"
)

func TestRecorder_WritesHistoryAndTelemetry(t *testing.T) {
	history := newMockHistory()
	climate := &mockClimate{}
	r := NewRecorder(history, climate, RecorderConfig{}, nil)
	r.Start(context.Background())
	defer r.Stop()

	r.OnDeviceInfo(cube.DeviceInfo{Serial: "NEQ0526955"})
	r.OnRoomChanged(snapshot(3, "Living", 1, cube.ChangeSetTemp))

	waitFor(t, "history write", func() bool { return history.count() == 1 })

	climate.mu.Lock()
	defer climate.mu.Unlock()
	if len(climate.rooms) != 1 || climate.rooms[0] != "Living" || climate.serials[0] != "NEQ0526955" {
		t.Errorf("telemetry = %v / %v", climate.serials, climate.rooms)
	}
	if r.Recorded() != 1 {
		t.Errorf("Recorded() = %d, want 1", r.Recorded())
	}
}

func TestRecorder_WritesLinkStatus(t *testing.T) {
	climate := &mockClimate{}
	r := NewRecorder(nil, climate, RecorderConfig{}, nil)

	var _ cube.LinkObserver = r
	r.OnLinkStatus(cube.LinkStatus{Serial: "NEQ0526955", DutyCycle: 12, FreeSlots: 30})

	climate.mu.Lock()
	defer climate.mu.Unlock()
	if len(climate.links) != 1 || climate.links[0].DutyCycle != 12 || climate.links[0].FreeSlots != 30 {
		t.Errorf("link samples = %+v", climate.links)
	}

	// Without a telemetry sink link samples are ignored.
	NewRecorder(nil, nil, RecorderConfig{}, nil).OnLinkStatus(cube.LinkStatus{})
}

func TestRecorder_SkipsConfigOnlyChanges(t *testing.T) {
	history := newMockHistory()
	r := NewRecorder(history, nil, RecorderConfig{}, nil)
	r.Start(context.Background())

	r.OnRoomChanged(snapshot(3, "Living", 1, cube.ChangeConfig|cube.ChangeContainedDevs))
	r.OnRoomChanged(snapshot(3, "Living", 2, cube.ChangeMode))
	r.Stop()

	if history.count() != 1 {
		t.Errorf("history writes = %d, want 1", history.count())
	}
}

func TestRecorder_StopDrainsQueue(t *testing.T) {
	history := newMockHistory()
	r := NewRecorder(history, nil, RecorderConfig{QueueSize: 8}, nil)

	// Queued before the worker starts.
	for v := uint64(1); v <= 4; v++ {
		r.OnRoomChanged(snapshot(3, "Living", v, cube.ChangeActTemp))
	}
	r.Start(context.Background())
	r.Stop()

	if history.count() != 4 {
		t.Errorf("history writes = %d, want 4", history.count())
	}
	// Stop is idempotent.
	r.Stop()
}

func TestRecorder_DropsOnOverflow(t *testing.T) {
	logger := &mockLogger{}
	r := NewRecorder(newMockHistory(), nil, RecorderConfig{QueueSize: 2}, logger)

	for v := uint64(1); v <= 5; v++ {
		r.OnRoomChanged(snapshot(3, "Living", v, cube.ChangeActTemp))
	}

	if r.Dropped() != 3 {
		t.Errorf("Dropped() = %d, want 3", r.Dropped())
	}
	logger.mu.Lock()
	defer logger.mu.Unlock()
	if len(logger.warns) != 3 {
		t.Errorf("warnings = %d, want 3", len(logger.warns))
	}
}

func TestRecorder_LogsHistoryFailure(t *testing.T) {
	history := newMockHistory()
	history.failErr = errors.New("disk full")
	logger := &mockLogger{}
	r := NewRecorder(history, nil, RecorderConfig{}, logger)
	r.Start(context.Background())

	r.OnRoomChanged(snapshot(3, "Living", 1, cube.ChangeSetTemp))
	waitFor(t, "error log", func() bool {
		logger.mu.Lock()
		defer logger.mu.Unlock()
		return len(logger.errors) == 1
	})
	r.Stop()

	if r.Recorded() != 0 {
		t.Errorf("Recorded() = %d after failure", r.Recorded())
	}
}

func TestRecorder_PrunesOnStart(t *testing.T) {
	history := newMockHistory()
	r := NewRecorder(history, nil, RecorderConfig{Retention: 30 * 24 * time.Hour, PruneInterval: time.Hour}, nil)
	r.Start(context.Background())

	waitFor(t, "prune", func() bool {
		history.mu.Lock()
		defer history.mu.Unlock()
		return len(history.prunes) == 1
	})
	r.Stop()

	history.mu.Lock()
	defer history.mu.Unlock()
	if history.prunes[0] != 30*24*time.Hour {
		t.Errorf("prune age = %v", history.prunes[0])
	}
}
