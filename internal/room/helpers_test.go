package room

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/maxcube-core/internal/cube"
	"github.com/nerrad567/maxcube-core/internal/infrastructure/config"
	"github.com/nerrad567/maxcube-core/internal/infrastructure/database"
	"github.com/nerrad567/maxcube-core/migrations"
)

var testTime = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

// openHistoryDB opens a migrated SQLite database in a temp directory.
func openHistoryDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "history.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

func snapshot(id uint8, name string, version uint64, changes cube.ChangeFlags) cube.RoomSnapshot {
	return cube.RoomSnapshot{
		ID:         id,
		Name:       name,
		SetTemp:    cube.TimedTemperature{Celsius: 21.5, UpdatedAt: testTime},
		ActualTemp: cube.TimedTemperature{Celsius: 19.4, UpdatedAt: testTime},
		Mode:       cube.ModeAuto,
		Valve:      cube.TimedValve{Percent: 40, UpdatedAt: testTime},
		Version:    version,
		Changes:    changes,
	}
}

// mockHistory records calls in memory.
type mockHistory struct {
	mu      sync.Mutex
	snaps   []cube.RoomSnapshot
	prunes  []time.Duration
	failErr error
	written chan struct{}
}

func newMockHistory() *mockHistory {
	return &mockHistory{written: make(chan struct{}, 64)}
}

func (m *mockHistory) RecordSnapshot(_ context.Context, snap cube.RoomSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.snaps = append(m.snaps, snap)
	m.written <- struct{}{}
	return nil
}

func (m *mockHistory) GetHistory(context.Context, string, int) ([]HistoryEntry, error) {
	return nil, nil
}

func (m *mockHistory) PruneHistory(_ context.Context, olderThan time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prunes = append(m.prunes, olderThan)
	return 3, nil
}

func (m *mockHistory) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snaps)
}

// mockClimate records telemetry writes.
type mockClimate struct {
	mu      sync.Mutex
	serials []string
	rooms   []string
	links   []cube.LinkStatus
}

func (m *mockClimate) WriteCubeLink(status cube.LinkStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links = append(m.links, status)
}

func (m *mockClimate) WriteRoomClimate(serial string, snap cube.RoomSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.serials = append(m.serials, serial)
	m.rooms = append(m.rooms, snap.Name)
}

// mockLogger counts warnings and errors.
type mockLogger struct {
	mu     sync.Mutex
	warns  []string
	errors []string
}

func (l *mockLogger) Debug(string, ...any) {}
func (l *mockLogger) Info(string, ...any)  {}

func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func (l *mockLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
