package room

import (
	"context"
	"time"

	"github.com/nerrad567/maxcube-core/internal/cube"
)

// HistoryEntry is one recorded room snapshot.
type HistoryEntry struct {
	ID      string  `json:"id"`
	Room    string  `json:"room"`
	SetTemp float64 `json:"set_temp"`

	// ActualTemp is nil until a thermostat has reported a reading.
	ActualTemp *float64 `json:"act_temp,omitempty"`

	Mode      string    `json:"mode"`
	ValvePos  int       `json:"valve_pos"`
	Version   uint64    `json:"version"`
	Changes   []string  `json:"changes"`
	CreatedAt time.Time `json:"created_at"`
}

// HistoryRepository stores and retrieves room snapshots.
//
// Implementations must be safe for concurrent use and store UTC timestamps.
type HistoryRepository interface {
	// RecordSnapshot appends a snapshot to the room's history.
	RecordSnapshot(ctx context.Context, snap cube.RoomSnapshot) error

	// GetHistory returns up to limit entries for a room, newest first.
	// Implementations clamp limit to their own bounds.
	GetHistory(ctx context.Context, room string, limit int) ([]HistoryEntry, error)

	// PruneHistory deletes entries older than now-olderThan and returns
	// how many were removed.
	PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error)
}

// recordedChanges are the flags worth an entry in history. Config and
// membership changes alone do not alter what a user sees.
const recordedChanges = cube.ChangeSetTemp | cube.ChangeActTemp | cube.ChangeMode | cube.ChangeValvePos

// worthRecording reports whether snap changed a user-visible value.
func worthRecording(snap cube.RoomSnapshot) bool {
	return snap.Changes&recordedChanges != 0
}
