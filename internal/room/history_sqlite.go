package room

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/maxcube-core/internal/cube"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// SQLiteHistoryRepository implements HistoryRepository on the room_history table.
type SQLiteHistoryRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteHistoryRepository creates a repository over an open database
// whose room_history table has been migrated.
func NewSQLiteHistoryRepository(db *sql.DB) *SQLiteHistoryRepository {
	return &SQLiteHistoryRepository{db: db, now: time.Now}
}

// RecordSnapshot inserts a history row for snap stamped with the current time.
// The actual temperature is stored as NULL until a reading has arrived.
func (r *SQLiteHistoryRepository) RecordSnapshot(ctx context.Context, snap cube.RoomSnapshot) error {
	if snap.Name == "" {
		return ErrRoomRequired
	}

	var actual any
	if !snap.ActualTemp.UpdatedAt.IsZero() {
		actual = snap.ActualTemp.Celsius
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO room_history
		 (id, room, set_temp, act_temp, mode, valve_pos, version, changes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(),
		snap.Name,
		snap.SetTemp.Celsius,
		actual,
		snap.Mode.String(),
		snap.Valve.Percent,
		int64(snap.Version), //nolint:gosec // versions stay far below 2^63
		snap.Changes.String(),
		r.now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting room history: %w", err)
	}
	return nil
}

// GetHistory returns recent entries for a room ordered newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - room: Room name as reported by the cube
//   - limit: Maximum entries to return (default 50, max 200)
func (r *SQLiteHistoryRepository) GetHistory(ctx context.Context, room string, limit int) ([]HistoryEntry, error) {
	if room == "" {
		return nil, ErrRoomRequired
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, room, set_temp, act_temp, mode, valve_pos, version, changes, created_at
		 FROM room_history
		 WHERE room = ?
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT ?`,
		room,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying room history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		var (
			e       HistoryEntry
			actual  sql.NullFloat64
			version int64
			changes string
			created int64
		)
		if err := rows.Scan(&e.ID, &e.Room, &e.SetTemp, &actual, &e.Mode, &e.ValvePos, &version, &changes, &created); err != nil {
			return nil, fmt.Errorf("scanning room history: %w", err)
		}
		if actual.Valid {
			v := actual.Float64
			e.ActualTemp = &v
		}
		e.Version = uint64(version) //nolint:gosec // written from a uint64
		e.Changes = splitChanges(changes)
		e.CreatedAt = time.UnixMilli(created).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating room history: %w", err)
	}
	return entries, nil
}

// PruneHistory deletes entries older than the given age.
func (r *SQLiteHistoryRepository) PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, ErrInvalidRetention
	}

	cutoff := r.now().UTC().Add(-olderThan).UnixMilli()
	result, err := r.db.ExecContext(ctx, "DELETE FROM room_history WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting room history: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

func splitChanges(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, ",")
}
