package audit

import (
	"context"
	"time"
)

const recordTimeout = 2 * time.Second

// Logger is the logging interface used by the recorder.
type Logger interface {
	Warn(msg string, keysAndValues ...any)
}

// Recorder writes entries on behalf of the command surfaces. Storage errors
// are logged, never returned.
type Recorder struct {
	repo   Repository
	logger Logger
}

// NewRecorder creates a recorder. logger may be nil.
func NewRecorder(repo Repository, logger Logger) *Recorder {
	return &Recorder{repo: repo, logger: logger}
}

// Record stores the outcome of one command. cmdErr is the command's result.
func (r *Recorder) Record(source, user, room, command, value string, cmdErr error) {
	e := Entry{
		Source:  source,
		User:    user,
		Room:    room,
		Command: command,
		Value:   value,
	}
	if cmdErr != nil {
		e.Error = cmdErr.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := r.repo.Create(ctx, &e); err != nil && r.logger != nil {
		r.logger.Warn("failed to store command audit entry",
			"source", source,
			"room", room,
			"command", command,
			"error", err,
		)
	}
}
