package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/maxcube-core/internal/audit"
	"github.com/nerrad567/maxcube-core/internal/cube"
)

// History paging.
const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// roomResponse is the JSON view of a room. Schedule is only filled for
// single-room reads.
type roomResponse struct {
	cube.RoomSnapshot
	Schedule map[string][]cube.SchedulePoint `json:"schedule,omitempty"`
}

func newRoomResponse(snap cube.RoomSnapshot, withSchedule bool) roomResponse {
	resp := roomResponse{RoomSnapshot: snap}
	if withSchedule {
		resp.Schedule = make(map[string][]cube.SchedulePoint, cube.DaysPerWeek)
		for d := range cube.DaysPerWeek {
			day := cube.Weekday(d) //nolint:gosec // G115: d < 7
			resp.Schedule[day.String()] = snap.Schedule[d].Points()
		}
	}
	return resp
}

func (s *Server) handleListRooms(w http.ResponseWriter, _ *http.Request) {
	rooms := s.rooms.Rooms()
	out := make([]roomResponse, 0, len(rooms))
	for _, snap := range rooms {
		out = append(out, newRoomResponse(snap, false))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rooms": out,
		"count": len(out),
	})
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.lookupRoom(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newRoomResponse(snap, true))
}

func (s *Server) handleRoomHistory(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.lookupRoom(w, r)
	if !ok {
		return
	}
	if s.history == nil {
		writeError(w, http.StatusNotImplemented, ErrCodeNotImplemented, "room history is not enabled")
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	entries, err := s.history.GetHistory(r.Context(), snap.Name, limit)
	if err != nil {
		s.logger.Error("failed to load room history", "room", snap.Name, "error", err)
		writeInternalError(w, "failed to load history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"room":    snap.Name,
		"entries": entries,
		"count":   len(entries),
	})
}

type temperatureRequest struct {
	Temperature *float64 `json:"temperature"`
}

func (s *Server) handleSetTemperature(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.lookupRoom(w, r)
	if !ok {
		return
	}
	var req temperatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Temperature == nil {
		writeBadRequest(w, `body must be {"temperature": <celsius>}`)
		return
	}

	value := strconv.FormatFloat(*req.Temperature, 'f', -1, 64)
	s.runCommand(w, r, snap.Name, "temperature", value, func(ctx context.Context) error {
		return s.engine.ChangeTemp(ctx, snap.Name, *req.Temperature)
	})
}

type modeRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.lookupRoom(w, r)
	if !ok {
		return
	}
	var req modeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, `body must be {"mode": "auto|manual|vacation|boost"}`)
		return
	}
	mode, err := cube.ParseMode(req.Mode)
	if err != nil {
		writeCommandError(w, err)
		return
	}

	s.runCommand(w, r, snap.Name, "mode", mode.String(), func(ctx context.Context) error {
		return s.engine.ChangeMode(ctx, snap.Name, mode)
	})
}

type scheduleRequest struct {
	Points []cube.SchedulePoint `json:"points"`
}

func (s *Server) handleSetSchedule(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.lookupRoom(w, r)
	if !ok {
		return
	}
	day, err := cube.ParseWeekday(chi.URLParam(r, "day"))
	if err != nil {
		writeCommandError(w, err)
		return
	}
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Points) == 0 {
		writeBadRequest(w, `body must be {"points": [{"endtime": <minute>, "temp": <celsius>}, ...]}`)
		return
	}

	s.runCommand(w, r, snap.Name, "schedule", day.String(), func(ctx context.Context) error {
		return s.engine.ChangeSchedule(ctx, snap.Name, day, req.Points)
	})
}

// lookupRoom resolves {name} through the cache, writing a 404 on a miss.
func (s *Server) lookupRoom(w http.ResponseWriter, r *http.Request) (cube.RoomSnapshot, bool) {
	snap, err := s.rooms.Room(chi.URLParam(r, "name"))
	if err != nil {
		writeCommandError(w, err)
		return cube.RoomSnapshot{}, false
	}
	return snap, true
}

// runCommand executes fn with the command timeout and answers 202 or the
// mapped error. The outcome is audited when an auditor is configured.
func (s *Server) runCommand(w http.ResponseWriter, r *http.Request, room, command, value string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(r.Context(), s.commandTimeout)
	defer cancel()

	err := fn(ctx)
	if s.auditor != nil {
		s.auditor.Record(audit.SourceAPI, subjectFrom(r.Context()), room, command, value, err)
	}
	if err != nil {
		s.logger.Warn("room command failed",
			"room", room,
			"command", command,
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeCommandError(w, err)
		return
	}

	s.logger.Info("room command accepted",
		"room", room,
		"command", command,
		"user", subjectFrom(r.Context()),
	)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"room":    room,
		"command": command,
	})
}
