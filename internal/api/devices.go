package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/nerrad567/maxcube-core/internal/audit"
	"github.com/nerrad567/maxcube-core/internal/cube"
)

// deviceResponse is the JSON view of one configured device.
type deviceResponse struct {
	RFAddress   string           `json:"rf_address"`
	Type        string           `json:"type"`
	RoomID      uint8            `json:"room_id"`
	Firmware    uint8            `json:"firmware"`
	Serial      string           `json:"serial"`
	Name        string           `json:"name"`
	Calibration cube.Calibration `json:"calibration,omitempty"`
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.commandTimeout)
	defer cancel()

	devices, err := s.engine.Devices(ctx)
	if err != nil {
		writeCommandError(w, err)
		return
	}

	out := make([]deviceResponse, 0, len(devices))
	for _, d := range devices {
		out = append(out, deviceResponse{
			RFAddress:   cube.FormatRFAddress(d.RFAddress),
			Type:        d.Type.String(),
			RoomID:      d.RoomID,
			Firmware:    d.Firmware,
			Serial:      d.Serial,
			Name:        d.Name,
			Calibration: d.Calibration,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": out,
		"count":   len(out),
	})
}

// handleListAudit pages through audited room commands.
// Query parameters: room, source, limit, offset.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.auditLog == nil {
		writeError(w, http.StatusNotImplemented, ErrCodeNotImplemented, "command audit is not enabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Room:   q.Get("room"),
		Source: q.Get("source"),
	}
	var ok bool
	if filter.Limit, ok = queryInt(w, q.Get("limit"), "limit"); !ok {
		return
	}
	if filter.Offset, ok = queryInt(w, q.Get("offset"), "offset"); !ok {
		return
	}

	res, err := s.auditLog.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list command audit", "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// queryInt parses an optional non-negative integer parameter, writing a 400
// when it is malformed.
func queryInt(w http.ResponseWriter, v, name string) (int, bool) {
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		writeBadRequest(w, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}
