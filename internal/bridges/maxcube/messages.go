package maxcube

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/maxcube-core/internal/cube"
)

// MQTT message types exchanged between the gateway and home automation
// controllers.

// AckStatus is the outcome of a set command.
type AckStatus string

const (
	// AckAccepted indicates the command was sent to the cube.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command was rejected or could not be sent.
	AckFailed AckStatus = "failed"
)

// Error codes for failed commands.
const (
	ErrCodeUnknownRoom    = "UNKNOWN_ROOM"
	ErrCodeInvalidValue   = "INVALID_VALUE"
	ErrCodeNoTargetDevice = "NO_TARGET_DEVICE"
	ErrCodeNotConnected   = "NOT_CONNECTED"
	ErrCodeUnknownCommand = "UNKNOWN_COMMAND"
	ErrCodeBridgeError    = "BRIDGE_ERROR"
)

// AckMessage answers a set command.
// Topic: <prefix>/<cube>/<room>/ack
// QoS: 1, Retained: No
type AckMessage struct {
	// ID uniquely identifies this acknowledgement.
	ID string `json:"id"`

	// Timestamp is when the command finished (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Command is the set topic suffix: temp, mode or weekplan.
	Command string `json:"command"`

	// Room is the room level from the command topic.
	Room string `json:"room"`

	Status AckStatus `json:"status"`

	// Error contains details if status is "failed".
	Error *AckError `json:"error,omitempty"`
}

// AckError describes a failed command.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewAckMessage creates an acknowledgement with a fresh UUID.
// A nil err yields an accepted ack.
func NewAckMessage(command, room string, err error) AckMessage {
	msg := AckMessage{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Command:   command,
		Room:      room,
		Status:    AckAccepted,
	}
	if err != nil {
		msg.Status = AckFailed
		msg.Error = &AckError{Code: errorCode(err), Message: err.Error()}
	}
	return msg
}

// HealthStatus is the operational status of the gateway.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthOffline  HealthStatus = "offline"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports gateway status.
// Topic: <prefix>/health
// QoS: 1, Retained: Yes
// Interval: Every 30 seconds
type HealthMessage struct {
	Bridge        string       `json:"bridge"`
	Timestamp     time.Time    `json:"timestamp"`
	Status        HealthStatus `json:"status"`
	Version       string       `json:"version,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`

	// Cube describes the cube session.
	Cube *CubeStatus `json:"cube,omitempty"`

	Statistics *BridgeStatistics `json:"statistics,omitempty"`

	RoomsManaged int `json:"rooms_managed"`

	// Reason explains the status (especially for offline/degraded).
	Reason string `json:"reason,omitempty"`
}

// CubeStatus is the cube session part of a health message.
type CubeStatus struct {
	State          string     `json:"state"`
	Serial         string     `json:"serial,omitempty"`
	Address        string     `json:"address,omitempty"`
	ConnectedSince *time.Time `json:"connected_since,omitempty"`
	DutyCycle      uint32     `json:"duty_cycle"`
	FreeSlots      uint32     `json:"free_slots"`
}

// BridgeStatistics contains operational counters.
type BridgeStatistics struct {
	FramesReceived   uint64 `json:"frames_received"`
	FramesMalformed  uint64 `json:"frames_malformed"`
	CommandsSent     uint64 `json:"commands_sent"`
	Reconnects       uint64 `json:"reconnects"`
	SnapshotsDropped uint64 `json:"snapshots_dropped"`
}

// NewHealthMessage creates a health message from the engine's session view.
func NewHealthMessage(version string, status HealthStatus, session cube.SessionInfo, stats cube.Stats, dropped uint64, rooms int, startTime time.Time) HealthMessage {
	msg := HealthMessage{
		Bridge:        BridgeID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       version,
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		RoomsManaged:  rooms,
		Cube: &CubeStatus{
			State:     session.State.String(),
			Serial:    session.Serial,
			Address:   session.Address,
			DutyCycle: session.DutyCycle,
			FreeSlots: session.FreeSlots,
		},
		Statistics: &BridgeStatistics{
			FramesReceived:   stats.FramesReceived,
			FramesMalformed:  stats.FramesMalformed,
			CommandsSent:     stats.CommandsSent,
			Reconnects:       stats.Reconnects,
			SnapshotsDropped: dropped,
		},
	}
	if !session.ConnectedAt.IsZero() {
		since := session.ConnectedAt.UTC()
		msg.Cube.ConnectedSince = &since
	}
	return msg
}

// Weekplan is the JSON form of a week schedule: day name to programme
// points, each day truncated after the point ending at midnight.
//
//	{"saturday":[{"endtime":360,"temp":17},{"endtime":1440,"temp":21}], ...}
type Weekplan map[string][]cube.SchedulePoint

// NewWeekplan converts a week schedule.
func NewWeekplan(ws cube.WeekSchedule) Weekplan {
	plan := make(Weekplan, cube.DaysPerWeek)
	for d := range cube.DaysPerWeek {
		day := cube.Weekday(d) //nolint:gosec // G115: d < 7
		plan[day.String()] = ws[d].Points()
	}
	return plan
}

// Days parses the plan's day names, returning the days present in week
// order. Unknown day names are an error.
func (w Weekplan) Days() ([]cube.Weekday, error) {
	present := make(map[cube.Weekday]bool, len(w))
	for name := range w {
		day, err := cube.ParseWeekday(name)
		if err != nil {
			return nil, err
		}
		present[day] = true
	}
	days := make([]cube.Weekday, 0, len(present))
	for d := range cube.DaysPerWeek {
		if day := cube.Weekday(d); present[day] { //nolint:gosec // G115: d < 7
			days = append(days, day)
		}
	}
	return days, nil
}

// Points returns the points given for day, matching the key case-insensitively.
func (w Weekplan) Points(day cube.Weekday) []cube.SchedulePoint {
	for name, pts := range w {
		if d, err := cube.ParseWeekday(name); err == nil && d == day {
			return pts
		}
	}
	return nil
}

// ParseWeekplan decodes a weekplan payload.
func ParseWeekplan(payload []byte) (Weekplan, error) {
	var plan Weekplan
	if err := json.Unmarshal(payload, &plan); err != nil {
		return nil, fmt.Errorf("%w: weekplan: %w", cube.ErrInvalidSchedule, err)
	}
	if len(plan) == 0 {
		return nil, fmt.Errorf("%w: weekplan has no days", cube.ErrInvalidSchedule)
	}
	return plan, nil
}

// FormatTemp renders a temperature with one decimal, as published on
// act-temp and set-temp.
func FormatTemp(c float64) string {
	return strconv.FormatFloat(c, 'f', 1, 64)
}
