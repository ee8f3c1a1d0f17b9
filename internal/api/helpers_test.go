package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/maxcube-core/internal/audit"
	"github.com/nerrad567/maxcube-core/internal/auth"
	"github.com/nerrad567/maxcube-core/internal/cube"
	"github.com/nerrad567/maxcube-core/internal/infrastructure/config"
	"github.com/nerrad567/maxcube-core/internal/infrastructure/logging"
	"github.com/nerrad567/maxcube-core/internal/room"
)

const (
	testUser     = "admin"
	testPassword = "s3cret-password"
	testSecret   = "test-secret-key-at-least-32-characters-long"
)

// mockEngine implements Engine for testing.
type mockEngine struct {
	mu      sync.Mutex
	session cube.SessionInfo
	stats   cube.Stats
	devices []cube.DeviceConfig
	calls   []string
	err     error
	block   bool
}

func (e *mockEngine) Devices(ctx context.Context) ([]cube.DeviceConfig, error) {
	if err := e.record(ctx, "devices"); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.devices, nil
}

func (e *mockEngine) ChangeTemp(ctx context.Context, room string, celsius float64) error {
	return e.record(ctx, "temp "+room+" "+jsonString(celsius))
}

func (e *mockEngine) ChangeMode(ctx context.Context, room string, mode cube.Mode) error {
	return e.record(ctx, "mode "+room+" "+mode.String())
}

func (e *mockEngine) ChangeSchedule(ctx context.Context, room string, day cube.Weekday, points []cube.SchedulePoint) error {
	return e.record(ctx, "schedule "+room+" "+day.String()+" "+jsonString(points))
}

func (e *mockEngine) record(ctx context.Context, call string) error {
	e.mu.Lock()
	e.calls = append(e.calls, call)
	block, err := e.block, e.err
	e.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (e *mockEngine) Session() cube.SessionInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

func (e *mockEngine) Stats() cube.Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func (e *mockEngine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

// mockHistory implements HistoryReader for testing.
type mockHistory struct {
	mu        sync.Mutex
	room      string
	limit     int
	entries   []room.HistoryEntry
	err       error
	callCount int
}

func (h *mockHistory) GetHistory(_ context.Context, name string, limit int) ([]room.HistoryEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.room, h.limit = name, limit
	h.callCount++
	return h.entries, h.err
}

// mockAuditor implements CommandAuditor.
type mockAuditor struct {
	mu      sync.Mutex
	records []string
}

func (a *mockAuditor) Record(source, user, room, command, value string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	status := "ok"
	if err != nil {
		status = "failed"
	}
	a.records = append(a.records, strings.Join([]string{source, user, room, command, value, status}, " "))
}

func (a *mockAuditor) Records() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.records...)
}

// mockAuditLog implements AuditReader.
type mockAuditLog struct {
	mu     sync.Mutex
	filter audit.Filter
	result *audit.ListResult
	err    error
}

func (l *mockAuditLog) List(_ context.Context, filter audit.Filter) (*audit.ListResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.filter = filter
	return l.result, l.err
}

// mockChecker implements HealthChecker.
type mockChecker struct{ err error }

func (c mockChecker) HealthCheck(context.Context) error { return c.err }

func jsonString(v any) string {
	b, _ := json.Marshal(v) //nolint:errcheck // test helper
	return string(b)
}

type testEnv struct {
	srv     *Server
	handler http.Handler
	engine  *mockEngine
	cache   *room.Cache
	history *mockHistory
	auditor *mockAuditor
	audits  *mockAuditLog
	tokens  *auth.Tokens
}

// newTestEnv builds a server around mocks with one connected cube and a
// "Living" room in the cache.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	hash, err := auth.HashPasswordWithParams(testPassword, auth.Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32, SaltLen: 16})
	if err != nil {
		t.Fatalf("HashPasswordWithParams: %v", err)
	}
	users, err := auth.NewUsers([]config.UserConfig{{Username: testUser, PasswordHash: hash}})
	if err != nil {
		t.Fatalf("NewUsers: %v", err)
	}
	tokens, err := auth.NewTokens(testSecret, 15*time.Minute)
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}

	engine := &mockEngine{session: cube.SessionInfo{State: cube.StateConnected, Serial: "NEQ0526955"}}
	cache := room.NewCache()
	cache.OnRoomChanged(livingSnapshot())
	history := &mockHistory{}
	auditor := &mockAuditor{}
	audits := &mockAuditLog{result: &audit.ListResult{Entries: []audit.Entry{}, Limit: 50}}

	srv, err := New(Deps{
		Config:         config.APIConfig{Host: "127.0.0.1", Port: 0},
		WS:             config.WebSocketConfig{Path: "/ws", MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Logger:         logging.Discard(),
		Engine:         engine,
		Rooms:          cache,
		History:        history,
		Auditor:        auditor,
		AuditLog:       audits,
		Users:          users,
		Tokens:         tokens,
		Version:        "test",
		CommandTimeout: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv.hub = NewHub(srv.wsCfg, srv.logger)
	go srv.hub.Run(ctx)

	return &testEnv{
		srv:     srv,
		handler: srv.buildRouter(),
		engine:  engine,
		cache:   cache,
		history: history,
		auditor: auditor,
		audits:  audits,
		tokens:  tokens,
	}
}

func livingSnapshot() cube.RoomSnapshot {
	now := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
	snap := cube.RoomSnapshot{
		ID:         1,
		Name:       "Living",
		SetTemp:    cube.TimedTemperature{Celsius: 21.5, UpdatedAt: now},
		ActualTemp: cube.TimedTemperature{Celsius: 20.1, UpdatedAt: now},
		Mode:       cube.ModeAuto,
		Valve:      cube.TimedValve{Percent: 30, UpdatedAt: now},
		Version:    1,
		Changes:    cube.ChangeSetTemp,
	}
	snap.Schedule[cube.Monday][0] = cube.SchedulePoint{Temperature: 21, EndMinute: 1440}
	return snap
}

// bearer returns a valid Authorization header value.
func (e *testEnv) bearer(t *testing.T) string {
	t.Helper()
	token, _, err := e.tokens.Issue(testUser)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return "Bearer " + token
}

// do runs a request through the router. An empty auth sends no header.
func (e *testEnv) do(t *testing.T, method, path, body, authz string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}
