package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/maxcube-core/internal/cube"
	"github.com/nerrad567/maxcube-core/internal/infrastructure/config"
	"github.com/nerrad567/maxcube-core/internal/infrastructure/logging"
	"github.com/nerrad567/maxcube-core/internal/room"
)

func TestNew_Validation(t *testing.T) {
	cache := room.NewCache()
	engine := &mockEngine{}
	tests := []struct {
		name string
		deps Deps
	}{
		{"missing logger", Deps{Engine: engine, Rooms: cache}},
		{"missing engine", Deps{Logger: logging.Discard(), Rooms: cache}},
		{"missing rooms", Deps{Logger: logging.Discard(), Engine: engine}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() error = nil, want error")
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	srv, err := New(Deps{Logger: logging.Discard(), Engine: &mockEngine{}, Rooms: room.NewCache()})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if srv.commandTimeout != defaultCommandTimeout {
		t.Errorf("commandTimeout = %v, want %v", srv.commandTimeout, defaultCommandTimeout)
	}
	if srv.tickets == nil {
		t.Error("tickets not created")
	}
	if srv.Hub() != nil {
		t.Error("Hub() before Start should be nil")
	}
	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close() before Start: %v", err)
	}
}

func TestHealth(t *testing.T) {
	t.Run("connected", func(t *testing.T) {
		env := newTestEnv(t)
		env.srv.checks = map[string]HealthChecker{"database": mockChecker{}}

		rec := env.do(t, http.MethodGet, "/api/v1/health", "", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
		}
		var resp healthResponse
		decodeBody(t, rec, &resp)
		if resp.Status != "ok" || resp.Cube != "connected" || resp.Serial != "NEQ0526955" {
			t.Errorf("resp = %+v", resp)
		}
		if resp.Components["database"] != "ok" {
			t.Errorf("components = %v", resp.Components)
		}
	})

	t.Run("cube disconnected", func(t *testing.T) {
		env := newTestEnv(t)
		env.engine.session.State = cube.StateDiscovering

		rec := env.do(t, http.MethodGet, "/api/v1/health", "", "")
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", rec.Code)
		}
		var resp healthResponse
		decodeBody(t, rec, &resp)
		if resp.Status != "degraded" || resp.Cube != "discovering" {
			t.Errorf("resp = %+v", resp)
		}
	})

	t.Run("component failing", func(t *testing.T) {
		env := newTestEnv(t)
		env.srv.checks = map[string]HealthChecker{"mqtt": mockChecker{err: errors.New("not connected")}}

		rec := env.do(t, http.MethodGet, "/api/v1/health", "", "")
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", rec.Code)
		}
		var resp healthResponse
		decodeBody(t, rec, &resp)
		if resp.Components["mqtt"] != "not connected" {
			t.Errorf("components = %v", resp.Components)
		}
	})
}

func TestLogin(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"valid credentials", fmt.Sprintf(`{"username":%q,"password":%q}`, testUser, testPassword), http.StatusOK},
		{"wrong password", fmt.Sprintf(`{"username":%q,"password":"nope"}`, testUser), http.StatusUnauthorized},
		{"unknown user", `{"username":"ghost","password":"whatever"}`, http.StatusUnauthorized},
		{"missing password", `{"username":"admin"}`, http.StatusBadRequest},
		{"invalid json", `{`, http.StatusBadRequest},
	}

	env := newTestEnv(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/auth/login", tt.body, "")
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.status, rec.Body.String())
			}
			if tt.status != http.StatusOK {
				return
			}
			var resp loginResponse
			decodeBody(t, rec, &resp)
			if resp.TokenType != "Bearer" || resp.AccessToken == "" {
				t.Errorf("resp = %+v", resp)
			}
			if resp.ExpiresIn <= 0 || resp.ExpiresIn > 15*60 {
				t.Errorf("ExpiresIn = %d", resp.ExpiresIn)
			}
			claims, err := env.tokens.Parse(resp.AccessToken)
			if err != nil {
				t.Fatalf("issued token does not parse: %v", err)
			}
			if claims.Subject != testUser {
				t.Errorf("subject = %q", claims.Subject)
			}
		})
	}
}

func TestProtectedRoutes_RequireBearer(t *testing.T) {
	env := newTestEnv(t)
	paths := []struct{ method, path string }{
		{http.MethodGet, "/api/v1/rooms"},
		{http.MethodGet, "/api/v1/rooms/Living"},
		{http.MethodGet, "/api/v1/cube"},
		{http.MethodGet, "/api/v1/metrics"},
		{http.MethodGet, "/api/v1/devices"},
		{http.MethodGet, "/api/v1/audit"},
		{http.MethodPost, "/api/v1/auth/ws-ticket"},
		{http.MethodPut, "/api/v1/rooms/Living/temperature"},
	}
	for _, p := range paths {
		for _, authz := range []string{"", "Bearer garbage", "Basic abc"} {
			rec := env.do(t, p.method, p.path, "", authz)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("%s %s with %q: status = %d, want 401", p.method, p.path, authz, rec.Code)
			}
		}
	}
	if calls := env.engine.Calls(); len(calls) != 0 {
		t.Errorf("engine called without auth: %v", calls)
	}
}

func TestListRooms(t *testing.T) {
	env := newTestEnv(t)
	bath := livingSnapshot()
	bath.ID, bath.Name = 2, "Bath"
	env.cache.OnRoomChanged(bath)

	rec := env.do(t, http.MethodGet, "/api/v1/rooms", "", env.bearer(t))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Rooms []struct {
			ID       int            `json:"id"`
			Name     string         `json:"name"`
			Mode     string         `json:"mode"`
			Schedule map[string]any `json:"schedule"`
		} `json:"rooms"`
		Count int `json:"count"`
	}
	decodeBody(t, rec, &resp)
	if resp.Count != 2 || len(resp.Rooms) != 2 {
		t.Fatalf("count = %d, rooms = %d", resp.Count, len(resp.Rooms))
	}
	if resp.Rooms[0].Name != "Bath" || resp.Rooms[1].Name != "Living" {
		t.Errorf("order = %s, %s", resp.Rooms[0].Name, resp.Rooms[1].Name)
	}
	if resp.Rooms[1].Mode != "AUTO" {
		t.Errorf("mode = %q", resp.Rooms[1].Mode)
	}
	if resp.Rooms[0].Schedule != nil {
		t.Error("list view should omit schedules")
	}
}

func TestGetRoom(t *testing.T) {
	env := newTestEnv(t)

	for _, name := range []string{"Living", "living", "LIVING"} {
		rec := env.do(t, http.MethodGet, "/api/v1/rooms/"+name, "", env.bearer(t))
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s status = %d", name, rec.Code)
		}
		var resp struct {
			Name     string                          `json:"name"`
			SetTemp  cube.TimedTemperature           `json:"set_temp"`
			Schedule map[string][]cube.SchedulePoint `json:"schedule"`
		}
		decodeBody(t, rec, &resp)
		if resp.Name != "Living" || resp.SetTemp.Celsius != 21.5 {
			t.Errorf("GET %s = %+v", name, resp)
		}
		monday := resp.Schedule["monday"]
		if len(monday) != 1 || monday[0].EndMinute != 1440 || monday[0].Temperature != 21 {
			t.Errorf("monday = %+v", monday)
		}
		if len(resp.Schedule) != cube.DaysPerWeek {
			t.Errorf("schedule days = %d", len(resp.Schedule))
		}
	}

	rec := env.do(t, http.MethodGet, "/api/v1/rooms/Attic", "", env.bearer(t))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown room status = %d, want 404", rec.Code)
	}
}

func TestGetCube(t *testing.T) {
	env := newTestEnv(t)
	env.engine.stats = cube.Stats{FramesReceived: 12, CommandsSent: 3}

	rec := env.do(t, http.MethodGet, "/api/v1/cube", "", env.bearer(t))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), `"info"`) {
		t.Error("info present before the cube reported it")
	}

	env.cache.OnDeviceInfo(cube.DeviceInfo{Serial: "NEQ0526955", RFAddress: 0x0a1b2c, Firmware: 0x0113})
	rec = env.do(t, http.MethodGet, "/api/v1/cube", "", env.bearer(t))
	var resp cubeResponse
	decodeBody(t, rec, &resp)
	if resp.Rooms != 1 || resp.Stats.FramesReceived != 12 || resp.Session.Serial != "NEQ0526955" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Info == nil || resp.Info.RFAddress != 0x0a1b2c {
		t.Errorf("info = %+v", resp.Info)
	}
}

func TestSetTemperature(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   string
		err    error
		status int
		call   string
	}{
		{"accepted", "/api/v1/rooms/Living/temperature", `{"temperature":21.5}`, nil, http.StatusAccepted, "temp Living 21.5"},
		{"case folded name", "/api/v1/rooms/living/temperature", `{"temperature":19}`, nil, http.StatusAccepted, "temp Living 19"},
		{"missing field", "/api/v1/rooms/Living/temperature", `{}`, nil, http.StatusBadRequest, ""},
		{"not a number", "/api/v1/rooms/Living/temperature", `{"temperature":"warm"}`, nil, http.StatusBadRequest, ""},
		{"unknown room", "/api/v1/rooms/Attic/temperature", `{"temperature":20}`, nil, http.StatusNotFound, ""},
		{"out of range", "/api/v1/rooms/Living/temperature", `{"temperature":40}`, cube.ErrTemperatureOutOfRange, http.StatusBadRequest, "temp Living 40"},
		{"no target device", "/api/v1/rooms/Living/temperature", `{"temperature":20}`, cube.ErrNoTargetDevice, http.StatusBadRequest, "temp Living 20"},
		{"cube offline", "/api/v1/rooms/Living/temperature", `{"temperature":20}`, cube.ErrNotConnected, http.StatusServiceUnavailable, "temp Living 20"},
		{"engine failure", "/api/v1/rooms/Living/temperature", `{"temperature":20}`, errors.New("boom"), http.StatusInternalServerError, "temp Living 20"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.engine.err = tt.err

			rec := env.do(t, http.MethodPut, tt.path, tt.body, env.bearer(t))
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.status, rec.Body.String())
			}

			calls := env.engine.Calls()
			switch {
			case tt.call == "" && len(calls) != 0:
				t.Errorf("engine calls = %v, want none", calls)
			case tt.call != "" && (len(calls) != 1 || calls[0] != tt.call):
				t.Errorf("engine calls = %v, want [%s]", calls, tt.call)
			}

			if tt.status == http.StatusAccepted {
				var resp map[string]string
				decodeBody(t, rec, &resp)
				if resp["status"] != "accepted" || resp["room"] != "Living" || resp["command"] != "temperature" {
					t.Errorf("resp = %v", resp)
				}
			}
		})
	}
}

func TestSetTemperature_Timeout(t *testing.T) {
	env := newTestEnv(t)
	env.srv.commandTimeout = 20 * time.Millisecond
	env.engine.block = true

	rec := env.do(t, http.MethodPut, "/api/v1/rooms/Living/temperature", `{"temperature":20}`, env.bearer(t))
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", rec.Code)
	}
	var resp Error
	decodeBody(t, rec, &resp)
	if resp.Code != ErrCodeTimeout {
		t.Errorf("code = %q", resp.Code)
	}
}

func TestSetMode(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		call   string
	}{
		{"manual", `{"mode":"manual"}`, http.StatusAccepted, "mode Living MANUAL"},
		{"upper case", `{"mode":"BOOST"}`, http.StatusAccepted, "mode Living BOOST"},
		{"unknown mode", `{"mode":"party"}`, http.StatusBadRequest, ""},
		{"invalid json", `mode=auto`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.do(t, http.MethodPut, "/api/v1/rooms/Living/mode", tt.body, env.bearer(t))
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.status, rec.Body.String())
			}
			calls := env.engine.Calls()
			if tt.call == "" {
				if len(calls) != 0 {
					t.Errorf("engine calls = %v", calls)
				}
				return
			}
			if len(calls) != 1 || calls[0] != tt.call {
				t.Errorf("engine calls = %v, want [%s]", calls, tt.call)
			}
		})
	}
}

func TestSetSchedule(t *testing.T) {
	points := `{"points":[{"endtime":360,"temp":17},{"endtime":1440,"temp":21}]}`
	tests := []struct {
		name   string
		path   string
		body   string
		status int
		call   string
	}{
		{"monday", "/api/v1/rooms/Living/schedule/monday", points, http.StatusAccepted,
			`schedule Living monday [{"temp":17,"endtime":360},{"temp":21,"endtime":1440}]`},
		{"mixed case day", "/api/v1/rooms/Living/schedule/Saturday", points, http.StatusAccepted,
			`schedule Living saturday [{"temp":17,"endtime":360},{"temp":21,"endtime":1440}]`},
		{"bad day", "/api/v1/rooms/Living/schedule/funday", points, http.StatusBadRequest, ""},
		{"no points", "/api/v1/rooms/Living/schedule/monday", `{"points":[]}`, http.StatusBadRequest, ""},
		{"unknown room", "/api/v1/rooms/Attic/schedule/monday", points, http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.do(t, http.MethodPut, tt.path, tt.body, env.bearer(t))
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.status, rec.Body.String())
			}
			calls := env.engine.Calls()
			if tt.call == "" {
				if len(calls) != 0 {
					t.Errorf("engine calls = %v", calls)
				}
				return
			}
			if len(calls) != 1 || calls[0] != tt.call {
				t.Errorf("engine calls = %v, want [%s]", calls, tt.call)
			}
		})
	}
}

func TestRoomHistory(t *testing.T) {
	act := 20.5
	env := newTestEnv(t)
	env.history.entries = []room.HistoryEntry{
		{ID: "a", Room: "Living", SetTemp: 21.5, ActualTemp: &act, Mode: "AUTO", Version: 2},
		{ID: "b", Room: "Living", SetTemp: 21.5, Mode: "AUTO", Version: 1},
	}

	rec := env.do(t, http.MethodGet, "/api/v1/rooms/living/history", "", env.bearer(t))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Room    string              `json:"room"`
		Entries []room.HistoryEntry `json:"entries"`
		Count   int                 `json:"count"`
	}
	decodeBody(t, rec, &resp)
	if resp.Room != "Living" || resp.Count != 2 || resp.Entries[0].ActualTemp == nil {
		t.Errorf("resp = %+v", resp)
	}
	if env.history.room != "Living" || env.history.limit != defaultHistoryLimit {
		t.Errorf("GetHistory(%q, %d)", env.history.room, env.history.limit)
	}

	tests := []struct {
		query     string
		status    int
		wantLimit int
	}{
		{"?limit=10", http.StatusOK, 10},
		{"?limit=5000", http.StatusOK, maxHistoryLimit},
		{"?limit=0", http.StatusBadRequest, 0},
		{"?limit=ten", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			env.history.limit = 0
			rec := env.do(t, http.MethodGet, "/api/v1/rooms/Living/history"+tt.query, "", env.bearer(t))
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if env.history.limit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", env.history.limit, tt.wantLimit)
			}
		})
	}
}

func TestRoomHistory_Errors(t *testing.T) {
	t.Run("repository failure", func(t *testing.T) {
		env := newTestEnv(t)
		env.history.err = errors.New("disk I/O error")
		rec := env.do(t, http.MethodGet, "/api/v1/rooms/Living/history", "", env.bearer(t))
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", rec.Code)
		}
	})

	t.Run("history disabled", func(t *testing.T) {
		env := newTestEnv(t)
		env.srv.history = nil
		rec := env.do(t, http.MethodGet, "/api/v1/rooms/Living/history", "", env.bearer(t))
		if rec.Code != http.StatusNotImplemented {
			t.Errorf("status = %d, want 501", rec.Code)
		}
	})
}

func TestWriteCommandError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{cube.ErrUnknownRoom, http.StatusNotFound, ErrCodeNotFound},
		{fmt.Errorf("lookup: %w", room.ErrRoomNotFound), http.StatusNotFound, ErrCodeNotFound},
		{cube.ErrTemperatureOutOfRange, http.StatusBadRequest, ErrCodeValidation},
		{cube.ErrInvalidMode, http.StatusBadRequest, ErrCodeValidation},
		{cube.ErrInvalidSchedule, http.StatusBadRequest, ErrCodeValidation},
		{cube.ErrNoTargetDevice, http.StatusBadRequest, ErrCodeValidation},
		{cube.ErrNotConnected, http.StatusServiceUnavailable, ErrCodeUnavailable},
		{cube.ErrEngineStopped, http.StatusServiceUnavailable, ErrCodeUnavailable},
		{fmt.Errorf("send: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, ErrCodeTimeout},
		{errors.New("unexpected"), http.StatusInternalServerError, ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeCommandError(rec, tt.err)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			var resp Error
			decodeBody(t, rec, &resp)
			if resp.Code != tt.code || resp.Status != tt.status {
				t.Errorf("resp = %+v", resp)
			}
		})
	}
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t)
	env.engine.stats = cube.Stats{FramesReceived: 7}

	rec := env.do(t, http.MethodGet, "/api/v1/metrics", "", env.bearer(t))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp SystemMetrics
	decodeBody(t, rec, &resp)
	if resp.Cube.State != "connected" || resp.Cube.Rooms != 1 || resp.Cube.Stats.FramesReceived != 7 {
		t.Errorf("cube metrics = %+v", resp.Cube)
	}
	if resp.Runtime.Goroutines <= 0 {
		t.Errorf("goroutines = %d", resp.Runtime.Goroutines)
	}
	if resp.Database != nil {
		t.Error("database metrics present without a DB")
	}
}

func TestMiddleware_RequestID(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/health", "", "")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID not generated")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "trace-123")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "trace-123" {
		t.Errorf("X-Request-ID = %q, want trace-123", got)
	}
}

func TestMiddleware_CORS(t *testing.T) {
	env := newTestEnv(t)
	env.srv.cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://panel.local"}}
	env.handler = env.srv.buildRouter()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/rooms", nil)
	req.Header.Set("Origin", "http://panel.local")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://panel.local" {
		t.Errorf("Allow-Origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin for disallowed origin = %q", got)
	}
}

func TestMiddleware_Recovery(t *testing.T) {
	env := newTestEnv(t)
	h := env.srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("handler bug")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestMiddleware_BodyLimit(t *testing.T) {
	env := newTestEnv(t)
	body := `{"temperature":` + strings.Repeat(" ", maxRequestBodySize) + `20}`

	rec := env.do(t, http.MethodPut, "/api/v1/rooms/Living/temperature", body, env.bearer(t))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if calls := env.engine.Calls(); len(calls) != 0 {
		t.Errorf("engine calls = %v", calls)
	}
}
