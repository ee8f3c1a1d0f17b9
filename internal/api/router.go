package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/maxcube-core/internal/cube"
)

// healthCheckTimeout bounds each component check of GET /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/auth/login", s.handleLogin)

		// WebSocket authenticates with a ticket, checked in the handler.
		r.Get(s.wsPath(), s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)
			r.Get("/cube", s.handleGetCube)
			r.Get("/metrics", s.handleMetrics)
			r.Get("/devices", s.handleListDevices)
			r.Get("/audit", s.handleListAudit)

			r.Route("/rooms", func(r chi.Router) {
				r.Get("/", s.handleListRooms)

				r.Route("/{name}", func(r chi.Router) {
					r.Get("/", s.handleGetRoom)
					r.Get("/history", s.handleRoomHistory)
					r.Put("/temperature", s.handleSetTemperature)
					r.Put("/mode", s.handleSetMode)
					r.Put("/schedule/{day}", s.handleSetSchedule)
				})
			})
		})
	})

	return r
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// healthResponse is the body of GET /health.
type healthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	Cube       string            `json:"cube"`
	Serial     string            `json:"serial,omitempty"`
	Components map[string]string `json:"components"`
}

// handleHealth reports the engine state and each registered component.
// Any failure answers 503 so load balancers and supervisors can act on it.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	session := s.engine.Session()
	resp := healthResponse{
		Status:     "ok",
		Version:    s.version,
		Cube:       session.State.String(),
		Serial:     session.Serial,
		Components: make(map[string]string, len(s.checks)),
	}
	if session.State != cube.StateConnected {
		resp.Status = "degraded"
	}

	for name, check := range s.checks {
		if check == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := check.HealthCheck(ctx)
		cancel()
		if err != nil {
			resp.Components[name] = err.Error()
			resp.Status = "degraded"
			continue
		}
		resp.Components[name] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// cubeResponse is the body of GET /cube.
type cubeResponse struct {
	Session cube.SessionInfo `json:"session"`
	Stats   cube.Stats       `json:"stats"`
	Rooms   int              `json:"rooms"`

	// Info is the identity last reported by the engine, kept across
	// reconnects.
	Info *cube.DeviceInfo `json:"info,omitempty"`
}

func (s *Server) handleGetCube(w http.ResponseWriter, _ *http.Request) {
	resp := cubeResponse{
		Session: s.engine.Session(),
		Stats:   s.engine.Stats(),
		Rooms:   len(s.rooms.Rooms()),
	}
	if info, ok := s.rooms.Info(); ok {
		resp.Info = &info
	}
	writeJSON(w, http.StatusOK, resp)
}
