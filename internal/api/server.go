package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/maxcube-core/internal/audit"
	"github.com/nerrad567/maxcube-core/internal/auth"
	"github.com/nerrad567/maxcube-core/internal/cube"
	"github.com/nerrad567/maxcube-core/internal/infrastructure/config"
	"github.com/nerrad567/maxcube-core/internal/infrastructure/logging"
	"github.com/nerrad567/maxcube-core/internal/room"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// defaultCommandTimeout applies when Deps.CommandTimeout is zero.
const defaultCommandTimeout = 5 * time.Second

// Engine is the command and status surface of the cube engine.
// *cube.Engine satisfies it.
type Engine interface {
	ChangeTemp(ctx context.Context, room string, celsius float64) error
	ChangeMode(ctx context.Context, room string, mode cube.Mode) error
	ChangeSchedule(ctx context.Context, room string, day cube.Weekday, points []cube.SchedulePoint) error
	Devices(ctx context.Context) ([]cube.DeviceConfig, error)
	Session() cube.SessionInfo
	Stats() cube.Stats
}

// RoomReader answers room queries. *room.Cache satisfies it.
type RoomReader interface {
	Rooms() []cube.RoomSnapshot
	Room(name string) (cube.RoomSnapshot, error)
	Info() (cube.DeviceInfo, bool)
}

// HistoryReader lists recorded room snapshots.
// *room.SQLiteHistoryRepository satisfies it.
type HistoryReader interface {
	GetHistory(ctx context.Context, room string, limit int) ([]room.HistoryEntry, error)
}

// CommandAuditor records the outcome of room commands.
// *audit.Recorder satisfies it.
type CommandAuditor interface {
	Record(source, user, room, command, value string, err error)
}

// AuditReader lists audited commands. *audit.SQLiteRepository satisfies it.
type AuditReader interface {
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// HealthChecker is a component reported by GET /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// DBStatser exposes connection pool statistics. *database.DB satisfies it.
type DBStatser interface {
	Stats() sql.DBStats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Engine   Engine
	Rooms    RoomReader
	History  HistoryReader  // optional
	Auditor  CommandAuditor // optional
	AuditLog AuditReader    // optional
	Users    *auth.Users
	Tokens   *auth.Tokens
	Tickets  *auth.Tickets // optional; created when nil
	Hub      *Hub          // optional; created and run by Start when nil
	DB       DBStatser     // optional, for metrics
	Checks   map[string]HealthChecker
	Version  string

	// CommandTimeout bounds each engine command.
	CommandTimeout time.Duration
}

// Server is the HTTP API server of the gateway.
type Server struct {
	cfg            config.APIConfig
	wsCfg          config.WebSocketConfig
	logger         *logging.Logger
	engine         Engine
	rooms          RoomReader
	history        HistoryReader
	auditor        CommandAuditor
	auditLog       AuditReader
	users          *auth.Users
	tokens         *auth.Tokens
	tickets        *auth.Tickets
	db             DBStatser
	checks         map[string]HealthChecker
	version        string
	commandTimeout time.Duration
	startTime      time.Time

	server      *http.Server
	hub         *Hub
	externalHub bool
	cancel      context.CancelFunc
}

// New creates an API server. The server is not started until Start is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if deps.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if deps.Rooms == nil {
		return nil, errors.New("room reader is required")
	}

	s := &Server{
		cfg:            deps.Config,
		wsCfg:          deps.WS,
		logger:         deps.Logger,
		engine:         deps.Engine,
		rooms:          deps.Rooms,
		history:        deps.History,
		auditor:        deps.Auditor,
		auditLog:       deps.AuditLog,
		users:          deps.Users,
		tokens:         deps.Tokens,
		tickets:        deps.Tickets,
		db:             deps.DB,
		checks:         deps.Checks,
		version:        deps.Version,
		commandTimeout: deps.CommandTimeout,
		startTime:      time.Now(),
	}
	if s.tickets == nil {
		s.tickets = auth.NewTickets(0)
	}
	if s.commandTimeout <= 0 {
		s.commandTimeout = defaultCommandTimeout
	}
	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	}

	return s, nil
}

// Hub returns the server's WebSocket hub, nil before Start unless injected.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start builds the router and starts listening in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
		go s.hub.Run(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS", "address", s.server.Addr, "cert", s.cfg.TLS.CertFile)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server, waiting up to ten seconds
// for in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}
	if s.server == nil {
		return errors.New("api server not started")
	}
	return nil
}
