// Maxcube is a gateway for eQ-3 MAX! Cube heating systems.
//
// It discovers a cube on the local network, keeps a session to it and
// exposes every room over MQTT, an HTTP/WebSocket API and an optional line
// console. Room history is kept in SQLite and room climate can be sent to
// InfluxDB.
//
// Usage:
//
//	maxcube [--config path] [--serial NEQ0526955] [--console]
//	maxcube hash-password
//	maxcube version
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nerrad567/maxcube-core/internal/api"
	"github.com/nerrad567/maxcube-core/internal/audit"
	"github.com/nerrad567/maxcube-core/internal/auth"
	"github.com/nerrad567/maxcube-core/internal/bridges/maxcube"
	"github.com/nerrad567/maxcube-core/internal/console"
	"github.com/nerrad567/maxcube-core/internal/cube"
	"github.com/nerrad567/maxcube-core/internal/infrastructure/config"
	"github.com/nerrad567/maxcube-core/internal/infrastructure/database"
	"github.com/nerrad567/maxcube-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/maxcube-core/internal/infrastructure/logging"
	"github.com/nerrad567/maxcube-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/maxcube-core/internal/room"
	"github.com/nerrad567/maxcube-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// engineStopTimeout bounds the wait for the engine to say goodbye to the cube.
const engineStopTimeout = 5 * time.Second

// runOptions carries the root command flags.
type runOptions struct {
	configPath string
	serial     string
	console    bool
}

var rootOpts runOptions

var rootCmd = &cobra.Command{
	Use:   "maxcube",
	Short: "eQ-3 MAX! Cube gateway",
	Long: `Maxcube discovers an eQ-3 MAX! Cube on the local network and bridges its
rooms to MQTT, an HTTP/WebSocket API and an optional interactive console.

The configuration file defaults to configs/config.yaml and can be set with
--config or the MAXCUBE_CONFIG environment variable.`,
	Example: `  # Run with the default configuration file
  maxcube

  # Only talk to one cube and open the console
  maxcube --serial NEQ0526955 --console`,
	Version:      version,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		// Cancel on interrupt signals (Ctrl+C, SIGTERM) for a graceful shutdown
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return run(ctx, rootOpts)
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.Flags().StringVar(&rootOpts.configPath, "config", "", "Path to the YAML configuration file")
	rootCmd.Flags().StringVar(&rootOpts.serial, "serial", "", "Only connect to the cube with this serial (overrides cube.serial)")
	rootCmd.Flags().BoolVar(&rootOpts.console, "console", false, "Read commands from stdin")

	rootCmd.AddCommand(hashPasswordCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until ctx is cancelled, the console
// quits or the engine fails.
func run(ctx context.Context, opts runOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting maxcube gateway",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, configPath, err := loadConfig(opts)
	if err != nil {
		return err
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)

	// Open database
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	checks := map[string]api.HealthChecker{"database": db}

	// Connect to InfluxDB (optional)
	var climate room.ClimateWriter
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		climate = climateWriter{client: influxClient}
		checks["influxdb"] = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	history := room.NewSQLiteHistoryRepository(db.DB)
	recorder := room.NewRecorder(history, climate, room.RecorderConfig{
		Retention: cfg.GetHistoryRetention(),
	}, log.With("component", "recorder"))
	recorder.Start(ctx)
	defer recorder.Stop()

	auditRepo := audit.NewSQLiteRepository(db.DB)
	auditor := audit.NewRecorder(auditRepo, log.With("component", "audit"))

	cache := room.NewCache()
	hub := api.NewHub(cfg.WebSocket, log.With("component", "websocket"))
	go hub.Run(ctx)

	// The bridge is appended below, before the engine runs.
	handlers := cube.Handlers{cache, recorder, hub}
	engine, err := cube.New(cube.Options{
		Serial:               cfg.Cube.Serial,
		SessionPort:          cfg.Cube.SessionPort,
		RefreshInterval:      cfg.Cube.RefreshInterval,
		ShortRefreshInterval: cfg.Cube.ShortRefreshInterval,
		RetryInterval:        cfg.Cube.RetryInterval,
		RequestTimeServer:    cfg.Cube.RequestTimeServer,
		Discoverer:           cube.NewUDPDiscoverer(cfg.Cube.MulticastGroup, cfg.Cube.DiscoveryPort),
		Dialer:               &net.Dialer{Timeout: cfg.Cube.RetryInterval},
		Handler:              &handlers,
		Logger:               log.With("component", "cube"),
	})
	if err != nil {
		return fmt.Errorf("creating cube engine: %w", err)
	}

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	checks["mqtt"] = mqttClient
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	bridge, err := maxcube.NewBridge(maxcube.BridgeOptions{
		MQTTClient: mqttClient,
		Commander:  engine,
		Status:     engine,
		Topics:     mqttClient.Topics(),
		QoS:        byte(cfg.MQTT.QoS), //nolint:gosec // G115: validated 0..2
		Serial:     cfg.Cube.Serial,
		Auditor:    auditor,
		Version:    version,
		Logger:     log.With("component", "bridge"),
	})
	if err != nil {
		return fmt.Errorf("creating MQTT bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting MQTT bridge: %w", err)
	}
	defer func() {
		log.Info("stopping MQTT bridge")
		bridge.Stop()
	}()
	handlers = append(handlers, bridge)

	// Retained room values may have been lost with the broker session.
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected, republishing rooms")
		bridge.Republish()
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	engineDone := make(chan error, 1)
	go func() {
		engineDone <- engine.Run(ctx)
	}()

	if cfg.API.Enabled {
		apiServer, apiErr := startAPI(ctx, cfg, log, api.Deps{
			Engine:   engine,
			Rooms:    cache,
			History:  history,
			Auditor:  auditor,
			AuditLog: auditRepo,
			Hub:      hub,
			DB:       db,
			Checks:   checks,
		})
		if apiErr != nil {
			return apiErr
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	if opts.console {
		con, conErr := console.New(console.Options{
			In:             os.Stdin,
			Out:            os.Stdout,
			Commander:      engine,
			Rooms:          cache,
			Prompt:         term.IsTerminal(int(os.Stdin.Fd())), //nolint:gosec // G115: fd fits in int
			CommandTimeout: cfg.Cube.CommandTimeout,
			Auditor:        auditor,
			Logger:         log,
		})
		if conErr != nil {
			return fmt.Errorf("creating console: %w", conErr)
		}
		go func() {
			if err := con.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("console stopped", "error", err)
			}
			// quit on the console stops the gateway
			cancel()
		}()
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	select {
	case <-ctx.Done():
		log.Info("shutdown requested, cleaning up")
	case err := <-engineDone:
		if err != nil {
			return fmt.Errorf("cube engine: %w", err)
		}
		return nil
	}

	cancel()
	select {
	case err := <-engineDone:
		if err != nil {
			log.Error("cube engine stopped with error", "error", err)
		}
	case <-time.After(engineStopTimeout):
		log.Warn("cube engine did not stop in time")
	}

	log.Info("maxcube gateway stopped")
	return nil
}

// loadConfig resolves the config path from the flag, MAXCUBE_CONFIG or the
// default, then applies --serial. A missing default file falls back to the
// built-in configuration.
func loadConfig(opts runOptions) (*config.Config, string, error) {
	path := opts.configPath
	explicit := path != ""
	if !explicit {
		if env := os.Getenv("MAXCUBE_CONFIG"); env != "" {
			path, explicit = env, true
		} else {
			path = defaultConfigPath
		}
	}

	var cfg *config.Config
	if _, statErr := os.Stat(path); statErr != nil && !explicit && errors.Is(statErr, os.ErrNotExist) {
		cfg, path = config.Default(), "(built-in defaults)"
	} else {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, "", fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}

	if opts.serial != "" {
		cfg.Cube.Serial = opts.serial
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

// startAPI completes deps with the configuration and auth services, then
// starts the HTTP server.
func startAPI(ctx context.Context, cfg *config.Config, log *logging.Logger, deps api.Deps) (*api.Server, error) {
	users, err := auth.NewUsers(cfg.Security.Users)
	if err != nil {
		return nil, fmt.Errorf("loading API users: %w", err)
	}
	if users.Len() == 0 {
		log.Warn("no API users configured, login is disabled (see maxcube hash-password)")
	}
	tokens, err := auth.NewTokens(cfg.Security.JWT.Secret, time.Duration(cfg.Security.JWT.AccessTokenTTL)*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("creating token issuer: %w", err)
	}

	deps.Config = cfg.API
	deps.WS = cfg.WebSocket
	deps.Logger = log.With("component", "api")
	deps.Users = users
	deps.Tokens = tokens
	deps.Version = version
	deps.CommandTimeout = cfg.Cube.CommandTimeout

	srv, err := api.New(deps)
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting API server: %w", err)
	}
	return srv, nil
}

// climateWriter adapts the InfluxDB client to room.ClimateWriter.
type climateWriter struct {
	client *influxdb.Client
}

// WriteRoomClimate implements room.ClimateWriter.
func (w climateWriter) WriteRoomClimate(cubeSerial string, snap cube.RoomSnapshot) {
	w.client.WriteRoomClimate(roomClimate(cubeSerial, snap, time.Now()))
}

// WriteCubeLink implements room.ClimateWriter.
func (w climateWriter) WriteCubeLink(status cube.LinkStatus) {
	w.client.WriteCubeLink(cubeLink(status))
}

func cubeLink(status cube.LinkStatus) influxdb.CubeLink {
	return influxdb.CubeLink{
		Cube:      status.Serial,
		DutyCycle: int(status.DutyCycle),
		FreeSlots: int(status.FreeSlots),
		Failed:    status.Failed,
		Time:      status.Time,
	}
}

// roomClimate maps a snapshot to a telemetry sample. A room without a
// thermostat reading keeps ActualTemp at zero, which the writer omits.
func roomClimate(cubeSerial string, snap cube.RoomSnapshot, at time.Time) influxdb.RoomClimate {
	sample := influxdb.RoomClimate{
		Cube:     cubeSerial,
		Room:     snap.Name,
		SetTemp:  snap.SetTemp.Celsius,
		ValvePos: snap.Valve.Percent,
		Mode:     snap.Mode.String(),
		Time:     at,
	}
	if !snap.ActualTemp.UpdatedAt.IsZero() {
		sample.ActualTemp = snap.ActualTemp.Celsius
	}
	return sample
}
