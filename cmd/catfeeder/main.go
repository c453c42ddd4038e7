// Cat Feeder - Feeding Sequence Engine
//
// This is the main entry point for the catfeeder daemon. It drives one or
// more dispensers on a daily schedule and on demand from the push button,
// the serial status panel, MQTT, the HTTP API, and signals:
//   - SIGHUP reloads the configuration
//   - SIGUSR1 feeds one portion
//   - SIGINT/SIGTERM shut down
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/catfeeder/migrations"

	"github.com/nerrad567/catfeeder/internal/api"
	"github.com/nerrad567/catfeeder/internal/display"
	"github.com/nerrad567/catfeeder/internal/feeder"
	"github.com/nerrad567/catfeeder/internal/feeding"
	"github.com/nerrad567/catfeeder/internal/hardware"
	"github.com/nerrad567/catfeeder/internal/infrastructure/config"
	"github.com/nerrad567/catfeeder/internal/infrastructure/database"
	"github.com/nerrad567/catfeeder/internal/infrastructure/influxdb"
	"github.com/nerrad567/catfeeder/internal/infrastructure/logging"
	"github.com/nerrad567/catfeeder/internal/infrastructure/mqtt"
	"github.com/nerrad567/catfeeder/internal/metrics"
	"github.com/nerrad567/catfeeder/internal/remote"
	"github.com/nerrad567/catfeeder/internal/state"
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

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting catfeeder",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // best-effort on exit
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"device_id", cfg.Device.ID,
	)

	// Open database
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	checks := map[string]api.HealthCheck{"database": db.HealthCheck}
	m := metrics.New()

	// Connect to InfluxDB (optional)
	var telemetry feeder.Telemetry
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(ctx, cfg.InfluxDB)
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
		telemetry = influxClient
		checks["influxdb"] = influxClient.HealthCheck
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Feeder service
	svc, err := feeder.New(feeder.Deps{
		Config:    cfg,
		Loader:    func() (*config.Config, error) { return config.Load(configPath) },
		Hardware:  hardware.New(cfg.Hardware, hardware.WithLogger(log)),
		Store:     state.NewSQLiteRepository(db.DB),
		Metrics:   m,
		Telemetry: telemetry,
		Logger:    log,
	})
	if err != nil {
		return fmt.Errorf("creating feeder: %w", err)
	}

	// Status panel (optional)
	if cfg.Display.Enabled {
		stopPanel, panelErr := startPanel(ctx, cfg, svc, log)
		if panelErr != nil {
			return panelErr
		}
		defer stopPanel()
	} else {
		log.Info("status panel disabled")
	}

	if startErr := svc.Start(ctx); startErr != nil {
		return fmt.Errorf("starting feeder: %w", startErr)
	}
	defer func() {
		log.Info("stopping feeder")
		if closeErr := svc.Close(); closeErr != nil {
			log.Error("error stopping feeder", "error", closeErr)
		}
	}()
	log.Info("feeder started", "machines", len(svc.Machines()), "driver", cfg.Hardware.Driver)

	// MQTT remote control (optional)
	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := startRemote(ctx, cfg, svc, log)
		if mqttErr != nil {
			return mqttErr
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		checks["mqtt"] = mqttClient.HealthCheck
	} else {
		log.Info("MQTT disabled")
	}

	// HTTP API (optional)
	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:  cfg.API,
			Logger:  log,
			Feeder:  svc,
			Metrics: m.Handler(),
			Checks:  checks,
			Version: version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		svc.Watch(server)
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	handleSignals(ctx, svc, log)

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses CATFEEDER_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("CATFEEDER_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// startPanel opens the serial panel, attaches it to the service and starts
// reading from it. The returned function closes the panel.
func startPanel(ctx context.Context, cfg *config.Config, svc *feeder.Service, log *logging.Logger) (func(), error) {
	loc := cfg.Location()
	panel, err := display.Open(cfg.Display, svc,
		display.WithLogger(log),
		display.WithNow(func() time.Time { return time.Now().In(loc) }),
	)
	if err != nil {
		return nil, fmt.Errorf("opening status panel: %w", err)
	}
	svc.SetPanel(panel)
	if err := panel.Install(); err != nil {
		log.Warn("status panel not initialised", "error", err)
	}

	go func() {
		if err := panel.Listen(ctx); err != nil {
			log.Error("status panel stopped", "error", err)
		}
	}()
	log.Info("status panel connected", "port", cfg.Display.Port, "baud", cfg.Display.Baud)

	return func() {
		log.Info("closing status panel")
		if err := panel.Close(); err != nil {
			log.Error("error closing status panel", "error", err)
		}
	}, nil
}

// startRemote connects to the broker and binds the feeder's topics.
func startRemote(ctx context.Context, cfg *config.Config, svc *feeder.Service, log *logging.Logger) (*mqtt.Client, error) {
	client, err := mqtt.Connect(ctx, cfg.MQTT, cfg.Device.ID)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log)
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	bridge := remote.New(client, svc, log)
	if err := bridge.Start(); err != nil {
		client.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("subscribing feeder topics: %w", err)
	}
	svc.SetPublisher(bridge)
	if err := bridge.PublishStatus(); err != nil {
		log.Warn("initial status not published", "error", err)
	}

	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	return client, nil
}

// handleSignals serves SIGHUP and SIGUSR1 until ctx is done.
func handleSignals(ctx context.Context, svc *feeder.Service, log *logging.Logger) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGUSR1)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			switch sig {
			case syscall.SIGHUP:
				log.Info("reloading configuration")
				if err := svc.Reload(); err != nil {
					log.Error("reload failed", "error", err)
				}
			case syscall.SIGUSR1:
				if _, err := svc.Feed(feeding.TriggerSignal, 1); err != nil {
					log.Warn("cannot feed now", "trigger", string(feeding.TriggerSignal), "error", err)
				}
			}
		}
	}
}
