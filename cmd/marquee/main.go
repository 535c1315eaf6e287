// Marquee Core - Display Fleet Control Plane
//
// This is the main entry point for the Marquee Core application.
// Marquee manages fleets of remote display devices:
//   - Secure pairing and credential rotation
//   - Live command delivery with correlated acknowledgments
//   - Offline command queueing and heartbeat polling
//   - Layered settings across groups and devices
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/marqueehq/marquee-core/migrations"

	"github.com/marqueehq/marquee-core/internal/api"
	"github.com/marqueehq/marquee-core/internal/audit"
	"github.com/marqueehq/marquee-core/internal/device"
	"github.com/marqueehq/marquee-core/internal/fleet"
	"github.com/marqueehq/marquee-core/internal/infrastructure/config"
	"github.com/marqueehq/marquee-core/internal/infrastructure/database"
	"github.com/marqueehq/marquee-core/internal/infrastructure/influxdb"
	"github.com/marqueehq/marquee-core/internal/infrastructure/logging"
	"github.com/marqueehq/marquee-core/internal/infrastructure/mqtt"
	"github.com/marqueehq/marquee-core/internal/protocol"
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

// pairingPurgeInterval is how often expired pairing codes are swept.
const pairingPurgeInterval = time.Minute

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error { //nolint:gocognit // Linear startup wiring; splitting it obscures the defer ordering
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Marquee Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
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
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Device store with warm cache
	deviceRepo := device.NewSQLiteRepository(db.DB)
	devices, err := device.NewStore(deviceRepo)
	if err != nil {
		return fmt.Errorf("creating device store: %w", err)
	}
	devices.SetLogger(log)
	if refreshErr := devices.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device store: %w", refreshErr)
	}
	log.Info("device store initialised", "devices", devices.Count())

	// Pairing service
	pairingRepo := device.NewSQLitePairingRepository(db.DB)
	pairing := device.NewPairingService(pairingRepo, devices, cfg.Pairing.CodeLength, cfg.PairingDefaultTTL())
	pairing.SetLogger(log)

	// Groups and layered settings
	groupRepo := device.NewSQLiteGroupRepository(db.DB)
	defaults := device.Settings(cfg.Settings)
	resolver := device.NewSettingsResolver(devices, groupRepo, defaults)

	// Offline command queue
	queue := fleet.NewQueue(cfg.Queue.MaxPerDevice, fleet.OverflowPolicy(cfg.Queue.OverflowPolicy))
	queue.SetLogger(log)

	// Live connection registry with bounded ack waits
	registry := fleet.NewRegistry(fleet.AckWaitConfig{
		Min:     cfg.AckMinTimeout(),
		Max:     cfg.AckMaxTimeout(),
		Default: cfg.AckDefaultTimeout(),
	})
	registry.SetLogger(log)

	dispatcher := fleet.NewDispatcher(registry, queue)
	dispatcher.SetLogger(log)

	heartbeat := fleet.NewHeartbeatHandler(devices, resolver, queue)
	heartbeat.SetLogger(log)

	limiter := protocol.NewRateLimiter(cfg.RateLimitWindow(), cfg.RateLimit.MaxMessages)

	// Fleet operation audit trail
	auditRepo := audit.NewSQLiteRepository(db.DB)

	// Connect to MQTT broker (optional)
	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		// Device presence flows to the broker as retained status messages
		registry.SetNotifier(mqtt.NewFleetNotifier(mqttClient))
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
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
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})

		heartbeat.SetRecorder(influxdb.NewHeartbeatRecorder(influxClient))
	} else {
		log.Info("InfluxDB disabled")
	}

	// API server: REST surface plus the device channel
	server, err := api.New(api.Deps{
		Config:     cfg.API,
		Channel:    cfg.Channel,
		RateLimit:  cfg.RateLimit,
		Logger:     log,
		Devices:    devices,
		Pairing:    pairing,
		Groups:     groupRepo,
		Resolver:   resolver,
		Registry:   registry,
		Dispatcher: dispatcher,
		Queue:      queue,
		Heartbeat:  heartbeat,
		Limiter:    limiter,
		Audit:      auditRepo,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)

	// Sweep expired pairing codes in the background
	go purgePairingLoop(ctx, pairing, log)

	// Verify infrastructure is healthy before declaring readiness
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: database: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. InfluxDB (if enabled)
	// 3. MQTT (if enabled)
	// 4. Database

	log.Info("Marquee Core stopped")
	return nil
}

// purgePairingLoop periodically deletes expired pairing codes.
func purgePairingLoop(ctx context.Context, pairing *device.PairingService, log *logging.Logger) {
	ticker := time.NewTicker(pairingPurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := pairing.PurgeExpired(ctx)
			if err != nil {
				log.Warn("pairing purge failed", "error", err)
				continue
			}
			if purged > 0 {
				log.Debug("purged expired pairing codes", "count", purged)
			}
		}
	}
}

// getConfigPath returns the configuration file path.
// Uses MARQUEE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("MARQUEE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
