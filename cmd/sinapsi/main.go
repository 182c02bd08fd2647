// Sinapsi Core - Macro Execution Engine
//
// This is the main entry point for a Sinapsi device. It loads the user's
// macros, listens for system events and runs matching macros, handing runs
// off to other devices over MQTT when an action is bound elsewhere.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	_ "github.com/sinapsi/sinapsi-core/migrations"

	"github.com/sinapsi/sinapsi-core/internal/adapters"
	"github.com/sinapsi/sinapsi-core/internal/api"
	"github.com/sinapsi/sinapsi-core/internal/audit"
	"github.com/sinapsi/sinapsi-core/internal/catalog"
	"github.com/sinapsi/sinapsi-core/internal/components"
	"github.com/sinapsi/sinapsi-core/internal/continuation"
	"github.com/sinapsi/sinapsi-core/internal/engine"
	"github.com/sinapsi/sinapsi-core/internal/infrastructure/config"
	"github.com/sinapsi/sinapsi-core/internal/infrastructure/database"
	"github.com/sinapsi/sinapsi-core/internal/infrastructure/influxdb"
	"github.com/sinapsi/sinapsi-core/internal/infrastructure/logging"
	"github.com/sinapsi/sinapsi-core/internal/infrastructure/mqtt"
	"github.com/sinapsi/sinapsi-core/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// ledgerPruneInterval is how often expired ledger keys are removed.
const ledgerPruneInterval = time.Hour

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
	log.Info("starting Sinapsi Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version, cfg.Device.ID)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	db, err := database.Open(ctx, cfg.Database)
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

	mqttClient, err := mqtt.Connect(cfg.MQTT, cfg.Device.ID)
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
	mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
	mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	influxClient, err := influxdb.Connect(cfg.InfluxDB, cfg.Device.ID)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) { log.Error("InfluxDB write error", "error", err) })
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	ledger, ledgerCheck, closeLedger, err := openLedger(ctx, cfg, db, log)
	if err != nil {
		return err
	}
	defer closeLedger()

	// Platform adapters
	hub := api.NewHub(cfg.WebSocket, log)
	prompts := adapters.NewPromptBroker()
	prompts.OnChange(hub.PromptRaised, hub.PromptClosed)
	macroLog := adapters.NewMacroLog(log)
	macroLog.OnLine(hub.MacroLog)

	facade := engine.NewSystemFacade()
	adapters.Install(facade, adapters.Set{
		Commands: adapters.NewCommandSender(mqttClient, cfg.Device.ID),
		Prompts:  prompts,
		Log:      macroLog,
	})
	factory := engine.NewComponentFactory(cfg.Device.ID, facade)
	if err := components.Register(factory); err != nil {
		return fmt.Errorf("registering components: %w", err)
	}

	// Telemetry
	repo := catalog.NewSQLiteRepository(db.DB)
	execLog := catalog.NewExecutionLog(repo, log)
	defer execLog.Close()

	metrics := telemetry.NewMetrics()
	metrics.WatchDropped("execution_log_dropped_total", "Execution reports dropped by a full execution log queue.", execLog.Dropped)
	sinks := []engine.Recorder{metrics, execLog, hub}
	if influxClient.IsConnected() {
		sinks = append(sinks, telemetry.History(influxClient))
	}
	recorder := telemetry.NewRecorder(sinks...)

	// Engine
	eng := engine.NewMacroEngine(engine.Deps{
		Device: engine.Device{
			ID:      cfg.Device.ID,
			Name:    cfg.Device.Name,
			Model:   cfg.Device.Model,
			Type:    cfg.Device.Type,
			Version: cfg.Device.Version,
			User:    cfg.Device.User,
		},
		Facade:     facade,
		Factory:    factory,
		Subscriber: continuation.NewEventBridge(ctx, mqttClient, cfg.Device.ID, log),
		Ledger:     ledger,
		Recorder:   recorder,
		Logger:     log,
	})

	macros := catalog.New(repo, factory, eng, log)
	if cfg.Engine.LoadExamples {
		if _, err := macros.Seed(ctx, components.ExampleSpecs(cfg.Device.ID)); err != nil {
			return fmt.Errorf("seeding example macros: %w", err)
		}
	}
	if err := macros.Sync(ctx); err != nil {
		return fmt.Errorf("loading macros: %w", err)
	}

	// Cross-device continuation
	dispatcher := continuation.NewDispatcher(eng, macros, recorder, log)
	transport := continuation.NewTransport(mqttClient, cfg.Device.ID, dispatcher, continuation.TransportOptions{
		Attempts: cfg.Continuation.PublishAttempts,
		Backoff:  cfg.RetryBackoff(),
	}, log)
	eng.SetRemoteExecutor(transport)
	if err := transport.Start(ctx); err != nil {
		return fmt.Errorf("starting continuation transport: %w", err)
	}

	checks := map[string]api.HealthCheck{
		"database": db.HealthCheck,
		"mqtt":     mqttClient.HealthCheck,
	}
	if influxClient.IsConnected() {
		checks["influxdb"] = influxClient.HealthCheck
	}
	if ledgerCheck != nil {
		checks["ledger"] = ledgerCheck
	}

	srv, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Logger:     log,
		Engine:     eng,
		Catalog:    macros,
		Executions: repo,
		Messages:   dispatcher,
		Notifier:   transport,
		Prompts:    prompts,
		Audit:      audit.NewSQLiteRepository(db.DB),
		Metrics:    metrics.Handler(),
		Hub:        hub,
		Checks:     checks,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	go hub.Run(ctx)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	if cfg.Engine.AutoStart {
		eng.StartEngine(ctx)
	} else {
		log.Info("engine not started; resume it through the API")
	}

	log.Info("initialisation complete, waiting for shutdown signal",
		"device_id", cfg.Device.ID,
		"macros", len(macros.Specs()),
	)
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	eng.PauseEngine()
	log.Info("Sinapsi Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses SINAPSI_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SINAPSI_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openLedger builds the continuation ledger chosen by configuration.
//
// Returns:
//   - engine.ContinuationLedger: the idempotency store for inbound descriptors
//   - api.HealthCheck: probe for a networked backend, or nil
//   - func(): releases the backend; always non-nil
//   - error: if the backend cannot be reached
func openLedger(ctx context.Context, cfg *config.Config, db *database.DB, log *logging.Logger) (engine.ContinuationLedger, api.HealthCheck, func(), error) {
	switch cfg.Continuation.Ledger {
	case config.LedgerRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Continuation.Redis.Addr,
			Password: cfg.Continuation.Redis.Password,
			DB:       cfg.Continuation.Redis.DB,
		})
		ledger := continuation.NewRedisLedger(client, continuation.DefaultLedgerPrefix, cfg.LedgerTTL())
		if err := ledger.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, nil, nil, fmt.Errorf("connecting to Redis ledger: %w", err)
		}
		log.Info("continuation ledger ready", "backend", config.LedgerRedis, "addr", cfg.Continuation.Redis.Addr)
		return ledger, ledger.Ping, func() {
			if err := client.Close(); err != nil {
				log.Error("error closing Redis", "error", err)
			}
		}, nil

	case config.LedgerSQLite:
		ledger := catalog.NewSQLiteLedger(db.DB, cfg.LedgerTTL())
		go pruneLedger(ctx, ledger, log)
		log.Info("continuation ledger ready", "backend", config.LedgerSQLite)
		return ledger, nil, func() {}, nil

	default:
		ledger := engine.NewMemoryLedger(cfg.LedgerTTL())
		go pruneLedger(ctx, ledger, log)
		log.Info("continuation ledger ready", "backend", config.LedgerMemory)
		return ledger, nil, func() {}, nil
	}
}

// prunableLedger is a ledger that holds keys until told to drop expired ones.
type prunableLedger interface {
	Prune(ctx context.Context) (int64, error)
}

// pruneLedger removes expired keys until ctx ends.
func pruneLedger(ctx context.Context, ledger prunableLedger, log *logging.Logger) {
	ticker := time.NewTicker(ledgerPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := ledger.Prune(ctx)
			if err != nil {
				log.Warn("pruning continuation ledger failed", "error", err)
				continue
			}
			if n > 0 {
				log.Debug("continuation ledger pruned", "removed", n)
			}
		}
	}
}
