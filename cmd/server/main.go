// Package main is the entry point for the warden trading governor. The
// process journals every decision, seals an immutable snapshot per day and
// exposes a read-only operator API; signal sources live outside and submit
// intents through the queue.
//
// Startup sequence:
//  1. Load configuration from environment variables
//  2. Initialize logging
//  3. Wire all dependencies via the DI container
//  4. Run startup checks and apply the configured system posture
//  5. Start the market feed, the intent queue, the scheduler and the API
//  6. Wait for shutdown signal and stop everything in reverse
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wardenlabs/warden/internal/config"
	"github.com/wardenlabs/warden/internal/di"
	"github.com/wardenlabs/warden/internal/health"
	"github.com/wardenlabs/warden/internal/scheduler"
	"github.com/wardenlabs/warden/internal/server"
	"github.com/wardenlabs/warden/internal/validation"
	"github.com/wardenlabs/warden/pkg/logger"
)

func main() {
	// Load configuration first to get the log level.
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().
		Str("dataDir", cfg.DataDir).
		Str("systemMode", cfg.SystemMode).
		Str("executionMode", cfg.Execution.Mode).
		Msg("Starting warden")

	// Wire all dependencies. The container owns databases, the journal, the
	// gate chain, execution and monitoring; nothing is running yet.
	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	// Startup checks gate the posture. The process always boots observe-only;
	// a failed check raises an alert and pins it there, it never aborts the
	// process.
	container.ApplyStartupPosture(cfg, log)

	// Market data before the queue so the first intents see live quotes.
	if container.MarketFeed != nil {
		if err := container.MarketFeed.Start(); err != nil {
			log.Warn().Err(err).Msg("Market feed connection deferred to the reconnect loop")
		}
	}

	container.Queue.Start()
	defer container.Queue.Stop()

	// Maintenance loops: day rollover, snapshot seal, backup, regime scans,
	// integrity sweeps, heartbeat checks.
	sched := scheduler.New(log)
	if err := di.RegisterJobs(sched, container, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("Failed to register scheduled jobs")
	}
	sched.Start()
	defer sched.Stop()

	// Read-only operator API. No route mutates state or reaches an adapter.
	handlersCfg := server.HandlersConfig{
		Log:             log,
		Monitor:         container.Monitor,
		Mode:            container.Mode,
		Risk:            container.Governor,
		Execution:       container.Manager,
		Journal:         container.Journal,
		Snapshots:       container.SnapshotStore,
		Shadow:          container.Shadow,
		Confidence:      container.Confidence,
		Runtime:         container.Runtime,
		BaselineLatency: validation.DefaultGateConfig().BaselineLatency,
	}
	if container.MarketFeed != nil {
		handlersCfg.Feed = container.MarketFeed
	}
	srv := server.New(server.Config{
		Log:      log,
		Port:     cfg.Port,
		DevMode:  cfg.DevMode,
		Handlers: server.NewHandlers(handlersCfg),
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Warden started")

	// Wait for interrupt.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	container.Alerts.Critical(string(health.AlertShutdown), "process received shutdown signal", nil)
	container.Mode.ForceObserveOnly("shutdown")

	// The HTTP server gets a bounded grace period for in-flight requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// The deferred stops run next: scheduler drains its running job, the
	// queue drains its workers, then the container closes the feed, the
	// shadow tracker, the journal and the databases.
	log.Info().Msg("Warden stopped")
}
