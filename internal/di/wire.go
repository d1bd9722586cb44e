package di

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/wardenlabs/warden/internal/arbitrage"
	"github.com/wardenlabs/warden/internal/backup"
	"github.com/wardenlabs/warden/internal/capital"
	"github.com/wardenlabs/warden/internal/config"
	"github.com/wardenlabs/warden/internal/database"
	"github.com/wardenlabs/warden/internal/domain"
	"github.com/wardenlabs/warden/internal/events"
	"github.com/wardenlabs/warden/internal/execution"
	"github.com/wardenlabs/warden/internal/health"
	"github.com/wardenlabs/warden/internal/marketdata"
	"github.com/wardenlabs/warden/internal/mode"
	"github.com/wardenlabs/warden/internal/regime"
	"github.com/wardenlabs/warden/internal/risk"
	"github.com/wardenlabs/warden/internal/snapshot"
	"github.com/wardenlabs/warden/internal/validation"
)

// Wire initializes all dependencies and returns a fully configured container.
// Order of operations:
// 1. Open databases and the journal
// 2. Build market data, strategies and capital
// 3. Build governance gates and validation
// 4. Build execution, monitoring and snapshots
// Optional pieces (bus publisher, market feed, real adapter, backup) are
// wired only when their config section carries the enabling value.
func Wire(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	c := &Container{}

	if err := initStorage(c, cfg, log); err != nil {
		c.Close()
		return nil, err
	}
	if err := initMarketAndCapital(c, cfg, log); err != nil {
		c.Close()
		return nil, err
	}
	if err := initGovernance(c, cfg, log); err != nil {
		c.Close()
		return nil, err
	}
	if err := initExecution(c, cfg, log); err != nil {
		c.Close()
		return nil, err
	}

	log.Info().
		Str("executionMode", cfg.Execution.Mode).
		Bool("busEnabled", c.Publisher != nil).
		Bool("feedEnabled", c.MarketFeed != nil).
		Bool("realAdapter", c.Real != nil).
		Bool("backupEnabled", c.Backup != nil).
		Msg("Dependency wiring completed")

	return c, nil
}

// initStorage opens the databases, the journal and the optional bus mirror.
func initStorage(c *Container, cfg *config.Config, log zerolog.Logger) error {
	snapDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "db", "snapshots.db"),
		Profile: database.ProfileLedger,
		Name:    "snapshots",
	})
	if err != nil {
		return fmt.Errorf("failed to open snapshot database: %w", err)
	}
	c.SnapshotDB = snapDB

	valDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "db", "validation.db"),
		Profile: database.ProfileStandard,
		Name:    "validation",
	})
	if err != nil {
		return fmt.Errorf("failed to open validation database: %w", err)
	}
	c.ValidationDB = valDB

	journal, err := events.NewLog(events.Config{
		Dir: filepath.Join(cfg.DataDir, "events"),
		Log: log,
	})
	if err != nil {
		return fmt.Errorf("failed to open event journal: %w", err)
	}
	c.Journal = journal

	if cfg.Bus.URL != "" {
		pub, err := events.NewPublisher(cfg.Bus.URL, cfg.Bus.SubjectPrefix, log)
		if err != nil {
			// Telemetry is best-effort: a dead bus must not keep the
			// governor offline.
			log.Warn().Err(err).Str("url", cfg.Bus.URL).Msg("Bus unavailable, running without event publishing")
		} else {
			c.Publisher = pub
			journal.AddSink(pub)
		}
	}

	return nil
}

// initMarketAndCapital builds the market cache, optional feed, the strategy
// registry and the capital layer.
func initMarketAndCapital(c *Container, cfg *config.Config, log zerolog.Logger) error {
	c.MarketCache = marketdata.NewCache(cfg.Regime.OHLCBars)
	if cfg.MarketData.WebsocketURL != "" {
		c.MarketFeed = marketdata.NewFeed(cfg.MarketData.WebsocketURL, cfg.MarketData.Symbols, c.MarketCache, log)
	}

	registry, err := loadStrategies(filepath.Join(cfg.DataDir, "strategies.json"), log)
	if err != nil {
		return err
	}
	c.Registry = registry

	c.Directional = capital.NewPool(string(domain.PoolDirectional),
		decimal.NewFromFloat(cfg.Capital.DirectionalEquity), cfg.Capital.DirectionalMaxDrawdown, log)
	c.Arbitrage = capital.NewPool(string(domain.PoolArbitrage),
		decimal.NewFromFloat(cfg.Capital.ArbitrageEquity), cfg.Capital.ArbitrageMaxDrawdown, log)
	c.Accounts = capital.NewAccountManager()
	c.Allocator = capital.NewAllocator(registry, c.Directional, c.Arbitrage, c.Accounts, capital.AllocatorConfig{
		ProbationDecayRate:      cfg.Capital.ProbationDecayRate,
		ProbationPeriods:        cfg.Capital.ProbationPeriods,
		ArbitrageMinPerStrategy: decimal.NewFromFloat(cfg.Capital.ArbitrageMinPerStrategy),
		ArbitrageMinPoolTotal:   decimal.NewFromFloat(cfg.Capital.ArbitrageMinPoolTotal),
		AggressiveMaxMultiplier: cfg.Capital.AggressiveMaxMultiplier,
	}, c.Journal, log)
	c.CapitalGate = capital.NewGate(c.Accounts)

	return nil
}

// initGovernance builds the mode controller, the regime detector, the risk
// governor and the validation layer.
func initGovernance(c *Container, cfg *config.Config, log zerolog.Logger) error {
	c.Mode = mode.NewController(c.Journal, log)
	c.Permission = mode.NewPermissionGate(c.Mode, c.Accounts)

	c.Detector = regime.NewDetector(c.MarketCache, c.Journal, regime.DetectorConfig{
		CacheTTL:     cfg.Regime.CacheTTL,
		OHLCInterval: cfg.Regime.OHLCInterval,
		OHLCBars:     cfg.Regime.OHLCBars,
	}, log)
	c.RegimeGate = regime.NewGate(c.Detector, c.Registry, cfg.Regime.MinConfidence)

	c.Governor = risk.NewGovernor(risk.Config{
		MaxDailyTrades:     cfg.Risk.MaxDailyTrades,
		MaxDailyLossPct:    cfg.Risk.MaxDailyLossPct,
		MaxPositionSizePct: cfg.Risk.MaxPositionSizePct,
		VolatilityCeiling:  cfg.Risk.VolatilityCeiling,
	}, c.Registry, c.Allocator, c.Detector, c.Journal, log)

	store, err := validation.NewStore(c.ValidationDB, log)
	if err != nil {
		return fmt.Errorf("failed to initialize shadow store: %w", err)
	}
	c.ShadowStore = store

	tracker, err := validation.NewTracker(validation.TrackerConfig{
		Window:         cfg.Shadow.ObservationWindow,
		SampleInterval: cfg.Shadow.SampleInterval,
	}, c.MarketCache, store, log)
	if err != nil {
		return fmt.Errorf("failed to initialize shadow tracker: %w", err)
	}
	c.Shadow = tracker

	runtime, err := validation.NewRuntimeTracker(filepath.Join(cfg.DataDir, "runtime.state"), log)
	if err != nil {
		return fmt.Errorf("failed to initialize runtime tracker: %w", err)
	}
	c.Runtime = runtime

	c.Confidence = validation.NewGate(tracker, runtime, validation.GateConfig{
		MinShadowTrades:    cfg.Confidence.MinShadowTrades,
		MinActiveDays:      cfg.Confidence.MinActiveDays,
		MinOverallScore:    cfg.Confidence.MinOverallScore,
		MinTradesPerRegime: cfg.Confidence.MinTradesPerRegime,
	}, log)

	return nil
}

// initExecution builds the adapters, the manager, the queue, monitoring,
// the arbitrage executor, snapshots and backup.
func initExecution(c *Container, cfg *config.Config, log zerolog.Logger) error {
	execMode, err := domain.ParseExecutionMode(cfg.Execution.Mode)
	if err != nil {
		return err
	}

	c.Simulated = execution.NewSimulatedAdapter(c.MarketCache, execution.SimulatorConfig{
		Latency:              cfg.Simulation.Latency,
		MakerFeeRate:         cfg.Simulation.MakerFeeRate,
		TakerFeeRate:         cfg.Simulation.TakerFeeRate,
		MaxLiquidityFraction: cfg.Simulation.MaxLiquidityFraction,
		SlippageModel:        execution.SlippageModel(cfg.Simulation.SlippageModel),
		SlippageBaseBps:      cfg.Simulation.SlippageBaseBps,
		SizeImpactExponent:   cfg.Simulation.SizeImpactExponent,
	}, log)

	if cfg.Venue.APIKey != "" && cfg.Venue.APISecret != "" {
		c.Real = execution.NewRealAdapter(cfg.Venue.APIKey, cfg.Venue.APISecret, cfg.Venue.Testnet, log)
	}

	deps := execution.Deps{
		Capital:    c.CapitalGate,
		Regime:     c.RegimeGate,
		Permission: c.Permission,
		Risk:       c.Governor,
		Confidence: c.Confidence,
		Regimes:    c.Detector,
		Market:     c.MarketCache,
		PnL:        c.Allocator,
		Shadow:     c.Shadow,
		Runtime:    c.Runtime,
		Simulated:  c.Simulated,
		Journal:    c.Journal,
	}
	if c.Real != nil {
		deps.Real = c.Real
	}
	c.Manager = execution.NewManager(execution.ManagerConfig{
		Mode:           execMode,
		IntentDeadline: cfg.Execution.IntentDeadline,
	}, deps, log)

	c.Queue = execution.NewQueue(c.Manager, c.Journal, execution.QueueConfig{
		Workers:        cfg.Execution.QueueWorkers,
		Depth:          cfg.Execution.QueueDepth,
		StallThreshold: cfg.Execution.StallThreshold,
	}, log)

	c.Monitor = health.NewMonitor(health.Config{
		MarketDataMaxAge: cfg.MarketData.StaleAfter,
	}, c.MarketCache, c.Journal, c.Queue, log)

	var sink health.AlertSink
	if c.Publisher != nil {
		sink = c.Publisher
	}
	c.Alerts = health.NewAlertManager(c.Journal, sink, log)

	c.ArbExecutor = arbitrage.NewExecutor(c.Manager, c.Journal, c.Alerts, arbitrage.Config{
		Atomic:            cfg.Arbitrage.Atomic,
		Neutralize:        cfg.Arbitrage.Neutralize,
		MaxSlippagePct:    cfg.Arbitrage.MaxSlippagePct,
		MaxExecutionDelay: cfg.Arbitrage.MaxExecutionDelay,
	}, log)

	// An integrity violation forces the posture down without an operator in
	// the loop.
	alerts, posture := c.Alerts, c.Mode
	c.Integrity = capital.NewIntegrityChecker(
		[]*capital.Pool{c.Directional, c.Arbitrage}, c.Accounts, c.Journal,
		func(reason string) {
			alerts.Critical(string(health.AlertCapitalIntegrity), reason, nil)
			posture.ForceObserveOnly("capital integrity violation")
		}, log)

	c.SnapshotGen = snapshot.NewGenerator(c.Journal, log)
	snapStore, err := snapshot.NewStore(c.SnapshotDB, log)
	if err != nil {
		return fmt.Errorf("failed to initialize snapshot store: %w", err)
	}
	c.SnapshotStore = snapStore

	if cfg.Backup.Bucket != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		remote, err := backup.NewObjectStore(ctx, backup.StoreConfig{
			Bucket:    cfg.Backup.Bucket,
			Endpoint:  cfg.Backup.Endpoint,
			Region:    cfg.Backup.Region,
			AccessKey: cfg.Backup.AccessKey,
			SecretKey: cfg.Backup.SecretKey,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to initialize backup store: %w", err)
		}
		c.Backup = backup.NewUploader(remote, snapStore, backup.Config{
			JournalDir:    filepath.Join(cfg.DataDir, "events"),
			Prefix:        cfg.Backup.Prefix,
			RetentionDays: cfg.Backup.RetentionDays,
		}, log)
	}

	return nil
}

// loadStrategies reads the strategy definitions file and seeds a registry.
// A missing file yields an empty registry: unknown strategies are denied at
// the capital gate, so an empty book trades nothing rather than everything.
func loadStrategies(path string, log zerolog.Logger) (*domain.StrategyRegistry, error) {
	registry := domain.NewStrategyRegistry()

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		log.Warn().Str("path", path).Msg("No strategy definitions found, starting with an empty registry")
		return registry, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read strategy definitions: %w", err)
	}

	var defs []domain.Strategy
	if err := json.Unmarshal(raw, &defs); err != nil {
		return nil, fmt.Errorf("failed to parse strategy definitions %s: %w", path, err)
	}
	for i, def := range defs {
		if def.ID == "" {
			return nil, fmt.Errorf("strategy definition %d in %s has no id", i, path)
		}
		switch def.Type {
		case domain.StrategyTrend, domain.StrategyMeanReversion,
			domain.StrategySpotPerpArb, domain.StrategyCrossExchangeArb, domain.StrategyTriangularArb:
		default:
			return nil, fmt.Errorf("strategy %s has unknown type %q", def.ID, def.Type)
		}
		registry.Register(def)
	}

	log.Info().Int("strategies", len(defs)).Str("path", path).Msg("Strategy definitions loaded")
	return registry, nil
}
