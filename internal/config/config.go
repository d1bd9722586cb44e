// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir    string // Base directory for event logs, databases and state files (always absolute)
	Port       int
	LogLevel   string
	DevMode    bool
	SystemMode string // "observe_only" or "aggressive"; the process always boots observe-only and upgrades after startup checks

	Capital    *CapitalConfig
	Regime     *RegimeConfig
	Risk       *RiskConfig
	Execution  *ExecutionConfig
	Simulation *SimulationConfig
	Arbitrage  *ArbitrageConfig
	Confidence *ConfidenceConfig
	Shadow     *ShadowConfig
	Venue      *VenueConfig
	MarketData *MarketDataConfig
	Bus        *BusConfig
	Backup     *BackupConfig
}

// CapitalConfig holds pool sizing, drawdown ceilings and allocation policy
type CapitalConfig struct {
	DirectionalEquity      float64 // initial equity of the directional pool (quote units)
	ArbitrageEquity        float64 // initial equity of the arbitrage pool (quote units)
	DirectionalMaxDrawdown float64 // percent; pool stops allocating at or above this
	ArbitrageMaxDrawdown   float64 // percent
	ProbationDecayRate     float64 // fraction removed per allocation attempt while in probation
	ProbationPeriods       int     // decay periods before the allocation is forced to zero
	ArbitrageMinPerStrategy float64 // floor raised onto arbitrage allocation requests
	ArbitrageMinPoolTotal   float64 // warn-only floor on the arbitrage pool itself
	AggressiveMaxMultiplier float64 // scaling applied at the top regime-confidence band
}

// RegimeConfig holds detector and gate thresholds
type RegimeConfig struct {
	MinConfidence float64       // RegimeGate denies below this
	CacheTTL      time.Duration // verdicts older than this are re-detected
	OHLCInterval  string        // candle interval fed to the indicators
	OHLCBars      int           // candles requested per detection
}

// RiskConfig holds the governor's daily limits
type RiskConfig struct {
	MaxDailyTrades     int
	MaxDailyLossPct    float64 // realized-loss threshold that pauses the governor
	MaxPositionSizePct float64 // single-intent value ceiling as percent of pool equity
	VolatilityCeiling  float64 // annualized-equivalent ceiling from the volatility provider
}

// ExecutionConfig holds manager, queue and deadline settings
type ExecutionConfig struct {
	Mode           string        // "real", "simulation" or "shadow"; no silent default at the manager level
	IntentDeadline time.Duration // per-intent budget covering gates and the adapter call
	QueueWorkers   int
	QueueDepth     int
	StallThreshold time.Duration // queue reports stalled after this much progress silence
}

// SimulationConfig parameterizes the high-fidelity fill model
type SimulationConfig struct {
	Latency              time.Duration
	MakerFeeRate         float64
	TakerFeeRate         float64
	MaxLiquidityFraction float64
	SlippageModel        string // "linear" or "sqrt"
	SlippageBaseBps      float64
	SizeImpactExponent   float64
}

// ArbitrageConfig holds the multi-leg executor's atomicity and unwind policy
type ArbitrageConfig struct {
	Atomic            bool          // abort the whole signal when the priority-1 leg fails
	Neutralize        bool          // unwind filled legs when a later leg fails
	MaxSlippagePct    float64       // per-leg fill distance from the touch that forces an unwind
	MaxExecutionDelay time.Duration // per-leg latency that forces an unwind
}

// ConfidenceConfig holds the promotion thresholds for live execution
type ConfidenceConfig struct {
	MinShadowTrades    int
	MinActiveDays      int
	MinOverallScore    float64
	MinTradesPerRegime int
}

// ShadowConfig holds the observation window used for parity measurements
type ShadowConfig struct {
	ObservationWindow time.Duration
	SampleInterval    time.Duration
}

// VenueConfig holds live-venue credentials; optional unless execution mode is real
type VenueConfig struct {
	APIKey    string
	APISecret string
	Testnet   bool
}

// MarketDataConfig holds the feed endpoint, subscribed symbols and freshness budget
type MarketDataConfig struct {
	WebsocketURL string
	Symbols      []string // symbols subscribed on the feed and scanned by the regime detector
	StaleAfter   time.Duration
}

// BusConfig holds the optional NATS telemetry sink
type BusConfig struct {
	URL           string // empty disables publishing
	SubjectPrefix string
}

// BackupConfig holds the optional S3-compatible snapshot backup target
type BackupConfig struct {
	Bucket        string // empty disables backups
	Endpoint      string // custom endpoint for S3-compatible stores; empty for AWS
	Region        string
	AccessKey     string
	SecretKey     string
	Prefix        string
	RetentionDays int // archives older than this are rotated out; newest three always survive
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("WARDEN_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:    absDataDir,
		Port:       getEnvAsInt("WARDEN_PORT", 8010),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		DevMode:    getEnvAsBool("DEV_MODE", false),
		SystemMode: strings.ToLower(getEnv("SYSTEM_MODE", "observe_only")),
		Capital:    loadCapitalConfig(),
		Regime:     loadRegimeConfig(),
		Risk:       loadRiskConfig(),
		Execution:  loadExecutionConfig(),
		Simulation: loadSimulationConfig(),
		Arbitrage:  loadArbitrageConfig(),
		Confidence: loadConfidenceConfig(),
		Shadow:     loadShadowConfig(),
		Venue:      loadVenueConfig(),
		MarketData: loadMarketDataConfig(),
		Bus:        loadBusConfig(),
		Backup:     loadBackupConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadCapitalConfig() *CapitalConfig {
	return &CapitalConfig{
		DirectionalEquity:       getEnvAsFloat("CAPITAL_DIRECTIONAL_EQUITY", 10000),
		ArbitrageEquity:         getEnvAsFloat("CAPITAL_ARBITRAGE_EQUITY", 2000),
		DirectionalMaxDrawdown:  getEnvAsFloat("CAPITAL_DIRECTIONAL_MAX_DRAWDOWN_PCT", 20),
		ArbitrageMaxDrawdown:    getEnvAsFloat("CAPITAL_ARBITRAGE_MAX_DRAWDOWN_PCT", 10),
		ProbationDecayRate:      getEnvAsFloat("CAPITAL_PROBATION_DECAY_RATE", 0.5),
		ProbationPeriods:        getEnvAsInt("CAPITAL_PROBATION_PERIODS", 2),
		ArbitrageMinPerStrategy: getEnvAsFloat("CAPITAL_ARBITRAGE_MIN_PER_STRATEGY", 50),
		ArbitrageMinPoolTotal:   getEnvAsFloat("CAPITAL_ARBITRAGE_MIN_POOL_TOTAL", 100),
		AggressiveMaxMultiplier: getEnvAsFloat("CAPITAL_AGGRESSIVE_MAX_MULTIPLIER", 1.5),
	}
}

func loadRegimeConfig() *RegimeConfig {
	return &RegimeConfig{
		MinConfidence: getEnvAsFloat("REGIME_MIN_CONFIDENCE", 0.6),
		CacheTTL:      getEnvAsDuration("REGIME_CACHE_TTL", 60*time.Second),
		OHLCInterval:  getEnv("REGIME_OHLC_INTERVAL", "1m"),
		OHLCBars:      getEnvAsInt("REGIME_OHLC_BARS", 120),
	}
}

func loadRiskConfig() *RiskConfig {
	return &RiskConfig{
		MaxDailyTrades:     getEnvAsInt("RISK_MAX_DAILY_TRADES", 50),
		MaxDailyLossPct:    getEnvAsFloat("RISK_MAX_DAILY_LOSS_PCT", 3),
		MaxPositionSizePct: getEnvAsFloat("RISK_MAX_POSITION_SIZE_PCT", 10),
		VolatilityCeiling:  getEnvAsFloat("RISK_VOLATILITY_CEILING", 150),
	}
}

func loadExecutionConfig() *ExecutionConfig {
	return &ExecutionConfig{
		Mode:           strings.ToLower(getEnv("EXECUTION_MODE", "shadow")),
		IntentDeadline: getEnvAsDuration("EXECUTION_INTENT_DEADLINE", 10*time.Second),
		QueueWorkers:   getEnvAsInt("EXECUTION_QUEUE_WORKERS", 4),
		QueueDepth:     getEnvAsInt("EXECUTION_QUEUE_DEPTH", 256),
		StallThreshold: getEnvAsDuration("EXECUTION_STALL_THRESHOLD", 30*time.Second),
	}
}

func loadSimulationConfig() *SimulationConfig {
	return &SimulationConfig{
		Latency:              getEnvAsDuration("SIM_LATENCY", 50*time.Millisecond),
		MakerFeeRate:         getEnvAsFloat("SIM_MAKER_FEE_RATE", 0.0016),
		TakerFeeRate:         getEnvAsFloat("SIM_TAKER_FEE_RATE", 0.0026),
		MaxLiquidityFraction: getEnvAsFloat("SIM_MAX_LIQUIDITY_FRACTION", 0.1),
		SlippageModel:        strings.ToLower(getEnv("SIM_SLIPPAGE_MODEL", "linear")),
		SlippageBaseBps:      getEnvAsFloat("SIM_SLIPPAGE_BASE_BPS", 5),
		SizeImpactExponent:   getEnvAsFloat("SIM_SIZE_IMPACT_EXPONENT", 2),
	}
}

func loadArbitrageConfig() *ArbitrageConfig {
	return &ArbitrageConfig{
		Atomic:            getEnvAsBool("ARB_ATOMIC", true),
		Neutralize:        getEnvAsBool("ARB_NEUTRALIZE", true),
		MaxSlippagePct:    getEnvAsFloat("ARB_MAX_SLIPPAGE_PCT", 1),
		MaxExecutionDelay: getEnvAsDuration("ARB_MAX_EXECUTION_DELAY", 5*time.Second),
	}
}

func loadConfidenceConfig() *ConfidenceConfig {
	return &ConfidenceConfig{
		MinShadowTrades:    getEnvAsInt("CONFIDENCE_MIN_SHADOW_TRADES", 500),
		MinActiveDays:      getEnvAsInt("CONFIDENCE_MIN_ACTIVE_DAYS", 100),
		MinOverallScore:    getEnvAsFloat("CONFIDENCE_MIN_OVERALL_SCORE", 90),
		MinTradesPerRegime: getEnvAsInt("CONFIDENCE_MIN_TRADES_PER_REGIME", 50),
	}
}

func loadShadowConfig() *ShadowConfig {
	return &ShadowConfig{
		ObservationWindow: getEnvAsDuration("SHADOW_OBSERVATION_WINDOW", 5*time.Minute),
		SampleInterval:    getEnvAsDuration("SHADOW_SAMPLE_INTERVAL", 1*time.Second),
	}
}

func loadVenueConfig() *VenueConfig {
	return &VenueConfig{
		APIKey:    getEnv("VENUE_API_KEY", ""),
		APISecret: getEnv("VENUE_API_SECRET", ""),
		Testnet:   getEnvAsBool("VENUE_TESTNET", true),
	}
}

func loadMarketDataConfig() *MarketDataConfig {
	return &MarketDataConfig{
		WebsocketURL: getEnv("MARKET_DATA_WS_URL", ""),
		Symbols:      getEnvAsList("MARKET_DATA_SYMBOLS", []string{"BTC/USD"}),
		StaleAfter:   getEnvAsDuration("MARKET_DATA_STALE_AFTER", 5*time.Minute),
	}
}

func loadBusConfig() *BusConfig {
	return &BusConfig{
		URL:           getEnv("NATS_URL", ""),
		SubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "warden"),
	}
}

func loadBackupConfig() *BackupConfig {
	return &BackupConfig{
		Bucket:        getEnv("BACKUP_S3_BUCKET", ""),
		Endpoint:      getEnv("BACKUP_S3_ENDPOINT", ""),
		Region:        getEnv("BACKUP_S3_REGION", "auto"),
		AccessKey:     getEnv("BACKUP_S3_ACCESS_KEY", ""),
		SecretKey:     getEnv("BACKUP_S3_SECRET_KEY", ""),
		Prefix:        getEnv("BACKUP_S3_PREFIX", "warden"),
		RetentionDays: getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
	}
}

// Validate checks if required configuration is present and coherent
func (c *Config) Validate() error {
	switch c.SystemMode {
	case "observe_only", "aggressive":
	default:
		return fmt.Errorf("invalid SYSTEM_MODE %q (want observe_only or aggressive)", c.SystemMode)
	}

	switch c.Execution.Mode {
	case "real", "simulation", "shadow":
	default:
		return fmt.Errorf("invalid EXECUTION_MODE %q (want real, simulation or shadow)", c.Execution.Mode)
	}

	switch c.Simulation.SlippageModel {
	case "linear", "sqrt":
	default:
		return fmt.Errorf("invalid SIM_SLIPPAGE_MODEL %q (want linear or sqrt)", c.Simulation.SlippageModel)
	}

	if c.Execution.Mode == "real" && (c.Venue.APIKey == "" || c.Venue.APISecret == "") {
		return fmt.Errorf("EXECUTION_MODE=real requires VENUE_API_KEY and VENUE_API_SECRET")
	}

	if c.Capital.DirectionalEquity < 0 || c.Capital.ArbitrageEquity < 0 {
		return fmt.Errorf("pool equity must not be negative")
	}

	if c.Capital.ProbationDecayRate < 0 || c.Capital.ProbationDecayRate > 1 {
		return fmt.Errorf("CAPITAL_PROBATION_DECAY_RATE must be within [0,1]")
	}

	if c.Simulation.MaxLiquidityFraction <= 0 || c.Simulation.MaxLiquidityFraction > 1 {
		return fmt.Errorf("SIM_MAX_LIQUIDITY_FRACTION must be within (0,1]")
	}

	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
