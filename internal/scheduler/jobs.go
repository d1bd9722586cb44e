package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wardenlabs/warden/internal/capital"
	"github.com/wardenlabs/warden/internal/domain"
	"github.com/wardenlabs/warden/internal/events"
	"github.com/wardenlabs/warden/internal/health"
	"github.com/wardenlabs/warden/internal/regime"
	"github.com/wardenlabs/warden/internal/risk"
	"github.com/wardenlabs/warden/internal/snapshot"
)

// RolloverJob resets the risk governor's daily books at midnight UTC. The
// governor also rolls lazily on first touch of a new day; the job exists so
// an overnight pause clears even when no intent arrives.
type RolloverJob struct {
	log      zerolog.Logger
	governor *risk.Governor
}

// RolloverConfig holds dependencies for RolloverJob
type RolloverConfig struct {
	Log      zerolog.Logger
	Governor *risk.Governor
}

// NewRolloverJob creates a new RolloverJob
func NewRolloverJob(cfg RolloverConfig) *RolloverJob {
	return &RolloverJob{
		log:      cfg.Log.With().Str("job", "risk_rollover").Logger(),
		governor: cfg.Governor,
	}
}

// Name returns the job name
func (j *RolloverJob) Name() string {
	return "risk_rollover"
}

// Run executes the rollover
func (j *RolloverJob) Run() error {
	j.governor.Rollover()
	j.log.Info().Msg("Daily risk books rolled over")
	return nil
}

// SnapshotSealJob folds the previous UTC day into a sealed snapshot and
// persists it in the ledger. The journal is flushed first so every event the
// snapshot claims to cover is durable before the seal exists.
type SnapshotSealJob struct {
	log       zerolog.Logger
	journal   *events.Log
	generator *snapshot.Generator
	store     *snapshot.Store
	allocator *capital.Allocator
	now       func() time.Time
}

// SnapshotSealConfig holds dependencies for SnapshotSealJob
type SnapshotSealConfig struct {
	Log       zerolog.Logger
	Journal   *events.Log
	Generator *snapshot.Generator
	Store     *snapshot.Store
	Allocator *capital.Allocator
	Now       func() time.Time // defaults to time.Now
}

// NewSnapshotSealJob creates a new SnapshotSealJob
func NewSnapshotSealJob(cfg SnapshotSealConfig) *SnapshotSealJob {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &SnapshotSealJob{
		log:       cfg.Log.With().Str("job", "snapshot_seal").Logger(),
		journal:   cfg.Journal,
		generator: cfg.Generator,
		store:     cfg.Store,
		allocator: cfg.Allocator,
		now:       now,
	}
}

// Name returns the job name
func (j *SnapshotSealJob) Name() string {
	return "snapshot_seal"
}

// Run seals yesterday
func (j *SnapshotSealJob) Run() error {
	date := j.now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
	return j.SealDay(date)
}

// SealDay seals one UTC calendar day. Saving is idempotent: resealing an
// unchanged day is a no-op, resealing a changed day is an error.
func (j *SnapshotSealJob) SealDay(date string) error {
	if err := j.journal.Flush(); err != nil {
		return fmt.Errorf("failed to flush journal before sealing %s: %w", date, err)
	}

	accounts := j.allocator.Accounts()
	drawdowns := make(map[string]float64)
	for _, acct := range accounts.All() {
		drawdowns[acct.StrategyID] = acct.CurrentDrawdownPct
	}

	sealed, err := j.generator.Generate(snapshot.Inputs{
		Date:             date,
		Directional:      j.allocator.PoolFor(domain.PoolDirectional).Metrics(),
		Arbitrage:        j.allocator.PoolFor(domain.PoolArbitrage).Metrics(),
		StrategyPnL:      snapshot.DayStrategyPnL(j.journal, date),
		StrategyDrawdown: drawdowns,
		Allocations:      accounts.AllocationMap(),
	})
	if err != nil {
		return fmt.Errorf("failed to generate snapshot for %s: %w", date, err)
	}
	if err := j.store.Save(sealed); err != nil {
		return fmt.Errorf("failed to persist snapshot for %s: %w", date, err)
	}

	j.log.Info().
		Str("date", date).
		Int("events", sealed.Snapshot.EventCount).
		Str("checksum", sealed.Checksum[:12]).
		Msg("Sealed daily snapshot")
	return nil
}

// RegimeScanJob refreshes the regime classification for every traded symbol
// so RegimeDetected events keep flowing even when no intents arrive.
type RegimeScanJob struct {
	log      zerolog.Logger
	detector *regime.Detector
	monitor  *health.Monitor
	symbols  []string
}

// RegimeScanConfig holds dependencies for RegimeScanJob
type RegimeScanConfig struct {
	Log      zerolog.Logger
	Detector *regime.Detector
	Monitor  *health.Monitor // optional heartbeat target
	Symbols  []string
}

// NewRegimeScanJob creates a new RegimeScanJob
func NewRegimeScanJob(cfg RegimeScanConfig) *RegimeScanJob {
	return &RegimeScanJob{
		log:      cfg.Log.With().Str("job", "regime_scan").Logger(),
		detector: cfg.Detector,
		monitor:  cfg.Monitor,
		symbols:  cfg.Symbols,
	}
}

// Name returns the job name
func (j *RegimeScanJob) Name() string {
	return "regime_scan"
}

// Run refreshes every symbol
func (j *RegimeScanJob) Run() error {
	ctx := context.Background()
	for _, symbol := range j.symbols {
		verdict := j.detector.Refresh(ctx, symbol)
		j.log.Debug().
			Str("symbol", symbol).
			Str("regime", string(verdict.Regime)).
			Float64("confidence", verdict.Confidence).
			Msg("Regime refreshed")
	}
	if j.monitor != nil {
		j.monitor.Beat("regime_scan")
	}
	return nil
}

// IntegritySweepJob audits the capital books. The checker journals and
// escalates violations itself; the job's error return surfaces the count in
// the scheduler's log.
type IntegritySweepJob struct {
	log     zerolog.Logger
	checker *capital.IntegrityChecker
	monitor *health.Monitor
}

// IntegritySweepConfig holds dependencies for IntegritySweepJob
type IntegritySweepConfig struct {
	Log     zerolog.Logger
	Checker *capital.IntegrityChecker
	Monitor *health.Monitor // optional heartbeat target
}

// NewIntegritySweepJob creates a new IntegritySweepJob
func NewIntegritySweepJob(cfg IntegritySweepConfig) *IntegritySweepJob {
	return &IntegritySweepJob{
		log:     cfg.Log.With().Str("job", "integrity_sweep").Logger(),
		checker: cfg.Checker,
		monitor: cfg.Monitor,
	}
}

// Name returns the job name
func (j *IntegritySweepJob) Name() string {
	return "integrity_sweep"
}

// Run audits the books
func (j *IntegritySweepJob) Run() error {
	violations := j.checker.Check()
	if j.monitor != nil {
		j.monitor.Beat("integrity_sweep")
	}
	if len(violations) > 0 {
		return fmt.Errorf("capital integrity sweep found %d violation(s)", len(violations))
	}
	j.log.Debug().Msg("Capital books clean")
	return nil
}

// HealthSweepJob escalates missed heartbeats as critical alerts. Each stale
// loop is escalated once; a loop that beats again re-arms its escalation.
type HealthSweepJob struct {
	log     zerolog.Logger
	monitor *health.Monitor
	alerts  *health.AlertManager

	mu        sync.Mutex
	escalated map[string]bool
}

// HealthSweepConfig holds dependencies for HealthSweepJob
type HealthSweepConfig struct {
	Log     zerolog.Logger
	Monitor *health.Monitor
	Alerts  *health.AlertManager
}

// NewHealthSweepJob creates a new HealthSweepJob
func NewHealthSweepJob(cfg HealthSweepConfig) *HealthSweepJob {
	return &HealthSweepJob{
		log:       cfg.Log.With().Str("job", "health_sweep").Logger(),
		monitor:   cfg.Monitor,
		alerts:    cfg.Alerts,
		escalated: make(map[string]bool),
	}
}

// Name returns the job name
func (j *HealthSweepJob) Name() string {
	return "health_sweep"
}

// Run checks heartbeats and the overall healthy signal
func (j *HealthSweepJob) Run() error {
	stale := j.monitor.StaleHeartbeats()

	j.mu.Lock()
	current := make(map[string]bool, len(stale))
	var escalate []string
	for _, name := range stale {
		current[name] = true
		if !j.escalated[name] {
			j.escalated[name] = true
			escalate = append(escalate, name)
		}
	}
	for name := range j.escalated {
		if !current[name] {
			delete(j.escalated, name)
			j.log.Info().Str("loop", name).Msg("Heartbeat recovered")
		}
	}
	j.mu.Unlock()

	for _, name := range escalate {
		j.alerts.Critical(string(health.AlertHeartbeatLoss),
			fmt.Sprintf("loop %q missed its heartbeat budget", name),
			map[string]interface{}{"loop": name})
	}

	j.monitor.Beat("scheduler")
	if st := j.monitor.Check(); !st.Healthy {
		j.log.Warn().Strs("reasons", st.Reasons).Msg("System unhealthy")
	}
	return nil
}

// DayUploader sends one day's journal and snapshot to off-site storage.
type DayUploader interface {
	UploadDay(ctx context.Context, date string) (string, error)
}

// WALCheckpointer flushes a database's write-ahead log into the main file.
type WALCheckpointer interface {
	WALCheckpoint(mode string) error
}

// BackupJob uploads the previous day's archive. A nil uploader disables the
// job without a schedule change.
type BackupJob struct {
	log      zerolog.Logger
	uploader DayUploader
	journal  *events.Log
	ledger   WALCheckpointer
	timeout  time.Duration
	now      func() time.Time
}

// BackupConfig holds dependencies for BackupJob
type BackupConfig struct {
	Log      zerolog.Logger
	Uploader DayUploader
	Journal  *events.Log
	Ledger   WALCheckpointer  // optional; checkpointed before each upload
	Timeout  time.Duration    // defaults to 5 minutes
	Now      func() time.Time // defaults to time.Now
}

// NewBackupJob creates a new BackupJob
func NewBackupJob(cfg BackupConfig) *BackupJob {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &BackupJob{
		log:      cfg.Log.With().Str("job", "snapshot_backup").Logger(),
		uploader: cfg.Uploader,
		journal:  cfg.Journal,
		ledger:   cfg.Ledger,
		timeout:  timeout,
		now:      now,
	}
}

// Name returns the job name
func (j *BackupJob) Name() string {
	return "snapshot_backup"
}

// Run uploads yesterday's archive
func (j *BackupJob) Run() error {
	if j.uploader == nil {
		j.log.Debug().Msg("Backup not configured, skipping")
		return nil
	}
	date := j.now().UTC().AddDate(0, 0, -1).Format("2006-01-02")

	if err := j.journal.Flush(); err != nil {
		return fmt.Errorf("failed to flush journal before backup: %w", err)
	}
	if j.ledger != nil {
		if err := j.ledger.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Warn().Err(err).Msg("Ledger checkpoint failed, continuing with backup")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	key, err := j.uploader.UploadDay(ctx, date)
	if err != nil {
		return fmt.Errorf("failed to upload backup for %s: %w", date, err)
	}
	j.log.Info().Str("date", date).Str("key", key).Msg("Backup uploaded")
	return nil
}
