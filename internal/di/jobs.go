package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/wardenlabs/warden/internal/config"
	"github.com/wardenlabs/warden/internal/scheduler"
)

// Maintenance schedules, all UTC. The rollover leads the seal so the
// governor's books reset before yesterday's snapshot is computed from the
// journal, and the backup trails the seal so it never races the store write.
const (
	scheduleRollover  = "0 0 0 * * *"    // midnight: reset the risk day books
	scheduleSeal      = "0 5 0 * * *"    // 00:05: seal yesterday's snapshot
	scheduleBackup    = "0 30 0 * * *"   // 00:30: upload yesterday off-site
	scheduleRegime    = "0 * * * * *"    // every minute: re-detect regimes
	scheduleIntegrity = "0 */5 * * * *"  // every 5 minutes: audit the books
	scheduleHealth    = "*/30 * * * * *" // every 30 seconds: heartbeat sweep
)

// RegisterJobs builds the maintenance jobs from the container and registers
// them on the scheduler. The backup job is registered even without an
// uploader so its schedule shows up in the logs; it no-ops until one is
// configured.
func RegisterJobs(sched *scheduler.Scheduler, c *Container, cfg *config.Config, log zerolog.Logger) error {
	backupCfg := scheduler.BackupConfig{Log: log, Journal: c.Journal, Ledger: c.SnapshotDB}
	if c.Backup != nil {
		backupCfg.Uploader = c.Backup
	}

	jobs := []struct {
		schedule string
		job      scheduler.Job
	}{
		{scheduleRollover, scheduler.NewRolloverJob(scheduler.RolloverConfig{
			Log:      log,
			Governor: c.Governor,
		})},
		{scheduleSeal, scheduler.NewSnapshotSealJob(scheduler.SnapshotSealConfig{
			Log:       log,
			Journal:   c.Journal,
			Generator: c.SnapshotGen,
			Store:     c.SnapshotStore,
			Allocator: c.Allocator,
		})},
		{scheduleBackup, scheduler.NewBackupJob(backupCfg)},
		{scheduleRegime, scheduler.NewRegimeScanJob(scheduler.RegimeScanConfig{
			Log:      log,
			Detector: c.Detector,
			Monitor:  c.Monitor,
			Symbols:  cfg.MarketData.Symbols,
		})},
		{scheduleIntegrity, scheduler.NewIntegritySweepJob(scheduler.IntegritySweepConfig{
			Log:     log,
			Checker: c.Integrity,
			Monitor: c.Monitor,
		})},
		{scheduleHealth, scheduler.NewHealthSweepJob(scheduler.HealthSweepConfig{
			Log:     log,
			Monitor: c.Monitor,
			Alerts:  c.Alerts,
		})},
	}

	for _, entry := range jobs {
		if err := sched.AddJob(entry.schedule, entry.job); err != nil {
			return fmt.Errorf("failed to register job %s: %w", entry.job.Name(), err)
		}
	}
	return nil
}
