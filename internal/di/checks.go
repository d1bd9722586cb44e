package di

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/wardenlabs/warden/internal/capital"
	"github.com/wardenlabs/warden/internal/config"
	"github.com/wardenlabs/warden/internal/database"
	"github.com/wardenlabs/warden/internal/domain"
	"github.com/wardenlabs/warden/internal/health"
)

// StartupChecks verifies the environment the process is about to trade in.
// Every failure is returned; nothing is escalated here so tests can assert
// on the raw list.
func (c *Container) StartupChecks(cfg *config.Config) []string {
	var failures []string

	if err := probeWritable(cfg.DataDir); err != nil {
		failures = append(failures, fmt.Sprintf("data directory is not writable: %v", err))
	}
	if err := c.Journal.Flush(); err != nil {
		failures = append(failures, fmt.Sprintf("event journal cannot persist: %v", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, probe := range []struct {
		name string
		db   *database.DB
	}{
		{"snapshot", c.SnapshotDB},
		{"validation", c.ValidationDB},
	} {
		if err := probe.db.HealthCheck(ctx); err != nil {
			failures = append(failures, fmt.Sprintf("%s database failed its integrity check: %v", probe.name, err))
		}
	}

	for _, pool := range []*capital.Pool{c.Directional, c.Arbitrage} {
		m := pool.Metrics()
		if m.Total.IsNegative() {
			failures = append(failures, fmt.Sprintf("pool %s has negative equity %s", m.Kind, m.Total))
		}
		if m.Allocated.GreaterThan(m.Total) {
			failures = append(failures, fmt.Sprintf("pool %s has allocated %s beyond its total %s", m.Kind, m.Allocated, m.Total))
		}
	}

	if c.Manager.Mode() == domain.ExecutionReal && c.Real == nil {
		failures = append(failures, "real execution configured without venue credentials")
	}

	return failures
}

// ApplyStartupPosture runs the checks, escalates any failures and applies
// the configured system mode. A failed check costs the aggressive upgrade,
// never the process: the mode stays observe-only and everything else keeps
// running.
func (c *Container) ApplyStartupPosture(cfg *config.Config, log zerolog.Logger) {
	failures := c.StartupChecks(cfg)
	if len(failures) > 0 {
		for _, failure := range failures {
			c.Alerts.Critical(string(health.AlertStartupCheckFailure), failure, nil)
		}
		c.Mode.ForceObserveOnly("startup checks failed")
		log.Warn().Int("failures", len(failures)).Msg("Startup checks failed, staying observe-only")
		return
	}

	log.Info().Msg("Startup checks passed")
	c.Mode.ClearForAggressive()

	if cfg.SystemMode == string(domain.ModeAggressive) {
		if err := c.Mode.Set(domain.ModeAggressive, "startup checks passed, configured posture applied"); err != nil {
			log.Error().Err(err).Msg("Failed to apply configured system mode")
		}
	}
}

// probeWritable proves the directory accepts writes by creating and
// removing a probe file.
func probeWritable(dir string) error {
	probe := filepath.Join(dir, ".write-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
		return err
	}
	return os.Remove(probe)
}
