package di

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenlabs/warden/internal/domain"
	"github.com/wardenlabs/warden/internal/health"
)

func TestStartupChecksCleanEnvironment(t *testing.T) {
	cfg := testConfig(t)
	c, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	assert.Empty(t, c.StartupChecks(cfg))
}

func TestStartupChecksRealModeWithoutCredentials(t *testing.T) {
	cfg := testConfig(t)
	cfg.Execution.Mode = "real"

	c, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	failures := c.StartupChecks(cfg)
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], "venue credentials")
}

func TestStartupChecksUnwritableDataDir(t *testing.T) {
	cfg := testConfig(t)
	c, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	probed := *cfg
	probed.DataDir = filepath.Join(cfg.DataDir, "does", "not", "exist")

	failures := c.StartupChecks(&probed)
	require.NotEmpty(t, failures)
	assert.Contains(t, failures[0], "not writable")
}

func TestApplyStartupPostureUpgradesWhenConfigured(t *testing.T) {
	cfg := testConfig(t)
	cfg.SystemMode = "aggressive"

	c, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	c.ApplyStartupPosture(cfg, zerolog.Nop())

	assert.Equal(t, domain.ModeAggressive, c.Mode.Current())
	assert.True(t, c.Mode.TradingAllowed())
	assert.Zero(t, c.Alerts.Count())
}

func TestApplyStartupPostureKeepsObserveOnlyByDefault(t *testing.T) {
	cfg := testConfig(t)

	c, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	c.ApplyStartupPosture(cfg, zerolog.Nop())

	assert.Equal(t, domain.ModeObserveOnly, c.Mode.Current())
}

func TestApplyStartupPostureRefusesUpgradeOnFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.SystemMode = "aggressive"

	c, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	broken := *cfg
	broken.DataDir = filepath.Join(cfg.DataDir, "gone")

	c.ApplyStartupPosture(&broken, zerolog.Nop())

	assert.Equal(t, domain.ModeObserveOnly, c.Mode.Current())
	require.NotZero(t, c.Alerts.Count())
	assert.Equal(t, health.AlertStartupCheckFailure, c.Alerts.History()[0].Kind)

	// The failed run never cleared the way, so a manual upgrade stays refused.
	assert.Error(t, c.Mode.Set(domain.ModeAggressive, "operator override"))
}
