// Package mode owns the process-wide system mode and the permission gate
// derived from it.
package mode

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/wardenlabs/warden/internal/domain"
	"github.com/wardenlabs/warden/internal/events"
)

// Controller holds the single system mode. The process always boots
// observe-only; entering aggressive is a guarded transition that needs the
// startup checks to have passed first. Falling back to observe-only is the
// fail-safe direction and is always allowed.
type Controller struct {
	mu                sync.RWMutex
	mode              domain.SystemMode
	aggressiveCleared bool
	journal           *events.Log
	log               zerolog.Logger
}

// NewController builds a controller in observe-only mode.
func NewController(journal *events.Log, log zerolog.Logger) *Controller {
	return &Controller{
		mode:    domain.ModeObserveOnly,
		journal: journal,
		log:     log.With().Str("component", "mode_controller").Logger(),
	}
}

// Current returns the active mode.
func (c *Controller) Current() domain.SystemMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// TradingAllowed reports whether real execution is currently permitted.
func (c *Controller) TradingAllowed() bool {
	return c.Current() == domain.ModeAggressive
}

// ClearForAggressive marks the startup checks as passed, unlocking the
// transition into aggressive mode.
func (c *Controller) ClearForAggressive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aggressiveCleared = true
}

// Set transitions the mode. Upgrades to aggressive are refused until the
// startup checks cleared the way.
func (c *Controller) Set(mode domain.SystemMode, reason string) error {
	c.mu.Lock()

	if mode == c.mode {
		c.mu.Unlock()
		return nil
	}

	if mode == domain.ModeAggressive && !c.aggressiveCleared {
		c.mu.Unlock()
		return fmt.Errorf("aggressive mode refused: startup checks have not cleared it")
	}

	prev := c.mode
	c.mode = mode
	c.mu.Unlock()

	c.log.Info().
		Str("from", string(prev)).
		Str("to", string(mode)).
		Str("reason", reason).
		Msg("System mode changed")

	c.journal.Emit(events.SystemModeChange, reason, map[string]interface{}{
		"from": string(prev),
		"to":   string(mode),
	})
	return nil
}

// ForceObserveOnly is the fail-safe drop used by integrity violations and
// shutdown paths. It never fails.
func (c *Controller) ForceObserveOnly(reason string) {
	c.mu.Lock()
	if c.mode == domain.ModeObserveOnly {
		c.mu.Unlock()
		return
	}
	prev := c.mode
	c.mode = domain.ModeObserveOnly
	c.mu.Unlock()

	c.log.Warn().
		Str("from", string(prev)).
		Str("reason", reason).
		Msg("Fail-safe drop to observe-only")

	c.journal.Emit(events.SystemModeChange, reason, map[string]interface{}{
		"from":     string(prev),
		"to":       string(domain.ModeObserveOnly),
		"failSafe": true,
	})
}
