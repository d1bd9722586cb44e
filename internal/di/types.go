// Package di wires the full dependency graph and owns its lifecycle.
package di

import (
	"github.com/wardenlabs/warden/internal/arbitrage"
	"github.com/wardenlabs/warden/internal/backup"
	"github.com/wardenlabs/warden/internal/capital"
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

// Container holds every long-lived component of the process. Wire() builds
// it in dependency order; Close() tears it down in reverse. Nothing in the
// container starts its own goroutines at construction time: the feed, the
// queue, the scheduler and the HTTP server are started explicitly by the
// caller once startup checks have run.
type Container struct {
	// Databases
	SnapshotDB   *database.DB // sealed daily snapshots, ledger profile
	ValidationDB *database.DB // shadow execution records, standard profile

	// Journal and telemetry
	Journal   *events.Log       // append-only audit trail, JSONL-backed
	Publisher *events.Publisher // NATS mirror of the journal; nil without a bus

	// Market data
	MarketCache *marketdata.Cache
	MarketFeed  *marketdata.Feed // nil without a feed URL; the cache then only serves test fixtures

	// Strategies and capital
	Registry    *domain.StrategyRegistry
	Directional *capital.Pool
	Arbitrage   *capital.Pool
	Accounts    *capital.AccountManager
	Allocator   *capital.Allocator
	Integrity   *capital.IntegrityChecker

	// Governance gates, outermost first
	Mode        *mode.Controller
	Permission  *mode.PermissionGate
	CapitalGate *capital.Gate
	Detector    *regime.Detector
	RegimeGate  *regime.Gate
	Governor    *risk.Governor

	// Validation and promotion
	ShadowStore *validation.Store
	Shadow      *validation.Tracker
	Runtime     *validation.RuntimeTracker
	Confidence  *validation.Gate

	// Execution
	Simulated   *execution.SimulatedAdapter
	Real        *execution.RealAdapter // nil without venue credentials
	Manager     *execution.Manager
	Queue       *execution.Queue
	ArbExecutor *arbitrage.Executor

	// Monitoring
	Monitor *health.Monitor
	Alerts  *health.AlertManager

	// Snapshots and backup
	SnapshotGen   *snapshot.Generator
	SnapshotStore *snapshot.Store
	Backup        *backup.Uploader // nil without a bucket
}

// Close releases everything Wire acquired, in reverse dependency order.
// Safe to call exactly once, after the queue and feed have been stopped or
// were never started.
func (c *Container) Close() {
	if c.MarketFeed != nil {
		_ = c.MarketFeed.Stop()
	}
	if c.Shadow != nil {
		c.Shadow.Close()
	}
	if c.Runtime != nil {
		_ = c.Runtime.Flush()
	}
	if c.Journal != nil {
		_ = c.Journal.Close()
	}
	if c.Publisher != nil {
		c.Publisher.Close()
	}
	if c.ValidationDB != nil {
		c.ValidationDB.Close()
	}
	if c.SnapshotDB != nil {
		c.SnapshotDB.Close()
	}
}
