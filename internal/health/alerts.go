package health

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wardenlabs/warden/internal/events"
)

// AlertKind is the closed set of conditions that may raise a critical
// alert. Gate denials, adapter faults and other routine failures are
// journal events, never alerts.
type AlertKind string

const (
	AlertShutdown              AlertKind = "shutdown"
	AlertFailSafe              AlertKind = "fail_safe"
	AlertStartupCheckFailure   AlertKind = "startup_check_failure"
	AlertHeartbeatLoss         AlertKind = "heartbeat_loss"
	AlertCapitalIntegrity      AlertKind = "capital_integrity_violation"
	AlertNeutralizationFailure AlertKind = "neutralization_failure"
)

// criticalKinds is the whitelist Critical checks against.
var criticalKinds = map[AlertKind]struct{}{
	AlertShutdown:              {},
	AlertFailSafe:              {},
	AlertStartupCheckFailure:   {},
	AlertHeartbeatLoss:         {},
	AlertCapitalIntegrity:      {},
	AlertNeutralizationFailure: {},
}

// Alert is one escalated condition.
type Alert struct {
	Kind      AlertKind              `json:"kind"`
	Reason    string                 `json:"reason"`
	Timestamp time.Time              `json:"timestamp"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
}

// AlertSink forwards alerts to an external channel. Satisfied by the events
// package's NATS publisher; nil disables forwarding.
type AlertSink interface {
	PublishAlert(payload interface{})
}

// AlertManager escalates the closed set of critical conditions. Every alert
// is journaled as a RiskCheck record with critical severity so the audit
// trail stays complete even when no sink is configured. A kind outside the
// closed set is a programmer error: it is journaled as an invariant
// violation and no alert goes out.
type AlertManager struct {
	journal *events.Log
	sink    AlertSink
	log     zerolog.Logger
	now     func() time.Time

	mu      sync.Mutex
	history []Alert
}

// NewAlertManager wires the manager. sink may be nil.
func NewAlertManager(journal *events.Log, sink AlertSink, log zerolog.Logger) *AlertManager {
	return &AlertManager{
		journal: journal,
		sink:    sink,
		log:     log.With().Str("component", "alert_manager").Logger(),
		now:     time.Now,
	}
}

// SetClock overrides time for tests.
func (a *AlertManager) SetClock(now func() time.Time) { a.now = now }

// Critical raises one alert. Implements the arbitrage executor's Alerter
// contract; the integrity checker and startup checks call it through small
// closures.
func (a *AlertManager) Critical(kind, reason string, meta map[string]interface{}) {
	k := AlertKind(kind)
	if _, ok := criticalKinds[k]; !ok {
		a.log.Error().Str("kind", kind).Str("reason", reason).
			Msg("Alert kind outside the critical set refused")
		a.journal.Emit(events.RiskCheck, "invariant-violated", map[string]interface{}{
			"detail":       "alert kind outside the critical set",
			"refusedKind":  kind,
			"refusedAlert": reason,
		})
		return
	}

	alert := Alert{Kind: k, Reason: reason, Timestamp: a.now().UTC(), Meta: meta}

	a.mu.Lock()
	a.history = append(a.history, alert)
	a.mu.Unlock()

	a.log.Error().
		Str("kind", kind).
		Str("reason", reason).
		Msg("CRITICAL alert")

	journalMeta := map[string]interface{}{
		"severity":  "critical",
		"alertKind": kind,
	}
	for key, v := range meta {
		journalMeta[key] = v
	}
	a.journal.Emit(events.RiskCheck, reason, journalMeta)

	if a.sink != nil {
		a.sink.PublishAlert(alert)
	}
}

// History returns a copy of every alert raised so far, oldest first.
func (a *AlertManager) History() []Alert {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Alert, len(a.history))
	copy(out, a.history)
	return out
}

// Count returns how many alerts have been raised.
func (a *AlertManager) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.history)
}
