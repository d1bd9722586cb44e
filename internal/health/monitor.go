// Package health watches the system without touching it: the monitor folds
// error rates, data freshness and queue state into one boolean, and the
// alert manager escalates the closed set of critical conditions. Nothing in
// this package reaches an adapter or mutates pipeline state.
package health

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/wardenlabs/warden/internal/execution"
)

// Config holds the freshness budgets behind the healthy signal.
type Config struct {
	MaxErrorsPerMinute int
	ErrorWindow        time.Duration
	MarketDataMaxAge   time.Duration
	JournalWriteMaxAge time.Duration
	HeartbeatMaxAge    time.Duration
}

// DefaultConfig returns the published budgets.
func DefaultConfig() Config {
	return Config{
		MaxErrorsPerMinute: 10,
		ErrorWindow:        5 * time.Minute,
		MarketDataMaxAge:   5 * time.Minute,
		JournalWriteMaxAge: 10 * time.Minute,
		HeartbeatMaxAge:    2 * time.Minute,
	}
}

// FreshnessSource reports when market data last arrived.
type FreshnessSource interface {
	LastUpdate() time.Time
}

// JournalSource reports when the event log last accepted a write.
type JournalSource interface {
	LastWriteAt() time.Time
}

// QueueSource reports the intake pipeline state.
type QueueSource interface {
	Status() execution.QueueStatus
}

// Status is one read-only health evaluation.
type Status struct {
	Healthy          bool      `json:"healthy"`
	Reasons          []string  `json:"reasons,omitempty"`
	UptimeSeconds    float64   `json:"uptimeSeconds"`
	ErrorsPerMinute  float64   `json:"errorsPerMinute"`
	LastMarketUpdate time.Time `json:"lastMarketUpdate"`
	LastJournalWrite time.Time `json:"lastJournalWrite"`
	QueueStatus      string    `json:"queueStatus"`
	MemoryUsedPct    float64   `json:"memoryUsedPct"`
	CPUPct           float64   `json:"cpuPct"`
}

// Monitor computes the healthy signal. Components report faults through
// RecordError and liveness through Beat; Check folds those against the
// freshness sources without side effects.
type Monitor struct {
	cfg     Config
	market  FreshnessSource
	journal JournalSource
	queue   QueueSource
	log     zerolog.Logger
	started time.Time
	now     func() time.Time

	mu      sync.Mutex
	buckets map[int64]int // unix minute to error count
	beats   map[string]time.Time
}

// NewMonitor wires the monitor to its read-only sources.
func NewMonitor(cfg Config, market FreshnessSource, journal JournalSource, queue QueueSource, log zerolog.Logger) *Monitor {
	def := DefaultConfig()
	if cfg.MaxErrorsPerMinute <= 0 {
		cfg.MaxErrorsPerMinute = def.MaxErrorsPerMinute
	}
	if cfg.ErrorWindow <= 0 {
		cfg.ErrorWindow = def.ErrorWindow
	}
	if cfg.MarketDataMaxAge <= 0 {
		cfg.MarketDataMaxAge = def.MarketDataMaxAge
	}
	if cfg.JournalWriteMaxAge <= 0 {
		cfg.JournalWriteMaxAge = def.JournalWriteMaxAge
	}
	if cfg.HeartbeatMaxAge <= 0 {
		cfg.HeartbeatMaxAge = def.HeartbeatMaxAge
	}
	now := time.Now
	return &Monitor{
		cfg:     cfg,
		market:  market,
		journal: journal,
		queue:   queue,
		log:     log.With().Str("component", "health_monitor").Logger(),
		started: now(),
		now:     now,
		buckets: make(map[int64]int),
		beats:   make(map[string]time.Time),
	}
}

// SetClock overrides time for tests.
func (m *Monitor) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	m.started = now()
}

// RecordError counts one fault against the rolling window.
func (m *Monitor) RecordError(component string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	minute := m.now().Unix() / 60
	m.buckets[minute]++
	m.pruneLocked(minute)
	m.log.Debug().Str("source", component).Msg("Fault recorded")
}

// ErrorRate returns the mean errors per minute over the window.
func (m *Monitor) ErrorRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errorRateLocked(m.now().Unix() / 60)
}

// Beat records liveness for a named loop.
func (m *Monitor) Beat(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beats[name] = m.now()
}

// StaleHeartbeats lists loops that have not beaten within the budget. The
// scheduler's health sweep escalates these as heartbeat loss.
func (m *Monitor) StaleHeartbeats() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-m.cfg.HeartbeatMaxAge)
	var stale []string
	for name, at := range m.beats {
		if at.Before(cutoff) {
			stale = append(stale, name)
		}
	}
	sort.Strings(stale)
	return stale
}

// Check evaluates the healthy signal. Read-only and cheap; the only cost is
// a 100ms CPU sample.
func (m *Monitor) Check() Status {
	m.mu.Lock()
	now := m.now()
	rate := m.errorRateLocked(now.Unix() / 60)
	started := m.started
	m.mu.Unlock()

	st := Status{
		UptimeSeconds:    now.Sub(started).Seconds(),
		ErrorsPerMinute:  rate,
		LastMarketUpdate: m.market.LastUpdate(),
		LastJournalWrite: m.journal.LastWriteAt(),
		QueueStatus:      string(m.queue.Status()),
	}
	st.MemoryUsedPct, st.CPUPct = systemStats(m.log)

	if rate >= float64(m.cfg.MaxErrorsPerMinute) {
		st.Reasons = append(st.Reasons, fmt.Sprintf("error rate %.1f/min at or over limit %d/min",
			rate, m.cfg.MaxErrorsPerMinute))
	}
	st.Reasons = append(st.Reasons, staleness("market data", st.LastMarketUpdate, now, m.cfg.MarketDataMaxAge)...)
	st.Reasons = append(st.Reasons, staleness("event log write", st.LastJournalWrite, now, m.cfg.JournalWriteMaxAge)...)
	if st.QueueStatus == string(execution.QueueStalled) {
		st.Reasons = append(st.Reasons, "execution queue stalled")
	}

	st.Healthy = len(st.Reasons) == 0
	return st
}

func (m *Monitor) errorRateLocked(currentMinute int64) float64 {
	m.pruneLocked(currentMinute)
	total := 0
	for _, n := range m.buckets {
		total += n
	}
	minutes := m.cfg.ErrorWindow.Minutes()
	if minutes <= 0 {
		return 0
	}
	return float64(total) / minutes
}

func (m *Monitor) pruneLocked(currentMinute int64) {
	oldest := currentMinute - int64(m.cfg.ErrorWindow.Minutes()) + 1
	for minute := range m.buckets {
		if minute < oldest {
			delete(m.buckets, minute)
		}
	}
}

func staleness(what string, last, now time.Time, maxAge time.Duration) []string {
	if last.IsZero() {
		return []string{fmt.Sprintf("no %s yet", what)}
	}
	if age := now.Sub(last); age > maxAge {
		return []string{fmt.Sprintf("%s is %s old, budget %s", what, age.Round(time.Second), maxAge)}
	}
	return nil
}

// systemStats samples CPU over 100ms and reads memory instantly, in that
// order, degrading to zeros when the platform refuses.
func systemStats(log zerolog.Logger) (memPct, cpuPct float64) {
	cpuPcts, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to sample CPU")
	} else if len(cpuPcts) > 0 {
		cpuPct = cpuPcts[0]
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read memory stats")
		return 0, cpuPct
	}
	return memStat.UsedPercent, cpuPct
}
