package validation

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/wardenlabs/warden/internal/domain"
)

// runtimeState is the serialized day ledger. Days are stored sorted so the
// file is deterministic for identical histories.
type runtimeState struct {
	Days []string `msgpack:"days"`
}

// RuntimeTracker counts the distinct UTC dates on which at least one
// validation execution happened. Real executions do not count; they are the
// thing being earned. State persists to a msgpack file on every new day and
// on Flush, so the count survives restarts and replays deterministically.
type RuntimeTracker struct {
	mu   sync.Mutex
	days map[string]struct{}
	path string // empty keeps state in memory only
	log  zerolog.Logger
}

// NewRuntimeTracker builds a tracker, loading prior state when the file
// exists.
func NewRuntimeTracker(path string, log zerolog.Logger) (*RuntimeTracker, error) {
	t := &RuntimeTracker{
		days: make(map[string]struct{}),
		path: path,
		log:  log.With().Str("component", "runtime_tracker").Logger(),
	}
	if path == "" {
		return t, nil
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read runtime state: %w", err)
	}
	var state runtimeState
	if err := msgpack.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("failed to decode runtime state: %w", err)
	}
	for _, day := range state.Days {
		t.days[day] = struct{}{}
	}
	t.log.Info().Int("activeDays", len(t.days)).Msg("Restored runtime state")
	return t, nil
}

// RecordExecution implements the execution manager's recorder contract.
// Only validation execution types advance the ledger.
func (t *RuntimeTracker) RecordExecution(execType domain.ExecutionType, at time.Time) {
	if !execType.CountsAsValidation() {
		return
	}
	day := at.UTC().Format("2006-01-02")

	t.mu.Lock()
	if _, seen := t.days[day]; seen {
		t.mu.Unlock()
		return
	}
	t.days[day] = struct{}{}
	t.mu.Unlock()

	if err := t.Flush(); err != nil {
		t.log.Warn().Err(err).Msg("Failed to persist runtime state")
	}
}

// ActiveTradingDays returns the number of distinct validation days.
func (t *RuntimeTracker) ActiveTradingDays() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.days)
}

// StartDate returns the earliest validation day, "" before any activity.
func (t *RuntimeTracker) StartDate() string {
	days := t.sortedDays()
	if len(days) == 0 {
		return ""
	}
	return days[0]
}

// LastActiveDate returns the most recent validation day, "" before any
// activity.
func (t *RuntimeTracker) LastActiveDate() string {
	days := t.sortedDays()
	if len(days) == 0 {
		return ""
	}
	return days[len(days)-1]
}

// Flush writes the state file via a temp file rename. No-op without a path.
func (t *RuntimeTracker) Flush() error {
	if t.path == "" {
		return nil
	}
	raw, err := msgpack.Marshal(runtimeState{Days: t.sortedDays()})
	if err != nil {
		return fmt.Errorf("failed to encode runtime state: %w", err)
	}
	tmp := t.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("failed to create runtime state directory: %w", err)
	}
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write runtime state: %w", err)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		return fmt.Errorf("failed to replace runtime state: %w", err)
	}
	return nil
}

func (t *RuntimeTracker) sortedDays() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	days := make([]string, 0, len(t.days))
	for day := range t.days {
		days = append(days, day)
	}
	sort.Strings(days)
	return days
}
