package events

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Sink receives a copy of every appended event. Implementations must not
// block the appender; drop rather than stall.
type Sink interface {
	Publish(Event)
}

// Config configures a Log.
type Config struct {
	Dir string // directory for JSONL persistence; empty keeps the log in memory only
	Log zerolog.Logger
	Now func() time.Time // defaults to time.Now
}

// Log is the append-only event journal. A single mutex is the serialization
// point that assigns ids, so readers always observe a consistent prefix.
type Log struct {
	mu     sync.Mutex
	events []Event
	nextID int64
	lastTS time.Time

	writer    *jsonlWriter // nil when memory-only
	sinks     []Sink
	now       func() time.Time
	log       zerolog.Logger
	lastWrite atomic.Int64 // unix nano of the last durable write
}

// NewLog opens the journal. With a directory configured, the id sequence
// resumes after the highest id already on disk so restarts never reuse ids.
func NewLog(cfg Config) (*Log, error) {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	l := &Log{
		nextID: 1,
		now:    now,
		log:    cfg.Log.With().Str("component", "event_log").Logger(),
	}

	if cfg.Dir != "" {
		w, err := newJSONLWriter(cfg.Dir, l.log)
		if err != nil {
			return nil, fmt.Errorf("failed to open event log dir: %w", err)
		}
		l.writer = w

		lastID, lastTS, err := lastPersisted(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to scan existing event log: %w", err)
		}
		if lastID > 0 {
			l.nextID = lastID + 1
			l.lastTS = lastTS
			l.log.Info().Int64("resume_from", l.nextID).Msg("Event log resumed from disk")
		}
	}

	return l, nil
}

// AddSink registers a fan-out target for appended events.
func (l *Log) AddSink(s Sink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks = append(l.sinks, s)
}

// Append stamps the event with the next id and a non-decreasing timestamp,
// journals it, and fans it out. Invalid types are stored as RiskCheck records
// so that programmer errors remain visible in the audit trail.
func (l *Log) Append(evt Event) Event {
	l.mu.Lock()

	if !evt.Type.Valid() {
		l.log.Error().Str("event_type", string(evt.Type)).Msg("Unknown event type coerced to RiskCheck")
		evt.Metadata = map[string]interface{}{"originalType": string(evt.Type)}
		evt.Type = RiskCheck
		evt.Reason = "invariant-violated"
	}

	ts := evt.Timestamp
	if ts.IsZero() {
		ts = l.now()
	}
	ts = ts.UTC()
	if ts.Before(l.lastTS) {
		ts = l.lastTS
	}

	evt.ID = l.nextID
	evt.Timestamp = ts
	l.nextID++
	l.lastTS = ts

	l.events = append(l.events, evt)

	if l.writer != nil {
		l.writer.enqueue(evt)
	}
	l.lastWrite.Store(l.now().UnixNano())

	sinks := l.sinks
	l.mu.Unlock()

	for _, s := range sinks {
		s.Publish(evt)
	}

	return evt
}

// Emit is the convenience appender for events without strategy context.
func (l *Log) Emit(t EventType, reason string, meta map[string]interface{}) Event {
	return l.Append(Event{Type: t, Reason: reason, Metadata: meta})
}

// EmitFor is the convenience appender for per-strategy events.
func (l *Log) EmitFor(t EventType, strategyID, accountID, reason string, meta map[string]interface{}) Event {
	return l.Append(Event{
		Type:       t,
		StrategyID: strategyID,
		AccountID:  accountID,
		Reason:     reason,
		Metadata:   meta,
	})
}

// All returns a copy of every event in append order.
func (l *Log) All() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// ForDay returns the events whose UTC date equals day (format 2006-01-02).
func (l *Log) ForDay(day string) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, e := range l.events {
		if e.Day() == day {
			out = append(out, e)
		}
	}
	return out
}

// Filter returns events matching the query, in append order.
func (l *Log) Filter(q Query) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, e := range l.events {
		if !q.Matches(e) {
			continue
		}
		out = append(out, e)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out
}

// Len returns the number of events appended so far.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// Flush forces buffered events to disk. The snapshot generator calls this
// before a day is sealed so the journal is durable first.
func (l *Log) Flush() error {
	if l.writer == nil {
		return nil
	}
	return l.writer.flush()
}

// LastWriteAt reports when the journal last accepted a write, for health.
func (l *Log) LastWriteAt() time.Time {
	n := l.lastWrite.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Close flushes and releases the on-disk writer.
func (l *Log) Close() error {
	if l.writer == nil {
		return nil
	}
	return l.writer.close()
}
