package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wardenlabs/warden/internal/domain"
	"github.com/wardenlabs/warden/internal/events"
)

// QueueStatus summarizes the intake pipeline for the health monitor.
type QueueStatus string

const (
	QueueIdle       QueueStatus = "idle"
	QueueProcessing QueueStatus = "processing"
	QueueStalled    QueueStatus = "stalled"
)

// QueueConfig sizes the worker pool and the per-strategy buffers.
type QueueConfig struct {
	Workers        int
	Depth          int
	StallThreshold time.Duration
}

// Queue serializes intents per strategy while letting distinct strategies
// execute concurrently. Each strategy owns a lane; a shared worker pool
// multiplexes over lanes, and a lane is held by at most one worker at a
// time.
type Queue struct {
	manager *Manager
	journal *events.Log
	cfg     QueueConfig
	log     zerolog.Logger

	mu           sync.Mutex
	lanes        map[string]chan domain.TradeIntent
	active       map[string]time.Time // strategies currently held by a worker
	pending      int
	lastActivity time.Time

	dispatch chan string
	stop     chan struct{}
	wg       sync.WaitGroup
	now      func() time.Time
}

// NewQueue builds the intake queue in front of the manager.
func NewQueue(manager *Manager, journal *events.Log, cfg QueueConfig, log zerolog.Logger) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Depth <= 0 {
		cfg.Depth = 256
	}
	if cfg.StallThreshold <= 0 {
		cfg.StallThreshold = 30 * time.Second
	}
	return &Queue{
		manager:  manager,
		journal:  journal,
		cfg:      cfg,
		log:      log.With().Str("component", "intent_queue").Logger(),
		lanes:    make(map[string]chan domain.TradeIntent),
		active:   make(map[string]time.Time),
		dispatch: make(chan string, 1024),
		stop:     make(chan struct{}),
		now:      time.Now,
	}
}

// SetClock overrides the stall clock, for tests.
func (q *Queue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

// Start launches the worker pool and the backlog sweeper.
func (q *Queue) Start() {
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.wg.Add(1)
	go q.sweeper()
	q.log.Info().Int("workers", q.cfg.Workers).Msg("Intent queue started")
}

// Stop drains the workers. Queued intents that never started are dropped.
func (q *Queue) Stop() {
	close(q.stop)
	q.wg.Wait()
	q.log.Info().Msg("Intent queue stopped")
}

// Submit accepts an intent into the pipeline and journals SignalGenerated.
// A full lane rejects the intent instead of blocking the producer.
func (q *Queue) Submit(intent domain.TradeIntent) error {
	q.mu.Lock()
	lane, ok := q.lanes[intent.StrategyID]
	if !ok {
		lane = make(chan domain.TradeIntent, q.cfg.Depth)
		q.lanes[intent.StrategyID] = lane
	}

	select {
	case lane <- intent:
		q.pending++
		q.lastActivity = q.now()
	default:
		q.mu.Unlock()
		return fmt.Errorf("intent lane full for strategy %s", intent.StrategyID)
	}
	q.mu.Unlock()

	q.journal.Append(events.Event{
		Type:       events.SignalGenerated,
		StrategyID: intent.StrategyID,
		AccountID:  intent.StrategyID,
		Reason:     "signal accepted",
		Metadata: map[string]interface{}{
			"intentId": intent.ID,
			"symbol":   intent.Symbol,
			"side":     string(intent.Side),
			"estValue": intent.EstimatedValue.InexactFloat64(),
		},
	})

	q.wake(intent.StrategyID)
	return nil
}

// Pending reports queued intents not yet picked up.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// Status reports idle, processing, or stalled. A stall is an execution
// holding a lane past the threshold, or a backlog nothing has touched for
// that long.
func (q *Queue) Status() QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	for _, since := range q.active {
		if now.Sub(since) > q.cfg.StallThreshold {
			return QueueStalled
		}
	}
	if len(q.active) > 0 {
		return QueueProcessing
	}
	if q.pending > 0 {
		if now.Sub(q.lastActivity) > q.cfg.StallThreshold {
			return QueueStalled
		}
		return QueueProcessing
	}
	return QueueIdle
}

func (q *Queue) wake(strategyID string) {
	select {
	case q.dispatch <- strategyID:
	default:
		// Dropped wakes are fine; the sweeper re-wakes non-empty lanes.
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.stop:
			return
		case strategyID := <-q.dispatch:
			q.drainLane(strategyID)
		}
	}
}

// sweeper re-wakes lanes whose wake was dropped under dispatch pressure.
func (q *Queue) sweeper() {
	defer q.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			q.mu.Lock()
			var backlog []string
			for id, lane := range q.lanes {
				if _, held := q.active[id]; !held && len(lane) > 0 {
					backlog = append(backlog, id)
				}
			}
			q.mu.Unlock()
			for _, id := range backlog {
				q.wake(id)
			}
		}
	}
}

// drainLane claims a lane and executes exactly one intent, then reschedules
// the lane if work remains. Claiming keeps per-strategy ordering strict even
// with many workers.
func (q *Queue) drainLane(strategyID string) {
	q.mu.Lock()
	if _, held := q.active[strategyID]; held {
		q.mu.Unlock()
		return
	}
	lane := q.lanes[strategyID]
	if lane == nil {
		q.mu.Unlock()
		return
	}

	var intent domain.TradeIntent
	select {
	case intent = <-lane:
	default:
		q.mu.Unlock()
		return
	}
	q.pending--
	q.active[strategyID] = q.now()
	q.mu.Unlock()

	q.manager.Execute(context.Background(), intent)

	q.mu.Lock()
	delete(q.active, strategyID)
	q.lastActivity = q.now()
	more := len(lane) > 0
	q.mu.Unlock()

	if more {
		q.wake(strategyID)
	}
}
