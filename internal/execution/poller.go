package execution

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/wardenlabs/warden/internal/domain"
)

// SignalSource produces trade intents. Poll drains whatever the source has
// accumulated since the last call; it must not block beyond the context.
type SignalSource interface {
	Name() string
	Poll(ctx context.Context) ([]domain.TradeIntent, error)
}

// Poller drains the registered signal sources on an interval and feeds the
// queue. Sources that error are skipped for the cycle, never retried
// in-cycle.
type Poller struct {
	queue    *Queue
	sources  []SignalSource
	interval time.Duration
	log      zerolog.Logger

	stop    chan struct{}
	stopped chan struct{}
}

// NewPoller wires the sources to the queue.
func NewPoller(queue *Queue, sources []SignalSource, interval time.Duration, log zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	return &Poller{
		queue:    queue,
		sources:  sources,
		interval: interval,
		log:      log.With().Str("component", "signal_poller").Logger(),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Run blocks until Stop, draining sources each tick.
func (p *Poller) Run() {
	defer close(p.stopped)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.drain()
		}
	}
}

// Stop halts the loop and waits for the current cycle to finish.
func (p *Poller) Stop() {
	close(p.stop)
	<-p.stopped
}

func (p *Poller) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), p.interval)
	defer cancel()

	for _, source := range p.sources {
		intents, err := source.Poll(ctx)
		if err != nil {
			p.log.Warn().Err(err).Str("source", source.Name()).Msg("Signal source poll failed")
			continue
		}
		for _, intent := range intents {
			if err := p.queue.Submit(intent); err != nil {
				p.log.Warn().
					Err(err).
					Str("source", source.Name()).
					Str("intentId", intent.ID).
					Msg("Intent rejected at intake")
			}
		}
	}
}
