package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Publisher mirrors appended events onto a NATS bus so external consumers
// (dashboards, recorders) can follow the audit trail live. Publishing is
// best-effort: a broken bus never blocks or fails the appender.
type Publisher struct {
	conn   *nats.Conn
	prefix string
	log    zerolog.Logger
}

// NewPublisher connects to the bus. The connection reconnects forever in the
// background; events published while disconnected are dropped.
func NewPublisher(url, prefix string, log zerolog.Logger) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("warden"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	return &Publisher{
		conn:   conn,
		prefix: prefix,
		log:    log.With().Str("component", "event_publisher").Logger(),
	}, nil
}

// Publish implements Sink.
func (p *Publisher) Publish(evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		p.log.Error().Err(err).Int64("event_id", evt.ID).Msg("Failed to encode event for bus")
		return
	}

	subject := fmt.Sprintf("%s.events.%s", p.prefix, evt.Type)
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Debug().Err(err).Str("subject", subject).Msg("Dropped event publish")
	}
}

// PublishAlert forwards a critical alert payload to the alerts subject.
func (p *Publisher) PublishAlert(payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.log.Error().Err(err).Msg("Failed to encode alert for bus")
		return
	}

	subject := p.prefix + ".alerts"
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Debug().Err(err).Str("subject", subject).Msg("Dropped alert publish")
	}
}

// Close drains and closes the bus connection.
func (p *Publisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.log.Debug().Err(err).Msg("NATS drain failed")
	}
	p.conn.Close()
}
