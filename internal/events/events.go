// Package events publishes account lifecycle events for downstream
// consumers. Publishing is best effort: a broker failure is logged and
// never propagated to the request that triggered it.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/peerhub/apiserver/internal/mq"
)

const (
	UserRegistered = "user.registered"
	UserRenamed    = "user.renamed"
	UserRated      = "user.rated"

	publishTimeout = 5 * time.Second
)

// Event is the envelope written to the broker.
type Event struct {
	Type       string         `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload"`
}

// Publisher emits account events to a broker channel.
type Publisher struct {
	backend mq.Publisher
	channel string
	log     *slog.Logger
}

// NewPublisher constructs a Publisher over the given broker backend.
func NewPublisher(backend mq.Publisher, channel string, log *slog.Logger) *Publisher {
	if backend == nil {
		backend = mq.NopPublisher{}
	}
	return &Publisher{backend: backend, channel: channel, log: log}
}

// Emit publishes one event. The caller's context bounds the attempt but a
// cancelled request does not abandon an event already being sent.
func (p *Publisher) Emit(ctx context.Context, eventType string, payload map[string]any) {
	event := Event{
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Error("marshal event", "type", eventType, "err", err)
		return
	}

	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if _, err := p.backend.Publish(publishCtx, p.channel, data, map[string]string{"type": eventType}); err != nil {
		p.log.Error("publish event", "type", eventType, "err", err)
	}
}

// Close closes the underlying broker backend.
func (p *Publisher) Close() error {
	return p.backend.Close()
}
