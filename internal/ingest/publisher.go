package ingest

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/gosuda/boardsync/internal/realtime"
)

// Bus is the send side of the change bus.
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Publisher is used by producer processes that do not embed the realtime
// server. Unlike the in-process emitter it reports bus errors.
type Publisher struct {
	bus     Bus
	channel string
	codec   Codec
}

func NewPublisher(bus Bus, channel string, codec Codec) *Publisher {
	return &Publisher{bus: bus, channel: channel, codec: codec}
}

// PublishChange sends a row mutation. after and before are marshalled as
// JSON rows of table.
func (p *Publisher) PublishChange(ctx context.Context, kind realtime.EventKind, table string, after, before any, boardHint uuid.UUID) error {
	m, err := NewChangeMessage(kind, table, after, before, boardHint)
	if err != nil {
		return fmt.Errorf("ingest.Publisher.PublishChange: %w", err)
	}
	return p.send(ctx, m)
}

// PublishCustom sends an application-defined event for channel.
func (p *Publisher) PublishCustom(ctx context.Context, channel, eventType string, data any) error {
	m, err := NewCustomMessage(channel, eventType, data)
	if err != nil {
		return fmt.Errorf("ingest.Publisher.PublishCustom: %w", err)
	}
	return p.send(ctx, m)
}

func (p *Publisher) send(ctx context.Context, m Message) error {
	payload, err := p.codec.Marshal(m)
	if err != nil {
		return fmt.Errorf("ingest.Publisher.send: %s: %w", p.codec.Name(), err)
	}
	if err := p.bus.Publish(ctx, p.channel, payload); err != nil {
		return fmt.Errorf("ingest.Publisher.send: %w", err)
	}
	return nil
}
