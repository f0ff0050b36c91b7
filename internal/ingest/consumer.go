package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/boardsync/internal/realtime"
)

// Subscriber is the receive side of the change bus.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}

// Sink accepts decoded events. *realtime.Emitter satisfies it.
type Sink interface {
	EmitEvent(ev realtime.ChangeEvent)
	EmitCustom(channel, eventType string, data any)
}

const (
	minBackoff = 500 * time.Millisecond
	maxBackoff = 30 * time.Second
)

// Consumer feeds bus messages into a Sink.
type Consumer struct {
	sub     Subscriber
	channel string
	codec   Codec
	sink    Sink
}

func NewConsumer(sub Subscriber, channel string, codec Codec, sink Sink) *Consumer {
	return &Consumer{sub: sub, channel: channel, codec: codec, sink: sink}
}

// Run consumes until ctx ends, resubscribing with backoff when the bus
// drops the subscription.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := minBackoff

	for {
		msgs, cleanup, err := c.sub.Subscribe(ctx, c.channel)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Err(err).
				Str("channel", c.channel).
				Dur("retry_in", backoff).
				Msg("ingest: subscribe failed")
		} else {
			log.Info().Str("channel", c.channel).Str("codec", c.codec.Name()).Msg("ingest: consuming changes")
			backoff = minBackoff
			c.consume(ctx, msgs)
			cleanup()
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Str("channel", c.channel).Msg("ingest: subscription closed, resubscribing")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (c *Consumer) consume(ctx context.Context, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-msgs:
			if !ok {
				return
			}
			if err := c.Handle(raw); err != nil {
				log.Warn().Err(err).Int("bytes", len(raw)).Msg("ingest: dropping message")
			}
		}
	}
}

// Handle decodes one payload and forwards it to the sink.
func (c *Consumer) Handle(raw []byte) error {
	m, err := Decode(c.codec, raw)
	if err != nil {
		return fmt.Errorf("ingest.Consumer.Handle: %w", err)
	}

	switch m.Kind {
	case KindChange:
		ev, err := m.ChangeEvent()
		if err != nil {
			return fmt.Errorf("ingest.Consumer.Handle: %w", err)
		}
		c.sink.EmitEvent(ev)
	case KindCustom:
		var data any
		if len(m.Data) > 0 {
			data = m.Data
		}
		c.sink.EmitCustom(m.Channel, m.Type, data)
	}
	return nil
}
