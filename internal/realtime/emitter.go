package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/boardsync/internal/domain"
)

type emission struct {
	change *ChangeEvent

	channel   string
	eventType string
	data      any
}

// Emitter is the producer-side API used by the CRUD layer. Calls never block
// and never fail: events are queued FIFO and dispatched by a single worker,
// which preserves per-sender order.
type Emitter struct {
	dispatcher *Dispatcher
	queue      chan emission

	mu     sync.RWMutex
	closed bool
}

// NewEmitter creates an Emitter buffering up to queueSize pending events.
func NewEmitter(dispatcher *Dispatcher, queueSize int) *Emitter {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Emitter{
		dispatcher: dispatcher,
		queue:      make(chan emission, queueSize),
	}
}

// EmitChange queues a row mutation of entity for broadcast. Invalid snapshot
// combinations, and snapshots of another entity, are logged and dropped.
func (e *Emitter) EmitChange(entity EntityType, kind EventKind, after, before Record, boardHint uuid.UUID) {
	ev, err := NewChangeEvent(kind, after, before, boardHint)
	if err == nil && ev.Entity != entity {
		err = fmt.Errorf("snapshots are %s, not %s: %w", ev.Entity, entity, domain.ErrInvalidEvent)
	}
	if err != nil {
		log.Warn().Err(err).
			Str("entity", string(entity)).
			Str("kind", string(kind)).
			Msg("realtime: dropping invalid change")
		return
	}
	e.enqueue(emission{change: &ev})
}

// EmitEvent queues an already validated change event.
func (e *Emitter) EmitEvent(ev ChangeEvent) {
	e.enqueue(emission{change: &ev})
}

// EmitCustom queues an application-defined event for one channel.
func (e *Emitter) EmitCustom(channel, eventType string, data any) {
	e.enqueue(emission{channel: channel, eventType: eventType, data: data})
}

func (e *Emitter) enqueue(em emission) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		log.Debug().Msg("realtime: emitter closed, dropping event")
		return
	}
	select {
	case e.queue <- em:
	default:
		log.Warn().Int("capacity", cap(e.queue)).Msg("realtime: emit queue full, dropping event")
	}
}

// Run dispatches queued events until ctx ends or Close drains the queue.
func (e *Emitter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case em, ok := <-e.queue:
			if !ok {
				return
			}
			e.dispatch(ctx, em)
		}
	}
}

func (e *Emitter) dispatch(ctx context.Context, em emission) {
	if em.change != nil {
		n := e.dispatcher.Dispatch(ctx, *em.change)
		log.Debug().
			Str("entity", string(em.change.Entity)).
			Str("kind", string(em.change.Kind)).
			Int("deliveries", n).
			Msg("realtime: change dispatched")
		return
	}
	n := e.dispatcher.DispatchCustom(ctx, em.channel, em.eventType, em.data)
	log.Debug().
		Str("channel", em.channel).
		Str("type", em.eventType).
		Int("deliveries", n).
		Msg("realtime: custom event dispatched")
}

// Close stops accepting events. Run returns once the remaining queue is drained.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	close(e.queue)
}
