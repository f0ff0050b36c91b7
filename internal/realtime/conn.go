package realtime

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Transport is the bidirectional session underneath a Conn. The WebSocket
// adapter in internal/api/ws implements it; tests use an in-memory fake.
type Transport interface {
	Write(ctx context.Context, msg []byte) error
	// Ping blocks until the peer answers or ctx ends.
	Ping(ctx context.Context) error
	Close(reason string) error
}

// ErrConnClosed is returned when sending on a connection that has been closed.
var ErrConnClosed = errors.New("realtime: connection closed")

// ErrSendQueueFull is returned when a connection's outbound queue cannot
// accept another message without blocking.
var ErrSendQueueFull = errors.New("realtime: send queue full")

// Conn is one authenticated live session. The subscription set is guarded by
// its own mutex so subscribe, unsubscribe and dispatch never contend on a
// registry-wide lock.
type Conn struct {
	id        uuid.UUID
	userID    uuid.UUID
	transport Transport

	mu       sync.RWMutex
	channels map[string]struct{}

	alive atomic.Bool

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewConn wraps transport for userID with an outbound queue of queueSize messages.
func NewConn(transport Transport, userID uuid.UUID, queueSize int) *Conn {
	if queueSize < 1 {
		queueSize = 1
	}
	c := &Conn{
		id:        uuid.New(),
		userID:    userID,
		transport: transport,
		channels:  make(map[string]struct{}),
		send:      make(chan []byte, queueSize),
		done:      make(chan struct{}),
	}
	c.alive.Store(true)
	return c
}

func (c *Conn) ID() uuid.UUID     { return c.id }
func (c *Conn) UserID() uuid.UUID { return c.userID }

// Done is closed once the connection has been closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// IsSubscribed reports whether the connection currently wants channel.
func (c *Conn) IsSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.channels[channel]
	return ok
}

// Channels returns a sorted snapshot of the subscription set.
func (c *Conn) Channels() []string {
	c.mu.RLock()
	out := make([]string, 0, len(c.channels))
	for ch := range c.channels {
		out = append(out, ch)
	}
	c.mu.RUnlock()
	slices.Sort(out)
	return out
}

func (c *Conn) addChannel(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.channels[channel]; ok {
		return false
	}
	c.channels[channel] = struct{}{}
	return true
}

func (c *Conn) removeChannel(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.channels[channel]; !ok {
		return false
	}
	delete(c.channels, channel)
	return true
}

// MarkAlive clears the not-alive mark set by the liveness monitor.
func (c *Conn) MarkAlive() { c.alive.Store(true) }

// markSuspect sets the not-alive mark and reports the previous state.
func (c *Conn) markSuspect() (wasAlive bool) { return c.alive.Swap(false) }

// Send enqueues msg for delivery without blocking.
func (c *Conn) Send(msg []byte) error {
	if c.Closed() {
		return ErrConnClosed
	}
	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		return ErrSendQueueFull
	}
}

// SendWait enqueues msg, waiting up to timeout for queue space. It reports
// ErrSendQueueFull when the queue stays full.
func (c *Conn) SendWait(msg []byte, timeout time.Duration) error {
	if c.Closed() {
		return ErrConnClosed
	}
	select {
	case c.send <- msg:
		return nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return ErrConnClosed
	case <-timer.C:
		return ErrSendQueueFull
	}
}

// WriteLoop drains the outbound queue onto the transport until the
// connection is closed or ctx ends. It is the only writer of the transport,
// which keeps per-connection delivery order.
func (c *Conn) WriteLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.transport.Write(ctx, msg); err != nil {
				log.Debug().Err(err).Str("conn_id", c.id.String()).Msg("realtime: transport write")
				c.Close("write failed")
				return
			}
		}
	}
}

// Ping sends a transport-level ping and marks the connection alive on pong.
func (c *Conn) Ping(ctx context.Context) error {
	if err := c.transport.Ping(ctx); err != nil {
		return err
	}
	c.MarkAlive()
	return nil
}

// Close releases the transport. It is safe to call more than once.
func (c *Conn) Close(reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		if err := c.transport.Close(reason); err != nil {
			log.Debug().Err(err).Str("conn_id", c.id.String()).Msg("realtime: transport close")
		}
	})
}
