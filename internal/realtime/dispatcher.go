package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/gosuda/boardsync/internal/domain"
)

const (
	defaultDispatchConcurrency = 64
	defaultAccessCheckTimeout  = 5 * time.Second
)

// Dispatcher resolves channels for an event and pushes it to every
// subscribed connection whose user may still observe the board.
type Dispatcher struct {
	router       *Router
	registry     *Registry
	policy       domain.AccessPolicy
	concurrency  int
	checkTimeout time.Duration
}

// NewDispatcher creates a Dispatcher. concurrency bounds the number of
// connections whose access checks are in flight at once; values below 1 use
// a default.
func NewDispatcher(router *Router, registry *Registry, policy domain.AccessPolicy, concurrency int) *Dispatcher {
	if concurrency < 1 {
		concurrency = defaultDispatchConcurrency
	}
	return &Dispatcher{
		router:       router,
		registry:     registry,
		policy:       policy,
		concurrency:  concurrency,
		checkTimeout: defaultAccessCheckTimeout,
	}
}

// target is one encoded message for one channel of a dispatch pass.
type target struct {
	channel string
	msg     []byte
	board   uuid.UUID
	gated   bool
}

// delivery is everything one connection receives in a pass, in channel order.
type delivery struct {
	conn    *Conn
	targets []target
}

func (dl *delivery) gated() bool {
	for _, t := range dl.targets {
		if t.gated {
			return true
		}
	}
	return false
}

// Dispatch delivers ev and returns the number of (connection, channel)
// deliveries that were enqueued. It never fails; every problem degrades to
// skipping one connection or one channel.
func (d *Dispatcher) Dispatch(ctx context.Context, ev ChangeEvent) int {
	channels := d.router.Resolve(ctx, ev)
	if len(channels) == 0 {
		log.Debug().
			Str("entity", string(ev.Entity)).
			Str("kind", string(ev.Kind)).
			Msg("realtime: event resolved to no channels")
		return 0
	}

	// Membership changes bypass the oracle: its answer may not yet reflect
	// the grant or revoke this very event announces.
	skipCheck := ev.IsMembershipChange()
	d.invalidate(ev)

	targets := make([]target, 0, len(channels))
	for _, ch := range channels {
		msg, err := encodeChange(ev, ch)
		if err != nil {
			log.Error().Err(err).Str("channel", ch).Msg("realtime: encode change")
			continue
		}
		targets = append(targets, d.target(ch, msg, skipCheck))
	}
	return d.deliver(ctx, targets)
}

// invalidate drops cached access answers made stale by a membership change.
func (d *Dispatcher) invalidate(ev ChangeEvent) {
	inv, ok := d.policy.(domain.AccessInvalidator)
	if !ok {
		return
	}
	for _, rec := range ev.snapshots() {
		switch r := rec.(type) {
		case BoardMemberRecord:
			inv.Invalidate(r.UserID, r.BoardID)
		case WorkspaceMemberRecord:
			inv.InvalidateUser(r.UserID)
		}
	}
}

// DispatchCustom delivers an application-defined event on one channel.
func (d *Dispatcher) DispatchCustom(ctx context.Context, channel, eventType string, data any) int {
	if err := ValidateChannel(channel); err != nil {
		log.Warn().Err(err).Str("type", eventType).Msg("realtime: custom event on invalid channel")
		return 0
	}
	msg, err := encodeCustom(channel, eventType, data)
	if err != nil {
		log.Error().Err(err).Str("channel", channel).Msg("realtime: encode custom event")
		return 0
	}
	return d.deliver(ctx, []target{d.target(channel, msg, false)})
}

func (d *Dispatcher) target(channel string, msg []byte, skipCheck bool) target {
	boardID, gated := BoardIDFromChannel(channel)
	return target{
		channel: channel,
		msg:     msg,
		board:   boardID,
		gated:   gated && !skipCheck && d.policy != nil,
	}
}

// deliver groups the pass by connection. Connections without a gated
// channel are served inline; the others run concurrently, each pushing its
// messages as soon as its own check returns.
func (d *Dispatcher) deliver(ctx context.Context, targets []target) int {
	byConn := make(map[*Conn]*delivery)
	var order []*delivery
	for _, t := range targets {
		for conn := range d.registry.ConnectionsOn(t.channel) {
			dl, ok := byConn[conn]
			if !ok {
				dl = &delivery{conn: conn}
				byConn[conn] = dl
				order = append(order, dl)
			}
			dl.targets = append(dl.targets, t)
		}
	}

	var (
		delivered atomic.Int64
		pending   []*delivery
		memo      = &accessMemo{}
	)
	for _, dl := range order {
		if dl.gated() {
			pending = append(pending, dl)
			continue
		}
		delivered.Add(int64(d.serve(ctx, dl, memo)))
	}

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for _, dl := range pending {
		g.Go(func() error {
			delivered.Add(int64(d.serve(ctx, dl, memo)))
			return nil
		})
	}
	_ = g.Wait()

	return int(delivered.Load())
}

// serve pushes the targets of one connection in order. A denied board
// unsubscribes the connection from that channel; a failed check skips it.
func (d *Dispatcher) serve(ctx context.Context, dl *delivery, memo *accessMemo) int {
	conn := dl.conn
	n := 0
	for _, t := range dl.targets {
		if t.gated {
			allowed, err := memo.check(ctx, d.policy, d.checkTimeout, conn.UserID(), t.board)
			if err != nil {
				log.Warn().Err(err).
					Str("user_id", conn.UserID().String()).
					Str("channel", t.channel).
					Msg("realtime: access check failed, skipping delivery")
				continue
			}
			if !allowed {
				d.registry.Unsubscribe(conn, t.channel)
				log.Debug().
					Str("user_id", conn.UserID().String()).
					Str("conn_id", conn.ID().String()).
					Str("channel", t.channel).
					Msg("realtime: access revoked, unsubscribed")
				continue
			}
		}
		if !d.push(conn, t.channel, t.msg) {
			return n
		}
		n++
	}
	return n
}

// push enqueues msg on conn. A closed connection is unregistered; a
// connection whose queue is full is evicted so the client resynchronises on
// reconnect instead of silently missing events.
func (d *Dispatcher) push(conn *Conn, channel string, msg []byte) bool {
	err := conn.Send(msg)
	if err == nil {
		return true
	}

	logger := log.With().
		Str("conn_id", conn.ID().String()).
		Str("user_id", conn.UserID().String()).
		Str("channel", channel).
		Logger()
	switch {
	case errors.Is(err, ErrSendQueueFull):
		logger.Warn().Msg("realtime: slow consumer evicted")
	default:
		logger.Debug().Err(err).Msg("realtime: delivery to closed connection")
	}
	d.registry.Unregister(conn)
	return false
}

type accessKey struct {
	user, board uuid.UUID
}

type accessResult struct {
	once    sync.Once
	allowed bool
	err     error
}

// accessMemo deduplicates oracle calls for the same (user, board) within one
// dispatch pass, e.g. board:X and board-X-cards for the same connection.
type accessMemo struct {
	mu      sync.Mutex
	results map[accessKey]*accessResult
}

func (m *accessMemo) check(ctx context.Context, policy domain.AccessPolicy, timeout time.Duration, user, board uuid.UUID) (bool, error) {
	key := accessKey{user: user, board: board}

	m.mu.Lock()
	if m.results == nil {
		m.results = make(map[accessKey]*accessResult)
	}
	res, ok := m.results[key]
	if !ok {
		res = &accessResult{}
		m.results[key] = res
	}
	m.mu.Unlock()

	res.once.Do(func() {
		checkCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		res.allowed, res.err = policy.CanViewBoard(checkCtx, user, board)
	})
	return res.allowed, res.err
}
