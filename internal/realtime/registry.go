package realtime

import (
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// defaultAckTimeout bounds how long Register waits for queue space for each
// handshake acknowledgement.
const defaultAckTimeout = 10 * time.Second

// savedSet is the per-user subscription memory that outlives connections.
type savedSet struct {
	mu         sync.Mutex
	channels   map[string]struct{}
	// releasedAt is guarded by Registry.mu. Zero while a live connection owns the set.
	releasedAt time.Time
}

// RegistryStats is a point-in-time summary of the registry.
type RegistryStats struct {
	Connections int `json:"connections"`
	Users       int `json:"users"`
	SavedSets   int `json:"saved_sets"`
	Channels    int `json:"channels"`
}

// Registry tracks every live connection and the channels each one wants.
// The registry lock guards membership only; subscription sets are guarded
// by each Conn and savedSet, and the channel index by its own lock.
//
// Lock order: mu, savedSet.mu, Conn.mu, subMu.
type Registry struct {
	grace      time.Duration
	now        func() time.Time
	ackTimeout time.Duration

	mu     sync.RWMutex
	conns  map[uuid.UUID]*Conn
	byUser map[uuid.UUID]*Conn
	saved  map[uuid.UUID]*savedSet

	subMu sync.RWMutex
	subs  map[string]map[*Conn]struct{}
}

// NewRegistry creates an empty registry. Saved subscription sets of users
// without a live connection are kept for grace; zero keeps them for the
// lifetime of the process.
func NewRegistry(grace time.Duration) *Registry {
	return &Registry{
		grace:      grace,
		now:        time.Now,
		ackTimeout: defaultAckTimeout,
		conns:      make(map[uuid.UUID]*Conn),
		byUser:     make(map[uuid.UUID]*Conn),
		saved:      make(map[uuid.UUID]*savedSet),
		subs:       make(map[string]map[*Conn]struct{}),
	}
}

// Register adds conn as the live connection of its user. A previous live
// connection for the same user is closed and its channels are unioned into
// the restored set. The new connection receives a connected acknowledgement
// followed by one subscribed acknowledgement per restored channel. Register
// waits for queue space for every acknowledgement, so the write loop must
// already be running; a connection that cannot take them in time is
// unregistered.
func (r *Registry) Register(conn *Conn) {
	user := conn.UserID()

	r.mu.Lock()
	previous := r.byUser[user]
	set, ok := r.saved[user]
	if ok && !set.releasedAt.IsZero() && r.expired(set) {
		ok = false
	}
	if !ok {
		set = &savedSet{channels: make(map[string]struct{})}
		r.saved[user] = set
	}

	set.mu.Lock()
	if previous != nil {
		for _, ch := range previous.Channels() {
			set.channels[ch] = struct{}{}
		}
	}
	set.releasedAt = time.Time{}
	restored := make([]string, 0, len(set.channels))
	for ch := range set.channels {
		restored = append(restored, ch)
	}
	set.mu.Unlock()

	slices.Sort(restored)
	for _, ch := range restored {
		conn.addChannel(ch)
		r.index(conn, ch)
	}

	if previous != nil {
		delete(r.conns, previous.ID())
	}
	r.conns[conn.ID()] = conn
	r.byUser[user] = conn
	r.mu.Unlock()

	if previous != nil {
		log.Info().
			Str("user_id", user.String()).
			Str("conn_id", previous.ID().String()).
			Msg("realtime: replacing connection")
		previous.Close("replaced by a newer connection")
		r.unindex(previous, previous.Channels()...)
	}

	connID := conn.ID()
	if err := r.ack(conn, SystemPayload{Type: SystemConnected, ConnectionID: &connID, UserID: &user}); err != nil {
		r.abandon(conn, err)
		return
	}
	for _, ch := range restored {
		if err := r.ack(conn, SystemPayload{Type: SystemSubscribed, Channel: ch}); err != nil {
			r.abandon(conn, err)
			return
		}
	}

	log.Debug().
		Str("user_id", user.String()).
		Str("conn_id", connID.String()).
		Int("restored", len(restored)).
		Msg("realtime: connection registered")
}

// Unregister removes conn and closes its transport. The user's saved set is
// kept so a reconnect within the grace window restores it.
func (r *Registry) Unregister(conn *Conn) {
	r.mu.Lock()
	delete(r.conns, conn.ID())
	if r.byUser[conn.UserID()] == conn {
		delete(r.byUser, conn.UserID())
		if set, ok := r.saved[conn.UserID()]; ok {
			set.releasedAt = r.now()
		}
	}
	r.mu.Unlock()

	conn.Close("connection closed")
	r.unindex(conn, conn.Channels()...)
}

// Subscribe adds channel to conn. It reports false when the channel was
// already present or conn is no longer registered.
func (r *Registry) Subscribe(conn *Conn, channel string) bool {
	set, ok := r.currentSet(conn)
	if !ok {
		return false
	}
	set.mu.Lock()
	defer set.mu.Unlock()
	added := conn.addChannel(channel)
	set.channels[channel] = struct{}{}
	r.index(conn, channel)
	return added
}

// Unsubscribe removes channel from conn and from the user's saved set.
func (r *Registry) Unsubscribe(conn *Conn, channel string) bool {
	if set, ok := r.currentSet(conn); ok {
		set.mu.Lock()
		defer set.mu.Unlock()
		delete(set.channels, channel)
	}
	removed := conn.removeChannel(channel)
	r.unindex(conn, channel)
	return removed
}

// ConnectionsOn yields every registered connection subscribed to channel.
// No lock is held while yielding. Connections whose transport has already
// closed are unregistered instead of yielded.
func (r *Registry) ConnectionsOn(channel string) iter.Seq[*Conn] {
	return func(yield func(*Conn) bool) {
		r.subMu.RLock()
		conns := make([]*Conn, 0, len(r.subs[channel]))
		for c := range r.subs[channel] {
			conns = append(conns, c)
		}
		r.subMu.RUnlock()

		for _, c := range conns {
			if c.Closed() {
				r.Unregister(c)
				continue
			}
			if !c.IsSubscribed(channel) {
				continue
			}
			if !yield(c) {
				return
			}
		}
	}
}

// Connections returns a snapshot of all registered connections.
func (r *Registry) Connections() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// Lookup returns the registered connection with id.
func (r *Registry) Lookup(id uuid.UUID) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// SavedChannels returns the saved subscription set of user, sorted.
func (r *Registry) SavedChannels(user uuid.UUID) []string {
	r.mu.RLock()
	set, ok := r.saved[user]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	set.mu.Lock()
	out := make([]string, 0, len(set.channels))
	for ch := range set.channels {
		out = append(out, ch)
	}
	set.mu.Unlock()
	slices.Sort(out)
	return out
}

// PruneSaved drops saved sets released longer than the grace window ago.
func (r *Registry) PruneSaved() int {
	if r.grace <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	pruned := 0
	for user, set := range r.saved {
		if _, live := r.byUser[user]; live {
			continue
		}
		if !set.releasedAt.IsZero() && r.expired(set) {
			delete(r.saved, user)
			pruned++
		}
	}
	return pruned
}

func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	stats := RegistryStats{
		Connections: len(r.conns),
		Users:       len(r.byUser),
		SavedSets:   len(r.saved),
	}
	r.mu.RUnlock()
	stats.Channels = r.ChannelCount()
	return stats
}

// CloseAll unregisters every connection. Used on shutdown.
func (r *Registry) CloseAll() {
	for _, c := range r.Connections() {
		r.Unregister(c)
	}
}

// currentSet returns the saved set mirrored by conn, only while conn is the
// live connection of its user.
func (r *Registry) currentSet(conn *Conn) (*savedSet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.byUser[conn.UserID()] != conn {
		return nil, false
	}
	set, ok := r.saved[conn.UserID()]
	return set, ok
}

// expired must be called with r.mu held.
func (r *Registry) expired(set *savedSet) bool {
	return r.grace > 0 && r.now().Sub(set.releasedAt) > r.grace
}

// ChannelCount reports how many channels have at least one subscriber.
func (r *Registry) ChannelCount() int {
	r.subMu.RLock()
	defer r.subMu.RUnlock()
	return len(r.subs)
}

func (r *Registry) index(conn *Conn, channel string) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	conns, ok := r.subs[channel]
	if !ok {
		conns = make(map[*Conn]struct{})
		r.subs[channel] = conns
	}
	conns[conn] = struct{}{}
}

func (r *Registry) unindex(conn *Conn, channels ...string) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, ch := range channels {
		conns, ok := r.subs[ch]
		if !ok {
			continue
		}
		delete(conns, conn)
		if len(conns) == 0 {
			delete(r.subs, ch)
		}
	}
}

func (r *Registry) ack(conn *Conn, p SystemPayload) error {
	return conn.SendWait(encodeSystem(p), r.ackTimeout)
}

func (r *Registry) abandon(conn *Conn, err error) {
	log.Warn().Err(err).
		Str("conn_id", conn.ID().String()).
		Str("user_id", conn.UserID().String()).
		Msg("realtime: handshake acknowledgements not delivered")
	r.Unregister(conn)
}
