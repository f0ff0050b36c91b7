package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/boardsync/internal/domain"
)

// ---------------------------------------------------------------------------
// Fake transport
// ---------------------------------------------------------------------------

type fakeTransport struct {
	mu          sync.Mutex
	msgs        [][]byte
	closed      bool
	closeReason string
	pingErr     error
	pings       atomic.Int32
}

func (f *fakeTransport) Write(_ context.Context, msg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("fake transport: closed")
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeTransport) Ping(_ context.Context) error {
	f.pings.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeTransport) Close(reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closeReason = reason
	return nil
}

func (f *fakeTransport) setPingErr(err error) {
	f.mu.Lock()
	f.pingErr = err
	f.mu.Unlock()
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// wireMsg mirrors Envelope with a raw payload for assertions.
type wireMsg struct {
	Event   string          `json:"event"`
	Table   string          `json:"table"`
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

func (f *fakeTransport) decoded(t *testing.T) []wireMsg {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]wireMsg, 0, len(f.msgs))
	for _, m := range f.msgs {
		var w wireMsg
		require.NoError(t, json.Unmarshal(m, &w))
		out = append(out, w)
	}
	return out
}

// events returns every non-system message.
func (f *fakeTransport) events(t *testing.T) []wireMsg {
	t.Helper()
	var out []wireMsg
	for _, m := range f.decoded(t) {
		if m.Channel != SystemChannel {
			out = append(out, m)
		}
	}
	return out
}

// system returns the payloads of every system acknowledgement.
func (f *fakeTransport) system(t *testing.T) []SystemPayload {
	t.Helper()
	var out []SystemPayload
	for _, m := range f.decoded(t) {
		if m.Channel != SystemChannel {
			continue
		}
		var p SystemPayload
		require.NoError(t, json.Unmarshal(m.Payload, &p))
		out = append(out, p)
	}
	return out
}

func (f *fakeTransport) systemOfType(t *testing.T, typ string) []SystemPayload {
	t.Helper()
	var out []SystemPayload
	for _, p := range f.system(t) {
		if p.Type == typ {
			out = append(out, p)
		}
	}
	return out
}

// newTestConn builds a connection whose write loop runs until the test ends.
func newTestConn(t *testing.T, userID uuid.UUID) (*Conn, *fakeTransport) {
	t.Helper()
	return newTestConnSize(t, userID, 64)
}

func newTestConnSize(t *testing.T, userID uuid.UUID, queueSize int) (*Conn, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{}
	conn := NewConn(tr, userID, queueSize)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go conn.WriteLoop(ctx)

	return conn, tr
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	assert.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

// ---------------------------------------------------------------------------
// Fake ParentLookup
// ---------------------------------------------------------------------------

type fakeLookup struct {
	mu         sync.Mutex
	columns    map[uuid.UUID]uuid.UUID
	cards      map[uuid.UUID]uuid.UUID
	workspaces map[uuid.UUID]uuid.UUID
	err        error
	calls      atomic.Int32
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{
		columns:    make(map[uuid.UUID]uuid.UUID),
		cards:      make(map[uuid.UUID]uuid.UUID),
		workspaces: make(map[uuid.UUID]uuid.UUID),
	}
}

func (f *fakeLookup) find(m map[uuid.UUID]uuid.UUID, id uuid.UUID) (uuid.UUID, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return uuid.Nil, f.err
	}
	parent, ok := m[id]
	if !ok {
		return uuid.Nil, domain.ErrNotFound
	}
	return parent, nil
}

func (f *fakeLookup) ColumnBoard(_ context.Context, columnID uuid.UUID) (uuid.UUID, error) {
	return f.find(f.columns, columnID)
}

func (f *fakeLookup) CardBoard(_ context.Context, cardID uuid.UUID) (uuid.UUID, error) {
	return f.find(f.cards, cardID)
}

func (f *fakeLookup) BoardWorkspace(_ context.Context, boardID uuid.UUID) (uuid.UUID, error) {
	return f.find(f.workspaces, boardID)
}

// ---------------------------------------------------------------------------
// Fake AccessPolicy
// ---------------------------------------------------------------------------

type fakePolicy struct {
	mu    sync.Mutex
	allow map[accessKey]bool
	err   error
	calls map[accessKey]int
}

func newFakePolicy() *fakePolicy {
	return &fakePolicy{
		allow: make(map[accessKey]bool),
		calls: make(map[accessKey]int),
	}
}

func (f *fakePolicy) set(user, board uuid.UUID, allowed bool) {
	f.mu.Lock()
	f.allow[accessKey{user: user, board: board}] = allowed
	f.mu.Unlock()
}

func (f *fakePolicy) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakePolicy) callCount(user, board uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[accessKey{user: user, board: board}]
}

func (f *fakePolicy) CanViewBoard(_ context.Context, user, board uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := accessKey{user: user, board: board}
	f.calls[key]++
	if f.err != nil {
		return false, f.err
	}
	return f.allow[key], nil
}
