package ws

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/boardsync/internal/auth"
	"github.com/gosuda/boardsync/internal/realtime"
)

// StatusUnauthorized is the close code sent when the handshake token is
// missing or rejected.
const StatusUnauthorized websocket.StatusCode = 4001

const (
	defaultReadLimit    = 64 << 10
	defaultSendBuffer   = 256
	defaultWriteTimeout = 10 * time.Second
)

// TokenVerifier turns a bearer token into an identity.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (auth.Identity, error)
}

// Options tunes the endpoint. Zero values select defaults.
type Options struct {
	OriginPatterns []string
	ReadLimit      int64
	SendBuffer     int
	WriteTimeout   time.Duration
}

// Hub accepts realtime WebSocket sessions and binds them to the registry.
type Hub struct {
	verifier TokenVerifier
	registry *realtime.Registry
	control  *realtime.ControlHandler
	opts     Options
}

// NewHub creates a new WebSocket hub.
func NewHub(verifier TokenVerifier, registry *realtime.Registry, control *realtime.ControlHandler, opts Options) *Hub {
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaultReadLimit
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	return &Hub{verifier: verifier, registry: registry, control: control, opts: opts}
}

// ServeRealtime handles one client session. The token comes from the
// "token" query parameter or an Authorization bearer header. Sessions that
// fail authentication are closed with StatusUnauthorized before any
// registry state exists.
func (h *Hub) ServeRealtime(w http.ResponseWriter, r *http.Request) {
	// Sessions outlive the HTTP server's request timeouts.
	ctrl := http.NewResponseController(w)
	_ = ctrl.SetReadDeadline(time.Time{})
	_ = ctrl.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.opts.OriginPatterns,
	})
	if err != nil {
		log.Error().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	identity, err := h.verifier.Verify(ctx, tokenFrom(r))
	if err != nil || !identity.IsUser() {
		log.Debug().Err(err).Str("role", identity.Role).Msg("ws: handshake rejected")
		_ = conn.Close(StatusUnauthorized, "unauthorized")
		return
	}

	conn.SetReadLimit(h.opts.ReadLimit)

	rc := realtime.NewConn(&transport{conn: conn, writeTimeout: h.opts.WriteTimeout}, identity.UserID, h.opts.SendBuffer)
	go rc.WriteLoop(ctx)

	h.registry.Register(rc)
	defer h.registry.Unregister(rc)

	log.Info().
		Str("conn_id", rc.ID().String()).
		Str("user_id", identity.UserID.String()).
		Msg("ws: session opened")

	for {
		_, data, readErr := conn.Read(ctx)
		if readErr != nil {
			if status := websocket.CloseStatus(readErr); status == -1 && ctx.Err() == nil && !rc.Closed() {
				log.Debug().Err(readErr).Str("conn_id", rc.ID().String()).Msg("ws: read")
			}
			break
		}
		h.control.Handle(ctx, rc, data)
	}

	log.Info().
		Str("conn_id", rc.ID().String()).
		Str("user_id", identity.UserID.String()).
		Msg("ws: session closed")
}

func tokenFrom(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return header[7:]
	}
	return ""
}
