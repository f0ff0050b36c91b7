package ws

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/websocket"
)

// transport adapts a websocket.Conn to realtime.Transport.
type transport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (t *transport) Write(ctx context.Context, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, t.writeTimeout)
	defer cancel()

	if err := t.conn.Write(ctx, websocket.MessageText, msg); err != nil {
		return fmt.Errorf("ws.transport.Write: %w", err)
	}
	return nil
}

// Ping relies on the session's read loop to observe the pong.
func (t *transport) Ping(ctx context.Context) error {
	if err := t.conn.Ping(ctx); err != nil {
		return fmt.Errorf("ws.transport.Ping: %w", err)
	}
	return nil
}

// Close starts the close handshake and returns without waiting for the peer.
func (t *transport) Close(reason string) error {
	go func() {
		_ = t.conn.Close(websocket.StatusNormalClosure, reason)
	}()
	return nil
}
