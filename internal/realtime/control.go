package realtime

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/boardsync/internal/domain"
)

// Inbound control message types.
const (
	ControlSubscribe   = "subscribe"
	ControlUnsubscribe = "unsubscribe"
	ControlPing        = "ping"
)

// ControlMessage is a client-to-server control frame.
type ControlMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
}

// ControlHandler applies inbound control messages to the registry.
type ControlHandler struct {
	registry *Registry
	policy   domain.AccessPolicy
}

// NewControlHandler creates a handler. policy gates subscriptions to
// board-scoped channels; a nil policy admits every valid channel.
func NewControlHandler(registry *Registry, policy domain.AccessPolicy) *ControlHandler {
	return &ControlHandler{registry: registry, policy: policy}
}

// Handle processes one inbound frame. Problems are reported back on conn as
// error acknowledgements; the connection is never closed from here.
func (h *ControlHandler) Handle(ctx context.Context, conn *Conn, raw []byte) {
	conn.MarkAlive()

	var msg ControlMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.reply(conn, SystemPayload{
			Type:    SystemError,
			Code:    ErrCodeInvalidMessage,
			Message: "message is not valid JSON",
		})
		return
	}

	switch msg.Type {
	case ControlSubscribe:
		h.subscribe(ctx, conn, msg.Channel)
	case ControlUnsubscribe:
		h.unsubscribe(conn, msg.Channel)
	case ControlPing:
		h.reply(conn, SystemPayload{Type: SystemPong})
	default:
		log.Warn().
			Str("conn_id", conn.ID().String()).
			Str("type", msg.Type).
			Msg("realtime: ignoring unknown control message")
	}
}

func (h *ControlHandler) subscribe(ctx context.Context, conn *Conn, channel string) {
	if err := ValidateChannel(channel); err != nil {
		h.reply(conn, SystemPayload{
			Type:    SystemError,
			Channel: channel,
			Code:    ErrCodeInvalidChannel,
			Message: err.Error(),
		})
		return
	}

	if code, ok := h.authorize(ctx, conn, channel); !ok {
		h.reply(conn, SystemPayload{
			Type:    SystemError,
			Channel: channel,
			Code:    code,
			Message: "subscription refused",
		})
		return
	}

	if conn.Closed() {
		return
	}
	h.registry.Subscribe(conn, channel)
	h.reply(conn, SystemPayload{Type: SystemSubscribed, Channel: channel})
}

func (h *ControlHandler) unsubscribe(conn *Conn, channel string) {
	if err := ValidateChannel(channel); err != nil {
		h.reply(conn, SystemPayload{
			Type:    SystemError,
			Channel: channel,
			Code:    ErrCodeInvalidChannel,
			Message: err.Error(),
		})
		return
	}
	h.registry.Unsubscribe(conn, channel)
	h.reply(conn, SystemPayload{Type: SystemUnsubscribed, Channel: channel})
}

// authorize checks subscribe-time access. User channels are private to their
// user; board channels ask the access policy.
func (h *ControlHandler) authorize(ctx context.Context, conn *Conn, channel string) (string, bool) {
	if userID, ok := UserIDFromChannel(channel); ok {
		return ErrCodeForbidden, userID == conn.UserID()
	}

	boardID, ok := BoardIDFromChannel(channel)
	if !ok || h.policy == nil {
		return "", true
	}

	allowed, err := h.policy.CanViewBoard(ctx, conn.UserID(), boardID)
	if err != nil {
		log.Warn().Err(err).
			Str("user_id", conn.UserID().String()).
			Str("channel", channel).
			Msg("realtime: subscribe access check failed")
		return ErrCodeUnavailable, false
	}
	return ErrCodeForbidden, allowed
}

func (h *ControlHandler) reply(conn *Conn, p SystemPayload) {
	if err := conn.Send(encodeSystem(p)); err != nil {
		log.Debug().Err(err).
			Str("conn_id", conn.ID().String()).
			Str("type", p.Type).
			Msg("realtime: control reply not delivered")
	}
}
