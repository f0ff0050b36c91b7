// Package ingest carries row mutations from producer processes to the
// realtime server over the change bus.
package ingest

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/gosuda/boardsync/internal/domain"
	"github.com/gosuda/boardsync/internal/realtime"
)

// Kind discriminates bus messages.
type Kind string

const (
	KindChange Kind = "change"
	KindCustom Kind = "custom"
)

// Message is the bus envelope. Change messages carry a table name and row
// snapshots; custom messages carry a channel, an event type and opaque data.
type Message struct {
	Kind Kind `json:"kind" msgpack:"kind"`

	Event     realtime.EventKind `json:"event,omitempty" msgpack:"event,omitempty"`
	Table     string             `json:"table,omitempty" msgpack:"table,omitempty"`
	New       json.RawMessage    `json:"new,omitempty" msgpack:"new,omitempty"`
	Old       json.RawMessage    `json:"old,omitempty" msgpack:"old,omitempty"`
	BoardHint string             `json:"board_id,omitempty" msgpack:"board_id,omitempty"`

	Channel string          `json:"channel,omitempty" msgpack:"channel,omitempty"`
	Type    string          `json:"type,omitempty" msgpack:"type,omitempty"`
	Data    json.RawMessage `json:"data,omitempty" msgpack:"data,omitempty"`
}

// Validate checks the fields required by Kind.
func (m Message) Validate() error {
	switch m.Kind {
	case KindChange:
		if m.Table == "" {
			return fmt.Errorf("ingest.Message.Validate: missing table: %w", domain.ErrInvalidEvent)
		}
		if !m.Event.Valid() || m.Event == realtime.EventCustom {
			return fmt.Errorf("ingest.Message.Validate: event %q: %w", m.Event, domain.ErrInvalidEvent)
		}
	case KindCustom:
		if m.Type == "" {
			return fmt.Errorf("ingest.Message.Validate: missing type: %w", domain.ErrInvalidEvent)
		}
		if err := realtime.ValidateChannel(m.Channel); err != nil {
			return fmt.Errorf("ingest.Message.Validate: %w", err)
		}
	default:
		return fmt.Errorf("ingest.Message.Validate: kind %q: %w", m.Kind, domain.ErrInvalidEvent)
	}
	return nil
}

// ChangeEvent decodes the snapshots of a change message.
func (m Message) ChangeEvent() (realtime.ChangeEvent, error) {
	if m.Kind != KindChange {
		return realtime.ChangeEvent{}, fmt.Errorf("ingest.Message.ChangeEvent: kind %q: %w", m.Kind, domain.ErrInvalidEvent)
	}

	after, err := decodeSnapshot(m.Table, m.New)
	if err != nil {
		return realtime.ChangeEvent{}, fmt.Errorf("ingest.Message.ChangeEvent: new: %w", err)
	}
	before, err := decodeSnapshot(m.Table, m.Old)
	if err != nil {
		return realtime.ChangeEvent{}, fmt.Errorf("ingest.Message.ChangeEvent: old: %w", err)
	}

	hint := uuid.Nil
	if m.BoardHint != "" {
		if hint, err = uuid.Parse(m.BoardHint); err != nil {
			return realtime.ChangeEvent{}, fmt.Errorf("ingest.Message.ChangeEvent: board_id: %w", domain.ErrInvalidEvent)
		}
	}

	ev, err := realtime.NewChangeEvent(m.Event, after, before, hint)
	if err != nil {
		return realtime.ChangeEvent{}, fmt.Errorf("ingest.Message.ChangeEvent: %w", err)
	}
	return ev, nil
}

func decodeSnapshot(table string, raw json.RawMessage) (realtime.Record, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	return realtime.DecodeRecord(table, raw)
}

// NewChangeMessage builds a change message from row values. after or before
// may be nil.
func NewChangeMessage(kind realtime.EventKind, table string, after, before any, boardHint uuid.UUID) (Message, error) {
	m := Message{Kind: KindChange, Event: kind, Table: table}

	var err error
	if m.New, err = marshalSnapshot(after); err != nil {
		return Message{}, fmt.Errorf("ingest.NewChangeMessage: new: %w", err)
	}
	if m.Old, err = marshalSnapshot(before); err != nil {
		return Message{}, fmt.Errorf("ingest.NewChangeMessage: old: %w", err)
	}
	if boardHint != uuid.Nil {
		m.BoardHint = boardHint.String()
	}

	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// NewCustomMessage builds a custom message.
func NewCustomMessage(channel, eventType string, data any) (Message, error) {
	m := Message{Kind: KindCustom, Channel: channel, Type: eventType}

	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Message{}, fmt.Errorf("ingest.NewCustomMessage: %w", err)
		}
		m.Data = raw
	}

	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

func marshalSnapshot(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}
