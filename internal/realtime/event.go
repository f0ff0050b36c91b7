package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/gosuda/boardsync/internal/domain"
)

// EntityType tags a Change Event with the table the mutated row lives in.
type EntityType string

const (
	EntityBoard           EntityType = "boards"
	EntityColumn          EntityType = "columns"
	EntityCard            EntityType = "cards"
	EntityLabel           EntityType = "labels"
	EntityComment         EntityType = "comments"
	EntityBoardMember     EntityType = "board_members"
	EntityWorkspace       EntityType = "workspaces"
	EntityWorkspaceMember EntityType = "workspace_members"
	EntityAppSetting      EntityType = "app_settings"
)

type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
	EventDeleted EventKind = "deleted"
	EventCustom  EventKind = "custom"
)

// Valid reports whether k is one of the known event kinds.
func (k EventKind) Valid() bool {
	switch k {
	case EventCreated, EventUpdated, EventDeleted, EventCustom:
		return true
	default:
		return false
	}
}

// Record is one typed row snapshot. Each variant maps to exactly one EntityType.
type Record interface {
	Entity() EntityType
}

type (
	BoardRecord           domain.Board
	ColumnRecord          domain.Column
	CardRecord            domain.Card
	LabelRecord           domain.Label
	CommentRecord         domain.Comment
	BoardMemberRecord     domain.BoardMember
	WorkspaceRecord       domain.Workspace
	WorkspaceMemberRecord domain.WorkspaceMember
	AppSettingRecord      domain.AppSetting
)

func (BoardRecord) Entity() EntityType           { return EntityBoard }
func (ColumnRecord) Entity() EntityType          { return EntityColumn }
func (CardRecord) Entity() EntityType            { return EntityCard }
func (LabelRecord) Entity() EntityType           { return EntityLabel }
func (CommentRecord) Entity() EntityType         { return EntityComment }
func (BoardMemberRecord) Entity() EntityType     { return EntityBoardMember }
func (WorkspaceRecord) Entity() EntityType       { return EntityWorkspace }
func (WorkspaceMemberRecord) Entity() EntityType { return EntityWorkspaceMember }
func (AppSettingRecord) Entity() EntityType      { return EntityAppSetting }

// UnknownRecord carries a row from a table the router has no rule for.
// It is broadcast verbatim on the global channel.
type UnknownRecord struct {
	Table string
	Data  json.RawMessage
}

func (u UnknownRecord) Entity() EntityType { return EntityType(u.Table) }

func (u UnknownRecord) MarshalJSON() ([]byte, error) {
	if len(u.Data) == 0 {
		return []byte("null"), nil
	}
	return u.Data, nil
}

// ChangeEvent describes one entity mutation. It lives only for one dispatch pass.
type ChangeEvent struct {
	Entity EntityType
	Kind   EventKind
	After  Record
	Before Record
	// BoardHint short-circuits the parent lookup when the producer already
	// knows the owning board. uuid.Nil means no hint.
	BoardHint uuid.UUID
}

// NewChangeEvent validates the snapshot invariants and builds an event.
func NewChangeEvent(kind EventKind, after, before Record, boardHint uuid.UUID) (ChangeEvent, error) {
	if !kind.Valid() {
		return ChangeEvent{}, fmt.Errorf("unknown event kind %q: %w", kind, domain.ErrInvalidEvent)
	}
	if after == nil && before == nil {
		return ChangeEvent{}, fmt.Errorf("no snapshot: %w", domain.ErrInvalidEvent)
	}
	if kind == EventCreated && (after == nil || before != nil) {
		return ChangeEvent{}, fmt.Errorf("created event must carry only the new row: %w", domain.ErrInvalidEvent)
	}
	if kind == EventDeleted && (before == nil || after != nil) {
		return ChangeEvent{}, fmt.Errorf("deleted event must carry only the old row: %w", domain.ErrInvalidEvent)
	}

	var entity EntityType
	switch {
	case after != nil && before != nil:
		if after.Entity() != before.Entity() {
			return ChangeEvent{}, fmt.Errorf("snapshots disagree on entity (%s vs %s): %w",
				after.Entity(), before.Entity(), domain.ErrInvalidEvent)
		}
		entity = after.Entity()
	case after != nil:
		entity = after.Entity()
	default:
		entity = before.Entity()
	}

	return ChangeEvent{
		Entity:    entity,
		Kind:      kind,
		After:     after,
		Before:    before,
		BoardHint: boardHint,
	}, nil
}

// IsMembershipChange reports whether the event grants or revokes board access.
func (e ChangeEvent) IsMembershipChange() bool {
	return e.Entity == EntityBoardMember
}

// snapshots returns the present records, newest first.
func (e ChangeEvent) snapshots() []Record {
	out := make([]Record, 0, 2)
	if e.After != nil {
		out = append(out, e.After)
	}
	if e.Before != nil {
		out = append(out, e.Before)
	}
	return out
}

// DecodeRecord builds the typed snapshot for table from its JSON form.
// A nil or JSON null raw value yields a nil Record.
func DecodeRecord(table string, raw json.RawMessage) (Record, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var (
		rec Record
		err error
	)
	switch EntityType(table) {
	case EntityBoard:
		rec, err = decodeAs[BoardRecord](raw)
	case EntityColumn:
		rec, err = decodeAs[ColumnRecord](raw)
	case EntityCard:
		rec, err = decodeAs[CardRecord](raw)
	case EntityLabel:
		rec, err = decodeAs[LabelRecord](raw)
	case EntityComment:
		rec, err = decodeAs[CommentRecord](raw)
	case EntityBoardMember:
		rec, err = decodeAs[BoardMemberRecord](raw)
	case EntityWorkspace:
		rec, err = decodeAs[WorkspaceRecord](raw)
	case EntityWorkspaceMember:
		rec, err = decodeAs[WorkspaceMemberRecord](raw)
	case EntityAppSetting:
		rec, err = decodeAs[AppSettingRecord](raw)
	default:
		if table == "" {
			return nil, fmt.Errorf("missing table: %w", domain.ErrInvalidEvent)
		}
		return UnknownRecord{Table: table, Data: append(json.RawMessage(nil), raw...)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s row: %w", table, domain.ErrInvalidEvent)
	}
	return rec, nil
}

func decodeAs[T Record](raw json.RawMessage) (Record, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Envelope is the server-to-client wire message.
type Envelope struct {
	Event   EventKind `json:"event"`
	Table   string    `json:"table,omitempty"`
	Channel string    `json:"channel"`
	Payload any       `json:"payload"`
}

type changePayload struct {
	New Record `json:"new,omitempty"`
	Old Record `json:"old,omitempty"`
}

type customPayload struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// System acknowledgement types.
const (
	SystemConnected    = "connected"
	SystemSubscribed   = "subscribed"
	SystemUnsubscribed = "unsubscribed"
	SystemPong         = "pong"
	SystemError        = "error"
)

// Error codes carried by SystemError acknowledgements.
const (
	ErrCodeInvalidMessage = "invalid_message"
	ErrCodeInvalidChannel = "invalid_channel"
	ErrCodeForbidden      = "forbidden"
	ErrCodeUnavailable    = "unavailable"
)

// SystemPayload is the body of a control acknowledgement on the system channel.
type SystemPayload struct {
	Type         string     `json:"type"`
	Channel      string     `json:"channel,omitempty"`
	ConnectionID *uuid.UUID `json:"connection_id,omitempty"`
	UserID       *uuid.UUID `json:"user_id,omitempty"`
	Code         string     `json:"code,omitempty"`
	Message      string     `json:"message,omitempty"`
}

func encodeChange(ev ChangeEvent, channel string) ([]byte, error) {
	data, err := json.Marshal(Envelope{
		Event:   ev.Kind,
		Table:   string(ev.Entity),
		Channel: channel,
		Payload: changePayload{New: ev.After, Old: ev.Before},
	})
	if err != nil {
		return nil, fmt.Errorf("realtime.encodeChange: %w", err)
	}
	return data, nil
}

func encodeCustom(channel, eventType string, data any) ([]byte, error) {
	out, err := json.Marshal(Envelope{
		Event:   EventCustom,
		Channel: channel,
		Payload: customPayload{Type: eventType, Data: data},
	})
	if err != nil {
		return nil, fmt.Errorf("realtime.encodeCustom: %w", err)
	}
	return out, nil
}

func encodeSystem(p SystemPayload) []byte {
	// SystemPayload holds only strings and UUIDs; Marshal cannot fail.
	data, _ := json.Marshal(Envelope{
		Event:   EventCustom,
		Channel: SystemChannel,
		Payload: p,
	})
	return data
}
