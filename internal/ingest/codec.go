package ingest

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec serialises bus messages.
type Codec interface {
	Name() string
	Marshal(m Message) ([]byte, error)
	Unmarshal(data []byte, m *Message) error
}

// Codec names accepted by CodecByName.
const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

type jsonCodec struct{}

func (jsonCodec) Name() string { return CodecJSON }

func (jsonCodec) Marshal(m Message) ([]byte, error) { return json.Marshal(m) }

func (jsonCodec) Unmarshal(data []byte, m *Message) error { return json.Unmarshal(data, m) }

type msgpackCodec struct{}

func (msgpackCodec) Name() string { return CodecMsgpack }

func (msgpackCodec) Marshal(m Message) ([]byte, error) { return msgpack.Marshal(m) }

func (msgpackCodec) Unmarshal(data []byte, m *Message) error { return msgpack.Unmarshal(data, m) }

// CodecByName returns the codec registered under name. An empty name
// selects JSON.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", CodecJSON:
		return jsonCodec{}, nil
	case CodecMsgpack:
		return msgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("ingest.CodecByName: unknown codec %q", name)
	}
}

// Decode parses and validates a bus payload.
func Decode(codec Codec, data []byte) (Message, error) {
	var m Message
	if err := codec.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("ingest.Decode: %s: %w", codec.Name(), err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, fmt.Errorf("ingest.Decode: %w", err)
	}
	return m, nil
}
