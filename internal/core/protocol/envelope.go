package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Envelope is the wire representation of every client and server message.
// Data is kept raw so the envelope can be routed without decoding the body.
type Envelope struct {
	Type      Kind            `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	SenderID  string          `json:"senderId,omitempty"`
	RoomID    string          `json:"roomId,omitempty"`
	Priority  int             `json:"priority,omitempty"`
	Reliable  bool            `json:"reliable,omitempty"`
}

// NewEnvelope builds an envelope around data, stamping the current time in
// epoch milliseconds.
func NewEnvelope(kind Kind, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return Envelope{
		Type:      kind,
		Data:      raw,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// MustEnvelope is NewEnvelope for payloads the server constructs itself, where
// a marshal failure is a programming error.
func MustEnvelope(kind Kind, data any) Envelope {
	env, err := NewEnvelope(kind, data)
	if err != nil {
		panic(err)
	}
	return env
}

// DecodeData unmarshals the envelope body into out.
func (e Envelope) DecodeData(out any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Data, out); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// encodeBuffers recycles buffers across envelope encodes. The pool is held by
// the codec value rather than at package level so ownership stays with
// whatever constructed the codec.
type Codec struct {
	buffers sync.Pool
}

func NewCodec() *Codec {
	return &Codec{
		buffers: sync.Pool{
			New: func() any { return new(bytes.Buffer) },
		},
	}
}

// Encode serializes an envelope to JSON. The returned slice is a copy and
// remains valid after the internal buffer is recycled.
func (c *Codec) Encode(env Envelope) ([]byte, error) {
	buf := c.buffers.Get().(*bytes.Buffer)
	buf.Reset()
	defer c.buffers.Put(buf)

	if err := json.NewEncoder(buf).Encode(env); err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// Decode parses an envelope and rejects unknown kinds.
func (c *Codec) Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if !env.Type.Valid() {
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownKind, env.Type)
	}
	return env, nil
}
