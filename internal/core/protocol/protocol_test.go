package protocol

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnvelope(t *testing.T) {
	t.Run("Round Trip", func(t *testing.T) {
		codec := NewCodec()

		env, err := NewEnvelope(KindChatMessage, map[string]string{"text": "hello"})
		require.NoError(t, err)
		env.SenderID = "alice"
		env.RoomID = "lobby"

		data, err := codec.Encode(env)
		require.NoError(t, err)

		decoded, err := codec.Decode(data)
		require.NoError(t, err)
		require.Equal(t, KindChatMessage, decoded.Type)
		require.Equal(t, "alice", decoded.SenderID)
		require.Equal(t, "lobby", decoded.RoomID)
		require.Equal(t, env.Timestamp, decoded.Timestamp)

		var payload map[string]string
		require.NoError(t, decoded.DecodeData(&payload))
		require.Equal(t, "hello", payload["text"])
	})

	t.Run("Unknown Kind Rejected", func(t *testing.T) {
		codec := NewCodec()
		_, err := codec.Decode([]byte(`{"type":"entity:explode","data":{}}`))
		require.ErrorIs(t, err, ErrUnknownKind)
	})

	t.Run("Malformed JSON Rejected", func(t *testing.T) {
		codec := NewCodec()
		_, err := codec.Decode([]byte(`{"type":`))
		require.Error(t, err)
	})

	t.Run("Empty Payload Rejected By DecodeData", func(t *testing.T) {
		var out map[string]string
		require.Error(t, Envelope{Type: KindSystemInfo}.DecodeData(&out))
	})

	t.Run("Concurrent Encodes", func(t *testing.T) {
		codec := NewCodec()
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					env := MustEnvelope(KindSystemInfo, map[string]int{"n": j})
					data, err := codec.Encode(env)
					require.NoError(t, err)
					decoded, err := codec.Decode(data)
					require.NoError(t, err)
					require.Equal(t, KindSystemInfo, decoded.Type)
				}
			}()
		}
		wg.Wait()
	})
}

func TestRegistry(t *testing.T) {
	t.Run("Dispatch Runs Handlers In Order", func(t *testing.T) {
		reg := NewRegistry()
		var order []int
		reg.Register(KindChatMessage, func(context.Context, string, Envelope) error {
			order = append(order, 1)
			return nil
		})
		reg.Register(KindChatMessage, func(context.Context, string, Envelope) error {
			order = append(order, 2)
			return nil
		})

		env := MustEnvelope(KindChatMessage, map[string]string{})
		require.NoError(t, reg.Dispatch(context.Background(), "c1", env))
		require.Equal(t, []int{1, 2}, order)
	})

	t.Run("First Error Stops The Chain", func(t *testing.T) {
		reg := NewRegistry()
		boom := errors.New("boom")
		var reached bool
		reg.Register(KindChatMessage, func(context.Context, string, Envelope) error {
			return boom
		})
		reg.Register(KindChatMessage, func(context.Context, string, Envelope) error {
			reached = true
			return nil
		})

		env := MustEnvelope(KindChatMessage, map[string]string{})
		require.ErrorIs(t, reg.Dispatch(context.Background(), "c1", env), boom)
		require.False(t, reached)
	})

	t.Run("Unhandled Kind Is A No-Op", func(t *testing.T) {
		reg := NewRegistry()
		env := MustEnvelope(KindSystemInfo, map[string]string{})
		require.NoError(t, reg.Dispatch(context.Background(), "c1", env))
	})

	t.Run("Reattach Installs Every Kind", func(t *testing.T) {
		reg := NewRegistry()
		reg.Register(KindChatMessage, func(context.Context, string, Envelope) error { return nil })
		reg.Register(KindPlayerInput, func(context.Context, string, Envelope) error { return nil })

		attached := make(map[Kind]int)
		fake := attacherFunc(func(kind Kind, _ func(context.Context, string, Envelope)) {
			attached[kind]++
		})
		reg.Reattach(fake)
		reg.Reattach(fake)

		require.Equal(t, 2, attached[KindChatMessage])
		require.Equal(t, 2, attached[KindPlayerInput])
		require.Len(t, attached, 2)
	})
}

type attacherFunc func(Kind, func(context.Context, string, Envelope))

func (f attacherFunc) Attach(kind Kind, fn func(context.Context, string, Envelope)) {
	f(kind, fn)
}

func TestCodedError(t *testing.T) {
	t.Run("Carries Code And Kind", func(t *testing.T) {
		err := NewError(ErrKindNotFound, "entity not found")
		require.Equal(t, "ENTITY_001", err.Code)
		require.Equal(t, ErrKindNotFound, KindOf(err))
		require.Contains(t, err.Error(), "ENTITY_001")
	})

	t.Run("Wraps And Unwraps", func(t *testing.T) {
		cause := errors.New("row missing")
		err := WrapError(ErrKindDurable, "lookup failed", cause)
		require.ErrorIs(t, err, cause)
		require.Equal(t, ErrKindDurable, KindOf(err))
	})

	t.Run("Context Accumulates", func(t *testing.T) {
		err := NewError(ErrKindValidation, "bad id").
			WithContext("entityId", "e1").
			WithContext("field", "id")
		require.Equal(t, "e1", err.Context["entityId"])
		require.Equal(t, "id", err.Context["field"])
	})

	t.Run("KindOf Plain Error Is Empty", func(t *testing.T) {
		require.Empty(t, KindOf(errors.New("plain")))
	})
}
