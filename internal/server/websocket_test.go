package server

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/aethersync/aethersync/internal/config"
	"github.com/aethersync/aethersync/internal/core/observability/log"
	"github.com/aethersync/aethersync/internal/core/protocol"
)

func startWebSocketTransport(t *testing.T) *WebSocketTransport {
	t.Helper()

	cfg := config.Default()
	cfg.ListenAddr = "127.0.0.1:0"

	transport := NewWebSocketTransport(cfg, protocol.NewCodec(), log.NewNop())
	require.NoError(t, transport.Start(context.Background()))
	t.Cleanup(func() { _ = transport.Close() })
	return transport
}

func TestWebSocketTransport(t *testing.T) {
	t.Run("Envelope Round Trip", func(t *testing.T) {
		transport := startWebSocketTransport(t)
		url := fmt.Sprintf("ws://%s/ws", transport.Addr())

		dialed, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		defer dialed.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		accepted, err := transport.Accept(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, accepted.ID())
		require.False(t, accepted.Authenticated())

		// Client to server.
		codec := protocol.NewCodec()
		out, err := codec.Encode(protocol.MustEnvelope(protocol.KindChatMessage, map[string]string{"text": "ping"}))
		require.NoError(t, err)
		require.NoError(t, dialed.WriteMessage(websocket.TextMessage, out))

		env, err := accepted.Receive(ctx)
		require.NoError(t, err)
		require.Equal(t, protocol.KindChatMessage, env.Type)

		// Server to client.
		require.NoError(t, accepted.Send(protocol.MustEnvelope(protocol.KindSystemInfo, map[string]string{"text": "pong"})))

		_, data, err := dialed.ReadMessage()
		require.NoError(t, err)
		reply, err := codec.Decode(data)
		require.NoError(t, err)
		require.Equal(t, protocol.KindSystemInfo, reply.Type)
	})

	t.Run("Health Endpoint", func(t *testing.T) {
		transport := startWebSocketTransport(t)

		resp, err := http.Get(fmt.Sprintf("http://%s/health", transport.Addr()))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	})

	t.Run("Preflight", func(t *testing.T) {
		transport := startWebSocketTransport(t)

		req, err := http.NewRequest(http.MethodOptions, fmt.Sprintf("http://%s/ws", transport.Addr()), nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
	})
}
