package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/aethersync/aethersync/internal/config"
	"github.com/aethersync/aethersync/internal/core/observability/log"
	"github.com/aethersync/aethersync/internal/core/protocol"
)

// WebSocketTransport is the default transport. It serves the socket on /ws
// and the admin endpoints (/health, /startup-info) on the same listener.
type WebSocketTransport struct {
	cfg      config.Config
	logger   log.Log
	codec    *protocol.Codec
	upgrader websocket.Upgrader

	server *http.Server
	addr   net.Addr
	conns  chan ClientConn
	closed int32
}

func NewWebSocketTransport(cfg config.Config, codec *protocol.Codec, logger log.Log) *WebSocketTransport {
	t := &WebSocketTransport{
		cfg:    cfg,
		logger: logger.With(log.String("component", "websocket")),
		codec:  codec,
		conns:  make(chan ClientConn, 64),
	}
	t.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if cfg.CORSOrigin == "*" {
				return true
			}
			return r.Header.Get("Origin") == cfg.CORSOrigin
		},
	}
	return t
}

func (t *WebSocketTransport) Start(_ context.Context) error {
	mux := newAdminMux(time.Now())
	mux.HandleFunc("/ws", t.handleUpgrade)

	handler := requestLogger(t.logger, corsMiddleware(t.cfg.CORSOrigin, mux))
	t.server = &http.Server{Addr: t.cfg.ListenAddr, Handler: handler}

	ln, err := net.Listen("tcp", t.cfg.ListenAddr)
	if err != nil {
		return err
	}
	t.addr = ln.Addr()

	go func() {
		if err := t.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			t.logger.Error("HTTP server stopped", log.Error(err))
		}
	}()

	t.logger.Info("WebSocket transport listening", log.String("addr", ln.Addr().String()))
	return nil
}

func (t *WebSocketTransport) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Warn("Upgrade failed", log.Error(err))
		return
	}
	conn.SetReadLimit(int64(t.cfg.MaxMessageSize))

	client := &wsConn{
		id:    uuid.NewString(),
		conn:  conn,
		codec: t.codec,
	}

	select {
	case t.conns <- client:
	default:
		// Accept backlog full; shed the connection rather than block the
		// HTTP handler.
		t.logger.Warn("Accept backlog full, dropping connection",
			log.String("remote_addr", conn.RemoteAddr().String()))
		_ = conn.Close()
	}
}

// Addr reports the bound listen address, available after Start.
func (t *WebSocketTransport) Addr() net.Addr {
	return t.addr
}

func (t *WebSocketTransport) Accept(ctx context.Context) (ClientConn, error) {
	select {
	case conn, ok := <-t.conns:
		if !ok {
			return nil, ErrServerClosed
		}
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *WebSocketTransport) Close() error {
	if !atomic.CompareAndSwapInt32(&t.closed, 0, 1) {
		return nil
	}
	if t.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return t.server.Shutdown(ctx)
}

// wsConn adapts a gorilla connection to ClientConn.
type wsConn struct {
	id    string
	conn  *websocket.Conn
	codec *protocol.Codec

	writeMu sync.Mutex
	userID  atomic.Value // string
	closed  int32
}

func (c *wsConn) ID() string {
	return c.id
}

func (c *wsConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *wsConn) UserID() string {
	if v, ok := c.userID.Load().(string); ok {
		return v
	}
	return ""
}

func (c *wsConn) SetUser(userID string) {
	c.userID.Store(userID)
}

func (c *wsConn) Authenticated() bool {
	return c.UserID() != ""
}

func (c *wsConn) Send(env protocol.Envelope) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return ErrConnClosed
	}
	data, err := c.codec.Encode(env)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Receive(_ context.Context) (protocol.Envelope, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return protocol.Envelope{}, err
	}
	return c.codec.Decode(data)
}

func (c *wsConn) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	return c.conn.Close()
}
