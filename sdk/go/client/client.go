// Package client provides a high-level WebSocket client SDK for AetherSync.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aethersync/aethersync/internal/core/entity"
	"github.com/aethersync/aethersync/internal/core/observability/log"
	"github.com/aethersync/aethersync/internal/core/protocol"
)

// Config holds configuration for the client.
type Config struct {
	// ServerURL is the websocket endpoint, e.g. ws://127.0.0.1:3301/ws.
	ServerURL string
	// Token is presented to the server on connect.
	Token string

	ConnectTimeout time.Duration
	AuthTimeout    time.Duration
	LogLevel       log.Level
}

// DefaultConfig returns default client configuration.
func DefaultConfig() Config {
	return Config{
		ServerURL:      "ws://127.0.0.1:3301/ws",
		ConnectTimeout: 30 * time.Second,
		AuthTimeout:    10 * time.Second,
		LogLevel:       log.LevelInfo,
	}
}

// Handler processes one server-originated envelope. Handlers run on the
// client's read loop and must not block.
type Handler func(env protocol.Envelope)

// Client is one authenticated connection to an AetherSync server.
type Client struct {
	config Config
	logger log.Log
	codec  *protocol.Codec

	conn    *websocket.Conn
	writeMu sync.Mutex

	handlerMu sync.RWMutex
	handlers  map[protocol.Kind][]Handler

	userID    atomic.Value // string
	roomID    atomic.Value // string
	authReply chan protocol.Envelope

	connected int32
	closed    int32
	done      chan struct{}
	workers   sync.WaitGroup
}

// NewClient creates a client. Connect must be called before use.
func NewClient(config Config) *Client {
	logger := log.New(config.LogLevel)
	return &Client{
		config:    config,
		logger:    logger.With(log.String("component", "client")),
		codec:     protocol.NewCodec(),
		handlers:  make(map[protocol.Kind][]Handler),
		authReply: make(chan protocol.Envelope, 1),
		done:      make(chan struct{}),
	}
}

// On registers a handler for a message kind. Multiple handlers run in
// registration order.
func (c *Client) On(kind protocol.Kind, h Handler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.handlers[kind] = append(c.handlers[kind], h)
}

// Connect dials the server and authenticates. On success the client is in the
// server's default room and ready to send.
func (c *Client) Connect(ctx context.Context) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return ErrClientClosed
	}
	if !atomic.CompareAndSwapInt32(&c.connected, 0, 1) {
		return ErrAlreadyConnected
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.config.ServerURL, nil)
	if err != nil {
		atomic.StoreInt32(&c.connected, 0)
		return fmt.Errorf("dial %s: %w", c.config.ServerURL, err)
	}
	c.conn = conn

	c.workers.Add(1)
	go c.readLoop()

	if err := c.authenticate(ctx); err != nil {
		_ = c.Close()
		return err
	}

	c.logger.Info("Connected", log.String("server_url", c.config.ServerURL))
	return nil
}

func (c *Client) authenticate(ctx context.Context) error {
	env, err := protocol.NewEnvelope(protocol.KindAuthenticate, map[string]string{"token": c.config.Token})
	if err != nil {
		return err
	}
	if err = c.send(env); err != nil {
		return err
	}

	select {
	case reply := <-c.authReply:
		if reply.Type == protocol.KindAuthError {
			return fmt.Errorf("%w: %s", ErrAuthFailed, string(reply.Data))
		}
		var payload struct {
			UserID string `json:"userId"`
		}
		if err := reply.DecodeData(&payload); err != nil {
			return err
		}
		c.userID.Store(payload.UserID)
		return nil
	case <-time.After(c.config.AuthTimeout):
		return ErrAuthTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClientClosed
	}
}

// UserID returns the identity the server bound to this connection.
func (c *Client) UserID() string {
	if v, ok := c.userID.Load().(string); ok {
		return v
	}
	return ""
}

// RoomID returns the room the client most recently joined.
func (c *Client) RoomID() string {
	if v, ok := c.roomID.Load().(string); ok {
		return v
	}
	return ""
}

// JoinRoom moves the client into roomID, leaving the current room.
func (c *Client) JoinRoom(roomID string) error {
	env, err := protocol.NewEnvelope(protocol.KindJoinRoom, map[string]string{"roomId": roomID})
	if err != nil {
		return err
	}
	return c.send(env)
}

// CreateEntity registers a new entity scoped to the client's current room.
func (c *Client) CreateEntity(e entity.Entity) error {
	env, err := protocol.NewEnvelope(protocol.KindEntityCreate, e)
	if err != nil {
		return err
	}
	return c.send(env)
}

// UpdateEntity applies a partial update to an existing entity.
func (c *Client) UpdateEntity(patch entity.Patch) error {
	env, err := protocol.NewEnvelope(protocol.KindEntityUpdate, patch)
	if err != nil {
		return err
	}
	return c.send(env)
}

// DeleteEntity removes an entity.
func (c *Client) DeleteEntity(id string) error {
	env, err := protocol.NewEnvelope(protocol.KindEntityDelete, map[string]string{"id": id})
	if err != nil {
		return err
	}
	return c.send(env)
}

// SendChat broadcasts a chat message to the client's room.
func (c *Client) SendChat(text string) error {
	env, err := protocol.NewEnvelope(protocol.KindChatMessage, map[string]string{"text": text})
	if err != nil {
		return err
	}
	return c.send(env)
}

// Send delivers an arbitrary payload under the given kind.
func (c *Client) Send(kind protocol.Kind, payload any) error {
	env, err := protocol.NewEnvelope(kind, payload)
	if err != nil {
		return err
	}
	return c.send(env)
}

func (c *Client) send(env protocol.Envelope) error {
	if atomic.LoadInt32(&c.connected) == 0 {
		return ErrNotConnected
	}
	data, err := c.codec.Encode(env)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) readLoop() {
	defer c.workers.Done()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if atomic.LoadInt32(&c.closed) == 0 {
				c.logger.Warn("Connection read ended", log.Error(err))
			}
			return
		}
		env, err := c.codec.Decode(data)
		if err != nil {
			c.logger.Warn("Dropping malformed message", log.Error(err))
			continue
		}
		c.handle(env)
	}
}

func (c *Client) handle(env protocol.Envelope) {
	switch env.Type {
	case protocol.KindAuthenticated, protocol.KindAuthError:
		select {
		case c.authReply <- env:
		default:
		}
	case protocol.KindRoomState:
		var payload struct {
			RoomID string `json:"roomId"`
		}
		if err := json.Unmarshal(env.Data, &payload); err == nil && payload.RoomID != "" {
			c.roomID.Store(payload.RoomID)
		}
	}

	c.handlerMu.RLock()
	chain := c.handlers[env.Type]
	c.handlerMu.RUnlock()
	for _, h := range chain {
		h(env)
	}
}

// Close tears the connection down. The client cannot be reused afterwards.
func (c *Client) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	atomic.StoreInt32(&c.connected, 0)
	close(c.done)
	var err error
	if c.conn != nil {
		err = c.conn.Close()
	}
	c.workers.Wait()
	return err
}
