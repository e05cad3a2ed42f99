package server

import (
	"context"

	"github.com/aethersync/aethersync/internal/core/protocol"
)

// ClientConn is one bidirectional client connection, independent of the wire
// transport underneath. Send is safe for concurrent use; Receive is not and
// belongs to the connection's read loop alone.
type ClientConn interface {
	ID() string
	RemoteAddr() string

	// Authentication state, written once by the authenticate handler.
	UserID() string
	SetUser(userID string)
	Authenticated() bool

	Send(env protocol.Envelope) error
	Receive(ctx context.Context) (protocol.Envelope, error)
	Close() error
}

// Transport accepts client connections. Implementations: websocket (default)
// and quic.
type Transport interface {
	// Start begins listening. It returns once the listener is ready.
	Start(ctx context.Context) error
	// Accept blocks until the next client connects or the transport closes.
	Accept(ctx context.Context) (ClientConn, error)
	Close() error
}
