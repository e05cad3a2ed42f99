package server

import "errors"

// Server-specific errors
var (
	ErrServerClosed         = errors.New("server is closed")
	ErrServerNotRunning     = errors.New("server is not running")
	ErrServerAlreadyRunning = errors.New("server is already running")
	ErrConnClosed           = errors.New("connection is closed")
	ErrQueueFull            = errors.New("message queue is full")
	ErrNotAuthenticated     = errors.New("not authenticated")
	ErrInvalidToken         = errors.New("invalid token")
)
