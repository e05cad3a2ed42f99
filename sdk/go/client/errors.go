package client

import "errors"

// Client-specific errors
var (
	ErrClientClosed     = errors.New("client is closed")
	ErrNotConnected     = errors.New("client is not connected")
	ErrAlreadyConnected = errors.New("client is already connected")
	ErrAuthFailed       = errors.New("authentication failed")
	ErrAuthTimeout      = errors.New("authentication timed out")
)
