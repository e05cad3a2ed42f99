package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownKind = errors.New("unknown message kind")
)

// ErrorKind classifies a failure for wire reporting and propagation policy.
type ErrorKind string

const (
	ErrKindAuth             ErrorKind = "auth"
	ErrKindNotAuthenticated ErrorKind = "not_authenticated"
	ErrKindNotFound         ErrorKind = "not_found"
	ErrKindValidation       ErrorKind = "validation"
	ErrKindDurable          ErrorKind = "durable"
	ErrKindCache            ErrorKind = "cache"
	ErrKindTick             ErrorKind = "tick"
	ErrKindShutdown         ErrorKind = "shutdown"
)

var errorCodes = map[ErrorKind]string{
	ErrKindAuth:             "AUTH_001",
	ErrKindNotAuthenticated: "AUTH_002",
	ErrKindNotFound:         "ENTITY_001",
	ErrKindValidation:       "VALIDATION_001",
	ErrKindDurable:          "STORE_001",
	ErrKindCache:            "CACHE_001",
	ErrKindTick:             "TICK_001",
	ErrKindShutdown:         "SHUTDOWN_001",
}

// CodedError carries a stable code and kind alongside the message so clients
// can act on failures without parsing text.
type CodedError struct {
	Code    string         `json:"code"`
	Kind    ErrorKind      `json:"kind"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`

	wrapped error
}

// NewError builds a CodedError of the given kind.
func NewError(kind ErrorKind, message string) *CodedError {
	return &CodedError{Code: errorCodes[kind], Kind: kind, Message: message}
}

// WrapError builds a CodedError around an underlying cause.
func WrapError(kind ErrorKind, message string, cause error) *CodedError {
	e := NewError(kind, message)
	e.wrapped = cause
	return e
}

// WithContext attaches supplemental key/value context and returns the error.
func (e *CodedError) WithContext(key string, val any) *CodedError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = val
	return e
}

func (e *CodedError) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CodedError) Unwrap() error {
	return e.wrapped
}

// KindOf extracts the ErrorKind from err, or empty if err carries none.
func KindOf(err error) ErrorKind {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Kind
	}
	return ""
}
