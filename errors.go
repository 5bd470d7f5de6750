package mws

import (
	"errors"
	"fmt"
)

// Sentinel errors returned (wrapped in *Error) by SignalClient.Send and friends.
var (
	ErrNotConnected     = errors.New("mws: not connected")
	ErrSignalOutOfRange = errors.New("mws: signal code out of range")
	ErrPayloadTooLarge  = errors.New("mws: payload too large")
	ErrSerialization    = errors.New("mws: payload not serializable")
	ErrInvalidFrame     = errors.New("mws: invalid frame")
)

// ErrorKind classifies failures.
type ErrorKind uint8

const (
	// KindConnection covers transport open/close failures.
	KindConnection ErrorKind = iota + 1
	// KindProtocol covers malformed frames and handshake acknowledgments.
	KindProtocol
	// KindValidation covers out-of-range signals and oversized payloads.
	KindValidation
	// KindSerialization covers payloads that cannot be turned into text.
	KindSerialization
)

// String returns the string representation of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindProtocol:
		return "protocol"
	case KindValidation:
		return "validation"
	case KindSerialization:
		return "serialization"
	default:
		return "unknown"
	}
}

// Error is the structured error produced by this library.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s error: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf reports the ErrorKind of err, or 0 when err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
