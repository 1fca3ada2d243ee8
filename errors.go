package compio

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCfg        = errors.New("proactor: invalid options")
	ErrNotRunning        = errors.New("proactor: not running")
	ErrAlreadyRunning    = errors.New("proactor: already running")
	ErrProactorStopped   = errors.New("proactor: stopped")
	ErrHandlerRequired   = errors.New("proactor: operation has no completion handler")
	ErrOperationConsumed = errors.New("proactor: operation was already initiated")

	ErrQueueClosed       = errors.New("queue: closed")
	ErrInvalidInterest   = errors.New("queue: interest must be readable or writable")
	ErrAlreadyRegistered = errors.New("queue: descriptor already registered for this interest")
	ErrNotRegistered     = errors.New("queue: no such registration")

	ErrInvalidAddr  = errors.New("socket: address is not a valid IPv4 address")
	ErrSocketClosed = errors.New("socket: closed")
	ErrPeerClosed   = errors.New("socket: closed by peer")

	ErrConnClosed = errors.New("conn: closed")
)

const (
	CloseReasonUnknown CloseReason = iota
	CloseReasonPeer
	CloseReasonLocal
	CloseReasonError
	CloseReasonShutdown
)

// CloseReason classifies why a connection stopped.
type CloseReason uint8

func (reason CloseReason) String() string {
	switch reason {
	case CloseReasonPeer:
		return "peer"
	case CloseReasonLocal:
		return "explicit user close"
	case CloseReasonError:
		return "io error"
	case CloseReasonShutdown:
		return "proactor shutdown"
	default:
		return "unknown"
	}
}

// CloseError is the cause handed to `ConnHandler.OnClose`.
type CloseError struct {
	Reason CloseReason
	Err    error
}

func (closeErr *CloseError) Error() string {
	if closeErr.Err == nil {
		return fmt.Sprintf("conn closed by %s", closeErr.Reason)
	}
	return fmt.Sprintf("conn closed by %s: %s", closeErr.Reason, closeErr.Err)
}

func (closeErr *CloseError) Unwrap() error {
	return closeErr.Err
}

func closeBecause(reason CloseReason, err error) *CloseError {
	return &CloseError{
		Reason: reason,
		Err:    err,
	}
}
