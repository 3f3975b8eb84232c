package reliability

import (
	"errors"
	"fmt"
)

// Kind categorizes console failures.
type Kind string

const (
	KindAuth       Kind = "auth"
	KindNetwork    Kind = "network"
	KindProtocol   Kind = "protocol"
	KindState      Kind = "state"
	KindPermission Kind = "permission"
)

// Sentinels for errors.Is matching against an *Error of the same kind.
var (
	ErrAuth       = errors.New("credential rejected")
	ErrNetwork    = errors.New("network failure")
	ErrProtocol   = errors.New("protocol violation")
	ErrState      = errors.New("invalid state")
	ErrPermission = errors.New("microphone permission denied")
)

// Error is a classified failure raised by a console operation.
type Error struct {
	Kind   Kind
	Op     string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Detail
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = sentinelFor(e.Kind).Error()
	}
	if e.Op == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for this error's kind.
func (e *Error) Is(target error) bool {
	s := sentinelFor(e.Kind)
	return s != nil && target == s
}

// New builds a classified error without an underlying cause.
func New(kind Kind, op, detail string) *Error {
	return &Error{Kind: kind, Op: op, Detail: detail}
}

// Wrap classifies err. An err that is already classified keeps its kind.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func AuthError(op, detail string) *Error       { return New(KindAuth, op, detail) }
func NetworkError(op, detail string) *Error    { return New(KindNetwork, op, detail) }
func ProtocolError(op, detail string) *Error   { return New(KindProtocol, op, detail) }
func StateError(op, detail string) *Error      { return New(KindState, op, detail) }
func PermissionError(op, detail string) *Error { return New(KindPermission, op, detail) }

// KindOf returns the kind of a classified error, or "" when err is unclassified.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return ""
}

func sentinelFor(kind Kind) error {
	switch kind {
	case KindAuth:
		return ErrAuth
	case KindNetwork:
		return ErrNetwork
	case KindProtocol:
		return ErrProtocol
	case KindState:
		return ErrState
	case KindPermission:
		return ErrPermission
	default:
		return nil
	}
}
