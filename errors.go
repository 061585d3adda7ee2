package easyauth

import (
	"errors"
	"fmt"
)

// Kind classifies the errors returned by the engines and adapters.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindAlreadyExists
	KindConflict
	KindInvalidCredentials
	KindInvalidArgument
	KindExpiredToken
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindAlreadyExists:
		return "already_exists"
	case KindConflict:
		return "conflict"
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindExpiredToken:
		return "expired_token"
	}
	return "unknown"
}

// Sentinels for errors.Is. Each matches any *Error of the same Kind.
var (
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrAlreadyExists      = &Error{Kind: KindAlreadyExists}
	ErrConflict           = &Error{Kind: KindConflict}
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials}
	ErrInvalidArgument    = &Error{Kind: KindInvalidArgument}
	ErrExpiredToken       = &Error{Kind: KindExpiredToken}
)

// Error carries a Kind together with the operation that failed.
type Error struct {
	Kind   Kind
	Op     string // e.g. "memory.CreateUser", "Register"
	Detail string
	Err    error
}

// NewError builds an *Error. err may be nil.
func NewError(kind Kind, op, detail string, err error) *Error {
	return &Error{Kind: kind, Op: op, Detail: detail, Err: err}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Detail != "" {
		msg = e.Detail
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
