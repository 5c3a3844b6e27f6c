package common

import (
	"errors"
)

// Kind classifies failures so that transports can map them without
// inspecting messages.
type Kind int

const (
	KindInternal Kind = iota
	KindAuth
	KindAuthorization
	KindNotFound
	KindBadRequest
	KindFormat
	KindFetch
	KindTimeout
	KindRateLimit
	KindDecryption
)

var kindNames = map[Kind]string{
	KindInternal:      "internal",
	KindAuth:          "auth",
	KindAuthorization: "authorization",
	KindNotFound:      "not_found",
	KindBadRequest:    "bad_request",
	KindFormat:        "format",
	KindFetch:         "fetch",
	KindTimeout:       "timeout",
	KindRateLimit:     "rate_limit",
	KindDecryption:    "decryption",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func NewError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a kind-only marker of the same kind, so that
// errors.Is(err, &Error{Kind: KindTimeout}) matches any timeout.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the kind of the outermost *Error in the chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
