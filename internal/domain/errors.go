package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy (sentinels)
var (
	ErrAuth           = errors.New("provider authentication failed")
	ErrRateLimit      = errors.New("provider rate limit")
	ErrServer         = errors.New("provider server error")
	ErrTimeout        = errors.New("provider timeout")
	ErrNetwork        = errors.New("provider network error")
	ErrValidation     = errors.New("malformed provider response")
	ErrInvalidRequest = errors.New("provider rejected request")
	ErrInvalidMode    = errors.New("invalid mode")
	ErrInputRejected  = errors.New("input rejected")
	ErrNotFound       = errors.New("not found")
)

// Kind classifies an error for retry and surface decisions.
type Kind string

const (
	KindAuth           Kind = "AuthError"
	KindRateLimit      Kind = "RateLimitError"
	KindServer         Kind = "ServerError"
	KindTimeout        Kind = "TimeoutError"
	KindNetwork        Kind = "NetworkError"
	KindValidation     Kind = "ValidationError"
	KindInvalidRequest Kind = "InvalidRequestError"
	KindInvalidMode    Kind = "InvalidModeError"
	KindInputRejected  Kind = "InputRejected"
)

var kindSentinels = map[Kind]error{
	KindAuth:           ErrAuth,
	KindRateLimit:      ErrRateLimit,
	KindServer:         ErrServer,
	KindTimeout:        ErrTimeout,
	KindNetwork:        ErrNetwork,
	KindValidation:     ErrValidation,
	KindInvalidRequest: ErrInvalidRequest,
	KindInvalidMode:    ErrInvalidMode,
	KindInputRejected:  ErrInputRejected,
}

// Error is a classified failure. It wraps the original cause and matches the
// sentinel of its Kind through errors.Is.
type Error struct {
	Kind   Kind
	Op     string
	Status int
	Err    error
}

// NewError builds a classified error.
func NewError(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// NewStatusError builds a classified error carrying the upstream HTTP status.
func NewStatusError(kind Kind, op string, status int, cause error) *Error {
	return &Error{Kind: kind, Op: op, Status: status, Err: cause}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = "op=" + e.Op + ": " + msg
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	s, ok := kindSentinels[e.Kind]
	return ok && s == target
}

// KindOf returns the kind of err, or "" when err is not classified.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	for k, s := range kindSentinels {
		if errors.Is(err, s) {
			return k
		}
	}
	return ""
}

// IsRetryable reports whether err is a transient provider failure.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindServer, KindRateLimit, KindTimeout, KindNetwork:
		return true
	default:
		return false
	}
}
