package authority

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an authority failure.
type Kind uint8

const (
	KindServer Kind = iota
	KindInvalidInput
	KindInvalidCredentials
	KindRateLimited
	KindCodeInvalid
	KindCodeExpired
	KindNotVerified
	KindConflict
	KindUnauthorized
	KindMFARequired
	KindPasswordRequired
)

var (
	// ErrInvalidInput is returned when the authority rejects a malformed request.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidCredentials is returned for a wrong login or password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrRateLimited is returned when the authority asks the caller to back off.
	ErrRateLimited = errors.New("rate limited")
	// ErrCodeInvalid is returned for a wrong verification code.
	ErrCodeInvalid = errors.New("verification code invalid")
	// ErrCodeExpired is returned when the verification code is no longer valid.
	ErrCodeExpired = errors.New("verification code expired")
	// ErrNotVerified is returned when the account email is not verified yet.
	ErrNotVerified = errors.New("email not verified")
	// ErrConflict is returned when a username or email is already taken.
	ErrConflict = errors.New("already exists")
	// ErrUnauthorized is returned when the presented token was rejected.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrMFARequired is returned when an operation needs an enabled second factor.
	ErrMFARequired = errors.New("second factor required")
	// ErrPasswordRequired is returned when an operation needs the current password.
	ErrPasswordRequired = errors.New("current password required")
	// ErrServer is returned for transport failures and unexpected responses.
	ErrServer = errors.New("authority unavailable")
)

var kindSentinels = map[Kind]error{
	KindServer:             ErrServer,
	KindInvalidInput:       ErrInvalidInput,
	KindInvalidCredentials: ErrInvalidCredentials,
	KindRateLimited:        ErrRateLimited,
	KindCodeInvalid:        ErrCodeInvalid,
	KindCodeExpired:        ErrCodeExpired,
	KindNotVerified:        ErrNotVerified,
	KindConflict:           ErrConflict,
	KindUnauthorized:       ErrUnauthorized,
	KindMFARequired:        ErrMFARequired,
	KindPasswordRequired:   ErrPasswordRequired,
}

// Error is the typed failure of an authority call. It matches its kind's
// sentinel with errors.Is.
type Error struct {
	Kind       Kind
	Status     int
	Message    string
	RetryAfter time.Duration
	// Field names the conflicting field for KindConflict, when known.
	Field string
	cause error
}

func (e *Error) Error() string {
	base := kindSentinels[e.Kind].Error()
	switch {
	case e.Kind == KindRateLimited:
		return fmt.Sprintf("%s: retry after %s", base, e.RetryAfter)
	case e.Message != "":
		return base + ": " + e.Message
	case e.cause != nil:
		return base + ": " + e.cause.Error()
	}
	return base
}

// Is matches the sentinel for the error kind.
func (e *Error) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Definitive reports whether the authority made a decision, as opposed to a
// transport or server failure that may succeed on a later attempt.
func (e *Error) Definitive() bool {
	return e.Kind != KindServer
}

// KindOf returns the kind of err, or KindServer when err is not an *Error.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindServer
}

// RetryAfter returns the back-off carried by a rate-limited error.
func RetryAfter(err error) (time.Duration, bool) {
	var ae *Error
	if errors.As(err, &ae) && ae.Kind == KindRateLimited {
		return ae.RetryAfter, true
	}
	return 0, false
}

func serverError(cause error) *Error {
	return &Error{Kind: KindServer, cause: cause}
}
