package authflow

import (
	"errors"
	"time"

	"github.com/MrEthical07/authflow/authority"
	"github.com/MrEthical07/authflow/internal/flows"
	"github.com/MrEthical07/authflow/refresh"
)

var (
	// ErrInvalidInput means input failed local validation. No request was sent.
	ErrInvalidInput = flows.ErrInvalidInput
	// ErrInvalidState means the current step does not accept the operation.
	ErrInvalidState = flows.ErrInvalidState
	// ErrBusy means a request of the same flow is already in flight.
	ErrBusy = flows.ErrBusy
	// ErrSuperseded means the flow was cancelled or replaced while the request
	// was in flight.
	ErrSuperseded = flows.ErrSuperseded
	// ErrLockedOut is returned while a login rate limit is active.
	ErrLockedOut = flows.ErrLockedOut
	// ErrNoSession means the operation needs an established session.
	ErrNoSession = flows.ErrNoSession
	// ErrNoEscalation means a sensitive change lacks a fresh re-verification.
	ErrNoEscalation = flows.ErrNoEscalation
	// ErrEnrollmentMandatory is returned when skipping required enrollment.
	ErrEnrollmentMandatory = flows.ErrEnrollmentMandatory
	// ErrCooldown is returned for a resend inside the cooldown.
	ErrCooldown = flows.ErrCooldown
	// ErrNoCodeIssued is returned when submitting an email code never sent.
	ErrNoCodeIssued = flows.ErrNoCodeIssued
	// ErrMethodUnavailable is returned for a method the account cannot use.
	ErrMethodUnavailable = flows.ErrMethodUnavailable

	// ErrClientNotReady is returned before Start has hydrated the session.
	ErrClientNotReady = errors.New("client not started")
	// ErrClientClosed is returned after Close.
	ErrClientClosed = errors.New("client closed")
	// ErrNoRefreshToken is returned by RefreshSession without a refresh token.
	ErrNoRefreshToken = refresh.ErrNoRefreshToken
)

// Authority rejections. Match them with errors.Is.
var (
	ErrInvalidCredentials = authority.ErrInvalidCredentials
	ErrRateLimited        = authority.ErrRateLimited
	ErrCodeInvalid        = authority.ErrCodeInvalid
	ErrCodeExpired        = authority.ErrCodeExpired
	ErrNotVerified        = authority.ErrNotVerified
	ErrConflict           = authority.ErrConflict
	ErrUnauthorized       = authority.ErrUnauthorized
	ErrMFARequired        = authority.ErrMFARequired
	ErrPasswordRequired   = authority.ErrPasswordRequired
	ErrServer             = authority.ErrServer
)

// RetryAfter returns how long to wait before retrying a rate-limited call.
func RetryAfter(err error) (time.Duration, bool) {
	return authority.RetryAfter(err)
}
