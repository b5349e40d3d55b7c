package flows

import "errors"

var (
	// ErrInvalidInput is returned before any network call for malformed input.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidState is returned for an operation the current step does not accept.
	ErrInvalidState = errors.New("operation not allowed in current state")
	// ErrLockedOut is returned while a login rate limit is in effect. It also
	// matches authority.ErrRateLimited.
	ErrLockedOut = errors.New("login locked out")
	// ErrBusy is returned while another request of the same flow is in flight.
	ErrBusy = errors.New("request already in flight")
	// ErrSuperseded is returned when the attempt was replaced or cancelled
	// while its request was in flight. The answer was discarded.
	ErrSuperseded = errors.New("attempt superseded")
	// ErrNoSession is returned by in-session operations without a session.
	ErrNoSession = errors.New("no authenticated session")
	// ErrNoEscalation is returned when a sensitive change lacks a valid re-verification.
	ErrNoEscalation = errors.New("re-verification required")
	// ErrEnrollmentMandatory is returned when skipping required TOTP enrollment.
	ErrEnrollmentMandatory = errors.New("authenticator enrollment is required")
	// ErrCooldown is returned when a resend is requested too early.
	ErrCooldown = errors.New("resend not available yet")
	// ErrNoCodeIssued is returned when submitting an email code that was never sent.
	ErrNoCodeIssued = errors.New("no code has been issued")
	// ErrMethodUnavailable is returned when selecting a method the account cannot use.
	ErrMethodUnavailable = errors.New("verification method not available")
)
