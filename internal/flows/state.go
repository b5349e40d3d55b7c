package flows

import (
	"time"

	"github.com/MrEthical07/authflow/authority"
	"github.com/MrEthical07/authflow/internal/timer"
)

// StateKind is the step a flow is in.
type StateKind uint8

const (
	Unauthenticated StateKind = iota
	CredentialsSubmitted
	EmailVerificationRequired
	MethodSelection
	CodePending
	TOTPSetupRequired
	Authenticated
	Failed
)

var stateNames = [...]string{
	Unauthenticated:           "unauthenticated",
	CredentialsSubmitted:      "credentials_submitted",
	EmailVerificationRequired: "email_verification_required",
	MethodSelection:           "method_selection",
	CodePending:               "code_pending",
	TOTPSetupRequired:         "totp_setup_required",
	Authenticated:             "authenticated",
	Failed:                    "failed",
}

func (k StateKind) String() string {
	if int(k) < len(stateNames) {
		return stateNames[k]
	}
	return "unknown"
}

// FailReason qualifies a Failed state.
type FailReason uint8

const (
	ReasonNone FailReason = iota
	ReasonInvalidCredentials
	ReasonRateLimited
	ReasonEmailNotVerified
	ReasonCodeInvalid
	ReasonCodeExpired
	ReasonConflict
	ReasonUnauthorized
)

var reasonNames = [...]string{
	ReasonNone:               "",
	ReasonInvalidCredentials: "invalid_credentials",
	ReasonRateLimited:        "rate_limited",
	ReasonEmailNotVerified:   "email_not_verified",
	ReasonCodeInvalid:        "code_invalid",
	ReasonCodeExpired:        "code_expired",
	ReasonConflict:           "conflict",
	ReasonUnauthorized:       "unauthorized",
}

func (r FailReason) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return "unknown"
}

// State is a flow position. Method is set for CodePending; Reason and Return
// are set for Failed, where Return is the step the flow goes back to.
type State struct {
	Kind   StateKind
	Method authority.Method
	Reason FailReason
	Return StateKind
}

func (s State) String() string {
	switch s.Kind {
	case CodePending:
		return s.Kind.String() + "(" + string(s.Method) + ")"
	case Failed:
		return s.Kind.String() + "(" + s.Reason.String() + ")"
	}
	return s.Kind.String()
}

func failed(reason FailReason, ret StateKind) State {
	return State{Kind: Failed, Reason: reason, Return: ret}
}

func pending(m authority.Method) State {
	return State{Kind: CodePending, Method: m}
}

// Purpose is why an attempt exists.
type Purpose uint8

const (
	PurposeNone Purpose = iota
	PurposeRegistration
	PurposeVerifyThenLogin
	PurposeLoginMFA
	PurposePasswordChange
	PurposeProfileChange
	PurposeEmailChange
	PurposeEnrollment
)

var purposeNames = [...]string{
	PurposeNone:            "",
	PurposeRegistration:    "registration_email_verify",
	PurposeVerifyThenLogin: "verify_then_login",
	PurposeLoginMFA:        "login_mfa",
	PurposePasswordChange:  "password_change_reverify",
	PurposeProfileChange:   "profile_change_reverify",
	PurposeEmailChange:     "email_change_verify",
	PurposeEnrollment:      "totp_enrollment",
}

func (p Purpose) String() string {
	if int(p) < len(purposeNames) {
		return purposeNames[p]
	}
	return "unknown"
}

// Reverify reports whether p is an in-session re-verification purpose.
func (p Purpose) Reverify() bool {
	return p == PurposePasswordChange || p == PurposeProfileChange
}

// EnrollmentMaterial is shown to the user exactly once.
type EnrollmentMaterial struct {
	Secret        string
	EnrollmentURI string
	RecoveryCodes []string
}

// Escalation authorizes one sensitive change after re-verification.
type Escalation struct {
	Purpose   Purpose
	TempToken string
	Code      string
	Method    authority.Method
	IssuedAt  time.Time
}

// NoticeLevel separates errors from informational notices.
type NoticeLevel uint8

const (
	NoticeInfo NoticeLevel = iota
	NoticeError
)

// Notice is a user-facing message that disappears at Until.
type Notice struct {
	Level   NoticeLevel
	Message string
	Err     error
	Until   time.Time
}

// Snapshot is everything a renderer needs at one instant. Countdown values
// are computed at the snapshot time.
type Snapshot struct {
	State     State
	Purpose   Purpose
	AttemptID string
	// InSession is true when the flow runs on top of an established session.
	InSession bool
	Email     string
	User      *authority.User
	Methods   []authority.Method

	Countdown timer.Countdown
	// CanResend is true when a resend would be accepted now.
	CanResend bool
	// LockoutRemaining is the login back-off in whole seconds.
	LockoutRemaining int

	Enrollment *EnrollmentMaterial
	// Escalated names the purpose of a held escalation, or PurposeNone.
	Escalated Purpose
	Busy      bool
	Notice    *Notice
}

// EventType classifies a machine event.
type EventType uint8

const (
	EventStateChanged EventType = iota + 1
	// EventNavigateToEntry asks the UI to show the entry screen after a
	// session was rejected.
	EventNavigateToEntry
)

func (t EventType) String() string {
	switch t {
	case EventStateChanged:
		return "state_changed"
	case EventNavigateToEntry:
		return "navigate_to_entry"
	}
	return "unknown"
}

// Event is delivered to subscribers after the machine lock is released.
type Event struct {
	Type      EventType
	From      State
	To        State
	Purpose   Purpose
	AttemptID string
	At        time.Time
}
