package authflow

import (
	"context"

	"github.com/MrEthical07/authflow/authority"
	"github.com/MrEthical07/authflow/internal/flows"
	"github.com/MrEthical07/authflow/session"
)

type (
	// User is the authority's user summary.
	User = authority.User
	// Method is a second-factor method.
	Method = authority.Method
	// Identity is the stored authenticated identity.
	Identity = session.Identity
	// SessionChange is broadcast after every session mutation in any tab.
	SessionChange = session.Change

	// State is the flow position of the tab.
	State      = flows.State
	StateKind  = flows.StateKind
	FailReason = flows.FailReason
	Purpose    = flows.Purpose

	// Snapshot is the render-ready view of the flow.
	Snapshot           = flows.Snapshot
	Notice             = flows.Notice
	EnrollmentMaterial = flows.EnrollmentMaterial
	// FlowEvent is delivered to SubscribeFlow callbacks.
	FlowEvent     = flows.Event
	FlowEventType = flows.EventType

	// ProfileChange is a requested username or email change.
	ProfileChange = flows.ProfileChange
)

const (
	MethodEmail        = authority.MethodEmail
	MethodTOTP         = authority.MethodTOTP
	MethodRecoveryCode = authority.MethodRecoveryCode
)

const (
	Unauthenticated           = flows.Unauthenticated
	CredentialsSubmitted      = flows.CredentialsSubmitted
	EmailVerificationRequired = flows.EmailVerificationRequired
	MethodSelection           = flows.MethodSelection
	CodePending               = flows.CodePending
	TOTPSetupRequired         = flows.TOTPSetupRequired
	Authenticated             = flows.Authenticated
	Failed                    = flows.Failed
)

const (
	ReasonInvalidCredentials = flows.ReasonInvalidCredentials
	ReasonRateLimited        = flows.ReasonRateLimited
	ReasonEmailNotVerified   = flows.ReasonEmailNotVerified
	ReasonCodeInvalid        = flows.ReasonCodeInvalid
	ReasonCodeExpired        = flows.ReasonCodeExpired
	ReasonConflict           = flows.ReasonConflict
	ReasonUnauthorized       = flows.ReasonUnauthorized
)

const (
	PurposeNone            = flows.PurposeNone
	PurposeRegistration    = flows.PurposeRegistration
	PurposeVerifyThenLogin = flows.PurposeVerifyThenLogin
	PurposeLoginMFA        = flows.PurposeLoginMFA
	PurposePasswordChange  = flows.PurposePasswordChange
	PurposeProfileChange   = flows.PurposeProfileChange
	PurposeEmailChange     = flows.PurposeEmailChange
	PurposeEnrollment      = flows.PurposeEnrollment
)

const (
	EventStateChanged    = flows.EventStateChanged
	EventNavigateToEntry = flows.EventNavigateToEntry
)

// Signer signs a wallet challenge. Key custody is the caller's concern.
type Signer interface {
	SignMessage(ctx context.Context, address, message string) (string, error)
}

// SignerFunc adapts a function to Signer.
type SignerFunc func(ctx context.Context, address, message string) (string, error)

func (f SignerFunc) SignMessage(ctx context.Context, address, message string) (string, error) {
	return f(ctx, address, message)
}
