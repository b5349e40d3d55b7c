package flows

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrEthical07/authflow/authority"
	"github.com/MrEthical07/authflow/internal/stores"
	"github.com/MrEthical07/authflow/internal/timer"
	"github.com/MrEthical07/authflow/password"
	"github.com/MrEthical07/authflow/session"
)

// Authority is the subset of the credential client the machine calls.
type Authority interface {
	Login(ctx context.Context, req authority.LoginRequest) (authority.LoginResult, error)
	Register(ctx context.Context, req authority.RegisterRequest) (authority.RegisterResult, error)
	VerifyMFA(ctx context.Context, tempToken string, method authority.Method, code string) (authority.LoginResult, error)
	VerifyWeb3Signature(ctx context.Context, address, challenge, signature string) (authority.LoginResult, error)
	GoogleLogin(ctx context.Context, credential string) (authority.LoginResult, error)
	Logout(ctx context.Context, token string) error

	SendEmailCode(ctx context.Context, email string) (authority.SendResult, error)
	SendMFACode(ctx context.Context, tempToken string) (authority.SendResult, error)
	CheckEmailCodeExpiry(ctx context.Context, email string) (authority.ExpiryResult, error)
	CheckMFACodeExpiry(ctx context.Context, tempToken string) (authority.ExpiryResult, error)
	VerifyEmailCode(ctx context.Context, email, code string) error

	SetupTOTP(ctx context.Context, token string) (authority.TOTPSetup, error)
	VerifyTOTP(ctx context.Context, token, code string) (authority.StatusResult, error)
	DisableTOTP(ctx context.Context, token string) (authority.StatusResult, error)

	VerifyIdentityCode(ctx context.Context, token, code string, method authority.Method) (string, error)
	ChangePassword(ctx context.Context, token string, req authority.ChangePasswordRequest) (authority.StatusResult, error)
	UpdateProfile(ctx context.Context, token string, upd authority.ProfileUpdate) (authority.User, error)
}

// Sessions is the session store as seen by the machine.
type Sessions interface {
	Current() (session.Identity, bool)
	Set(ctx context.Context, id session.Identity) error
	ReplaceUser(ctx context.Context, u authority.User) error
	Clear(ctx context.Context) error
}

// Persistence stores the tab-scoped attempt and the durable lockout.
type Persistence struct {
	SaveAttempt   func(ctx context.Context, rec *stores.AttemptRecord, ttl time.Duration) error
	LoadAttempt   func(ctx context.Context) (*stores.AttemptRecord, error)
	DeleteAttempt func(ctx context.Context) error

	SaveLockout  func(ctx context.Context, until, now time.Time) error
	LoadLockout  func(ctx context.Context, now time.Time) (time.Time, bool, error)
	ClearLockout func(ctx context.Context) error
}

// IdentityChangeRule is the re-verification required to change username or
// email.
type IdentityChangeRule uint8

const (
	IdentityChangeRequiresMFA IdentityChangeRule = iota
	IdentityChangeRequiresPassword
)

// Config holds machine policy.
type Config struct {
	Timer timer.Config
	// NoticeTTL is how long a notice stays visible.
	NoticeTTL time.Duration
	// AttemptGrace is how long an expired attempt lingers before it is
	// discarded.
	AttemptGrace time.Duration
	// RegistrationSendsCode means the authority dispatches the first email
	// code itself when an account is created.
	RegistrationSendsCode bool
	// EnrollmentMandatory requires every account to enroll TOTP before its
	// session is committed.
	EnrollmentMandatory bool
	IdentityChange      IdentityChangeRule
	Password            password.Policy
}

// Metrics carries the metric IDs the machine increments.
type Metrics struct {
	LoginSuccess        int
	LoginFailure        int
	LoginRateLimited    int
	MFARequired         int
	MFASuccess          int
	MFAFailure          int
	CodeSent            int
	CodeResent          int
	CodeExpired         int
	CodeInvalid         int
	ResyncSuccess       int
	ResyncFailure       int
	ResyncDiscarded     int
	RegistrationSuccess int
	EnrollmentCompleted int
	ReverifySuccess     int
	PasswordChanged     int
	ProfileUpdated      int
	FlowCancelled       int
	SessionRejected     int
}

// Deps are the machine's collaborators.
type Deps struct {
	Authority Authority
	Sessions  Sessions
	Persist   Persistence
	Config    Config
	Now       func() time.Time
	Logger    *slog.Logger

	Metrics Metrics
	Inc     func(id int)
	// Emit receives every event after the lock is released.
	Emit func(Event)
}
