package authority

import "time"

// Method is a second-factor verification method.
type Method string

const (
	MethodEmail        Method = "email"
	MethodTOTP         Method = "totp"
	MethodRecoveryCode Method = "recovery_code"
)

// Valid reports whether m is a known method.
func (m Method) Valid() bool {
	switch m {
	case MethodEmail, MethodTOTP, MethodRecoveryCode:
		return true
	}
	return false
}

// User is the user summary returned by the authority.
type User struct {
	ID               int64      `json:"id"`
	Username         string     `json:"username"`
	Email            string     `json:"email,omitempty"`
	Role             string     `json:"role"`
	EmailVerified    bool       `json:"email_verified"`
	TwoFactorEnabled bool       `json:"two_factor_enabled"`
	WalletAddress    string     `json:"wallet_address,omitempty"`
	Banned           bool       `json:"is_banned,omitempty"`
	BannedUntil      *time.Time `json:"banned_until,omitempty"`
}

// Session is the credential material handed to a SessionWriter.
type Session struct {
	AccessToken  string
	RefreshToken string
	User         User
}

// LoginRequest carries primary credentials. Login accepts a username or an
// email address.
type LoginRequest struct {
	Login    string `json:"username"`
	Password string `json:"password"`
}

// RegisterRequest creates a new account.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResult is the outcome of any primary authentication step. Exactly one
// of Token or TempToken is set.
type LoginResult struct {
	Token        string
	RefreshToken string
	User         User
	RequiresMFA  bool
	TempToken    string
	MFAMethods   []Method
}

// Session returns the established session material.
func (r LoginResult) Session() Session {
	return Session{AccessToken: r.Token, RefreshToken: r.RefreshToken, User: r.User}
}

// RegisterResult is returned by Register.
type RegisterResult struct {
	Message string
	User    User
}

// SendResult is returned by code send operations. A zero duration means the
// authority did not report it.
type SendResult struct {
	ResendCooldown time.Duration
	ExpiresIn      time.Duration
	HasExpiry      bool
}

// ExpiryResult is the authority's current view of an outstanding code.
type ExpiryResult struct {
	HasCode   bool
	ExpiresIn time.Duration
}

// TOTPSetup is the one-time enrollment material for an authenticator app.
type TOTPSetup struct {
	Secret        string
	EnrollmentURI string
	RecoveryCodes []string
}

// StatusResult is a generic acknowledgement.
type StatusResult struct {
	Success bool
	Message string
}

// ChangePasswordRequest carries the escalation obtained by VerifyIdentityCode.
type ChangePasswordRequest struct {
	TempToken   string
	Code        string
	Method      Method
	NewPassword string
}

// ProfileUpdate changes identity fields. Empty fields are left unchanged.
// VerificationCode or CurrentPassword satisfy the authority's re-verification
// requirement.
type ProfileUpdate struct {
	Username         string
	Email            string
	VerificationCode string
	Method           Method
	TempToken        string
	CurrentPassword  string
}

// RefreshResult carries a renewed access token.
type RefreshResult struct {
	Token        string
	RefreshToken string
}
