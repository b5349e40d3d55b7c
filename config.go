package authflow

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/authflow/password"
)

// Config controls a Client.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	Authority    AuthorityConfig
	Session      SessionConfig
	Verification VerificationConfig
	Lockout      LockoutConfig
	Policy       PolicyConfig
	Refresh      RefreshConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
}

/*
====================================
AUTHORITY CONFIG
====================================
*/

// AuthorityConfig locates the remote authority.
type AuthorityConfig struct {
	// BaseURL is the scheme and host of the authority; the API prefix is
	// appended by the credential client.
	BaseURL string
	// GoogleClientID is handed to the UI for the Google sign-in button.
	GoogleClientID string
	Timeout        time.Duration
	UserAgent      string
	// RequireHTTPS rejects a plain http BaseURL.
	RequireHTTPS bool
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls durable storage. Every key the client writes lives
// under RedisPrefix.
type SessionConfig struct {
	RedisPrefix string
}

/*
====================================
VERIFICATION CONFIG
====================================
*/

// VerificationConfig controls code countdowns and their resynchronization.
type VerificationConfig struct {
	// TickInterval drives countdown expiry and resyncs. Zero disables the
	// background driver; the caller then calls Tick.
	TickInterval time.Duration
	// NoticeTTL is how long a surfaced error stays visible.
	NoticeTTL time.Duration
	// GuardWindow is the last stretch of a code's life in which no resync
	// is attempted.
	GuardWindow time.Duration
	// ResyncInterval is the period of the expiry resync.
	ResyncInterval time.Duration
	// DefaultCooldown applies when the authority sends a code without a
	// cooldown hint.
	DefaultCooldown time.Duration
	// AttemptGrace keeps an expired attempt restorable for a while so a
	// reload still shows the expiry.
	AttemptGrace time.Duration
	// RegistrationSendsCode means the authority dispatches the first email
	// code itself when an account is created.
	RegistrationSendsCode bool
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig controls the login rate-limit record.
type LockoutConfig struct {
	// Shared stores the lockout under the common prefix so every tab sees
	// it. When false the lockout is scoped to the tab ID.
	Shared bool
}

/*
====================================
POLICY CONFIG
====================================
*/

// EnrollmentPolicy says whether TOTP enrollment may be skipped.
type EnrollmentPolicy uint8

const (
	EnrollmentOptional EnrollmentPolicy = iota
	EnrollmentMandatory
)

// IdentityChangeRule is the re-verification required before a username or
// email change.
type IdentityChangeRule uint8

const (
	// IdentityChangeRequiresMFA demands an MFA-enabled account and a fresh
	// profile-change re-verification.
	IdentityChangeRequiresMFA IdentityChangeRule = iota
	// IdentityChangeRequiresPassword demands the current password.
	IdentityChangeRequiresPassword
)

// PolicyConfig holds account rules enforced before any network call.
type PolicyConfig struct {
	TOTPEnrollment EnrollmentPolicy
	IdentityChange IdentityChangeRule
	Password       password.Policy
}

/*
====================================
REFRESH CONFIG
====================================
*/

// RefreshConfig controls renewal of the access token.
type RefreshConfig struct {
	Enabled bool
	// Leeway renews a token this long before it expires.
	Leeway time.Duration
	// CheckInterval is how often the refresh loop inspects the token.
	CheckInterval time.Duration
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls asynchronous delivery of flow audit events.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

func defaultConfig() Config {
	return Config{
		Authority: AuthorityConfig{
			Timeout:   15 * time.Second,
			UserAgent: "authflow",
		},
		Session: SessionConfig{
			RedisPrefix: "af",
		},
		Verification: VerificationConfig{
			TickInterval:    time.Second,
			NoticeTTL:       5 * time.Second,
			GuardWindow:     3 * time.Second,
			ResyncInterval:  30 * time.Second,
			DefaultCooldown: 60 * time.Second,
			AttemptGrace:    15 * time.Minute,
		},
		Lockout: LockoutConfig{
			Shared: true,
		},
		Policy: PolicyConfig{
			TOTPEnrollment: EnrollmentOptional,
			IdentityChange: IdentityChangeRequiresMFA,
			Password:       password.DefaultPolicy(),
		},
		Refresh: RefreshConfig{
			Enabled:       true,
			Leeway:        30 * time.Second,
			CheckInterval: 15 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

// DefaultConfig returns the configuration a Builder starts from.
func DefaultConfig() Config {
	return defaultConfig()
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Authority.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Authority.BaseURL), "/")
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	// Authority
	base := strings.TrimSpace(c.Authority.BaseURL)
	if base == "" {
		return errors.New("Authority BaseURL must be set")
	}
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return errors.New("Authority BaseURL must be an absolute URL")
	}
	switch u.Scheme {
	case "https":
	case "http":
		if c.Authority.RequireHTTPS {
			return errors.New("Authority BaseURL must use https when RequireHTTPS is true")
		}
	default:
		return errors.New("Authority BaseURL scheme must be http or https")
	}
	if c.Authority.Timeout < 0 {
		return errors.New("Authority Timeout must be >= 0")
	}

	// Session
	if strings.TrimSpace(c.Session.RedisPrefix) == "" {
		return errors.New("Session RedisPrefix must be set")
	}
	if strings.ContainsAny(c.Session.RedisPrefix, " \t\r\n") {
		return errors.New("Session RedisPrefix must not contain whitespace")
	}

	// Verification
	v := c.Verification
	if v.TickInterval < 0 {
		return errors.New("Verification TickInterval must be >= 0")
	}
	if v.TickInterval > time.Minute {
		return errors.New("Verification TickInterval must be <= 1m")
	}
	if v.NoticeTTL <= 0 {
		return errors.New("Verification NoticeTTL must be > 0")
	}
	if v.GuardWindow < 0 {
		return errors.New("Verification GuardWindow must be >= 0")
	}
	if v.ResyncInterval <= 0 {
		return errors.New("Verification ResyncInterval must be > 0")
	}
	if v.GuardWindow >= v.ResyncInterval {
		return errors.New("Verification GuardWindow must be shorter than ResyncInterval")
	}
	if v.DefaultCooldown <= 0 {
		return errors.New("Verification DefaultCooldown must be > 0")
	}
	if v.AttemptGrace < 0 {
		return errors.New("Verification AttemptGrace must be >= 0")
	}

	// Policy
	if c.Policy.TOTPEnrollment > EnrollmentMandatory {
		return errors.New("Policy TOTPEnrollment is invalid")
	}
	if c.Policy.IdentityChange > IdentityChangeRequiresPassword {
		return errors.New("Policy IdentityChange is invalid")
	}
	if err := c.Policy.Password.Validate(); err != nil {
		return err
	}

	// Refresh
	if c.Refresh.Enabled {
		if c.Refresh.Leeway < 0 {
			return errors.New("Refresh Leeway must be >= 0")
		}
		if c.Refresh.CheckInterval <= 0 {
			return errors.New("Refresh CheckInterval must be > 0 when Refresh is enabled")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when Audit is enabled")
	}

	return nil
}
