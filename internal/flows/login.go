package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authflow/authority"
	"github.com/MrEthical07/authflow/session"
)

// loginCtx defers the session write when enrollment may have to happen
// before the session is committed.
func (m *Machine) loginCtx(ctx context.Context) context.Context {
	if m.deps.Config.EnrollmentMandatory {
		return authority.WithDeferredSession(ctx)
	}
	return ctx
}

func (m *Machine) lockoutRemaining(now time.Time) time.Duration {
	if m.lockoutUntil.IsZero() || !now.Before(m.lockoutUntil) {
		return 0
	}
	return m.lockoutUntil.Sub(now)
}

func lockedOut(remaining time.Duration) error {
	secs := (remaining + time.Second - 1) / time.Second
	return fmt.Errorf("%w: %w", ErrLockedOut, &authority.Error{Kind: authority.KindRateLimited, RetryAfter: secs * time.Second, Message: "login temporarily locked"})
}

// startPrimary validates that a primary authentication may begin and moves
// to CredentialsSubmitted.
func (m *Machine) startPrimary(ctx context.Context) (op, State, error) {
	now := m.deps.Now()
	if rem := m.lockoutRemaining(now); rem > 0 {
		return op{}, State{}, lockedOut(rem)
	}
	if m.state.Kind == CredentialsSubmitted {
		return op{}, State{}, ErrBusy
	}
	if _, ok := m.deps.Sessions.Current(); ok {
		return op{}, State{}, fmt.Errorf("%w: already signed in", ErrInvalidState)
	}
	prev := m.state
	if prev.Kind == Failed && prev.Reason == ReasonRateLimited {
		prev = State{Kind: Unauthenticated}
	}
	m.discardAttempt(ctx)
	m.notice = nil
	o, err := m.begin()
	if err != nil {
		return op{}, State{}, err
	}
	m.setState(State{Kind: CredentialsSubmitted})
	return o, prev, nil
}

// Login submits primary credentials.
func (m *Machine) Login(ctx context.Context, login, pass string) error {
	login = strings.TrimSpace(login)
	if login == "" || pass == "" {
		return fmt.Errorf("%w: login and password are required", ErrInvalidInput)
	}

	m.lock()
	o, prev, err := m.startPrimary(ctx)
	m.unlock()
	if err != nil {
		return err
	}

	res, err := m.deps.Authority.Login(m.loginCtx(ctx), authority.LoginRequest{Login: login, Password: pass})
	return m.completeLogin(ctx, o, prev, res, err, credentials{login: login, password: pass})
}

// LoginWithWeb3Signature exchanges a signed wallet challenge for a session.
func (m *Machine) LoginWithWeb3Signature(ctx context.Context, address, challenge, signature string) error {
	address = strings.TrimSpace(address)
	if address == "" || challenge == "" || signature == "" {
		return fmt.Errorf("%w: address, challenge and signature are required", ErrInvalidInput)
	}
	m.lock()
	o, prev, err := m.startPrimary(ctx)
	m.unlock()
	if err != nil {
		return err
	}
	res, err := m.deps.Authority.VerifyWeb3Signature(m.loginCtx(ctx), address, challenge, signature)
	return m.completeLogin(ctx, o, prev, res, err, credentials{})
}

// LoginWithGoogle exchanges a Google ID token for a session.
func (m *Machine) LoginWithGoogle(ctx context.Context, credential string) error {
	if strings.TrimSpace(credential) == "" {
		return fmt.Errorf("%w: credential is required", ErrInvalidInput)
	}
	m.lock()
	o, prev, err := m.startPrimary(ctx)
	m.unlock()
	if err != nil {
		return err
	}
	res, err := m.deps.Authority.GoogleLogin(m.loginCtx(ctx), credential)
	return m.completeLogin(ctx, o, prev, res, err, credentials{})
}

type credentials struct {
	login    string
	password string
}

// completeLogin applies the outcome of any primary authentication, including
// the replay after email verification.
func (m *Machine) completeLogin(ctx context.Context, o op, prev State, res authority.LoginResult, callErr error, cred credentials) error {
	m.lock()
	m.finish(o)
	if !m.current(o) {
		// The authority's session write reaches the machine through the
		// session store before the call returns.
		done := callErr == nil && m.state.Kind == Authenticated
		m.unlock()
		if done {
			return nil
		}
		return ErrSuperseded
	}
	now := m.deps.Now()

	if callErr != nil {
		m.inc(m.deps.Metrics.LoginFailure)
		err := m.loginFailed(ctx, prev, callErr, cred, now)
		m.unlock()
		if errors.Is(callErr, authority.ErrNotVerified) && cred.login != "" {
			return m.sendVerification(ctx)
		}
		return err
	}

	if res.RequiresMFA {
		a := m.newAttempt(PurposeLoginMFA)
		a.tempToken = res.TempToken
		a.methods = res.MFAMethods
		a.user, a.hasUser = res.User, true
		a.email = res.User.Email
		m.inc(m.deps.Metrics.MFARequired)
		m.replaceAttempt(ctx, a, State{Kind: MethodSelection})
		m.unlock()
		return nil
	}

	m.inc(m.deps.Metrics.LoginSuccess)
	if m.deps.Config.EnrollmentMandatory {
		if !res.User.TwoFactorEnabled {
			sess := res.Session()
			a := m.newAttempt(PurposeEnrollment)
			a.deferred = &sess
			a.user, a.hasUser = res.User, true
			a.email = res.User.Email
			m.replaceAttempt(ctx, a, State{Kind: TOTPSetupRequired})
			m.unlock()
			return m.fetchEnrollment(ctx)
		}
		m.unlock()
		return m.commit(ctx, res.Session())
	}
	m.setState(State{Kind: Authenticated})
	m.unlock()
	return nil
}

// loginFailed maps a primary authentication error to the next state. It must
// be called with the lock held.
func (m *Machine) loginFailed(ctx context.Context, prev State, err error, cred credentials, now time.Time) error {
	switch authority.KindOf(err) {
	case authority.KindRateLimited:
		retry, _ := authority.RetryAfter(err)
		m.lockoutUntil = now.Add(retry)
		if m.deps.Persist.SaveLockout != nil {
			if perr := m.deps.Persist.SaveLockout(ctx, m.lockoutUntil, now); perr != nil {
				m.logger.Warn("flows: persist login lockout failed", "err", perr)
			}
		}
		m.inc(m.deps.Metrics.LoginRateLimited)
		m.setNotice(NoticeError, "Too many login attempts. Please wait before trying again.", err)
		m.setState(failed(ReasonRateLimited, Unauthenticated))
	case authority.KindNotVerified:
		if cred.login == "" {
			m.setNotice(NoticeError, "Your email address is not verified.", err)
			m.setState(failed(ReasonEmailNotVerified, Unauthenticated))
			return err
		}
		a := m.newAttempt(PurposeVerifyThenLogin)
		a.email = cred.login
		a.login, a.password = cred.login, cred.password
		a.method = authority.MethodEmail
		a.methods = []authority.Method{authority.MethodEmail}
		a.timer = m.newTimer()
		m.setNotice(NoticeInfo, "Please verify your email address to continue.", err)
		m.replaceAttempt(ctx, a, failed(ReasonEmailNotVerified, CodePending))
	case authority.KindInvalidCredentials:
		m.setNotice(NoticeError, "Invalid username or password.", err)
		m.setState(failed(ReasonInvalidCredentials, Unauthenticated))
	case authority.KindUnauthorized:
		m.setNotice(NoticeError, "Sign-in was rejected.", err)
		m.setState(failed(ReasonUnauthorized, Unauthenticated))
	default:
		m.setNotice(NoticeError, "Could not reach the server. Please try again.", err)
		m.setState(prev)
	}
	return err
}

// commit writes a deferred session. The session store notification moves
// the flow to Authenticated.
func (m *Machine) commit(ctx context.Context, s authority.Session) error {
	err := m.deps.Sessions.Set(ctx, session.Identity{AccessToken: s.AccessToken, RefreshToken: s.RefreshToken, User: s.User})
	if err != nil {
		m.lock()
		m.setNotice(NoticeError, "Could not save your session.", err)
		m.unlock()
		return err
	}
	m.lock()
	m.setState(State{Kind: Authenticated})
	m.unlock()
	return nil
}

// Register creates an account and starts email verification.
func (m *Machine) Register(ctx context.Context, username, email, pass string) error {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" || email == "" || pass == "" {
		return fmt.Errorf("%w: username, email and password are required", ErrInvalidInput)
	}
	if err := m.deps.Config.Password.Check(pass); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	m.lock()
	o, prev, err := m.startPrimary(ctx)
	m.unlock()
	if err != nil {
		return err
	}

	res, err := m.deps.Authority.Register(ctx, authority.RegisterRequest{Username: username, Email: email, Password: pass})

	m.lock()
	m.finish(o)
	if !m.current(o) {
		m.unlock()
		return ErrSuperseded
	}
	if err != nil {
		switch authority.KindOf(err) {
		case authority.KindConflict:
			m.setNotice(NoticeError, conflictMessage(err), err)
			m.setState(failed(ReasonConflict, Unauthenticated))
		case authority.KindInvalidInput:
			m.setNotice(NoticeError, "Registration details were rejected.", err)
			m.setState(prev)
		default:
			m.setNotice(NoticeError, "Registration failed. Please try again.", err)
			m.setState(prev)
		}
		m.unlock()
		return err
	}

	now := m.deps.Now()
	a := m.newAttempt(PurposeRegistration)
	a.email = email
	a.login, a.password = username, pass
	a.user, a.hasUser = res.User, true
	a.method = authority.MethodEmail
	a.methods = []authority.Method{authority.MethodEmail}
	a.timer = m.newTimer()
	m.inc(m.deps.Metrics.RegistrationSuccess)
	m.replaceAttempt(ctx, a, State{Kind: EmailVerificationRequired})

	if m.deps.Config.RegistrationSendsCode {
		a.timer.MarkIssued(now)
		m.setState(pending(authority.MethodEmail))
		m.persist(ctx)
		m.unlock()
		return nil
	}
	m.unlock()
	return m.sendVerification(ctx)
}

func conflictMessage(err error) string {
	var ae *authority.Error
	if errors.As(err, &ae) {
		switch ae.Field {
		case "email":
			return "This email is already registered."
		case "username":
			return "This username is already taken."
		}
	}
	return "An account with these details already exists."
}
