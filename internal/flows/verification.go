package flows

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authflow/authority"
	"github.com/MrEthical07/authflow/internal/ids"
	"github.com/MrEthical07/authflow/internal/timer"
)

// codeState reports whether the current step tracks an email code.
func (m *Machine) codeState() bool {
	a := m.attempt
	if a == nil || a.timer == nil || a.method != authority.MethodEmail {
		return false
	}
	switch m.state.Kind {
	case CodePending, EmailVerificationRequired:
		return true
	case Failed:
		return m.state.Reason == ReasonCodeInvalid || m.state.Reason == ReasonEmailNotVerified
	}
	return false
}

// resendAllowed reports whether the current step accepts a resend, ignoring
// the cooldown.
func (m *Machine) resendAllowed() bool {
	a := m.attempt
	if a == nil || a.timer == nil {
		return false
	}
	switch m.state.Kind {
	case CodePending:
		return m.state.Method == authority.MethodEmail
	case EmailVerificationRequired:
		return true
	case Failed:
		switch m.state.Reason {
		case ReasonCodeExpired, ReasonEmailNotVerified:
			return true
		case ReasonCodeInvalid:
			return a.method == authority.MethodEmail
		}
	}
	return false
}

// sendVerification requests an email code for the current attempt.
func (m *Machine) sendVerification(ctx context.Context) error {
	m.lock()
	a := m.attempt
	if a == nil || a.timer == nil {
		m.unlock()
		return ErrInvalidState
	}
	o, err := m.begin()
	if err != nil {
		m.unlock()
		return err
	}
	resend := a.timer.State().CodeIssued
	stamp := a.timer.BeginSend()
	m.unlock()

	var res authority.SendResult
	if a.purpose == PurposeLoginMFA {
		res, err = m.deps.Authority.SendMFACode(ctx, a.tempToken)
	} else {
		res, err = m.deps.Authority.SendEmailCode(ctx, a.email)
	}

	m.lock()
	m.finish(o)
	if !m.current(o) {
		m.unlock()
		return ErrSuperseded
	}
	if err != nil {
		reject := m.requestFailed(ctx, a, err)
		m.unlock()
		if reject {
			m.HandleUnauthorized(ctx)
		}
		return err
	}

	a.timer.ApplySend(stamp, m.deps.Now(), timer.Send{
		Cooldown:  res.ResendCooldown,
		ExpiresIn: res.ExpiresIn,
		HasExpiry: res.HasExpiry,
	})
	a.method = authority.MethodEmail
	if resend {
		m.inc(m.deps.Metrics.CodeResent)
	} else {
		m.inc(m.deps.Metrics.CodeSent)
	}
	m.setNotice(NoticeInfo, "A verification code has been sent to your email.", nil)
	m.setState(pending(authority.MethodEmail))
	m.persist(ctx)
	m.unlock()
	return nil
}

// requestFailed applies a failed send or verification request. It must be
// called with the lock held and reports whether the session was rejected.
func (m *Machine) requestFailed(ctx context.Context, a *attempt, err error) bool {
	switch authority.KindOf(err) {
	case authority.KindRateLimited:
		retry, _ := authority.RetryAfter(err)
		m.setNotice(NoticeError, fmt.Sprintf("Too many requests. Please wait %d seconds.", timer.Remaining(m.deps.Now().Add(retry), m.deps.Now())), err)
	case authority.KindUnauthorized:
		if a.inSession() {
			return true
		}
		m.discardAttempt(ctx)
		m.setNotice(NoticeError, "Your sign-in has expired. Please sign in again.", err)
		m.setState(failed(ReasonUnauthorized, Unauthenticated))
	default:
		m.setNotice(NoticeError, "Request failed. Please try again.", err)
	}
	return false
}

// Resend requests a new email code once the cooldown has elapsed.
func (m *Machine) Resend(ctx context.Context) error {
	m.lock()
	if !m.resendAllowed() {
		m.unlock()
		return ErrInvalidState
	}
	now := m.deps.Now()
	if c := m.attempt.timer.Countdown(now); c.CooldownIn > 0 {
		m.unlock()
		return fmt.Errorf("%w: %ds remaining", ErrCooldown, c.CooldownIn)
	}
	m.unlock()
	return m.sendVerification(ctx)
}

// SelectMethod chooses how to complete the pending attempt.
func (m *Machine) SelectMethod(ctx context.Context, method authority.Method) error {
	m.lock()
	a := m.attempt
	if a == nil {
		m.unlock()
		return ErrInvalidState
	}
	switch {
	case m.state.Kind == MethodSelection:
	case (m.state.Kind == CodePending || m.state.Kind == Failed) && len(a.methods) > 1:
	default:
		m.unlock()
		return ErrInvalidState
	}
	if m.inflight {
		m.unlock()
		return ErrBusy
	}
	if !method.Valid() || !a.offers(method) {
		m.unlock()
		return fmt.Errorf("%w: %s", ErrMethodUnavailable, method)
	}

	switch method {
	case authority.MethodEmail:
		if a.timer == nil {
			a.timer = m.newTimer()
		}
		a.method = authority.MethodEmail
		now := m.deps.Now()
		if a.timer.State().CodeIssued && !a.timer.Expired(now) {
			m.setState(pending(authority.MethodEmail))
			m.persist(ctx)
			m.unlock()
			return nil
		}
		m.unlock()
		return m.sendVerification(ctx)

	case authority.MethodTOTP, authority.MethodRecoveryCode:
		if a.inSession() && !a.user.TwoFactorEnabled {
			if method == authority.MethodRecoveryCode {
				m.unlock()
				return fmt.Errorf("%w: %s", ErrMethodUnavailable, method)
			}
			m.unlock()
			return m.StartEnrollment(ctx)
		}
		a.method = method
		m.setState(pending(method))
		m.persist(ctx)
		m.unlock()
		return nil
	}
	m.unlock()
	return ErrMethodUnavailable
}

func validateCode(method authority.Method, code string) error {
	if method == authority.MethodRecoveryCode {
		if code == "" || len(code) > 64 {
			return fmt.Errorf("%w: recovery code is required", ErrInvalidInput)
		}
		for _, r := range code {
			if !(r == '-' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
				return fmt.Errorf("%w: recovery code has invalid characters", ErrInvalidInput)
			}
		}
		return nil
	}
	if len(code) != 6 {
		return fmt.Errorf("%w: code must be 6 digits", ErrInvalidInput)
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: code must be 6 digits", ErrInvalidInput)
		}
	}
	return nil
}

// SubmitCode answers the pending challenge.
func (m *Machine) SubmitCode(ctx context.Context, code string) error {
	code = strings.TrimSpace(code)

	m.lock()
	a := m.attempt
	if a == nil {
		m.unlock()
		return ErrInvalidState
	}
	switch {
	case m.state.Kind == CodePending:
	case m.state.Kind == Failed && m.state.Reason == ReasonCodeInvalid:
	case m.state.Kind == Failed && m.state.Reason == ReasonCodeExpired:
		m.unlock()
		return fmt.Errorf("%w: request a new code", authority.ErrCodeExpired)
	default:
		m.unlock()
		return ErrInvalidState
	}
	method := a.method
	if err := validateCode(method, code); err != nil {
		m.unlock()
		return err
	}
	if method == authority.MethodEmail && a.timer != nil {
		now := m.deps.Now()
		if !a.timer.State().CodeIssued {
			m.unlock()
			return ErrNoCodeIssued
		}
		if a.timer.Expired(now) {
			m.expire(ctx)
			m.unlock()
			return authority.ErrCodeExpired
		}
	}
	o, err := m.begin()
	if err != nil {
		m.unlock()
		return err
	}
	token := m.sessionToken(a)
	m.unlock()

	switch a.purpose {
	case PurposeRegistration, PurposeVerifyThenLogin:
		if err := m.deps.Authority.VerifyEmailCode(ctx, a.email, code); err != nil {
			return m.codeFailed(ctx, o, a, err)
		}
		return m.replayLogin(ctx, o, a)

	case PurposeEmailChange:
		if err := m.deps.Authority.VerifyEmailCode(ctx, a.email, code); err != nil {
			return m.codeFailed(ctx, o, a, err)
		}
		return m.finishEmailChange(ctx, o, a)

	case PurposeLoginMFA:
		res, err := m.deps.Authority.VerifyMFA(m.loginCtx(ctx), a.tempToken, method, code)
		if err != nil {
			return m.codeFailed(ctx, o, a, err)
		}
		if res.User.ID == 0 {
			res.User = a.user
		}
		m.inc(m.deps.Metrics.MFASuccess)
		return m.completeLogin(ctx, o, State{Kind: MethodSelection}, res, nil, credentials{})

	case PurposeEnrollment:
		if _, err := m.deps.Authority.VerifyTOTP(ctx, token, code); err != nil {
			return m.codeFailed(ctx, o, a, err)
		}
		return m.finishEnrollment(ctx, o, a)

	case PurposePasswordChange, PurposeProfileChange:
		temp, err := m.deps.Authority.VerifyIdentityCode(ctx, token, code, method)
		if err != nil {
			return m.codeFailed(ctx, o, a, err)
		}
		return m.finishReverify(ctx, o, a, temp, code, method)
	}

	m.lock()
	m.finish(o)
	m.unlock()
	return ErrInvalidState
}

// sessionToken is the bearer token for an attempt's authenticated calls.
func (m *Machine) sessionToken(a *attempt) string {
	if a.deferred != nil {
		return a.deferred.AccessToken
	}
	if id, ok := m.deps.Sessions.Current(); ok {
		return id.AccessToken
	}
	return ""
}

func (m *Machine) codeFailed(ctx context.Context, o op, a *attempt, err error) error {
	m.lock()
	m.finish(o)
	if !m.current(o) {
		m.unlock()
		return ErrSuperseded
	}
	if a.purpose == PurposeLoginMFA {
		m.inc(m.deps.Metrics.MFAFailure)
	}

	var reject bool
	switch authority.KindOf(err) {
	case authority.KindCodeInvalid, authority.KindInvalidInput, authority.KindInvalidCredentials:
		m.inc(m.deps.Metrics.CodeInvalid)
		m.setNotice(NoticeError, "The verification code is incorrect.", err)
		m.setState(failed(ReasonCodeInvalid, CodePending))
		m.persist(ctx)
	case authority.KindCodeExpired:
		m.expire(ctx)
	default:
		reject = m.requestFailed(ctx, a, err)
	}
	m.unlock()
	if reject {
		m.HandleUnauthorized(ctx)
	}
	return err
}

// expire moves the attempt to Failed(CodeExpired). Lock held.
func (m *Machine) expire(ctx context.Context) {
	if m.state.Kind == Failed && m.state.Reason == ReasonCodeExpired {
		return
	}
	m.inc(m.deps.Metrics.CodeExpired)
	m.setNotice(NoticeError, "The verification code has expired. Please request a new one.", authority.ErrCodeExpired)
	m.setState(failed(ReasonCodeExpired, CodePending))
	m.persist(ctx)
}

// replayLogin signs in with the credentials carried through verification.
func (m *Machine) replayLogin(ctx context.Context, o op, a *attempt) error {
	m.lock()
	m.finish(o)
	if !m.current(o) {
		m.unlock()
		return ErrSuperseded
	}
	cred := credentials{login: a.login, password: a.password}
	m.discardAttempt(ctx)
	m.notice = nil
	o2, err := m.begin()
	if err != nil {
		m.unlock()
		return err
	}
	m.setState(State{Kind: CredentialsSubmitted})
	m.unlock()

	res, err := m.deps.Authority.Login(m.loginCtx(ctx), authority.LoginRequest{Login: cred.login, Password: cred.password})
	return m.completeLogin(ctx, o2, State{Kind: Unauthenticated}, res, err, credentials{})
}

type syncJob struct {
	a     *attempt
	stamp ids.Stamp
}

// Tick advances time-driven transitions: lockout release, notice
// dismissal, code expiry, hard expiry of abandoned attempts and periodic
// expiry resync. The resync request runs on the calling goroutine.
func (m *Machine) Tick(ctx context.Context) {
	m.lock()
	now := m.deps.Now()

	if !m.lockoutUntil.IsZero() && !now.Before(m.lockoutUntil) {
		m.lockoutUntil = time.Time{}
		if m.deps.Persist.ClearLockout != nil {
			if err := m.deps.Persist.ClearLockout(ctx); err != nil {
				m.logger.Warn("flows: clear login lockout failed", "err", err)
			}
		}
		if m.state.Kind == Failed && m.state.Reason == ReasonRateLimited {
			m.notice = nil
			m.setState(State{Kind: Unauthenticated})
		}
	}
	if m.notice != nil && !now.Before(m.notice.Until) {
		m.notice = nil
	}

	var job *syncJob
	if a := m.attempt; a != nil && !m.inflight {
		grace := m.deps.Config.AttemptGrace
		if grace <= 0 {
			grace = 15 * time.Minute
		}
		switch {
		case a.timer != nil && a.timer.Expired(now) && now.Sub(a.timer.State().ExpiresAt) >= grace:
			m.discardAttempt(ctx)
			m.setState(m.homeState())
		case a.timer == nil && now.Sub(a.createdAt) >= grace:
			m.discardAttempt(ctx)
			m.setState(m.homeState())
		case a.timer != nil:
			if a.timer.Tick(now) && m.codeState() {
				m.expire(ctx)
			}
			if !m.syncing && m.codeState() && a.timer.ResyncDue(now) {
				m.syncing = true
				job = &syncJob{a: a, stamp: a.timer.BeginSync(now)}
			}
		}
	}
	m.unlock()

	if job != nil {
		m.resync(ctx, job)
	}
}

func (m *Machine) resync(ctx context.Context, job *syncJob) {
	a := job.a
	var (
		res authority.ExpiryResult
		err error
	)
	if a.purpose == PurposeLoginMFA {
		res, err = m.deps.Authority.CheckMFACodeExpiry(ctx, a.tempToken)
	} else {
		res, err = m.deps.Authority.CheckEmailCodeExpiry(ctx, a.email)
	}

	m.lock()
	defer m.unlock()
	if m.attempt != a {
		return
	}
	m.syncing = false
	now := m.deps.Now()
	if err != nil {
		a.timer.SyncFailed(now)
		m.inc(m.deps.Metrics.ResyncFailure)
		m.logger.Warn("flows: code expiry resync failed", "attempt", a.id, "err", err)
		return
	}
	if !a.timer.ApplySync(job.stamp, now, timer.Sync{HasCode: res.HasCode, ExpiresIn: res.ExpiresIn}) {
		m.inc(m.deps.Metrics.ResyncDiscarded)
		return
	}
	m.inc(m.deps.Metrics.ResyncSuccess)
	if a.timer.Tick(now) && m.codeState() {
		m.expire(ctx)
	}
	m.persist(ctx)
}
