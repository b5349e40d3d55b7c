package flows

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrEthical07/authflow/authority"
)

// BeginReverify starts an in-session re-verification for a sensitive change.
func (m *Machine) BeginReverify(ctx context.Context, p Purpose) error {
	if !p.Reverify() {
		return fmt.Errorf("%w: %s is not a re-verification purpose", ErrInvalidInput, p)
	}
	m.lock()
	defer m.unlock()
	id, ok := m.deps.Sessions.Current()
	if !ok {
		return ErrNoSession
	}
	if m.inflight {
		return ErrBusy
	}
	if m.attempt != nil && !m.attempt.inSession() {
		return ErrInvalidState
	}

	a := m.newAttempt(p)
	a.user, a.hasUser = id.User, true
	a.email = id.User.Email
	if a.email != "" {
		a.methods = append(a.methods, authority.MethodEmail)
	}
	a.methods = append(a.methods, authority.MethodTOTP)
	if id.User.TwoFactorEnabled {
		a.methods = append(a.methods, authority.MethodRecoveryCode)
	}
	m.escalation = nil
	m.notice = nil
	m.replaceAttempt(ctx, a, State{Kind: MethodSelection})
	return nil
}

func (m *Machine) finishReverify(ctx context.Context, o op, a *attempt, temp, code string, method authority.Method) error {
	m.lock()
	defer m.unlock()
	m.finish(o)
	if !m.current(o) {
		return ErrSuperseded
	}
	m.escalation = &Escalation{
		Purpose:   a.purpose,
		TempToken: temp,
		Code:      code,
		Method:    method,
		IssuedAt:  m.deps.Now(),
	}
	m.inc(m.deps.Metrics.ReverifySuccess)
	m.discardAttempt(ctx)
	m.setState(State{Kind: Authenticated})
	return nil
}

// takeEscalation returns the held escalation for p. Lock held.
func (m *Machine) takeEscalation(p Purpose) (*Escalation, error) {
	if m.escalation == nil || m.escalation.Purpose != p {
		return nil, ErrNoEscalation
	}
	return m.escalation, nil
}

// settleEscalation destroys esc after a success or a definitive rejection.
// Lock held.
func (m *Machine) settleEscalation(esc *Escalation, err error) {
	if esc == nil || m.escalation != esc {
		return
	}
	if err == nil || authority.KindOf(err) != authority.KindServer {
		m.escalation = nil
	}
}

// ChangePassword consumes a password-change escalation.
func (m *Machine) ChangePassword(ctx context.Context, newPassword string) error {
	if err := m.deps.Config.Password.Check(newPassword); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	m.lock()
	id, ok := m.deps.Sessions.Current()
	if !ok {
		m.unlock()
		return ErrNoSession
	}
	esc, err := m.takeEscalation(PurposePasswordChange)
	if err != nil {
		m.unlock()
		return err
	}
	o, err := m.begin()
	if err != nil {
		m.unlock()
		return err
	}
	m.unlock()

	_, err = m.deps.Authority.ChangePassword(ctx, id.AccessToken, authority.ChangePasswordRequest{
		TempToken:   esc.TempToken,
		Code:        esc.Code,
		Method:      esc.Method,
		NewPassword: newPassword,
	})

	m.lock()
	m.finish(o)
	m.settleEscalation(esc, err)
	if err != nil {
		reject := authority.KindOf(err) == authority.KindUnauthorized
		if !reject {
			m.setNotice(NoticeError, "Could not change your password.", err)
		}
		m.unlock()
		if reject {
			m.HandleUnauthorized(ctx)
		}
		return err
	}
	m.inc(m.deps.Metrics.PasswordChanged)
	m.setNotice(NoticeInfo, "Your password has been changed.", nil)
	m.unlock()
	return nil
}

// ProfileChange is a requested identity change. Empty fields are unchanged.
type ProfileChange struct {
	Username        string
	Email           string
	CurrentPassword string
}

// UpdateProfile changes username or email under the configured
// re-verification rule. A changed email address must then be verified.
func (m *Machine) UpdateProfile(ctx context.Context, ch ProfileChange) error {
	ch.Username = strings.TrimSpace(ch.Username)
	ch.Email = strings.TrimSpace(ch.Email)

	m.lock()
	id, ok := m.deps.Sessions.Current()
	if !ok {
		m.unlock()
		return ErrNoSession
	}
	if ch.Username == id.User.Username {
		ch.Username = ""
	}
	if strings.EqualFold(ch.Email, id.User.Email) {
		ch.Email = ""
	}
	if ch.Username == "" && ch.Email == "" {
		m.unlock()
		return fmt.Errorf("%w: nothing to change", ErrInvalidInput)
	}

	upd := authority.ProfileUpdate{Username: ch.Username, Email: ch.Email}
	var esc *Escalation
	switch m.deps.Config.IdentityChange {
	case IdentityChangeRequiresPassword:
		if ch.CurrentPassword == "" {
			m.unlock()
			return authority.ErrPasswordRequired
		}
		upd.CurrentPassword = ch.CurrentPassword
	default:
		if !id.User.TwoFactorEnabled {
			m.unlock()
			return authority.ErrMFARequired
		}
		var err error
		if esc, err = m.takeEscalation(PurposeProfileChange); err != nil {
			m.unlock()
			return err
		}
		upd.VerificationCode = esc.Code
		upd.Method = esc.Method
		upd.TempToken = esc.TempToken
	}
	o, err := m.begin()
	if err != nil {
		m.unlock()
		return err
	}
	m.unlock()

	user, err := m.deps.Authority.UpdateProfile(ctx, id.AccessToken, upd)

	m.lock()
	m.finish(o)
	m.settleEscalation(esc, err)
	if err != nil {
		reject := authority.KindOf(err) == authority.KindUnauthorized
		if !reject {
			m.setNotice(NoticeError, "Could not update your profile.", err)
		}
		m.unlock()
		if reject {
			m.HandleUnauthorized(ctx)
		}
		return err
	}
	m.inc(m.deps.Metrics.ProfileUpdated)
	if upd.Email == "" || user.EmailVerified {
		m.setNotice(NoticeInfo, "Your profile has been updated.", nil)
		m.unlock()
		return nil
	}

	a := m.newAttempt(PurposeEmailChange)
	a.email = upd.Email
	a.user, a.hasUser = user, true
	a.method = authority.MethodEmail
	a.methods = []authority.Method{authority.MethodEmail}
	a.timer = m.newTimer()
	m.replaceAttempt(ctx, a, State{Kind: EmailVerificationRequired})
	m.unlock()
	return m.sendVerification(ctx)
}

func (m *Machine) finishEmailChange(ctx context.Context, o op, a *attempt) error {
	m.lock()
	m.finish(o)
	if !m.current(o) {
		m.unlock()
		return ErrSuperseded
	}
	user := a.user
	if id, ok := m.deps.Sessions.Current(); ok {
		user = id.User
	}
	user.Email = a.email
	user.EmailVerified = true
	m.discardAttempt(ctx)
	m.setNotice(NoticeInfo, "Your email address has been verified.", nil)
	m.setState(State{Kind: Authenticated})
	m.unlock()
	return m.deps.Sessions.ReplaceUser(ctx, user)
}

// DisableTOTP removes the authenticator. The session is kept.
func (m *Machine) DisableTOTP(ctx context.Context) error {
	m.lock()
	id, ok := m.deps.Sessions.Current()
	if !ok {
		m.unlock()
		return ErrNoSession
	}
	if !id.User.TwoFactorEnabled {
		m.unlock()
		return fmt.Errorf("%w: authenticator not enrolled", ErrInvalidState)
	}
	o, err := m.begin()
	if err != nil {
		m.unlock()
		return err
	}
	m.unlock()

	_, err = m.deps.Authority.DisableTOTP(ctx, id.AccessToken)

	m.lock()
	m.finish(o)
	m.unlock()
	if err != nil {
		if authority.KindOf(err) == authority.KindUnauthorized {
			m.HandleUnauthorized(ctx)
		}
		return err
	}
	u := id.User
	u.TwoFactorEnabled = false
	return m.deps.Sessions.ReplaceUser(ctx, u)
}
