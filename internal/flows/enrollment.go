package flows

import (
	"context"
	"fmt"
	"io"

	"github.com/MrEthical07/authflow/authority"
)

// StartEnrollment fetches authenticator material. In TOTPSetupRequired it
// (re)issues the material; from an established session without TOTP it
// starts an in-session enrollment.
func (m *Machine) StartEnrollment(ctx context.Context) error {
	m.lock()
	a := m.attempt
	switch {
	case m.state.Kind == TOTPSetupRequired && a != nil && a.purpose == PurposeEnrollment:
	case a == nil || a.inSession():
		id, ok := m.deps.Sessions.Current()
		if !ok {
			m.unlock()
			return ErrNoSession
		}
		if id.User.TwoFactorEnabled {
			m.unlock()
			return fmt.Errorf("%w: authenticator already enrolled", ErrInvalidState)
		}
		if m.inflight {
			m.unlock()
			return ErrBusy
		}
		na := m.newAttempt(PurposeEnrollment)
		na.user, na.hasUser = id.User, true
		na.email = id.User.Email
		m.escalation = nil
		m.replaceAttempt(ctx, na, State{Kind: TOTPSetupRequired})
	default:
		m.unlock()
		return ErrInvalidState
	}
	m.unlock()
	return m.fetchEnrollment(ctx)
}

func (m *Machine) fetchEnrollment(ctx context.Context) error {
	m.lock()
	a := m.attempt
	if a == nil || a.purpose != PurposeEnrollment {
		m.unlock()
		return ErrInvalidState
	}
	o, err := m.begin()
	if err != nil {
		m.unlock()
		return err
	}
	token := m.sessionToken(a)
	m.unlock()

	setup, err := m.deps.Authority.SetupTOTP(ctx, token)

	m.lock()
	m.finish(o)
	if !m.current(o) {
		m.unlock()
		return ErrSuperseded
	}
	if err != nil {
		reject := false
		if authority.KindOf(err) == authority.KindUnauthorized {
			reject = m.requestFailed(ctx, a, err)
		} else {
			m.setNotice(NoticeError, "Could not start authenticator setup. Please try again.", err)
		}
		m.unlock()
		if reject {
			m.HandleUnauthorized(ctx)
		}
		return err
	}
	a.material = &EnrollmentMaterial{
		Secret:        setup.Secret,
		EnrollmentURI: setup.EnrollmentURI,
		RecoveryCodes: append([]string(nil), setup.RecoveryCodes...),
	}
	m.unlock()
	return nil
}

// ExportRecoveryCodes writes the recovery codes, one per line. It is only
// possible while the enrollment material is on screen.
func (m *Machine) ExportRecoveryCodes(w io.Writer) error {
	m.lock()
	defer m.unlock()
	a := m.attempt
	if m.state.Kind != TOTPSetupRequired || a == nil || a.material == nil {
		return ErrInvalidState
	}
	for _, code := range a.material.RecoveryCodes {
		if _, err := io.WriteString(w, code+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// ConfirmEnrollment records that the user scanned the secret and moves to
// code entry. The material is dropped and never shown again.
func (m *Machine) ConfirmEnrollment(ctx context.Context) error {
	m.lock()
	defer m.unlock()
	a := m.attempt
	if m.state.Kind != TOTPSetupRequired || a == nil || a.material == nil {
		return ErrInvalidState
	}
	a.material = nil
	a.method = authority.MethodTOTP
	a.methods = []authority.Method{authority.MethodTOTP}
	m.setState(pending(authority.MethodTOTP))
	m.persist(ctx)
	return nil
}

// SkipEnrollment leaves optional enrollment.
func (m *Machine) SkipEnrollment(ctx context.Context) error {
	m.lock()
	defer m.unlock()
	a := m.attempt
	if a == nil || a.purpose != PurposeEnrollment {
		return ErrInvalidState
	}
	if m.deps.Config.EnrollmentMandatory || a.deferred != nil {
		return ErrEnrollmentMandatory
	}
	m.discardAttempt(ctx)
	m.setState(m.homeState())
	return nil
}

func (m *Machine) finishEnrollment(ctx context.Context, o op, a *attempt) error {
	m.lock()
	m.finish(o)
	if !m.current(o) {
		m.unlock()
		return ErrSuperseded
	}
	m.inc(m.deps.Metrics.EnrollmentCompleted)
	user := a.user
	if id, ok := m.deps.Sessions.Current(); ok && a.deferred == nil {
		user = id.User
	}
	user.TwoFactorEnabled = true

	if a.deferred != nil {
		s := *a.deferred
		s.User = user
		m.unlock()
		return m.commit(ctx, s)
	}
	m.discardAttempt(ctx)
	m.setNotice(NoticeInfo, "Two-factor authentication is enabled.", nil)
	m.setState(State{Kind: Authenticated})
	m.unlock()
	return m.deps.Sessions.ReplaceUser(ctx, user)
}
