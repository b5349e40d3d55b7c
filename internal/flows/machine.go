package flows

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrEthical07/authflow/authority"
	"github.com/MrEthical07/authflow/internal/ids"
	"github.com/MrEthical07/authflow/internal/timer"
	"github.com/MrEthical07/authflow/session"
)

const defaultNoticeTTL = 5 * time.Second

type attempt struct {
	id        string
	purpose   Purpose
	method    authority.Method
	methods   []authority.Method
	email     string
	tempToken string
	login     string
	password  string
	user      authority.User
	hasUser   bool
	timer     *timer.Engine
	deferred  *authority.Session
	material  *EnrollmentMaterial
	createdAt time.Time
}

// inSession reports whether the attempt runs on top of a stored session.
func (a *attempt) inSession() bool {
	switch a.purpose {
	case PurposePasswordChange, PurposeProfileChange, PurposeEmailChange:
		return true
	case PurposeEnrollment:
		return a.deferred == nil
	}
	return false
}

func (a *attempt) offers(m authority.Method) bool {
	for _, x := range a.methods {
		if x == m {
			return true
		}
	}
	return false
}

// op identifies one in-flight request.
type op struct {
	epoch uint64
	a     *attempt
}

// Machine is the verification flow of one tab.
type Machine struct {
	deps   Deps
	logger *slog.Logger

	mu           sync.Mutex
	state        State
	attempt      *attempt
	escalation   *Escalation
	notice       *Notice
	lockoutUntil time.Time
	epoch        uint64
	inflight     bool
	syncing      bool
	pending      []Event
}

// New returns a machine in Unauthenticated. Call Restore before use.
func New(deps Deps) *Machine {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Inc == nil {
		deps.Inc = func(int) {}
	}
	if deps.Config.NoticeTTL <= 0 {
		deps.Config.NoticeTTL = defaultNoticeTTL
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Machine{deps: deps, logger: logger}
}

func (m *Machine) lock() { m.mu.Lock() }

// unlock releases the lock and then delivers queued events.
func (m *Machine) unlock() {
	evs := m.pending
	m.pending = nil
	m.mu.Unlock()
	if m.deps.Emit == nil {
		return
	}
	for _, ev := range evs {
		m.deps.Emit(ev)
	}
}

func (m *Machine) event(t EventType, from, to State) Event {
	ev := Event{Type: t, From: from, To: to, Purpose: PurposeNone, At: m.deps.Now()}
	if m.attempt != nil {
		ev.Purpose = m.attempt.purpose
		ev.AttemptID = m.attempt.id
	}
	return ev
}

func (m *Machine) setState(s State) {
	if s == m.state {
		return
	}
	from := m.state
	m.state = s
	m.pending = append(m.pending, m.event(EventStateChanged, from, s))
}

func (m *Machine) emit(t EventType) {
	m.pending = append(m.pending, m.event(t, m.state, m.state))
}

func (m *Machine) inc(id int) { m.deps.Inc(id) }

func (m *Machine) begin() (op, error) {
	if m.inflight {
		return op{}, ErrBusy
	}
	m.inflight = true
	return op{epoch: m.epoch, a: m.attempt}, nil
}

func (m *Machine) current(o op) bool {
	return m.epoch == o.epoch && m.attempt == o.a
}

func (m *Machine) finish(o op) {
	if m.epoch == o.epoch {
		m.inflight = false
	}
}

// supersede invalidates every in-flight request.
func (m *Machine) supersede() {
	m.epoch++
	m.inflight = false
	m.syncing = false
}

func (m *Machine) setNotice(level NoticeLevel, msg string, err error) {
	m.notice = &Notice{Level: level, Message: msg, Err: err, Until: m.deps.Now().Add(m.deps.Config.NoticeTTL)}
}

func (m *Machine) newTimer() *timer.Engine {
	return timer.New(m.deps.Config.Timer)
}

func (m *Machine) newAttempt(p Purpose) *attempt {
	return &attempt{id: ids.New(), purpose: p, createdAt: m.deps.Now()}
}

// replaceAttempt installs a as the only attempt of the tab, entering s.
func (m *Machine) replaceAttempt(ctx context.Context, a *attempt, s State) {
	m.supersede()
	m.attempt = a
	m.setState(s)
	m.persist(ctx)
}

// discardAttempt drops the attempt, its timers and its persisted record.
func (m *Machine) discardAttempt(ctx context.Context) {
	m.supersede()
	if m.attempt == nil {
		return
	}
	m.attempt = nil
	if m.deps.Persist.DeleteAttempt != nil {
		if err := m.deps.Persist.DeleteAttempt(ctx); err != nil {
			m.logger.Warn("flows: delete pending attempt failed", "err", err)
		}
	}
}

// homeState is where a cancelled or finished flow lands.
func (m *Machine) homeState() State {
	if _, ok := m.deps.Sessions.Current(); ok {
		return State{Kind: Authenticated}
	}
	return State{Kind: Unauthenticated}
}

// State returns the current step.
func (m *Machine) State() State {
	m.lock()
	defer m.unlock()
	return m.state
}

// Snapshot returns a render-ready view at the current time.
func (m *Machine) Snapshot() Snapshot {
	m.lock()
	defer m.unlock()
	now := m.deps.Now()

	s := Snapshot{
		State:            m.state,
		Busy:             m.inflight,
		LockoutRemaining: timer.Remaining(m.lockoutUntil, now),
	}
	if m.escalation != nil {
		s.Escalated = m.escalation.Purpose
	}
	if m.notice != nil && now.Before(m.notice.Until) {
		n := *m.notice
		s.Notice = &n
	}
	if a := m.attempt; a != nil {
		s.Purpose = a.purpose
		s.AttemptID = a.id
		s.InSession = a.inSession()
		s.Email = a.email
		s.Methods = append([]authority.Method(nil), a.methods...)
		if a.hasUser {
			u := a.user
			s.User = &u
		}
		if a.timer != nil {
			s.Countdown = a.timer.Countdown(now)
			s.CanResend = m.resendAllowed() && a.timer.CanResend(now)
		}
		if m.state.Kind == TOTPSetupRequired && a.material != nil {
			mat := *a.material
			mat.RecoveryCodes = append([]string(nil), a.material.RecoveryCodes...)
			s.Enrollment = &mat
		}
	}
	if s.User == nil {
		if id, ok := m.deps.Sessions.Current(); ok {
			u := id.User
			s.User = &u
		}
	}
	return s
}

// Dismiss hides the notice and leaves a terminal Failed state for the step
// it returns to.
func (m *Machine) Dismiss() {
	m.lock()
	defer m.unlock()
	m.notice = nil
	if m.state.Kind != Failed {
		return
	}
	switch m.state.Reason {
	case ReasonInvalidCredentials, ReasonConflict, ReasonUnauthorized:
		m.setState(State{Kind: m.state.Return})
	}
}

// Cancel abandons the current flow from any state. An in-session sub-flow
// returns to Authenticated; anything else returns to Unauthenticated. A
// login lockout survives Cancel.
func (m *Machine) Cancel(ctx context.Context) {
	m.lock()
	defer m.unlock()
	if m.attempt != nil || m.state.Kind != Authenticated {
		m.inc(m.deps.Metrics.FlowCancelled)
	}
	m.discardAttempt(ctx)
	m.escalation = nil
	m.notice = nil
	m.setState(m.homeState())
}

// OnSessionChange follows the session store. A session appearing ends any
// pre-session flow; a session disappearing ends any in-session flow.
func (m *Machine) OnSessionChange(ctx context.Context, ch session.Change) {
	m.lock()
	defer m.unlock()

	switch ch.Kind {
	case session.ChangeSet:
		if m.attempt != nil && m.attempt.inSession() {
			return
		}
		// A login in flight with no attempt is the write of that very login.
		if m.attempt != nil {
			m.discardAttempt(ctx)
		}
		m.notice = nil
		m.setState(State{Kind: Authenticated})
	case session.ChangeClear:
		if m.attempt != nil && !m.attempt.inSession() {
			return
		}
		if m.state.Kind == Unauthenticated && m.attempt == nil {
			return
		}
		m.discardAttempt(ctx)
		m.escalation = nil
		m.setState(State{Kind: Unauthenticated})
	}
}

// establishing reports whether the flow is in the middle of creating a
// session, where an authentication rejection belongs to the flow itself.
func (m *Machine) establishing() bool {
	if m.state.Kind == CredentialsSubmitted {
		return true
	}
	return m.attempt != nil && !m.attempt.inSession()
}

// HandleUnauthorized reacts to a rejected session token from any call. It
// clears the session unless an identity-establishing flow is active, and
// reports whether it did.
func (m *Machine) HandleUnauthorized(ctx context.Context) bool {
	m.lock()
	if m.establishing() {
		m.unlock()
		return false
	}
	if _, ok := m.deps.Sessions.Current(); !ok {
		m.unlock()
		return false
	}
	m.inc(m.deps.Metrics.SessionRejected)
	m.emit(EventNavigateToEntry)
	m.setNotice(NoticeError, "Your session has ended. Please sign in again.", authority.ErrUnauthorized)
	m.unlock()

	if err := m.deps.Sessions.Clear(ctx); err != nil {
		m.logger.Warn("flows: clear rejected session failed", "err", err)
	}
	return true
}

// Logout revokes the session with the authority and then clears it locally.
// The local session is cleared even when revocation fails.
func (m *Machine) Logout(ctx context.Context) error {
	m.lock()
	id, ok := m.deps.Sessions.Current()
	m.discardAttempt(ctx)
	m.escalation = nil
	m.notice = nil
	m.unlock()

	var revokeErr error
	if ok {
		revokeErr = m.deps.Authority.Logout(ctx, id.AccessToken)
		if revokeErr != nil {
			m.logger.Warn("flows: server-side logout failed", "err", revokeErr)
		}
	}
	if err := m.deps.Sessions.Clear(ctx); err != nil {
		return err
	}

	m.lock()
	m.setState(State{Kind: Unauthenticated})
	m.unlock()
	if revokeErr != nil && errors.Is(revokeErr, authority.ErrUnauthorized) {
		return nil
	}
	return revokeErr
}
