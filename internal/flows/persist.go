package flows

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/MrEthical07/authflow/authority"
	"github.com/MrEthical07/authflow/internal/stores"
	"github.com/MrEthical07/authflow/internal/timer"
)

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMilli(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMilli(v)
}

// persist writes the current attempt. Failures are logged; the in-memory
// attempt stays authoritative. Lock held.
func (m *Machine) persist(ctx context.Context) {
	a := m.attempt
	if a == nil || m.deps.Persist.SaveAttempt == nil {
		return
	}
	rec := &stores.AttemptRecord{
		AttemptID:  a.id,
		Purpose:    uint8(a.purpose),
		State:      uint8(m.state.Kind),
		FailReason: uint8(m.state.Reason),
		Method:     string(a.method),
		Email:      a.email,
		TempToken:  a.tempToken,
		Login:      a.login,
		Password:   a.password,
		CreatedAt:  unixMilli(a.createdAt),
	}
	for _, method := range a.methods {
		rec.Methods = append(rec.Methods, string(method))
	}
	if a.hasUser {
		if b, err := json.Marshal(a.user); err == nil {
			rec.User = b
		}
	}
	if a.timer != nil {
		st := a.timer.State()
		rec.CodeIssued = st.CodeIssued
		rec.Synced = st.Synced
		rec.ExpiresAt = unixMilli(st.ExpiresAt)
		rec.ResendAt = unixMilli(st.ResendAt)
		rec.SentAt = unixMilli(st.SentAt)
	}
	if a.deferred != nil {
		rec.DeferredAccess = a.deferred.AccessToken
		rec.DeferredRefresh = a.deferred.RefreshToken
	}
	now := m.deps.Now()
	if err := m.deps.Persist.SaveAttempt(ctx, rec, stores.TTLFor(rec, now, m.deps.Config.AttemptGrace)); err != nil {
		m.logger.Warn("flows: persist pending attempt failed", "attempt", a.id, "err", err)
	}
}

// restoredState maps a persisted step to one the machine can resume in.
func restoredState(rec *stores.AttemptRecord, a *attempt) State {
	kind := StateKind(rec.State)
	switch kind {
	case CodePending:
		return pending(a.method)
	case Failed:
		switch r := FailReason(rec.FailReason); r {
		case ReasonCodeInvalid, ReasonCodeExpired, ReasonEmailNotVerified:
			return failed(r, CodePending)
		}
		return pending(a.method)
	case EmailVerificationRequired, MethodSelection, TOTPSetupRequired:
		return State{Kind: kind}
	}
	return State{Kind: MethodSelection}
}

func attemptFromRecord(rec *stores.AttemptRecord, cfg timer.Config) (*attempt, bool) {
	a := &attempt{
		id:        rec.AttemptID,
		purpose:   Purpose(rec.Purpose),
		method:    authority.Method(rec.Method),
		email:     rec.Email,
		tempToken: rec.TempToken,
		login:     rec.Login,
		password:  rec.Password,
		createdAt: fromMilli(rec.CreatedAt),
	}
	if a.purpose == PurposeNone || int(a.purpose) >= len(purposeNames) {
		return nil, false
	}
	for _, method := range rec.Methods {
		if mm := authority.Method(method); mm.Valid() {
			a.methods = append(a.methods, mm)
		}
	}
	if len(rec.User) > 0 && json.Unmarshal(rec.User, &a.user) == nil {
		a.hasUser = true
	}
	if rec.CodeIssued || rec.ResendAt != 0 || a.method == authority.MethodEmail {
		a.timer = timer.Restore(cfg, timer.State{
			CodeIssued: rec.CodeIssued,
			Synced:     rec.Synced,
			ExpiresAt:  fromMilli(rec.ExpiresAt),
			ResendAt:   fromMilli(rec.ResendAt),
			SentAt:     fromMilli(rec.SentAt),
		})
	}
	if rec.DeferredAccess != "" {
		a.deferred = &authority.Session{
			AccessToken:  rec.DeferredAccess,
			RefreshToken: rec.DeferredRefresh,
			User:         a.user,
		}
	}
	if a.purpose == PurposeEnrollment && a.deferred == nil && !a.hasUser {
		return nil, false
	}
	return a, true
}

// Restore resumes the tab's persisted attempt and the shared login lockout.
// Call it once the session store is hydrated. An attempt that no longer
// matches the session state is discarded.
func (m *Machine) Restore(ctx context.Context) error {
	now := m.deps.Now()

	var lockout time.Time
	if m.deps.Persist.LoadLockout != nil {
		until, ok, err := m.deps.Persist.LoadLockout(ctx, now)
		if err != nil {
			m.logger.Warn("flows: load login lockout failed", "err", err)
		} else if ok {
			lockout = until
		}
	}

	var rec *stores.AttemptRecord
	if m.deps.Persist.LoadAttempt != nil {
		r, err := m.deps.Persist.LoadAttempt(ctx)
		switch {
		case err == nil:
			rec = r
		case errors.Is(err, stores.ErrAttemptNotFound):
		case errors.Is(err, stores.ErrAttemptCorrupt):
			m.logger.Warn("flows: discarded corrupt pending attempt", "err", err)
		default:
			return err
		}
	}

	m.lock()
	defer m.unlock()
	m.supersede()
	m.lockoutUntil = lockout
	_, hasSession := m.deps.Sessions.Current()

	if rec != nil {
		a, ok := attemptFromRecord(rec, m.deps.Config.Timer)
		if ok && a.inSession() == hasSession {
			m.attempt = a
			m.setState(restoredState(rec, a))
			if a.timer != nil && a.timer.Expired(now) && m.codeState() {
				m.expire(ctx)
			}
			return nil
		}
		if m.deps.Persist.DeleteAttempt != nil {
			if err := m.deps.Persist.DeleteAttempt(ctx); err != nil {
				m.logger.Warn("flows: delete stale pending attempt failed", "err", err)
			}
		}
	}

	m.attempt = nil
	m.setState(m.homeState())
	if !hasSession && m.lockoutRemaining(now) > 0 {
		m.setState(failed(ReasonRateLimited, Unauthenticated))
	}
	return nil
}
