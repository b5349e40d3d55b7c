package timer

import (
	"time"

	"github.com/MrEthical07/authflow/internal/ids"
)

const (
	// DefaultGuardWindow suppresses expiry handling right after a fresh send.
	DefaultGuardWindow = 3 * time.Second
	// DefaultResyncInterval is how often an outstanding code is re-checked.
	DefaultResyncInterval = 30 * time.Second
	// DefaultCooldown applies when the authority omits a resend cooldown.
	DefaultCooldown = 60 * time.Second
)

// Config holds engine tunables. Zero fields fall back to package defaults.
type Config struct {
	GuardWindow     time.Duration
	ResyncInterval  time.Duration
	DefaultCooldown time.Duration
}

func (c Config) withDefaults() Config {
	if c.GuardWindow <= 0 {
		c.GuardWindow = DefaultGuardWindow
	}
	if c.ResyncInterval <= 0 {
		c.ResyncInterval = DefaultResyncInterval
	}
	if c.DefaultCooldown <= 0 {
		c.DefaultCooldown = DefaultCooldown
	}
	return c
}

// Send is the authority's answer to a code send or resend.
type Send struct {
	Cooldown  time.Duration
	ExpiresIn time.Duration
	HasExpiry bool
}

// Sync is the authority's answer to an expiry check.
type Sync struct {
	HasCode   bool
	ExpiresIn time.Duration
}

// Countdown is a point-in-time view of both timers, in whole seconds.
type Countdown struct {
	// Awaiting is true until the first authoritative expiry arrives.
	Awaiting   bool
	CodeIssued bool
	ExpiresIn  int
	CooldownIn int
}

// State is the restorable form of an Engine, expressed in absolute time.
type State struct {
	CodeIssued bool
	Synced     bool
	ExpiresAt  time.Time
	ResendAt   time.Time
	SentAt     time.Time
}

// Engine owns the countdowns of one attempt.
type Engine struct {
	cfg Config

	codeIssued bool
	synced     bool
	expiresAt  time.Time
	resendAt   time.Time
	sentAt     time.Time

	lastSend   ids.Stamp
	lastExpiry ids.Stamp
	lastSyncAt time.Time
	syncNow    bool
	fired      bool
}

// New returns an engine with no code issued and no cooldown.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg.withDefaults()}
}

// BeginSend stamps a send request. Any expiry check issued before this call
// becomes stale.
func (e *Engine) BeginSend() ids.Stamp {
	s := ids.Next()
	e.lastSend = s
	return s
}

// ApplySend records a successful send. It starts the cooldown, marks a code
// as issued and re-arms expiry handling. When the response carries no expiry
// the engine returns to awaiting and requests an immediate sync.
func (e *Engine) ApplySend(stamp ids.Stamp, now time.Time, res Send) {
	cooldown := res.Cooldown
	if cooldown <= 0 {
		cooldown = e.cfg.DefaultCooldown
	}
	e.codeIssued = true
	e.resendAt = now.Add(cooldown)
	e.sentAt = now
	e.fired = false

	if res.HasExpiry && ids.Newer(stamp, e.lastExpiry) {
		e.expiresAt = now.Add(res.ExpiresIn)
		e.synced = true
		e.lastExpiry = stamp
		e.lastSyncAt = now
		e.syncNow = false
		return
	}
	if !res.HasExpiry {
		e.synced = false
		e.syncNow = true
	}
}

// MarkIssued records a code that the authority dispatched on its own, such
// as the one sent at registration. The expiry stays unknown until a sync.
func (e *Engine) MarkIssued(now time.Time) {
	e.codeIssued = true
	e.sentAt = now
	e.fired = false
	e.synced = false
	e.syncNow = true
}

// BeginSync stamps an expiry check and restarts the resync interval.
func (e *Engine) BeginSync(now time.Time) ids.Stamp {
	e.lastSyncAt = now
	e.syncNow = false
	return ids.Next()
}

// ApplySync applies an expiry check if it is fresher than both the newest
// send and the value already applied. It reports whether the value was used.
func (e *Engine) ApplySync(stamp ids.Stamp, now time.Time, res Sync) bool {
	if !ids.Newer(stamp, e.lastSend) || !ids.Newer(stamp, e.lastExpiry) {
		return false
	}
	e.lastExpiry = stamp
	e.synced = true
	e.lastSyncAt = now
	if !res.HasCode {
		e.expiresAt = now
		return true
	}
	e.codeIssued = true
	e.expiresAt = now.Add(res.ExpiresIn)
	if res.ExpiresIn > 0 {
		e.fired = false
	}
	return true
}

// SyncFailed keeps the last known countdown and waits a full interval before
// the next attempt.
func (e *Engine) SyncFailed(now time.Time) {
	e.lastSyncAt = now
}

// ResyncDue reports whether an expiry check should be issued now.
func (e *Engine) ResyncDue(now time.Time) bool {
	if e.syncNow {
		return true
	}
	if e.synced && (!e.codeIssued || !now.Before(e.expiresAt)) {
		return false
	}
	return e.lastSyncAt.IsZero() || now.Sub(e.lastSyncAt) >= e.cfg.ResyncInterval
}

// Expired reports whether the issued code is known to be expired.
func (e *Engine) Expired(now time.Time) bool {
	return e.codeIssued && e.synced && !now.Before(e.expiresAt)
}

// Tick returns true exactly once when the code expires. It never fires while
// awaiting the first authoritative value or inside the guard window after a
// fresh send.
func (e *Engine) Tick(now time.Time) bool {
	if e.fired || !e.Expired(now) {
		return false
	}
	if !e.sentAt.IsZero() && now.Sub(e.sentAt) < e.cfg.GuardWindow {
		return false
	}
	e.fired = true
	return true
}

// CanResend reports whether the resend cooldown has elapsed.
func (e *Engine) CanResend(now time.Time) bool {
	return !now.Before(e.resendAt)
}

// Countdown derives the current values from the stored deadlines.
func (e *Engine) Countdown(now time.Time) Countdown {
	c := Countdown{
		Awaiting:   !e.synced,
		CodeIssued: e.codeIssued,
		CooldownIn: Remaining(e.resendAt, now),
	}
	if e.synced && e.codeIssued {
		c.ExpiresIn = Remaining(e.expiresAt, now)
	}
	return c
}

// State returns the restorable absolute form.
func (e *Engine) State() State {
	return State{
		CodeIssued: e.codeIssued,
		Synced:     e.synced,
		ExpiresAt:  e.expiresAt,
		ResendAt:   e.resendAt,
		SentAt:     e.sentAt,
	}
}

// Restore rebuilds an engine from a persisted State. The restored value is
// reconfirmed with the authority on the next resync check.
func Restore(cfg Config, st State) *Engine {
	e := New(cfg)
	e.codeIssued = st.CodeIssued
	e.synced = st.Synced
	e.expiresAt = st.ExpiresAt
	e.resendAt = st.ResendAt
	e.sentAt = st.SentAt
	e.syncNow = st.CodeIssued || !st.Synced
	return e
}

// Remaining returns max(0, ceil(deadline-now)) in seconds.
func Remaining(deadline, now time.Time) int {
	d := deadline.Sub(now)
	if d <= 0 {
		return 0
	}
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}
