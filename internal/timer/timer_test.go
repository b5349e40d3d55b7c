package timer

import (
	"testing"
	"time"
)

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func TestRemainingIsCeilOfDeadline(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want int
	}{
		{-time.Second, 0},
		{0, 0},
		{time.Millisecond, 1},
		{time.Second, 1},
		{1500 * time.Millisecond, 2},
		{180 * time.Second, 180},
	}
	for _, tc := range cases {
		if got := Remaining(t0.Add(tc.d), t0); got != tc.want {
			t.Fatalf("Remaining(%v) = %d, want %d", tc.d, got, tc.want)
		}
	}
}

func TestCountdownDoesNotDriftAcrossSkippedTicks(t *testing.T) {
	e := New(Config{})
	e.ApplySend(e.BeginSend(), t0, Send{Cooldown: 60 * time.Second, ExpiresIn: 180 * time.Second, HasExpiry: true})

	// A suspended process observes the same value as one that ticked every second.
	late := t0.Add(97*time.Second + 250*time.Millisecond)
	c := e.Countdown(late)
	if c.ExpiresIn != 83 {
		t.Fatalf("expected 83s remaining, got %d", c.ExpiresIn)
	}
	if c.CooldownIn != 0 {
		t.Fatalf("expected cooldown elapsed, got %d", c.CooldownIn)
	}
}

func TestAwaitingUntilFirstAuthoritativeValue(t *testing.T) {
	e := New(Config{})
	e.ApplySend(e.BeginSend(), t0, Send{Cooldown: 60 * time.Second})

	c := e.Countdown(t0)
	if !c.Awaiting || c.ExpiresIn != 0 {
		t.Fatalf("expected awaiting with no countdown, got %+v", c)
	}
	if !e.ResyncDue(t0) {
		t.Fatalf("expected immediate resync after send without expiry")
	}
	if e.Tick(t0.Add(time.Hour)) {
		t.Fatalf("expiry must not fire before the first authoritative value")
	}

	if !e.ApplySync(e.BeginSync(t0), t0, Sync{HasCode: true, ExpiresIn: 120 * time.Second}) {
		t.Fatalf("expected sync to apply")
	}
	if c := e.Countdown(t0); c.Awaiting || c.ExpiresIn != 120 {
		t.Fatalf("unexpected countdown after sync: %+v", c)
	}
}

func TestStaleSyncAfterResendIsDiscarded(t *testing.T) {
	e := New(Config{})
	e.ApplySend(e.BeginSend(), t0, Send{ExpiresIn: 180 * time.Second, HasExpiry: true})

	// Resync request issued, then a resend is issued before the resync returns.
	syncStamp := e.BeginSync(t0.Add(100 * time.Second))
	sendStamp := e.BeginSend()
	e.ApplySend(sendStamp, t0.Add(101*time.Second), Send{ExpiresIn: 180 * time.Second, HasExpiry: true})

	if e.ApplySync(syncStamp, t0.Add(102*time.Second), Sync{HasCode: true, ExpiresIn: 78 * time.Second}) {
		t.Fatalf("sync issued before the resend must be discarded")
	}
	if got := e.Countdown(t0.Add(102 * time.Second)).ExpiresIn; got != 179 {
		t.Fatalf("expected fresh 179s countdown, got %d", got)
	}
}

func TestOutOfOrderSyncsKeepNewest(t *testing.T) {
	e := New(Config{})
	e.ApplySend(e.BeginSend(), t0, Send{ExpiresIn: 180 * time.Second, HasExpiry: true})

	older := e.BeginSync(t0.Add(30 * time.Second))
	newer := e.BeginSync(t0.Add(31 * time.Second))
	if !e.ApplySync(newer, t0.Add(32*time.Second), Sync{HasCode: true, ExpiresIn: 40 * time.Second}) {
		t.Fatalf("newer sync should apply")
	}
	if e.ApplySync(older, t0.Add(33*time.Second), Sync{HasCode: true, ExpiresIn: 150 * time.Second}) {
		t.Fatalf("older sync arriving late should be discarded")
	}
	if got := e.Countdown(t0.Add(33 * time.Second)).ExpiresIn; got != 39 {
		t.Fatalf("expected 39s, got %d", got)
	}
}

func TestTickFiresOnceOutsideGuardWindow(t *testing.T) {
	e := New(Config{GuardWindow: 3 * time.Second})
	e.ApplySend(e.BeginSend(), t0, Send{ExpiresIn: 0, HasExpiry: true})

	if e.Tick(t0.Add(time.Second)) {
		t.Fatalf("expiry must not fire inside the guard window")
	}
	if !e.Tick(t0.Add(4 * time.Second)) {
		t.Fatalf("expected expiry to fire after the guard window")
	}
	if e.Tick(t0.Add(5 * time.Second)) {
		t.Fatalf("expiry must fire only once")
	}
}

func TestTickNeverFiresWithoutIssuedCode(t *testing.T) {
	e := New(Config{})
	e.ApplySync(e.BeginSync(t0), t0, Sync{HasCode: false})
	if e.Tick(t0.Add(time.Minute)) {
		t.Fatalf("expiry must not fire when no code was ever issued")
	}
}

func TestSyncWithoutCodeExpiresIssuedCode(t *testing.T) {
	e := New(Config{})
	e.ApplySend(e.BeginSend(), t0, Send{ExpiresIn: 180 * time.Second, HasExpiry: true})
	at := t0.Add(10 * time.Second)
	e.ApplySync(e.BeginSync(at), at, Sync{HasCode: false})
	if !e.Expired(at) {
		t.Fatalf("code consumed elsewhere should read as expired")
	}
	if !e.Tick(at) {
		t.Fatalf("expected expiry event")
	}
}

func TestResyncScheduleAndFailureKeepsValue(t *testing.T) {
	e := New(Config{ResyncInterval: 30 * time.Second})
	e.ApplySend(e.BeginSend(), t0, Send{ExpiresIn: 180 * time.Second, HasExpiry: true})

	if e.ResyncDue(t0.Add(29 * time.Second)) {
		t.Fatalf("resync not due before interval")
	}
	at := t0.Add(30 * time.Second)
	if !e.ResyncDue(at) {
		t.Fatalf("resync due at interval")
	}
	e.BeginSync(at)
	e.SyncFailed(at)
	if got := e.Countdown(at).ExpiresIn; got != 150 {
		t.Fatalf("failed resync must keep last value, got %d", got)
	}
	if e.ResyncDue(at.Add(time.Second)) {
		t.Fatalf("failed resync waits a full interval")
	}
	if e.ResyncDue(t0.Add(200 * time.Second)) {
		t.Fatalf("no resync once the code has expired")
	}
}

func TestCooldownDefaultAndCanResend(t *testing.T) {
	e := New(Config{})
	e.ApplySend(e.BeginSend(), t0, Send{ExpiresIn: 180 * time.Second, HasExpiry: true})
	if e.CanResend(t0.Add(59 * time.Second)) {
		t.Fatalf("resend should wait for the default cooldown")
	}
	if !e.CanResend(t0.Add(60 * time.Second)) {
		t.Fatalf("resend should be allowed after the default cooldown")
	}
}

func TestRestoreFromAbsoluteState(t *testing.T) {
	e := New(Config{})
	e.ApplySend(e.BeginSend(), t0, Send{Cooldown: 60 * time.Second, ExpiresIn: 180 * time.Second, HasExpiry: true})

	r := Restore(Config{}, e.State())
	now := t0.Add(50 * time.Second)
	c := r.Countdown(now)
	if c.ExpiresIn != 130 || c.CooldownIn != 10 {
		t.Fatalf("unexpected restored countdown: %+v", c)
	}
	if !r.ResyncDue(now) {
		t.Fatalf("restored state should be reconfirmed")
	}
}
