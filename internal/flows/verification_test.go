package flows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/authflow/authority"
)

func registered(t *testing.T, h *harness) {
	t.Helper()
	if err := h.m.Register(context.Background(), "alice", "alice@example.com", "Passw0rd"); err != nil {
		t.Fatalf("register: %v", err)
	}
	wantState(t, h.m, pending(authority.MethodEmail))
}

func TestCodeExpiryAndResend(t *testing.T) {
	h := newHarness(t, Config{})
	registered(t, h)
	ctx := context.Background()

	err := h.m.Resend(ctx)
	if !errors.Is(err, ErrCooldown) {
		t.Fatalf("expected cooldown, got %v", err)
	}
	if snap := h.m.Snapshot(); snap.CanResend || snap.Countdown.CooldownIn != 60 {
		t.Fatalf("unexpected cooldown view: %+v", snap.Countdown)
	}

	h.clock.Advance(5*time.Minute + time.Second)
	h.m.Tick(ctx)
	wantState(t, h.m, failed(ReasonCodeExpired, CodePending))
	if h.metric(testMetrics.CodeExpired) != 1 {
		t.Fatalf("expected one expiry")
	}
	h.m.Tick(ctx)
	if h.metric(testMetrics.CodeExpired) != 1 {
		t.Fatalf("expiry must fire once")
	}

	if err := h.m.SubmitCode(ctx, "123456"); !errors.Is(err, authority.ErrCodeExpired) {
		t.Fatalf("expected code expired, got %v", err)
	}
	if h.auth.count("verify_email") != 0 {
		t.Fatalf("expired code must not be submitted")
	}

	if err := h.m.Resend(ctx); err != nil {
		t.Fatalf("resend: %v", err)
	}
	wantState(t, h.m, pending(authority.MethodEmail))
	snap := h.m.Snapshot()
	if snap.Countdown.ExpiresIn != 300 || snap.CanResend {
		t.Fatalf("expected fresh countdown, got %+v", snap.Countdown)
	}
	if h.metric(testMetrics.CodeResent) != 1 {
		t.Fatalf("expected resend metric")
	}
}

func TestInvalidEmailCodeKeepsAttempt(t *testing.T) {
	h := newHarness(t, Config{})
	registered(t, h)
	h.auth.verifyCode = func(email, code string) error {
		return &authority.Error{Kind: authority.KindCodeInvalid, Status: 400}
	}
	ctx := context.Background()

	if err := h.m.SubmitCode(ctx, "111111"); !errors.Is(err, authority.ErrCodeInvalid) {
		t.Fatalf("expected invalid code, got %v", err)
	}
	wantState(t, h.m, failed(ReasonCodeInvalid, CodePending))
	if h.m.Snapshot().Countdown.ExpiresIn == 0 {
		t.Fatalf("countdown must survive an invalid code")
	}
}

func TestResyncCorrectsCountdown(t *testing.T) {
	h := newHarness(t, Config{})
	registered(t, h)
	h.auth.checkEmail = func(string) (authority.ExpiryResult, error) {
		return authority.ExpiryResult{HasCode: true, ExpiresIn: 10 * time.Second}, nil
	}
	ctx := context.Background()

	h.clock.Advance(31 * time.Second)
	h.m.Tick(ctx)
	if h.auth.count("check_email") != 1 {
		t.Fatalf("expected a resync")
	}
	if got := h.m.Snapshot().Countdown.ExpiresIn; got != 10 {
		t.Fatalf("expected corrected countdown of 10s, got %d", got)
	}
	if h.metric(testMetrics.ResyncSuccess) != 1 {
		t.Fatalf("expected resync success")
	}
}

func TestResyncReportingNoCodeExpires(t *testing.T) {
	h := newHarness(t, Config{})
	registered(t, h)
	h.auth.checkEmail = func(string) (authority.ExpiryResult, error) {
		return authority.ExpiryResult{HasCode: false}, nil
	}
	h.clock.Advance(31 * time.Second)
	h.m.Tick(context.Background())
	wantState(t, h.m, failed(ReasonCodeExpired, CodePending))
}

func TestResyncFailureKeepsCountdown(t *testing.T) {
	h := newHarness(t, Config{})
	registered(t, h)
	h.clock.Advance(31 * time.Second)
	h.m.Tick(context.Background())
	if h.metric(testMetrics.ResyncFailure) != 1 {
		t.Fatalf("expected resync failure")
	}
	if got := h.m.Snapshot().Countdown.ExpiresIn; got != 269 {
		t.Fatalf("expected local countdown, got %d", got)
	}
	wantState(t, h.m, pending(authority.MethodEmail))
}

func TestAbandonedAttemptHardExpires(t *testing.T) {
	h := newHarness(t, Config{AttemptGrace: time.Minute})
	registered(t, h)
	ctx := context.Background()

	h.clock.Advance(5*time.Minute + time.Second)
	h.m.Tick(ctx)
	wantState(t, h.m, failed(ReasonCodeExpired, CodePending))

	h.clock.Advance(time.Minute)
	h.m.Tick(ctx)
	wantState(t, h.m, State{Kind: Unauthenticated})
	if h.persist.rec != nil {
		t.Fatalf("expected record removed")
	}
}

func TestNoticeExpires(t *testing.T) {
	h := newHarness(t, Config{NoticeTTL: 2 * time.Second})
	registered(t, h)
	if h.m.Snapshot().Notice == nil {
		t.Fatalf("expected code-sent notice")
	}
	h.clock.Advance(2 * time.Second)
	if h.m.Snapshot().Notice != nil {
		t.Fatalf("expected notice hidden")
	}
}

func TestCancelReturnsToEntry(t *testing.T) {
	h := newHarness(t, Config{})
	registered(t, h)
	h.m.Cancel(context.Background())
	wantState(t, h.m, State{Kind: Unauthenticated})
	if h.persist.rec != nil {
		t.Fatalf("expected record removed")
	}
	if err := h.m.SubmitCode(context.Background(), "123456"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestValidateCode(t *testing.T) {
	cases := []struct {
		method authority.Method
		code   string
		ok     bool
	}{
		{authority.MethodEmail, "123456", true},
		{authority.MethodEmail, "12345a", false},
		{authority.MethodTOTP, "1234567", false},
		{authority.MethodRecoveryCode, "abcd-1234", true},
		{authority.MethodRecoveryCode, "abcd 1234", false},
		{authority.MethodRecoveryCode, "", false},
	}
	for _, tc := range cases {
		err := validateCode(tc.method, tc.code)
		if (err == nil) != tc.ok {
			t.Fatalf("validateCode(%s, %q) = %v", tc.method, tc.code, err)
		}
	}
}
