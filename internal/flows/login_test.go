package flows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/authflow/authority"
)

func TestLoginEstablishesSession(t *testing.T) {
	h := newHarness(t, Config{})
	h.auth.login = okLogin(authority.User{ID: 1, Username: "alice"})

	if err := h.m.Login(context.Background(), " alice ", "Passw0rd"); err != nil {
		t.Fatalf("login: %v", err)
	}
	wantState(t, h.m, State{Kind: Authenticated})
	if _, ok := h.sess.Current(); !ok {
		t.Fatalf("expected stored session")
	}
	if h.metric(testMetrics.LoginSuccess) != 1 {
		t.Fatalf("expected one login success")
	}
}

func TestLoginValidatesBeforeNetwork(t *testing.T) {
	h := newHarness(t, Config{})
	err := h.m.Login(context.Background(), "  ", "x")
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if h.auth.count("login") != 0 {
		t.Fatalf("authority must not be called")
	}
}

func TestLoginInvalidCredentialsIsDismissable(t *testing.T) {
	h := newHarness(t, Config{})
	h.auth.login = func(authority.LoginRequest) (authority.LoginResult, error) {
		return authority.LoginResult{}, &authority.Error{Kind: authority.KindInvalidCredentials, Status: 401}
	}

	err := h.m.Login(context.Background(), "alice", "wrong")
	if !errors.Is(err, authority.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	wantState(t, h.m, failed(ReasonInvalidCredentials, Unauthenticated))
	if h.m.Snapshot().Notice == nil {
		t.Fatalf("expected a notice")
	}

	h.m.Dismiss()
	wantState(t, h.m, State{Kind: Unauthenticated})
}

func TestLoginServerErrorReturnsToPreviousState(t *testing.T) {
	h := newHarness(t, Config{})
	h.auth.login = func(authority.LoginRequest) (authority.LoginResult, error) {
		return authority.LoginResult{}, &authority.Error{Kind: authority.KindServer, Status: 502}
	}
	if err := h.m.Login(context.Background(), "alice", "pw"); err == nil {
		t.Fatalf("expected error")
	}
	wantState(t, h.m, State{Kind: Unauthenticated})
}

func TestLoginRateLimitLocksAllAttempts(t *testing.T) {
	h := newHarness(t, Config{})
	h.auth.login = func(authority.LoginRequest) (authority.LoginResult, error) {
		return authority.LoginResult{}, &authority.Error{Kind: authority.KindRateLimited, Status: 429, RetryAfter: 30 * time.Second}
	}
	ctx := context.Background()

	if err := h.m.Login(ctx, "alice", "pw"); !errors.Is(err, authority.ErrRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}
	wantState(t, h.m, failed(ReasonRateLimited, Unauthenticated))
	if got := h.m.Snapshot().LockoutRemaining; got != 30 {
		t.Fatalf("expected 30s lockout, got %d", got)
	}

	h.clock.Advance(10 * time.Second)
	err := h.m.Login(ctx, "alice", "pw")
	retry, ok := authority.RetryAfter(err)
	if !ok || retry != 20*time.Second {
		t.Fatalf("expected local lockout of 20s, got %v %v", retry, err)
	}
	if h.auth.count("login") != 1 {
		t.Fatalf("locked-out login must not reach the authority")
	}

	// A reload during the lockout keeps it.
	m2 := h.build(Config{})
	if err := m2.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}
	wantState(t, m2, failed(ReasonRateLimited, Unauthenticated))

	h.clock.Advance(21 * time.Second)
	m2.Tick(ctx)
	wantState(t, m2, State{Kind: Unauthenticated})
	if !h.persist.lockout.IsZero() {
		t.Fatalf("expected persisted lockout cleared")
	}
}

func TestNotVerifiedLoginVerifiesThenReplays(t *testing.T) {
	h := newHarness(t, Config{})
	calls := 0
	h.auth.login = func(req authority.LoginRequest) (authority.LoginResult, error) {
		calls++
		if calls == 1 {
			return authority.LoginResult{}, &authority.Error{Kind: authority.KindNotVerified, Status: 403}
		}
		if req.Login != "alice@example.com" || req.Password != "Passw0rd" {
			t.Errorf("replay used wrong credentials: %+v", req)
		}
		return authority.LoginResult{Token: "access-1", User: authority.User{ID: 1, Email: "alice@example.com"}}, nil
	}
	h.auth.verifyCode = func(email, code string) error {
		if code != "123456" {
			return &authority.Error{Kind: authority.KindCodeInvalid}
		}
		return nil
	}
	ctx := context.Background()

	if err := h.m.Login(ctx, "alice@example.com", "Passw0rd"); err != nil {
		t.Fatalf("login: %v", err)
	}
	wantState(t, h.m, pending(authority.MethodEmail))
	if h.auth.count("send_email") != 1 {
		t.Fatalf("expected one code sent")
	}
	if snap := h.m.Snapshot(); snap.Purpose != PurposeVerifyThenLogin || snap.Countdown.ExpiresIn != 300 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	if err := h.m.SubmitCode(ctx, "123456"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	wantState(t, h.m, State{Kind: Authenticated})
	if calls != 2 {
		t.Fatalf("expected login replay, got %d calls", calls)
	}
	if h.persist.rec != nil {
		t.Fatalf("expected attempt record removed")
	}
}

func TestMFALogin(t *testing.T) {
	h := newHarness(t, Config{})
	user := authority.User{ID: 1, Username: "alice", TwoFactorEnabled: true}
	h.auth.login = func(authority.LoginRequest) (authority.LoginResult, error) {
		return authority.LoginResult{
			RequiresMFA: true,
			TempToken:   "temp-1",
			User:        user,
			MFAMethods:  []authority.Method{authority.MethodEmail, authority.MethodTOTP, authority.MethodRecoveryCode},
		}, nil
	}
	h.auth.verifyMFA = func(method authority.Method, code string) (authority.LoginResult, error) {
		if method != authority.MethodTOTP || code != "123456" {
			return authority.LoginResult{}, &authority.Error{Kind: authority.KindCodeInvalid, Status: 401}
		}
		return authority.LoginResult{Token: "access-1", User: user}, nil
	}
	ctx := context.Background()

	if err := h.m.Login(ctx, "alice", "Passw0rd"); err != nil {
		t.Fatalf("login: %v", err)
	}
	wantState(t, h.m, State{Kind: MethodSelection})
	if _, ok := h.sess.Current(); ok {
		t.Fatalf("no session before the second factor")
	}

	if err := h.m.SelectMethod(ctx, authority.MethodTOTP); err != nil {
		t.Fatalf("select: %v", err)
	}
	wantState(t, h.m, pending(authority.MethodTOTP))

	if err := h.m.SubmitCode(ctx, "12345"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected local validation error, got %v", err)
	}
	if err := h.m.SubmitCode(ctx, "000000"); !errors.Is(err, authority.ErrCodeInvalid) {
		t.Fatalf("expected invalid code, got %v", err)
	}
	wantState(t, h.m, failed(ReasonCodeInvalid, CodePending))

	if err := h.m.SubmitCode(ctx, "123456"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	wantState(t, h.m, State{Kind: Authenticated})
	if h.metric(testMetrics.MFASuccess) != 1 || h.metric(testMetrics.MFAFailure) != 1 {
		t.Fatalf("unexpected mfa metrics")
	}
}

func TestSelectMethodRejectsUnofferedMethod(t *testing.T) {
	h := newHarness(t, Config{})
	h.auth.login = func(authority.LoginRequest) (authority.LoginResult, error) {
		return authority.LoginResult{RequiresMFA: true, TempToken: "temp-1", MFAMethods: []authority.Method{authority.MethodEmail}}, nil
	}
	ctx := context.Background()
	if err := h.m.Login(ctx, "alice", "pw"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := h.m.SelectMethod(ctx, authority.MethodTOTP); !errors.Is(err, ErrMethodUnavailable) {
		t.Fatalf("expected ErrMethodUnavailable, got %v", err)
	}
	if err := h.m.SelectMethod(ctx, authority.MethodEmail); err != nil {
		t.Fatalf("select email: %v", err)
	}
	if h.auth.count("send_mfa") != 1 {
		t.Fatalf("expected mfa code sent")
	}
	wantState(t, h.m, pending(authority.MethodEmail))
}

func TestCancelDiscardsInFlightLogin(t *testing.T) {
	h := newHarness(t, Config{})
	entered := make(chan struct{})
	release := make(chan struct{})
	h.auth.login = func(authority.LoginRequest) (authority.LoginResult, error) {
		close(entered)
		<-release
		return authority.LoginResult{}, &authority.Error{Kind: authority.KindInvalidCredentials}
	}
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- h.m.Login(ctx, "alice", "pw") }()
	<-entered
	if err := h.m.Login(ctx, "alice", "pw"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy for a second login, got %v", err)
	}

	h.m.Cancel(ctx)
	close(release)
	if err := <-done; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected superseded, got %v", err)
	}
	wantState(t, h.m, State{Kind: Unauthenticated})
	if h.m.Snapshot().Notice != nil {
		t.Fatalf("stale response must not leave a notice")
	}
}

func TestRegisterStartsEmailVerification(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	if err := h.m.Register(ctx, "alice", "alice@example.com", "weak"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected weak password rejection, got %v", err)
	}
	if err := h.m.Register(ctx, "alice", "alice@example.com", "Passw0rd"); err != nil {
		t.Fatalf("register: %v", err)
	}
	wantState(t, h.m, pending(authority.MethodEmail))
	if h.auth.count("send_email") != 1 {
		t.Fatalf("expected code sent after registration")
	}
}

func TestRegisterWithAuthoritySentCode(t *testing.T) {
	h := newHarness(t, Config{RegistrationSendsCode: true})
	if err := h.m.Register(context.Background(), "alice", "alice@example.com", "Passw0rd"); err != nil {
		t.Fatalf("register: %v", err)
	}
	wantState(t, h.m, pending(authority.MethodEmail))
	if h.auth.count("send_email") != 0 {
		t.Fatalf("authority already sent the code")
	}
	if c := h.m.Snapshot().Countdown; !c.Awaiting || !c.CodeIssued {
		t.Fatalf("expected issued code awaiting expiry, got %+v", c)
	}
}

func TestLogoutClearsSessionEvenWhenRevokeRejected(t *testing.T) {
	h := newHarness(t, Config{})
	h.signIn(t, authority.User{ID: 1})
	h.auth.logout = func(string) error {
		return &authority.Error{Kind: authority.KindUnauthorized, Status: 401}
	}
	if err := h.m.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, ok := h.sess.Current(); ok {
		t.Fatalf("expected session cleared")
	}
	wantState(t, h.m, State{Kind: Unauthenticated})
}

func TestHandleUnauthorized(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	if h.m.HandleUnauthorized(ctx) {
		t.Fatalf("nothing to clear without a session")
	}

	h.signIn(t, authority.User{ID: 1})
	if !h.m.HandleUnauthorized(ctx) {
		t.Fatalf("expected session cleared")
	}
	wantState(t, h.m, State{Kind: Unauthenticated})
	if h.eventsOf(EventNavigateToEntry) != 1 {
		t.Fatalf("expected navigate-to-entry event")
	}
}

func TestRemoteSignInEndsPreSessionFlow(t *testing.T) {
	h := newHarness(t, Config{})
	h.auth.login = func(authority.LoginRequest) (authority.LoginResult, error) {
		return authority.LoginResult{RequiresMFA: true, TempToken: "temp-1", MFAMethods: []authority.Method{authority.MethodTOTP}}, nil
	}
	if err := h.m.Login(context.Background(), "alice", "pw"); err != nil {
		t.Fatalf("login: %v", err)
	}
	h.signIn(t, authority.User{ID: 1})
	if snap := h.m.Snapshot(); snap.Purpose != PurposeNone {
		t.Fatalf("expected attempt discarded, got %v", snap.Purpose)
	}
}
