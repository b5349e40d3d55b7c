package flows

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authflow/authority"
	"github.com/MrEthical07/authflow/internal/stores"
	"github.com/MrEthical07/authflow/internal/timer"
	"github.com/MrEthical07/authflow/password"
	"github.com/MrEthical07/authflow/session"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memSessions struct {
	mu       sync.Mutex
	id       session.Identity
	present  bool
	onChange func(session.Change)
}

func (s *memSessions) Current() (session.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, s.present
}

func (s *memSessions) Set(ctx context.Context, id session.Identity) error {
	s.mu.Lock()
	s.id, s.present = id, true
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn(session.Change{Kind: session.ChangeSet, Identity: id})
	}
	return nil
}

func (s *memSessions) ReplaceUser(ctx context.Context, u authority.User) error {
	cur, ok := s.Current()
	if !ok {
		return session.ErrNoSession
	}
	cur.User = u
	return s.Set(ctx, cur)
}

func (s *memSessions) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.id, s.present = session.Identity{}, false
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn(session.Change{Kind: session.ChangeClear})
	}
	return nil
}

// fakeAuthority answers from per-test hooks. Successful logins write the
// session unless deferred is set, like the real client does.
type fakeAuthority struct {
	sessions *memSessions
	deferred bool

	mu    sync.Mutex
	calls map[string]int

	login      func(authority.LoginRequest) (authority.LoginResult, error)
	verifyMFA  func(method authority.Method, code string) (authority.LoginResult, error)
	sendEmail  func(email string) (authority.SendResult, error)
	checkEmail func(email string) (authority.ExpiryResult, error)
	verifyCode func(email, code string) error
	setupTOTP  func() (authority.TOTPSetup, error)
	verifyTOTP func(code string) error
	identity   func(code string, method authority.Method) (string, error)
	changePw   func(authority.ChangePasswordRequest) error
	profile    func(authority.ProfileUpdate) (authority.User, error)
	logout     func(token string) error
}

func (f *fakeAuthority) hit(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[name]++
}

func (f *fakeAuthority) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

var errNotStubbed = errors.New("not stubbed")

func (f *fakeAuthority) establish(ctx context.Context, res authority.LoginResult) {
	if f.deferred || res.Token == "" {
		return
	}
	_ = f.sessions.Set(ctx, session.Identity{AccessToken: res.Token, RefreshToken: res.RefreshToken, User: res.User})
}

func (f *fakeAuthority) Login(ctx context.Context, req authority.LoginRequest) (authority.LoginResult, error) {
	f.hit("login")
	if f.login == nil {
		return authority.LoginResult{}, errNotStubbed
	}
	res, err := f.login(req)
	if err == nil {
		f.establish(ctx, res)
	}
	return res, err
}

func (f *fakeAuthority) Register(ctx context.Context, req authority.RegisterRequest) (authority.RegisterResult, error) {
	f.hit("register")
	return authority.RegisterResult{User: authority.User{ID: 7, Username: req.Username, Email: req.Email}}, nil
}

func (f *fakeAuthority) VerifyMFA(ctx context.Context, tempToken string, method authority.Method, code string) (authority.LoginResult, error) {
	f.hit("verify_mfa")
	if f.verifyMFA == nil {
		return authority.LoginResult{}, errNotStubbed
	}
	res, err := f.verifyMFA(method, code)
	if err == nil {
		f.establish(ctx, res)
	}
	return res, err
}

func (f *fakeAuthority) VerifyWeb3Signature(ctx context.Context, address, challenge, signature string) (authority.LoginResult, error) {
	f.hit("web3")
	return authority.LoginResult{}, errNotStubbed
}

func (f *fakeAuthority) GoogleLogin(ctx context.Context, credential string) (authority.LoginResult, error) {
	f.hit("google")
	return authority.LoginResult{}, errNotStubbed
}

func (f *fakeAuthority) Logout(ctx context.Context, token string) error {
	f.hit("logout")
	if f.logout == nil {
		return nil
	}
	return f.logout(token)
}

func (f *fakeAuthority) SendEmailCode(ctx context.Context, email string) (authority.SendResult, error) {
	f.hit("send_email")
	if f.sendEmail == nil {
		return authority.SendResult{ResendCooldown: time.Minute, ExpiresIn: 5 * time.Minute, HasExpiry: true}, nil
	}
	return f.sendEmail(email)
}

func (f *fakeAuthority) SendMFACode(ctx context.Context, tempToken string) (authority.SendResult, error) {
	f.hit("send_mfa")
	return authority.SendResult{ResendCooldown: time.Minute, ExpiresIn: 5 * time.Minute, HasExpiry: true}, nil
}

func (f *fakeAuthority) CheckEmailCodeExpiry(ctx context.Context, email string) (authority.ExpiryResult, error) {
	f.hit("check_email")
	if f.checkEmail == nil {
		return authority.ExpiryResult{}, errNotStubbed
	}
	return f.checkEmail(email)
}

func (f *fakeAuthority) CheckMFACodeExpiry(ctx context.Context, tempToken string) (authority.ExpiryResult, error) {
	f.hit("check_mfa")
	return authority.ExpiryResult{}, errNotStubbed
}

func (f *fakeAuthority) VerifyEmailCode(ctx context.Context, email, code string) error {
	f.hit("verify_email")
	if f.verifyCode == nil {
		return errNotStubbed
	}
	return f.verifyCode(email, code)
}

func (f *fakeAuthority) SetupTOTP(ctx context.Context, token string) (authority.TOTPSetup, error) {
	f.hit("setup_totp")
	if f.setupTOTP == nil {
		return authority.TOTPSetup{Secret: "JBSWY3DPEHPK3PXP", EnrollmentURI: "otpauth://totp/x", RecoveryCodes: []string{"aaaa-1111", "bbbb-2222"}}, nil
	}
	return f.setupTOTP()
}

func (f *fakeAuthority) VerifyTOTP(ctx context.Context, token, code string) (authority.StatusResult, error) {
	f.hit("verify_totp")
	if f.verifyTOTP == nil {
		return authority.StatusResult{}, errNotStubbed
	}
	return authority.StatusResult{}, f.verifyTOTP(code)
}

func (f *fakeAuthority) DisableTOTP(ctx context.Context, token string) (authority.StatusResult, error) {
	f.hit("disable_totp")
	return authority.StatusResult{}, nil
}

func (f *fakeAuthority) VerifyIdentityCode(ctx context.Context, token, code string, method authority.Method) (string, error) {
	f.hit("verify_identity")
	if f.identity == nil {
		return "", errNotStubbed
	}
	return f.identity(code, method)
}

func (f *fakeAuthority) ChangePassword(ctx context.Context, token string, req authority.ChangePasswordRequest) (authority.StatusResult, error) {
	f.hit("change_password")
	if f.changePw == nil {
		return authority.StatusResult{}, errNotStubbed
	}
	return authority.StatusResult{}, f.changePw(req)
}

func (f *fakeAuthority) UpdateProfile(ctx context.Context, token string, upd authority.ProfileUpdate) (authority.User, error) {
	f.hit("update_profile")
	if f.profile == nil {
		return authority.User{}, errNotStubbed
	}
	return f.profile(upd)
}

// memPersist keeps one attempt record and one lockout in memory.
type memPersist struct {
	mu      sync.Mutex
	rec     *stores.AttemptRecord
	ttl     time.Duration
	lockout time.Time
}

func (p *memPersist) persistence() Persistence {
	return Persistence{
		SaveAttempt: func(ctx context.Context, rec *stores.AttemptRecord, ttl time.Duration) error {
			p.mu.Lock()
			defer p.mu.Unlock()
			cp := *rec
			p.rec = &cp
			p.ttl = ttl
			return nil
		},
		LoadAttempt: func(ctx context.Context) (*stores.AttemptRecord, error) {
			p.mu.Lock()
			defer p.mu.Unlock()
			if p.rec == nil {
				return nil, stores.ErrAttemptNotFound
			}
			cp := *p.rec
			return &cp, nil
		},
		DeleteAttempt: func(ctx context.Context) error {
			p.mu.Lock()
			p.rec = nil
			p.mu.Unlock()
			return nil
		},
		SaveLockout: func(ctx context.Context, until, now time.Time) error {
			p.mu.Lock()
			p.lockout = until
			p.mu.Unlock()
			return nil
		},
		LoadLockout: func(ctx context.Context, now time.Time) (time.Time, bool, error) {
			p.mu.Lock()
			defer p.mu.Unlock()
			if p.lockout.IsZero() || !now.Before(p.lockout) {
				return time.Time{}, false, nil
			}
			return p.lockout, true, nil
		},
		ClearLockout: func(ctx context.Context) error {
			p.mu.Lock()
			p.lockout = time.Time{}
			p.mu.Unlock()
			return nil
		},
	}
}

type harness struct {
	m       *Machine
	auth    *fakeAuthority
	sess    *memSessions
	clock   *fakeClock
	persist *memPersist

	mu     sync.Mutex
	events []Event
	counts map[int]int
}

func (h *harness) eventsOf(t EventType) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, ev := range h.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func (h *harness) metric(id int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counts[id]
}

var testMetrics = Metrics{
	LoginSuccess: 1, LoginFailure: 2, LoginRateLimited: 3, MFARequired: 4,
	MFASuccess: 5, MFAFailure: 6, CodeSent: 7, CodeResent: 8, CodeExpired: 9,
	CodeInvalid: 10, ResyncSuccess: 11, ResyncFailure: 12, ResyncDiscarded: 13,
	RegistrationSuccess: 14, EnrollmentCompleted: 15, ReverifySuccess: 16,
	PasswordChanged: 17, ProfileUpdated: 18, FlowCancelled: 19, SessionRejected: 20,
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		sess:    &memSessions{},
		clock:   &fakeClock{now: time.Unix(1_700_000_000, 0)},
		persist: &memPersist{},
		counts:  make(map[int]int),
	}
	h.auth = &fakeAuthority{sessions: h.sess, deferred: cfg.EnrollmentMandatory}
	if cfg.Password == (password.Policy{}) {
		cfg.Password = password.DefaultPolicy()
	}
	if cfg.Timer == (timer.Config{}) {
		cfg.Timer = timer.Config{GuardWindow: 3 * time.Second, ResyncInterval: 30 * time.Second}
	}
	h.m = h.build(cfg)
	return h
}

func (h *harness) build(cfg Config) *Machine {
	m := New(Deps{
		Authority: h.auth,
		Sessions:  h.sess,
		Persist:   h.persist.persistence(),
		Config:    cfg,
		Now:       h.clock.Now,
		Metrics:   testMetrics,
		Inc: func(id int) {
			h.mu.Lock()
			h.counts[id]++
			h.mu.Unlock()
		},
		Emit: func(ev Event) {
			h.mu.Lock()
			h.events = append(h.events, ev)
			h.mu.Unlock()
		},
	})
	h.sess.mu.Lock()
	h.sess.onChange = func(ch session.Change) { m.OnSessionChange(context.Background(), ch) }
	h.sess.mu.Unlock()
	return m
}

func (h *harness) signIn(t *testing.T, u authority.User) {
	t.Helper()
	if err := h.sess.Set(context.Background(), session.Identity{AccessToken: "access-1", RefreshToken: "refresh-1", User: u}); err != nil {
		t.Fatalf("set session: %v", err)
	}
	if got := h.m.State().Kind; got != Authenticated {
		t.Fatalf("expected authenticated after sign-in, got %v", got)
	}
}

func wantState(t *testing.T, m *Machine, want State) {
	t.Helper()
	if got := m.State(); got != want {
		t.Fatalf("expected state %v, got %v", want, got)
	}
}

func okLogin(u authority.User) func(authority.LoginRequest) (authority.LoginResult, error) {
	return func(authority.LoginRequest) (authority.LoginResult, error) {
		return authority.LoginResult{Token: "access-1", RefreshToken: "refresh-1", User: u}, nil
	}
}
