package authflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authflow/internal/authtest"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	t     *testing.T
	mr    *miniredis.Miniredis
	clock *testClock
	srv   *authtest.Server
	base  string
}

func newHarness(t *testing.T, opts authtest.Options) *harness {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)

	clk := newTestClock()
	if opts.Now == nil {
		opts.Now = clk.Now
	}
	srv, base := authtest.Start(t, opts)
	return &harness{t: t, mr: mr, clock: clk, srv: srv, base: base}
}

func (h *harness) config(mut func(*Config)) Config {
	cfg := DefaultConfig()
	cfg.Authority.BaseURL = h.base
	cfg.Session.RedisPrefix = "test"
	cfg.Verification.TickInterval = 0
	cfg.Refresh.Enabled = false
	if mut != nil {
		mut(&cfg)
	}
	return cfg
}

// tab builds and starts a Client for tabID. Close runs on cleanup.
func (h *harness) tab(tabID string, mut func(*Config), opts ...func(*Builder)) *Client {
	h.t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: h.mr.Addr()})
	b := New().
		WithConfig(h.config(mut)).
		WithRedis(rdb).
		WithTabID(tabID).
		WithClock(h.clock.Now)
	for _, o := range opts {
		o(b)
	}
	c, err := b.Build()
	if err != nil {
		h.t.Fatalf("Build: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		h.t.Fatalf("Start: %v", err)
	}
	h.t.Cleanup(func() {
		_ = c.Close()
		_ = rdb.Close()
	})
	return c
}

func (h *harness) account(a authtest.Account) (User, string) {
	h.t.Helper()
	u, secret, err := h.srv.AddAccount(a)
	if err != nil {
		h.t.Fatalf("AddAccount: %v", err)
	}
	return u, secret
}

func (h *harness) totp(secret string) string {
	h.t.Helper()
	code, err := authtest.TOTPCode(secret, h.clock.Now())
	if err != nil {
		h.t.Fatalf("TOTPCode: %v", err)
	}
	return code
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func requireState(t *testing.T, c *Client, want StateKind) {
	t.Helper()
	if got := c.AuthState(); got.Kind != want {
		t.Fatalf("expected state %s, got %s", want, got)
	}
}

const testPassword = "Sunny-Day9"
