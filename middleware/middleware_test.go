package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/authflow/jwt"
)

func newManager(t *testing.T) *jwt.Manager {
	t.Helper()
	m, err := jwt.NewManager(jwt.Config{
		AccessTTL:     time.Minute,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func okHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := ClaimsFromContext(r.Context())
		if !ok {
			t.Error("expected claims on request context")
		}
		_, _ = io.WriteString(w, c.Username)
	})
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"Bearer  abc ", "abc", true},
		{"Bearer ", "", false},
		{"Basic abc", "", false},
		{"", "", false},
	}
	for _, tc := range tests {
		got, ok := BearerToken(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("BearerToken(%q) = %q,%v want %q,%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestGuardScope(t *testing.T) {
	m := newManager(t)
	h := RequireJWTOnly(m)(okHandler(t))

	access, _ := m.CreateAccess(1, "alice", jwt.ScopeAccess, "", 0)
	temp, _ := m.CreateAccess(1, "alice", jwt.ScopeMFA, "", 0)

	for _, tc := range []struct {
		header string
		status int
	}{
		{"Bearer " + access, http.StatusOK},
		{"Bearer " + temp, http.StatusUnauthorized},
		{"", http.StatusUnauthorized},
		{"Bearer garbage", http.StatusUnauthorized},
	} {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.status {
			t.Fatalf("header %q: status %d, want %d", tc.header, rec.Code, tc.status)
		}
	}
}

func TestRequireStrictConsultsLiveness(t *testing.T) {
	m := newManager(t)
	revoked := map[string]bool{}
	h := RequireStrict(m, jwt.ScopeAccess, func(_ context.Context, c *jwt.AccessClaims) bool {
		return !revoked[c.ID]
	})(okHandler(t))

	tok, _ := m.CreateAccess(1, "alice", jwt.ScopeAccess, "", 0)
	call := func() int {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	if got := call(); got != http.StatusOK {
		t.Fatalf("status %d before revocation", got)
	}
	c, _ := m.ParseAccess(tok, jwt.ScopeAccess)
	revoked[c.ID] = true
	if got := call(); got != http.StatusUnauthorized {
		t.Fatalf("status %d after revocation", got)
	}
}

func TestTransportSignsAndReportsRejection(t *testing.T) {
	var seen atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.Header.Get("Authorization"))
		if r.URL.Path == "/reject" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	var rejected atomic.Int32
	client := &http.Client{Transport: &Transport{
		Token:          func() (string, bool) { return "tok-1", true },
		OnUnauthorized: func(*http.Request) { rejected.Add(1) },
	}}

	resp, err := client.Get(srv.URL + "/ok")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if got := seen.Load(); got != "Bearer tok-1" {
		t.Fatalf("authorization = %v", got)
	}
	if rejected.Load() != 0 {
		t.Fatal("unexpected rejection callback")
	}

	resp, err = client.Get(srv.URL + "/reject")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if rejected.Load() != 1 {
		t.Fatalf("rejections = %d, want 1", rejected.Load())
	}
}

func TestTransportWithoutToken(t *testing.T) {
	client := &http.Client{Transport: &Transport{Token: func() (string, bool) { return "", false }}}
	if _, err := client.Get("http://127.0.0.1:1/x"); err == nil {
		t.Fatal("expected error without a token")
	}
}
