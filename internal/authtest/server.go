package authtest

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/MrEthical07/authflow/authority"
	"github.com/MrEthical07/authflow/jwt"
	"github.com/MrEthical07/authflow/middleware"
)

// Options tunes the fake authority. Zero values select the defaults noted on
// each field.
type Options struct {
	// Now is the authority clock. Default time.Now.
	Now func() time.Time
	// AccessTTL is the lifetime of access tokens. Default 15m.
	AccessTTL time.Duration
	// MFATokenTTL is the lifetime of the temporary token between primary
	// authentication and the second factor. Default 5m.
	MFATokenTTL time.Duration
	// CodeTTL is the validity of an emailed code. Default 10m.
	CodeTTL time.Duration
	// ResendCooldown is the wait between two codes to one address. Default 60s.
	ResendCooldown time.Duration
	// LoginBurst is the number of failed logins allowed per account before
	// the authority answers 429. Default 5.
	LoginBurst int
	// LoginRefill is how long one failed-login allowance takes to come back.
	// Default 1m.
	LoginRefill time.Duration
	// SendsCodeOnRegister emails the first code as part of registration.
	SendsCodeOnRegister bool
	// BcryptCost defaults to bcrypt.MinCost to keep tests fast.
	BcryptCost int
	// VerifySignature checks a wallet signature. Default accepts
	// SignChallenge(challenge).
	VerifySignature func(address, challenge, signature string) bool
	// VerifyGoogle maps a Google credential to a verified email. Default
	// accepts "google:<email>".
	VerifyGoogle func(credential string) (email string, ok bool)
	Logger       *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.AccessTTL <= 0 {
		o.AccessTTL = 15 * time.Minute
	}
	if o.MFATokenTTL <= 0 {
		o.MFATokenTTL = 5 * time.Minute
	}
	if o.CodeTTL <= 0 {
		o.CodeTTL = 10 * time.Minute
	}
	if o.ResendCooldown <= 0 {
		o.ResendCooldown = 60 * time.Second
	}
	if o.LoginBurst <= 0 {
		o.LoginBurst = 5
	}
	if o.LoginRefill <= 0 {
		o.LoginRefill = time.Minute
	}
	if o.BcryptCost == 0 {
		o.BcryptCost = bcrypt.MinCost
	}
	if o.VerifySignature == nil {
		o.VerifySignature = func(_, challenge, signature string) bool {
			return signature == SignChallenge(challenge)
		}
	}
	if o.VerifyGoogle == nil {
		o.VerifyGoogle = func(credential string) (string, bool) {
			email, ok := strings.CutPrefix(credential, "google:")
			return email, ok && strings.Contains(email, "@")
		}
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

type account struct {
	user        authority.User
	hash        []byte
	totpSecret  []byte
	totpPending []byte
	recovery    map[string]bool
	pendingRec  []string
	lastStep    int64
}

type fault struct {
	status int
	body   any
}

// Server is an in-memory authority speaking the REST contract of the
// credential client under /api/auth.
type Server struct {
	opts   Options
	tokens *jwt.Manager
	router *mux.Router
	totp   totpConfig

	mu         sync.Mutex
	nextID     int64
	accounts   map[int64]*account
	byName     map[string]int64
	byEmail    map[string]int64
	byWallet   map[string]int64
	codes      map[string]*code
	refresh    map[string]int64
	revoked    map[string]bool
	used       map[string]bool
	challenges map[string]string
	resets     map[string]string
	limiters   map[string]*rate.Limiter
	calls      map[string]int
	faults     map[string][]fault
}

// New returns a Server. It panics only if the signing key cannot be drawn.
func New(opts Options) *Server {
	opts = opts.withDefaults()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic(err)
	}
	tokens, err := jwt.NewManager(jwt.Config{
		AccessTTL:     opts.AccessTTL,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    key,
		Issuer:        "authtest",
		Now:           opts.Now,
	})
	if err != nil {
		panic(err)
	}

	s := &Server{
		opts:       opts,
		tokens:     tokens,
		totp:       defaultTOTP(),
		nextID:     1,
		accounts:   make(map[int64]*account),
		byName:     make(map[string]int64),
		byEmail:    make(map[string]int64),
		byWallet:   make(map[string]int64),
		codes:      make(map[string]*code),
		refresh:    make(map[string]int64),
		revoked:    make(map[string]bool),
		used:       make(map[string]bool),
		challenges: make(map[string]string),
		resets:     make(map[string]string),
		limiters:   make(map[string]*rate.Limiter),
		calls:      make(map[string]int),
		faults:     make(map[string][]fault),
	}
	s.router = s.routes()
	return s
}

// Start serves a new Server on an httptest listener and returns it with its
// base URL. The listener is closed by tb.Cleanup.
func Start(tb testing.TB, opts Options) (*Server, string) {
	tb.Helper()
	s := New(opts)
	ts := httptest.NewServer(s)
	tb.Cleanup(ts.Close)
	return s, ts.URL
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api/auth").Subrouter()
	api.Use(s.record)

	api.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/verify-mfa", s.handleVerifyMFA).Methods(http.MethodPost)
	api.HandleFunc("/web3/challenge", s.handleWeb3Challenge).Methods(http.MethodPost)
	api.HandleFunc("/web3/verify", s.handleWeb3Verify).Methods(http.MethodPost)
	api.HandleFunc("/google/callback", s.handleGoogle).Methods(http.MethodPost)
	api.HandleFunc("/refresh", s.handleRefresh).Methods(http.MethodPost)

	api.HandleFunc("/email/send-verification", s.handleSendEmailCode).Methods(http.MethodPost)
	api.HandleFunc("/email/send-mfa-code", s.handleSendMFACode).Methods(http.MethodPost)
	api.HandleFunc("/email/check-expiry", s.handleCheckEmailExpiry).Methods(http.MethodPost)
	api.HandleFunc("/email/check-mfa-expiry", s.handleCheckMFAExpiry).Methods(http.MethodPost)
	api.HandleFunc("/email/verify", s.handleVerifyEmail).Methods(http.MethodPost)

	api.HandleFunc("/password/request-reset", s.handleRequestReset).Methods(http.MethodPost)
	api.HandleFunc("/password/reset", s.handleReset).Methods(http.MethodPost)

	// Logout only needs a token the authority signed; a revoked or banned
	// session may still sign out.
	signed := api.NewRoute().Subrouter()
	signed.Use(middleware.RequireJWTOnly(s.tokens))
	signed.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)

	authed := api.NewRoute().Subrouter()
	authed.Use(middleware.RequireStrict(s.tokens, jwt.ScopeAccess, s.live))
	authed.HandleFunc("/me", s.handleMe).Methods(http.MethodGet)
	authed.HandleFunc("/setup-2fa", s.handleSetupTOTP).Methods(http.MethodPost)
	authed.HandleFunc("/verify-2fa", s.handleVerifyTOTP).Methods(http.MethodPost)
	authed.HandleFunc("/disable-2fa", s.handleDisableTOTP).Methods(http.MethodPost)
	authed.HandleFunc("/password/verify-code", s.handleVerifyIdentity).Methods(http.MethodPost)
	authed.HandleFunc("/password/change", s.handleChangePassword).Methods(http.MethodPost)
	authed.HandleFunc("/profile", s.handleUpdateProfile).Methods(http.MethodPut)
	return r
}

// record counts calls per path and serves injected faults.
func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/auth")
		s.mu.Lock()
		s.calls[path]++
		var f *fault
		if q := s.faults[path]; len(q) > 0 {
			f = &q[0]
			s.faults[path] = q[1:]
		}
		s.mu.Unlock()

		s.opts.Logger.Debug("authtest: request", "method", r.Method, "path", path)
		if f != nil {
			writeJSON(w, f.status, f.body)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) live(_ context.Context, claims *jwt.AccessClaims) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.revoked[claims.ID] {
		return false
	}
	acc, ok := s.accounts[claims.UID]
	return ok && !acc.user.Banned
}

/*
====================================
HELPERS
====================================
*/

type errorBody struct {
	Error             string `json:"error"`
	RetryAfter        *int64 `json:"retry_after,omitempty"`
	NeedsVerification bool   `json:"needs_verification,omitempty"`
	Field             string `json:"field,omitempty"`
	Require2FA        bool   `json:"require_2fa,omitempty"`
	RequirePassword   bool   `json:"require_password,omitempty"`
	Expired           bool   `json:"expired,omitempty"`
}

var errBadBody = errors.New("malformed request body")

func decode(r *http.Request, v any) error {
	if r.Body == nil {
		return errBadBody
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<16))
	if err := dec.Decode(v); err != nil {
		return errBadBody
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func fail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func tooMany(w http.ResponseWriter, wait time.Duration) {
	secs := int64((wait + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "too many requests", RetryAfter: &secs})
}

func seconds(d time.Duration) *int64 {
	v := int64((d + time.Second - 1) / time.Second)
	return &v
}

func normalize(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func (s *Server) now() time.Time { return s.opts.Now() }

// lookup finds an account by username or email. Lock held.
func (s *Server) lookup(login string) (*account, bool) {
	key := normalize(login)
	if id, ok := s.byName[key]; ok {
		return s.accounts[id], true
	}
	if id, ok := s.byEmail[key]; ok {
		return s.accounts[id], true
	}
	return nil, false
}

// claims returns the access claims the strict guard attached.
func claims(r *http.Request) *jwt.AccessClaims {
	c, _ := middleware.ClaimsFromContext(r.Context())
	return c
}

func bearer(r *http.Request) (string, bool) {
	return middleware.BearerToken(r.Header.Get("Authorization"))
}
