package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	apiPrefix = "/api/auth"

	// DefaultRetryAfter applies when a rate-limited response carries no hint.
	DefaultRetryAfter = 180 * time.Second

	maxResponseBytes = 1 << 20
)

// SessionWriter receives the session established by a successful login.
type SessionWriter interface {
	Establish(ctx context.Context, s Session) error
	ReplaceUser(ctx context.Context, u User) error
}

// Observer is notified after every round trip.
type Observer func(op string, elapsed time.Duration, err error)

// Client calls the remote authority.
type Client struct {
	base      string
	http      *http.Client
	writer    SessionWriter
	userAgent string
	logger    *slog.Logger
	observe   Observer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the transport used for all calls.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithSessionWriter sets the destination of the initial session write.
func WithSessionWriter(w SessionWriter) Option {
	return func(c *Client) { c.writer = w }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithLogger sets the logger. The default discards output.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithObserver installs a round-trip observer.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observe = o }
}

// New returns a Client for the authority at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("authority: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.New("authority: base url must be http or https")
	}
	if u.Host == "" {
		return nil, errors.New("authority: base url has no host")
	}

	c := &Client{
		base:      strings.TrimRight(u.String(), "/") + apiPrefix,
		http:      &http.Client{Timeout: 15 * time.Second},
		userAgent: "authflow",
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// scope selects how ambiguous statuses are classified.
type scope uint8

const (
	scopeGeneric scope = iota
	scopeCredentials
	scopeCode
)

type errorBody struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	RetryAfter        *int64 `json:"retry_after"`
	NeedsVerification bool   `json:"needs_verification"`
	Field             string `json:"field"`
	Require2FA        bool   `json:"require_2fa"`
	RequirePassword   bool   `json:"require_password"`
	Expired           bool   `json:"expired"`
}

func (b errorBody) text() string {
	if b.Error != "" {
		return b.Error
	}
	return b.Message
}

type call struct {
	op     string
	method string
	path   string
	token  string
	scope  scope
	in     any
	out    any
}

func (c *Client) do(ctx context.Context, cl call) (err error) {
	start := time.Now()
	defer func() {
		if c.observe != nil {
			c.observe(cl.op, time.Since(start), err)
		}
	}()

	var body io.Reader
	if cl.in != nil {
		raw, mErr := json.Marshal(cl.in)
		if mErr != nil {
			return &Error{Kind: KindInvalidInput, cause: mErr}
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, c.base+cl.path, body)
	if err != nil {
		return serverError(err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if cl.token != "" {
		req.Header.Set("Authorization", "Bearer "+cl.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("authority request failed", "op", cl.op, "err", err)
		return serverError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return serverError(err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if cl.out == nil || len(bytes.TrimSpace(raw)) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, cl.out); err != nil {
			return serverError(fmt.Errorf("decode %s response: %w", cl.op, err))
		}
		return nil
	}

	var eb errorBody
	_ = json.Unmarshal(raw, &eb)
	ae := classify(resp.StatusCode, cl.scope, cl.token != "", eb, resp.Header)
	c.logger.Debug("authority rejected request", "op", cl.op, "status", resp.StatusCode, "kind", ae.Kind)
	return ae
}

// classify maps a rejection to a Kind. bearer reports whether the request
// carried the session token: a 401 to such a call is a session rejection
// unless the body names a code or password failure.
func classify(status int, sc scope, bearer bool, eb errorBody, h http.Header) *Error {
	msg := eb.text()
	lower := strings.ToLower(msg)
	e := &Error{Status: status, Message: msg, Field: eb.Field}

	switch {
	case status == http.StatusTooManyRequests:
		e.Kind = KindRateLimited
		e.RetryAfter = retryAfter(eb, h)
	case eb.NeedsVerification:
		e.Kind = KindNotVerified
	case eb.Require2FA:
		e.Kind = KindMFARequired
	case eb.RequirePassword:
		e.Kind = KindPasswordRequired
	case status == http.StatusConflict ||
		(status == http.StatusBadRequest && sc != scopeCode && strings.Contains(lower, "already")):
		e.Kind = KindConflict
		if e.Field == "" {
			switch {
			case strings.Contains(lower, "email"):
				e.Field = "email"
			case strings.Contains(lower, "username"):
				e.Field = "username"
			}
		}
	case sc == scopeCode && bearer && status == http.StatusUnauthorized && !namesCodeFailure(eb, lower):
		e.Kind = KindUnauthorized
	case sc == scopeCode && (status == http.StatusUnauthorized || status == http.StatusBadRequest || status == http.StatusNotFound):
		if eb.Expired || strings.Contains(lower, "expired") {
			e.Kind = KindCodeExpired
		} else {
			e.Kind = KindCodeInvalid
		}
	case sc == scopeCredentials && (status == http.StatusUnauthorized || status == http.StatusForbidden):
		e.Kind = KindInvalidCredentials
	case status == http.StatusUnauthorized:
		e.Kind = KindUnauthorized
	case status >= 400 && status < 500:
		e.Kind = KindInvalidInput
	default:
		e.Kind = KindServer
	}
	return e
}

func namesCodeFailure(eb errorBody, lower string) bool {
	if eb.Expired {
		return true
	}
	for _, w := range []string{"code", "expired", "verif", "password"} {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

func retryAfter(eb errorBody, h http.Header) time.Duration {
	if eb.RetryAfter != nil && *eb.RetryAfter > 0 {
		return time.Duration(*eb.RetryAfter) * time.Second
	}
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return DefaultRetryAfter
}

func (c *Client) establish(ctx context.Context, res LoginResult) error {
	if c.writer == nil || res.Token == "" || sessionDeferred(ctx) {
		return nil
	}
	if err := c.writer.Establish(ctx, res.Session()); err != nil {
		return serverError(fmt.Errorf("establish session: %w", err))
	}
	return nil
}

func seconds(v *int64) (time.Duration, bool) {
	if v == nil {
		return 0, false
	}
	if *v < 0 {
		return 0, true
	}
	return time.Duration(*v) * time.Second, true
}
