package authflow

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/authflow/authority"
	"github.com/MrEthical07/authflow/internal/flows"
	"github.com/MrEthical07/authflow/internal/stores"
	"github.com/MrEthical07/authflow/internal/timer"
	"github.com/MrEthical07/authflow/refresh"
	"github.com/MrEthical07/authflow/session"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Builder assembles a Client. A Builder can be used once.
type Builder struct {
	config     Config
	redis      redis.UniversalClient
	tabID      string
	httpClient *http.Client
	logger     *slog.Logger
	auditSink  AuditSink
	now        func() time.Time

	built bool
}

// New returns a Builder holding the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration. The value is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the durable storage shared by every tab.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithTabID names this tab. A Client built with the tab ID of an earlier
// one resumes that tab's pending verification. The default is a random ID.
func (b *Builder) WithTabID(id string) *Builder {
	b.tabID = strings.TrimSpace(id)
	return b
}

// WithHTTPClient sets the client used for authority requests.
func (b *Builder) WithHTTPClient(h *http.Client) *Builder {
	b.httpClient = h
	return b
}

// WithLogger sets the structured logger. The default discards output.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithAuditSink receives audit events when auditing is enabled.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock replaces time.Now for every countdown and expiry.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the authority latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the Client. It performs no
// I/O; call Start before use.
func (b *Builder) Build() (*Client, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if strings.ContainsAny(b.tabID, ": \t\r\n") {
		return nil, errors.New("tab ID must not contain ':' or whitespace")
	}

	tabID := b.tabID
	if tabID == "" {
		tabID = uuid.NewString()
	}
	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("tab", tabID)
	now := b.now
	if now == nil {
		now = time.Now
	}

	c := &Client{
		config:   cfg,
		tabID:    tabID,
		logger:   logger,
		now:      now,
		metrics:  NewMetrics(cfg.Metrics),
		flowSubs: make(map[uint64]func(FlowEvent)),
	}

	// -------- STORAGE --------
	prefix := cfg.Session.RedisPrefix
	c.store = session.NewStore(b.redis, session.Options{
		Prefix: prefix + ":session",
		TabID:  tabID,
		Logger: logger,
		Now:    now,
	})
	c.attempts = stores.NewAttemptStore(b.redis, prefix+":attempt")
	lockoutPrefix := prefix + ":lockout"
	if !cfg.Lockout.Shared {
		lockoutPrefix += ":" + tabID
	}
	c.lockouts = stores.NewLockoutStore(b.redis, lockoutPrefix)

	// -------- AUTHORITY --------
	hc := b.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Authority.Timeout}
	}
	ac, err := authority.New(cfg.Authority.BaseURL,
		authority.WithHTTPClient(hc),
		authority.WithSessionWriter(sessionWriter{store: c.store}),
		authority.WithUserAgent(cfg.Authority.UserAgent),
		authority.WithLogger(logger),
		authority.WithObserver(func(_ string, elapsed time.Duration, _ error) {
			c.metrics.Observe(MetricAuthorityLatency, elapsed)
		}),
	)
	if err != nil {
		return nil, err
	}
	c.authority = ac
	c.baseHTTP = hc

	// -------- MACHINE --------
	c.machine = flows.New(flows.Deps{
		Authority: ac,
		Sessions:  c.store,
		Persist:   c.persistence(),
		Config: flows.Config{
			Timer: timer.Config{
				GuardWindow:     cfg.Verification.GuardWindow,
				ResyncInterval:  cfg.Verification.ResyncInterval,
				DefaultCooldown: cfg.Verification.DefaultCooldown,
			},
			NoticeTTL:             cfg.Verification.NoticeTTL,
			AttemptGrace:          cfg.Verification.AttemptGrace,
			RegistrationSendsCode: cfg.Verification.RegistrationSendsCode,
			EnrollmentMandatory:   cfg.Policy.TOTPEnrollment == EnrollmentMandatory,
			IdentityChange:        flows.IdentityChangeRule(cfg.Policy.IdentityChange),
			Password:              cfg.Policy.Password,
		},
		Now:     now,
		Logger:  logger,
		Metrics: flowMetrics(),
		Inc:     func(id int) { c.metrics.Inc(MetricID(id)) },
		Emit:    c.dispatchFlow,
	})

	c.refresher = refresh.NewScheduler(cfg.Refresh.Leeway, now)
	c.audit = newAuditDispatcher(cfg.Audit, b.auditSink)

	b.built = true
	return c, nil
}

func (c *Client) persistence() flows.Persistence {
	return flows.Persistence{
		SaveAttempt: func(ctx context.Context, rec *stores.AttemptRecord, ttl time.Duration) error {
			return c.attempts.Save(ctx, c.tabID, rec, ttl)
		},
		LoadAttempt: func(ctx context.Context) (*stores.AttemptRecord, error) {
			return c.attempts.Load(ctx, c.tabID)
		},
		DeleteAttempt: func(ctx context.Context) error {
			_, err := c.attempts.Delete(ctx, c.tabID)
			return err
		},
		SaveLockout:  c.lockouts.Save,
		LoadLockout:  c.lockouts.Load,
		ClearLockout: c.lockouts.Clear,
	}
}

// sessionWriter lets the credential client perform the initial session
// write into the store.
type sessionWriter struct {
	store *session.Store
}

func (w sessionWriter) Establish(ctx context.Context, s authority.Session) error {
	return w.store.Set(ctx, session.Identity{AccessToken: s.AccessToken, RefreshToken: s.RefreshToken, User: s.User})
}

func (w sessionWriter) ReplaceUser(ctx context.Context, u authority.User) error {
	return w.store.ReplaceUser(ctx, u)
}
