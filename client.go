package authflow

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MrEthical07/authflow/authority"
	internalaudit "github.com/MrEthical07/authflow/internal/audit"
	"github.com/MrEthical07/authflow/internal/flows"
	"github.com/MrEthical07/authflow/internal/stores"
	"github.com/MrEthical07/authflow/refresh"
	"github.com/MrEthical07/authflow/session"
)

// Client is the authentication surface of one tab.
//
// A Client is safe for concurrent use. Every method except Start, Close and
// the read accessors returns ErrClientNotReady before Start succeeds.
type Client struct {
	config    Config
	tabID     string
	logger    *slog.Logger
	now       func() time.Time
	store     *session.Store
	attempts  *stores.AttemptStore
	lockouts  *stores.LockoutStore
	authority *authority.Client
	baseHTTP  *http.Client
	machine   *flows.Machine
	refresher *refresh.Scheduler
	metrics   *Metrics
	audit     *internalaudit.Dispatcher

	lifeMu      sync.Mutex
	started     bool
	closed      bool
	cancel      context.CancelFunc
	unsubscribe func()
	wg          sync.WaitGroup

	flowMu      sync.Mutex
	flowSubs    map[uint64]func(FlowEvent)
	nextFlowSub uint64
}

// Start hydrates the session, joins the cross-tab channel, restores this
// tab's pending verification and starts the background drivers. It may be
// called once.
func (c *Client) Start(ctx context.Context) error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	if c.started {
		return nil
	}

	if err := c.store.Hydrate(ctx); err != nil {
		return err
	}
	c.unsubscribe = c.store.Subscribe(c.onSessionChange)

	runCtx, cancel := context.WithCancel(context.Background())
	if err := c.store.Listen(runCtx); err != nil {
		cancel()
		c.unsubscribe()
		return err
	}
	if err := c.machine.Restore(ctx); err != nil {
		c.logger.Warn("authflow: restore pending verification failed", "err", err)
	}

	c.cancel = cancel
	c.started = true

	if d := c.config.Verification.TickInterval; d > 0 {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			refresh.Run(runCtx, d, c.machine.Tick)
		}()
	}
	if c.config.Refresh.Enabled {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			refresh.Run(runCtx, c.config.Refresh.CheckInterval, c.refreshIfDue)
		}()
	}
	c.logger.Debug("authflow: client started")
	return nil
}

// Close stops the drivers, the cross-tab listener and the audit dispatcher
// and waits for them. The stored session is left in place.
func (c *Client) Close() error {
	c.lifeMu.Lock()
	if c.closed {
		c.lifeMu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancel
	unsubscribe := c.unsubscribe
	c.lifeMu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	err := c.store.Close()
	if unsubscribe != nil {
		unsubscribe()
	}
	c.audit.Close()
	return err
}

func (c *Client) ready() error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	switch {
	case c.closed:
		return ErrClientClosed
	case !c.started:
		return ErrClientNotReady
	}
	return nil
}

func (c *Client) onSessionChange(ch session.Change) {
	if ch.Remote {
		c.metrics.Inc(MetricRemoteSessionChange)
	}
	c.auditSession(ch)
	c.machine.OnSessionChange(context.Background(), ch)
}

func (c *Client) dispatchFlow(ev FlowEvent) {
	c.auditFlow(ev)

	c.flowMu.Lock()
	subs := make([]func(FlowEvent), 0, len(c.flowSubs))
	for _, fn := range c.flowSubs {
		subs = append(subs, fn)
	}
	c.flowMu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// TabID identifies this tab in durable storage.
func (c *Client) TabID() string { return c.tabID }

// Ready reports whether the persisted session has been loaded.
func (c *Client) Ready() bool { return c.store.Ready() }

// WaitReady blocks until the persisted session has been loaded.
func (c *Client) WaitReady(ctx context.Context) error { return c.store.WaitReady(ctx) }

// AuthState returns the current flow position.
func (c *Client) AuthState() State { return c.machine.State() }

// IsAuthenticated reports whether a session is stored.
func (c *Client) IsAuthenticated() bool {
	_, ok := c.store.Current()
	return ok
}

// CurrentUser returns the signed-in user.
func (c *Client) CurrentUser() (User, bool) {
	id, ok := c.store.Current()
	return id.User, ok
}

// Identity returns the stored session, tokens included.
func (c *Client) Identity() (Identity, bool) { return c.store.Current() }

// Snapshot returns the render-ready view of the flow.
func (c *Client) Snapshot() Snapshot { return c.machine.Snapshot() }

// Subscribe registers fn for every session change, local or made by
// another tab. fn runs synchronously on the notifying goroutine.
func (c *Client) Subscribe(fn func(SessionChange)) (cancel func()) {
	return c.store.Subscribe(fn)
}

// SubscribeFlow registers fn for flow events. fn must not call back into
// the Client synchronously with a blocking flow operation.
func (c *Client) SubscribeFlow(fn func(FlowEvent)) (cancel func()) {
	c.flowMu.Lock()
	id := c.nextFlowSub
	c.nextFlowSub++
	c.flowSubs[id] = fn
	c.flowMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.flowMu.Lock()
			delete(c.flowSubs, id)
			c.flowMu.Unlock()
		})
	}
}

// MetricsSnapshot copies the client's counters.
func (c *Client) MetricsSnapshot() MetricsSnapshot { return c.metrics.Snapshot() }

// AuditDropped is the number of audit events lost to a full buffer.
func (c *Client) AuditDropped() uint64 { return c.audit.Dropped() }

// GoogleClientID is the OAuth client ID the UI should use for Google
// sign-in.
func (c *Client) GoogleClientID() string { return c.config.Authority.GoogleClientID }
