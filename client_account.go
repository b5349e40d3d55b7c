package authflow

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/MrEthical07/authflow/authority"
	"github.com/MrEthical07/authflow/middleware"
	"github.com/MrEthical07/authflow/refresh"
)

// BeginReverify starts an in-session re-verification for a password or
// profile change.
func (c *Client) BeginReverify(ctx context.Context, p Purpose) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.machine.BeginReverify(ctx, p)
}

// ChangePassword spends a password-change re-verification.
func (c *Client) ChangePassword(ctx context.Context, newPassword string) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.machine.ChangePassword(ctx, newPassword)
}

// UpdateProfile changes the username or email under the configured
// identity-change rule. A new email starts its own verification.
func (c *Client) UpdateProfile(ctx context.Context, ch ProfileChange) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.machine.UpdateProfile(ctx, ch)
}

// SetupTOTP starts enrollment for the signed-in account and returns the
// material to show. The same material is in the snapshot until the flow
// leaves the enrollment screen.
func (c *Client) SetupTOTP(ctx context.Context) (EnrollmentMaterial, error) {
	if err := c.ready(); err != nil {
		return EnrollmentMaterial{}, err
	}
	if err := c.machine.StartEnrollment(ctx); err != nil {
		return EnrollmentMaterial{}, err
	}
	snap := c.machine.Snapshot()
	if snap.Enrollment == nil {
		return EnrollmentMaterial{}, fmt.Errorf("%w: enrollment material unavailable", ErrInvalidState)
	}
	return *snap.Enrollment, nil
}

// DisableTOTP turns off the authenticator for the signed-in account.
func (c *Client) DisableTOTP(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.machine.DisableTOTP(ctx)
}

// RequestPasswordReset asks the authority to mail a reset link. It does not
// touch the flow or the session.
func (c *Client) RequestPasswordReset(ctx context.Context, email string) error {
	if err := c.ready(); err != nil {
		return err
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	_, err := c.authority.RequestPasswordReset(ctx, email)
	return err
}

// ResetPassword sets a new password with a reset token from the mailed
// link.
func (c *Client) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	if err := c.ready(); err != nil {
		return err
	}
	if strings.TrimSpace(resetToken) == "" {
		return fmt.Errorf("%w: reset token is required", ErrInvalidInput)
	}
	if err := c.config.Policy.Password.Check(newPassword); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	_, err := c.authority.ResetPassword(ctx, resetToken, newPassword)
	return err
}

// RefreshSession renews the access token. Concurrent calls share one
// request. A rejected refresh token ends the session.
func (c *Client) RefreshSession(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return err
	}
	id, ok := c.store.Current()
	if !ok {
		return ErrNoSession
	}
	if id.RefreshToken == "" {
		return ErrNoRefreshToken
	}

	toks, _, err := c.refresher.Do(ctx, id.RefreshToken, func(ctx context.Context, rt string) (refresh.Tokens, error) {
		res, err := c.authority.Refresh(ctx, rt)
		if err != nil {
			return refresh.Tokens{}, err
		}
		return refresh.Tokens{Access: res.Token, Refresh: res.RefreshToken}, nil
	})
	uid := userID(id.User)
	if err != nil {
		c.metrics.Inc(MetricRefreshFailure)
		c.auditRefresh(uid, err)
		if authority.KindOf(err) == authority.KindUnauthorized {
			c.machine.HandleUnauthorized(ctx)
		}
		return err
	}

	// Another caller sharing this refresh may already have stored the result,
	// or the session may have been replaced meanwhile.
	cur, ok := c.store.Current()
	if !ok || cur.RefreshToken != id.RefreshToken || cur.AccessToken == toks.Access {
		return nil
	}
	if err := c.store.ReplaceTokens(ctx, toks.Access, toks.Refresh); err != nil {
		return err
	}
	c.metrics.Inc(MetricRefreshSuccess)
	c.auditRefresh(uid, nil)
	return nil
}

func (c *Client) refreshIfDue(ctx context.Context) {
	id, ok := c.store.Current()
	if !ok || id.RefreshToken == "" || !c.refresher.Due(id.AccessToken) {
		return
	}
	if err := c.RefreshSession(ctx); err != nil {
		c.logger.Warn("authflow: background refresh failed", "err", err)
	}
}

// HTTPClient returns a client that sends the stored access token with
// every request. A 401 response ends the session unless a sign-in flow is
// in progress.
func (c *Client) HTTPClient() *http.Client {
	base := c.baseHTTP.Transport
	return &http.Client{
		Timeout: c.baseHTTP.Timeout,
		Transport: &middleware.Transport{
			Base: base,
			Token: func() (string, bool) {
				id, ok := c.store.Current()
				return id.AccessToken, ok
			},
			OnUnauthorized: func(req *http.Request) {
				c.machine.HandleUnauthorized(context.WithoutCancel(req.Context()))
			},
		},
	}
}
