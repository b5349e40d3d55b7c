package authflow

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// Login submits primary credentials. login is a username or an email.
func (c *Client) Login(ctx context.Context, login, password string) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.machine.Login(ctx, login, password)
}

// Register creates an account and starts its email verification.
func (c *Client) Register(ctx context.Context, username, email, password string) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.machine.Register(ctx, username, email, password)
}

// Logout revokes the session and clears it in every tab.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.machine.Logout(ctx)
}

// GetWeb3Challenge fetches the message a wallet must sign.
func (c *Client) GetWeb3Challenge(ctx context.Context, address string) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return "", fmt.Errorf("%w: wallet address is required", ErrInvalidInput)
	}
	return c.authority.GetWeb3Challenge(ctx, address)
}

// VerifyWeb3Signature exchanges a signed challenge for a session.
func (c *Client) VerifyWeb3Signature(ctx context.Context, address, challenge, signature string) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.machine.LoginWithWeb3Signature(ctx, address, challenge, signature)
}

// LoginWithWallet runs the whole wallet sign-in: challenge, signature and
// verification.
func (c *Client) LoginWithWallet(ctx context.Context, address string, signer Signer) error {
	if signer == nil {
		return fmt.Errorf("%w: signer is required", ErrInvalidInput)
	}
	challenge, err := c.GetWeb3Challenge(ctx, address)
	if err != nil {
		return err
	}
	sig, err := signer.SignMessage(ctx, strings.TrimSpace(address), challenge)
	if err != nil {
		return fmt.Errorf("authflow: sign challenge: %w", err)
	}
	return c.VerifyWeb3Signature(ctx, address, challenge, sig)
}

// LoginWithGoogle exchanges a Google ID token for a session.
func (c *Client) LoginWithGoogle(ctx context.Context, credential string) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.machine.LoginWithGoogle(ctx, credential)
}

// SelectMethod chooses the second factor and, for email, sends the code.
func (c *Client) SelectMethod(ctx context.Context, m Method) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.machine.SelectMethod(ctx, m)
}

// SubmitCode submits the code of the current verification step.
func (c *Client) SubmitCode(ctx context.Context, code string) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.machine.SubmitCode(ctx, code)
}

// Resend requests a new email code once the cooldown has passed.
func (c *Client) Resend(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.machine.Resend(ctx)
}

// ConfirmEnrollment moves from the enrollment screen to code entry after
// the user has stored the secret and recovery codes.
func (c *Client) ConfirmEnrollment(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.machine.ConfirmEnrollment(ctx)
}

// SkipEnrollment declines optional enrollment.
func (c *Client) SkipEnrollment(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.machine.SkipEnrollment(ctx)
}

// ExportRecoveryCodes writes the recovery codes being enrolled, one per
// line.
func (c *Client) ExportRecoveryCodes(w io.Writer) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.machine.ExportRecoveryCodes(w)
}

// Cancel abandons the current flow.
func (c *Client) Cancel(ctx context.Context) {
	if c.ready() != nil {
		return
	}
	c.machine.Cancel(ctx)
}

// Dismiss hides the current notice and leaves a dismissable failure.
func (c *Client) Dismiss() {
	c.machine.Dismiss()
}

// Tick advances countdowns and runs a due resync. The background driver
// calls it every Verification.TickInterval; call it directly when the
// driver is disabled.
func (c *Client) Tick(ctx context.Context) {
	if c.ready() != nil {
		return
	}
	c.machine.Tick(ctx)
}
