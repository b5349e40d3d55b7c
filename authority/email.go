package authority

import (
	"context"
	"net/http"
)

type sendBody struct {
	ResendCooldown *int64 `json:"resend_cooldown"`
	ExpiresIn      *int64 `json:"expires_in_seconds"`
}

func (b sendBody) result() SendResult {
	var res SendResult
	res.ResendCooldown, _ = seconds(b.ResendCooldown)
	res.ExpiresIn, res.HasExpiry = seconds(b.ExpiresIn)
	return res
}

type expiryBody struct {
	HasCode   bool   `json:"has_code"`
	ExpiresIn *int64 `json:"expires_in_seconds"`
}

func (b expiryBody) result() ExpiryResult {
	d, _ := seconds(b.ExpiresIn)
	if !b.HasCode {
		d = 0
	}
	return ExpiryResult{HasCode: b.HasCode, ExpiresIn: d}
}

// SendEmailCode sends a verification code to email.
func (c *Client) SendEmailCode(ctx context.Context, email string) (SendResult, error) {
	var body sendBody
	in := map[string]string{"email": email}
	if err := c.do(ctx, call{op: "send_email_code", method: http.MethodPost, path: "/email/send-verification", in: in, out: &body}); err != nil {
		return SendResult{}, err
	}
	return body.result(), nil
}

// SendMFACode sends a login code to the email of the account behind tempToken.
func (c *Client) SendMFACode(ctx context.Context, tempToken string) (SendResult, error) {
	var body sendBody
	in := map[string]string{"temp_token": tempToken}
	if err := c.do(ctx, call{op: "send_mfa_code", method: http.MethodPost, path: "/email/send-mfa-code", scope: scopeCode, in: in, out: &body}); err != nil {
		return SendResult{}, err
	}
	return body.result(), nil
}

// CheckEmailCodeExpiry reports the remaining validity of the code sent to email.
func (c *Client) CheckEmailCodeExpiry(ctx context.Context, email string) (ExpiryResult, error) {
	var body expiryBody
	in := map[string]string{"email": email}
	if err := c.do(ctx, call{op: "check_email_expiry", method: http.MethodPost, path: "/email/check-expiry", in: in, out: &body}); err != nil {
		return ExpiryResult{}, err
	}
	return body.result(), nil
}

// CheckMFACodeExpiry reports the remaining validity of a login code.
func (c *Client) CheckMFACodeExpiry(ctx context.Context, tempToken string) (ExpiryResult, error) {
	var body expiryBody
	in := map[string]string{"temp_token": tempToken}
	if err := c.do(ctx, call{op: "check_mfa_expiry", method: http.MethodPost, path: "/email/check-mfa-expiry", scope: scopeCode, in: in, out: &body}); err != nil {
		return ExpiryResult{}, err
	}
	return body.result(), nil
}

// VerifyEmailCode confirms ownership of email. A response that does not
// confirm verification is reported as ErrCodeInvalid.
func (c *Client) VerifyEmailCode(ctx context.Context, email, code string) error {
	var body struct {
		Verified bool `json:"verified"`
	}
	in := map[string]string{"email": email, "code": code}
	if err := c.do(ctx, call{op: "verify_email_code", method: http.MethodPost, path: "/email/verify", scope: scopeCode, in: in, out: &body}); err != nil {
		return err
	}
	if !body.Verified {
		return &Error{Kind: KindCodeInvalid, Status: http.StatusOK}
	}
	return nil
}
