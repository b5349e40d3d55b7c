package authority

import (
	"context"
	"net/http"
)

type statusBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (c *Client) status(ctx context.Context, cl call) (StatusResult, error) {
	var body statusBody
	cl.out = &body
	if err := c.do(ctx, cl); err != nil {
		return StatusResult{}, err
	}
	return StatusResult{Success: body.Success, Message: body.Message}, nil
}

// SetupTOTP starts authenticator enrollment for the signed-in user.
func (c *Client) SetupTOTP(ctx context.Context, token string) (TOTPSetup, error) {
	var body struct {
		Secret        string   `json:"secret"`
		QRCodeURL     string   `json:"qr_code_url"`
		RecoveryCodes []string `json:"recovery_codes"`
	}
	if err := c.do(ctx, call{op: "setup_totp", method: http.MethodPost, path: "/setup-2fa", token: token, out: &body}); err != nil {
		return TOTPSetup{}, err
	}
	return TOTPSetup{Secret: body.Secret, EnrollmentURI: body.QRCodeURL, RecoveryCodes: body.RecoveryCodes}, nil
}

// VerifyTOTP confirms enrollment with a code from the authenticator app.
func (c *Client) VerifyTOTP(ctx context.Context, token, code string) (StatusResult, error) {
	in := map[string]string{"code": code}
	res, err := c.status(ctx, call{op: "verify_totp", method: http.MethodPost, path: "/verify-2fa", token: token, scope: scopeCode, in: in})
	if err != nil {
		return StatusResult{}, err
	}
	if !res.Success {
		return res, &Error{Kind: KindCodeInvalid, Status: http.StatusOK, Message: res.Message}
	}
	return res, nil
}

// DisableTOTP removes the authenticator from the signed-in account.
func (c *Client) DisableTOTP(ctx context.Context, token string) (StatusResult, error) {
	return c.status(ctx, call{op: "disable_totp", method: http.MethodPost, path: "/disable-2fa", token: token})
}

// VerifyIdentityCode re-verifies the signed-in user and returns a temporary
// token that authorizes one sensitive change.
func (c *Client) VerifyIdentityCode(ctx context.Context, token, code string, method Method) (string, error) {
	var body struct {
		Success   bool   `json:"success"`
		TempToken string `json:"temp_token"`
		Message   string `json:"message"`
	}
	in := map[string]string{"verification_code": code, "verification_method": string(method)}
	if err := c.do(ctx, call{op: "verify_identity_code", method: http.MethodPost, path: "/password/verify-code", token: token, scope: scopeCode, in: in, out: &body}); err != nil {
		return "", err
	}
	if !body.Success || body.TempToken == "" {
		return "", &Error{Kind: KindCodeInvalid, Status: http.StatusOK, Message: body.Message}
	}
	return body.TempToken, nil
}

// ChangePassword sets a new password using a re-verification escalation.
func (c *Client) ChangePassword(ctx context.Context, token string, req ChangePasswordRequest) (StatusResult, error) {
	in := map[string]string{
		"verification_code":   req.Code,
		"verification_method": string(req.Method),
		"temp_token":          req.TempToken,
		"new_password":        req.NewPassword,
	}
	return c.status(ctx, call{op: "change_password", method: http.MethodPost, path: "/password/change", token: token, scope: scopeCode, in: in})
}

// RequestPasswordReset asks for a reset link. The authority answers the same
// way whether or not the address is registered.
func (c *Client) RequestPasswordReset(ctx context.Context, email string) (StatusResult, error) {
	in := map[string]string{"email": email}
	return c.status(ctx, call{op: "request_password_reset", method: http.MethodPost, path: "/password/request-reset", in: in})
}

// ResetPassword consumes a reset token.
func (c *Client) ResetPassword(ctx context.Context, resetToken, newPassword string) (StatusResult, error) {
	in := map[string]string{"token": resetToken, "new_password": newPassword}
	return c.status(ctx, call{op: "reset_password", method: http.MethodPost, path: "/password/reset", scope: scopeCode, in: in})
}

// UpdateProfile changes username or email. On success the new user summary
// replaces the stored one.
func (c *Client) UpdateProfile(ctx context.Context, token string, upd ProfileUpdate) (User, error) {
	in := map[string]string{}
	if upd.Username != "" {
		in["username"] = upd.Username
	}
	if upd.Email != "" {
		in["email"] = upd.Email
	}
	if upd.VerificationCode != "" {
		in["verification_code"] = upd.VerificationCode
		in["verification_method"] = string(upd.Method)
	}
	if upd.TempToken != "" {
		in["temp_token"] = upd.TempToken
	}
	if upd.CurrentPassword != "" {
		in["current_password"] = upd.CurrentPassword
	}

	var body struct {
		User User `json:"user"`
	}
	if err := c.do(ctx, call{op: "update_profile", method: http.MethodPut, path: "/profile", token: token, in: in, out: &body}); err != nil {
		return User{}, err
	}
	if c.writer != nil {
		if err := c.writer.ReplaceUser(ctx, body.User); err != nil {
			return User{}, serverError(err)
		}
	}
	return body.User, nil
}
