package authority

import (
	"context"
	"net/http"
	"strings"
)

type loginBody struct {
	Token        string   `json:"token"`
	RefreshToken string   `json:"refresh_token"`
	User         User     `json:"user"`
	RequiresMFA  bool     `json:"requires_mfa"`
	TempToken    string   `json:"temp_token"`
	MFAMethods   []Method `json:"mfa_methods"`
}

func (b loginBody) result() LoginResult {
	res := LoginResult{
		Token:        b.Token,
		RefreshToken: b.RefreshToken,
		User:         b.User,
		RequiresMFA:  b.RequiresMFA,
		TempToken:    b.TempToken,
	}
	if b.RequiresMFA {
		res.Token = ""
		res.RefreshToken = ""
		res.MFAMethods = offeredMethods(b.MFAMethods)
	}
	return res
}

// Recovery codes are accepted wherever TOTP is, so they are offered with it.
func offeredMethods(in []Method) []Method {
	out := make([]Method, 0, len(in)+1)
	seen := make(map[Method]bool, len(in)+1)
	for _, m := range in {
		if m.Valid() && !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	if seen[MethodTOTP] && !seen[MethodRecoveryCode] {
		out = append(out, MethodRecoveryCode)
	}
	return out
}

func (c *Client) loginCall(ctx context.Context, cl call) (LoginResult, error) {
	var body loginBody
	cl.out = &body
	if err := c.do(ctx, cl); err != nil {
		return LoginResult{}, err
	}
	if !body.RequiresMFA && body.Token == "" {
		return LoginResult{}, &Error{Kind: KindServer, Message: cl.op + " returned no token"}
	}
	if body.RequiresMFA && body.TempToken == "" {
		return LoginResult{}, &Error{Kind: KindServer, Message: cl.op + " returned no temporary token"}
	}
	res := body.result()
	if err := c.establish(ctx, res); err != nil {
		return LoginResult{}, err
	}
	return res, nil
}

// Login submits primary credentials.
func (c *Client) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	req.Login = strings.TrimSpace(req.Login)
	return c.loginCall(ctx, call{op: "login", method: http.MethodPost, path: "/login", scope: scopeCredentials, in: req})
}

// Register creates an account. The user still has to verify their email.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (RegisterResult, error) {
	var body struct {
		Message string `json:"message"`
		User    User   `json:"user"`
	}
	err := c.do(ctx, call{op: "register", method: http.MethodPost, path: "/register", in: req, out: &body})
	if err != nil {
		return RegisterResult{}, err
	}
	return RegisterResult{Message: body.Message, User: body.User}, nil
}

// VerifyMFA completes a login that required a second factor.
func (c *Client) VerifyMFA(ctx context.Context, tempToken string, method Method, code string) (LoginResult, error) {
	in := map[string]string{"temp_token": tempToken, "method": string(method), "code": code}
	return c.loginCall(ctx, call{op: "verify_mfa", method: http.MethodPost, path: "/verify-mfa", scope: scopeCode, in: in})
}

// GetWeb3Challenge requests a challenge for a wallet address to sign.
func (c *Client) GetWeb3Challenge(ctx context.Context, address string) (string, error) {
	var body struct {
		Challenge string `json:"challenge"`
	}
	in := map[string]string{"address": address}
	if err := c.do(ctx, call{op: "web3_challenge", method: http.MethodPost, path: "/web3/challenge", in: in, out: &body}); err != nil {
		return "", err
	}
	return body.Challenge, nil
}

// VerifyWeb3Signature exchanges a signed challenge for a session.
func (c *Client) VerifyWeb3Signature(ctx context.Context, address, challenge, signature string) (LoginResult, error) {
	in := map[string]string{"address": address, "challenge": challenge, "signature": signature}
	return c.loginCall(ctx, call{op: "web3_verify", method: http.MethodPost, path: "/web3/verify", scope: scopeCredentials, in: in})
}

// GoogleLogin exchanges a Google ID token for a session.
func (c *Client) GoogleLogin(ctx context.Context, credential string) (LoginResult, error) {
	in := map[string]string{"token": credential}
	return c.loginCall(ctx, call{op: "google_login", method: http.MethodPost, path: "/google/callback", scope: scopeCredentials, in: in})
}

// Refresh renews the access token using a refresh token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (RefreshResult, error) {
	var body struct {
		Token        string `json:"token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.do(ctx, call{op: "refresh", method: http.MethodPost, path: "/refresh", token: refreshToken, out: &body}); err != nil {
		return RefreshResult{}, err
	}
	if body.Token == "" {
		return RefreshResult{}, &Error{Kind: KindServer, Message: "refresh returned no token"}
	}
	return RefreshResult{Token: body.Token, RefreshToken: body.RefreshToken}, nil
}

// Logout revokes the session server-side.
func (c *Client) Logout(ctx context.Context, token string) error {
	return c.do(ctx, call{op: "logout", method: http.MethodPost, path: "/logout", token: token})
}

// Me fetches the current user summary.
func (c *Client) Me(ctx context.Context, token string) (User, error) {
	var u User
	if err := c.do(ctx, call{op: "me", method: http.MethodGet, path: "/me", token: token, out: &u}); err != nil {
		return User{}, err
	}
	return u, nil
}
