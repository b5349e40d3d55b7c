package authtest

import (
	"net/http"
	"strings"

	"github.com/MrEthical07/authflow/jwt"
)

type sendResponse struct {
	ResendCooldown *int64 `json:"resend_cooldown"`
	ExpiresIn      *int64 `json:"expires_in_seconds"`
}

type expiryResponse struct {
	HasCode   bool   `json:"has_code"`
	ExpiresIn *int64 `json:"expires_in_seconds,omitempty"`
}

func (s *Server) sent(w http.ResponseWriter, c *code) {
	writeJSON(w, http.StatusOK, sendResponse{
		ResendCooldown: seconds(s.opts.ResendCooldown),
		ExpiresIn:      seconds(c.expires.Sub(s.now())),
	})
}

// expiry reports the code under key. Lock held.
func (s *Server) expiry(w http.ResponseWriter, key string) {
	c, ok := s.codes[key]
	if !ok || c.expired(s.now()) {
		writeJSON(w, http.StatusOK, expiryResponse{})
		return
	}
	writeJSON(w, http.StatusOK, expiryResponse{HasCode: true, ExpiresIn: seconds(c.expires.Sub(s.now()))})
}

// mfaAccount resolves a temporary MFA token. Lock held.
func (s *Server) mfaAccount(token string) (*account, bool) {
	c, err := s.tokens.ParseAccess(token, jwt.ScopeMFA)
	if err != nil || s.used[c.ID] {
		return nil, false
	}
	acc, ok := s.accounts[c.UID]
	return acc, ok
}

func (s *Server) handleSendEmailCode(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email string `json:"email"`
	}
	if err := decode(r, &in); err != nil || !strings.Contains(in.Email, "@") {
		fail(w, http.StatusBadRequest, "email is required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[normalize(in.Email)]; !ok {
		fail(w, http.StatusNotFound, "account not found")
		return
	}
	c, wait := s.issueCode(emailKey(in.Email))
	if c == nil {
		tooMany(w, wait)
		return
	}
	s.sent(w, c)
}

func (s *Server) handleSendMFACode(w http.ResponseWriter, r *http.Request) {
	var in struct {
		TempToken string `json:"temp_token"`
	}
	if err := decode(r, &in); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.mfaAccount(in.TempToken)
	if !ok {
		fail(w, http.StatusUnauthorized, "mfa session expired")
		return
	}
	c, wait := s.issueCode(mfaKey(acc.user.ID))
	if c == nil {
		tooMany(w, wait)
		return
	}
	s.sent(w, c)
}

func (s *Server) handleCheckEmailExpiry(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email string `json:"email"`
	}
	if err := decode(r, &in); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiry(w, emailKey(in.Email))
}

func (s *Server) handleCheckMFAExpiry(w http.ResponseWriter, r *http.Request) {
	var in struct {
		TempToken string `json:"temp_token"`
	}
	if err := decode(r, &in); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.mfaAccount(in.TempToken)
	if !ok {
		fail(w, http.StatusUnauthorized, "mfa session expired")
		return
	}
	s.expiry(w, mfaKey(acc.user.ID))
}

func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if err := decode(r, &in); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[normalize(in.Email)]
	if !ok {
		fail(w, http.StatusNotFound, "account not found")
		return
	}
	switch s.consumeCode(emailKey(in.Email), in.Code) {
	case codeOK:
	case codeExpired:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "verification code expired", Expired: true})
		return
	default:
		fail(w, http.StatusBadRequest, "invalid verification code")
		return
	}
	s.accounts[id].user.EmailVerified = true
	writeJSON(w, http.StatusOK, map[string]bool{"verified": true})
}

func (s *Server) handleRequestReset(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email string `json:"email"`
	}
	if err := decode(r, &in); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mu.Lock()
	if id, ok := s.byEmail[normalize(in.Email)]; ok {
		acc := s.accounts[id]
		if token, err := s.tokens.CreateAccess(id, acc.user.Username, jwt.ScopeReset, "", s.opts.CodeTTL); err == nil {
			s.resets[normalize(in.Email)] = token
			s.opts.Logger.Info("authtest: reset token issued", "email", normalize(in.Email), "token", token)
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "If the address is registered, a reset link has been sent.",
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if err := decode(r, &in); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	c, err := s.tokens.ParseAccess(in.Token, jwt.ScopeReset)
	if err != nil {
		fail(w, http.StatusBadRequest, "reset token invalid or expired")
		return
	}
	if len(in.NewPassword) < 8 {
		fail(w, http.StatusUnprocessableEntity, "password too short")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[c.UID]
	if !ok || s.used[c.ID] {
		fail(w, http.StatusBadRequest, "reset token invalid or expired")
		return
	}
	if err := s.setPassword(acc, in.NewPassword); err != nil {
		fail(w, http.StatusInternalServerError, "could not set password")
		return
	}
	s.used[c.ID] = true
	delete(s.resets, normalize(acc.user.Email))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Password has been reset."})
}
