package authtest

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/MrEthical07/authflow/authority"
	"github.com/MrEthical07/authflow/jwt"
)

type statusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// setPassword replaces the password hash. Lock held.
func (s *Server) setPassword(acc *account, pass string) error {
	h, err := bcrypt.GenerateFromPassword([]byte(pass), s.opts.BcryptCost)
	if err != nil {
		return err
	}
	acc.hash = h
	return nil
}

// current returns the account behind the request's access token. Lock held.
func (s *Server) current(r *http.Request) *account {
	return s.accounts[claims(r).UID]
}

func (s *Server) handleSetupTOTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := s.current(r)
	if acc.user.TwoFactorEnabled {
		fail(w, http.StatusBadRequest, "two-factor authentication is already enabled")
		return
	}
	raw, secret := s.totp.newSecret()
	acc.totpPending = raw
	acc.pendingRec = newRecoveryCodes()
	label := acc.user.Email
	if label == "" {
		label = acc.user.Username
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"secret":         secret,
		"qr_code_url":    s.totp.provisionURI(secret, label),
		"recovery_codes": acc.pendingRec,
	})
}

func (s *Server) handleVerifyTOTP(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Code string `json:"code"`
	}
	if err := decode(r, &in); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := s.current(r)
	if acc.totpPending == nil {
		fail(w, http.StatusBadRequest, "no authenticator setup in progress")
		return
	}
	step, ok := s.totp.verify(acc.totpPending, in.Code, s.now(), -1)
	if !ok {
		writeJSON(w, http.StatusOK, statusResponse{Success: false, Message: "invalid authenticator code"})
		return
	}
	acc.totpSecret, acc.totpPending = acc.totpPending, nil
	acc.lastStep = step
	acc.recovery = make(map[string]bool, len(acc.pendingRec))
	for _, c := range acc.pendingRec {
		acc.recovery[c] = true
	}
	acc.pendingRec = nil
	acc.user.TwoFactorEnabled = true
	writeJSON(w, http.StatusOK, statusResponse{Success: true, Message: "two-factor authentication enabled"})
}

func (s *Server) handleDisableTOTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := s.current(r)
	acc.totpSecret, acc.totpPending = nil, nil
	acc.recovery = map[string]bool{}
	acc.user.TwoFactorEnabled = false
	writeJSON(w, http.StatusOK, statusResponse{Success: true, Message: "two-factor authentication disabled"})
}

func (s *Server) handleVerifyIdentity(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Code   string           `json:"verification_code"`
		Method authority.Method `json:"verification_method"`
	}
	if err := decode(r, &in); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := s.current(r)
	if in.Method != authority.MethodEmail && !acc.user.TwoFactorEnabled {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "two-factor authentication is not enabled", Require2FA: true})
		return
	}
	if !s.checkFactor(w, acc, in.Method, in.Code, emailKey(acc.user.Email)) {
		return
	}
	temp, err := s.tokens.CreateAccess(acc.user.ID, acc.user.Username, jwt.ScopeIdentity, string(in.Method), s.opts.MFATokenTTL)
	if err != nil {
		fail(w, http.StatusInternalServerError, "token issue failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "temp_token": temp})
}

// escalated consumes an identity token issued to acc. Lock held.
func (s *Server) escalated(acc *account, token string) bool {
	c, err := s.tokens.ParseAccess(token, jwt.ScopeIdentity)
	if err != nil || c.UID != acc.user.ID || s.used[c.ID] {
		return false
	}
	s.used[c.ID] = true
	return true
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var in struct {
		TempToken   string `json:"temp_token"`
		NewPassword string `json:"new_password"`
	}
	if err := decode(r, &in); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(in.NewPassword) < 8 {
		fail(w, http.StatusUnprocessableEntity, "password too short")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := s.current(r)
	if !s.escalated(acc, in.TempToken) {
		fail(w, http.StatusBadRequest, "verification expired, please verify again")
		return
	}
	if err := s.setPassword(acc, in.NewPassword); err != nil {
		fail(w, http.StatusInternalServerError, "could not set password")
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Success: true, Message: "password changed"})
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Username        string `json:"username"`
		Email           string `json:"email"`
		TempToken       string `json:"temp_token"`
		CurrentPassword string `json:"current_password"`
	}
	if err := decode(r, &in); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)

	s.mu.Lock()
	defer s.mu.Unlock()
	acc := s.current(r)
	switch {
	case in.TempToken != "":
		if !s.escalated(acc, in.TempToken) {
			fail(w, http.StatusUnauthorized, "verification expired, please verify again")
			return
		}
	case in.CurrentPassword != "":
		if len(acc.hash) == 0 || bcrypt.CompareHashAndPassword(acc.hash, []byte(in.CurrentPassword)) != nil {
			fail(w, http.StatusForbidden, "current password is incorrect")
			return
		}
	case !acc.user.TwoFactorEnabled:
		writeJSON(w, http.StatusForbidden, errorBody{Error: "two-factor authentication required", Require2FA: true})
		return
	default:
		writeJSON(w, http.StatusForbidden, errorBody{Error: "current password required", RequirePassword: true})
		return
	}

	if in.Username != "" && normalize(in.Username) != normalize(acc.user.Username) {
		if _, taken := s.byName[normalize(in.Username)]; taken {
			writeJSON(w, http.StatusConflict, errorBody{Error: "username already exists", Field: "username"})
			return
		}
	}
	if in.Email != "" && normalize(in.Email) != normalize(acc.user.Email) {
		if _, taken := s.byEmail[normalize(in.Email)]; taken {
			writeJSON(w, http.StatusConflict, errorBody{Error: "email already registered", Field: "email"})
			return
		}
	}
	if in.Username != "" {
		delete(s.byName, normalize(acc.user.Username))
		acc.user.Username = in.Username
		s.byName[normalize(in.Username)] = acc.user.ID
	}
	if in.Email != "" && normalize(in.Email) != normalize(acc.user.Email) {
		delete(s.byEmail, normalize(acc.user.Email))
		acc.user.Email = in.Email
		acc.user.EmailVerified = false
		s.byEmail[normalize(in.Email)] = acc.user.ID
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": acc.user})
}
