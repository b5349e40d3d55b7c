package authtest

import (
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/MrEthical07/authflow/authority"
	"github.com/MrEthical07/authflow/jwt"
)

func itoa(v int64) string { return strconv.FormatInt(v, 10) }

type loginResponse struct {
	Token        string             `json:"token,omitempty"`
	RefreshToken string             `json:"refresh_token,omitempty"`
	User         authority.User     `json:"user"`
	RequiresMFA  bool               `json:"requires_mfa,omitempty"`
	TempToken    string             `json:"temp_token,omitempty"`
	MFAMethods   []authority.Method `json:"mfa_methods,omitempty"`
}

// createAccount inserts a new account. Lock held.
func (s *Server) createAccount(username, email, pass string, verified bool) (*account, error) {
	var hash []byte
	if pass != "" {
		h, err := bcrypt.GenerateFromPassword([]byte(pass), s.opts.BcryptCost)
		if err != nil {
			return nil, err
		}
		hash = h
	}
	acc := &account{
		user: authority.User{
			ID:            s.nextID,
			Username:      username,
			Email:         email,
			Role:          "user",
			EmailVerified: verified,
		},
		hash:     hash,
		recovery: map[string]bool{},
		lastStep: -1,
	}
	s.nextID++
	s.accounts[acc.user.ID] = acc
	s.byName[normalize(username)] = acc.user.ID
	if email != "" {
		s.byEmail[normalize(email)] = acc.user.ID
	}
	return acc, nil
}

// session issues an access and a refresh token. Lock held.
func (s *Server) session(acc *account) (loginResponse, error) {
	token, err := s.tokens.CreateAccess(acc.user.ID, acc.user.Username, jwt.ScopeAccess, "", 0)
	if err != nil {
		return loginResponse{}, err
	}
	rt := newOpaque()
	s.refresh[rt] = acc.user.ID
	return loginResponse{Token: token, RefreshToken: rt, User: acc.user}, nil
}

// signIn answers a successful primary authentication. Lock held.
func (s *Server) signIn(w http.ResponseWriter, acc *account) {
	if acc.user.TwoFactorEnabled {
		temp, err := s.tokens.CreateAccess(acc.user.ID, acc.user.Username, jwt.ScopeMFA, "", s.opts.MFATokenTTL)
		if err != nil {
			fail(w, http.StatusInternalServerError, "token issue failed")
			return
		}
		methods := []authority.Method{authority.MethodTOTP}
		if acc.user.Email != "" {
			methods = append([]authority.Method{authority.MethodEmail}, methods...)
		}
		writeJSON(w, http.StatusOK, loginResponse{User: acc.user, RequiresMFA: true, TempToken: temp, MFAMethods: methods})
		return
	}
	res, err := s.session(acc)
	if err != nil {
		fail(w, http.StatusInternalServerError, "token issue failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// limiter returns the failed-login bucket for key. Lock held.
func (s *Server) limiter(key string) *rate.Limiter {
	l, ok := s.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(s.opts.LoginRefill), s.opts.LoginBurst)
		s.limiters[key] = l
	}
	return l
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in authority.RegisterRequest
	if err := decode(r, &in); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	if in.Username == "" || !strings.Contains(in.Email, "@") || len(in.Password) < 8 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid registration details"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[normalize(in.Username)]; ok {
		writeJSON(w, http.StatusConflict, errorBody{Error: "username already exists", Field: "username"})
		return
	}
	if _, ok := s.byEmail[normalize(in.Email)]; ok {
		writeJSON(w, http.StatusConflict, errorBody{Error: "email already registered", Field: "email"})
		return
	}
	acc, err := s.createAccount(in.Username, in.Email, in.Password, false)
	if err != nil {
		fail(w, http.StatusInternalServerError, "could not create account")
		return
	}
	if s.opts.SendsCodeOnRegister {
		s.issueCode(emailKey(in.Email))
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Registration successful. Please verify your email.",
		"user":    acc.user,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in authority.LoginRequest
	if err := decode(r, &in); err != nil || strings.TrimSpace(in.Login) == "" {
		fail(w, http.StatusBadRequest, "username and password are required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	lim := s.limiter(normalize(in.Login))
	res := lim.ReserveN(now, 1)
	wait := res.DelayFrom(now)
	res.CancelAt(now)
	if wait > 0 {
		tooMany(w, wait)
		return
	}

	acc, ok := s.lookup(in.Login)
	if !ok || len(acc.hash) == 0 || bcrypt.CompareHashAndPassword(acc.hash, []byte(in.Password)) != nil {
		lim.AllowN(now, 1)
		fail(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if acc.user.Banned {
		fail(w, http.StatusForbidden, "account is banned")
		return
	}
	if !acc.user.EmailVerified {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "email not verified", NeedsVerification: true})
		return
	}
	s.signIn(w, acc)
}

func (s *Server) handleVerifyMFA(w http.ResponseWriter, r *http.Request) {
	var in struct {
		TempToken string           `json:"temp_token"`
		Method    authority.Method `json:"method"`
		Code      string           `json:"code"`
	}
	if err := decode(r, &in); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	temp, err := s.tokens.ParseAccess(in.TempToken, jwt.ScopeMFA)
	if err != nil {
		fail(w, http.StatusUnauthorized, "mfa session expired")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[temp.UID]
	if !ok || s.used[temp.ID] {
		fail(w, http.StatusUnauthorized, "mfa session expired")
		return
	}
	if !s.checkFactor(w, acc, in.Method, in.Code, mfaKey(acc.user.ID)) {
		return
	}
	s.used[temp.ID] = true
	res, err := s.session(acc)
	if err != nil {
		fail(w, http.StatusInternalServerError, "token issue failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// checkFactor verifies a second factor and writes the rejection itself.
// emailKey names the code an email factor is checked against. Lock held.
func (s *Server) checkFactor(w http.ResponseWriter, acc *account, method authority.Method, value, emailCode string) bool {
	switch method {
	case authority.MethodEmail:
		switch s.consumeCode(emailCode, value) {
		case codeOK:
			return true
		case codeExpired:
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "verification code expired", Expired: true})
		default:
			fail(w, http.StatusBadRequest, "invalid verification code")
		}
		return false
	case authority.MethodTOTP:
		step, ok := s.totp.verify(acc.totpSecret, value, s.now(), acc.lastStep)
		if !ok {
			fail(w, http.StatusBadRequest, "invalid authenticator code")
			return false
		}
		acc.lastStep = step
		return true
	case authority.MethodRecoveryCode:
		key := strings.ToLower(strings.TrimSpace(value))
		if !acc.recovery[key] {
			fail(w, http.StatusBadRequest, "invalid recovery code")
			return false
		}
		delete(acc.recovery, key)
		return true
	}
	fail(w, http.StatusBadRequest, "unsupported verification method")
	return false
}

func (s *Server) handleWeb3Challenge(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Address string `json:"address"`
	}
	if err := decode(r, &in); err != nil || strings.TrimSpace(in.Address) == "" {
		fail(w, http.StatusBadRequest, "address is required")
		return
	}
	challenge := "Sign in to authtest with " + normalize(in.Address) + ": " + newOpaque()

	s.mu.Lock()
	s.challenges[normalize(in.Address)] = challenge
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"challenge": challenge})
}

func (s *Server) handleWeb3Verify(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Address   string `json:"address"`
		Challenge string `json:"challenge"`
		Signature string `json:"signature"`
	}
	if err := decode(r, &in); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	addr := normalize(in.Address)

	s.mu.Lock()
	defer s.mu.Unlock()
	want, ok := s.challenges[addr]
	if !ok || want != in.Challenge || !s.opts.VerifySignature(addr, in.Challenge, in.Signature) {
		fail(w, http.StatusUnauthorized, "invalid signature")
		return
	}
	delete(s.challenges, addr)

	var acc *account
	if id, ok := s.byWallet[addr]; ok {
		acc = s.accounts[id]
	} else {
		name := "wallet-" + addr
		if len(addr) > 10 {
			name = "wallet-" + addr[:10]
		}
		var err error
		if acc, err = s.createAccount(name, "", "", true); err != nil {
			fail(w, http.StatusInternalServerError, "could not create account")
			return
		}
		acc.user.WalletAddress = addr
		s.byWallet[addr] = acc.user.ID
	}
	s.signIn(w, acc)
}

func (s *Server) handleGoogle(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Token string `json:"token"`
	}
	if err := decode(r, &in); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	email, ok := s.opts.VerifyGoogle(in.Token)
	if !ok {
		fail(w, http.StatusUnauthorized, "invalid google credential")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.lookup(email)
	if !ok {
		name, _, _ := strings.Cut(email, "@")
		var err error
		if acc, err = s.createAccount(name, email, "", true); err != nil {
			fail(w, http.StatusInternalServerError, "could not create account")
			return
		}
	}
	acc.user.EmailVerified = true
	s.signIn(w, acc)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	rt, ok := bearer(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	uid, found := s.refresh[rt]
	if !ok || !found {
		fail(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	acc, ok := s.accounts[uid]
	if !ok {
		fail(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	delete(s.refresh, rt)
	res, err := s.session(acc)
	if err != nil {
		fail(w, http.StatusInternalServerError, "token issue failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": res.Token, "refresh_token": res.RefreshToken})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	c := claims(r)
	s.mu.Lock()
	s.revoked[c.ID] = true
	for rt, uid := range s.refresh {
		if uid == c.UID {
			delete(s.refresh, rt)
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "logged out"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	c := claims(r)
	s.mu.Lock()
	acc := s.accounts[c.UID]
	u := acc.user
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, u)
}
