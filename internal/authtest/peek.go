package authtest

import (
	"github.com/MrEthical07/authflow/authority"
)

// Account describes a user seeded directly into the authority.
type Account struct {
	Username string
	Email    string
	Password string
	// Verified marks the email as already confirmed.
	Verified bool
	// TOTP enrolls an authenticator. The base32 secret is returned by
	// AddAccount.
	TOTP bool
}

// AddAccount seeds an account and returns its summary and, when a.TOTP is
// set, the authenticator secret.
func (s *Server) AddAccount(a Account) (authority.User, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, err := s.createAccount(a.Username, a.Email, a.Password, a.Verified)
	if err != nil {
		return authority.User{}, "", err
	}
	var secret string
	if a.TOTP {
		acc.totpSecret, secret = s.totp.newSecret()
		for _, c := range newRecoveryCodes() {
			acc.recovery[c] = true
		}
		acc.user.TwoFactorEnabled = true
	}
	return acc.user, secret, nil
}

// User returns the authority's view of an account.
func (s *Server) User(id int64) (authority.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return authority.User{}, false
	}
	return acc.user, true
}

// EmailCode returns the outstanding code sent to email.
func (s *Server) EmailCode(email string) (string, bool) {
	return s.peekCode(emailKey(email))
}

// MFACode returns the outstanding login code of an account.
func (s *Server) MFACode(id int64) (string, bool) {
	return s.peekCode(mfaKey(id))
}

func (s *Server) peekCode(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[key]
	if !ok {
		return "", false
	}
	return c.value, true
}

// ExpireEmailCode ends the validity of the code sent to email now.
func (s *Server) ExpireEmailCode(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.codes[emailKey(email)]; ok {
		c.expires = s.now()
	}
}

// RecoveryCodes lists the unused recovery codes of an account.
func (s *Server) RecoveryCodes(id int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(acc.recovery))
	for c := range acc.recovery {
		out = append(out, c)
	}
	return out
}

// ResetToken returns the last reset token mailed to email.
func (s *Server) ResetToken(email string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.resets[normalize(email)]
	return t, ok
}

// Ban makes every token of the account fail authentication.
func (s *Server) Ban(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acc, ok := s.accounts[id]; ok {
		acc.user.Banned = true
	}
}

// Calls is the number of requests received for path, relative to /api/auth.
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// FailNext answers the next request for path with status and body instead
// of handling it.
func (s *Server) FailNext(path string, status int, body any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[path] = append(s.faults[path], fault{status: status, body: body})
}
