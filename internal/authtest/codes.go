package authtest

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"math/big"
	"strings"
	"time"
)

const (
	codeDigits        = 6
	opaqueTokenSize   = 32
	recoveryCodeCount = 8
)

// code is one emailed verification code.
type code struct {
	value    string
	issuedAt time.Time
	expires  time.Time
}

func (c *code) expired(now time.Time) bool {
	return !now.Before(c.expires)
}

func emailKey(email string) string { return "email:" + normalize(email) }

func mfaKey(uid int64) string { return "mfa:" + itoa(uid) }

func newOTP() string {
	var b strings.Builder
	b.Grow(codeDigits)
	max := big.NewInt(10)
	for i := 0; i < codeDigits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String()
}

// newOpaque returns an unguessable base64url token.
func newOpaque() string {
	var raw [opaqueTokenSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(raw[:])
}

// newRecoveryCodes returns codes shaped xxxx-xxxx.
func newRecoveryCodes() []string {
	out := make([]string, recoveryCodeCount)
	for i := range out {
		var raw [4]byte
		if _, err := rand.Read(raw[:]); err != nil {
			panic(err)
		}
		h := hex.EncodeToString(raw[:])
		out[i] = h[:4] + "-" + h[4:]
	}
	return out
}

// SignChallenge is the signature the default wallet verifier accepts.
func SignChallenge(challenge string) string {
	sum := sha256.Sum256([]byte("authtest-wallet:" + challenge))
	return hex.EncodeToString(sum[:])
}

// issueCode stores a fresh code under key unless the previous one is still
// inside its resend cooldown. Lock held.
func (s *Server) issueCode(key string) (*code, time.Duration) {
	now := s.now()
	if prev, ok := s.codes[key]; ok {
		if wait := prev.issuedAt.Add(s.opts.ResendCooldown).Sub(now); wait > 0 {
			return nil, wait
		}
	}
	c := &code{value: newOTP(), issuedAt: now, expires: now.Add(s.opts.CodeTTL)}
	s.codes[key] = c
	s.opts.Logger.Info("authtest: code issued", "to", key, "code", c.value)
	return c, 0
}

type codeResult uint8

const (
	codeOK codeResult = iota
	codeMissing
	codeWrong
	codeExpired
)

// consumeCode checks value against the code under key and deletes it on
// success. Lock held.
func (s *Server) consumeCode(key, value string) codeResult {
	c, ok := s.codes[key]
	if !ok {
		return codeMissing
	}
	if c.expired(s.now()) {
		return codeExpired
	}
	if c.value != strings.TrimSpace(value) {
		return codeWrong
	}
	delete(s.codes, key)
	return codeOK
}
