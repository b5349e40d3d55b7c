package authtest

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const totpSecretBytes = 20

var totpEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// totpConfig is RFC 6238 with SHA1, the parameters authenticator apps
// assume when the URI omits them.
type totpConfig struct {
	issuer string
	period int64
	digits int
	skew   int64
}

func defaultTOTP() totpConfig {
	return totpConfig{issuer: "authtest", period: 30, digits: 6, skew: 1}
}

func (c totpConfig) newSecret() ([]byte, string) {
	raw := make([]byte, totpSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		panic(err)
	}
	return raw, totpEncoding.EncodeToString(raw)
}

func (c totpConfig) provisionURI(secret, account string) string {
	label := url.PathEscape(c.issuer + ":" + account)
	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", c.issuer)
	v.Set("period", strconv.FormatInt(c.period, 10))
	v.Set("digits", strconv.Itoa(c.digits))
	v.Set("algorithm", "SHA1")
	return "otpauth://totp/" + label + "?" + v.Encode()
}

func (c totpConfig) code(secret []byte, at time.Time) string {
	return hotp(secret, at.Unix()/c.period, c.digits)
}

// verify returns the matched time step. A step at or before last is a
// replay and is refused.
func (c totpConfig) verify(secret []byte, value string, at time.Time, last int64) (int64, bool) {
	value = strings.TrimSpace(value)
	if len(value) != c.digits || len(secret) == 0 {
		return 0, false
	}
	base := at.Unix() / c.period
	for step := -c.skew; step <= c.skew; step++ {
		counter := base + step
		if counter < 0 || counter <= last {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(hotp(secret, counter, c.digits)), []byte(value)) == 1 {
			return counter, true
		}
	}
	return 0, false
}

func hotp(secret []byte, counter int64, digits int) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))
	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", digits, bin%mod)
}

// TOTPCode computes the current authenticator code for a base32 secret, as
// an authenticator app would.
func TOTPCode(secret string, at time.Time) (string, error) {
	raw, err := totpEncoding.DecodeString(strings.ToUpper(strings.TrimSpace(secret)))
	if err != nil {
		return "", err
	}
	return defaultTOTP().code(raw, at), nil
}
