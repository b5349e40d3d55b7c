package middleware

import (
	"errors"
	"net/http"
)

// ErrNoToken is returned by Transport when no session token is available.
var ErrNoToken = errors.New("middleware: no session token")

// Transport attaches the current session token to outgoing requests and
// reports rejected tokens.
type Transport struct {
	// Base defaults to http.DefaultTransport.
	Base http.RoundTripper
	// Token returns the current access token.
	Token func() (string, bool)
	// OnUnauthorized is called after a 401 response to a request that
	// carried a token.
	OnUnauthorized func(req *http.Request)
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if t.Token == nil {
		return nil, ErrNoToken
	}
	token, ok := t.Token()
	if !ok {
		return nil, ErrNoToken
	}

	out := req.Clone(req.Context())
	out.Header.Set("Authorization", "Bearer "+token)
	resp, err := base.RoundTrip(out)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized && t.OnUnauthorized != nil {
		t.OnUnauthorized(req)
	}
	return resp, nil
}
