package refresh

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authflow/jwt"
	"golang.org/x/sync/singleflight"
)

// ErrNoRefreshToken is returned by Do for an empty refresh token.
var ErrNoRefreshToken = errors.New("refresh: no refresh token")

// Tokens is the outcome of one renewal. An empty Refresh keeps the old one.
type Tokens struct {
	Access  string
	Refresh string
}

// Func renews a session with its refresh token.
type Func func(ctx context.Context, refreshToken string) (Tokens, error)

// Scheduler decides when an access token needs renewal and collapses
// concurrent renewals of the same refresh token into one call.
type Scheduler struct {
	leeway time.Duration
	now    func() time.Time
	group  singleflight.Group
}

func NewScheduler(leeway time.Duration, now func() time.Time) *Scheduler {
	if now == nil {
		now = time.Now
	}
	if leeway < 0 {
		leeway = 0
	}
	return &Scheduler{leeway: leeway, now: now}
}

// Due reports whether access expires within the leeway. Tokens without a
// readable expiry are never due.
func (s *Scheduler) Due(access string) bool {
	exp, err := jwt.Inspect(access)
	if err != nil || exp.ExpiresAt.IsZero() {
		return false
	}
	return !s.now().Add(s.leeway).Before(exp.ExpiresAt)
}

// Do runs fn once for all concurrent callers with the same refresh token.
// shared reports whether the result came from another caller's call.
func (s *Scheduler) Do(ctx context.Context, refreshToken string, fn Func) (Tokens, bool, error) {
	if refreshToken == "" {
		return Tokens{}, false, ErrNoRefreshToken
	}
	ch := s.group.DoChan(refreshToken, func() (interface{}, error) {
		// The shared call outlives any single caller's cancellation.
		return fn(context.WithoutCancel(ctx), refreshToken)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return Tokens{}, res.Shared, res.Err
		}
		return res.Val.(Tokens), res.Shared, nil
	case <-ctx.Done():
		return Tokens{}, false, ctx.Err()
	}
}

// Run calls check every interval until ctx is done.
func Run(ctx context.Context, interval time.Duration, check func(ctx context.Context)) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			check(ctx)
		}
	}
}
