// Command authsim serves the in-memory authority for local development.
// Emailed codes and reset tokens are written to the log instead of mailed.
//
//	go run ./cmd/authsim -addr :8090 -seed alice:alice@example.com:Sunny-Day9
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MrEthical07/authflow/internal/authtest"
)

type seeds []string

func (s *seeds) String() string     { return strings.Join(*s, ",") }
func (s *seeds) Set(v string) error { *s = append(*s, v); return nil }

func main() {
	var (
		addr       = flag.String("addr", ":8090", "HTTP listen address")
		codeTTL    = flag.Duration("code-ttl", 10*time.Minute, "lifetime of emailed codes")
		cooldown   = flag.Duration("resend-cooldown", 60*time.Second, "wait between two codes to one address")
		burst      = flag.Int("login-burst", 5, "failed logins allowed before 429")
		refill     = flag.Duration("login-refill", time.Minute, "time for one failed-login allowance to return")
		sendOnReg  = flag.Bool("send-on-register", false, "email the first code as part of registration")
		seedFlags  seeds
		seedTOTP   = flag.Bool("seed-totp", false, "enroll an authenticator for seeded accounts")
		debugLevel = flag.Bool("v", false, "log every request")
	)
	flag.Var(&seedFlags, "seed", "verified account as user:email:password; repeatable")
	flag.Parse()

	level := slog.LevelInfo
	if *debugLevel {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	srv := authtest.New(authtest.Options{
		CodeTTL:             *codeTTL,
		ResendCooldown:      *cooldown,
		LoginBurst:          *burst,
		LoginRefill:         *refill,
		SendsCodeOnRegister: *sendOnReg,
		Logger:              logger,
	})
	for _, raw := range seedFlags {
		parts := strings.SplitN(raw, ":", 3)
		if len(parts) != 3 {
			logger.Error("seed must be user:email:password", "seed", raw)
			os.Exit(2)
		}
		u, secret, err := srv.AddAccount(authtest.Account{
			Username: parts[0],
			Email:    parts[1],
			Password: parts[2],
			Verified: true,
			TOTP:     *seedTOTP,
		})
		if err != nil {
			logger.Error("seed account failed", "seed", parts[0], "err", err)
			os.Exit(1)
		}
		logger.Info("seeded account", "id", u.ID, "username", u.Username, "totp_secret", secret)
	}

	server := &http.Server{
		Addr:              *addr,
		Handler:           srv,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("authsim listening", "addr", *addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "err", err)
	}
}
