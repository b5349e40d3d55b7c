// Command authflow drives one client tab from a terminal. Run several
// instances against the same redis to watch sessions follow across tabs.
//
//	go run ./cmd/authsim &
//	go run ./cmd/authflow -base-url http://127.0.0.1:8090 -tab one
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authflow"
	"github.com/MrEthical07/authflow/internal/authtest"
	promexport "github.com/MrEthical07/authflow/metrics/export/prometheus"
)

const help = `commands:
  login <user|email> <password>      register <user> <email> <password>
  wallet <address>                   google <credential>
  method <email|totp|recovery_code>  code <value>      resend
  enroll                             confirm           skip
  recovery                           reverify <password|profile>
  passwd <new password>              rename <username> [current password]
  reset <email>                      cancel            dismiss
  refresh                            logout            whoami
  status                             help              quit`

func main() {
	var (
		baseURL     = flag.String("base-url", "", "authority base URL; if empty, AUTHFLOW_BASE_URL env is used")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		tab         = flag.String("tab", "", "tab ID; generated when empty")
		prefix      = flag.String("prefix", "af", "redis key prefix")
		mandatory   = flag.Bool("mandatory-2fa", false, "require TOTP enrollment before the session is stored")
		metricsAddr = flag.String("metrics-addr", "", "serve prometheus metrics on this address")
		verbose     = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	base := *baseURL
	if base == "" {
		base = os.Getenv("AUTHFLOW_BASE_URL")
	}
	if base == "" {
		fmt.Fprintln(os.Stderr, "base-url or AUTHFLOW_BASE_URL is required")
		os.Exit(2)
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	var (
		cleanup func()
		rdb     redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		cleanup = func() {
			_ = rdb.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s (sessions stay in this process)\n", mr.Addr())
	} else {
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = rdb.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	cfg := authflow.DefaultConfig()
	cfg.Authority.BaseURL = base
	cfg.Session.RedisPrefix = *prefix
	if *mandatory {
		cfg.Policy.TOTPEnrollment = authflow.EnrollmentMandatory
	}

	client, err := authflow.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithTabID(*tab).
		WithLogger(logger).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build client: %v\n", err)
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := client.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "start client: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	if *metricsAddr != "" {
		h, err := promexport.Handler(client, map[string]string{"tab": client.TabID()})
		if err != nil {
			fmt.Fprintf(os.Stderr, "metrics: %v\n", err)
			os.Exit(1)
		}
		srv := &http.Server{Addr: *metricsAddr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "err", err)
			}
		}()
		defer srv.Close()
	}

	cancelSub := client.SubscribeFlow(func(ev authflow.FlowEvent) {
		switch ev.Type {
		case authflow.EventNavigateToEntry:
			fmt.Println("\n! session ended, back to sign in")
		default:
			fmt.Printf("\n~ %s -> %s\n", ev.From, ev.To)
		}
	})
	defer cancelSub()
	cancelSession := client.Subscribe(func(ch authflow.SessionChange) {
		if ch.Remote {
			fmt.Println("\n~ session changed in another tab")
		}
	})
	defer cancelSession()

	fmt.Printf("tab %s ready. type help for commands.\n", client.TabID())
	printStatus(client)

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	for {
		fmt.Print("> ")
		select {
		case <-ctx.Done():
			fmt.Println()
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := run(ctx, client, strings.Fields(line)); quit {
				return
			}
		}
	}
}

func run(ctx context.Context, c *authflow.Client, args []string) bool {
	if len(args) == 0 {
		return false
	}
	cmd, args := args[0], args[1:]
	need := func(n int) bool {
		if len(args) < n {
			fmt.Printf("%s needs %d argument(s)\n", cmd, n)
			return false
		}
		return true
	}

	var err error
	switch cmd {
	case "quit", "exit":
		return true
	case "help":
		fmt.Println(help)
		return false
	case "status":
		printStatus(c)
		return false
	case "whoami":
		if u, ok := c.CurrentUser(); ok {
			fmt.Printf("%s <%s> id=%d verified=%v 2fa=%v\n", u.Username, u.Email, u.ID, u.EmailVerified, u.TwoFactorEnabled)
		} else {
			fmt.Println("not signed in")
		}
		return false
	case "login":
		if need(2) {
			err = c.Login(ctx, args[0], args[1])
		}
	case "register":
		if need(3) {
			err = c.Register(ctx, args[0], args[1], args[2])
		}
	case "wallet":
		if need(1) {
			err = c.LoginWithWallet(ctx, args[0], authflow.SignerFunc(func(_ context.Context, _, message string) (string, error) {
				return authtest.SignChallenge(message), nil
			}))
		}
	case "google":
		if need(1) {
			err = c.LoginWithGoogle(ctx, args[0])
		}
	case "method":
		if need(1) {
			err = c.SelectMethod(ctx, authflow.Method(args[0]))
		}
	case "code":
		if need(1) {
			err = c.SubmitCode(ctx, args[0])
		}
	case "resend":
		err = c.Resend(ctx)
	case "enroll":
		var mat authflow.EnrollmentMaterial
		if mat, err = c.SetupTOTP(ctx); err == nil {
			printEnrollment(&mat)
		}
	case "confirm":
		err = c.ConfirmEnrollment(ctx)
	case "skip":
		err = c.SkipEnrollment(ctx)
	case "recovery":
		err = c.ExportRecoveryCodes(os.Stdout)
	case "reverify":
		if need(1) {
			p := authflow.PurposePasswordChange
			if args[0] == "profile" {
				p = authflow.PurposeProfileChange
			}
			err = c.BeginReverify(ctx, p)
		}
	case "passwd":
		if need(1) {
			err = c.ChangePassword(ctx, args[0])
		}
	case "rename":
		if need(1) {
			ch := authflow.ProfileChange{Username: args[0]}
			if len(args) > 1 {
				ch.CurrentPassword = args[1]
			}
			err = c.UpdateProfile(ctx, ch)
		}
	case "reset":
		if need(1) {
			err = c.RequestPasswordReset(ctx, args[0])
		}
	case "cancel":
		c.Cancel(ctx)
	case "dismiss":
		c.Dismiss()
	case "refresh":
		err = c.RefreshSession(ctx)
	case "logout":
		err = c.Logout(ctx)
	default:
		fmt.Printf("unknown command %q, type help\n", cmd)
		return false
	}
	if err != nil {
		fmt.Printf("error: %v\n", err)
		if d, ok := authflow.RetryAfter(err); ok {
			fmt.Printf("retry in %s\n", d)
		}
	}
	printStatus(c)
	return false
}

func printStatus(c *authflow.Client) {
	s := c.Snapshot()
	fmt.Printf("state: %s", s.State)
	if s.Purpose != authflow.PurposeNone {
		fmt.Printf("  purpose: %s", s.Purpose)
	}
	fmt.Println()
	if len(s.Methods) > 0 && s.State.Kind == authflow.MethodSelection {
		fmt.Printf("methods: %v\n", s.Methods)
	}
	if s.Countdown.CodeIssued {
		if s.Countdown.Awaiting {
			fmt.Print("code sent, expiry pending")
		} else {
			fmt.Printf("code expires in %ds", s.Countdown.ExpiresIn)
		}
		if s.CanResend {
			fmt.Println(", resend available")
		} else {
			fmt.Printf(", resend in %ds\n", s.Countdown.CooldownIn)
		}
	}
	if s.LockoutRemaining > 0 {
		fmt.Printf("locked out for %ds\n", s.LockoutRemaining)
	}
	if s.Escalated != authflow.PurposeNone {
		fmt.Printf("verified for %s\n", s.Escalated)
	}
	printEnrollment(s.Enrollment)
	if s.Notice != nil {
		fmt.Printf("* %s\n", s.Notice.Message)
	}
}

func printEnrollment(m *authflow.EnrollmentMaterial) {
	if m == nil {
		return
	}
	fmt.Printf("authenticator secret: %s\n%s\n", m.Secret, m.EnrollmentURI)
	fmt.Printf("recovery codes: %s\n", strings.Join(m.RecoveryCodes, " "))
}
