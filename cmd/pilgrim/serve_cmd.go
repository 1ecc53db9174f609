package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/api"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/auth"
)

const (
	jwtIssuer       = "pilgrim"
	shutdownTimeout = 10 * time.Second
)

// runServeCmd runs the HTTP bridge until SIGINT or SIGTERM.
func runServeCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("serve", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	addr := cmd.String("addr", "", "Listen address (default: PILGRIM_ADDR or :8787)")
	if err := cmd.Parse(args); err != nil {
		return exitUsage
	}

	_, _ = fmt.Fprintf(stdout, "%sPILGRIM bridge starting...%s\n", ColorBold+ColorBlue, ColorReset)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}
	defer rt.Close(context.Background())

	if *addr == "" {
		*addr = rt.cfg.Addr
	}
	handler, err := newHandler(ctx, rt)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Printf("[pilgrim] mode: %s, ledger: %s, steps: %v", rt.svc.Mode(), rt.cfg.Ledger, rt.svc.Steps())
	log.Printf("[pilgrim] ready: http://localhost%s", *addr)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitUsage
		}
	case <-ctx.Done():
		log.Println("[pilgrim] shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: shutdown: %v\n", err)
			return exitUsage
		}
	}
	return exitOK
}

// newHandler assembles the bridge. Without PILGRIM_JWT_SECRET the
// authenticated routes stay closed.
func newHandler(ctx context.Context, rt *runtime) (http.Handler, error) {
	var authenticate func(http.Handler) http.Handler
	if rt.cfg.JWTSecret != "" {
		validator, err := auth.NewHS256Validator([]byte(rt.cfg.JWTSecret), jwtIssuer)
		if err != nil {
			return nil, err
		}
		authenticate = auth.NewMiddleware(validator)
	} else {
		log.Println("[pilgrim] auth: PILGRIM_JWT_SECRET not set, /run and /receipts/verify will answer 401")
	}

	return api.NewRouter(api.RouterConfig{
		Service:      rt.svc,
		Version:      Version,
		Authenticate: authenticate,
		Subject:      auth.Subject,
		Limiter:      api.NewRateLimiter(ctx, rt.cfg.RateRPS, rt.cfg.RateBurst),
		Middleware: []func(http.Handler) http.Handler{
			auth.RequestIDMiddleware,
			auth.CORSMiddleware(auth.ParseOrigins(rt.cfg.CORSOrigins)),
		},
	}), nil
}
