// chatd runs the reference messaging backend: REST endpoints under
// /api/messages, uploaded media under /media and the push channel at /ws.
// Users are seeded from --users and a session token is printed for each.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/Vasu1712/scenyx-messaging/internal/api/dms"
	"github.com/Vasu1712/scenyx-messaging/internal/config"
	"github.com/Vasu1712/scenyx-messaging/internal/middleware"
	"github.com/Vasu1712/scenyx-messaging/internal/models"
	"github.com/Vasu1712/scenyx-messaging/internal/storage/memory"
	"github.com/Vasu1712/scenyx-messaging/internal/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadServer()
	if err != nil {
		return err
	}

	var tokenTTL time.Duration
	var verbose bool
	flagSet := pflag.NewFlagSet("chatd", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	flagSet.StringVar(&cfg.JWTSecret, "jwt-secret", cfg.JWTSecret, "HS256 secret for session tokens")
	flagSet.StringVar(&cfg.AllowedOrigin, "allowed-origin", cfg.AllowedOrigin, "CORS origin (empty allows any)")
	flagSet.StringSliceVar(&cfg.Users, "users", cfg.Users, "user ids to seed")
	flagSet.DurationVar(&tokenTTL, "token-ttl", 24*time.Hour, "lifetime of the printed tokens")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if cfg.JWTSecret == "" {
		return errors.New("a JWT secret is required (--jwt-secret or CHATD_JWT_SECRET)")
	}
	secret := []byte(cfg.JWTSecret)

	store := memory.NewDMStore()
	for _, userID := range cfg.Users {
		store.AddUser(models.Participant{ID: userID, Username: userID})
		token, err := middleware.IssueToken(secret, userID, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%s\n", userID, token)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := ws.NewHub(logger)
	go hub.Run(ctx)

	handler := &dms.DMHandler{Store: store, Hub: hub, Logger: logger}
	server := &http.Server{
		Addr: cfg.Addr,
		Handler: dms.NewRouter(handler, dms.RouterConfig{
			Secret:        secret,
			AllowedOrigin: cfg.AllowedOrigin,
			Logger:        logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("server started", "addr", cfg.Addr, "users", len(cfg.Users))
		errs <- server.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
