// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opentrusty/scoreguard/internal/audit"
	"github.com/opentrusty/scoreguard/internal/config"
	"github.com/opentrusty/scoreguard/internal/observability/logger"
	"github.com/opentrusty/scoreguard/internal/store/postgres"
	transportHTTP "github.com/opentrusty/scoreguard/internal/transport/http"
)

const usage = `usage: server [command]

commands:
  serve         run the HTTP API (default)
  migrate       apply the database schema
  bootstrap     seed the default administrator
  verify-audit  verify the stored audit hash chain`

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
		OTelBridge:  cfg.Observability.OTELEnabled,
	})

	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "serve":
		err = runServe(ctx, cfg)
	case "migrate":
		err = runMigrate(ctx, cfg)
	case "bootstrap":
		err = runBootstrap(ctx, cfg)
	case "verify-audit":
		err = runVerifyAudit(ctx, cfg)
	case "help", "-h", "--help":
		fmt.Println(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n%s\n", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		slog.Error("command failed", logger.Operation(cmd), logger.Error(err))
		os.Exit(1)
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting scoreguard",
		logger.String("storage", cfg.Storage.Backend),
		logger.String("sessions", cfg.Session.Backend),
	)

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	if cfg.Bootstrap.OnStart {
		created, err := a.bootstrap(ctx)
		if err != nil {
			return err
		}
		if created && cfg.Bootstrap.AdminPassword == "Admin123" {
			slog.Warn("default administrator uses the built-in password; change it after first login",
				logger.Username(cfg.Bootstrap.AdminUsername))
		}
	}

	var opts []transportHTTP.HandlerOption
	if a.db != nil {
		opts = append(opts, transportHTTP.WithHealthCheck("database", a.db))
	}
	if a.redis != nil {
		opts = append(opts, transportHTTP.WithHealthCheck("redis", transportHTTP.PingerFunc(func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		})))
	}
	handler := transportHTTP.NewHandler(a.facade, opts...)

	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	defer rateLimiter.Stop()

	trusted, err := transportHTTP.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return err
	}
	router := transportHTTP.NewRouter(handler, rateLimiter, transportHTTP.RouterConfig{
		RequestTimeout: cfg.Server.RequestTimeout,
		AllowedHosts:   cfg.Server.AllowedHosts,
		SSLRedirect:    cfg.Server.SSLRedirect,
		TrustedProxies: trusted,
	})

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	// Expired sessions are only swept when a lifetime is configured.
	if cfg.Session.Lifetime > 0 {
		go sweepSessions(ctx, a, cfg.Session.CleanupInterval)
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("starting http server", logger.Component("server"), logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", logger.Error(err))
	}

	slog.Info("server stopped",
		slog.Uint64("audit_dropped", a.audit.Dropped()),
		slog.Uint64("audit_write_errors", a.audit.WriteErrors()),
	)
	return nil
}

func sweepSessions(ctx context.Context, a *app, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.sessions.CleanupExpired(ctx)
			if err != nil {
				slog.ErrorContext(ctx, "failed to cleanup expired sessions", logger.Error(err))
				continue
			}
			if n > 0 {
				slog.DebugContext(ctx, "expired sessions removed", logger.RowsAffected(int64(n)))
			}
		}
	}
}

func runMigrate(ctx context.Context, cfg *config.Config) error {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("applying initial schema")
	if err := db.Migrate(ctx, postgres.InitialSchema); err != nil {
		return err
	}
	slog.Info("migration successful")
	return nil
}

func runBootstrap(ctx context.Context, cfg *config.Config) error {
	if cfg.Storage.Backend != config.BackendPostgres {
		return errors.New("bootstrap requires STORAGE_BACKEND=postgres; the memory backend seeds on serve")
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	created, err := a.bootstrap(ctx)
	if err != nil {
		return err
	}
	if !created {
		slog.Info("administrator already exists, nothing to do", logger.Username(cfg.Bootstrap.AdminUsername))
	}
	return nil
}

func runVerifyAudit(ctx context.Context, cfg *config.Config) error {
	if cfg.Storage.Backend != config.BackendPostgres {
		return errors.New("verify-audit requires STORAGE_BACKEND=postgres")
	}
	if cfg.Audit.HMACKey == "" {
		return errors.New("verify-audit requires AUDIT_HMAC_KEY")
	}

	key, err := audit.ParseHMACKey(cfg.Audit.HMACKey)
	if err != nil {
		return err
	}
	chain, err := audit.NewChain(key)
	if err != nil {
		return err
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := chain.VerifyAll(ctx, postgres.NewAuditRepository(db).ListAscending, 500)
	if err != nil {
		return fmt.Errorf("audit chain invalid after %d entries: %w", n, err)
	}
	slog.Info("audit chain verified", slog.Int("entries", n))
	return nil
}
