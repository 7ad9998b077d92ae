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

	goredis "github.com/redis/go-redis/v9"

	"github.com/opentrusty/scoreguard/internal/access"
	"github.com/opentrusty/scoreguard/internal/audit"
	"github.com/opentrusty/scoreguard/internal/config"
	"github.com/opentrusty/scoreguard/internal/credential"
	"github.com/opentrusty/scoreguard/internal/identity"
	"github.com/opentrusty/scoreguard/internal/observability/logger"
	"github.com/opentrusty/scoreguard/internal/observability/metrics"
	"github.com/opentrusty/scoreguard/internal/observability/tracing"
	"github.com/opentrusty/scoreguard/internal/rbac"
	"github.com/opentrusty/scoreguard/internal/session"
	"github.com/opentrusty/scoreguard/internal/store/postgres"
	"github.com/opentrusty/scoreguard/internal/store/redis"
)

// app holds the wired components shared by every command.
type app struct {
	cfg         *config.Config
	db          *postgres.DB
	redis       *goredis.Client
	tracer      *tracing.Tracer
	instruments *metrics.Instruments
	users       *identity.Service
	sessions    session.Store
	engine      *rbac.Engine
	audit       *audit.Log
	facade      *access.Facade
}

func openDB(ctx context.Context, cfg *config.Config) (*postgres.DB, error) {
	return postgres.New(ctx, postgres.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
}

func newHasher(cfg config.SecurityConfig) (*credential.Hasher, error) {
	// Ranges are enforced by config.Validate.
	return credential.NewHasher(credential.Scheme(cfg.CredentialScheme), uint32(cfg.SaltLength), credential.Argon2Params{
		Memory:      uint32(cfg.Argon2Memory),
		Iterations:  uint32(cfg.Argon2Iterations),
		Parallelism: uint8(cfg.Argon2Parallelism),
		KeyLength:   uint32(cfg.Argon2KeyLength),
	})
}

// auditKey returns the configured chain key, or a fresh one when none is
// set. A fresh key means entries from earlier runs cannot be verified.
func auditKey(cfg config.AuditConfig) ([]byte, error) {
	if cfg.HMACKey != "" {
		return audit.ParseHMACKey(cfg.HMACKey)
	}
	key, err := audit.GenerateHMACKey()
	if err != nil {
		return nil, err
	}
	slog.Warn("AUDIT_HMAC_KEY not set, using an ephemeral key; the audit chain will not verify after restart",
		logger.Component("audit"))
	return key, nil
}

// newApp wires storage, sessions, the role catalog, the audit log and the
// facade according to cfg. Call close when done.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	if err := a.init(ctx); err != nil {
		a.close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	cfg := a.cfg
	var err error

	a.tracer, err = tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   cfg.Observability.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}

	meter := metrics.New(metrics.Config{
		Enabled:     cfg.Observability.OTELEnabled,
		ServiceName: cfg.Observability.ServiceName,
		Namespace:   "scoreguard",
	})
	a.instruments, err = metrics.NewInstruments(meter)
	if err != nil {
		return fmt.Errorf("failed to create instruments: %w", err)
	}

	hasher, err := newHasher(cfg.Security)
	if err != nil {
		return err
	}

	var (
		repo    identity.UserRepository
		catalog *rbac.Catalog
		sink    audit.Sink
	)
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		a.db, err = openDB(ctx, cfg)
		if err != nil {
			return err
		}
		slog.Info("connected to database", logger.Component("postgres"))

		repo = postgres.NewUserRepository(a.db)
		sink = postgres.NewAuditRepository(a.db)
		catalog, err = postgres.NewRoleRepository(a.db).LoadCatalog(ctx)
		if err != nil {
			return err
		}
	default:
		repo = identity.NewMemoryRepository()
		sink = audit.NewMemorySink()
		catalog = rbac.DefaultCatalog()
	}

	if cfg.Audit.LogToSlog {
		sink = audit.NewMultiSink(sink, audit.NewSlogSink(slog.Default()))
	}

	key, err := auditKey(cfg.Audit)
	if err != nil {
		return err
	}
	a.audit, err = audit.New(ctx, audit.Config{BufferSize: cfg.Audit.BufferSize, HMACKey: key}, sink,
		audit.WithObserver(a.instruments))
	if err != nil {
		return fmt.Errorf("failed to start audit log: %w", err)
	}

	a.sessions, err = a.newSessionStore(ctx)
	if err != nil {
		return err
	}

	a.users = identity.NewService(repo, hasher, cfg.Security.LockoutMaxAttempts)
	a.engine = rbac.NewEngine(catalog)
	a.facade = access.New(a.users, a.sessions, a.engine, a.audit,
		access.WithMetrics(a.instruments),
		access.WithTracer(a.tracer.Tracer()),
	)
	return nil
}

func (a *app) newSessionStore(ctx context.Context) (session.Store, error) {
	policy := session.PolicyFor(a.cfg.Session.Lifetime)

	switch a.cfg.Session.Backend {
	case config.BackendRedis:
		client, err := redis.NewClient(ctx, a.cfg.Redis.Addr, a.cfg.Redis.Password, a.cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		a.redis = client
		slog.Info("connected to redis", logger.Component("redis"))
		return redis.NewSessionStore(client, policy), nil
	case config.BackendPostgres:
		if a.db == nil {
			return nil, errors.New("postgres session backend requires postgres storage")
		}
		return postgres.NewSessionRepository(a.db, policy), nil
	default:
		return session.NewManager(
			session.WithExpiryPolicy(policy),
			session.WithStripes(a.cfg.Session.Stripes),
		), nil
	}
}

// bootstrap seeds the default administrator.
func (a *app) bootstrap(ctx context.Context) (bool, error) {
	svc := identity.NewBootstrapService(a.users, a.audit)
	return svc.Bootstrap(ctx, identity.BootstrapConfig{
		Username: a.cfg.Bootstrap.AdminUsername,
		Password: a.cfg.Bootstrap.AdminPassword,
		RoleName: a.cfg.Bootstrap.AdminRole,
	})
}

// close drains the audit log before releasing the stores it writes to.
func (a *app) close(ctx context.Context) {
	if a.audit != nil {
		a.audit.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			slog.Warn("failed to close redis client", logger.Error(err))
		}
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			slog.Warn("failed to shut down tracer", logger.Error(err))
		}
	}
}
