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

// Package access composes sessions, identities, the RBAC engine and the
// audit log into the checks every protected operation goes through.
package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/opentrusty/scoreguard/internal/audit"
	"github.com/opentrusty/scoreguard/internal/identity"
	"github.com/opentrusty/scoreguard/internal/observability/logger"
	"github.com/opentrusty/scoreguard/internal/rbac"
	"github.com/opentrusty/scoreguard/internal/session"
)

// Domain errors
var (
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrForbidden        = errors.New("forbidden")
	ErrAuditUnavailable = errors.New("audit log unavailable")
)

// Audit metadata keys set by the facade.
const (
	attrPermission = "permission"
	attrMinLevel   = "min_level"
)

// Auditor is the audit log as seen by the facade.
type Auditor interface {
	audit.Recorder
	audit.Reader
	Closed() bool
}

// Metrics receives decision and login counts.
type Metrics interface {
	Decision(ctx context.Context, operation string, allowed bool, reason string)
	Login(ctx context.Context, outcome string, elapsed time.Duration)
	SessionIssued(ctx context.Context)
}

type noopMetrics struct{}

func (noopMetrics) Decision(context.Context, string, bool, string) {}
func (noopMetrics) Login(context.Context, string, time.Duration) {}
func (noopMetrics) SessionIssued(context.Context) {}

// Facade is the single entry point for authentication and authorization.
type Facade struct {
	identity *identity.Service
	sessions session.Store
	engine   *rbac.Engine
	audit    Auditor
	metrics  Metrics
	tracer   trace.Tracer
	now      func() time.Time
}

// Option configures a Facade.
type Option func(*Facade)

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(f *Facade) {
		if m != nil {
			f.metrics = m
		}
	}
}

// WithTracer sets the tracer used for facade spans.
func WithTracer(t trace.Tracer) Option {
	return func(f *Facade) {
		if t != nil {
			f.tracer = t
		}
	}
}

// New creates a facade.
func New(identitySvc *identity.Service, sessions session.Store, engine *rbac.Engine, auditor Auditor, opts ...Option) *Facade {
	f := &Facade{
		identity: identitySvc,
		sessions: sessions,
		engine:   engine,
		audit:    auditor,
		metrics:  noopMetrics{},
		tracer:   otel.Tracer("github.com/opentrusty/scoreguard/internal/access"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Engine returns the RBAC engine in use.
func (f *Facade) Engine() *rbac.Engine {
	return f.engine
}

// AuditAvailable reports whether the audit log still accepts entries.
func (f *Facade) AuditAvailable() bool {
	return !f.audit.Closed()
}

// Authenticate resolves a bearer token to a principal. The principal carries
// the account's current status; inactive accounts are rejected later by
// authorization, not here.
func (f *Facade) Authenticate(ctx context.Context, token string) (*rbac.Principal, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}

	sess, err := f.sessions.Resolve(ctx, token)
	if err != nil {
		if !errors.Is(err, session.ErrSessionNotFound) {
			slog.ErrorContext(ctx, "failed to resolve session", logger.Error(err))
		}
		return nil, ErrUnauthenticated
	}

	user, err := f.identity.GetUser(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("failed to load session user: %w", err)
	}

	return &rbac.Principal{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.RoleName,
		Status:   user.Status,
	}, nil
}

// AuthenticateHeader authenticates an Authorization header value of the form
// "Bearer <token>". The scheme is matched case-insensitively.
func (f *Facade) AuthenticateHeader(ctx context.Context, header string) (*rbac.Principal, error) {
	token, ok := BearerToken(header)
	if !ok {
		return nil, ErrUnauthenticated
	}
	return f.Authenticate(ctx, token)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// AuthorizeAndAudit checks that p holds permission. A denial is written to
// the audit log as a single failure entry and reported as ErrForbidden. On
// success nothing is written: the caller performs the operation and reports
// its outcome through Complete.
func (f *Facade) AuthorizeAndAudit(ctx context.Context, p *rbac.Principal, permission, operation, description string) error {
	d := f.engine.Authorize(p, permission)
	return f.settle(ctx, p, d, operation, description, map[string]string{attrPermission: permission})
}

// RequireLevelAndAudit is AuthorizeAndAudit for the coarse role level check.
func (f *Facade) RequireLevelAndAudit(ctx context.Context, p *rbac.Principal, minimumLevel int, operation, description string) error {
	d := f.engine.RequiresRole(p, minimumLevel)
	return f.settle(ctx, p, d, operation, description, map[string]string{attrMinLevel: strconv.Itoa(minimumLevel)})
}

func (f *Facade) settle(ctx context.Context, p *rbac.Principal, d rbac.Decision, operation, description string, meta map[string]string) error {
	f.metrics.Decision(ctx, operation, d.Allowed, d.Reason)

	if d.Allowed {
		if f.audit.Closed() {
			return ErrAuditUnavailable
		}
		return nil
	}

	if d.Anomaly != nil {
		slog.ErrorContext(ctx, "authorization denied by misconfigured role catalog",
			logger.UserID(actorOf(p)),
			logger.Role(roleOf(p)),
			logger.Operation(operation),
			logger.Reason(d.Reason),
			logger.Error(d.Anomaly),
		)
	}

	err := f.record(ctx, p, operation, description, audit.OutcomeFailure, d.Reason, meta)
	if errors.Is(err, ErrAuditUnavailable) {
		return fmt.Errorf("%w: %w", ErrForbidden, ErrAuditUnavailable)
	}
	return ErrForbidden
}

// Complete records the outcome of an operation that passed authorization:
// success when opErr is nil, failure with opErr as the reason otherwise.
func (f *Facade) Complete(ctx context.Context, p *rbac.Principal, operation, description string, opErr error) error {
	return f.complete(ctx, p, operation, description, opErr, nil)
}

func (f *Facade) complete(ctx context.Context, p *rbac.Principal, operation, description string, opErr error, meta map[string]string) error {
	if opErr == nil {
		return f.record(ctx, p, operation, description, audit.OutcomeSuccess, "", meta)
	}
	return f.record(ctx, p, operation, description, audit.OutcomeFailure, opErr.Error(), meta)
}

// record writes one entry. Only a closed log is an error; everything else
// the log reports on its own.
func (f *Facade) record(ctx context.Context, p *rbac.Principal, operation, description string, outcome audit.Outcome, reason string, meta map[string]string) error {
	entry := audit.Entry{
		ActorID:     actorOf(p),
		Operation:   operation,
		Description: description,
		Outcome:     outcome,
		Reason:      reason,
		Metadata:    withClient(ctx, meta),
	}

	if err := f.audit.Record(ctx, entry); err != nil {
		if errors.Is(err, audit.ErrLogClosed) {
			slog.ErrorContext(ctx, "audit log closed, operation cannot be recorded",
				logger.Operation(operation),
				logger.UserID(entry.ActorID),
			)
			return ErrAuditUnavailable
		}
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

func actorOf(p *rbac.Principal) string {
	if p == nil {
		return ""
	}
	return p.UserID
}

func roleOf(p *rbac.Principal) string {
	if p == nil {
		return ""
	}
	return p.Role
}
