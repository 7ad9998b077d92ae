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

package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/opentrusty/scoreguard/internal/audit"
	"github.com/opentrusty/scoreguard/internal/identity"
	"github.com/opentrusty/scoreguard/internal/observability/logger"
	"github.com/opentrusty/scoreguard/internal/rbac"
)

// Login failure reasons as written to the audit log.
const (
	reasonInvalidCredentials = "invalid_credentials"
	reasonInternal           = "internal_error"
)

// LoginResult is returned to a client after a successful login.
type LoginResult struct {
	Token       string
	ExpiresAt   *time.Time
	UserID      string
	Username    string
	Role        string
	Level       int
	Permissions []string
}

// Profile summarises a principal for display.
type Profile struct {
	UserID      string
	Username    string
	Role        string
	Level       int
	Status      identity.Status
	Permissions []string
}

// Login verifies a username and password and issues a session token,
// superseding any earlier session of the same user.
//
// Unknown users and wrong passwords both return
// identity.ErrInvalidCredentials. identity.ErrAccountLocked and
// identity.ErrAccountDisabled are only returned for a correct password.
func (f *Facade) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	ctx, span := f.tracer.Start(ctx, "access.Login")
	defer span.End()
	start := f.now()

	user, err := f.identity.Authenticate(ctx, username, password)
	if err != nil {
		reason := loginFailureReason(err)
		f.metrics.Login(ctx, reason, f.now().Sub(start))
		span.SetStatus(codes.Error, reason)

		// The caller is not authenticated, so the entry has no actor.
		recErr := f.record(ctx, nil, audit.OpLogin, "login", audit.OutcomeFailure, reason,
			map[string]string{audit.AttrUsername: username})
		if reason == reasonInternal {
			return nil, fmt.Errorf("failed to authenticate: %w", err)
		}
		if recErr != nil {
			slog.WarnContext(ctx, "failed login not audited", logger.Username(username), logger.Error(recErr))
		}
		return nil, err
	}

	sess, err := f.sessions.Issue(ctx, user.ID)
	if err != nil {
		span.SetStatus(codes.Error, "session issue failed")
		return nil, fmt.Errorf("failed to issue session: %w", err)
	}
	f.metrics.SessionIssued(ctx)

	p := principalOf(user)
	if err := f.record(ctx, p, audit.OpLogin, "login", audit.OutcomeSuccess, "",
		map[string]string{audit.AttrUsername: user.Username, audit.AttrRole: user.RoleName}); err != nil {
		// An unaudited session must not stay usable.
		_ = f.sessions.Revoke(ctx, sess.Token)
		span.SetStatus(codes.Error, "audit unavailable")
		return nil, err
	}
	f.metrics.Login(ctx, "success", f.now().Sub(start))
	span.SetAttributes(attribute.String("user.id", user.ID), attribute.String("user.role", user.RoleName))

	profile := f.Describe(p)
	return &LoginResult{
		Token:       sess.Token,
		ExpiresAt:   sess.ExpiresAt,
		UserID:      user.ID,
		Username:    user.Username,
		Role:        user.RoleName,
		Level:       profile.Level,
		Permissions: profile.Permissions,
	}, nil
}

func loginFailureReason(err error) string {
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		return reasonInvalidCredentials
	case errors.Is(err, identity.ErrAccountLocked):
		return rbac.ReasonAccountLocked
	case errors.Is(err, identity.ErrAccountDisabled):
		return rbac.ReasonAccountDisabled
	default:
		return reasonInternal
	}
}

// Logout revokes token. It always succeeds from the caller's point of view;
// only a token that was live produces an audit entry.
func (f *Facade) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	sess, err := f.sessions.Resolve(ctx, token)
	if rerr := f.sessions.Revoke(ctx, token); rerr != nil {
		slog.WarnContext(ctx, "failed to revoke session", logger.Error(rerr))
	}
	if err != nil {
		return nil
	}

	p := &rbac.Principal{UserID: sess.UserID}
	if err := f.record(ctx, p, audit.OpLogout, "logout", audit.OutcomeSuccess, "", nil); err != nil {
		slog.WarnContext(ctx, "logout not audited", logger.UserID(sess.UserID), logger.Error(err))
	}
	return nil
}

// ChangePassword replaces the caller's password after re-verifying the
// current one. The caller's session stays valid.
func (f *Facade) ChangePassword(ctx context.Context, p *rbac.Principal, oldPassword, newPassword string) error {
	ctx, span := f.tracer.Start(ctx, "access.ChangePassword")
	defer span.End()

	if p == nil {
		return ErrUnauthenticated
	}
	if d := rbac.CheckStatus(p); !d.Allowed {
		return f.settle(ctx, p, d, audit.OpPasswordChange, "change own password", nil)
	}

	err := f.identity.ChangePassword(ctx, p.UserID, oldPassword, newPassword)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	if aerr := f.Complete(ctx, p, audit.OpPasswordChange, "change own password", err); aerr != nil && err == nil {
		return aerr
	}
	return err
}

// Describe returns the role level and effective permissions of p.
func (f *Facade) Describe(p *rbac.Principal) Profile {
	profile := Profile{
		UserID:   p.UserID,
		Username: p.Username,
		Role:     p.Role,
		Status:   p.Status,
	}
	if level, ok := f.engine.Level(p.Role); ok {
		profile.Level = level
	}
	profile.Permissions = f.permissionList(p.Role)
	return profile
}

// permissionList expands the wildcard to the declared permissions so clients
// see concrete codes.
func (f *Facade) permissionList(role string) []string {
	set, err := f.engine.EffectivePermissions(role)
	if err != nil || len(set) == 0 {
		return []string{}
	}
	declared := f.engine.Catalog().Permissions()
	if _, all := set[rbac.Wildcard]; !all || len(declared) == 0 {
		return set.Sorted()
	}
	out := make([]string, 0, len(declared))
	for _, perm := range declared {
		out = append(out, perm.Code)
	}
	return out
}

func principalOf(u *identity.User) *rbac.Principal {
	return &rbac.Principal{
		UserID:   u.ID,
		Username: u.Username,
		Role:     u.RoleName,
		Status:   u.Status,
	}
}
