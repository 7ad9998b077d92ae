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
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/codes"

	"github.com/opentrusty/scoreguard/internal/audit"
	"github.com/opentrusty/scoreguard/internal/identity"
	"github.com/opentrusty/scoreguard/internal/observability/logger"
	"github.com/opentrusty/scoreguard/internal/rbac"
)

// Audit query limits
const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// ProvisionUser creates an account. Requires USER_MANAGE.
func (f *Facade) ProvisionUser(ctx context.Context, p *rbac.Principal, req identity.ProvisionRequest) (*identity.User, error) {
	ctx, span := f.tracer.Start(ctx, "access.ProvisionUser")
	defer span.End()

	const desc = "provision user account"
	if err := f.AuthorizeAndAudit(ctx, p, rbac.PermUserManage, audit.OpUserProvision, desc); err != nil {
		return nil, err
	}

	meta := map[string]string{audit.AttrUsername: req.Username, audit.AttrRole: req.RoleName}

	var user *identity.User
	_, err := f.engine.EffectivePermissions(req.RoleName)
	if err != nil {
		err = fmt.Errorf("cannot assign role %q: %w", req.RoleName, err)
	} else {
		user, err = f.identity.Provision(ctx, req)
	}
	if user != nil {
		meta[audit.AttrTargetID] = user.ID
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}

	if aerr := f.complete(ctx, p, audit.OpUserProvision, desc, err, meta); aerr != nil && err == nil {
		return user, aerr
	}
	return user, err
}

// SetUserStatus locks, disables or reactivates an account. Requires
// USER_MANAGE. Moving an account out of active revokes its session.
func (f *Facade) SetUserStatus(ctx context.Context, p *rbac.Principal, userID string, status identity.Status) error {
	ctx, span := f.tracer.Start(ctx, "access.SetUserStatus")
	defer span.End()

	const desc = "change account status"
	if err := f.AuthorizeAndAudit(ctx, p, rbac.PermUserManage, audit.OpUserStatus, desc); err != nil {
		return err
	}

	err := f.identity.SetStatus(ctx, userID, status)
	if err == nil && status != identity.StatusActive {
		if rerr := f.sessions.RevokeUser(ctx, userID); rerr != nil {
			slog.ErrorContext(ctx, "failed to revoke session of deactivated user",
				logger.UserID(userID),
				logger.Error(rerr),
			)
		}
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}

	meta := map[string]string{audit.AttrTargetID: userID, audit.AttrStatus: string(status)}
	if aerr := f.complete(ctx, p, audit.OpUserStatus, desc, err, meta); aerr != nil && err == nil {
		return aerr
	}
	return err
}

// QueryAudit reads the audit trail, most recent first. Requires AUDIT_VIEW.
func (f *Facade) QueryAudit(ctx context.Context, p *rbac.Principal, filter audit.Filter) ([]audit.Entry, error) {
	ctx, span := f.tracer.Start(ctx, "access.QueryAudit")
	defer span.End()

	const desc = "query audit trail"
	if err := f.AuthorizeAndAudit(ctx, p, rbac.PermAuditView, audit.OpAuditQuery, desc); err != nil {
		return nil, err
	}

	if filter.Limit <= 0 {
		filter.Limit = DefaultQueryLimit
	}
	if filter.Limit > MaxQueryLimit {
		filter.Limit = MaxQueryLimit
	}

	entries, err := f.audit.Query(ctx, filter)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	if aerr := f.Complete(ctx, p, audit.OpAuditQuery, desc, err); aerr != nil && err == nil {
		return nil, aerr
	}
	return entries, err
}
