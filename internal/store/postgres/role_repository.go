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

package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opentrusty/scoreguard/internal/observability/logger"
	"github.com/opentrusty/scoreguard/internal/rbac"
)

// RoleRepository loads the role catalog from the roles, permissions and
// role_permissions tables.
type RoleRepository struct {
	db *DB
}

// NewRoleRepository creates a new role repository
func NewRoleRepository(db *DB) *RoleRepository {
	return &RoleRepository{db: db}
}

// LoadCatalog builds an rbac.Catalog from the database. An empty roles table
// yields the built-in default catalog.
func (r *RoleRepository) LoadCatalog(ctx context.Context) (*rbac.Catalog, error) {
	perms, err := r.listPermissions(ctx)
	if err != nil {
		return nil, err
	}

	roles, err := r.listRoles(ctx)
	if err != nil {
		return nil, err
	}
	if len(roles) == 0 {
		slog.WarnContext(ctx, "no roles stored, using built-in catalog")
		return rbac.DefaultCatalog(), nil
	}

	grants, err := r.listGrants(ctx)
	if err != nil {
		return nil, err
	}
	for i := range roles {
		roles[i].Permissions = grants[roles[i].Name]
	}

	catalog, err := rbac.NewCatalog(roles, perms)
	if err != nil {
		return nil, fmt.Errorf("failed to build role catalog: %w", err)
	}
	for name, anomaly := range catalog.Anomalies() {
		slog.ErrorContext(ctx, "role hierarchy anomaly",
			logger.Role(name),
			logger.Error(anomaly),
		)
	}
	return catalog, nil
}

func (r *RoleRepository) listPermissions(ctx context.Context) ([]rbac.Permission, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT code, description
		FROM permissions
		WHERE code <> $1
		ORDER BY code
	`, rbac.Wildcard)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	var perms []rbac.Permission
	for rows.Next() {
		var p rbac.Permission
		if err := rows.Scan(&p.Code, &p.Description); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func (r *RoleRepository) listRoles(ctx context.Context) ([]rbac.Role, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT name, level, COALESCE(parent, ''), description
		FROM roles
		ORDER BY level, name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []rbac.Role
	for rows.Next() {
		var role rbac.Role
		if err := rows.Scan(&role.Name, &role.Level, &role.Parent, &role.Description); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (r *RoleRepository) listGrants(ctx context.Context) (map[string][]string, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT role_name, permission_code
		FROM role_permissions
		ORDER BY role_name, permission_code
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list role permissions: %w", err)
	}
	defer rows.Close()

	grants := make(map[string][]string)
	for rows.Next() {
		var role, code string
		if err := rows.Scan(&role, &code); err != nil {
			return nil, fmt.Errorf("failed to scan role permission: %w", err)
		}
		grants[role] = append(grants[role], code)
	}
	return grants, rows.Err()
}
