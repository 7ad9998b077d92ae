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
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/opentrusty/scoreguard/internal/identity"
)

// UserRepository implements identity.UserRepository
type UserRepository struct {
	db *DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `
	id, username, display_name, role_name, status, external_ref,
	failed_login_attempts, created_at, updated_at, deleted_at`

// Create creates a new user account
func (r *UserRepository) Create(ctx context.Context, user *identity.User) error {
	now := time.Now().UTC()
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO users (
			id, username, display_name, role_name, status, external_ref,
			failed_login_attempts, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		user.ID, user.Username, user.DisplayName, user.RoleName, string(user.Status),
		user.ExternalRef, user.FailedLoginAttempts, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return identity.ErrUserAlreadyExists
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}

	user.CreatedAt = now
	user.UpdatedAt = now

	return nil
}

// AddCredentials adds credentials for a user
func (r *UserRepository) AddCredentials(ctx context.Context, credentials *identity.Credentials) error {
	now := time.Now().UTC()

	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO credentials (user_id, password_hash, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET password_hash = EXCLUDED.password_hash, updated_at = EXCLUDED.updated_at
	`, credentials.UserID, credentials.PasswordHash, now)
	if err != nil {
		return fmt.Errorf("failed to insert credentials: %w", err)
	}

	credentials.UpdatedAt = now

	return nil
}

// GetByID retrieves a live user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*identity.User, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	return scanUser(row)
}

// GetByUsername retrieves a live user by username
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*identity.User, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE username = $1 AND deleted_at IS NULL
	`, username)
	return scanUser(row)
}

// UpdateStatus sets the account status and clears the failure counter
func (r *UserRepository) UpdateStatus(ctx context.Context, userID string, status identity.Status) error {
	tag, err := r.db.pool.Exec(ctx, `
		UPDATE users
		SET status = $2, failed_login_attempts = 0, updated_at = $3
		WHERE id = $1 AND deleted_at IS NULL
	`, userID, string(status), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

// RecordLoginFailure increments the counter in place so concurrent failures
// are all counted, and never touches an account that is no longer active.
func (r *UserRepository) RecordLoginFailure(ctx context.Context, userID string, lockoutAt int) (int, identity.Status, error) {
	var (
		attempts int
		status   string
	)
	err := r.db.pool.QueryRow(ctx, `
		UPDATE users
		SET failed_login_attempts = failed_login_attempts + 1,
		    status = CASE
		        WHEN $2 > 0 AND failed_login_attempts + 1 >= $2 THEN 'locked'
		        ELSE status
		    END,
		    updated_at = $3
		WHERE id = $1 AND deleted_at IS NULL AND status = 'active'
		RETURNING failed_login_attempts, status
	`, userID, lockoutAt, time.Now().UTC()).Scan(&attempts, &status)
	if err != nil {
		if isNoRows(err) {
			return 0, "", identity.ErrUserNotFound
		}
		return 0, "", fmt.Errorf("failed to record login failure: %w", err)
	}
	return attempts, identity.Status(status), nil
}

// ResetLoginFailures clears the failure counter after a successful login
func (r *UserRepository) ResetLoginFailures(ctx context.Context, userID string) error {
	tag, err := r.db.pool.Exec(ctx, `
		UPDATE users
		SET failed_login_attempts = 0, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`, userID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to reset login failures: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

// Delete soft-deletes a user
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	now := time.Now().UTC()
	tag, err := r.db.pool.Exec(ctx, `
		UPDATE users
		SET deleted_at = $2, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`, id, now)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

// GetCredentials retrieves user credentials
func (r *UserRepository) GetCredentials(ctx context.Context, userID string) (*identity.Credentials, error) {
	var c identity.Credentials
	err := r.db.pool.QueryRow(ctx, `
		SELECT user_id, password_hash, updated_at
		FROM credentials
		WHERE user_id = $1
	`, userID).Scan(&c.UserID, &c.PasswordHash, &c.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, identity.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get credentials: %w", err)
	}
	return &c, nil
}

// UpdatePassword replaces the stored password record
func (r *UserRepository) UpdatePassword(ctx context.Context, userID string, passwordHash string) error {
	tag, err := r.db.pool.Exec(ctx, `
		UPDATE credentials
		SET password_hash = $2, updated_at = $3
		WHERE user_id = $1
	`, userID, passwordHash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (*identity.User, error) {
	var (
		u      identity.User
		status string
	)
	err := row.Scan(
		&u.ID, &u.Username, &u.DisplayName, &u.RoleName, &status, &u.ExternalRef,
		&u.FailedLoginAttempts, &u.CreatedAt, &u.UpdatedAt, &u.DeletedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, identity.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	u.Status, err = identity.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
