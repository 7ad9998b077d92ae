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

	"github.com/opentrusty/scoreguard/internal/id"
	"github.com/opentrusty/scoreguard/internal/session"
)

// SessionRepository implements session.Store on the sessions table. The
// UNIQUE constraint on user_id keeps one live token per user; Issue replaces
// the row in a single upsert.
type SessionRepository struct {
	db     *DB
	policy session.ExpiryPolicy
	now    func() time.Time
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *DB, policy session.ExpiryPolicy) *SessionRepository {
	if policy == nil {
		policy = session.NoExpiry{}
	}
	return &SessionRepository{db: db, policy: policy, now: time.Now}
}

// Issue creates a session for userID, replacing any earlier one.
func (r *SessionRepository) Issue(ctx context.Context, userID string) (*session.Session, error) {
	if userID == "" {
		return nil, session.ErrInvalidUserID
	}

	now := r.now().UTC().Truncate(time.Microsecond)
	sess := &session.Session{
		Token:     id.NewRandom(),
		UserID:    userID,
		IssuedAt:  now,
		ExpiresAt: r.policy.ExpiresAt(now),
	}

	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO sessions (token, user_id, issued_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET token = EXCLUDED.token,
			issued_at = EXCLUDED.issued_at,
			expires_at = EXCLUDED.expires_at
	`, sess.Token, sess.UserID, sess.IssuedAt, sess.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session: %w", err)
	}
	return sess, nil
}

// Resolve retrieves a live session by token.
func (r *SessionRepository) Resolve(ctx context.Context, token string) (*session.Session, error) {
	if token == "" {
		return nil, session.ErrSessionNotFound
	}

	var sess session.Session
	err := r.db.pool.QueryRow(ctx, `
		SELECT token, user_id, issued_at, expires_at
		FROM sessions
		WHERE token = $1
	`, token).Scan(&sess.Token, &sess.UserID, &sess.IssuedAt, &sess.ExpiresAt)
	if err != nil {
		if isNoRows(err) {
			return nil, session.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}

	if sess.IsExpired(r.now()) {
		return nil, session.ErrSessionNotFound
	}
	return &sess, nil
}

// Revoke deletes a session by token.
func (r *SessionRepository) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if _, err := r.db.pool.Exec(ctx, `DELETE FROM sessions WHERE token = $1`, token); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// RevokeUser deletes the session of userID.
func (r *SessionRepository) RevokeUser(ctx context.Context, userID string) error {
	if _, err := r.db.pool.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to revoke user session: %w", err)
	}
	return nil
}

// IsValid reports whether token resolves to a live session.
func (r *SessionRepository) IsValid(ctx context.Context, token string) bool {
	_, err := r.Resolve(ctx, token)
	return err == nil
}

// CleanupExpired deletes expired sessions
func (r *SessionRepository) CleanupExpired(ctx context.Context) (int, error) {
	tag, err := r.db.pool.Exec(ctx, `
		DELETE FROM sessions WHERE expires_at IS NOT NULL AND expires_at <= $1
	`, r.now())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
