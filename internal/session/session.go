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

package session

import (
	"context"
	"errors"
	"time"
)

// Domain errors
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidUserID   = errors.New("user id is required")
)

// Session binds a bearer token to the user it was issued for.
type Session struct {
	Token     string
	UserID    string
	IssuedAt  time.Time
	ExpiresAt *time.Time
}

// IsExpired reports whether the session has passed its expiry, if any.
func (s *Session) IsExpired(now time.Time) bool {
	return s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}

// Store issues, resolves and revokes session tokens. Implementations keep at
// most one live token per user: Issue supersedes any earlier token for the
// same user before returning.
type Store interface {
	// Issue creates a session for userID, invalidating any prior one.
	Issue(ctx context.Context, userID string) (*Session, error)

	// Resolve looks up a live session. Unknown, revoked and expired tokens
	// return ErrSessionNotFound. Resolve never extends validity.
	Resolve(ctx context.Context, token string) (*Session, error)

	// Revoke removes a token. Unknown tokens are a no-op.
	Revoke(ctx context.Context, token string) error

	// RevokeUser removes the live token of userID, if any.
	RevokeUser(ctx context.Context, userID string) error

	// IsValid reports whether token currently resolves.
	IsValid(ctx context.Context, token string) bool

	// CleanupExpired drops expired sessions and reports how many were removed.
	CleanupExpired(ctx context.Context) (int, error)
}

// ExpiryPolicy decides when a freshly issued session stops being valid.
type ExpiryPolicy interface {
	ExpiresAt(issuedAt time.Time) *time.Time
}

// NoExpiry keeps sessions valid until they are revoked or superseded.
type NoExpiry struct{}

func (NoExpiry) ExpiresAt(time.Time) *time.Time { return nil }

// TTL expires sessions a fixed lifetime after issue.
type TTL struct {
	Lifetime time.Duration
}

func (p TTL) ExpiresAt(issuedAt time.Time) *time.Time {
	t := issuedAt.Add(p.Lifetime)
	return &t
}

// PolicyFor returns NoExpiry for a zero lifetime and TTL otherwise.
func PolicyFor(lifetime time.Duration) ExpiryPolicy {
	if lifetime <= 0 {
		return NoExpiry{}
	}
	return TTL{Lifetime: lifetime}
}
