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

package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opentrusty/scoreguard/internal/id"
	"github.com/opentrusty/scoreguard/internal/session"
	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix = "scoreguard:"
	payloadSeparator = "|"
)

// issueScript swaps a user's token atomically. The previous session key is
// derived from the stored token, so it cannot be listed in KEYS up front.
const issueScript = `
local prev = redis.call("GET", KEYS[1])
if prev then
  redis.call("DEL", ARGV[4] .. prev)
end
if tonumber(ARGV[3]) > 0 then
  redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
  redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
else
  redis.call("SET", KEYS[2], ARGV[2])
  redis.call("SET", KEYS[1], ARGV[1])
end
return 1
`

const revokeScript = `
local payload = redis.call("GET", KEYS[1])
if not payload then
  return 0
end
redis.call("DEL", KEYS[1])
local sep = string.find(payload, "|", 1, true)
if sep then
  local ukey = ARGV[2] .. string.sub(payload, 1, sep - 1)
  if redis.call("GET", ukey) == ARGV[1] then
    redis.call("DEL", ukey)
  end
end
return 1
`

const revokeUserScript = `
local tok = redis.call("GET", KEYS[1])
if not tok then
  return 0
end
redis.call("DEL", ARGV[1] .. tok)
redis.call("DEL", KEYS[1])
return 1
`

var (
	issueLua      = redis.NewScript(issueScript)
	revokeLua     = redis.NewScript(revokeScript)
	revokeUserLua = redis.NewScript(revokeUserScript)
)

// SessionStore implements session.Store on Redis. Expiry is delegated to key
// TTLs, so CleanupExpired has nothing to do.
type SessionStore struct {
	client redis.UniversalClient
	policy session.ExpiryPolicy
	prefix string
	now    func() time.Time
}

// NewSessionStore creates a Redis-backed session store.
func NewSessionStore(client redis.UniversalClient, policy session.ExpiryPolicy) *SessionStore {
	if policy == nil {
		policy = session.NoExpiry{}
	}
	return &SessionStore{
		client: client,
		policy: policy,
		prefix: defaultKeyPrefix,
		now:    time.Now,
	}
}

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

func (s *SessionStore) sessionPrefix() string { return s.prefix + "session:" }
func (s *SessionStore) userPrefix() string    { return s.prefix + "user:" }

// Issue creates a session for userID and removes the previous one in the same
// script invocation.
func (s *SessionStore) Issue(ctx context.Context, userID string) (*session.Session, error) {
	if userID == "" {
		return nil, session.ErrInvalidUserID
	}

	now := s.now()
	sess := &session.Session{
		Token:     id.NewRandom(),
		UserID:    userID,
		IssuedAt:  now,
		ExpiresAt: s.policy.ExpiresAt(now),
	}

	var ttl int64
	if sess.ExpiresAt != nil {
		ttl = sess.ExpiresAt.Sub(now).Milliseconds()
		if ttl <= 0 {
			ttl = 1
		}
	}

	err := issueLua.Run(ctx, s.client,
		[]string{s.userPrefix() + userID, s.sessionPrefix() + sess.Token},
		sess.Token, encodePayload(sess), ttl, s.sessionPrefix(),
	).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to issue session: %w", err)
	}
	return sess, nil
}

// Resolve loads the session stored under token.
func (s *SessionStore) Resolve(ctx context.Context, token string) (*session.Session, error) {
	if token == "" {
		return nil, session.ErrSessionNotFound
	}
	payload, err := s.client.Get(ctx, s.sessionPrefix()+token).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, session.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}

	sess, ok := decodePayload(token, payload)
	if !ok || sess.IsExpired(s.now()) {
		return nil, session.ErrSessionNotFound
	}
	return sess, nil
}

// Revoke deletes token and, when it is still the user's live token, the
// reverse mapping.
func (s *SessionStore) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	err := revokeLua.Run(ctx, s.client,
		[]string{s.sessionPrefix() + token},
		token, s.userPrefix(),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// RevokeUser deletes the live session of userID.
func (s *SessionStore) RevokeUser(ctx context.Context, userID string) error {
	err := revokeUserLua.Run(ctx, s.client,
		[]string{s.userPrefix() + userID},
		s.sessionPrefix(),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to revoke user session: %w", err)
	}
	return nil
}

// IsValid reports whether token resolves. Backend errors count as invalid.
func (s *SessionStore) IsValid(ctx context.Context, token string) bool {
	_, err := s.Resolve(ctx, token)
	return err == nil
}

// CleanupExpired is a no-op; Redis expires keys itself.
func (s *SessionStore) CleanupExpired(ctx context.Context) (int, error) {
	return 0, nil
}

func encodePayload(sess *session.Session) string {
	var expires int64
	if sess.ExpiresAt != nil {
		expires = sess.ExpiresAt.UnixNano()
	}
	return strings.Join([]string{
		sess.UserID,
		strconv.FormatInt(sess.IssuedAt.UnixNano(), 10),
		strconv.FormatInt(expires, 10),
	}, payloadSeparator)
}

func decodePayload(token, payload string) (*session.Session, bool) {
	parts := strings.Split(payload, payloadSeparator)
	if len(parts) != 3 || parts[0] == "" {
		return nil, false
	}
	issued, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, false
	}
	expires, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return nil, false
	}

	sess := &session.Session{
		Token:    token,
		UserID:   parts[0],
		IssuedAt: time.Unix(0, issued),
	}
	if expires > 0 {
		t := time.Unix(0, expires)
		sess.ExpiresAt = &t
	}
	return sess, true
}
