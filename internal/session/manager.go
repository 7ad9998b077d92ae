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
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/opentrusty/scoreguard/internal/id"
)

const defaultStripes = 64

// Manager is the in-process session Store.
//
// Lookups by token are lock-free. Mutations take the mutex stripe owning the
// user, so Issue and Revoke for one user are serialised while unrelated users
// proceed in parallel. Both maps are only written while that stripe is held.
type Manager struct {
	byToken sync.Map // token -> *Session
	byUser  sync.Map // userID -> token

	stripes []sync.Mutex
	policy  ExpiryPolicy
	now     func() time.Time
	newID   func() string
}

// Option configures a Manager.
type Option func(*Manager)

// WithExpiryPolicy overrides the default NoExpiry policy.
func WithExpiryPolicy(p ExpiryPolicy) Option {
	return func(m *Manager) {
		if p != nil {
			m.policy = p
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithStripes sets the number of per-user lock stripes.
func WithStripes(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.stripes = make([]sync.Mutex, n)
		}
	}
}

// NewManager creates an empty in-memory session manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		stripes: make([]sync.Mutex, defaultStripes),
		policy:  NoExpiry{},
		now:     time.Now,
		newID:   id.NewRandom,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) lockFor(userID string) *sync.Mutex {
	return &m.stripes[xxhash.Sum64String(userID)%uint64(len(m.stripes))]
}

// Issue creates a session for userID. A previous token for the same user is
// removed from both maps before the new one becomes visible.
func (m *Manager) Issue(ctx context.Context, userID string) (*Session, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}

	mu := m.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	if prev, ok := m.byUser.Load(userID); ok {
		m.byToken.Delete(prev.(string))
	}

	now := m.now()
	sess := &Session{
		Token:     m.newID(),
		UserID:    userID,
		IssuedAt:  now,
		ExpiresAt: m.policy.ExpiresAt(now),
	}
	m.byToken.Store(sess.Token, sess)
	m.byUser.Store(userID, sess.Token)

	return copySession(sess), nil
}

// Resolve returns the live session for token.
func (m *Manager) Resolve(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrSessionNotFound
	}
	v, ok := m.byToken.Load(token)
	if !ok {
		return nil, ErrSessionNotFound
	}
	sess := v.(*Session)
	if sess.IsExpired(m.now()) {
		return nil, ErrSessionNotFound
	}
	return copySession(sess), nil
}

// Revoke removes token from both maps. Unknown tokens are ignored.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	v, ok := m.byToken.Load(token)
	if !ok {
		return nil
	}
	m.remove(v.(*Session))
	return nil
}

// RevokeUser removes the live token of userID, if any.
func (m *Manager) RevokeUser(ctx context.Context, userID string) error {
	mu := m.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	if tok, ok := m.byUser.LoadAndDelete(userID); ok {
		m.byToken.Delete(tok.(string))
	}
	return nil
}

// IsValid reports whether token currently resolves.
func (m *Manager) IsValid(ctx context.Context, token string) bool {
	_, err := m.Resolve(ctx, token)
	return err == nil
}

// CleanupExpired removes sessions whose expiry has passed.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	now := m.now()
	var expired []*Session
	m.byToken.Range(func(_, v any) bool {
		if sess := v.(*Session); sess.IsExpired(now) {
			expired = append(expired, sess)
		}
		return ctx.Err() == nil
	})

	removed := 0
	for _, sess := range expired {
		if m.remove(sess) {
			removed++
		}
	}
	return removed, ctx.Err()
}

// Len reports the number of live tokens held, expired or not.
func (m *Manager) Len() int {
	n := 0
	m.byToken.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// remove deletes sess under its user's stripe, provided it is still the
// stored session for its token.
func (m *Manager) remove(sess *Session) bool {
	mu := m.lockFor(sess.UserID)
	mu.Lock()
	defer mu.Unlock()

	cur, ok := m.byToken.Load(sess.Token)
	if !ok || cur.(*Session) != sess {
		return false
	}
	m.byToken.Delete(sess.Token)
	m.byUser.CompareAndDelete(sess.UserID, sess.Token)
	return true
}

func copySession(s *Session) *Session {
	c := *s
	return &c
}
