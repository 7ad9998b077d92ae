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

package identity

import (
	"context"
	"sync"
	"time"
)

// MemoryRepository is an in-process UserRepository. It backs development
// runs without PostgreSQL and the package tests of dependent layers.
type MemoryRepository struct {
	mu          sync.RWMutex
	users       map[string]*User
	credentials map[string]*Credentials
	now         func() time.Time
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:       make(map[string]*User),
		credentials: make(map[string]*Credentials),
		now:         time.Now,
	}
}

func (m *MemoryRepository) Create(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Username == user.Username && !u.IsDeleted() {
			return ErrUserAlreadyExists
		}
	}
	now := m.now()
	user.CreatedAt = now
	user.UpdatedAt = now
	c := *user
	m.users[user.ID] = &c
	return nil
}

func (m *MemoryRepository) AddCredentials(ctx context.Context, credentials *Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	credentials.UpdatedAt = m.now()
	c := *credentials
	m.credentials[credentials.UserID] = &c
	return nil
}

func (m *MemoryRepository) GetByID(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok || u.IsDeleted() {
		return nil, ErrUserNotFound
	}
	c := *u
	return &c, nil
}

func (m *MemoryRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if u.Username == username && !u.IsDeleted() {
			c := *u
			return &c, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *MemoryRepository) UpdateStatus(ctx context.Context, userID string, status Status) error {
	return m.update(userID, func(u *User) {
		u.Status = status
		u.FailedLoginAttempts = 0
	})
}

func (m *MemoryRepository) RecordLoginFailure(ctx context.Context, userID string, lockoutAt int) (int, Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok || u.IsDeleted() || u.Status != StatusActive {
		return 0, "", ErrUserNotFound
	}
	u.FailedLoginAttempts++
	if lockoutAt > 0 && u.FailedLoginAttempts >= lockoutAt {
		u.Status = StatusLocked
	}
	u.UpdatedAt = m.now()
	return u.FailedLoginAttempts, u.Status, nil
}

func (m *MemoryRepository) ResetLoginFailures(ctx context.Context, userID string) error {
	return m.update(userID, func(u *User) {
		u.FailedLoginAttempts = 0
	})
}

func (m *MemoryRepository) Delete(ctx context.Context, id string) error {
	return m.update(id, func(u *User) {
		now := m.now()
		u.DeletedAt = &now
	})
}

func (m *MemoryRepository) GetCredentials(ctx context.Context, userID string) (*Credentials, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.credentials[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryRepository) UpdatePassword(ctx context.Context, userID string, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.credentials[userID]
	if !ok {
		return ErrUserNotFound
	}
	c.PasswordHash = passwordHash
	c.UpdatedAt = m.now()
	return nil
}

func (m *MemoryRepository) update(id string, fn func(*User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok || u.IsDeleted() {
		return ErrUserNotFound
	}
	fn(u)
	u.UpdatedAt = m.now()
	return nil
}
