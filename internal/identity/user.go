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
	"errors"
	"fmt"
	"time"
)

// Domain errors
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidUsername    = errors.New("invalid username")
	ErrWeakPassword       = errors.New("password does not meet security requirements")
	ErrAccountLocked      = errors.New("account is locked")
	ErrAccountDisabled    = errors.New("account is disabled")
	ErrInvalidStatus      = errors.New("invalid account status")
)

// Status is the lifecycle state of an account.
type Status string

const (
	StatusActive   Status = "active"
	StatusLocked   Status = "locked"
	StatusDisabled Status = "disabled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusLocked, StatusDisabled:
		return true
	}
	return false
}

// ParseStatus converts a stored or user-supplied value to a Status.
func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, v)
	}
	return s, nil
}

// User is an account of the score system. Users are never hard-deleted;
// DeletedAt marks a soft delete so audit entries keep a valid actor.
type User struct {
	ID                  string
	Username            string
	DisplayName         string
	RoleName            string
	Status              Status
	ExternalRef         *string // student or teacher record id
	FailedLoginAttempts int
	CreatedAt           time.Time
	UpdatedAt           time.Time
	DeletedAt           *time.Time
}

// IsDeleted reports whether the account was soft-deleted.
func (u *User) IsDeleted() bool {
	return u.DeletedAt != nil
}

// Credentials holds the stored password record of a user.
type Credentials struct {
	UserID       string
	PasswordHash string
	UpdatedAt    time.Time
}

// UserRepository defines the interface for user persistence
type UserRepository interface {
	// Create creates a new user
	Create(ctx context.Context, user *User) error

	// AddCredentials stores the password record of a user
	AddCredentials(ctx context.Context, credentials *Credentials) error

	// GetByID retrieves a non-deleted user by ID
	GetByID(ctx context.Context, id string) (*User, error)

	// GetByUsername retrieves a non-deleted user by username
	GetByUsername(ctx context.Context, username string) (*User, error)

	// UpdateStatus sets the account status and resets failed attempts
	UpdateStatus(ctx context.Context, userID string, status Status) error

	// RecordLoginFailure atomically increments the failed attempt counter of
	// an active user and locks the account once the counter reaches
	// lockoutAt (zero never locks). It returns the stored counter and status,
	// or ErrUserNotFound when no active user matches.
	RecordLoginFailure(ctx context.Context, userID string, lockoutAt int) (int, Status, error)

	// ResetLoginFailures clears the failed attempt counter, leaving status alone
	ResetLoginFailures(ctx context.Context, userID string) error

	// Delete soft-deletes a user
	Delete(ctx context.Context, id string) error

	// GetCredentials retrieves user credentials
	GetCredentials(ctx context.Context, userID string) (*Credentials, error)

	// UpdatePassword replaces the stored password record
	UpdatePassword(ctx context.Context, userID string, passwordHash string) error
}
