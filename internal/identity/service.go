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
	"log/slog"
	"strings"

	"github.com/opentrusty/scoreguard/internal/credential"
	"github.com/opentrusty/scoreguard/internal/id"
	"github.com/opentrusty/scoreguard/internal/observability/logger"
)

// MinPasswordLength is the shortest password accepted for new credentials.
const MinPasswordLength = 8

// ProvisionRequest describes a new account.
type ProvisionRequest struct {
	Username    string
	DisplayName string
	RoleName    string
	Password    string
	ExternalRef *string
}

// Service provides identity-related business logic
type Service struct {
	repo               UserRepository
	hasher             *credential.Hasher
	lockoutMaxAttempts int
}

// NewService creates a new identity service. A lockoutMaxAttempts of zero
// disables automatic locking.
func NewService(repo UserRepository, hasher *credential.Hasher, lockoutMaxAttempts int) *Service {
	return &Service{
		repo:               repo,
		hasher:             hasher,
		lockoutMaxAttempts: lockoutMaxAttempts,
	}
}

// Hasher returns the credential hasher used for new records.
func (s *Service) Hasher() *credential.Hasher {
	return s.hasher
}

// Provision creates an active account with a password credential.
func (s *Service) Provision(ctx context.Context, req ProvisionRequest) (*User, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || len(username) > 64 {
		return nil, ErrInvalidUsername
	}
	if !isStrongPassword(req.Password) {
		return nil, ErrWeakPassword
	}

	if existing, err := s.repo.GetByUsername(ctx, username); err == nil && existing != nil {
		return nil, ErrUserAlreadyExists
	}

	// Hash before creating the row so a broken hasher leaves no
	// passwordless account behind.
	passwordHash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = username
	}

	user := &User{
		ID:          id.NewUUIDv7(),
		Username:    username,
		DisplayName: displayName,
		RoleName:    req.RoleName,
		Status:      StatusActive,
		ExternalRef: req.ExternalRef,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, ErrUserAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	if err := s.repo.AddCredentials(ctx, &Credentials{UserID: user.ID, PasswordHash: passwordHash}); err != nil {
		return nil, fmt.Errorf("failed to add credentials: %w", err)
	}

	return user, nil
}

// Authenticate checks a username and password.
//
// Unknown users and wrong passwords both yield ErrInvalidCredentials.
// Account status is only revealed once the password has been verified, so
// the status errors cannot be used to probe for usernames.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*User, error) {
	user, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		s.hasher.VerifyDummy(password)
		if !errors.Is(err, ErrUserNotFound) {
			slog.ErrorContext(ctx, "failed to load user for login", logger.Error(err))
		}
		return nil, ErrInvalidCredentials
	}

	credentials, err := s.repo.GetCredentials(ctx, user.ID)
	if err != nil {
		s.hasher.VerifyDummy(password)
		return nil, ErrInvalidCredentials
	}

	if !s.hasher.Verify(password, credentials.PasswordHash) {
		s.recordFailure(ctx, user)
		return nil, ErrInvalidCredentials
	}

	switch user.Status {
	case StatusLocked:
		return nil, ErrAccountLocked
	case StatusDisabled:
		return nil, ErrAccountDisabled
	}

	if user.FailedLoginAttempts > 0 {
		if err := s.repo.ResetLoginFailures(ctx, user.ID); err != nil {
			slog.WarnContext(ctx, "failed to reset login failures", logger.UserID(user.ID), logger.Error(err))
		}
		user.FailedLoginAttempts = 0
	}

	if s.hasher.NeedsRehash(credentials.PasswordHash) {
		s.rehash(ctx, user.ID, password)
	}

	return user, nil
}

// recordFailure bumps the failed attempt counter and locks the account once
// the threshold is reached. The repository applies both in one step, so a
// status changed by an administrator meanwhile is never overwritten.
func (s *Service) recordFailure(ctx context.Context, user *User) {
	if user.Status != StatusActive {
		return
	}
	attempts, status, err := s.repo.RecordLoginFailure(ctx, user.ID, s.lockoutMaxAttempts)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			slog.ErrorContext(ctx, "failed to record login failure", logger.UserID(user.ID), logger.Error(err))
		}
		return
	}
	if status == StatusLocked && user.Status == StatusActive {
		slog.WarnContext(ctx, "account locked after repeated login failures",
			logger.UserID(user.ID),
			logger.Attempts(attempts),
		)
	}
	user.FailedLoginAttempts = attempts
	user.Status = status
}

func (s *Service) rehash(ctx context.Context, userID, password string) {
	newHash, err := s.hasher.Hash(password)
	if err != nil {
		slog.ErrorContext(ctx, "failed to rehash credential", logger.UserID(userID), logger.Error(err))
		return
	}
	if err := s.repo.UpdatePassword(ctx, userID, newHash); err != nil {
		slog.ErrorContext(ctx, "failed to store rehashed credential", logger.UserID(userID), logger.Error(err))
	}
}

// GetUser retrieves a user by ID
func (s *Service) GetUser(ctx context.Context, userID string) (*User, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetByUsername retrieves a user by username
func (s *Service) GetByUsername(ctx context.Context, username string) (*User, error) {
	return s.repo.GetByUsername(ctx, username)
}

// ChangePassword re-verifies the current password before storing a new
// record. Existing sessions are not touched.
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	credentials, err := s.repo.GetCredentials(ctx, userID)
	if err != nil {
		return ErrUserNotFound
	}

	if !s.hasher.Verify(oldPassword, credentials.PasswordHash) {
		return ErrInvalidCredentials
	}

	if !isStrongPassword(newPassword) {
		return ErrWeakPassword
	}

	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	return s.repo.UpdatePassword(ctx, userID, newHash)
}

// SetStatus changes the account status and clears the failed attempt
// counter.
func (s *Service) SetStatus(ctx context.Context, userID string, status Status) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}
	return s.repo.UpdateStatus(ctx, userID, status)
}

// Delete soft-deletes a user.
func (s *Service) Delete(ctx context.Context, userID string) error {
	return s.repo.Delete(ctx, userID)
}

func isStrongPassword(password string) bool {
	return len(password) >= MinPasswordLength
}
