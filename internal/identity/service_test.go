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
	"sync"
	"testing"

	"github.com/opentrusty/scoreguard/internal/audit"
	"github.com/opentrusty/scoreguard/internal/credential"
)

const testPassword = "SecurePassword123"

func newTestService(t *testing.T, lockout int) (*Service, *MemoryRepository) {
	t.Helper()
	repo := NewMemoryRepository()
	return NewService(repo, credential.NewSaltedSHA256(), lockout), repo
}

func provision(t *testing.T, s *Service, username, role string) *User {
	t.Helper()
	user, err := s.Provision(context.Background(), ProvisionRequest{
		Username: username,
		RoleName: role,
		Password: testPassword,
	})
	if err != nil {
		t.Fatalf("failed to provision: %v", err)
	}
	return user
}

// TestPurpose: Validates the user authentication flow, including success, failure, and account lockout after multiple failed attempts.
// Scope: Unit Test
// Security: Authentication mechanisms and Brute-force protection (lockout)
// Expected: Successful login for correct credentials, error for wrong credentials, and account lockout after the configured threshold.
// Test Case ID: IDN-01
func TestIdentity_Service_Authenticate(t *testing.T) {
	s, repo := newTestService(t, 3)
	ctx := context.Background()

	user := provision(t, s, "alice", "TEACHER")

	// 1. Successful login
	got, err := s.Authenticate(ctx, "alice", testPassword)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if got.ID != user.ID || got.RoleName != "TEACHER" {
		t.Errorf("unexpected user %+v", got)
	}

	// 2. Wrong password, below the threshold
	for i := 0; i < 2; i++ {
		if _, err := s.Authenticate(ctx, "alice", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}
	}
	stored, _ := repo.GetByID(ctx, user.ID)
	if stored.FailedLoginAttempts != 2 || stored.Status != StatusActive {
		t.Fatalf("expected 2 failures and active status, got %d/%s", stored.FailedLoginAttempts, stored.Status)
	}

	// 3. Third failure locks the account
	if _, err := s.Authenticate(ctx, "alice", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	stored, _ = repo.GetByID(ctx, user.ID)
	if stored.Status != StatusLocked {
		t.Fatalf("expected locked status, got %s", stored.Status)
	}

	// 4. Correct password on a locked account
	if _, err := s.Authenticate(ctx, "alice", testPassword); !errors.Is(err, ErrAccountLocked) {
		t.Errorf("expected ErrAccountLocked, got %v", err)
	}

	// 5. Unlock restores access and clears the counter
	if err := s.SetStatus(ctx, user.ID, StatusActive); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Authenticate(ctx, "alice", testPassword); err != nil {
		t.Errorf("expected success after unlock, got %v", err)
	}
}

// TestPurpose: Validates that unknown users and wrong passwords are indistinguishable and that account status is only revealed after the password is verified.
// Scope: Unit Test
// Security: User enumeration prevention (CWE-204)
// Expected: ErrInvalidCredentials for unknown users and wrong passwords on disabled accounts; ErrAccountDisabled only with the correct password.
// Test Case ID: IDN-02
func TestIdentity_Service_Authenticate_NoEnumeration(t *testing.T) {
	s, _ := newTestService(t, 0)
	ctx := context.Background()

	user := provision(t, s, "bob", "STUDENT")
	if err := s.SetStatus(ctx, user.ID, StatusDisabled); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Authenticate(ctx, "nobody", testPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user: expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := s.Authenticate(ctx, "bob", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("disabled + wrong password: expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := s.Authenticate(ctx, "bob", testPassword); !errors.Is(err, ErrAccountDisabled) {
		t.Errorf("disabled + right password: expected ErrAccountDisabled, got %v", err)
	}
}

func TestIdentity_Service_LockoutDisabled(t *testing.T) {
	s, repo := newTestService(t, 0)
	ctx := context.Background()
	user := provision(t, s, "carol", "STUDENT")

	for i := 0; i < 10; i++ {
		_, _ = s.Authenticate(ctx, "carol", "wrong-password")
	}
	stored, _ := repo.GetByID(ctx, user.ID)
	if stored.Status != StatusActive {
		t.Errorf("lockout disabled but status is %s", stored.Status)
	}
}

// TestPurpose: Validates account provisioning rules.
// Scope: Unit Test
// Security: Credential policy and uniqueness
// Expected: Weak passwords, blank usernames and duplicates are rejected; stored record is salted and never the plaintext.
// Test Case ID: IDN-03
func TestIdentity_Service_Provision(t *testing.T) {
	s, repo := newTestService(t, 0)
	ctx := context.Background()

	user := provision(t, s, "  dave  ", "TEACHER")
	if user.Username != "dave" || user.DisplayName != "dave" || user.Status != StatusActive {
		t.Errorf("unexpected provisioned user %+v", user)
	}
	if user.ID == "" {
		t.Error("expected generated id")
	}

	creds, err := repo.GetCredentials(ctx, user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if creds.PasswordHash == testPassword || credential.SchemeOf(creds.PasswordHash) != credential.SchemeSaltedSHA256 {
		t.Errorf("unexpected stored record %q", creds.PasswordHash)
	}

	tests := []struct {
		name string
		req  ProvisionRequest
		err  error
	}{
		{"duplicate", ProvisionRequest{Username: "dave", Password: testPassword}, ErrUserAlreadyExists},
		{"blank username", ProvisionRequest{Username: "   ", Password: testPassword}, ErrInvalidUsername},
		{"weak password", ProvisionRequest{Username: "erin", Password: "short"}, ErrWeakPassword},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Provision(ctx, tt.req); !errors.Is(err, tt.err) {
				t.Errorf("expected %v, got %v", tt.err, err)
			}
		})
	}
}

func TestIdentity_Service_ChangePassword(t *testing.T) {
	s, _ := newTestService(t, 0)
	ctx := context.Background()
	user := provision(t, s, "frank", "TEACHER")

	if err := s.ChangePassword(ctx, user.ID, "not-my-password", "NewPassword456"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := s.ChangePassword(ctx, user.ID, testPassword, "short"); !errors.Is(err, ErrWeakPassword) {
		t.Errorf("expected ErrWeakPassword, got %v", err)
	}
	if err := s.ChangePassword(ctx, user.ID, testPassword, "NewPassword456"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	if _, err := s.Authenticate(ctx, "frank", testPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Error("old password still accepted")
	}
	if _, err := s.Authenticate(ctx, "frank", "NewPassword456"); err != nil {
		t.Errorf("new password rejected: %v", err)
	}
}

func TestIdentity_Service_RehashOnLogin(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	legacy := NewService(repo, credential.NewSaltedSHA256(), 0)
	user := provision(t, legacy, "grace", "STUDENT")

	argon, err := credential.NewHasher(credential.SchemeArgon2id, 16, credential.Argon2Params{
		Memory: 1024, Iterations: 1, Parallelism: 1, KeyLength: 32,
	})
	if err != nil {
		t.Fatal(err)
	}
	upgraded := NewService(repo, argon, 0)
	if _, err := upgraded.Authenticate(ctx, "grace", testPassword); err != nil {
		t.Fatalf("legacy record rejected: %v", err)
	}

	creds, _ := repo.GetCredentials(ctx, user.ID)
	if credential.SchemeOf(creds.PasswordHash) != credential.SchemeArgon2id {
		t.Errorf("record not upgraded: %q", creds.PasswordHash)
	}
	if _, err := upgraded.Authenticate(ctx, "grace", testPassword); err != nil {
		t.Errorf("upgraded record rejected: %v", err)
	}
}

func TestIdentity_Service_DeleteIsSoft(t *testing.T) {
	s, repo := newTestService(t, 0)
	ctx := context.Background()
	user := provision(t, s, "heidi", "STUDENT")

	if err := s.Delete(ctx, user.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetUser(ctx, user.ID); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
	if _, err := s.Authenticate(ctx, "heidi", testPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("deleted user authenticated: %v", err)
	}
	// The record is retained for audit history.
	repo.mu.RLock()
	_, kept := repo.users[user.ID]
	repo.mu.RUnlock()
	if !kept {
		t.Error("soft delete removed the row")
	}
}

func TestIdentity_Service_SetStatus_Invalid(t *testing.T) {
	s, _ := newTestService(t, 0)
	user := provision(t, s, "ivan", "STUDENT")
	if err := s.SetStatus(context.Background(), user.ID, Status("frozen")); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
}

// TestPurpose: Validates that concurrent wrong-password attempts are all counted and lock the account at the threshold.
// Scope: Unit Test
// Security: Brute-force protection under parallel guessing
// Expected: After 20 parallel failures with a threshold of 5 the account is locked with exactly 5 recorded attempts.
// Test Case ID: IDN-05
func TestIdentity_Service_ConcurrentFailuresLock(t *testing.T) {
	s, repo := newTestService(t, 5)
	ctx := context.Background()
	user := provision(t, s, "mallory", "STUDENT")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Authenticate(ctx, "mallory", "wrong-password")
		}()
	}
	wg.Wait()

	stored, err := repo.GetByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("failed to load user: %v", err)
	}
	if stored.Status != StatusLocked {
		t.Errorf("expected locked after parallel failures, got %s", stored.Status)
	}
	if stored.FailedLoginAttempts != 5 {
		t.Errorf("expected 5 counted failures, got %d", stored.FailedLoginAttempts)
	}
}

// TestPurpose: Validates that a login failure racing an administrative status change cannot re-enable the account.
// Scope: Unit Test
// Security: Account deactivation is final until an administrator reverses it
// Expected: A failure recorded against a stale active snapshot leaves a disabled account disabled.
// Test Case ID: IDN-06
func TestIdentity_Service_FailureKeepsAdminStatus(t *testing.T) {
	s, repo := newTestService(t, 3)
	ctx := context.Background()
	user := provision(t, s, "oscar", "STUDENT")

	stale, err := repo.GetByUsername(ctx, "oscar")
	if err != nil {
		t.Fatalf("failed to load user: %v", err)
	}
	if err := s.SetStatus(ctx, user.ID, StatusDisabled); err != nil {
		t.Fatalf("failed to disable: %v", err)
	}

	s.recordFailure(ctx, stale)

	stored, _ := repo.GetByID(ctx, user.ID)
	if stored.Status != StatusDisabled {
		t.Errorf("expected disabled, got %s", stored.Status)
	}
	if stored.FailedLoginAttempts != 0 {
		t.Errorf("expected no counted failure on a disabled account, got %d", stored.FailedLoginAttempts)
	}
}

type recordingAuditor struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordingAuditor) Record(ctx context.Context, e audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

// TestPurpose: Validates that the default administrator is seeded exactly once and the seeding is audited.
// Scope: Unit Test
// Security: Secure bootstrap / no duplicate privileged accounts
// Expected: First run creates admin and writes one audit entry; second run is a no-op.
// Test Case ID: IDN-04
func TestIdentity_Bootstrap(t *testing.T) {
	s, _ := newTestService(t, 0)
	rec := &recordingAuditor{}
	b := NewBootstrapService(s, rec)
	ctx := context.Background()
	cfg := BootstrapConfig{Username: "admin", Password: "Admin123", RoleName: "ADMIN"}

	created, err := b.Bootstrap(ctx, cfg)
	if err != nil || !created {
		t.Fatalf("expected admin to be created, got created=%v err=%v", created, err)
	}
	user, err := s.Authenticate(ctx, "admin", "Admin123")
	if err != nil {
		t.Fatalf("bootstrap admin cannot log in: %v", err)
	}
	if user.RoleName != "ADMIN" {
		t.Errorf("expected ADMIN role, got %s", user.RoleName)
	}

	created, err = b.Bootstrap(ctx, cfg)
	if err != nil || created {
		t.Errorf("second bootstrap should be a no-op, got created=%v err=%v", created, err)
	}

	if len(rec.entries) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(rec.entries))
	}
	e := rec.entries[0]
	if e.Operation != audit.OpBootstrap || e.Outcome != audit.OutcomeSuccess || e.Metadata[audit.AttrTargetID] != user.ID {
		t.Errorf("unexpected audit entry %+v", e)
	}
}
