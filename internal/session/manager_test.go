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
	"testing"
	"time"
)

// TestPurpose: Validates the single-active-session invariant: a second login for the same user invalidates the first token.
// Scope: Unit Test
// Security: Session fixation / concurrent session prevention
// Expected: First token no longer resolves; second token resolves to the user.
// Test Case ID: SES-01
func TestManager_Issue_SupersedesPriorToken(t *testing.T) {
	ctx := context.Background()
	m := NewManager()

	first, err := m.Issue(ctx, "user-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	second, err := m.Issue(ctx, "user-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if first.Token == second.Token {
		t.Fatal("re-issue returned the same token")
	}
	if m.IsValid(ctx, first.Token) {
		t.Error("first token still valid after re-issue")
	}
	if _, err := m.Resolve(ctx, first.Token); err != ErrSessionNotFound {
		t.Errorf("expected ErrSessionNotFound for superseded token, got %v", err)
	}
	got, err := m.Resolve(ctx, second.Token)
	if err != nil {
		t.Fatalf("Resolve second: %v", err)
	}
	if got.UserID != "user-1" {
		t.Errorf("expected user-1, got %s", got.UserID)
	}
	if m.Len() != 1 {
		t.Errorf("expected 1 live token, got %d", m.Len())
	}
}

// TestPurpose: Validates that revoked tokens stop resolving and that revoking unknown tokens is harmless.
// Scope: Unit Test
// Security: Logout correctness (idempotent)
// Expected: Resolve after Revoke fails; Revoke of unknown token returns nil.
// Test Case ID: SES-02
func TestManager_Revoke(t *testing.T) {
	ctx := context.Background()
	m := NewManager()

	sess, _ := m.Issue(ctx, "user-1")
	if err := m.Revoke(ctx, sess.Token); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := m.Resolve(ctx, sess.Token); err != ErrSessionNotFound {
		t.Errorf("expected ErrSessionNotFound after revoke, got %v", err)
	}
	if err := m.Revoke(ctx, sess.Token); err != nil {
		t.Errorf("second Revoke should be a no-op, got %v", err)
	}
	if err := m.Revoke(ctx, "never-issued"); err != nil {
		t.Errorf("Revoke of unknown token should be a no-op, got %v", err)
	}

	// A fresh login after logout works normally.
	next, _ := m.Issue(ctx, "user-1")
	if !m.IsValid(ctx, next.Token) {
		t.Error("token issued after logout is not valid")
	}
}

func TestManager_Issue_RequiresUserID(t *testing.T) {
	if _, err := NewManager().Issue(context.Background(), ""); err != ErrInvalidUserID {
		t.Errorf("expected ErrInvalidUserID, got %v", err)
	}
}

func TestManager_Resolve_EmptyToken(t *testing.T) {
	if NewManager().IsValid(context.Background(), "") {
		t.Error("empty token must not be valid")
	}
}

func TestManager_RevokeUser(t *testing.T) {
	ctx := context.Background()
	m := NewManager()

	a, _ := m.Issue(ctx, "user-a")
	b, _ := m.Issue(ctx, "user-b")

	if err := m.RevokeUser(ctx, "user-a"); err != nil {
		t.Fatal(err)
	}
	if m.IsValid(ctx, a.Token) {
		t.Error("user-a token survived RevokeUser")
	}
	if !m.IsValid(ctx, b.Token) {
		t.Error("RevokeUser touched an unrelated user")
	}
}

// TestPurpose: Validates that concurrent logins for the same user leave exactly one valid token and consistent mappings.
// Scope: Unit Test
// Security: Race-free single session enforcement
// Expected: Exactly one of the issued tokens resolves afterwards.
// Test Case ID: SES-03
func TestManager_Issue_ConcurrentSameUser(t *testing.T) {
	ctx := context.Background()
	m := NewManager(WithStripes(4))

	const workers = 32
	tokens := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, err := m.Issue(ctx, "user-1")
			if err != nil {
				t.Error(err)
				return
			}
			tokens[i] = sess.Token
		}(i)
	}
	wg.Wait()

	valid := 0
	for _, tok := range tokens {
		if m.IsValid(ctx, tok) {
			valid++
		}
	}
	if valid != 1 {
		t.Errorf("expected exactly one valid token, got %d", valid)
	}
	if m.Len() != 1 {
		t.Errorf("expected one entry in token map, got %d", m.Len())
	}
}

func TestManager_Concurrent_IssueRevokeResolve(t *testing.T) {
	ctx := context.Background()
	m := NewManager()

	var wg sync.WaitGroup
	for _, user := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				sess, err := m.Issue(ctx, user)
				if err != nil {
					t.Error(err)
					return
				}
				// Each goroutine owns its user, so a fresh token must resolve.
				if _, err := m.Resolve(ctx, sess.Token); err != nil {
					t.Errorf("fresh token for %s did not resolve", user)
				}
				if i%3 == 0 {
					_ = m.Revoke(ctx, sess.Token)
				}
			}
		}(user)
	}
	wg.Wait()

	if m.Len() > 4 {
		t.Errorf("expected at most one token per user, got %d", m.Len())
	}
}

// TestPurpose: Validates that a TTL policy expires sessions without refreshing them on use and that the sweep removes them.
// Scope: Unit Test
// Security: Optional session lifetime hardening
// Expected: Session resolves before expiry, not after; CleanupExpired removes it.
// Test Case ID: SES-04
func TestManager_TTLPolicy(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	m := NewManager(
		WithExpiryPolicy(PolicyFor(30*time.Minute)),
		WithClock(func() time.Time { return now }),
	)

	sess, _ := m.Issue(ctx, "user-1")
	if sess.ExpiresAt == nil || !sess.ExpiresAt.Equal(now.Add(30*time.Minute)) {
		t.Fatalf("unexpected expiry %v", sess.ExpiresAt)
	}

	now = now.Add(29 * time.Minute)
	if !m.IsValid(ctx, sess.Token) {
		t.Error("session expired early")
	}

	now = now.Add(time.Minute)
	if m.IsValid(ctx, sess.Token) {
		t.Error("session still valid at expiry")
	}

	removed, err := m.CleanupExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 || m.Len() != 0 {
		t.Errorf("expected 1 removed and empty manager, got removed=%d len=%d", removed, m.Len())
	}
}

func TestManager_NoExpiryByDefault(t *testing.T) {
	ctx := context.Background()
	m := NewManager()
	sess, _ := m.Issue(ctx, "user-1")
	if sess.ExpiresAt != nil {
		t.Errorf("expected no expiry, got %v", sess.ExpiresAt)
	}
	removed, _ := m.CleanupExpired(ctx)
	if removed != 0 || !m.IsValid(ctx, sess.Token) {
		t.Error("cleanup must not remove non-expiring sessions")
	}
}

func TestPolicyFor(t *testing.T) {
	if _, ok := PolicyFor(0).(NoExpiry); !ok {
		t.Error("zero lifetime should map to NoExpiry")
	}
	if p, ok := PolicyFor(time.Hour).(TTL); !ok || p.Lifetime != time.Hour {
		t.Error("positive lifetime should map to TTL")
	}
}

func BenchmarkManager_Resolve(b *testing.B) {
	ctx := context.Background()
	m := NewManager()
	sess, _ := m.Issue(ctx, "user-1")

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := m.Resolve(ctx, sess.Token); err != nil {
				b.Fatal(err)
			}
		}
	})
}
