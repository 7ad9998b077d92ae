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

package credential

import (
	"errors"
	"strings"
	"testing"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy source closed") }

// TestPurpose: Validates that a freshly hashed password verifies and that hashing the same password twice never yields the same record.
// Scope: Unit Test
// Security: Salted storage (prevents rainbow-table correlation across users)
// Expected: Verify succeeds for the original password; records differ.
// Test Case ID: CRD-01
func TestHasher_HashVerify_RoundTrip(t *testing.T) {
	h := NewSaltedSHA256()

	for _, password := range []string{"Admin123", "", "päßwörd", strings.Repeat("x", 512)} {
		first, err := h.Hash(password)
		if err != nil {
			t.Fatalf("Hash(%q): %v", password, err)
		}
		second, err := h.Hash(password)
		if err != nil {
			t.Fatalf("Hash(%q): %v", password, err)
		}

		if first == second {
			t.Errorf("two records for %q are equal: %s", password, first)
		}
		if !h.Verify(password, first) || !h.Verify(password, second) {
			t.Errorf("Verify(%q) = false for its own record", password)
		}
		if parts := strings.Split(first, "$"); len(parts) != 2 {
			t.Errorf("record %q is not salt$digest", first)
		}
	}
}

// TestPurpose: Validates that a different password does not verify against a stored record.
// Scope: Unit Test
// Security: Credential verification correctness
// Expected: Verify returns false.
// Test Case ID: CRD-02
func TestHasher_Verify_WrongPassword(t *testing.T) {
	h := NewSaltedSHA256()
	record, err := h.Hash("Teacher2024")
	if err != nil {
		t.Fatal(err)
	}
	if h.Verify("teacher2024", record) {
		t.Error("Verify accepted a different password")
	}
}

// TestPurpose: Validates that corrupt stored records are rejected without panicking.
// Scope: Unit Test
// Security: Fail closed on malformed credential records
// Expected: Verify returns false for each malformed input.
// Test Case ID: CRD-03
func TestHasher_Verify_MalformedRecords(t *testing.T) {
	h := NewSaltedSHA256()
	records := []string{
		"",
		"no-delimiter",
		"$",
		"a$b$c",
		"!!!$AAAA",
		"c2FsdA==$!!!",
		"c2FsdA==$c2hvcnQ=",
		"$argon2id$v=19$m=0,t=0,p=0$AAAA$AAAA",
		"$argon2id$v=19$garbage",
		"$argon2id$v=18$m=8,t=1,p=1$c2FsdHNhbHQ$AAAA",
	}
	for _, record := range records {
		if h.Verify("Admin123", record) {
			t.Errorf("Verify accepted malformed record %q", record)
		}
	}
}

// TestPurpose: Validates that a broken entropy source aborts hashing instead of producing a weaker record.
// Scope: Unit Test
// Security: No silent downgrade when the hash primitive is unavailable
// Expected: Hash returns ErrHashUnavailable.
// Test Case ID: CRD-04
func TestHasher_Hash_EntropyFailure(t *testing.T) {
	h := NewSaltedSHA256()
	h.random = failingReader{}

	record, err := h.Hash("Admin123")
	if !errors.Is(err, ErrHashUnavailable) {
		t.Fatalf("expected ErrHashUnavailable, got %v", err)
	}
	if record != "" {
		t.Errorf("expected empty record, got %q", record)
	}
}

// TestPurpose: Validates that Argon2id records are produced when configured and remain verifiable by a salted-SHA256 hasher.
// Scope: Unit Test
// Security: Scheme migration without credential loss
// Expected: Both hashers verify the Argon2id record; NeedsRehash reflects the configured scheme.
// Test Case ID: CRD-05
func TestHasher_Argon2id_CrossVerify(t *testing.T) {
	argon, err := NewHasher(SchemeArgon2id, 16, Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, KeyLength: 32})
	if err != nil {
		t.Fatal(err)
	}
	record, err := argon.Hash("Admin123")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(record, "$argon2id$") {
		t.Fatalf("unexpected record format %q", record)
	}

	sha := NewSaltedSHA256()
	if !sha.Verify("Admin123", record) || !argon.Verify("Admin123", record) {
		t.Error("argon2id record did not verify")
	}
	if sha.Verify("admin123", record) {
		t.Error("argon2id record verified a wrong password")
	}
	if !sha.NeedsRehash(record) {
		t.Error("salted-sha256 hasher should want to rehash an argon2id record")
	}
	if argon.NeedsRehash(record) {
		t.Error("argon2id hasher should not rehash its own record")
	}
}

func TestNewHasher_UnknownScheme(t *testing.T) {
	if _, err := NewHasher("md5", 16, DefaultArgon2Params); err == nil {
		t.Error("expected error for unknown scheme")
	}
}

// TestPurpose: Validates that hashing parameters that would panic or exhaust memory are rejected up front.
// Scope: Unit Test
// Security: Availability of credential hashing
// Expected: NewHasher returns ErrInvalidParams instead of building a hasher that fails on first use.
// Test Case ID: CRD-06
func TestNewHasher_InvalidParams(t *testing.T) {
	cases := map[string]struct {
		salt  uint32
		argon Argon2Params
	}{
		"zero parallelism": {16, Argon2Params{Memory: 64 * 1024, Iterations: 3, Parallelism: 0, KeyLength: 32}},
		"zero iterations":  {16, Argon2Params{Memory: 64 * 1024, Iterations: 0, Parallelism: 4, KeyLength: 32}},
		"zero memory":      {16, Argon2Params{Memory: 0, Iterations: 3, Parallelism: 4, KeyLength: 32}},
		"oversized salt":   {MaxSaltLength + 1, DefaultArgon2Params},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewHasher(SchemeArgon2id, tc.salt, tc.argon)
			if !errors.Is(err, ErrInvalidParams) {
				t.Errorf("NewHasher error = %v, want ErrInvalidParams", err)
			}
		})
	}

	h, err := NewHasher(SchemeArgon2id, 0, Argon2Params{})
	if err != nil {
		t.Fatalf("zero params should select defaults: %v", err)
	}
	if _, err := h.Hash("correct horse"); err != nil {
		t.Errorf("Hash with default params: %v", err)
	}
}

func TestHasher_VerifyDummy(t *testing.T) {
	h := NewSaltedSHA256()
	h.VerifyDummy("anything")
	if h.dummyRecord == "" {
		t.Error("dummy record was not initialised")
	}
}

func BenchmarkHasher_Hash(b *testing.B) {
	h := NewSaltedSHA256()
	for i := 0; i < b.N; i++ {
		if _, err := h.Hash("correct-horse-battery-staple"); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkHasher_Verify(b *testing.B) {
	h := NewSaltedSHA256()
	record, _ := h.Hash("correct-horse-battery-staple")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if !h.Verify("correct-horse-battery-staple", record) {
			b.Fatal("verify failed")
		}
	}
}
