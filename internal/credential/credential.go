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

// Package credential turns plaintext passwords into storage-safe records and
// verifies candidates against them.
//
// The default scheme is a single salted SHA-256 pass encoded as
// "base64(salt)$base64(digest)". Argon2id records, written as
// "$argon2id$v=19$m=...,t=...,p=...$salt$hash", are accepted by Verify
// regardless of the configured scheme so that a deployment can move between
// the two without invalidating stored credentials.
package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

// ErrHashUnavailable means the deployment cannot produce credential records.
// Callers must abort; there is no weaker fallback.
var ErrHashUnavailable = errors.New("credential hashing unavailable")

// ErrInvalidParams is returned by NewHasher for settings that could not
// produce a record.
var ErrInvalidParams = errors.New("invalid credential parameters")

// Scheme names a record format.
type Scheme string

const (
	SchemeSaltedSHA256 Scheme = "salted-sha256"
	SchemeArgon2id     Scheme = "argon2id"
)

// Salt length bounds in bytes.
const (
	MinSaltLength = 16
	MaxSaltLength = 1024
)

const (
	recordSeparator = "$"
	argon2Prefix    = "$argon2id$"
)

// Argon2Params configures the Argon2id scheme.
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	KeyLength   uint32
}

// DefaultArgon2Params mirrors the RFC 9106 second recommended option.
var DefaultArgon2Params = Argon2Params{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 4,
	KeyLength:   32,
}

// Hasher hashes and verifies passwords.
type Hasher struct {
	scheme     Scheme
	saltLength uint32
	argon      Argon2Params
	random     io.Reader

	dummyOnce   sync.Once
	dummyRecord string
}

// NewHasher creates a hasher producing records in the given scheme.
// Salt lengths below MinSaltLength are raised to it; lengths above
// MaxSaltLength are rejected. Zero Argon2 params select the defaults.
func NewHasher(scheme Scheme, saltLength uint32, argon Argon2Params) (*Hasher, error) {
	switch scheme {
	case SchemeSaltedSHA256, SchemeArgon2id:
	default:
		return nil, fmt.Errorf("unknown credential scheme %q", scheme)
	}
	if saltLength < MinSaltLength {
		saltLength = MinSaltLength
	}
	if saltLength > MaxSaltLength {
		return nil, fmt.Errorf("%w: salt length %d exceeds %d", ErrInvalidParams, saltLength, MaxSaltLength)
	}
	if argon == (Argon2Params{}) {
		argon = DefaultArgon2Params
	}
	// argon2.IDKey panics below one pass or one lane.
	if argon.Iterations < 1 || argon.Parallelism < 1 || argon.Memory == 0 || argon.KeyLength == 0 {
		return nil, fmt.Errorf("%w: argon2 m=%d t=%d p=%d len=%d", ErrInvalidParams,
			argon.Memory, argon.Iterations, argon.Parallelism, argon.KeyLength)
	}
	return &Hasher{
		scheme:     scheme,
		saltLength: saltLength,
		argon:      argon,
		random:     rand.Reader,
	}, nil
}

// NewSaltedSHA256 returns a hasher for the default record format.
func NewSaltedSHA256() *Hasher {
	h, _ := NewHasher(SchemeSaltedSHA256, MinSaltLength, DefaultArgon2Params)
	return h
}

// Scheme reports the scheme new records are written in.
func (h *Hasher) Scheme() Scheme {
	return h.scheme
}

// Hash returns a fresh record for password. Every call draws a new salt.
func (h *Hasher) Hash(password string) (string, error) {
	salt := make([]byte, h.saltLength)
	if _, err := io.ReadFull(h.random, salt); err != nil {
		return "", fmt.Errorf("%w: failed to generate salt: %v", ErrHashUnavailable, err)
	}

	if h.scheme == SchemeArgon2id {
		return h.hashArgon2(password, salt), nil
	}

	digest := saltedDigest(salt, password)
	return base64.StdEncoding.EncodeToString(salt) + recordSeparator +
		base64.StdEncoding.EncodeToString(digest), nil
}

// Verify reports whether password matches record. Malformed records never
// match.
func (h *Hasher) Verify(password, record string) bool {
	if strings.HasPrefix(record, argon2Prefix) {
		return verifyArgon2(password, record)
	}

	parts := strings.Split(record, recordSeparator)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return false
	}
	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}
	expected, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil || len(expected) != sha256.Size {
		return false
	}

	actual := saltedDigest(salt, password)
	return subtle.ConstantTimeCompare(actual, expected) == 1
}

// NeedsRehash reports whether record was written in a scheme other than the
// configured one.
func (h *Hasher) NeedsRehash(record string) bool {
	return SchemeOf(record) != h.scheme
}

// VerifyDummy runs a verification against a throwaway record so that a
// lookup miss costs about as much as a password mismatch.
func (h *Hasher) VerifyDummy(password string) {
	h.dummyOnce.Do(func() {
		record, err := h.Hash("scoreguard-dummy-credential")
		if err != nil {
			return
		}
		h.dummyRecord = record
	})
	_ = h.Verify(password, h.dummyRecord)
}

// SchemeOf returns the scheme a record was written in. Unrecognised records
// report the default scheme; Verify rejects them anyway.
func SchemeOf(record string) Scheme {
	if strings.HasPrefix(record, argon2Prefix) {
		return SchemeArgon2id
	}
	return SchemeSaltedSHA256
}

func saltedDigest(salt []byte, password string) []byte {
	buf := make([]byte, 0, len(salt)+len(password))
	buf = append(buf, salt...)
	buf = append(buf, password...)
	sum := sha256.Sum256(buf)
	return sum[:]
}

func (h *Hasher) hashArgon2(password string, salt []byte) string {
	key := argon2.IDKey(
		[]byte(password),
		salt,
		h.argon.Iterations,
		h.argon.Memory,
		h.argon.Parallelism,
		h.argon.KeyLength,
	)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.argon.Memory,
		h.argon.Iterations,
		h.argon.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)
}

// verifyArgon2 parses "$argon2id$v=19$m=65536,t=3,p=4$salt$hash".
func verifyArgon2(password, record string) bool {
	sections := strings.Split(strings.TrimPrefix(record, recordSeparator), recordSeparator)
	if len(sections) != 5 || sections[0] != string(SchemeArgon2id) {
		return false
	}

	var version int
	if _, err := fmt.Sscanf(sections[1], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(sections[2], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false
	}
	if iterations == 0 || parallelism == 0 || memory == 0 {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(sections[3])
	if err != nil || len(salt) == 0 {
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(sections[4])
	if err != nil || len(expected) == 0 {
		return false
	}

	actual := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(expected)))
	return subtle.ConstantTimeCompare(actual, expected) == 1
}
