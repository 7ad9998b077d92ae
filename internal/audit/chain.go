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

package audit

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"slices"
	"strconv"
	"time"
)

// HMACKeySize is the required chain key length in bytes.
const HMACKeySize = 32

// Chain links entries with HMAC-SHA256: every hash covers the entry fields
// and the hash of its predecessor, so edits, deletions and reordering of
// stored entries break verification from that point on.
type Chain struct {
	key []byte
}

// NewChain creates a chain sealed with key.
func NewChain(key []byte) (*Chain, error) {
	if len(key) != HMACKeySize {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrInvalidHMACKey, HMACKeySize, len(key))
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Chain{key: k}, nil
}

// ParseHMACKey decodes a hex-encoded chain key.
func ParseHMACKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHMACKey, err)
	}
	if len(key) != HMACKeySize {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrInvalidHMACKey, HMACKeySize, len(key))
	}
	return key, nil
}

// GenerateHMACKey returns a random chain key.
func GenerateHMACKey() ([]byte, error) {
	key := make([]byte, HMACKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate audit key: %w", err)
	}
	return key, nil
}

// Seal assigns seq and prevHash to e and computes its hash.
func (c *Chain) Seal(e *Entry, seq int64, prevHash string) {
	e.Seq = seq
	e.PrevHash = prevHash
	e.Hash = c.Compute(e)
}

// Compute returns the hex HMAC of e, ignoring e.Hash.
func (c *Chain) Compute(e *Entry) string {
	mac := hmac.New(sha256.New, c.key)
	writeField(mac, strconv.FormatInt(e.Seq, 10))
	writeField(mac, e.Timestamp.UTC().Format(time.RFC3339Nano))
	writeField(mac, e.ActorID)
	writeField(mac, e.Operation)
	writeField(mac, e.Description)
	writeField(mac, string(e.Outcome))
	writeField(mac, e.Reason)

	keys := make([]string, 0, len(e.Metadata))
	for k := range e.Metadata {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	writeField(mac, strconv.Itoa(len(keys)))
	for _, k := range keys {
		writeField(mac, k)
		writeField(mac, e.Metadata[k])
	}

	writeField(mac, e.PrevHash)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks entries given in ascending Seq order. The first entry's
// PrevHash is taken as given, which allows verifying a suffix of the log.
func (c *Chain) Verify(entries []Entry) error {
	for i := range entries {
		e := &entries[i]
		if i > 0 {
			prev := &entries[i-1]
			if e.Seq != prev.Seq+1 {
				return fmt.Errorf("%w: gap between seq %d and %d", ErrChainBroken, prev.Seq, e.Seq)
			}
			if e.PrevHash != prev.Hash {
				return fmt.Errorf("%w: seq %d does not link to its predecessor", ErrChainBroken, e.Seq)
			}
		}
		if !hmac.Equal([]byte(c.Compute(e)), []byte(e.Hash)) {
			return fmt.Errorf("%w: seq %d hash mismatch", ErrChainBroken, e.Seq)
		}
	}
	return nil
}

// Pager returns up to limit entries with Seq greater than after, oldest
// first.
type Pager func(ctx context.Context, after int64, limit int) ([]Entry, error)

// VerifyAll walks the stored chain from its first entry, batch entries at a
// time, and reports how many entries verified. The first entry must have
// Seq 1 and an empty PrevHash.
func (c *Chain) VerifyAll(ctx context.Context, page Pager, batch int) (int, error) {
	if batch <= 0 {
		batch = 500
	}

	var (
		last    *Entry
		checked int
	)
	for {
		var after int64
		if last != nil {
			after = last.Seq
		}
		entries, err := page(ctx, after, batch)
		if err != nil {
			return checked, fmt.Errorf("failed to read audit entries: %w", err)
		}
		if len(entries) == 0 {
			return checked, nil
		}

		window := entries
		if last == nil {
			if first := entries[0]; first.Seq != 1 || first.PrevHash != "" {
				return checked, fmt.Errorf("%w: chain does not start at seq 1", ErrChainBroken)
			}
		} else {
			window = append([]Entry{*last}, entries...)
		}
		if err := c.Verify(window); err != nil {
			return checked, err
		}

		checked += len(entries)
		tail := entries[len(entries)-1]
		last = &tail
	}
}

// VerifyChain checks entries with key. See Chain.Verify.
func VerifyChain(entries []Entry, key []byte) error {
	c, err := NewChain(key)
	if err != nil {
		return err
	}
	return c.Verify(entries)
}

// writeField length-prefixes v so that no two field sequences share an
// encoding.
func writeField(h hash.Hash, v string) {
	h.Write([]byte(strconv.Itoa(len(v))))
	h.Write([]byte{':'})
	h.Write([]byte(v))
}
