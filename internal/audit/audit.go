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

// Package audit keeps an append-only, hash-chained record of privileged
// operations and authorization decisions.
package audit

import (
	"context"
	"errors"
	"time"
)

// Domain errors
var (
	ErrLogClosed        = errors.New("audit log is closed")
	ErrQueryUnsupported = errors.New("audit sink does not support queries")
	ErrChainBroken      = errors.New("audit chain broken")
	ErrInvalidHMACKey   = errors.New("invalid audit hmac key")
	ErrEmptyOperation   = errors.New("audit operation is required")
	ErrUnknownOutcome   = errors.New("unknown audit outcome")
)

// Outcome of an audited operation.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	return o == OutcomeSuccess || o == OutcomeFailure
}

// Operation codes
const (
	OpLogin          = "auth.login"
	OpLogout         = "auth.logout"
	OpPasswordChange = "user.change_password"
	OpUserProvision  = "user.provision"
	OpUserStatus     = "user.set_status"
	OpAuditQuery     = "audit.query"
	OpBootstrap      = "system.bootstrap"
	OpRoleList       = "rbac.list_roles"
)

// Metadata keys
const (
	AttrUsername  = "username"
	AttrIPAddress = "ip_address"
	AttrUserAgent = "user_agent"
	AttrRole      = "role"
	AttrTargetID  = "target_user_id"
	AttrStatus    = "status"
)

// Entry is one audit record. Seq, PrevHash and Hash are assigned by the Log
// when the entry reaches the sink; callers fill in the rest.
type Entry struct {
	Seq         int64
	Timestamp   time.Time
	ActorID     string // empty for anonymous callers
	Operation   string
	Description string
	Outcome     Outcome
	Reason      string
	Metadata    map[string]string
	PrevHash    string
	Hash        string
}

// Anonymous reports whether the entry has no attributable actor.
func (e *Entry) Anonymous() bool {
	return e.ActorID == ""
}

// Recorder appends audit entries.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// Sink is the storage boundary of the log. It only ever appends.
type Sink interface {
	Append(ctx context.Context, entry Entry) error
}

// Reader answers audit queries. Sinks that keep entries implement it.
type Reader interface {
	Query(ctx context.Context, filter Filter) ([]Entry, error)
}

// ChainHead is implemented by durable sinks so a restarted log continues the
// existing chain instead of starting a new one.
type ChainHead interface {
	Head(ctx context.Context) (seq int64, hash string, err error)
}

// Filter selects entries. Zero fields do not filter.
type Filter struct {
	ActorID   string
	Operation string
	Outcome   Outcome
	From      time.Time
	To        time.Time
	Limit     int
}

// Matches reports whether e passes the filter.
func (f Filter) Matches(e *Entry) bool {
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.Operation != "" && e.Operation != f.Operation {
		return false
	}
	if f.Outcome != "" && e.Outcome != f.Outcome {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	return true
}

// Observer is notified of entries the log could not persist.
type Observer interface {
	EntryDropped(ctx context.Context)
	WriteFailed(ctx context.Context, err error)
}

type noopObserver struct{}

func (noopObserver) EntryDropped(context.Context) {}
func (noopObserver) WriteFailed(context.Context, error) {}
