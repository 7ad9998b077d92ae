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

// Package rbac decides whether a principal may perform an operation, based
// on a catalog of roles with inherited permission sets.
package rbac

import (
	"errors"
	"maps"
	"slices"

	"github.com/opentrusty/scoreguard/internal/identity"
)

// Domain errors
var (
	ErrCyclicRoleHierarchy = errors.New("cyclic role hierarchy")
	ErrUnknownRole         = errors.New("unknown role")
	ErrUnknownPermission   = errors.New("unknown permission")
	ErrDuplicateRole       = errors.New("duplicate role")
	ErrInvalidRole         = errors.New("invalid role")
)

// Wildcard grants every permission to the role holding it.
const Wildcard = "*"

// Deny reasons
const (
	ReasonUnauthenticated   = "unauthenticated"
	ReasonAccountLocked     = "account_locked"
	ReasonAccountDisabled   = "account_disabled"
	ReasonAccountInactive   = "account_inactive"
	ReasonUnknownRole       = "unknown_role"
	ReasonCyclicHierarchy   = "cyclic_role_hierarchy"
	ReasonMissingPermission = "missing_permission"
	ReasonInsufficientLevel = "insufficient_level"
)

// Permission is an atomic capability code.
type Permission struct {
	Code        string
	Description string
}

// Role is a named bundle of permissions. Level orders roles by privilege and
// Parent, when set, names the role whose permissions are inherited.
type Role struct {
	Name        string
	Level       int
	Permissions []string
	Parent      string
	Description string
}

// PermissionSet is a resolved set of permission codes.
type PermissionSet map[string]struct{}

// Has reports whether code is in the set, honouring the wildcard.
func (s PermissionSet) Has(code string) bool {
	if _, ok := s[Wildcard]; ok {
		return true
	}
	_, ok := s[code]
	return ok
}

// Sorted returns the codes in lexical order.
func (s PermissionSet) Sorted() []string {
	return slices.Sorted(maps.Keys(s))
}

// Principal is an authenticated caller as seen by the engine.
type Principal struct {
	UserID   string
	Username string
	Role     string
	Status   identity.Status
}

// Decision is the result of an authorization check. Anomaly is set when the
// deny came from a misconfigured catalog rather than from the caller.
type Decision struct {
	Allowed bool
	Reason  string
	Anomaly error
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason string) Decision {
	return Decision{Reason: reason}
}

// CheckStatus allows active principals only.
func CheckStatus(p *Principal) Decision {
	if p == nil {
		return deny(ReasonUnauthenticated)
	}
	switch p.Status {
	case identity.StatusActive:
		return allow()
	case identity.StatusLocked:
		return deny(ReasonAccountLocked)
	case identity.StatusDisabled:
		return deny(ReasonAccountDisabled)
	default:
		return deny(ReasonAccountInactive)
	}
}
