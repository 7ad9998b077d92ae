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

package rbac

import (
	"fmt"
	"maps"
	"sync/atomic"
)

// Engine answers authorization questions against the current catalog. It
// performs no I/O and is safe for concurrent use.
type Engine struct {
	catalog atomic.Pointer[Catalog]
}

// NewEngine creates an engine serving c.
func NewEngine(c *Catalog) *Engine {
	e := &Engine{}
	e.catalog.Store(c)
	return e
}

// Catalog returns the catalog currently in use.
func (e *Engine) Catalog() *Catalog {
	return e.catalog.Load()
}

// Reload replaces the catalog. In-flight checks finish on the old one.
func (e *Engine) Reload(c *Catalog) {
	e.catalog.Store(c)
}

// EffectivePermissions returns role's own permissions plus those of every
// ancestor. Misconfigured roles yield an empty set and the anomaly.
func (e *Engine) EffectivePermissions(role string) (PermissionSet, error) {
	set, err := e.catalog.Load().effectiveSet(role)
	return maps.Clone(set), err
}

// Level returns the privilege level of role.
func (e *Engine) Level(role string) (int, bool) {
	r, ok := e.catalog.Load().roles[role]
	return r.Level, ok
}

// Authorize decides whether p may exercise permission.
func (e *Engine) Authorize(p *Principal, permission string) Decision {
	if d := CheckStatus(p); !d.Allowed {
		return d
	}

	set, err := e.catalog.Load().effectiveSet(p.Role)
	if err != nil {
		return Decision{Reason: anomalyReason(err), Anomaly: err}
	}

	if !set.Has(permission) {
		return deny(ReasonMissingPermission)
	}
	return allow()
}

// RequiresRole decides whether p's role level is at least minimumLevel.
func (e *Engine) RequiresRole(p *Principal, minimumLevel int) Decision {
	if d := CheckStatus(p); !d.Allowed {
		return d
	}

	c := e.catalog.Load()
	role, ok := c.roles[p.Role]
	if !ok {
		return Decision{Reason: ReasonUnknownRole, Anomaly: fmt.Errorf("%w: %s", ErrUnknownRole, p.Role)}
	}
	// A role with a broken hierarchy is denied outright, whatever its level.
	if err, bad := c.anomalies[p.Role]; bad {
		return Decision{Reason: anomalyReason(err), Anomaly: err}
	}
	if role.Level < minimumLevel {
		return deny(ReasonInsufficientLevel)
	}
	return allow()
}
