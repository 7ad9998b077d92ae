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
	"cmp"
	"errors"
	"fmt"
	"maps"
	"slices"
)

// Catalog is an immutable snapshot of roles and permissions with every
// role's effective permission set resolved up front.
type Catalog struct {
	roles       map[string]Role
	permissions map[string]Permission
	effective   map[string]PermissionSet
	anomalies   map[string]error
}

// NewCatalog validates and resolves roles. When permissions is non-empty,
// every code a role grants must be listed there. Broken parent chains do not
// fail construction: the affected roles resolve to no permissions and are
// reported by Anomalies.
func NewCatalog(roles []Role, permissions []Permission) (*Catalog, error) {
	c := &Catalog{
		roles:       make(map[string]Role, len(roles)),
		permissions: make(map[string]Permission, len(permissions)),
		effective:   make(map[string]PermissionSet, len(roles)),
		anomalies:   make(map[string]error),
	}

	for _, p := range permissions {
		if p.Code == "" {
			return nil, fmt.Errorf("%w: empty code", ErrUnknownPermission)
		}
		c.permissions[p.Code] = p
	}

	for _, r := range roles {
		if r.Name == "" {
			return nil, fmt.Errorf("%w: empty name", ErrInvalidRole)
		}
		if _, dup := c.roles[r.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRole, r.Name)
		}
		if len(c.permissions) > 0 {
			for _, code := range r.Permissions {
				if _, ok := c.permissions[code]; !ok && code != Wildcard {
					return nil, fmt.Errorf("%w: role %s grants %s", ErrUnknownPermission, r.Name, code)
				}
			}
		}
		r.Permissions = slices.Clone(r.Permissions)
		c.roles[r.Name] = r
	}

	for name := range c.roles {
		set, err := c.resolve(name)
		if err != nil {
			c.anomalies[name] = err
			c.effective[name] = PermissionSet{}
			continue
		}
		c.effective[name] = set
	}

	return c, nil
}

// resolve walks the parent chain from name, unioning permission codes.
func (c *Catalog) resolve(name string) (PermissionSet, error) {
	set := PermissionSet{}
	visited := make(map[string]struct{})

	for current := name; current != ""; {
		if _, seen := visited[current]; seen {
			return nil, fmt.Errorf("%w: %s revisits %s", ErrCyclicRoleHierarchy, name, current)
		}
		visited[current] = struct{}{}

		role, ok := c.roles[current]
		if !ok {
			return nil, fmt.Errorf("%w: %s has missing ancestor %s", ErrUnknownRole, name, current)
		}
		for _, code := range role.Permissions {
			set[code] = struct{}{}
		}
		current = role.Parent
	}

	return set, nil
}

// Role returns the named role.
func (c *Catalog) Role(name string) (Role, bool) {
	r, ok := c.roles[name]
	if !ok {
		return Role{}, false
	}
	r.Permissions = slices.Clone(r.Permissions)
	return r, true
}

// Roles lists roles by ascending level, then name.
func (c *Catalog) Roles() []Role {
	out := make([]Role, 0, len(c.roles))
	for _, r := range c.roles {
		r.Permissions = slices.Clone(r.Permissions)
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b Role) int {
		if n := cmp.Compare(a.Level, b.Level); n != 0 {
			return n
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return out
}

// Permissions lists the declared permissions by code.
func (c *Catalog) Permissions() []Permission {
	out := slices.Collect(maps.Values(c.permissions))
	slices.SortFunc(out, func(a, b Permission) int { return cmp.Compare(a.Code, b.Code) })
	return out
}

// Anomalies returns the roles whose hierarchy could not be resolved.
func (c *Catalog) Anomalies() map[string]error {
	return maps.Clone(c.anomalies)
}

// effectiveSet returns the shared resolved set for name. Callers must not
// modify it.
func (c *Catalog) effectiveSet(name string) (PermissionSet, error) {
	if err, bad := c.anomalies[name]; bad {
		return PermissionSet{}, err
	}
	set, ok := c.effective[name]
	if !ok {
		return PermissionSet{}, fmt.Errorf("%w: %s", ErrUnknownRole, name)
	}
	return set, nil
}

func anomalyReason(err error) string {
	if errors.Is(err, ErrCyclicRoleHierarchy) {
		return ReasonCyclicHierarchy
	}
	return ReasonUnknownRole
}
