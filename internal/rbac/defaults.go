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

// -----------------------------------------------------------------------------
// Permission Code Constants
// These are the canonical codes stored in the permissions table.
// -----------------------------------------------------------------------------

const (
	PermViewOwnScore        = "VIEW_OWN_SCORE"
	PermViewClassScore      = "VIEW_CLASS_SCORE"
	PermEnterScore          = "ENTER_SCORE"
	PermViewDepartmentStats = "VIEW_DEPARTMENT_STATS"
	PermAuditView           = "AUDIT_VIEW"
	PermUserManage          = "USER_MANAGE"
)

// -----------------------------------------------------------------------------
// Role Name Constants
// -----------------------------------------------------------------------------

const (
	// RoleStudent may only read their own scores.
	RoleStudent = "STUDENT"

	// RoleTeacher enters and reads scores for their classes.
	RoleTeacher = "TEACHER"

	// RoleDeptAdmin inherits TEACHER and adds department statistics and the
	// audit trail.
	RoleDeptAdmin = "DEPT_ADMIN"

	// RoleAdmin holds every permission.
	RoleAdmin = "ADMIN"
)

// Role levels
const (
	LevelStudent   = 1
	LevelTeacher   = 2
	LevelDeptAdmin = 3
	LevelAdmin     = 4
)

// DefaultPermissions returns the built-in permission definitions.
func DefaultPermissions() []Permission {
	return []Permission{
		{Code: PermViewOwnScore, Description: "View own scores"},
		{Code: PermViewClassScore, Description: "View scores of taught classes"},
		{Code: PermEnterScore, Description: "Enter or amend scores"},
		{Code: PermViewDepartmentStats, Description: "View department statistics"},
		{Code: PermAuditView, Description: "Read the audit trail"},
		{Code: PermUserManage, Description: "Provision accounts and change their status"},
	}
}

// DefaultRoles returns the built-in role definitions. Used for seeding and
// when no catalog is stored.
func DefaultRoles() []Role {
	return []Role{
		{
			Name:        RoleStudent,
			Level:       LevelStudent,
			Permissions: []string{PermViewOwnScore},
			Description: "Student",
		},
		{
			Name:        RoleTeacher,
			Level:       LevelTeacher,
			Permissions: []string{PermViewClassScore, PermEnterScore},
			Description: "Teacher",
		},
		{
			Name:        RoleDeptAdmin,
			Level:       LevelDeptAdmin,
			Permissions: []string{PermViewDepartmentStats, PermAuditView},
			Parent:      RoleTeacher,
			Description: "Department administrator",
		},
		{
			Name:        RoleAdmin,
			Level:       LevelAdmin,
			Permissions: []string{Wildcard},
			Parent:      RoleDeptAdmin,
			Description: "System administrator",
		},
	}
}

// DefaultCatalog builds the catalog of DefaultRoles and DefaultPermissions.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultRoles(), DefaultPermissions())
	if err != nil {
		panic("rbac: invalid default catalog: " + err.Error())
	}
	return c
}
