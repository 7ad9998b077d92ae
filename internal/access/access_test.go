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

package access_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentrusty/scoreguard/internal/access"
	"github.com/opentrusty/scoreguard/internal/audit"
	"github.com/opentrusty/scoreguard/internal/credential"
	"github.com/opentrusty/scoreguard/internal/identity"
	"github.com/opentrusty/scoreguard/internal/rbac"
	"github.com/opentrusty/scoreguard/internal/session"
)

const password = "Password123"

type fixture struct {
	facade   *access.Facade
	users    *identity.Service
	sessions *session.Manager
	log      *audit.Log
	sink     *audit.MemorySink
}

func newFixture(t *testing.T, catalog *rbac.Catalog) *fixture {
	t.Helper()
	ctx := context.Background()

	if catalog == nil {
		catalog = rbac.DefaultCatalog()
	}
	users := identity.NewService(identity.NewMemoryRepository(), credential.NewSaltedSHA256(), 3)
	sessions := session.NewManager()
	sink := audit.NewMemorySink()
	log, err := audit.New(ctx, audit.Config{HMACKey: bytes.Repeat([]byte{0x5a}, audit.HMACKeySize)}, sink)
	require.NoError(t, err)
	t.Cleanup(log.Close)

	fx := &fixture{
		facade:   access.New(users, sessions, rbac.NewEngine(catalog), log),
		users:    users,
		sessions: sessions,
		log:      log,
		sink:     sink,
	}

	_, err = users.Provision(ctx, identity.ProvisionRequest{Username: "admin", RoleName: rbac.RoleAdmin, Password: "Admin123"})
	require.NoError(t, err)
	return fx
}

func (fx *fixture) provision(t *testing.T, username, role string) *identity.User {
	t.Helper()
	u, err := fx.users.Provision(context.Background(), identity.ProvisionRequest{
		Username: username,
		RoleName: role,
		Password: password,
	})
	require.NoError(t, err)
	return u
}

// login returns the authenticated principal of a fresh session.
func (fx *fixture) login(t *testing.T, username, pw string) (*rbac.Principal, string) {
	t.Helper()
	ctx := context.Background()
	res, err := fx.facade.Login(ctx, username, pw)
	require.NoError(t, err)
	p, err := fx.facade.Authenticate(ctx, res.Token)
	require.NoError(t, err)
	return p, res.Token
}

func (fx *fixture) entries(t *testing.T) []audit.Entry {
	t.Helper()
	require.NoError(t, fx.log.Flush(context.Background()))
	return fx.sink.Entries()
}

// TestPurpose: Validates login against a pre-seeded credential and the single active session rule.
// Scope: Integration Test (in-memory)
// Security: Session fixation / concurrent session prevention
// Expected: Two logins as admin/Admin123 yield different tokens and only the second remains valid.
// Test Case ID: ACC-01
func TestFacade_Login_SupersedesPriorSession(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	first, err := fx.facade.Login(ctx, "admin", "Admin123")
	require.NoError(t, err)
	second, err := fx.facade.Login(ctx, "admin", "Admin123")
	require.NoError(t, err)

	assert.NotEqual(t, first.Token, second.Token)
	_, err = fx.facade.Authenticate(ctx, first.Token)
	assert.ErrorIs(t, err, access.ErrUnauthenticated)

	p, err := fx.facade.Authenticate(ctx, second.Token)
	require.NoError(t, err)
	assert.Equal(t, "admin", p.Username)
	assert.Equal(t, rbac.RoleAdmin, p.Role)

	assert.Equal(t, rbac.LevelAdmin, second.Level)
	assert.ElementsMatch(t, []string{
		rbac.PermAuditView, rbac.PermEnterScore, rbac.PermUserManage,
		rbac.PermViewClassScore, rbac.PermViewDepartmentStats, rbac.PermViewOwnScore,
	}, second.Permissions)

	entries := fx.entries(t)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, audit.OpLogin, e.Operation)
		assert.Equal(t, audit.OutcomeSuccess, e.Outcome)
		assert.Equal(t, p.UserID, e.ActorID)
	}
}

func TestFacade_Login_ResultSummary(t *testing.T) {
	fx := newFixture(t, nil)
	fx.provision(t, "teacher", rbac.RoleTeacher)

	res, err := fx.facade.Login(context.Background(), "teacher", password)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleTeacher, res.Role)
	assert.Equal(t, rbac.LevelTeacher, res.Level)
	assert.Equal(t, []string{rbac.PermEnterScore, rbac.PermViewClassScore}, res.Permissions)
	assert.Nil(t, res.ExpiresAt)
}

// TestPurpose: Validates that a denied check writes exactly one failure entry and reports Forbidden.
// Scope: Integration Test (in-memory)
// Security: Audit of access violations (CWE-778)
// Expected: ErrForbidden; one new failure entry attributed to the caller with the deny reason.
// Test Case ID: ACC-02
func TestFacade_AuthorizeAndAudit_DenyWritesOneFailure(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	fx.provision(t, "student", rbac.RoleStudent)
	p, _ := fx.login(t, "student", password)

	before := len(fx.entries(t))
	err := fx.facade.AuthorizeAndAudit(ctx, p, rbac.PermEnterScore, "score.enter", "enter exam score")
	assert.ErrorIs(t, err, access.ErrForbidden)

	entries := fx.entries(t)
	require.Len(t, entries, before+1)
	e := entries[len(entries)-1]
	assert.Equal(t, audit.OutcomeFailure, e.Outcome)
	assert.Equal(t, "score.enter", e.Operation)
	assert.Equal(t, "enter exam score", e.Description)
	assert.Equal(t, p.UserID, e.ActorID)
	assert.Equal(t, rbac.ReasonMissingPermission, e.Reason)
	assert.Equal(t, rbac.PermEnterScore, e.Metadata["permission"])
}

// TestPurpose: Validates that allowed checks write nothing until the caller reports the outcome.
// Scope: Integration Test (in-memory)
// Security: Accurate audit trail
// Expected: No entry after Allow; Complete writes success or failure with the error text.
// Test Case ID: ACC-03
func TestFacade_AuthorizeAndAudit_AllowThenComplete(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	fx.provision(t, "teacher", rbac.RoleTeacher)
	p, _ := fx.login(t, "teacher", password)

	before := len(fx.entries(t))
	require.NoError(t, fx.facade.AuthorizeAndAudit(ctx, p, rbac.PermEnterScore, "score.enter", "enter exam score"))
	assert.Len(t, fx.entries(t), before)

	require.NoError(t, fx.facade.Complete(ctx, p, "score.enter", "enter exam score", nil))
	require.NoError(t, fx.facade.Complete(ctx, p, "score.enter", "enter exam score", errors.New("class is closed")))

	entries := fx.entries(t)
	require.Len(t, entries, before+2)
	assert.Equal(t, audit.OutcomeSuccess, entries[before].Outcome)
	assert.Equal(t, audit.OutcomeFailure, entries[before+1].Outcome)
	assert.Equal(t, "class is closed", entries[before+1].Reason)
}

func TestFacade_AuthorizeAndAudit_Anonymous(t *testing.T) {
	fx := newFixture(t, nil)

	err := fx.facade.AuthorizeAndAudit(context.Background(), nil, rbac.PermViewOwnScore, "score.view", "view scores")
	assert.ErrorIs(t, err, access.ErrForbidden)

	entries := fx.entries(t)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Anonymous())
	assert.Equal(t, rbac.ReasonUnauthenticated, entries[0].Reason)
}

// TestPurpose: Validates that a closed audit log makes privileged operations fail instead of running unaudited.
// Scope: Integration Test (in-memory)
// Security: Non-repudiation
// Expected: Allowed check returns ErrAuditUnavailable; denied check still reports ErrForbidden.
// Test Case ID: ACC-04
func TestFacade_AuditClosed(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	admin, _ := fx.login(t, "admin", "Admin123")
	fx.log.Close()

	err := fx.facade.AuthorizeAndAudit(ctx, admin, rbac.PermUserManage, audit.OpUserProvision, "provision")
	assert.ErrorIs(t, err, access.ErrAuditUnavailable)

	err = fx.facade.AuthorizeAndAudit(ctx, nil, rbac.PermUserManage, audit.OpUserProvision, "provision")
	assert.ErrorIs(t, err, access.ErrForbidden)
	assert.ErrorIs(t, err, access.ErrAuditUnavailable)

	_, err = fx.facade.Login(ctx, "admin", "Admin123")
	assert.ErrorIs(t, err, access.ErrAuditUnavailable)
}

func TestFacade_RequireLevelAndAudit(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	fx.provision(t, "teacher", rbac.RoleTeacher)
	fx.provision(t, "head", rbac.RoleDeptAdmin)
	teacher, _ := fx.login(t, "teacher", password)
	head, _ := fx.login(t, "head", password)

	err := fx.facade.RequireLevelAndAudit(ctx, teacher, rbac.LevelDeptAdmin, "stats.view", "department stats")
	assert.ErrorIs(t, err, access.ErrForbidden)
	assert.NoError(t, fx.facade.RequireLevelAndAudit(ctx, head, rbac.LevelDeptAdmin, "stats.view", "department stats"))

	entries := fx.entries(t)
	last := entries[len(entries)-1]
	assert.Equal(t, rbac.ReasonInsufficientLevel, last.Reason)
	assert.Equal(t, "3", last.Metadata["min_level"])
}

func TestFacade_CyclicRoleFailsClosed(t *testing.T) {
	catalog, err := rbac.NewCatalog([]rbac.Role{
		{Name: rbac.RoleAdmin, Level: 4, Permissions: []string{rbac.Wildcard}},
		{Name: "X", Level: 9, Permissions: []string{rbac.PermUserManage}, Parent: "Y"},
		{Name: "Y", Level: 9, Parent: "X"},
	}, nil)
	require.NoError(t, err)
	fx := newFixture(t, catalog)
	fx.provision(t, "loop", "X")
	p, _ := fx.login(t, "loop", password)

	err = fx.facade.AuthorizeAndAudit(context.Background(), p, rbac.PermUserManage, audit.OpUserProvision, "provision")
	assert.ErrorIs(t, err, access.ErrForbidden)

	entries := fx.entries(t)
	assert.Equal(t, rbac.ReasonCyclicHierarchy, entries[len(entries)-1].Reason)
}

func TestFacade_Authenticate(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	_, token := fx.login(t, "admin", "Admin123")

	_, err := fx.facade.Authenticate(ctx, "")
	assert.ErrorIs(t, err, access.ErrUnauthenticated)
	_, err = fx.facade.Authenticate(ctx, "not-a-token")
	assert.ErrorIs(t, err, access.ErrUnauthenticated)

	headers := map[string]bool{
		"Bearer " + token:       true,
		"bearer " + token:       true,
		"BEARER " + token:       true,
		"  Bearer  " + token:    true,
		"Basic " + token:        false,
		token:                   false,
		"Bearer ":               false,
		"":                      false,
		"Bearer " + token + "x": false,
	}
	for header, ok := range headers {
		_, err := fx.facade.AuthenticateHeader(ctx, header)
		if ok {
			assert.NoError(t, err, "header %q", header)
		} else {
			assert.ErrorIs(t, err, access.ErrUnauthenticated, "header %q", header)
		}
	}

	require.NoError(t, fx.facade.Logout(ctx, token))
	_, err = fx.facade.Authenticate(ctx, token)
	assert.ErrorIs(t, err, access.ErrUnauthenticated)
}

func TestFacade_Authenticate_DeletedUser(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	u := fx.provision(t, "leaver", rbac.RoleStudent)
	_, token := fx.login(t, "leaver", password)

	require.NoError(t, fx.users.Delete(ctx, u.ID))
	_, err := fx.facade.Authenticate(ctx, token)
	assert.ErrorIs(t, err, access.ErrUnauthenticated)
}

// TestPurpose: Validates login failure handling and its audit trail.
// Scope: Integration Test (in-memory)
// Security: Brute-force protection and enumeration resistance
// Expected: Unknown user and wrong password give the same error; third failure locks; locked reported only with the right password.
// Test Case ID: ACC-05
func TestFacade_Login_Failures(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	fx.provision(t, "student", rbac.RoleStudent)

	_, err := fx.facade.Login(ctx, "ghost", password)
	assert.ErrorIs(t, err, identity.ErrInvalidCredentials)

	for i := 0; i < 3; i++ {
		_, err = fx.facade.Login(ctx, "student", "wrong-password")
		assert.ErrorIs(t, err, identity.ErrInvalidCredentials)
	}

	_, err = fx.facade.Login(ctx, "student", password)
	assert.ErrorIs(t, err, identity.ErrAccountLocked)

	entries := fx.entries(t)
	require.Len(t, entries, 5)
	assert.Equal(t, "ghost", entries[0].Metadata[audit.AttrUsername])
	for _, e := range entries {
		assert.Equal(t, audit.OutcomeFailure, e.Outcome)
		assert.True(t, e.Anonymous())
	}
	assert.Equal(t, rbac.ReasonAccountLocked, entries[4].Reason)
}

func TestFacade_SetUserStatus_DisableRevokesSession(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	student := fx.provision(t, "student", rbac.RoleStudent)
	_, token := fx.login(t, "student", password)
	admin, _ := fx.login(t, "admin", "Admin123")

	require.NoError(t, fx.facade.SetUserStatus(ctx, admin, student.ID, identity.StatusDisabled))
	assert.False(t, fx.sessions.IsValid(ctx, token))

	_, err := fx.facade.Login(ctx, "student", password)
	assert.ErrorIs(t, err, identity.ErrAccountDisabled)

	require.NoError(t, fx.facade.SetUserStatus(ctx, admin, student.ID, identity.StatusActive))
	_, err = fx.facade.Login(ctx, "student", password)
	assert.NoError(t, err)

	// A teacher may not change account status.
	fx.provision(t, "teacher", rbac.RoleTeacher)
	teacher, _ := fx.login(t, "teacher", password)
	err = fx.facade.SetUserStatus(ctx, teacher, student.ID, identity.StatusLocked)
	assert.ErrorIs(t, err, access.ErrForbidden)
}

func TestFacade_LockedPrincipalDenied(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	u := fx.provision(t, "teacher", rbac.RoleTeacher)
	_, token := fx.login(t, "teacher", password)

	// Lock behind the facade's back so the token survives.
	require.NoError(t, fx.users.SetStatus(ctx, u.ID, identity.StatusLocked))
	p, err := fx.facade.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, identity.StatusLocked, p.Status)

	err = fx.facade.AuthorizeAndAudit(ctx, p, rbac.PermEnterScore, "score.enter", "enter score")
	assert.ErrorIs(t, err, access.ErrForbidden)
	entries := fx.entries(t)
	assert.Equal(t, rbac.ReasonAccountLocked, entries[len(entries)-1].Reason)
}

func TestFacade_ChangePassword_KeepsSession(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	fx.provision(t, "teacher", rbac.RoleTeacher)
	p, token := fx.login(t, "teacher", password)

	err := fx.facade.ChangePassword(ctx, p, "wrong", "NewPassword456")
	assert.ErrorIs(t, err, identity.ErrInvalidCredentials)
	require.NoError(t, fx.facade.ChangePassword(ctx, p, password, "NewPassword456"))

	assert.True(t, fx.sessions.IsValid(ctx, token))
	_, err = fx.facade.Login(ctx, "teacher", password)
	assert.ErrorIs(t, err, identity.ErrInvalidCredentials)
	_, err = fx.facade.Login(ctx, "teacher", "NewPassword456")
	assert.NoError(t, err)

	_, err = fx.facade.Login(ctx, "teacher", "NewPassword456")
	require.NoError(t, err)
	var changes []audit.Entry
	for _, e := range fx.entries(t) {
		if e.Operation == audit.OpPasswordChange {
			changes = append(changes, e)
		}
	}
	require.Len(t, changes, 2)
	assert.Equal(t, audit.OutcomeFailure, changes[0].Outcome)
	assert.Equal(t, audit.OutcomeSuccess, changes[1].Outcome)
}

func TestFacade_ProvisionUser(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	admin, _ := fx.login(t, "admin", "Admin123")

	user, err := fx.facade.ProvisionUser(ctx, admin, identity.ProvisionRequest{
		Username: "newteacher", RoleName: rbac.RoleTeacher, Password: password,
	})
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleTeacher, user.RoleName)

	_, err = fx.facade.ProvisionUser(ctx, admin, identity.ProvisionRequest{
		Username: "janitor", RoleName: "JANITOR", Password: password,
	})
	assert.ErrorIs(t, err, rbac.ErrUnknownRole)

	entries := fx.entries(t)
	last := entries[len(entries)-1]
	assert.Equal(t, audit.OpUserProvision, last.Operation)
	assert.Equal(t, audit.OutcomeFailure, last.Outcome)
	prev := entries[len(entries)-2]
	assert.Equal(t, audit.OutcomeSuccess, prev.Outcome)
	assert.Equal(t, user.ID, prev.Metadata[audit.AttrTargetID])
}

func TestFacade_QueryAudit(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	fx.provision(t, "teacher", rbac.RoleTeacher)
	fx.provision(t, "head", rbac.RoleDeptAdmin)
	teacher, _ := fx.login(t, "teacher", password)
	head, _ := fx.login(t, "head", password)
	require.NoError(t, fx.log.Flush(ctx))

	_, err := fx.facade.QueryAudit(ctx, teacher, audit.Filter{})
	assert.ErrorIs(t, err, access.ErrForbidden)
	require.NoError(t, fx.log.Flush(ctx))

	got, err := fx.facade.QueryAudit(ctx, head, audit.Filter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Most recent first: the teacher's denied query, then the head's login.
	assert.Equal(t, audit.OpAuditQuery, got[0].Operation)
	assert.Equal(t, teacher.UserID, got[0].ActorID)
	assert.Equal(t, audit.OpLogin, got[1].Operation)
	assert.Greater(t, got[0].Seq, got[1].Seq)
}

func TestFacade_ClientInfoRecorded(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := access.WithClientInfo(context.Background(), access.ClientInfo{IPAddress: "10.0.0.7", UserAgent: "test-agent"})

	_, err := fx.facade.Login(ctx, "admin", "Admin123")
	require.NoError(t, err)

	e := fx.entries(t)[0]
	assert.Equal(t, "10.0.0.7", e.Metadata[audit.AttrIPAddress])
	assert.Equal(t, "test-agent", e.Metadata[audit.AttrUserAgent])
}

func TestFacade_Logout_Idempotent(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	_, token := fx.login(t, "admin", "Admin123")

	assert.NoError(t, fx.facade.Logout(ctx, token))
	assert.NoError(t, fx.facade.Logout(ctx, token))
	assert.NoError(t, fx.facade.Logout(ctx, "garbage"))

	var logouts int
	for _, e := range fx.entries(t) {
		if e.Operation == audit.OpLogout {
			logouts++
		}
	}
	assert.Equal(t, 1, logouts)
}

func TestFacade_ConcurrentLogin(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	const workers = 16
	tokens := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := fx.facade.Login(ctx, "admin", "Admin123")
			if err != nil {
				t.Error(err)
				return
			}
			tokens[i] = res.Token
		}(i)
	}
	wg.Wait()

	valid := 0
	for _, tok := range tokens {
		if fx.sessions.IsValid(ctx, tok) {
			valid++
		}
	}
	assert.Equal(t, 1, valid)
}
