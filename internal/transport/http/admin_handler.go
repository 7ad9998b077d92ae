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

package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opentrusty/scoreguard/internal/audit"
	"github.com/opentrusty/scoreguard/internal/identity"
)

// AuditEntryResponse is one audit record as returned to clients
type AuditEntryResponse struct {
	Seq         int64             `json:"seq"`
	Timestamp   time.Time         `json:"timestamp"`
	ActorID     *string           `json:"actor_id"`
	Operation   string            `json:"operation"`
	Description string            `json:"description,omitempty"`
	Outcome     string            `json:"outcome"`
	Reason      string            `json:"reason,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	PrevHash    string            `json:"prev_hash"`
	Hash        string            `json:"hash"`
}

// QueryAudit returns audit entries, most recent first
// @Summary Query Audit Trail
// @Tags Audit
// @Produce json
// @Security BearerAuth
// @Param actor query string false "Actor user id"
// @Param operation query string false "Operation code"
// @Param outcome query string false "success or failure"
// @Param from query string false "RFC3339 lower bound"
// @Param to query string false "RFC3339 upper bound"
// @Param limit query int false "Maximum entries (default 100, max 1000)"
// @Success 200 {object} map[string]any
// @Failure 400 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Router /audit [get]
func (h *Handler) QueryAudit(w http.ResponseWriter, r *http.Request) {
	filter, msg := parseAuditFilter(r)
	if msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}

	entries, err := h.access.QueryAudit(r.Context(), GetPrincipal(r.Context()), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		item := AuditEntryResponse{
			Seq:         e.Seq,
			Timestamp:   e.Timestamp,
			Operation:   e.Operation,
			Description: e.Description,
			Outcome:     string(e.Outcome),
			Reason:      e.Reason,
			Metadata:    e.Metadata,
			PrevHash:    e.PrevHash,
			Hash:        e.Hash,
		}
		if !e.Anonymous() {
			actor := e.ActorID
			item.ActorID = &actor
		}
		out = append(out, item)
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"entries": out,
		"count":   len(out),
	})
}

func parseAuditFilter(r *http.Request) (audit.Filter, string) {
	q := r.URL.Query()
	filter := audit.Filter{
		ActorID:   q.Get("actor"),
		Operation: q.Get("operation"),
	}

	if v := q.Get("outcome"); v != "" {
		o := audit.Outcome(v)
		if !o.Valid() {
			return filter, "outcome must be success or failure"
		}
		filter.Outcome = o
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, "from must be an RFC3339 timestamp"
		}
		filter.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, "to must be an RFC3339 timestamp"
		}
		filter.To = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, "limit must be a non-negative integer"
		}
		filter.Limit = n
	}
	return filter, ""
}

// ProvisionUserRequest describes a new account
type ProvisionUserRequest struct {
	Username    string  `json:"username" validate:"required,max=64" example:"t.chen"`
	DisplayName string  `json:"display_name" validate:"max=128" example:"Teacher Chen"`
	Role        string  `json:"role" validate:"required" example:"TEACHER"`
	Password    string  `json:"password" validate:"required,max=256"`
	ExternalRef *string `json:"external_ref,omitempty" validate:"omitempty,max=64"`
}

// ProvisionUser creates an account
// @Summary Provision User
// @Tags Users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body ProvisionUserRequest true "Account"
// @Success 201 {object} map[string]any
// @Failure 400 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /users [post]
func (h *Handler) ProvisionUser(w http.ResponseWriter, r *http.Request) {
	var req ProvisionUserRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.access.ProvisionUser(r.Context(), GetPrincipal(r.Context()), identity.ProvisionRequest{
		Username:    req.Username,
		DisplayName: req.DisplayName,
		RoleName:    req.Role,
		Password:    req.Password,
		ExternalRef: req.ExternalRef,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"user_id":  user.ID,
		"username": user.Username,
		"role":     user.RoleName,
		"status":   string(user.Status),
	})
}

// SetUserStatusRequest changes an account status
type SetUserStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active locked disabled"`
}

// SetUserStatus locks, disables or reactivates an account
// @Summary Set User Status
// @Tags Users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param userID path string true "User ID"
// @Param request body SetUserStatusRequest true "Status"
// @Success 200 {object} map[string]string
// @Failure 400 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /users/{userID}/status [put]
func (h *Handler) SetUserStatus(w http.ResponseWriter, r *http.Request) {
	var req SetUserStatusRequest
	if !h.decode(w, r, &req) {
		return
	}

	userID := chi.URLParam(r, "userID")
	err := h.access.SetUserStatus(r.Context(), GetPrincipal(r.Context()), userID, identity.Status(req.Status))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"user_id": userID,
		"status":  req.Status,
	})
}

// RoleResponse is one role of the catalog
type RoleResponse struct {
	Name        string   `json:"name"`
	Level       int      `json:"level"`
	Parent      string   `json:"parent,omitempty"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions"`
	Anomaly     string   `json:"anomaly,omitempty"`
}

// ListRoles returns the role catalog with effective permissions
// @Summary List Roles
// @Tags Roles
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]any
// @Failure 403 {object} map[string]string
// @Router /roles [get]
func (h *Handler) ListRoles(w http.ResponseWriter, r *http.Request) {
	engine := h.access.Engine()
	catalog := engine.Catalog()
	anomalies := catalog.Anomalies()

	roles := make([]RoleResponse, 0)
	for _, role := range catalog.Roles() {
		item := RoleResponse{
			Name:        role.Name,
			Level:       role.Level,
			Parent:      role.Parent,
			Description: role.Description,
			Permissions: []string{},
		}
		if set, err := engine.EffectivePermissions(role.Name); err == nil {
			item.Permissions = set.Sorted()
		}
		if err, ok := anomalies[role.Name]; ok {
			item.Anomaly = err.Error()
		}
		roles = append(roles, item)
	}

	permissions := make([]string, 0)
	for _, p := range catalog.Permissions() {
		permissions = append(permissions, p.Code)
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"roles":       roles,
		"permissions": permissions,
	})
}
