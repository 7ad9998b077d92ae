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
	"errors"
	"net/http"
	"time"

	"github.com/opentrusty/scoreguard/internal/access"
	"github.com/opentrusty/scoreguard/internal/identity"
	"github.com/opentrusty/scoreguard/internal/rbac"
)

// statusError maps an inactive account to the error login would report for
// it. A session can outlive a lockout triggered by failed attempts.
func statusError(p *rbac.Principal) error {
	d := rbac.CheckStatus(p)
	if d.Allowed {
		return nil
	}
	switch d.Reason {
	case rbac.ReasonUnauthenticated:
		return access.ErrUnauthenticated
	case rbac.ReasonAccountLocked:
		return identity.ErrAccountLocked
	case rbac.ReasonAccountDisabled:
		return identity.ErrAccountDisabled
	default:
		return access.ErrForbidden
	}
}

// LoginRequest represents login credentials
type LoginRequest struct {
	Username string `json:"username" validate:"required,max=64" example:"admin"`
	Password string `json:"password" validate:"required,max=256" example:"Admin123"`
}

// LoginResponse is returned after a successful login
type LoginResponse struct {
	Token       string     `json:"token"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	UserID      string     `json:"user_id"`
	Username    string     `json:"username"`
	Role        string     `json:"role"`
	Level       int        `json:"level"`
	Permissions []string   `json:"permissions"`
}

// ProfileResponse describes the authenticated principal
type ProfileResponse struct {
	UserID      string   `json:"user_id"`
	Username    string   `json:"username"`
	Role        string   `json:"role"`
	Level       int      `json:"level"`
	Status      string   `json:"status"`
	Permissions []string `json:"permissions"`
}

// Login handles user login
// @Summary Login
// @Description Verify credentials and issue a bearer token, replacing any earlier session
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Credentials"
// @Success 200 {object} LoginResponse
// @Failure 400 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Failure 423 {object} map[string]string
// @Router /auth/login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.access.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, LoginResponse{
		Token:       res.Token,
		ExpiresAt:   res.ExpiresAt,
		UserID:      res.UserID,
		Username:    res.Username,
		Role:        res.Role,
		Level:       res.Level,
		Permissions: res.Permissions,
	})
}

// Logout handles user logout
// @Summary Logout
// @Description Revoke the presented token. Always succeeds.
// @Tags Auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]string
// @Router /auth/logout [post]
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if token, ok := access.BearerToken(r.Header.Get("Authorization")); ok {
		_ = h.access.Logout(r.Context(), token)
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "logged out successfully",
	})
}

// GetCurrentUser returns the authenticated principal
// @Summary Get Current User
// @Tags User
// @Produce json
// @Security BearerAuth
// @Success 200 {object} ProfileResponse
// @Failure 401 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Failure 423 {object} map[string]string
// @Router /auth/me [get]
func (h *Handler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	p := GetPrincipal(r.Context())
	if err := statusError(p); err != nil {
		h.writeError(w, r, err)
		return
	}
	profile := h.access.Describe(p)

	respondJSON(w, http.StatusOK, ProfileResponse{
		UserID:      profile.UserID,
		Username:    profile.Username,
		Role:        profile.Role,
		Level:       profile.Level,
		Status:      string(profile.Status),
		Permissions: profile.Permissions,
	})
}

// ChangePasswordRequest represents password change data
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required,max=256"`
	NewPassword string `json:"new_password" validate:"required,max=256"`
}

// ChangePassword changes the user password
// @Summary Change Password
// @Tags User
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body ChangePasswordRequest true "Password Change Data"
// @Success 200 {object} map[string]string
// @Failure 400 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Router /user/change-password [post]
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	err := h.access.ChangePassword(r.Context(), GetPrincipal(r.Context()), req.OldPassword, req.NewPassword)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			respondError(w, http.StatusUnauthorized, "invalid old password")
			return
		}
		h.writeError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "password changed successfully",
	})
}
