// @title Scoreguard API
// @version 0.1.0
// @description Access control for the student score administration system

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0.html

// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/netip"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/opentrusty/scoreguard/internal/access"
	"github.com/opentrusty/scoreguard/internal/audit"
	"github.com/opentrusty/scoreguard/internal/identity"
	"github.com/opentrusty/scoreguard/internal/observability/logger"
	"github.com/opentrusty/scoreguard/internal/rbac"
)

const maxBodyBytes = 1 << 20

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// Handler holds HTTP handlers and dependencies
type Handler struct {
	access   *access.Facade
	validate *validator.Validate
	checks   map[string]Pinger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithHealthCheck adds a dependency probed by /health.
func WithHealthCheck(name string, p Pinger) HandlerOption {
	return func(h *Handler) {
		h.checks[name] = p
	}
}

// NewHandler creates a new HTTP handler
func NewHandler(facade *access.Facade, opts ...HandlerOption) *Handler {
	h := &Handler{
		access:   facade,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		checks:   make(map[string]Pinger),
	}
	h.validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RouterConfig holds router-level settings
type RouterConfig struct {
	RequestTimeout time.Duration
	AllowedHosts   []string
	SSLRedirect    bool
	// TrustedProxies are the peers whose X-Forwarded-For and X-Real-IP
	// headers are believed. Empty means the connection address is used.
	TrustedProxies []netip.Prefix
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, rateLimiter *RateLimiter, cfg RouterConfig) *chi.Mux {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(ClientIPMiddleware(cfg.TrustedProxies))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeaders(cfg))
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(ClientInfoMiddleware)

	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if rateLimiter != nil {
				r.Use(RateLimitMiddleware(rateLimiter))
			}
			r.Post("/auth/login", h.Login)
		})
		r.Post("/auth/logout", h.Logout)

		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)

			r.Get("/auth/me", h.GetCurrentUser)
			r.Post("/user/change-password", h.ChangePassword)

			r.Get("/audit", h.QueryAudit)
			r.Post("/users", h.ProvisionUser)
			r.Put("/users/{userID}/status", h.SetUserStatus)

			r.With(h.RequirePermission(rbac.PermUserManage, audit.OpRoleList)).Get("/roles", h.ListRoles)
		})
	})

	return r
}

// HealthCheck returns the health status
// @Summary Health Check
// @Tags System
// @Produce json
// @Success 200 {object} map[string]any
// @Failure 503 {object} map[string]any
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	components := map[string]string{"audit": "ok"}

	if !h.access.AuditAvailable() {
		status = http.StatusServiceUnavailable
		components["audit"] = "closed"
	}
	for name, p := range h.checks {
		if err := p.Ping(r.Context()); err != nil {
			slog.WarnContext(r.Context(), "health check failed", logger.Component(name), logger.Error(err))
			status = http.StatusServiceUnavailable
			components[name] = "unavailable"
			continue
		}
		components[name] = "ok"
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "unhealthy"
	}
	respondJSON(w, status, map[string]any{
		"status":     state,
		"service":    "scoreguard",
		"components": components,
	})
}

// writeError maps domain errors to status codes. Internal causes are logged,
// never returned to the client.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, access.ErrUnauthenticated):
		respondError(w, http.StatusUnauthorized, "not authenticated")
	case errors.Is(err, access.ErrForbidden):
		respondError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, access.ErrAuditUnavailable):
		respondError(w, http.StatusServiceUnavailable, "audit log unavailable")
	case errors.Is(err, identity.ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, identity.ErrAccountLocked):
		respondError(w, http.StatusLocked, "account is locked")
	case errors.Is(err, identity.ErrAccountDisabled):
		respondError(w, http.StatusForbidden, "account is disabled")
	case errors.Is(err, identity.ErrUserAlreadyExists):
		respondError(w, http.StatusConflict, "user already exists")
	case errors.Is(err, identity.ErrUserNotFound):
		respondError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, identity.ErrInvalidUsername):
		respondError(w, http.StatusBadRequest, "invalid username")
	case errors.Is(err, identity.ErrWeakPassword):
		respondError(w, http.StatusBadRequest, "password does not meet security requirements")
	case errors.Is(err, identity.ErrInvalidStatus):
		respondError(w, http.StatusBadRequest, "invalid account status")
	case errors.Is(err, rbac.ErrUnknownRole):
		respondError(w, http.StatusBadRequest, "unknown role")
	default:
		slog.ErrorContext(r.Context(), "request failed",
			logger.RequestID(middleware.GetReqID(r.Context())),
			logger.Path(r.URL.Path),
			logger.Error(err),
		)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// decode reads a JSON body into dst and validates its tags.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
			respondJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"fields": fields,
			})
			return false
		}
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
