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
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/unrolled/secure"

	"github.com/opentrusty/scoreguard/internal/access"
	"github.com/opentrusty/scoreguard/internal/observability/logger"
)

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			slog.DebugContext(r.Context(), "http_request_start",
				logger.RequestID(middleware.GetReqID(r.Context())),
				logger.Method(r.Method),
				logger.Path(r.URL.Path),
			)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				slog.InfoContext(r.Context(), "http_request_end",
					logger.RequestID(middleware.GetReqID(r.Context())),
					logger.Method(r.Method),
					logger.Path(r.URL.Path),
					logger.RemoteAddr(getClientIP(r)),
					logger.UserAgent(r.UserAgent()),
					logger.StatusCode(ww.Status()),
					logger.Duration(time.Since(start).Milliseconds()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// ClientInfoMiddleware attaches the caller's address and user agent so audit
// entries written while serving the request carry them.
func ClientInfoMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := access.WithClientInfo(r.Context(), access.ClientInfo{
			IPAddress: getClientIP(r),
			UserAgent: r.UserAgent(),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SecurityHeaders sets the standard hardening headers on every response.
func SecurityHeaders(cfg RouterConfig) func(http.Handler) http.Handler {
	s := secure.New(secure.Options{
		AllowedHosts:          cfg.AllowedHosts,
		SSLRedirect:           cfg.SSLRedirect,
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
	})
	return s.Handler
}

// AuthMiddleware resolves the bearer token and adds the principal to context
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		p, err := h.access.AuthenticateHeader(r.Context(), header)
		if err != nil {
			if errors.Is(err, access.ErrUnauthenticated) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="scoreguard"`)
				respondError(w, http.StatusUnauthorized, "not authenticated")
				return
			}
			slog.ErrorContext(r.Context(), "failed to authenticate request", logger.Error(err))
			respondError(w, http.StatusInternalServerError, "internal error")
			return
		}

		token, _ := access.BearerToken(header)
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p, token)))
	})
}

// RequirePermission guards a route with permission. A denial is audited once
// and answered with 403. When the handler runs, its outcome is audited under
// operation: any 4xx or 5xx response is recorded as a failure.
func (h *Handler) RequirePermission(permission, operation string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			p := GetPrincipal(ctx)
			desc := r.Method + " " + r.URL.Path

			if err := h.access.AuthorizeAndAudit(ctx, p, permission, operation, desc); err != nil {
				h.writeError(w, r, err)
				return
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			var opErr error
			if status := ww.Status(); status >= http.StatusBadRequest {
				opErr = errors.New(http.StatusText(status))
			}
			if err := h.access.Complete(ctx, p, operation, desc, opErr); err != nil {
				slog.ErrorContext(ctx, "request outcome not audited",
					logger.Operation(operation),
					logger.UserID(GetUserID(ctx)),
					logger.Error(err),
				)
			}
		})
	}
}
