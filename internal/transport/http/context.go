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

	"github.com/opentrusty/scoreguard/internal/rbac"
)

type contextKey string

const (
	principalKey contextKey = "principal"
	tokenKey     contextKey = "session_token"
	clientIPKey  contextKey = "client_ip"
)

// GetPrincipal retrieves the authenticated principal from context.
func GetPrincipal(ctx context.Context) *rbac.Principal {
	if val, ok := ctx.Value(principalKey).(*rbac.Principal); ok {
		return val
	}
	return nil
}

// GetUserID retrieves the authenticated User ID from context.
func GetUserID(ctx context.Context) string {
	if p := GetPrincipal(ctx); p != nil {
		return p.UserID
	}
	return ""
}

// GetSessionToken retrieves the bearer token the request authenticated with.
func GetSessionToken(ctx context.Context) string {
	if val, ok := ctx.Value(tokenKey).(string); ok {
		return val
	}
	return ""
}

func withPrincipal(ctx context.Context, p *rbac.Principal, token string) context.Context {
	ctx = context.WithValue(ctx, principalKey, p)
	return context.WithValue(ctx, tokenKey, token)
}
