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

package access

import (
	"context"
	"maps"

	"github.com/opentrusty/scoreguard/internal/audit"
)

// ClientInfo describes where a request came from.
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

type clientKey struct{}

// WithClientInfo attaches client details that audit entries written under
// ctx will carry.
func WithClientInfo(ctx context.Context, info ClientInfo) context.Context {
	return context.WithValue(ctx, clientKey{}, info)
}

// ClientInfoFrom returns the client details attached to ctx, if any.
func ClientInfoFrom(ctx context.Context) (ClientInfo, bool) {
	info, ok := ctx.Value(clientKey{}).(ClientInfo)
	return info, ok
}

func withClient(ctx context.Context, meta map[string]string) map[string]string {
	info, ok := ClientInfoFrom(ctx)
	if !ok || (info.IPAddress == "" && info.UserAgent == "") {
		return meta
	}
	out := maps.Clone(meta)
	if out == nil {
		out = make(map[string]string, 2)
	}
	if info.IPAddress != "" {
		out[audit.AttrIPAddress] = info.IPAddress
	}
	if info.UserAgent != "" {
		out[audit.AttrUserAgent] = info.UserAgent
	}
	return out
}
