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

package audit

import (
	"context"
	"log/slog"
	"strings"
)

// SlogSink writes entries to a structured logger. It keeps nothing, so it
// neither answers queries nor reports a chain head.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a sink on l, or on the default logger when l is nil.
func NewSlogSink(l *slog.Logger) *SlogSink {
	if l == nil {
		l = slog.Default()
	}
	return &SlogSink{logger: l}
}

func (s *SlogSink) Append(ctx context.Context, e Entry) error {
	attrs := []slog.Attr{
		slog.Int64("seq", e.Seq),
		slog.String("operation", e.Operation),
		slog.String("outcome", string(e.Outcome)),
		slog.String("actor_id", actorLabel(e.ActorID)),
		slog.Time("timestamp", e.Timestamp),
		slog.String("hash", e.Hash),
	}
	if e.Description != "" {
		attrs = append(attrs, slog.String("description", e.Description))
	}
	if e.Reason != "" {
		attrs = append(attrs, slog.String("reason", e.Reason))
	}

	// Flatten metadata
	if len(e.Metadata) > 0 {
		group := make([]any, 0, len(e.Metadata))
		for k, v := range e.Metadata {
			if isSecret(k) {
				v = "[REDACTED]"
			}
			group = append(group, slog.String(k, v))
		}
		attrs = append(attrs, slog.Group("metadata", group...))
	}

	attrs = append(attrs, slog.String("component", "audit"))
	s.logger.LogAttrs(ctx, slog.LevelInfo, "AUDIT_EVENT", attrs...)
	return nil
}

func actorLabel(id string) string {
	if id == "" {
		return "anonymous"
	}
	return id
}

var secretMarkers = []string{"password", "secret", "token", "key", "authorization", "hash", "credential"}

// isSecret checks if a key likely contains a secret
func isSecret(key string) bool {
	k := strings.ToLower(key)
	for _, s := range secretMarkers {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}
