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

package logger

import "log/slog"

// Attribute keys shared by every log line, so dashboards can filter on them.
const (
	KeyRequestID  = "request_id"
	KeyMethod     = "method"
	KeyPath       = "path"
	KeyRemoteAddr = "remote_addr"
	KeyUserAgent  = "user_agent"
	KeyStatus     = "status_code"
	KeyDuration   = "duration_ms"
	KeyUserID     = "user_id"
	KeyUsername   = "username"
	KeyAttempts   = "failed_attempts"
	KeyRole       = "role"
	KeyReason     = "reason"
	KeyError      = "error"
	KeyRows       = "rows_affected"
	KeyComponent  = "component"
	KeyOperation  = "operation"
)

func RequestID(id string) slog.Attr { return slog.String(KeyRequestID, id) }
func Method(method string) slog.Attr { return slog.String(KeyMethod, method) }
func Path(path string) slog.Attr { return slog.String(KeyPath, path) }
func RemoteAddr(addr string) slog.Attr { return slog.String(KeyRemoteAddr, addr) }
func UserAgent(ua string) slog.Attr { return slog.String(KeyUserAgent, ua) }
func StatusCode(code int) slog.Attr { return slog.Int(KeyStatus, code) }
func Duration(ms int64) slog.Attr { return slog.Int64(KeyDuration, ms) }
func UserID(id string) slog.Attr { return slog.String(KeyUserID, id) }
func Attempts(n int) slog.Attr { return slog.Int(KeyAttempts, n) }
func Role(name string) slog.Attr { return slog.String(KeyRole, name) }
func Reason(reason string) slog.Attr { return slog.String(KeyReason, reason) }
func RowsAffected(n int64) slog.Attr { return slog.Int64(KeyRows, n) }
func Component(name string) slog.Attr { return slog.String(KeyComponent, name) }
func Operation(op string) slog.Attr { return slog.String(KeyOperation, op) }
func String(key, value string) slog.Attr { return slog.String(key, value) }

// Username logs the name as typed. Login failures log unknown names too,
// so it is capped to keep junk input out of the index.
func Username(name string) slog.Attr {
	const maxLen = 64
	if len(name) > maxLen {
		name = name[:maxLen] + "..."
	}
	return slog.String(KeyUsername, name)
}

// Error logs err's message, or an empty string for nil.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
