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

package metrics

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instruments holds the access-control counters.
type Instruments struct {
	decisions        metric.Int64Counter
	logins           metric.Int64Counter
	loginDuration    metric.Float64Histogram
	sessionsIssued   metric.Int64Counter
	auditDropped     metric.Int64Counter
	auditWriteErrors metric.Int64Counter
}

// NewInstruments registers the counters on m.
func NewInstruments(m *Meter) (*Instruments, error) {
	var (
		i    Instruments
		err  error
		errs []error
	)

	i.decisions, err = m.Counter("auth.decisions", "Authorization decisions by outcome and reason")
	errs = append(errs, err)
	i.logins, err = m.Counter("auth.logins", "Login attempts by outcome")
	errs = append(errs, err)
	i.loginDuration, err = m.Histogram("auth.login_duration", "Time spent verifying a login", "s")
	errs = append(errs, err)
	i.sessionsIssued, err = m.Counter("sessions.issued", "Session tokens issued")
	errs = append(errs, err)
	i.auditDropped, err = m.Counter("audit.dropped", "Audit entries dropped on a full queue")
	errs = append(errs, err)
	i.auditWriteErrors, err = m.Counter("audit.write_errors", "Audit entries rejected by the sink")
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &i, nil
}

// Decision counts an authorization decision.
func (i *Instruments) Decision(ctx context.Context, operation string, allowed bool, reason string) {
	i.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.Bool("allowed", allowed),
		attribute.String("reason", reason),
	))
}

// Login counts a login attempt and records how long it took.
func (i *Instruments) Login(ctx context.Context, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	i.logins.Add(ctx, 1, attrs)
	i.loginDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// SessionIssued counts a new session token.
func (i *Instruments) SessionIssued(ctx context.Context) {
	i.sessionsIssued.Add(ctx, 1)
}

// EntryDropped counts an audit entry lost to backpressure.
func (i *Instruments) EntryDropped(ctx context.Context) {
	i.auditDropped.Add(ctx, 1)
}

// WriteFailed counts an audit entry the sink rejected.
func (i *Instruments) WriteFailed(ctx context.Context, err error) {
	i.auditWriteErrors.Add(ctx, 1)
}
