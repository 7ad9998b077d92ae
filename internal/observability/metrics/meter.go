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
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Config selects where instruments are registered.
type Config struct {
	Enabled     bool
	ServiceName string
	// Namespace prefixes every instrument name, e.g. "scoreguard".
	Namespace string
}

// Meter registers namespaced instruments on an OpenTelemetry meter.
type Meter struct {
	meter     metric.Meter
	namespace string
}

// New returns a Meter bound to the global provider, or to a no-op provider
// when metrics are disabled. The global provider itself records nothing
// until an SDK provider is installed.
func New(cfg Config) *Meter {
	var provider metric.MeterProvider = noop.NewMeterProvider()
	if cfg.Enabled {
		provider = otel.GetMeterProvider()
	}
	return NewWithProvider(provider, cfg.ServiceName, cfg.Namespace)
}

// NewWithProvider binds a Meter to an explicit provider.
func NewWithProvider(provider metric.MeterProvider, serviceName, namespace string) *Meter {
	return &Meter{meter: provider.Meter(serviceName), namespace: namespace}
}

func (m *Meter) name(short string) string {
	if m.namespace == "" {
		return short
	}
	return m.namespace + "." + short
}

// Counter registers a monotonic int64 counter.
func (m *Meter) Counter(short, description string) (metric.Int64Counter, error) {
	c, err := m.meter.Int64Counter(m.name(short), metric.WithDescription(description))
	if err != nil {
		return nil, fmt.Errorf("failed to register counter %s: %w", m.name(short), err)
	}
	return c, nil
}

// Histogram registers a float64 histogram measured in unit.
func (m *Meter) Histogram(short, description, unit string) (metric.Float64Histogram, error) {
	h, err := m.meter.Float64Histogram(m.name(short),
		metric.WithDescription(description),
		metric.WithUnit(unit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register histogram %s: %w", m.name(short), err)
	}
	return h, nil
}
