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
	"errors"
)

// MultiSink appends to several sinks. Queries and the chain head come from
// the first sink that supports them.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines sinks in order.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Append writes to every sink and joins their errors.
func (m *MultiSink) Append(ctx context.Context, e Entry) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Append(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) Query(ctx context.Context, filter Filter) ([]Entry, error) {
	for _, s := range m.sinks {
		if r, ok := s.(Reader); ok {
			return r.Query(ctx, filter)
		}
	}
	return nil, ErrQueryUnsupported
}

func (m *MultiSink) Head(ctx context.Context) (int64, string, error) {
	for _, s := range m.sinks {
		if h, ok := s.(ChainHead); ok {
			return h.Head(ctx)
		}
	}
	return 0, "", nil
}
