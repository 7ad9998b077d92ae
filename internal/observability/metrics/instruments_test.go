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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstruments_Noop(t *testing.T) {
	ctx := context.Background()
	m := New(Config{Enabled: false, ServiceName: "scoreguard-test", Namespace: "scoreguard"})

	inst, err := NewInstruments(m)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		inst.Decision(ctx, "audit.query", false, "missing_permission")
		inst.Login(ctx, "success", 120*time.Millisecond)
		inst.SessionIssued(ctx)
		inst.EntryDropped(ctx)
		inst.WriteFailed(ctx, errors.New("boom"))
	})
}

func TestMeter_Namespace(t *testing.T) {
	assert.Equal(t, "scoreguard.auth.logins", New(Config{Namespace: "scoreguard"}).name("auth.logins"))
	assert.Equal(t, "auth.logins", New(Config{}).name("auth.logins"))
}
