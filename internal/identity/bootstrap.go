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

package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/opentrusty/scoreguard/internal/audit"
	"github.com/opentrusty/scoreguard/internal/observability/logger"
)

// BootstrapConfig names the default administrator account.
type BootstrapConfig struct {
	Username string
	Password string
	RoleName string
}

// BootstrapService manages the initial initialization of the system
type BootstrapService struct {
	identityService *Service
	recorder        audit.Recorder
}

// NewBootstrapService creates a new bootstrap service
func NewBootstrapService(identityService *Service, recorder audit.Recorder) *BootstrapService {
	return &BootstrapService{
		identityService: identityService,
		recorder:        recorder,
	}
}

// Bootstrap seeds the default administrator when no account with that
// username exists. It reports whether an account was created.
func (s *BootstrapService) Bootstrap(ctx context.Context, cfg BootstrapConfig) (bool, error) {
	if cfg.Username == "" {
		return false, nil
	}

	_, err := s.identityService.GetByUsername(ctx, cfg.Username)
	if err == nil {
		// Already bootstrapped or admin exists, skip silently
		return false, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return false, fmt.Errorf("failed to check for existing admin: %w", err)
	}

	user, err := s.identityService.Provision(ctx, ProvisionRequest{
		Username:    cfg.Username,
		DisplayName: "Administrator",
		RoleName:    cfg.RoleName,
		Password:    cfg.Password,
	})
	if err != nil {
		return false, fmt.Errorf("failed to provision bootstrap admin: %w", err)
	}

	if err := s.recorder.Record(ctx, audit.Entry{
		Operation:   audit.OpBootstrap,
		Description: "seeded default administrator",
		Outcome:     audit.OutcomeSuccess,
		Metadata: map[string]string{
			audit.AttrTargetID: user.ID,
			audit.AttrUsername: user.Username,
			audit.AttrRole:     user.RoleName,
		},
	}); err != nil {
		return true, fmt.Errorf("failed to audit bootstrap: %w", err)
	}

	slog.InfoContext(ctx, "bootstrapped default administrator",
		logger.UserID(user.ID),
		logger.Username(user.Username),
		logger.Role(user.RoleName),
	)
	return true, nil
}
