package app

import (
	"context"
	"errors"
	"fmt"

	"bops/internal/config"
	"bops/internal/repo"
)

// ResolveTenantAndConfig picks the active tenant and its stored config. It
// prefers the override, then the only tenant in the database. A tenant
// without a stored config gets the default one, which is saved so later
// commands read the same values.
func ResolveTenantAndConfig(ctx context.Context, tenantOverride string, r repo.Repo) (string, *config.Config, error) {
	tenantID := tenantOverride
	if tenantID == "" {
		t, err := r.SingleTenant(ctx)
		if errors.Is(err, repo.ErrNotFound) {
			return "", nil, fmt.Errorf("no tenant found; create one with bops tenant create")
		}
		if err != nil {
			return "", nil, err
		}
		tenantID = t.ID
	}
	if _, err := r.GetTenant(ctx, tenantID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", nil, fmt.Errorf("tenant %s not found", tenantID)
		}
		return "", nil, err
	}
	cfg, err := r.GetTenantConfig(ctx, tenantID)
	if errors.Is(err, repo.ErrNotFound) {
		cfg = config.Default(tenantID)
		if err := r.UpsertTenantConfig(ctx, tenantID, cfg); err != nil {
			return "", nil, fmt.Errorf("seed tenant config: %w", err)
		}
	} else if err != nil {
		return "", nil, err
	}
	cfg.Tenant.ID = tenantID
	return tenantID, cfg, nil
}
