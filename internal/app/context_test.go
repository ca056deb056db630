package app_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bops/internal/app"
	"bops/internal/config"
	"bops/internal/db"
	"bops/internal/engine"
	"bops/internal/migrate"
)

func TestResolveTenantAndConfig(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, migrate.Migrate(ctx, conn))
	e := engine.New(conn, nil)

	_, _, err = app.ResolveTenantAndConfig(ctx, "", e.Repo)
	require.Error(t, err)

	cfg := config.Default("camden")
	cfg.Requests.Categories["fee_change"] = config.CategoryPolicy{DeadlineDays: 7}
	_, err = e.CreateTenant(ctx, "camden", "Camden", cfg)
	require.NoError(t, err)

	id, got, err := app.ResolveTenantAndConfig(ctx, "", e.Repo)
	require.NoError(t, err)
	assert.Equal(t, "camden", id)
	assert.Equal(t, 7, got.DeadlineDays("fee_change"))

	_, err = e.CreateTenant(ctx, "hackney", "Hackney", nil)
	require.NoError(t, err)
	_, _, err = app.ResolveTenantAndConfig(ctx, "", e.Repo)
	require.Error(t, err, "two tenants need an explicit choice")

	id, got, err = app.ResolveTenantAndConfig(ctx, "hackney", e.Repo)
	require.NoError(t, err)
	assert.Equal(t, "hackney", id)
	assert.Equal(t, 15, got.DeadlineDays("fee_change"))

	_, _, err = app.ResolveTenantAndConfig(ctx, "nowhere", e.Repo)
	require.Error(t, err)
}
