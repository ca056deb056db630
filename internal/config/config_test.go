package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bops/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default("camden")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "camden", cfg.Tenant.ID)
	assert.Equal(t, 5, cfg.DeadlineDays("description_change"))
	assert.True(t, cfg.AutoCloses("description_change"))
	assert.False(t, cfg.AutoCloses("additional_document"))
	assert.True(t, cfg.HasFeature("full", "heads_of_terms"))
	assert.False(t, cfg.HasFeature("prior_approval", "considerations"))
	assert.False(t, cfg.HasFeature("unknown", "conditions"))
}

func TestDeadlineDaysFallsBack(t *testing.T) {
	cfg := config.Default("camden")
	delete(cfg.Requests.Categories, "other_change")
	assert.Equal(t, 15, cfg.DeadlineDays("other_change"))
}

func TestValidateRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"missing tenant": `requests: {categories: {fee_change: {deadline_days: 3}}}`,
		"unknown category": `tenant: {id: x}
requests: {categories: {bogus: {deadline_days: 3}}}`,
		"zero deadline": `tenant: {id: x}
requests: {categories: {fee_change: {deadline_days: 0}}}`,
		"bad holiday": `tenant: {id: x}
requests: {categories: {fee_change: {deadline_days: 3}}}
calendar: {holidays: ["25/12/2026"]}`,
		"unknown feature": `tenant: {id: x}
requests: {categories: {fee_change: {deadline_days: 3}}}
application_types: {full: {features: [parking]}}`,
		"webhook without url": `tenant: {id: x}
requests: {categories: {fee_change: {deadline_days: 3}}}
notifications: {driver: webhook}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.FromYAML([]byte(body))
			require.Error(t, err)
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.LoadOptional(dir)
	require.NoError(t, err)
	assert.Nil(t, cfg)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bops.yml"), []byte(config.GenerateDefault("hackney")), 0o644))
	cfg, err = config.LoadOptional(dir)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "hackney", cfg.Tenant.ID)
}
