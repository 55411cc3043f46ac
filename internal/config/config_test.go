package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"agent", "recruit"}, cfg.Eligibility.Roles)
	assert.Equal(t, []string{"onboarding", "active"}, cfg.Eligibility.Statuses)
	assert.Equal(t, 30, cfg.Rhythm.LookbackDays)
	assert.Empty(t, cfg.Webhooks)
}

func TestFromYAMLKeepsDefaultsForMissingSections(t *testing.T) {
	cfg, err := FromYAML([]byte("rhythm:\n  timezone: America/Chicago\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"agent", "recruit"}, cfg.Eligibility.Roles)
	assert.Equal(t, 30, cfg.Rhythm.LookbackDays)
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/Chicago", loc.String())
}

func TestFromYAMLOverridesEligibility(t *testing.T) {
	cfg, err := FromYAML([]byte("eligibility:\n  roles: [agent]\n  statuses: [active]\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"agent"}, cfg.Eligibility.Roles)
	assert.Equal(t, []string{"active"}, cfg.Eligibility.Statuses)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown role", "eligibility:\n  roles: [wizard]\n", "unknown role"},
		{"unknown status", "eligibility:\n  statuses: [retired]\n", "unknown status"},
		{"short lookback", "rhythm:\n  lookback_days: 21\n", "lookback_days"},
		{"bad timezone", "rhythm:\n  timezone: Mars/Olympus\n", "timezone"},
		{"webhook without url", "webhooks:\n  - events: [cadence.recorded]\n", "url is required"},
		{"bad yaml", "rhythm: [", "invalid config yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromYAML([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "agency.yml"), []byte("logging:\n  level: debug\n"), 0o644))
	cfg, err = LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)

	_, err = Load(t.TempDir())
	assert.ErrorContains(t, err, "not found")
}
