package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/holofab/internal/config"
	"github.com/banshee-data/holofab/internal/settings"
)

func TestLoadConfig_MissingDefaultFallsBack(t *testing.T) {
	// Tests run in cmd/holofab, where the repository default is absent.
	cfg, err := loadConfig(config.DefaultConfigPath)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.GetHTTPListen())
}

func TestLoadConfig_MissingExplicitPath(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestLoadConfig_RepositoryDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join("..", "..", config.DefaultConfigPath))
	require.NoError(t, err)
	h, w := cfg.GetSLMShape()
	assert.Equal(t, 512, h)
	assert.Equal(t, 512, w)
}

func TestNewCalibration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"splay": 0.02, "slm_height": 64, "slm_width": 128}`), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)

	cal, err := newCalibration(cfg)
	require.NoError(t, err)
	p := cal.Parameters()
	assert.Equal(t, 0.02, p.Splay)
	assert.Equal(t, 64, p.Height)
	assert.Equal(t, 128, p.Width)
}

func TestRestoreCalibration(t *testing.T) {
	store, err := settings.Open(filepath.Join(t.TempDir(), "settings.db"))
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	cal, err := newCalibration(config.Empty())
	require.NoError(t, err)
	require.NoError(t, restoreCalibration(ctx, store, cal))

	require.NoError(t, store.Save(ctx, settings.CalibrationScope, map[string]float64{"thetac": 12}))
	require.NoError(t, restoreCalibration(ctx, store, cal))
	assert.Equal(t, 12.0, cal.Parameters().Thetac)

	require.NoError(t, store.Save(ctx, settings.CalibrationScope, map[string]float64{"bogus": 1}))
	assert.Error(t, restoreCalibration(ctx, store, cal))
}

func TestFlagDefaults(t *testing.T) {
	assert.Equal(t, config.DefaultConfigPath, *configPath)
	assert.False(t, *noDB)

	cfg := config.Empty()
	applyFlags(cfg)
	assert.Nil(t, cfg.HTTPListen)
	assert.Nil(t, cfg.DBPath)
}
