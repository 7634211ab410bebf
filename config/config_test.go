package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SOURCE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http", cfg.Fetch.Mode)
	assert.Equal(t, 10, cfg.Fetch.MaxAttempts)
	assert.Equal(t, 60*time.Second, cfg.Fetch.RequestTimeout)
	assert.Equal(t, 5*time.Second, cfg.Fetch.TransportDelay)
	assert.Equal(t, 60*time.Second, cfg.Fetch.BlockedDelayMin)
	assert.Equal(t, 600*time.Second, cfg.Fetch.BlockedDelayMax)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "metadata.json", cfg.CheckpointPath)
	assert.Equal(t, "motorcycles", cfg.Source.Collection)
	assert.Equal(t, 40, cfg.Source.NominalPageSize)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SOURCE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("FETCH_MODE", "Browser")
	t.Setenv("FETCH_MAX_ATTEMPTS", "3")
	t.Setenv("PAGE_DELAY_MIN", "2s")
	t.Setenv("PAGE_DELAY_MAX", "4s")
	t.Setenv("EXPORT_FORMAT", "xlsx")
	t.Setenv("FETCH_TIMEOUT", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "browser", cfg.Fetch.Mode)
	assert.Equal(t, 3, cfg.Fetch.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Fetch.PageDelayMin)
	assert.Equal(t, 4*time.Second, cfg.Fetch.PageDelayMax)
	assert.Equal(t, "xlsx", cfg.Export.Format)
	assert.Equal(t, 60*time.Second, cfg.Fetch.RequestTimeout)
}

func TestLoad_SourceFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "source.yaml")
	require.NoError(t, os.WriteFile(path, []byte("base_url: https://example.test/vehicles/\ncollection: scooters\n"), 0644))
	t.Setenv("SOURCE_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://example.test/vehicles", cfg.Source.BaseURL)
	assert.Equal(t, "scooters", cfg.Source.Collection)
	assert.Equal(t, "__NEXT_DATA__", cfg.Source.DataAnchorID)
}

func TestValidate(t *testing.T) {
	t.Setenv("SOURCE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	cases := map[string]map[string]string{
		"unknown fetch mode":    {"FETCH_MODE": "carrier-pigeon"},
		"postgres without url":  {"STORE_DRIVER": "postgres"},
		"unknown store":         {"STORE_DRIVER": "mongo"},
		"unknown export format": {"EXPORT_FORMAT": "parquet"},
		"zero attempts":         {"FETCH_MAX_ATTEMPTS": "0"},
		"inverted page delay":   {"PAGE_DELAY_MIN": "10s", "PAGE_DELAY_MAX": "1s"},
	}

	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
		})
	}
}
