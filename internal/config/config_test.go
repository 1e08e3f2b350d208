package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "mongodb", cfg.Storage.Type)
	assert.Equal(t, 900, cfg.Sync.FatMaxItems)
	assert.Equal(t, 600, cfg.Sync.CfMaxItems)
	assert.Equal(t, 10*time.Minute, cfg.Sync.Interval)
	assert.Equal(t, 5, cfg.Sync.RetryCount)
	assert.Equal(t, 0.5, cfg.Sync.RequestsPerSecond)
	assert.Equal(t, 8080, cfg.Server.Port)

	assert.Equal(t, time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), cfg.Sync.FatBackfillStart.UTC())
	assert.Equal(t, time.Date(2016, 11, 1, 0, 0, 0, 0, time.UTC), cfg.Sync.CfBackfillStart.UTC())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORAGE_TYPE", "memory")
	t.Setenv("FAT_MAX_ITEMS", "50")
	t.Setenv("SYNC_INTERVAL", "1h")
	t.Setenv("FAT_BACKFILL_START", "2023-06-01T00:00:00Z")
	t.Setenv("LOG_PRETTY", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, 50, cfg.Sync.FatMaxItems)
	assert.Equal(t, time.Hour, cfg.Sync.Interval)
	assert.Equal(t, time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC), cfg.Sync.FatBackfillStart.UTC())
	assert.True(t, cfg.Log.Pretty)
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("FAT_MAX_ITEMS", "lots")
	t.Setenv("SYNC_INTERVAL", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 900, cfg.Sync.FatMaxItems)
	assert.Equal(t, 10*time.Minute, cfg.Sync.Interval)
}

func TestLoadInvalidBackfillStart(t *testing.T) {
	t.Setenv("CF_BACKFILL_START", "last tuesday")

	_, err := Load()
	assert.Error(t, err)
}

func TestMaxItems(t *testing.T) {
	cfg := SyncConfig{FatMaxItems: 900, CfMaxItems: 600}
	assert.Equal(t, 900, cfg.MaxItems("FIND_A_TENDER"))
	assert.Equal(t, 600, cfg.MaxItems("CONTRACTS_FINDER"))
	assert.Equal(t, 600, cfg.MaxItems("whatever"))
}
