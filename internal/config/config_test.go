package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 20*time.Second, cfg.InviteTimeout)
	assert.Equal(t, 10*time.Second, cfg.RateLimitWindow)
	assert.Equal(t, 60, cfg.RateLimitMax)
	assert.Equal(t, 60*time.Second, cfg.SweepInterval)
	assert.Equal(t, int64(32768), cfg.ReadLimit)
	assert.Equal(t, 32, cfg.SendBuffer)
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, *Default(), *cfg)
}
