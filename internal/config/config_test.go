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

	assert.NotEmpty(t, cfg.StoreDir)
	assert.Equal(t, 60*time.Second, cfg.CaptureTimeout)
	assert.Equal(t, 1500*time.Millisecond, cfg.QuietWindow)
	assert.True(t, cfg.Headless)
	assert.Equal(t, 8080, cfg.ServePort)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("WEBMOCK_STORE_DIR", "/tmp/wm-test")
	t.Setenv("WEBMOCK_CAPTURE_TIMEOUT", "90s")
	t.Setenv("WEBMOCK_HEADLESS", "false")
	t.Setenv("WEBMOCK_SERVE_PORT", "9001")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/wm-test", cfg.StoreDir)
	assert.Equal(t, 90*time.Second, cfg.CaptureTimeout)
	assert.False(t, cfg.Headless)
	assert.Equal(t, 9001, cfg.ServePort)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("WEBMOCK_CAPTURE_TIMEOUT", "not-a-duration")
	t.Setenv("WEBMOCK_SERVE_PORT", "lots")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, cfg.CaptureTimeout)
	assert.Equal(t, 8080, cfg.ServePort)
}
