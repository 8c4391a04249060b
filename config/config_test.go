package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-ipsecmgr/config"
)

func TestDefault(t *testing.T) {
	cfg, err := config.Default()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Quotas.Spis)
	assert.Equal(t, 4, cfg.Quotas.Transforms)
	assert.Equal(t, 2, cfg.Quotas.EncapSockets)
	assert.Equal(t, "/run/ipsecmgr/ipsecmgr.sock", cfg.Server.SocketPath)
	assert.Empty(t, cfg.Server.HealthAddress)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Empty(t, cfg.Audit.Path)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Quotas.Spis)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ipsecmgr.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[quotas]
spis = 2

[logging]
level = "debug,manager=trace"
`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Quotas.Spis)
	assert.Equal(t, 4, cfg.Quotas.Transforms, "unset keys keep their defaults")
	assert.Equal(t, "debug,manager=trace", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "/run/ipsecmgr/ipsecmgr.sock", cfg.Server.SocketPath)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestLoadMalformedFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[quotas\nspis = 2"), 0o600))

	_, err := config.Load(path)
	assert.Error(t, err)
}
