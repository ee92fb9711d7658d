package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, defaultServerConfig(), cfg)
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"hub_addr: \":9000\"\nmqtt:\n  broker: \"localhost:1883\"\n",
	), 0o644))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.HubAddr)
	assert.Equal(t, "localhost:1883", cfg.MQTT.Broker)
	// untouched fields keep their defaults
	assert.Equal(t, ":4242", cfg.PageAddr)
	assert.Equal(t, "camera-relay", cfg.MQTT.ClientID)
}

func TestLoadConfigRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml::"), 0o644))

	_, err := loadConfig(path)
	assert.Error(t, err)
}
