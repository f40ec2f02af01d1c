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
	t.Setenv("HUDDLE_DEVICE_NAME", "kiosk")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "kiosk", cfg.Device.Name)
	assert.Equal(t, DeviceUUID("kiosk"), cfg.Device.UUID)
	assert.Equal(t, "huddle.db", cfg.Registry.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Encoding)
	assert.Equal(t, "change", cfg.Sync.BroadcastPolicy)
	assert.True(t, cfg.Sync.RequestResyncOnPartial)
	assert.Equal(t, ":7788", cfg.Host.Listen)
	assert.Equal(t, "kiosk", cfg.Host.GroupName)
	assert.Equal(t, []string{"127.0.0.1:7788"}, cfg.Client.Candidates)
	assert.Equal(t, 2*time.Second, cfg.Client.ScanInterval)
	assert.Equal(t, 30*time.Second, cfg.Client.ScanTimeout)
}

func TestLoad_File(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "host.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "Gate Tablet", cfg.Device.Name)
	assert.Equal(t, "/var/lib/huddle/gate.db", cfg.Registry.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Encoding)
	assert.Equal(t, "growth", cfg.Sync.BroadcastPolicy)
	assert.False(t, cfg.Sync.RequestResyncOnPartial)
	assert.Equal(t, ":9000", cfg.Host.Listen)
	assert.Equal(t, "Gate Tablet", cfg.Host.GroupName)
	assert.Equal(t, "letmein123", cfg.Host.Passphrase)
	assert.Equal(t, "spring-meetup", cfg.Host.EventName)
	assert.Equal(t, []string{"192.168.49.1:9000", "10.0.0.2:9000"}, cfg.Client.Candidates)
	assert.Equal(t, 500*time.Millisecond, cfg.Client.ScanInterval)
	assert.Equal(t, 30*time.Second, cfg.Client.ScanTimeout, "unset keys keep defaults")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("HUDDLE_BROADCAST_POLICY", "change")
	t.Setenv("HUDDLE_REQUEST_RESYNC_ON_PARTIAL", "true")
	t.Setenv("HUDDLE_CANDIDATES", " a:1, b:2 ,")
	t.Setenv("HUDDLE_SCAN_TIMEOUT_SECONDS", "5")

	cfg, err := Load(filepath.Join("testdata", "host.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "change", cfg.Sync.BroadcastPolicy)
	assert.True(t, cfg.Sync.RequestResyncOnPartial)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.Client.Candidates)
	assert.Equal(t, 5*time.Second, cfg.Client.ScanTimeout)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config file")
}

func TestLoad_InvalidPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("device:\n  name: x\nsync:\n  broadcast_policy: always\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broadcast_policy")
}

func TestDeviceUUID_Stable(t *testing.T) {
	assert.Equal(t, DeviceUUID("phone"), DeviceUUID("phone"))
	assert.NotEqual(t, DeviceUUID("phone"), DeviceUUID("tablet"))
}

func TestLoadWithOverrides(t *testing.T) {
	t.Setenv("HUDDLE_REGISTRY_PATH", "/from/env.db")

	cfg, err := LoadWithOverrides(filepath.Join("testdata", "host.yaml"), map[string]any{
		"registry.path": "/from/flag.db",
		"device.name":   "Back Door",
	})
	require.NoError(t, err)

	assert.Equal(t, "/from/flag.db", cfg.Registry.Path)
	assert.Equal(t, "Back Door", cfg.Device.Name)
	assert.Equal(t, DeviceUUID("Back Door"), cfg.Device.UUID)
	assert.Equal(t, "Back Door", cfg.Host.GroupName)
}
