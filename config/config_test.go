package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ruteri/nexus-storage-gateway/storage"
	"github.com/ruteri/nexus-storage-gateway/upload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_NoConfigFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.Server.ListenAddr)
	assert.Equal(t, 30*time.Second, cfg.Server.GracefulShutdownDuration)
	assert.True(t, cfg.Embedded.Enabled)
	assert.Equal(t, storage.DefaultChunkSize, cfg.Embedded.ChunkSize)
	assert.Equal(t, storage.DefaultProvider, cfg.Remote.DefaultProvider)
	assert.Equal(t, storage.DefaultRemoteTimeout, cfg.Remote.Timeout)
	assert.Equal(t, storage.DefaultStartupTimeout, cfg.Gateway.StartupTimeout)
	assert.Equal(t, storage.DefaultGatewayBase, cfg.Gateway.PublicGateway)
	assert.Equal(t, DefaultPersistenceType, cfg.Persistence.Type)
	assert.Equal(t, DefaultCataloguePath, cfg.Persistence.File["path"])
	assert.Equal(t, storage.DefaultBootstrapPeers, cfg.Embedded.BootstrapPeers)
	assert.Equal(t, int64(upload.DefaultMaxFileSize), cfg.Uploads.MaxFileSize)
	assert.ElementsMatch(t, upload.DefaultAllowedMimeTypes, cfg.Uploads.AllowedMimeTypes)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_addr: "0.0.0.0:9000"
  enable_pprof: true
embedded:
  enabled: false
  in_memory: true
  chunk_size: 4096
remote:
  default_provider: pinata
  timeout: 10s
  providers:
    pinata: "https://api.pinata.cloud"
persistence:
  type: badger
  badger:
    in_memory: true
uploads:
  max_file_size: 1024
  allowed_mime_types:
    - text/plain
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Server.ListenAddr)
	assert.True(t, cfg.Server.EnablePprof)
	assert.False(t, cfg.Embedded.Enabled)
	assert.True(t, cfg.Embedded.InMemory)
	assert.Equal(t, 4096, cfg.Embedded.ChunkSize)
	assert.Equal(t, "pinata", cfg.Remote.DefaultProvider)
	assert.Equal(t, 10*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, "https://api.pinata.cloud", cfg.Remote.Providers["pinata"])
	assert.Equal(t, "badger", cfg.Persistence.Type)
	assert.Equal(t, true, cfg.Persistence.Badger["in_memory"])
	assert.Equal(t, int64(1024), cfg.Uploads.MaxFileSize)
	assert.Equal(t, []string{"text/plain"}, cfg.Uploads.AllowedMimeTypes)

	opts := cfg.GatewayOptions()
	assert.False(t, opts.EmbeddedEnabled)
	assert.Equal(t, "pinata", opts.DefaultProvider)
	assert.Equal(t, 4096, opts.Embedded.ChunkSize)
	assert.Equal(t, 10*time.Second, opts.RemoteTimeout)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
remote:
  default_provider: local
`)
	t.Setenv("NEXUS_REMOTE_DEFAULT_PROVIDER", "infura")
	t.Setenv("NEXUS_EMBEDDED_ENABLED", "false")
	t.Setenv("NEXUS_SERVER_LISTEN_ADDR", "127.0.0.1:7777")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "infura", cfg.Remote.DefaultProvider)
	assert.False(t, cfg.Embedded.Enabled)
	assert.Equal(t, "127.0.0.1:7777", cfg.Server.ListenAddr)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [unterminated")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			modify: func(*Config) {},
		},
		{
			name:    "unknown default provider",
			modify:  func(c *Config) { c.Remote.DefaultProvider = "nowhere" },
			wantErr: "unknown remote provider",
		},
		{
			name:    "invalid provider url",
			modify:  func(c *Config) { c.Remote.Providers = map[string]string{"bad": "not a url"} },
			wantErr: "url",
		},
		{
			name:    "unknown persistence type",
			modify:  func(c *Config) { c.Persistence.Type = "etcd" },
			wantErr: "oneof",
		},
		{
			name:    "chunk size too small",
			modify:  func(c *Config) { c.Embedded.ChunkSize = 16 },
			wantErr: "min",
		},
		{
			name:    "negative max file size",
			modify:  func(c *Config) { c.Uploads.MaxFileSize = -1 },
			wantErr: "gte",
		},
		{
			name:    "malformed mime type",
			modify:  func(c *Config) { c.Uploads.AllowedMimeTypes = []string{"not/a/type"} },
			wantErr: "allowed_mime_types",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{ListenAddr: ":1234"},
		Remote: RemoteConfig{DefaultProvider: "infura", Timeout: time.Second},
	}
	ApplyDefaults(cfg)

	assert.Equal(t, ":1234", cfg.Server.ListenAddr)
	assert.Equal(t, "infura", cfg.Remote.DefaultProvider)
	assert.Equal(t, time.Second, cfg.Remote.Timeout)
	assert.Equal(t, "file", cfg.Persistence.Type)
	assert.Equal(t, DefaultCataloguePath, cfg.Persistence.File["path"])
}

func TestDefault_MatchesLoadWithoutFile(t *testing.T) {
	loaded, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, loaded.Persistence.Type, def.Persistence.Type)
	assert.Equal(t, loaded.Persistence.File["path"], def.Persistence.File["path"])
	assert.Equal(t, loaded.Embedded.BootstrapPeers, def.Embedded.BootstrapPeers)
	assert.Equal(t, storage.DefaultBootstrapPeers, def.Embedded.BootstrapPeers)
	assert.NoError(t, Validate(def))
}

func TestLoad_EmptyBootstrapListDisablesBootstrap(t *testing.T) {
	path := writeConfig(t, `
embedded:
  bootstrap_peers: []
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Embedded.BootstrapPeers)
}
