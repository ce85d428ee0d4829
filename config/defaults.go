package config

import (
	"slices"
	"time"

	"github.com/ruteri/nexus-storage-gateway/dnslink"
	"github.com/ruteri/nexus-storage-gateway/kvstore"
	"github.com/ruteri/nexus-storage-gateway/storage"
	"github.com/ruteri/nexus-storage-gateway/upload"
	"github.com/spf13/viper"
)

const (
	// DefaultPersistenceType is the catalogue store used when none is configured.
	DefaultPersistenceType = "file"

	// DefaultCataloguePath is the directory of the default file store.
	DefaultCataloguePath = "./data/catalogue"
)

// setViperDefaults registers defaults for keys whose zero value is a valid
// explicit setting, and makes every key visible to environment overrides.
func setViperDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", "127.0.0.1:8080")
	v.SetDefault("server.metrics_addr", "127.0.0.1:8090")
	v.SetDefault("server.enable_pprof", false)
	v.SetDefault("server.drain_duration", 45*time.Second)
	v.SetDefault("server.graceful_shutdown_duration", 30*time.Second)
	v.SetDefault("server.read_timeout", 60*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Minute)

	v.SetDefault("embedded.enabled", true)
	v.SetDefault("embedded.repo_root", "")
	v.SetDefault("embedded.in_memory", false)
	v.SetDefault("embedded.listen_addrs", []string{"/ip4/0.0.0.0/tcp/0"})
	v.SetDefault("embedded.bootstrap_peers", slices.Clone(storage.DefaultBootstrapPeers))
	v.SetDefault("embedded.chunk_size", storage.DefaultChunkSize)
	v.SetDefault("embedded.agent_version", "")

	v.SetDefault("remote.default_provider", storage.DefaultProvider)
	v.SetDefault("remote.timeout", storage.DefaultRemoteTimeout)

	v.SetDefault("gateway.startup_timeout", storage.DefaultStartupTimeout)
	v.SetDefault("gateway.public_gateway", storage.DefaultGatewayBase)

	v.SetDefault("persistence.type", DefaultPersistenceType)
	v.SetDefault("persistence.file.path", DefaultCataloguePath)

	v.SetDefault("uploads.max_file_size", upload.DefaultMaxFileSize)
	v.SetDefault("uploads.allowed_mime_types", slices.Clone(upload.DefaultAllowedMimeTypes))

	v.SetDefault("dnslink.server", dnslink.DefaultServer)
	v.SetDefault("dnslink.cache_size", dnslink.DefaultCacheSize)
	v.SetDefault("dnslink.cache_ttl", dnslink.DefaultCacheTTL)
	v.SetDefault("dnslink.timeout", dnslink.DefaultTimeout)
}

// ApplyDefaults fills fields left at their zero value where zero is not a
// meaningful setting. Explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyEmbeddedDefaults(&cfg.Embedded)

	if cfg.Remote.DefaultProvider == "" {
		cfg.Remote.DefaultProvider = storage.DefaultProvider
	}
	if cfg.Remote.Timeout == 0 {
		cfg.Remote.Timeout = storage.DefaultRemoteTimeout
	}

	if cfg.Gateway.StartupTimeout == 0 {
		cfg.Gateway.StartupTimeout = storage.DefaultStartupTimeout
	}
	if cfg.Gateway.PublicGateway == "" {
		cfg.Gateway.PublicGateway = storage.DefaultGatewayBase
	}

	applyPersistenceDefaults(&cfg.Persistence)

	if cfg.DNSLink.Server == "" {
		cfg.DNSLink.Server = dnslink.DefaultServer
	}
	if cfg.DNSLink.CacheSize == 0 {
		cfg.DNSLink.CacheSize = dnslink.DefaultCacheSize
	}
	if cfg.DNSLink.CacheTTL == 0 {
		cfg.DNSLink.CacheTTL = dnslink.DefaultCacheTTL
	}
	if cfg.DNSLink.Timeout == 0 {
		cfg.DNSLink.Timeout = dnslink.DefaultTimeout
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:8080"
	}
	if cfg.GracefulShutdownDuration == 0 {
		cfg.GracefulShutdownDuration = 30 * time.Second
	}
}

func applyEmbeddedDefaults(cfg *EmbeddedConfig) {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = storage.DefaultChunkSize
	}
	if len(cfg.ListenAddrs) == 0 {
		cfg.ListenAddrs = []string{"/ip4/0.0.0.0/tcp/0"}
	}
	// An explicit empty list disables bootstrapping.
	if cfg.BootstrapPeers == nil {
		cfg.BootstrapPeers = slices.Clone(storage.DefaultBootstrapPeers)
	}
}

func applyPersistenceDefaults(cfg *kvstore.StoreConfig) {
	if cfg.Type == "" {
		cfg.Type = DefaultPersistenceType
	}
	if cfg.Type == "file" {
		if _, ok := cfg.File["path"]; !ok {
			if cfg.File == nil {
				cfg.File = map[string]any{}
			}
			cfg.File["path"] = DefaultCataloguePath
		}
	}
}

// Default returns the configuration used when no file or environment
// override is present.
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{
			MetricsAddr:   "127.0.0.1:8090",
			DrainDuration: 45 * time.Second,
			ReadTimeout:   60 * time.Second,
			WriteTimeout:  5 * time.Minute,
		},
		Embedded: EmbeddedConfig{Enabled: true},
		Uploads:  upload.DefaultPolicy(),
	}
	ApplyDefaults(cfg)
	return cfg
}
