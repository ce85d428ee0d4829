package kvstore

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/ruteri/nexus-storage-gateway/interfaces"
)

// StoreConfig selects a persistence store implementation and carries its
// type-specific options. Only the section matching Type is used.
type StoreConfig struct {
	// Type is one of memory, file, badger, s3, vault.
	Type string `mapstructure:"type" validate:"required,oneof=memory file badger s3 vault"`

	File   map[string]any `mapstructure:"file"`
	Badger map[string]any `mapstructure:"badger"`
	S3     map[string]any `mapstructure:"s3"`
	Vault  map[string]any `mapstructure:"vault"`
}

// fileStoreConfig is the decoded form of StoreConfig.File.
type fileStoreConfig struct {
	Path string `mapstructure:"path"`
}

// NewStore creates a persistence store from configuration.
//
// Supported types:
//   - memory - values kept in process memory
//   - file   - one file per key under file.path
//   - badger - embedded BadgerDB at badger.path
//   - s3     - S3 or S3-compatible bucket
//   - vault  - HashiCorp Vault KV v2 mount
//
// Returns an error if the type is unknown or its options do not decode.
func NewStore(cfg StoreConfig, log *slog.Logger) (interfaces.PersistenceStore, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "memory":
		log.Warn("Using in-memory persistence store, the catalogue will not survive a restart")
		return NewMemoryStore(), nil

	case "file":
		var fileCfg fileStoreConfig
		if err := mapstructure.Decode(cfg.File, &fileCfg); err != nil {
			return nil, fmt.Errorf("invalid file store config: %w", err)
		}
		log.Debug("Creating file persistence store", slog.String("path", fileCfg.Path))
		return NewFileStore(fileCfg.Path, log)

	case "badger":
		var badgerCfg BadgerStoreConfig
		if err := mapstructure.Decode(cfg.Badger, &badgerCfg); err != nil {
			return nil, fmt.Errorf("invalid badger store config: %w", err)
		}
		log.Debug("Creating badger persistence store", slog.String("path", badgerCfg.Path))
		return NewBadgerStore(badgerCfg, log)

	case "s3":
		var s3Cfg S3StoreConfig
		if err := mapstructure.Decode(cfg.S3, &s3Cfg); err != nil {
			return nil, fmt.Errorf("invalid s3 store config: %w", err)
		}
		log.Debug("Creating S3 persistence store", slog.String("bucket", s3Cfg.Bucket))
		return NewS3Store(s3Cfg, log)

	case "vault":
		var vaultCfg VaultStoreConfig
		if err := mapstructure.Decode(cfg.Vault, &vaultCfg); err != nil {
			return nil, fmt.Errorf("invalid vault store config: %w", err)
		}
		log.Debug("Creating Vault persistence store", slog.String("address", vaultCfg.Address))
		return NewVaultStore(vaultCfg, log)

	default:
		return nil, fmt.Errorf("unsupported persistence store type: %s", cfg.Type)
	}
}
