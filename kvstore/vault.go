package kvstore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/ruteri/nexus-storage-gateway/interfaces"
)

// VaultStoreConfig contains configuration for a Vault KV v2 store.
type VaultStoreConfig struct {
	Address string `mapstructure:"address"`
	Token   string `mapstructure:"token"`
	Mount   string `mapstructure:"mount"`
	Prefix  string `mapstructure:"prefix"`
}

// VaultStore keeps values in a HashiCorp Vault KV version 2 secrets engine.
// Values are base64 encoded inside the secret's "content" field.
type VaultStore struct {
	client *api.Client
	mount  string
	prefix string
	log    *slog.Logger
}

// NewVaultStore creates a Vault-backed store authenticated with a token.
func NewVaultStore(cfg VaultStoreConfig, log *slog.Logger) (*VaultStore, error) {
	if cfg.Address == "" {
		return nil, errors.New("vault store requires an address")
	}

	config := api.DefaultConfig()
	config.Address = cfg.Address
	config.Timeout = 30 * time.Second

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}

	mount := strings.Trim(cfg.Mount, "/")
	if mount == "" {
		mount = "secret"
	}

	return &VaultStore{
		client: client,
		mount:  mount,
		prefix: strings.Trim(cfg.Prefix, "/"),
		log:    log,
	}, nil
}

// Get reads the latest version of the secret for key.
func (s *VaultStore) Get(ctx context.Context, key string) ([]byte, error) {
	path := s.dataPath(key)

	secret, err := s.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		s.log.Error("Failed to read from Vault", slog.String("path", path), "err", err)
		return nil, fmt.Errorf("failed to read from Vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, interfaces.ErrKeyNotFound
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok || data == nil {
		// KV v2 returns a nil data map for deleted versions.
		return nil, interfaces.ErrKeyNotFound
	}

	content, ok := data["content"].(string)
	if !ok {
		return nil, fmt.Errorf("content key not found in Vault data at %s", path)
	}

	value, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, fmt.Errorf("invalid content encoding in Vault data: %w", err)
	}
	return value, nil
}

// Set writes a new version of the secret for key.
func (s *VaultStore) Set(ctx context.Context, key string, value []byte) error {
	start := time.Now()
	path := s.dataPath(key)

	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"content": base64.StdEncoding.EncodeToString(value),
		},
	}

	if _, err := s.client.Logical().WriteWithContext(ctx, path, secretData); err != nil {
		s.log.Error("Failed to write to Vault", slog.String("path", path), "err", err)
		return fmt.Errorf("failed to write to Vault: %w", err)
	}

	s.log.Debug("Stored value in Vault",
		slog.String("path", path),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// Remove deletes every version of the secret for key.
func (s *VaultStore) Remove(ctx context.Context, key string) error {
	path := s.metadataPath(key)
	if _, err := s.client.Logical().DeleteWithContext(ctx, path); err != nil {
		return fmt.Errorf("failed to delete from Vault: %w", err)
	}
	return nil
}

// Name returns a unique identifier for this store.
func (s *VaultStore) Name() string {
	return fmt.Sprintf("vault-%s-%s", s.mount, s.prefix)
}

func (s *VaultStore) dataPath(key string) string {
	return s.join("data", key)
}

func (s *VaultStore) metadataPath(key string) string {
	return s.join("metadata", key)
}

func (s *VaultStore) join(kind, key string) string {
	if s.prefix == "" {
		return fmt.Sprintf("%s/%s/%s", s.mount, kind, key)
	}
	return fmt.Sprintf("%s/%s/%s/%s", s.mount, kind, s.prefix, key)
}
