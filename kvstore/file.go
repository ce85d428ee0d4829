package kvstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	"github.com/ruteri/nexus-storage-gateway/interfaces"
)

// FileStore keeps one file per key under a base directory.
// Writes go to a temporary file that is renamed over the target, so a reader
// never observes a half written value.
type FileStore struct {
	baseDir string
	log     *slog.Logger
}

// NewFileStore creates a file store rooted at baseDir, creating the directory
// if it does not exist.
func NewFileStore(baseDir string, log *slog.Logger) (*FileStore, error) {
	if baseDir == "" {
		return nil, errors.New("file store requires a base directory")
	}

	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FileStore{
		baseDir: baseDir,
		log:     log,
	}, nil
}

// Get reads the value stored under key.
func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	path, err := s.pathFor(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, interfaces.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	s.log.Debug("Read value from file",
		slog.String("path", path),
		slog.Int("size", len(data)))

	return data, nil
}

// Set atomically replaces the value stored under key.
func (s *FileStore) Set(ctx context.Context, key string, value []byte) error {
	path, err := s.pathFor(key)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.baseDir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace file: %w", err)
	}

	s.log.Debug("Stored value in file",
		slog.String("path", path),
		slog.Int("size", len(value)))

	return nil
}

// Remove deletes the file backing key.
func (s *FileStore) Remove(ctx context.Context, key string) error {
	path, err := s.pathFor(key)
	if err != nil {
		return err
	}

	err = os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove file: %w", err)
	}
	return nil
}

// Name returns a unique identifier for this store.
func (s *FileStore) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(s.baseDir))
}

func (s *FileStore) pathFor(key string) (string, error) {
	switch key {
	case "", ".", "..":
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(s.baseDir, url.PathEscape(key)), nil
}
