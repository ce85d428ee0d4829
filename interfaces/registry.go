package interfaces

import (
	"context"
	"errors"
	"time"
)

// FileRecord is the catalogue entry for one uploaded file.
//
// Only Pinned changes after creation. CID in particular is assigned once from
// the ingest result and is never rewritten by any registry operation.
type FileRecord struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	MimeType  string    `json:"mimeType"`
	CID       CID       `json:"cid"`
	CreatedAt time.Time `json:"createdAt"`
	Pinned    bool      `json:"pinned"`
}

// IngestResult carries what the caller knows about a file after the gateway
// accepted it. The registry turns it into a FileRecord.
type IngestResult struct {
	Name     string
	Size     int64
	MimeType string
	CID      CID
}

// RegistryStats summarises a catalogue.
type RegistryStats struct {
	TotalFiles  int   `json:"totalFiles"`
	TotalBytes  int64 `json:"totalBytes"`
	PinnedFiles int   `json:"pinnedFiles"`
}

var (
	// ErrKeyNotFound is returned by a PersistenceStore when no value is
	// stored under the requested key.
	ErrKeyNotFound = errors.New("key not found")

	// ErrPersistenceCorrupt marks a stored catalogue that could not be
	// decoded. The registry recovers by starting from an empty catalogue.
	ErrPersistenceCorrupt = errors.New("persisted catalogue is corrupt")

	// ErrUnsupportedCatalogueVersion is returned when the stored catalogue
	// was written by a newer schema than this build understands.
	ErrUnsupportedCatalogueVersion = errors.New("unsupported catalogue version")
)

// PersistenceStore is a string-keyed durable blob store. A Set replaces the
// whole value atomically.
type PersistenceStore interface {
	// Get returns the value stored under key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// Name returns identifier for logging.
	Name() string
}
