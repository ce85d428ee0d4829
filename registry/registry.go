package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/nexus-storage-gateway/interfaces"
	"github.com/ruteri/nexus-storage-gateway/metrics"
)

// FileRegistry is the durable catalogue of uploaded files.
//
// Every mutation builds the next catalogue, writes it to the persistence
// store and only then replaces the in-memory state, so a failed write leaves
// the registry unchanged. The registry never talks to the storage gateway.
type FileRegistry struct {
	mu sync.RWMutex

	store    interfaces.PersistenceStore
	files    []interfaces.FileRecord
	selected string
	loadErr  error

	now   func() time.Time
	newID func() string
	log   *slog.Logger
}

// NewFileRegistry creates an empty registry backed by store. Call Load to
// restore a persisted catalogue.
func NewFileRegistry(store interfaces.PersistenceStore, log *slog.Logger) *FileRegistry {
	return &FileRegistry{
		store: store,
		files: []interfaces.FileRecord{},
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
		log:   log,
	}
}

// AddFile registers an ingested file and returns the stored record.
func (r *FileRegistry) AddFile(ctx context.Context, ingest interfaces.IngestResult) (interfaces.FileRecord, error) {
	if ingest.CID.IsZero() {
		return interfaces.FileRecord{}, errors.New("ingest result has no cid")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record := interfaces.FileRecord{
		ID:        r.uniqueID(),
		Name:      ingest.Name,
		Size:      ingest.Size,
		MimeType:  ingest.MimeType,
		CID:       ingest.CID,
		CreatedAt: r.now(),
		Pinned:    false,
	}

	next := append(slices.Clone(r.files), record)
	if err := r.commit(ctx, next); err != nil {
		return interfaces.FileRecord{}, err
	}

	r.log.Info("File registered",
		slog.String("id", record.ID),
		slog.String("name", record.Name),
		slog.String("cid", record.CID.String()),
		slog.Int64("size", record.Size))
	return record, nil
}

func (r *FileRegistry) uniqueID() string {
	for {
		id := r.newID()
		if r.indexOf(id) < 0 {
			return id
		}
	}
}

// RemoveFile deletes the record with id. Removing an unknown id is a no-op.
func (r *FileRegistry) RemoveFile(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(id)
	if i < 0 {
		return nil
	}

	next := slices.Delete(slices.Clone(r.files), i, i+1)
	if err := r.commit(ctx, next); err != nil {
		return err
	}
	if r.selected == id {
		r.selected = ""
	}

	r.log.Info("File removed", slog.String("id", id))
	return nil
}

// TogglePin flips the pinned flag of a record. The bool reports whether the
// record exists; an unknown id changes nothing.
func (r *FileRegistry) TogglePin(ctx context.Context, id string) (interfaces.FileRecord, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(id)
	if i < 0 {
		return interfaces.FileRecord{}, false, nil
	}

	next := slices.Clone(r.files)
	next[i].Pinned = !next[i].Pinned
	if err := r.commit(ctx, next); err != nil {
		return interfaces.FileRecord{}, true, err
	}

	r.log.Debug("Pin toggled", slog.String("id", id), slog.Bool("pinned", next[i].Pinned))
	return next[i], true, nil
}

// Clear removes every record and the selection.
func (r *FileRegistry) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.commit(ctx, []interfaces.FileRecord{}); err != nil {
		return err
	}
	r.selected = ""
	r.log.Info("Catalogue cleared")
	return nil
}

// Select marks id as the selected record. An unknown id clears the selection.
func (r *FileRegistry) Select(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.indexOf(id) < 0 {
		r.selected = ""
		return false
	}
	r.selected = id
	return true
}

// ClearSelection deselects the selected record.
func (r *FileRegistry) ClearSelection() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selected = ""
}

// Selected returns the selected record, if any.
func (r *FileRegistry) Selected() (interfaces.FileRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.selected == "" {
		return interfaces.FileRecord{}, false
	}
	i := r.indexOf(r.selected)
	if i < 0 {
		return interfaces.FileRecord{}, false
	}
	return r.files[i], true
}

// FindByID returns the record with id.
func (r *FileRegistry) FindByID(id string) (interfaces.FileRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i := r.indexOf(id)
	if i < 0 {
		return interfaces.FileRecord{}, false
	}
	return r.files[i], true
}

// FindByCID returns the first record carrying cid.
func (r *FileRegistry) FindByCID(cid interfaces.CID) (interfaces.FileRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, f := range r.files {
		if f.CID == cid {
			return f, true
		}
	}
	return interfaces.FileRecord{}, false
}

// Search returns records whose name or CID contains query, ignoring case.
// An empty query returns the whole catalogue. Results keep insertion order.
func (r *FileRegistry) Search(query string) []interfaces.FileRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return slices.Clone(r.files)
	}

	out := []interfaces.FileRecord{}
	for _, f := range r.files {
		if strings.Contains(strings.ToLower(f.Name), q) ||
			strings.Contains(strings.ToLower(f.CID.String()), q) {
			out = append(out, f)
		}
	}
	return out
}

// List returns a copy of the catalogue in insertion order.
func (r *FileRegistry) List() []interfaces.FileRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.files)
}

// Len returns the number of records.
func (r *FileRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.files)
}

// Stats summarises the catalogue.
func (r *FileRegistry) Stats() interfaces.RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := interfaces.RegistryStats{TotalFiles: len(r.files)}
	for _, f := range r.files {
		stats.TotalBytes += f.Size
		if f.Pinned {
			stats.PinnedFiles++
		}
	}
	return stats
}

// Persist writes the current catalogue to the store.
func (r *FileRegistry) Persist(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.write(ctx, r.files)
}

// Load replaces the catalogue with the persisted one.
//
// A missing entry yields an empty catalogue. An entry that cannot be decoded
// also yields an empty catalogue; the cause is logged and reported by
// LastLoadError. A catalogue written by a newer schema fails with
// ErrUnsupportedCatalogueVersion and leaves the registry untouched, as do
// store read failures.
func (r *FileRegistry) Load(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.loadErr = nil
	data, err := r.store.Get(ctx, CatalogueKey)
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		r.replace([]interfaces.FileRecord{})
		r.log.Debug("No persisted catalogue, starting empty", slog.String("store", r.store.Name()))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read catalogue: %w", err)
	}

	files, migrated, err := decodeCatalogue(data)
	switch {
	case errors.Is(err, interfaces.ErrUnsupportedCatalogueVersion):
		r.log.Error("Persisted catalogue uses an unsupported version", "err", err)
		return err
	case err != nil:
		r.loadErr = fmt.Errorf("%w: %v", interfaces.ErrPersistenceCorrupt, err)
		metrics.RegistryCorruptLoads.Inc()
		r.log.Error("Persisted catalogue is corrupt, starting empty",
			slog.String("store", r.store.Name()),
			"err", err)
		r.replace([]interfaces.FileRecord{})
		return nil
	}

	r.replace(files)
	if migrated {
		r.log.Info("Migrated legacy catalogue", slog.Int("files", len(files)))
	}
	r.log.Info("Catalogue loaded",
		slog.String("store", r.store.Name()),
		slog.Int("files", len(files)))
	return nil
}

// LastLoadError returns the corruption error from the last Load, or nil.
func (r *FileRegistry) LastLoadError() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loadErr
}

func (r *FileRegistry) indexOf(id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(r.files, func(f interfaces.FileRecord) bool {
		return f.ID == id
	})
}

// commit persists next and then makes it the current catalogue.
func (r *FileRegistry) commit(ctx context.Context, next []interfaces.FileRecord) error {
	if err := r.write(ctx, next); err != nil {
		return err
	}
	r.replace(next)
	return nil
}

func (r *FileRegistry) replace(files []interfaces.FileRecord) {
	r.files = files
	if r.selected != "" && r.indexOf(r.selected) < 0 {
		r.selected = ""
	}
	metrics.RegistryFiles.Set(float64(len(files)))
}

func (r *FileRegistry) write(ctx context.Context, files []interfaces.FileRecord) error {
	data, err := encodeCatalogue(files)
	if err != nil {
		return fmt.Errorf("failed to encode catalogue: %w", err)
	}
	if err := r.store.Set(ctx, CatalogueKey, data); err != nil {
		r.log.Error("Failed to persist catalogue",
			slog.String("store", r.store.Name()),
			"err", err)
		return fmt.Errorf("failed to persist catalogue: %w", err)
	}
	return nil
}
