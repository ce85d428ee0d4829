package registry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ruteri/nexus-storage-gateway/common"
	"github.com/ruteri/nexus-storage-gateway/interfaces"
	"github.com/ruteri/nexus-storage-gateway/kvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore wraps a MemoryStore and fails writes or reads on demand.
type flakyStore struct {
	*kvstore.MemoryStore
	failSet error
	failGet error
}

func (s *flakyStore) Set(ctx context.Context, key string, value []byte) error {
	if s.failSet != nil {
		return s.failSet
	}
	return s.MemoryStore.Set(ctx, key, value)
}

func (s *flakyStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.failGet != nil {
		return nil, s.failGet
	}
	return s.MemoryStore.Get(ctx, key)
}

func newTestRegistry(t *testing.T) (*FileRegistry, *flakyStore) {
	t.Helper()
	store := &flakyStore{MemoryStore: kvstore.NewMemoryStore()}
	return NewFileRegistry(store, common.DiscardLogger()), store
}

func ingest(name string, size int64, cid string) interfaces.IngestResult {
	return interfaces.IngestResult{Name: name, Size: size, MimeType: "text/plain", CID: interfaces.CID(cid)}
}

func TestFileRegistry_Scenario(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	record, err := reg.AddFile(ctx, ingest("a.txt", 12, "Qm123"))
	require.NoError(t, err)
	assert.NotEmpty(t, record.ID)
	assert.False(t, record.Pinned)
	assert.Equal(t, interfaces.CID("Qm123"), record.CID)
	assert.False(t, record.CreatedAt.IsZero())

	toggled, found, err := reg.TogglePin(ctx, record.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, toggled.Pinned)

	byCID, ok := reg.FindByCID("Qm123")
	require.True(t, ok)
	assert.Equal(t, record.ID, byCID.ID)
	assert.True(t, byCID.Pinned)

	require.NoError(t, reg.RemoveFile(ctx, record.ID))
	_, ok = reg.FindByCID("Qm123")
	assert.False(t, ok)
	_, ok = reg.FindByID(record.ID)
	assert.False(t, ok)
}

func TestFileRegistry_UniqueIDs(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		rec, err := reg.AddFile(ctx, ingest(fmt.Sprintf("f%d", i), int64(i), "QmSame"))
		require.NoError(t, err)
		require.False(t, seen[rec.ID], "duplicate id %s", rec.ID)
		seen[rec.ID] = true
	}
	assert.Equal(t, 200, reg.Len())
}

func TestFileRegistry_UniqueIDsWithCollidingGenerator(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	ids := []string{"fixed", "fixed", "fixed", "other"}
	reg.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	first, err := reg.AddFile(ctx, ingest("a", 1, "QmA"))
	require.NoError(t, err)
	second, err := reg.AddFile(ctx, ingest("b", 1, "QmB"))
	require.NoError(t, err)

	assert.Equal(t, "fixed", first.ID)
	assert.Equal(t, "other", second.ID)
}

func TestFileRegistry_CIDImmutable(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	rec, err := reg.AddFile(ctx, ingest("a.txt", 1, "QmImmutable"))
	require.NoError(t, err)
	other, err := reg.AddFile(ctx, ingest("b.txt", 2, "QmOther"))
	require.NoError(t, err)

	_, _, err = reg.TogglePin(ctx, rec.ID)
	require.NoError(t, err)
	reg.Select(rec.ID)
	require.NoError(t, reg.RemoveFile(ctx, other.ID))
	_, _, err = reg.TogglePin(ctx, rec.ID)
	require.NoError(t, err)
	require.NoError(t, reg.Persist(ctx))
	require.NoError(t, reg.Load(ctx))

	got, ok := reg.FindByID(rec.ID)
	require.True(t, ok)
	assert.Equal(t, interfaces.CID("QmImmutable"), got.CID)
	assert.Equal(t, rec.Name, got.Name)
	assert.Equal(t, rec.Size, got.Size)
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
}

func TestFileRegistry_TogglePinTwiceRestores(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	rec, err := reg.AddFile(ctx, ingest("a", 1, "QmA"))
	require.NoError(t, err)

	_, _, err = reg.TogglePin(ctx, rec.ID)
	require.NoError(t, err)
	back, found, err := reg.TogglePin(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, rec.Pinned, back.Pinned)

	_, found, err = reg.TogglePin(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFileRegistry_RemoveMissingIsNoop(t *testing.T) {
	ctx := context.Background()
	reg, store := newTestRegistry(t)

	_, err := reg.AddFile(ctx, ingest("a", 1, "QmA"))
	require.NoError(t, err)

	store.failSet = errors.New("should not be written")
	assert.NoError(t, reg.RemoveFile(ctx, "missing"))
	assert.Equal(t, 1, reg.Len())
}

func TestFileRegistry_Search(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	for _, in := range []interfaces.IngestResult{
		ingest("Holiday.JPG", 10, "QmAAA111"),
		ingest("notes.txt", 20, "QmBBB222"),
		ingest("report.pdf", 30, "bafyholiday"),
	} {
		_, err := reg.AddFile(ctx, in)
		require.NoError(t, err)
	}

	all := reg.Search("")
	require.Len(t, all, 3)
	assert.Equal(t, []string{"Holiday.JPG", "notes.txt", "report.pdf"}, names(all))

	assert.Equal(t, []string{"Holiday.JPG", "report.pdf"}, names(reg.Search("HOLIDAY")))
	assert.Equal(t, []string{"notes.txt"}, names(reg.Search("bbb2")))
	assert.Empty(t, reg.Search("nothing"))
	assert.NotNil(t, reg.Search("nothing"))

	// Results are copies.
	all[0].Name = "changed"
	assert.Equal(t, "Holiday.JPG", reg.List()[0].Name)
}

func names(files []interfaces.FileRecord) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.Name)
	}
	return out
}

func TestFileRegistry_Selection(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	a, err := reg.AddFile(ctx, ingest("a", 1, "QmA"))
	require.NoError(t, err)
	b, err := reg.AddFile(ctx, ingest("b", 1, "QmB"))
	require.NoError(t, err)

	assert.True(t, reg.Select(a.ID))
	sel, ok := reg.Selected()
	require.True(t, ok)
	assert.Equal(t, a.ID, sel.ID)

	assert.True(t, reg.Select(b.ID))
	sel, _ = reg.Selected()
	assert.Equal(t, b.ID, sel.ID, "at most one record is selected")

	assert.False(t, reg.Select("missing"))
	_, ok = reg.Selected()
	assert.False(t, ok, "selecting an unknown id clears the selection")

	reg.Select(a.ID)
	require.NoError(t, reg.RemoveFile(ctx, a.ID))
	_, ok = reg.Selected()
	assert.False(t, ok, "removing the selected record clears the selection")

	reg.Select(b.ID)
	reg.ClearSelection()
	_, ok = reg.Selected()
	assert.False(t, ok)
}

func TestFileRegistry_PersistLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	reg, store := newTestRegistry(t)

	for i := 0; i < 3; i++ {
		_, err := reg.AddFile(ctx, ingest(fmt.Sprintf("file-%d", i), int64(i*100), fmt.Sprintf("Qm%d", i)))
		require.NoError(t, err)
	}
	rec, _ := reg.FindByCID("Qm1")
	_, _, err := reg.TogglePin(ctx, rec.ID)
	require.NoError(t, err)
	require.NoError(t, reg.Persist(ctx))

	fresh := NewFileRegistry(store, common.DiscardLogger())
	require.NoError(t, fresh.Load(ctx))
	assert.NoError(t, fresh.LastLoadError())

	want := reg.List()
	got := fresh.List()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].ID, got[i].ID)
		assert.Equal(t, want[i].CID, got[i].CID)
		assert.Equal(t, want[i].Pinned, got[i].Pinned)
		assert.True(t, want[i].CreatedAt.Equal(got[i].CreatedAt))
	}
	assert.Equal(t, reg.Stats(), fresh.Stats())
}

func TestFileRegistry_LoadMissingIsEmpty(t *testing.T) {
	reg, _ := newTestRegistry(t)
	require.NoError(t, reg.Load(context.Background()))
	assert.Empty(t, reg.List())
	assert.NoError(t, reg.LastLoadError())
}

func TestFileRegistry_LoadCorrupt(t *testing.T) {
	ctx := context.Background()

	for name, value := range map[string]string{
		"not json":        "{{{",
		"wrong shape":     `"just a string"`,
		"missing version": `{"files":[]}`,
		"duplicate ids":   `{"version":1,"files":[{"id":"x","cid":"QmA"},{"id":"x","cid":"QmB"}]}`,
		"record sans cid": `{"version":1,"files":[{"id":"x"}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			reg, store := newTestRegistry(t)
			_, err := reg.AddFile(ctx, ingest("a", 1, "QmA"))
			require.NoError(t, err)
			require.NoError(t, store.MemoryStore.Set(ctx, CatalogueKey, []byte(value)))

			require.NoError(t, reg.Load(ctx))
			assert.Empty(t, reg.List())
			assert.ErrorIs(t, reg.LastLoadError(), interfaces.ErrPersistenceCorrupt)
		})
	}
}

func TestFileRegistry_LoadUnsupportedVersion(t *testing.T) {
	ctx := context.Background()
	reg, store := newTestRegistry(t)
	_, err := reg.AddFile(ctx, ingest("a", 1, "QmA"))
	require.NoError(t, err)

	future := []byte(`{"version":2,"files":[],"labels":{}}`)
	require.NoError(t, store.MemoryStore.Set(ctx, CatalogueKey, future))

	err = reg.Load(ctx)
	assert.ErrorIs(t, err, interfaces.ErrUnsupportedCatalogueVersion)
	assert.Equal(t, 1, reg.Len(), "registry is left untouched")

	stored, err := store.Get(ctx, CatalogueKey)
	require.NoError(t, err)
	assert.Equal(t, future, stored, "newer catalogue is not overwritten")
}

func TestFileRegistry_LoadReadFailure(t *testing.T) {
	ctx := context.Background()
	reg, store := newTestRegistry(t)
	_, err := reg.AddFile(ctx, ingest("a", 1, "QmA"))
	require.NoError(t, err)

	store.failGet = errors.New("disk on fire")
	assert.Error(t, reg.Load(ctx))
	assert.Equal(t, 1, reg.Len())
	assert.NoError(t, reg.LastLoadError())
}

func TestFileRegistry_LegacyMigration(t *testing.T) {
	ctx := context.Background()
	reg, store := newTestRegistry(t)

	legacy := `[
		{"id":"abc123","name":"a.txt","size":12,"type":"text/plain","cid":"Qm123","timestamp":"2024-05-01T10:00:00.000Z","pinned":true},
		{"id":"abc123","name":"b.png","size":34,"type":"image/png","cid":"Qm456","timestamp":1714557600000,"pinned":false},
		{"id":"nocid","name":"broken","size":1}
	]`
	require.NoError(t, store.MemoryStore.Set(ctx, CatalogueKey, []byte(legacy)))

	require.NoError(t, reg.Load(ctx))
	require.NoError(t, reg.LastLoadError())

	files := reg.List()
	require.Len(t, files, 2)
	assert.Equal(t, "abc123", files[0].ID)
	assert.Equal(t, "text/plain", files[0].MimeType)
	assert.True(t, files[0].Pinned)
	assert.True(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC).Equal(files[0].CreatedAt))

	assert.NotEqual(t, "abc123", files[1].ID, "duplicate legacy id is replaced")
	assert.True(t, time.UnixMilli(1714557600000).Equal(files[1].CreatedAt))

	require.NoError(t, reg.Persist(ctx))
	stored, err := store.Get(ctx, CatalogueKey)
	require.NoError(t, err)
	assert.Contains(t, string(stored), `"version":1`)
}

func TestFileRegistry_WriteFailureLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	reg, store := newTestRegistry(t)

	rec, err := reg.AddFile(ctx, ingest("a", 1, "QmA"))
	require.NoError(t, err)
	reg.Select(rec.ID)

	store.failSet = errors.New("quota exceeded")

	_, err = reg.AddFile(ctx, ingest("b", 1, "QmB"))
	assert.Error(t, err)
	assert.Equal(t, 1, reg.Len())

	_, found, err := reg.TogglePin(ctx, rec.ID)
	assert.True(t, found)
	assert.Error(t, err)
	got, _ := reg.FindByID(rec.ID)
	assert.False(t, got.Pinned)

	assert.Error(t, reg.RemoveFile(ctx, rec.ID))
	assert.Error(t, reg.Clear(ctx))
	assert.Equal(t, 1, reg.Len())
	_, selected := reg.Selected()
	assert.True(t, selected)
}

func TestFileRegistry_ClearAndStats(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	a, err := reg.AddFile(ctx, ingest("a", 100, "QmA"))
	require.NoError(t, err)
	_, err = reg.AddFile(ctx, ingest("b", 50, "QmB"))
	require.NoError(t, err)
	_, _, err = reg.TogglePin(ctx, a.ID)
	require.NoError(t, err)

	assert.Equal(t, interfaces.RegistryStats{TotalFiles: 2, TotalBytes: 150, PinnedFiles: 1}, reg.Stats())

	reg.Select(a.ID)
	require.NoError(t, reg.Clear(ctx))
	assert.Empty(t, reg.List())
	assert.Equal(t, interfaces.RegistryStats{}, reg.Stats())
	_, ok := reg.Selected()
	assert.False(t, ok)
}

func TestFileRegistry_AddFileRequiresCID(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, err := reg.AddFile(context.Background(), ingest("a", 1, ""))
	assert.Error(t, err)
	assert.Zero(t, reg.Len())
}
