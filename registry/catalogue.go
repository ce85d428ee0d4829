package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/nexus-storage-gateway/interfaces"
)

// CatalogueKey is the persistence key the whole catalogue is stored under.
const CatalogueKey = "nexus-ipfs-files"

// CatalogueVersion is the schema version written by this build.
const CatalogueVersion = 1

var errMalformedCatalogue = errors.New("malformed catalogue")

type catalogue struct {
	Version int                     `json:"version"`
	Files   []interfaces.FileRecord `json:"files"`
}

// legacyRecord is the unversioned record layout: a bare JSON array of records
// with the mime type under "type" and the creation time under "timestamp"
// (RFC 3339 string or Unix milliseconds).
type legacyRecord struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Size      int64           `json:"size"`
	Type      string          `json:"type"`
	CID       string          `json:"cid"`
	Timestamp json.RawMessage `json:"timestamp"`
	Pinned    bool            `json:"pinned"`
}

func encodeCatalogue(files []interfaces.FileRecord) ([]byte, error) {
	if files == nil {
		files = []interfaces.FileRecord{}
	}
	return json.Marshal(catalogue{Version: CatalogueVersion, Files: files})
}

// decodeCatalogue parses a stored catalogue. migrated reports that data was in
// the legacy layout. Errors wrap either ErrUnsupportedCatalogueVersion or
// errMalformedCatalogue.
func decodeCatalogue(data []byte) (files []interfaces.FileRecord, migrated bool, err error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, false, fmt.Errorf("%w: empty value", errMalformedCatalogue)
	}

	switch trimmed[0] {
	case '[':
		files, err := decodeLegacy(trimmed)
		return files, true, err
	case '{':
	default:
		return nil, false, fmt.Errorf("%w: unexpected leading byte %q", errMalformedCatalogue, trimmed[0])
	}

	var c catalogue
	if err := json.Unmarshal(trimmed, &c); err != nil {
		return nil, false, fmt.Errorf("%w: %v", errMalformedCatalogue, err)
	}
	switch {
	case c.Version > CatalogueVersion:
		return nil, false, fmt.Errorf("%w: %d (supported %d)", interfaces.ErrUnsupportedCatalogueVersion, c.Version, CatalogueVersion)
	case c.Version < 1:
		return nil, false, fmt.Errorf("%w: missing version", errMalformedCatalogue)
	}

	seen := make(map[string]struct{}, len(c.Files))
	for _, f := range c.Files {
		if f.ID == "" || f.CID.IsZero() {
			return nil, false, fmt.Errorf("%w: record without id or cid", errMalformedCatalogue)
		}
		if _, dup := seen[f.ID]; dup {
			return nil, false, fmt.Errorf("%w: duplicate id %s", errMalformedCatalogue, f.ID)
		}
		seen[f.ID] = struct{}{}
	}
	if c.Files == nil {
		c.Files = []interfaces.FileRecord{}
	}
	return c.Files, false, nil
}

// decodeLegacy converts legacy records. Records without a CID are dropped;
// missing or duplicate ids are replaced.
func decodeLegacy(data []byte) ([]interfaces.FileRecord, error) {
	var legacy []legacyRecord
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedCatalogue, err)
	}

	files := make([]interfaces.FileRecord, 0, len(legacy))
	seen := make(map[string]struct{}, len(legacy))
	for _, l := range legacy {
		if l.CID == "" {
			continue
		}
		id := l.ID
		if _, dup := seen[id]; id == "" || dup {
			id = uuid.NewString()
		}
		seen[id] = struct{}{}

		files = append(files, interfaces.FileRecord{
			ID:        id,
			Name:      l.Name,
			Size:      l.Size,
			MimeType:  l.Type,
			CID:       interfaces.CID(l.CID),
			CreatedAt: parseLegacyTimestamp(l.Timestamp),
			Pinned:    l.Pinned,
		})
	}
	return files, nil
}

func parseLegacyTimestamp(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UTC()
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC()
		}
		return time.Time{}
	}

	var ms float64
	if err := json.Unmarshal(raw, &ms); err == nil {
		return time.UnixMilli(int64(ms)).UTC()
	}
	return time.Time{}
}
