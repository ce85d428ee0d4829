package storage

import (
	"encoding/json"
	"fmt"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

// DefaultChunkSize is the largest content stored as a single raw block.
const DefaultChunkSize = 256 * 1024

// maxBlockSize bounds every stored block, manifests included.
const maxBlockSize = 8 << 20

// codecDagJSON is the multicodec code for dag-json manifests.
const codecDagJSON = 0x0129

var (
	rawPrefix = cid.Prefix{
		Version:  1,
		Codec:    cid.Raw,
		MhType:   mh.SHA2_256,
		MhLength: -1,
	}
	manifestPrefix = cid.Prefix{
		Version:  1,
		Codec:    codecDagJSON,
		MhType:   mh.SHA2_256,
		MhLength: -1,
	}
)

// manifest links the raw chunks of content larger than one chunk.
type manifest struct {
	Name  string   `json:"name,omitempty"`
	Size  int64    `json:"size"`
	Links []string `json:"links"`
}

type block struct {
	cid  cid.Cid
	data []byte
}

// buildDAG splits data into raw blocks. The first returned block is the root.
func buildDAG(data []byte, name string, chunkSize int) (cid.Cid, []block, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	chunkSize = min(chunkSize, maxBlockSize)

	if len(data) <= chunkSize {
		c, err := rawPrefix.Sum(data)
		if err != nil {
			return cid.Undef, nil, err
		}
		return c, []block{{cid: c, data: data}}, nil
	}

	blocks := make([]block, 1, len(data)/chunkSize+2)
	m := manifest{Name: name, Size: int64(len(data))}
	for offset := 0; offset < len(data); offset += chunkSize {
		end := min(offset+chunkSize, len(data))
		chunk := data[offset:end]
		c, err := rawPrefix.Sum(chunk)
		if err != nil {
			return cid.Undef, nil, err
		}
		blocks = append(blocks, block{cid: c, data: chunk})
		m.Links = append(m.Links, c.String())
	}

	encoded, err := json.Marshal(m)
	if err != nil {
		return cid.Undef, nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	if len(encoded) > maxBlockSize {
		return cid.Undef, nil, fmt.Errorf("manifest with %d links is %d bytes, above the %d byte block limit; use a larger chunk size",
			len(m.Links), len(encoded), maxBlockSize)
	}
	root, err := manifestPrefix.Sum(encoded)
	if err != nil {
		return cid.Undef, nil, err
	}
	blocks[0] = block{cid: root, data: encoded}
	return root, blocks, nil
}

// decodeManifest parses a manifest block and its links.
func decodeManifest(data []byte) (*manifest, []cid.Cid, error) {
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, nil, fmt.Errorf("invalid manifest: %w", err)
	}
	links := make([]cid.Cid, 0, len(m.Links))
	for _, l := range m.Links {
		c, err := cid.Decode(l)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid manifest link %q: %w", l, err)
		}
		links = append(links, c)
	}
	return &m, links, nil
}

func isManifest(c cid.Cid) bool {
	return c.Type() == codecDagJSON
}
