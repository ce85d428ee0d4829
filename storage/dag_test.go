package storage

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDAG_SingleBlock(t *testing.T) {
	data := []byte("small file")
	root, blocks, err := buildDAG(data, "small.txt", 1024)
	require.NoError(t, err)

	require.Len(t, blocks, 1)
	assert.Equal(t, uint64(cid.Raw), root.Type())
	assert.Equal(t, uint64(1), root.Version())
	assert.Equal(t, data, blocks[0].data)
	assert.NoError(t, verifyBlock(root, data))
	assert.False(t, isManifest(root))
}

func TestBuildDAG_Deterministic(t *testing.T) {
	data := bytes.Repeat([]byte("abc"), 1000)
	a, _, err := buildDAG(data, "x", 1024)
	require.NoError(t, err)
	b, _, err := buildDAG(data, "x", 1024)
	require.NoError(t, err)
	assert.True(t, a.Equals(b))
}

func TestBuildDAG_Manifest(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789"), 250) // 2500 bytes
	root, blocks, err := buildDAG(data, "big.bin", 1024)
	require.NoError(t, err)

	assert.True(t, isManifest(root))
	require.Len(t, blocks, 4) // manifest + 3 chunks
	assert.True(t, blocks[0].cid.Equals(root))

	m, links, err := decodeManifest(blocks[0].data)
	require.NoError(t, err)
	assert.Equal(t, "big.bin", m.Name)
	assert.Equal(t, int64(len(data)), m.Size)
	require.Len(t, links, 3)

	var assembled []byte
	for i, link := range links {
		assert.True(t, link.Equals(blocks[i+1].cid))
		assert.NoError(t, verifyBlock(link, blocks[i+1].data))
		assembled = append(assembled, blocks[i+1].data...)
	}
	assert.Equal(t, data, assembled)
}

func TestBuildDAG_RejectsOversizedManifest(t *testing.T) {
	// One link per byte produces a manifest far above the block limit.
	data := bytes.Repeat([]byte{0x5a}, 200_000)
	_, _, err := buildDAG(data, "tiny-chunks.bin", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "block limit")
}

func TestBlockResponse_LargestBlockFitsMessageLimit(t *testing.T) {
	resp := blockResponse{Success: true, Data: make([]byte, maxBlockSize)}
	encoded, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(encoded), maxBlockMessageSize)
}

func TestVerifyBlock_RejectsTampering(t *testing.T) {
	root, _, err := buildDAG([]byte("original"), "", 0)
	require.NoError(t, err)
	assert.Error(t, verifyBlock(root, []byte("tampered")))
}

func TestDecodeManifest_Invalid(t *testing.T) {
	_, _, err := decodeManifest([]byte("{"))
	assert.Error(t, err)

	_, _, err = decodeManifest([]byte(`{"size":1,"links":["not-a-cid"]}`))
	assert.Error(t, err)
}
