package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
)

// BlockProtocolID is the stream protocol embedded nodes use to exchange blocks.
const BlockProtocolID = protocol.ID("/nexus/blocks/1.0.0")

const (
	blockMessageGet = "get"

	// maxBlockMessageSize bounds a single request or response on the wire:
	// the largest block base64-encoded inside the JSON envelope.
	maxBlockMessageSize = (maxBlockSize+2)/3*4 + 1<<10

	defaultExchangeTimeout = 30 * time.Second
)

type blockRequest struct {
	Type string `json:"type"`
	CID  string `json:"cid"`
}

type blockResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    []byte `json:"data,omitempty"`
}

// blockExchange serves local blocks to peers and requests missing blocks from
// connected peers.
type blockExchange struct {
	host   host.Host
	blocks *blockstore
	log    *slog.Logger
}

func newBlockExchange(h host.Host, blocks *blockstore, log *slog.Logger) *blockExchange {
	bx := &blockExchange{host: h, blocks: blocks, log: log}
	h.SetStreamHandler(BlockProtocolID, bx.handleStream)
	return bx
}

func (bx *blockExchange) close() {
	bx.host.RemoveStreamHandler(BlockProtocolID)
}

// handleStream answers one block request. Only blocks present in the local
// repository are served.
func (bx *blockExchange) handleStream(s network.Stream) {
	defer s.Close()
	_ = s.SetDeadline(time.Now().Add(defaultExchangeTimeout))

	data, err := io.ReadAll(io.LimitReader(s, maxBlockMessageSize))
	if err != nil {
		bx.log.Debug("Failed to read block request", "err", err)
		_ = s.Reset()
		return
	}

	var req blockRequest
	resp := blockResponse{}
	if err := json.Unmarshal(data, &req); err != nil {
		resp.Error = "malformed request"
	} else {
		resp = bx.serve(req)
	}

	encoded, err := json.Marshal(resp)
	if err != nil {
		bx.log.Error("Failed to encode block response", "err", err)
		return
	}
	if _, err := s.Write(encoded); err != nil {
		bx.log.Debug("Failed to write block response", "err", err)
		return
	}

	bx.log.Debug("Handled block request",
		slog.String("peer", s.Conn().RemotePeer().String()),
		slog.String("cid", req.CID),
		slog.Bool("success", resp.Success))
}

func (bx *blockExchange) serve(req blockRequest) blockResponse {
	if req.Type != blockMessageGet {
		return blockResponse{Error: fmt.Sprintf("unsupported message type %q", req.Type)}
	}
	c, err := cid.Decode(req.CID)
	if err != nil {
		return blockResponse{Error: "invalid cid"}
	}
	data, err := bx.blocks.get(c)
	if err != nil {
		return blockResponse{Error: err.Error()}
	}
	return blockResponse{Success: true, Data: data}
}

// fetchFromPeers asks every connected peer for c until one returns a block
// that verifies against it.
func (bx *blockExchange) fetchFromPeers(ctx context.Context, c cid.Cid) ([]byte, error) {
	peers := bx.host.Network().Peers()
	if len(peers) == 0 {
		return nil, errBlockNotFound
	}

	for _, p := range peers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := bx.requestBlock(ctx, p, c)
		if err != nil {
			bx.log.Debug("Peer could not provide block",
				slog.String("peer", p.String()),
				slog.String("cid", c.String()),
				"err", err)
			continue
		}
		if err := verifyBlock(c, data); err != nil {
			bx.log.Warn("Peer returned invalid block",
				slog.String("peer", p.String()),
				slog.String("cid", c.String()),
				"err", err)
			continue
		}
		return data, nil
	}
	return nil, errBlockNotFound
}

func (bx *blockExchange) requestBlock(ctx context.Context, p peer.ID, c cid.Cid) ([]byte, error) {
	s, err := bx.host.NewStream(ctx, p, BlockProtocolID)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	defer s.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = s.SetDeadline(deadline)
	} else {
		_ = s.SetDeadline(time.Now().Add(defaultExchangeTimeout))
	}

	req, err := json.Marshal(blockRequest{Type: blockMessageGet, CID: c.String()})
	if err != nil {
		return nil, err
	}
	if _, err := s.Write(req); err != nil {
		return nil, fmt.Errorf("failed to write request: %w", err)
	}
	if err := s.CloseWrite(); err != nil {
		return nil, fmt.Errorf("failed to close write: %w", err)
	}

	data, err := io.ReadAll(io.LimitReader(s, maxBlockMessageSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var resp blockResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if !resp.Success {
		return nil, errors.New(resp.Error)
	}
	return resp.Data, nil
}
