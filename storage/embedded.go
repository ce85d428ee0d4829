package storage

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/event"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"github.com/ruteri/nexus-storage-gateway/common"
	"github.com/ruteri/nexus-storage-gateway/interfaces"
	"github.com/ruteri/nexus-storage-gateway/metrics"
	"go.uber.org/atomic"
)

const (
	embeddedProtocolVersion = "nexus/1.0.0"
	bootstrapDialTimeout    = 15 * time.Second
)

// DefaultBootstrapPeers are the public libp2p bootstrap nodes dialed when the
// configuration does not name its own.
var DefaultBootstrapPeers = []string{
	"/dns4/bootstrap.libp2p.io/tcp/443/wss/p2p/QmNnooDu7bfjPFoTZYxMNLWUQJyrVwtbZg5gBMjTezGAJN",
	"/dns4/ipfs.io/tcp/443/wss/p2p/QmbLHAnMoJPWSCR5Zhtx6BHJX9KiKNN6tpvbUcqanj75Nb",
}

// EmbeddedConfig configures the in-process node.
type EmbeddedConfig struct {
	// RepoRoot is the directory under which a fresh repository namespace is
	// created on every start. Defaults to the OS temp directory.
	RepoRoot string `mapstructure:"repo_root"`

	// InMemory keeps the block repository in memory.
	InMemory bool `mapstructure:"in_memory"`

	// ListenAddrs are libp2p multiaddresses to listen on.
	ListenAddrs []string `mapstructure:"listen_addrs"`

	// BootstrapPeers are full /p2p multiaddresses dialed after start.
	BootstrapPeers []string `mapstructure:"bootstrap_peers"`

	// ChunkSize is the largest content stored as a single block.
	ChunkSize int `mapstructure:"chunk_size" validate:"omitempty,min=1024,max=2097152"`

	AgentVersion string `mapstructure:"agent_version"`
}

// EmbeddedBackend runs a libp2p node with a local block repository inside the
// process. Content is split into raw blocks addressed by CIDv1 and exchanged
// with connected peers over BlockProtocolID.
type EmbeddedBackend struct {
	cfg EmbeddedConfig
	log *slog.Logger

	mu       sync.RWMutex
	host     host.Host
	blocks   *blockstore
	exchange *blockExchange
	sub      event.Subscription
	cancel   context.CancelFunc
	done     chan struct{}

	running atomic.Bool
	peers   atomic.Int64
}

// NewEmbeddedBackend creates a stopped embedded node.
func NewEmbeddedBackend(cfg EmbeddedConfig, log *slog.Logger) *EmbeddedBackend {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.AgentVersion == "" {
		cfg.AgentVersion = "nexus-gateway/" + common.Version
	}
	return &EmbeddedBackend{
		cfg: cfg,
		log: log.With(slog.String("backend", "embedded")),
	}
}

// Start opens a fresh repository, creates the libp2p host and begins tracking
// peer connectivity. Starting a running node is a no-op.
func (b *EmbeddedBackend) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running.Load() {
		return nil
	}
	start := time.Now()

	blocks, err := openBlockstore(b.cfg.RepoRoot, b.cfg.InMemory)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	h, err := awaitHost(ctx, b.newHost)
	if err != nil {
		_ = blocks.close()
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	sub, err := h.EventBus().Subscribe(new(event.EvtPeerConnectednessChanged))
	if err != nil {
		_ = h.Close()
		_ = blocks.close()
		return fmt.Errorf("%w: failed to subscribe to peer events: %v", interfaces.ErrBackendUnavailable, err)
	}

	if err := ctx.Err(); err != nil {
		_ = sub.Close()
		_ = h.Close()
		_ = blocks.close()
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	b.host = h
	b.blocks = blocks
	b.exchange = newBlockExchange(h, blocks, b.log)
	b.sub = sub
	b.cancel = cancel
	b.done = make(chan struct{})
	b.peers.Store(0)
	metrics.EmbeddedPeers.Set(0)

	go b.trackPeers(sub, b.done)
	go b.bootstrap(bgCtx, h)

	b.running.Store(true)

	b.log.Info("Embedded node started",
		slog.String("peerID", h.ID().String()),
		slog.Any("addrs", h.Addrs()),
		slog.String("repo", blocks.path),
		slog.Duration("duration", time.Since(start)))
	return nil
}

func (b *EmbeddedBackend) newHost() (host.Host, error) {
	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate identity: %w", err)
	}

	opts := []libp2p.Option{
		libp2p.Identity(priv),
		libp2p.UserAgent(b.cfg.AgentVersion),
		libp2p.ProtocolVersion(embeddedProtocolVersion),
	}
	if len(b.cfg.ListenAddrs) > 0 {
		opts = append(opts, libp2p.ListenAddrStrings(b.cfg.ListenAddrs...))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}
	return h, nil
}

// awaitHost runs build and returns when it finishes or ctx is done. A host
// built after ctx is done is closed in the background.
func awaitHost(ctx context.Context, build func() (host.Host, error)) (host.Host, error) {
	type result struct {
		h   host.Host
		err error
	}
	ch := make(chan result, 1)
	go func() {
		h, err := build()
		ch <- result{h: h, err: err}
	}()

	select {
	case r := <-ch:
		return r.h, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.err == nil && r.h != nil {
				_ = r.h.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// trackPeers is the only writer of the peer counter.
func (b *EmbeddedBackend) trackPeers(sub event.Subscription, done chan struct{}) {
	defer close(done)
	for evt := range sub.Out() {
		e, ok := evt.(event.EvtPeerConnectednessChanged)
		if !ok {
			continue
		}
		switch e.Connectedness {
		case network.Connected:
			b.peers.Inc()
		case network.NotConnected:
			if b.peers.Dec() < 0 {
				b.peers.Store(0)
			}
		default:
			continue
		}
		metrics.EmbeddedPeers.Set(float64(b.peers.Load()))
		b.log.Debug("Peer connectedness changed",
			slog.String("peer", e.Peer.String()),
			slog.String("connectedness", e.Connectedness.String()),
			slog.Int64("peers", b.peers.Load()))
	}
}

// bootstrap dials configured peers. Failures are logged and never stop the node.
func (b *EmbeddedBackend) bootstrap(ctx context.Context, h host.Host) {
	for _, addr := range b.cfg.BootstrapPeers {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			b.log.Warn("Invalid bootstrap address", slog.String("addr", addr), "err", err)
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(ma)
		if err != nil {
			b.log.Warn("Bootstrap address has no peer id", slog.String("addr", addr), "err", err)
			continue
		}

		dialCtx, cancel := context.WithTimeout(ctx, bootstrapDialTimeout)
		err = h.Connect(dialCtx, *info)
		cancel()
		if err != nil {
			b.log.Warn("Failed to dial bootstrap peer", slog.String("peer", info.ID.String()), "err", err)
			continue
		}
		b.log.Info("Connected to bootstrap peer", slog.String("peer", info.ID.String()))
	}
}

// Stop closes the host and repository. Stopping a stopped node is a no-op.
func (b *EmbeddedBackend) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running.Load() {
		return nil
	}
	b.running.Store(false)

	b.cancel()
	err := b.sub.Close()
	<-b.done
	b.exchange.close()
	err = errors.Join(err, b.host.Close(), b.blocks.close())

	b.host = nil
	b.blocks = nil
	b.exchange = nil
	b.peers.Store(0)
	metrics.EmbeddedPeers.Set(0)

	b.log.Info("Embedded node stopped")
	return err
}

// Running reports whether the node is started.
func (b *EmbeddedBackend) Running() bool {
	return b.running.Load()
}

// Add stores data as raw blocks and returns the root CID.
func (b *EmbeddedBackend) Add(ctx context.Context, data []byte, name string) (interfaces.CID, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.running.Load() {
		return "", interfaces.ErrBackendUnavailable
	}

	root, blocks, err := buildDAG(data, name, b.cfg.ChunkSize)
	if err != nil {
		return "", fmt.Errorf("%w: %v", interfaces.ErrIngestFailure, err)
	}
	for _, blk := range blocks {
		if err := b.blocks.put(blk.cid, blk.data); err != nil {
			return "", fmt.Errorf("%w: %v", interfaces.ErrIngestFailure, err)
		}
	}

	b.log.Debug("Added content",
		slog.String("cid", root.String()),
		slog.String("name", name),
		slog.Int("size", len(data)),
		slog.Int("blocks", len(blocks)))
	return interfaces.CID(root.String()), nil
}

// Fetch assembles content from local blocks, asking connected peers for any
// block that is missing locally.
func (b *EmbeddedBackend) Fetch(ctx context.Context, id interfaces.CID) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.running.Load() {
		return nil, interfaces.ErrBackendUnavailable
	}

	root, err := cid.Decode(id.String())
	if err != nil {
		return nil, fmt.Errorf("%w: invalid cid %q", interfaces.ErrNotFound, id)
	}

	data, err := b.block(ctx, root)
	if err != nil {
		return nil, err
	}
	if !isManifest(root) {
		return data, nil
	}

	m, links, err := decodeManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrNotFound, err)
	}
	var buf bytes.Buffer
	for _, link := range links {
		chunk, err := b.block(ctx, link)
		if err != nil {
			return nil, err
		}
		buf.Write(chunk)
	}
	if int64(buf.Len()) != m.Size {
		return nil, fmt.Errorf("%w: assembled %d bytes, manifest declares %d", interfaces.ErrNotFound, buf.Len(), m.Size)
	}
	return buf.Bytes(), nil
}

// Pin makes every block of the content local and records a pin.
func (b *EmbeddedBackend) Pin(ctx context.Context, id interfaces.CID) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.running.Load() {
		return interfaces.ErrBackendUnavailable
	}

	root, err := cid.Decode(id.String())
	if err != nil {
		return fmt.Errorf("%w: invalid cid %q", interfaces.ErrNotFound, id)
	}

	data, err := b.block(ctx, root)
	if err != nil {
		return err
	}
	if isManifest(root) {
		_, links, err := decodeManifest(data)
		if err != nil {
			return fmt.Errorf("%w: %v", interfaces.ErrNotFound, err)
		}
		for _, link := range links {
			if _, err := b.block(ctx, link); err != nil {
				return err
			}
		}
	}

	if err := b.blocks.pin(root); err != nil {
		return fmt.Errorf("failed to record pin: %w", err)
	}
	b.log.Debug("Pinned content", slog.String("cid", root.String()))
	return nil
}

// Unpin removes the pin record. Unpinning content that is not pinned is a no-op.
func (b *EmbeddedBackend) Unpin(ctx context.Context, id interfaces.CID) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.running.Load() {
		return interfaces.ErrBackendUnavailable
	}

	root, err := cid.Decode(id.String())
	if err != nil {
		return fmt.Errorf("%w: invalid cid %q", interfaces.ErrNotFound, id)
	}
	if err := b.blocks.unpin(root); err != nil {
		return fmt.Errorf("failed to remove pin: %w", err)
	}
	return nil
}

// IsPinned reports whether the content carries a local pin record.
func (b *EmbeddedBackend) IsPinned(id interfaces.CID) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.running.Load() {
		return false, interfaces.ErrBackendUnavailable
	}
	root, err := cid.Decode(id.String())
	if err != nil {
		return false, nil
	}
	return b.blocks.pinned(root)
}

// DescribeNode reports the host identity, listen addresses and live peer count.
func (b *EmbeddedBackend) DescribeNode(ctx context.Context) (*interfaces.NodeInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.running.Load() {
		return nil, interfaces.ErrBackendUnavailable
	}

	return &interfaces.NodeInfo{
		ID:              b.host.ID().String(),
		AgentVersion:    b.cfg.AgentVersion,
		ProtocolVersion: embeddedProtocolVersion,
		Version:         common.Version,
		Addresses:       b.addrs(),
		PeerCount:       int(b.peers.Load()),
		Backend:         b.Name(),
	}, nil
}

// Addrs returns the full /p2p multiaddresses of the running node.
func (b *EmbeddedBackend) Addrs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.running.Load() {
		return nil
	}
	return b.addrs()
}

func (b *EmbeddedBackend) addrs() []string {
	out := make([]string, 0, len(b.host.Addrs()))
	for _, a := range b.host.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", a, b.host.ID()))
	}
	return out
}

// PeerCount returns the number of currently connected peers.
func (b *EmbeddedBackend) PeerCount() int {
	return int(b.peers.Load())
}

// Name returns a unique identifier for this storage backend.
func (b *EmbeddedBackend) Name() string {
	return "embedded"
}

// block returns a verified block, fetching it from peers and caching it
// locally when it is not in the repository.
func (b *EmbeddedBackend) block(ctx context.Context, c cid.Cid) ([]byte, error) {
	data, err := b.blocks.get(c)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, errBlockNotFound) {
		return nil, fmt.Errorf("failed to read block %s: %w", c, err)
	}

	data, err = b.exchange.fetchFromPeers(ctx, c)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %s", interfaces.ErrNotFound, c)
	}
	if err := b.blocks.put(c, data); err != nil {
		b.log.Warn("Failed to cache fetched block", slog.String("cid", c.String()), "err", err)
	}
	return data, nil
}
