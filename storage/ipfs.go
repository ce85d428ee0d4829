package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/ruteri/nexus-storage-gateway/interfaces"
	"go.uber.org/atomic"
)

// DefaultRemoteTimeout bounds every request to the remote API.
const DefaultRemoteTimeout = 60 * time.Second

// notFoundMessages are fragments of kubo error messages that mean the node has
// no path to the requested content.
var notFoundMessages = []string{
	"merkledag: not found",
	"not found locally",
	"could not find",
	"no link named",
	"invalid path",
	"invalid cid",
	"failed to resolve",
}

// RemoteBackend talks to an IPFS (kubo) node through its HTTP API.
// It does not implement interfaces.Unpinner.
type RemoteBackend struct {
	shell     *shell.Shell
	endpoint  string
	provider  string
	log       *slog.Logger
	connected atomic.Bool
}

type versionOutput struct {
	Version string
	Commit  string
	Repo    string
	System  string
	Golang  string
}

type idOutput struct {
	ID              string
	PublicKey       string
	Addresses       []string
	AgentVersion    string
	ProtocolVersion string
}

// NewRemoteBackend creates a backend for the API at endpoint. Connect must
// succeed before the backend serves requests.
func NewRemoteBackend(provider Provider, timeout time.Duration, log *slog.Logger) *RemoteBackend {
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	client := &http.Client{Timeout: timeout}

	return &RemoteBackend{
		shell:    shell.NewShellWithClient(provider.URL, client),
		endpoint: provider.URL,
		provider: provider.Name,
		log:      log.With(slog.String("backend", "remote"), slog.String("provider", provider.Name)),
	}
}

// Connect performs the version handshake with the API.
func (b *RemoteBackend) Connect(ctx context.Context) error {
	start := time.Now()

	var out versionOutput
	if err := b.shell.Request("version").Exec(ctx, &out); err != nil {
		b.connected.Store(false)
		b.log.Warn("Remote API handshake failed",
			slog.String("endpoint", b.endpoint),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return fmt.Errorf("%w: %s: %v", interfaces.ErrBackendUnavailable, b.endpoint, err)
	}

	b.connected.Store(true)
	b.log.Info("Connected to remote API",
		slog.String("endpoint", b.endpoint),
		slog.String("version", out.Version),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// Connected reports whether the handshake succeeded.
func (b *RemoteBackend) Connected() bool {
	return b.connected.Load()
}

// Endpoint returns the API URL.
func (b *RemoteBackend) Endpoint() string {
	return b.endpoint
}

// Provider returns the provider name this backend was created for.
func (b *RemoteBackend) Provider() string {
	return b.provider
}

// Add uploads data without pinning it and returns the CID chosen by the node.
func (b *RemoteBackend) Add(ctx context.Context, data []byte, name string) (interfaces.CID, error) {
	if !b.connected.Load() {
		return "", interfaces.ErrBackendUnavailable
	}
	start := time.Now()

	hash, err := b.shell.Add(bytes.NewReader(data), shell.Pin(false))
	if err != nil {
		b.log.Error("Failed to add content to remote node",
			slog.String("name", name),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return "", fmt.Errorf("%w: %v", interfaces.ErrIngestFailure, err)
	}

	b.log.Debug("Added content to remote node",
		slog.String("cid", hash),
		slog.String("name", name),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))
	return interfaces.CID(hash), nil
}

// Fetch streams the content of a CID and returns it once fully received.
func (b *RemoteBackend) Fetch(ctx context.Context, id interfaces.CID) ([]byte, error) {
	if !b.connected.Load() {
		return nil, interfaces.ErrBackendUnavailable
	}
	start := time.Now()

	resp, err := b.shell.Request("cat", id.String()).Send(ctx)
	if err != nil {
		return nil, b.classify("cat", id, err)
	}
	defer resp.Close()
	if resp.Error != nil {
		return nil, b.classify("cat", id, resp.Error)
	}

	data, err := io.ReadAll(resp.Output)
	if err != nil {
		b.log.Error("Failed to read content from remote node",
			slog.String("cid", id.String()),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("failed to read content from remote node: %w", err)
	}

	b.log.Debug("Fetched content from remote node",
		slog.String("cid", id.String()),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))
	return data, nil
}

// Pin adds a recursive pin for the CID. Pinning twice succeeds.
func (b *RemoteBackend) Pin(ctx context.Context, id interfaces.CID) error {
	if !b.connected.Load() {
		return interfaces.ErrBackendUnavailable
	}

	var out struct{ Pins []string }
	err := b.shell.Request("pin/add", id.String()).
		Option("recursive", true).
		Exec(ctx, &out)
	if err != nil {
		return b.classify("pin/add", id, err)
	}

	b.log.Debug("Pinned content on remote node", slog.String("cid", id.String()))
	return nil
}

// DescribeNode queries identity, version and a point-in-time peer count.
func (b *RemoteBackend) DescribeNode(ctx context.Context) (*interfaces.NodeInfo, error) {
	if !b.connected.Load() {
		return nil, interfaces.ErrBackendUnavailable
	}

	var id idOutput
	if err := b.shell.Request("id").Exec(ctx, &id); err != nil {
		return nil, fmt.Errorf("%w: id: %v", interfaces.ErrBackendUnavailable, err)
	}

	var version versionOutput
	if err := b.shell.Request("version").Exec(ctx, &version); err != nil {
		b.log.Debug("Failed to query remote version", "err", err)
	}

	peerCount := 0
	peers, err := b.shell.SwarmPeers(ctx)
	if err != nil {
		b.log.Debug("Failed to query remote swarm peers", "err", err)
	} else {
		peerCount = len(peers.Peers)
	}

	addrs := id.Addresses
	if addrs == nil {
		addrs = []string{}
	}
	return &interfaces.NodeInfo{
		ID:              id.ID,
		AgentVersion:    id.AgentVersion,
		ProtocolVersion: id.ProtocolVersion,
		Version:         version.Version,
		Addresses:       addrs,
		PeerCount:       peerCount,
		Backend:         b.Name(),
	}, nil
}

// Name returns a unique identifier for this storage backend.
func (b *RemoteBackend) Name() string {
	return "remote-" + b.provider
}

// classify maps API errors onto the storage sentinels. Errors reported by the
// node itself that mean "no such content" become ErrNotFound; transport
// failures become ErrBackendUnavailable.
func (b *RemoteBackend) classify(command string, id interfaces.CID, err error) error {
	var apiErr *shell.Error
	if errors.As(err, &apiErr) {
		msg := strings.ToLower(apiErr.Message)
		for _, fragment := range notFoundMessages {
			if strings.Contains(msg, fragment) {
				b.log.Debug("Content not found on remote node",
					slog.String("command", command),
					slog.String("cid", id.String()),
					slog.String("message", apiErr.Message))
				return fmt.Errorf("%w: %s: %s", interfaces.ErrNotFound, id, apiErr.Message)
			}
		}
		return fmt.Errorf("remote %s failed for %s: %w", command, id, err)
	}

	if errors.Is(err, context.Canceled) {
		return err
	}

	b.log.Warn("Remote node request failed",
		slog.String("command", command),
		slog.String("cid", id.String()),
		"err", err)
	return fmt.Errorf("%w: %s: %v", interfaces.ErrBackendUnavailable, command, err)
}
