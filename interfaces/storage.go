package interfaces

import (
	"context"
	"errors"
	"strings"
)

// CID is an opaque, content-derived identifier returned by a storage backend
// when content is ingested. Equality is plain string equality; nothing outside
// the backends interprets its structure.
type CID string

// String returns the textual form of the identifier.
func (c CID) String() string {
	return string(c)
}

// IsZero reports whether the identifier is empty.
func (c CID) IsZero() bool {
	return strings.TrimSpace(string(c)) == ""
}

// Mode selects which backend a StorageGateway routes operations to.
type Mode string

const (
	// ModeEmbedded routes operations to the in-process peer-to-peer node.
	ModeEmbedded Mode = "embedded"
	// ModeRemote routes operations to a remote storage node HTTP API.
	ModeRemote Mode = "remote"
	// ModeUnavailable is the terminal state entered when neither backend
	// could be started. Only an explicit retry leaves it.
	ModeUnavailable Mode = "unavailable"
)

// ParseMode converts a user supplied string into a Mode.
// Only the two routable modes are accepted.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeEmbedded:
		return ModeEmbedded, nil
	case ModeRemote:
		return ModeRemote, nil
	default:
		return "", ErrInvalidMode
	}
}

// NodeInfo describes the identity and liveness of the node behind a backend.
type NodeInfo struct {
	// ID is the peer identity of the node.
	ID string `json:"id"`

	// AgentVersion is the software agent string advertised by the node.
	AgentVersion string `json:"agentVersion,omitempty"`

	// ProtocolVersion is the protocol version advertised by the node.
	ProtocolVersion string `json:"protocolVersion"`

	// Version is the node software version, when known.
	Version string `json:"version,omitempty"`

	// Addresses are the multiaddresses the node listens on.
	Addresses []string `json:"addresses"`

	// PeerCount is live for the embedded node and a point-in-time
	// value for the remote API.
	PeerCount int `json:"peerCount"`

	// Backend names the backend that produced this description.
	Backend string `json:"backend"`
}

var (
	// ErrBackendUnavailable is returned when a backend has not completed
	// startup or connection, or has been stopped.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrIngestFailure is returned when content could not be added because
	// of a transport or encoding error.
	ErrIngestFailure = errors.New("content ingest failed")

	// ErrNotFound is returned when the active backend has no path to the
	// requested content.
	ErrNotFound = errors.New("content not found")

	// ErrNoBackendAvailable is returned by the gateway when no backend is
	// active. It is terminal until an explicit retry.
	ErrNoBackendAvailable = errors.New("no storage backend available")

	// ErrUnpinUnsupported is returned when the active backend cannot release
	// a pin. The remote API backend only supports adding pins.
	ErrUnpinUnsupported = errors.New("unpin not supported by active backend")

	// ErrInvalidMode is returned for unknown gateway mode names.
	ErrInvalidMode = errors.New("invalid gateway mode")

	// ErrUnknownProvider is returned when a remote provider name is not in
	// the provider table.
	ErrUnknownProvider = errors.New("unknown remote provider")
)

// ContentStoreBackend is the capability contract shared by every storage
// backend. Implementations must be safe for concurrent use.
type ContentStoreBackend interface {
	// Add ingests content and returns its content identifier.
	// The name tags the content and is not part of its identity.
	Add(ctx context.Context, data []byte, name string) (CID, error)

	// Fetch returns the full content for a CID, assembled from the chunks
	// received from the node.
	Fetch(ctx context.Context, cid CID) ([]byte, error)

	// Pin requests durable retention of the content at this backend.
	// Pinning an already pinned CID succeeds.
	Pin(ctx context.Context, cid CID) error

	// DescribeNode returns identity and liveness metadata.
	DescribeNode(ctx context.Context) (*NodeInfo, error)

	// Name returns identifier for logging.
	Name() string
}

// Unpinner is implemented by backends that can release a pin.
type Unpinner interface {
	Unpin(ctx context.Context, cid CID) error
}

// StartableBackend is a backend that runs in-process and must be started
// before use.
type StartableBackend interface {
	ContentStoreBackend

	// Start brings the node up. It blocks until the node is usable or ctx
	// is done.
	Start(ctx context.Context) error

	// Stop tears the node down. Every later call fails with
	// ErrBackendUnavailable.
	Stop() error

	// Running reports whether Start completed and Stop was not called.
	Running() bool
}

// ConnectableBackend is a backend that talks to an external node and needs a
// successful handshake before use.
type ConnectableBackend interface {
	ContentStoreBackend

	// Connect performs the version handshake with the endpoint.
	Connect(ctx context.Context) error

	// Connected reports whether the handshake succeeded.
	Connected() bool

	// Endpoint returns the URL of the remote node API.
	Endpoint() string
}
