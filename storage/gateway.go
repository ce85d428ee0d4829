package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ruteri/nexus-storage-gateway/interfaces"
	"github.com/ruteri/nexus-storage-gateway/metrics"
)

// DefaultStartupTimeout bounds the embedded node startup so that fallback to
// the remote API happens promptly.
const DefaultStartupTimeout = 30 * time.Second

// RemoteFactory creates a remote backend for a provider.
type RemoteFactory func(Provider) (interfaces.ConnectableBackend, error)

// GatewayConfig configures the gateway routing behaviour.
type GatewayConfig struct {
	StartupTimeout  time.Duration
	DefaultProvider string
	GatewayBase     string
}

// GatewayStatus is a snapshot of the gateway routing state.
type GatewayStatus struct {
	Mode            interfaces.Mode `json:"mode"`
	Provider        string          `json:"provider,omitempty"`
	EmbeddedRunning bool            `json:"embeddedRunning"`
	RemoteConnected bool            `json:"remoteConnected"`
	RemoteEndpoint  string          `json:"remoteEndpoint,omitempty"`
}

// Gateway routes storage operations to exactly one active backend. It starts
// the embedded node first and falls back to the remote API; when both fail it
// stays unavailable until Retry.
type Gateway struct {
	// transition serializes Start, Retry, SwitchMode and Stop. mu guards the
	// routing state below and is never held across backend I/O.
	transition sync.Mutex
	mu         sync.RWMutex

	embedded  interfaces.StartableBackend
	remote    interfaces.ConnectableBackend
	provider  string
	providers Providers
	newRemote RemoteFactory

	mode interfaces.Mode
	cfg  GatewayConfig
	log  *slog.Logger
}

// NewGateway creates a gateway in ModeUnavailable. embedded may be nil to
// disable the in-process node.
func NewGateway(embedded interfaces.StartableBackend, providers Providers, newRemote RemoteFactory, cfg GatewayConfig, log *slog.Logger) *Gateway {
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = DefaultStartupTimeout
	}
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = DefaultProvider
	}
	if cfg.GatewayBase == "" {
		cfg.GatewayBase = DefaultGatewayBase
	}
	if providers == nil {
		providers = NewProviders(nil)
	}

	g := &Gateway{
		embedded:  embedded,
		providers: providers,
		newRemote: newRemote,
		mode:      interfaces.ModeUnavailable,
		cfg:       cfg,
		log:       log,
	}
	g.setMode(interfaces.ModeUnavailable)
	return g
}

// Start runs the startup sequence: embedded node, then the default remote
// provider. It returns ErrNoBackendAvailable when neither comes up.
func (g *Gateway) Start(ctx context.Context) error {
	g.transition.Lock()
	defer g.transition.Unlock()
	return g.startup(ctx)
}

// Retry re-runs the startup sequence. Operations keep routing to the current
// mode until the sequence finishes.
func (g *Gateway) Retry(ctx context.Context) error {
	g.log.Info("Retrying storage gateway startup")
	return g.Start(ctx)
}

func (g *Gateway) startup(ctx context.Context) error {
	var errs []error

	if g.embedded != nil {
		err := g.startEmbedded(ctx)
		if err == nil {
			g.setMode(interfaces.ModeEmbedded)
			g.log.Info("Storage gateway using embedded node")
			return nil
		}
		errs = append(errs, err)
		g.log.Warn("Embedded node failed to start, falling back to remote API", "err", err)
	}

	provider, err := g.providers.Lookup(g.cfg.DefaultProvider)
	if err == nil {
		err = g.connectRemote(ctx, provider)
	}
	if err == nil {
		g.setMode(interfaces.ModeRemote)
		g.log.Info("Storage gateway using remote API",
			slog.String("provider", provider.Name),
			slog.String("endpoint", provider.URL))
		return nil
	}
	errs = append(errs, err)

	g.setMode(interfaces.ModeUnavailable)
	g.log.Error("No storage backend available", "err", errors.Join(errs...))
	return fmt.Errorf("%w: %v", interfaces.ErrNoBackendAvailable, errors.Join(errs...))
}

func (g *Gateway) startEmbedded(ctx context.Context) error {
	if g.embedded.Running() {
		return nil
	}
	startCtx, cancel := context.WithTimeout(ctx, g.cfg.StartupTimeout)
	defer cancel()
	return g.embedded.Start(startCtx)
}

// connectRemote makes the remote backend for provider current. The current
// remote backend is replaced only after the new one connects.
func (g *Gateway) connectRemote(ctx context.Context, provider Provider) error {
	g.mu.RLock()
	current, currentProvider := g.remote, g.provider
	g.mu.RUnlock()

	if current != nil && currentProvider == provider.Name {
		if current.Connected() {
			return nil
		}
		return current.Connect(ctx)
	}

	if g.newRemote == nil {
		return fmt.Errorf("%w: remote backend not configured", interfaces.ErrBackendUnavailable)
	}
	backend, err := g.newRemote(provider)
	if err != nil {
		return err
	}
	if err := backend.Connect(ctx); err != nil {
		return err
	}

	g.mu.Lock()
	g.remote = backend
	g.provider = provider.Name
	g.mu.Unlock()
	return nil
}

// SwitchMode routes future operations to target. The inactive backend is left
// running. A failed switch leaves the previous mode in place.
func (g *Gateway) SwitchMode(ctx context.Context, target interfaces.Mode, provider string) error {
	g.transition.Lock()
	defer g.transition.Unlock()

	previous := g.Mode()
	switch target {
	case interfaces.ModeEmbedded:
		if g.embedded == nil {
			return fmt.Errorf("%w: embedded node is disabled", interfaces.ErrBackendUnavailable)
		}
		if err := g.startEmbedded(ctx); err != nil {
			g.log.Warn("Failed to switch to embedded node", "err", err, slog.String("mode", string(previous)))
			return err
		}

	case interfaces.ModeRemote:
		if provider == "" {
			provider = g.Provider()
		}
		if provider == "" {
			provider = g.cfg.DefaultProvider
		}
		p, err := g.providers.Lookup(provider)
		if err != nil {
			return err
		}
		if err := g.connectRemote(ctx, p); err != nil {
			g.log.Warn("Failed to switch to remote API",
				slog.String("provider", p.Name),
				"err", err,
				slog.String("mode", string(previous)))
			return err
		}

	default:
		return fmt.Errorf("%w: %s", interfaces.ErrInvalidMode, target)
	}

	g.setMode(target)
	g.log.Info("Storage gateway mode switched",
		slog.String("from", string(previous)),
		slog.String("to", string(target)),
		slog.String("provider", g.Provider()))
	return nil
}

func (g *Gateway) setMode(mode interfaces.Mode) {
	g.mu.Lock()
	g.mode = mode
	g.mu.Unlock()
	metrics.SetMode(string(mode),
		string(interfaces.ModeEmbedded),
		string(interfaces.ModeRemote),
		string(interfaces.ModeUnavailable))
}

func (g *Gateway) active() (interfaces.ContentStoreBackend, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	switch g.mode {
	case interfaces.ModeEmbedded:
		return g.embedded, nil
	case interfaces.ModeRemote:
		return g.remote, nil
	default:
		return nil, interfaces.ErrNoBackendAvailable
	}
}

// Add ingests content through the active backend.
func (g *Gateway) Add(ctx context.Context, data []byte, name string) (interfaces.CID, error) {
	backend, err := g.active()
	if err != nil {
		return "", err
	}
	start := time.Now()
	id, err := backend.Add(ctx, data, name)
	metrics.ObserveOperation("add", backend.Name(), start, err)
	return id, err
}

// Fetch returns content through the active backend.
func (g *Gateway) Fetch(ctx context.Context, id interfaces.CID) ([]byte, error) {
	backend, err := g.active()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	data, err := backend.Fetch(ctx, id)
	metrics.ObserveOperation("fetch", backend.Name(), start, err)
	return data, err
}

// Pin requests retention at the active backend.
func (g *Gateway) Pin(ctx context.Context, id interfaces.CID) error {
	backend, err := g.active()
	if err != nil {
		return err
	}
	start := time.Now()
	err = backend.Pin(ctx, id)
	metrics.ObserveOperation("pin", backend.Name(), start, err)
	return err
}

// Unpin releases a pin when the active backend supports it and returns
// ErrUnpinUnsupported otherwise.
func (g *Gateway) Unpin(ctx context.Context, id interfaces.CID) error {
	backend, err := g.active()
	if err != nil {
		return err
	}
	unpinner, ok := backend.(interfaces.Unpinner)
	if !ok {
		return interfaces.ErrUnpinUnsupported
	}
	start := time.Now()
	err = unpinner.Unpin(ctx, id)
	metrics.ObserveOperation("unpin", backend.Name(), start, err)
	return err
}

// DescribeNode describes the node behind the active backend.
func (g *Gateway) DescribeNode(ctx context.Context) (*interfaces.NodeInfo, error) {
	backend, err := g.active()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	info, err := backend.DescribeNode(ctx)
	metrics.ObserveOperation("describe", backend.Name(), start, err)
	return info, err
}

// Mode returns the active mode.
func (g *Gateway) Mode() interfaces.Mode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.mode
}

// Provider returns the name of the connected remote provider, if any.
func (g *Gateway) Provider() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.provider
}

// Providers returns the configured provider table.
func (g *Gateway) Providers() []Provider {
	return g.providers.List()
}

// Status returns a snapshot of the routing state.
func (g *Gateway) Status() GatewayStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()

	status := GatewayStatus{
		Mode:     g.mode,
		Provider: g.provider,
	}
	if g.embedded != nil {
		status.EmbeddedRunning = g.embedded.Running()
	}
	if g.remote != nil {
		status.RemoteConnected = g.remote.Connected()
		status.RemoteEndpoint = g.remote.Endpoint()
	}
	return status
}

// GatewayURL returns the public gateway link for a CID.
func (g *Gateway) GatewayURL(id interfaces.CID) string {
	return strings.TrimRight(g.cfg.GatewayBase, "/") + "/ipfs/" + id.String()
}

// Stop stops the embedded node and leaves the gateway unavailable.
func (g *Gateway) Stop() error {
	g.transition.Lock()
	defer g.transition.Unlock()

	g.setMode(interfaces.ModeUnavailable)
	var err error
	if g.embedded != nil {
		err = g.embedded.Stop()
	}
	g.log.Info("Storage gateway stopped")
	return err
}
