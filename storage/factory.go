package storage

import (
	"log/slog"
	"time"

	"github.com/ruteri/nexus-storage-gateway/interfaces"
)

// Options collects everything needed to assemble a Gateway and its backends.
type Options struct {
	// EmbeddedEnabled turns the in-process node on.
	EmbeddedEnabled bool
	Embedded        EmbeddedConfig

	// Providers overrides or extends the built-in provider table.
	Providers       map[string]string
	DefaultProvider string
	RemoteTimeout   time.Duration

	StartupTimeout time.Duration
	GatewayBase    string
}

// BackendFactory creates storage backends. Its RemoteFor method is the
// gateway's RemoteFactory.
type BackendFactory struct {
	remoteTimeout time.Duration
	log           *slog.Logger
}

// NewBackendFactory creates a factory whose remote backends use remoteTimeout
// for every API request.
func NewBackendFactory(remoteTimeout time.Duration, log *slog.Logger) *BackendFactory {
	return &BackendFactory{
		remoteTimeout: remoteTimeout,
		log:           log,
	}
}

// RemoteFor creates an unconnected remote backend for provider.
func (f *BackendFactory) RemoteFor(provider Provider) (interfaces.ConnectableBackend, error) {
	f.log.Debug("Creating remote backend",
		slog.String("provider", provider.Name),
		slog.String("endpoint", provider.URL))
	return NewRemoteBackend(provider, f.remoteTimeout, f.log), nil
}

// Embedded creates a stopped embedded backend.
func (f *BackendFactory) Embedded(cfg EmbeddedConfig) *EmbeddedBackend {
	return NewEmbeddedBackend(cfg, f.log)
}

// NewGatewayFromOptions wires backends and the provider table into a Gateway.
// The returned gateway is not started.
func NewGatewayFromOptions(opts Options, log *slog.Logger) *Gateway {
	factory := NewBackendFactory(opts.RemoteTimeout, log)

	var embedded interfaces.StartableBackend
	if opts.EmbeddedEnabled {
		embedded = factory.Embedded(opts.Embedded)
	}

	return NewGateway(embedded, NewProviders(opts.Providers), factory.RemoteFor, GatewayConfig{
		StartupTimeout:  opts.StartupTimeout,
		DefaultProvider: opts.DefaultProvider,
		GatewayBase:     opts.GatewayBase,
	}, log)
}
