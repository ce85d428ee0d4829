package storage

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ruteri/nexus-storage-gateway/interfaces"
)

// DefaultProvider is the provider used at startup fallback.
const DefaultProvider = "local"

// DefaultGatewayBase is the public HTTP gateway used to build view links.
const DefaultGatewayBase = "https://ipfs.io"

// Provider names a remote API endpoint.
type Provider struct {
	Name string `json:"name" mapstructure:"name" validate:"required"`
	URL  string `json:"url" mapstructure:"url" validate:"required,url"`
}

// DefaultProviders is the built-in provider table.
var DefaultProviders = map[string]string{
	"local":  "http://127.0.0.1:5001",
	"infura": "https://ipfs.infura.io:5001",
	"public": "https://ipfs.io",
}

// Providers is a lookup table of remote API endpoints by name.
type Providers map[string]Provider

// NewProviders builds a provider table from the built-in entries overridden
// by overrides.
func NewProviders(overrides map[string]string) Providers {
	p := make(Providers, len(DefaultProviders)+len(overrides))
	for name, url := range DefaultProviders {
		p[name] = Provider{Name: name, URL: url}
	}
	for name, url := range overrides {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || url == "" {
			continue
		}
		p[name] = Provider{Name: name, URL: url}
	}
	return p
}

// Lookup returns the provider with the given name. An empty name selects
// DefaultProvider.
func (p Providers) Lookup(name string) (Provider, error) {
	if name == "" {
		name = DefaultProvider
	}
	provider, ok := p[strings.ToLower(name)]
	if !ok {
		return Provider{}, fmt.Errorf("%w: %s", interfaces.ErrUnknownProvider, name)
	}
	return provider, nil
}

// List returns the providers sorted by name.
func (p Providers) List() []Provider {
	out := make([]Provider, 0, len(p))
	for _, provider := range p {
		out = append(out, provider)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
