package dnslink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/miekg/dns"
	"github.com/ruteri/nexus-storage-gateway/interfaces"
	"github.com/ruteri/nexus-storage-gateway/metrics"
)

const (
	// DefaultServer is the local stub resolver.
	DefaultServer = "127.0.0.53:53"

	DefaultCacheSize = 256
	DefaultCacheTTL  = 5 * time.Minute
	DefaultTimeout   = 5 * time.Second

	dnslinkPrefix = "dnslink="
	dnslinkLabel  = "_dnslink."
)

var (
	// ErrNoDNSLink is returned when a domain publishes no dnslink record.
	ErrNoDNSLink = errors.New("no dnslink record")

	// ErrInvalidDomain is returned for names that cannot be queried.
	ErrInvalidDomain = errors.New("invalid domain name")
)

// Config configures the resolver.
type Config struct {
	Server    string        `mapstructure:"server"`
	CacheSize int           `mapstructure:"cache_size" validate:"gte=0"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// Link is a resolved DNSLink record.
type Link struct {
	Domain    string         `json:"domain"`
	Path      string         `json:"path"`
	Namespace string         `json:"namespace"`
	CID       interfaces.CID `json:"cid,omitempty"`
}

// Resolver looks up dnslink TXT records and caches the answers.
type Resolver struct {
	client *dns.Client
	server string
	cache  *expirable.LRU[string, Link]
	log    *slog.Logger
}

// NewResolver creates a resolver querying cfg.Server.
func NewResolver(cfg Config, log *slog.Logger) *Resolver {
	if cfg.Server == "" {
		cfg.Server = DefaultServer
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Resolver{
		client: &dns.Client{Timeout: cfg.Timeout},
		server: cfg.Server,
		cache:  expirable.NewLRU[string, Link](cfg.CacheSize, nil, cfg.CacheTTL),
		log:    log,
	}
}

// Resolve returns the DNSLink published by domain. The _dnslink subdomain is
// queried first, then the domain itself.
func (r *Resolver) Resolve(ctx context.Context, domain string) (Link, error) {
	domain = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
	if _, ok := dns.IsDomainName(domain); !ok || domain == "" {
		return Link{}, fmt.Errorf("%w: %q", ErrInvalidDomain, domain)
	}

	if link, ok := r.cache.Get(domain); ok {
		metrics.DNSLinkCacheHits.Inc()
		return link, nil
	}
	metrics.DNSLinkCacheMisses.Inc()

	var lastErr error = ErrNoDNSLink
	for _, name := range []string{dnslinkLabel + domain, domain} {
		values, err := r.lookupTXT(ctx, name)
		if err != nil {
			lastErr = err
			continue
		}
		// An answered query without a dnslink record outranks an earlier
		// transport failure.
		lastErr = ErrNoDNSLink
		for _, v := range values {
			link, ok := parseDNSLink(v)
			if !ok {
				continue
			}
			link.Domain = domain
			r.cache.Add(domain, link)
			r.log.Debug("Resolved dnslink",
				slog.String("domain", domain),
				slog.String("path", link.Path))
			return link, nil
		}
	}

	if errors.Is(lastErr, ErrNoDNSLink) {
		return Link{}, fmt.Errorf("%w: %s", ErrNoDNSLink, domain)
	}
	return Link{}, lastErr
}

func (r *Resolver) lookupTXT(ctx context.Context, name string) ([]string, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeTXT)
	m.RecursionDesired = true

	in, _, err := r.client.ExchangeContext(ctx, m, r.server)
	if err != nil {
		r.log.Warn("DNS query failed",
			slog.String("name", name),
			slog.String("server", r.server),
			"err", err)
		return nil, fmt.Errorf("dns query for %s failed: %w", name, err)
	}
	if in.Rcode == dns.RcodeNameError {
		return nil, ErrNoDNSLink
	}
	if in.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("dns query for %s failed: %s", name, dns.RcodeToString[in.Rcode])
	}

	values := make([]string, 0, len(in.Answer))
	for _, answer := range in.Answer {
		if txt, ok := answer.(*dns.TXT); ok {
			values = append(values, strings.Join(txt.Txt, ""))
		}
	}
	return values, nil
}

// parseDNSLink parses "dnslink=/<namespace>/<value>[/path]".
func parseDNSLink(txt string) (Link, bool) {
	txt = strings.TrimSpace(txt)
	if !strings.HasPrefix(txt, dnslinkPrefix) {
		return Link{}, false
	}
	path := strings.TrimSpace(strings.TrimPrefix(txt, dnslinkPrefix))

	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Link{}, false
	}

	link := Link{Path: path, Namespace: parts[0]}
	if parts[0] == "ipfs" {
		link.CID = interfaces.CID(parts[1])
	}
	return link, true
}

// Purge drops every cached answer.
func (r *Resolver) Purge() {
	r.cache.Purge()
}
