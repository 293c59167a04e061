package billing

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/rs/dnscache"
	"github.com/rs/zerolog/log"
	stripelib "github.com/stripe/stripe-go/v82"
)

const (
	defaultDNSRefresh = 5 * time.Minute
	stripeHTTPTimeout = 80 * time.Second
)

// Resolver caches DNS lookups for outbound provider calls.
type Resolver struct {
	cache   *dnscache.Resolver
	refresh time.Duration
}

// NewResolver returns a caching resolver refreshed every interval.
func NewResolver(interval time.Duration) *Resolver {
	if interval <= 0 {
		interval = defaultDNSRefresh
	}
	return &Resolver{cache: &dnscache.Resolver{}, refresh: interval}
}

// Run refreshes the cache until ctx is done. Entries not used since the
// previous refresh are dropped.
func (r *Resolver) Run(ctx context.Context) {
	log.Info().Dur("interval", r.refresh).Msg("DNS cache refresh started")
	ticker := time.NewTicker(r.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.cache.Refresh(true)
			log.Debug().Msg("DNS cache refreshed")
		}
	}
}

// DialContext resolves address through the cache and dials the returned
// addresses in order until one connects.
func (r *Resolver) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}

	ips, err := r.cache.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, &net.DNSError{Err: "no IP addresses found", Name: host}
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	var lastErr error
	for _, ip := range ips {
		conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// HTTPClient returns a client whose connections go through the cache.
func (r *Resolver) HTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = r.DialContext
	return &http.Client{Transport: transport, Timeout: stripeHTTPTimeout}
}

// UseResolver routes stripe-go API calls through r.
func UseResolver(r *Resolver) {
	backend := stripelib.GetBackendWithConfig(stripelib.APIBackend, &stripelib.BackendConfig{
		HTTPClient: r.HTTPClient(),
	})
	stripelib.SetBackend(stripelib.APIBackend, backend)
}
