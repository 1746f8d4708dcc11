package worker

import (
	"context"
	"time"

	"github.com/rs/dnscache"
)

// DefaultDNSRefreshInterval is how often cached DNS records are re-resolved.
const DefaultDNSRefreshInterval = 5 * time.Minute

// DNSRefresher keeps the backend transport's DNS cache current and drops
// hosts that were not looked up since the previous refresh.
type DNSRefresher struct {
	resolver *dnscache.Resolver
	interval time.Duration
}

// NewDNSRefresher creates a DNSRefresher for resolver.
func NewDNSRefresher(resolver *dnscache.Resolver, interval time.Duration) *DNSRefresher {
	if interval <= 0 {
		interval = DefaultDNSRefreshInterval
	}
	return &DNSRefresher{resolver: resolver, interval: interval}
}

// Name returns the worker identifier.
func (d *DNSRefresher) Name() string { return "dns_refresh" }

// Run refreshes every interval until ctx is cancelled.
func (d *DNSRefresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.resolver.Refresh(true)
		case <-ctx.Done():
			return nil
		}
	}
}
