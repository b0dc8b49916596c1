package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
	"golang.org/x/sync/errgroup"
)

// ErrBrowserStopped is returned by Run after Stop.
var ErrBrowserStopped = errors.New("browser stopped")

// BrowserConfig configures a Browser.
type BrowserConfig struct {
	// Services are the DNS-SD service types to browse.
	// Default: DefaultServices.
	Services []string

	// Interface restricts browsing to one network interface.
	// Empty string means all interfaces.
	Interface string

	// Logger for browse events. If nil, logging is disabled.
	Logger *slog.Logger
}

// DefaultBrowserConfig returns the default browser configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{Services: DefaultServices}
}

// Browser browses the configured service types and feeds a HintCache.
type Browser struct {
	config BrowserConfig
	cache  *HintCache
	logger *slog.Logger

	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc

	// now is overridable for tests.
	now func() time.Time
}

// NewBrowser creates a browser writing into cache.
func NewBrowser(config BrowserConfig, cache *HintCache) *Browser {
	if len(config.Services) == 0 {
		config.Services = DefaultServices
	}
	return &Browser{
		config: config,
		cache:  cache,
		logger: config.Logger,
		now:    time.Now,
	}
}

// Run browses every service type until ctx is done or Stop is called.
func (b *Browser) Run(ctx context.Context) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return ErrBrowserStopped
	}
	ctx, b.cancel = context.WithCancel(ctx)
	b.mu.Unlock()

	opts, err := b.browserOptions()
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, service := range b.config.Services {
		entries := make(chan *zeroconf.ServiceEntry)
		removed := make(chan *zeroconf.ServiceEntry)

		g.Go(func() error {
			b.consume(ctx, service, entries, removed)
			return nil
		})
		g.Go(func() error {
			if err := zeroconf.Browse(ctx, service, Domain, entries, removed, opts...); err != nil {
				return fmt.Errorf("browse %s: %w", service, err)
			}
			return nil
		})
	}

	if b.logger != nil {
		b.logger.Info("mDNS browsing started", "services", b.config.Services, "interface", b.config.Interface)
	}
	err = g.Wait()
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// Stop ends Run and prevents further runs.
func (b *Browser) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stopped = true
	if b.cancel != nil {
		b.cancel()
	}
}

// consume turns entries into hints. Instances are aggregated: addresses
// announced on several interfaces end up as separate hints of one instance.
func (b *Browser) consume(ctx context.Context, service string, entries, removed <-chan *zeroconf.ServiceEntry) {
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return
			}
			hints := fromZeroconf(service, entry).Hints(b.now())
			if len(hints) == 0 {
				continue
			}
			b.cache.Add(hints...)
			if b.logger != nil {
				b.logger.Debug("mDNS hint",
					"service", service,
					"instance", entry.Instance,
					"addrs", len(hints),
					"port", hints[0].Port)
			}

		case entry, ok := <-removed:
			if !ok {
				removed = nil
				continue
			}
			e := fromZeroconf(service, entry)
			b.cache.Remove(e.Instance, e.Addrs...)

		case <-ctx.Done():
			return
		}
	}
}

// FindOnce browses for timeout and returns what was heard. A non-positive
// timeout uses DefaultBrowseTimeout.
func FindOnce(ctx context.Context, config BrowserConfig, timeout time.Duration) ([]Hint, error) {
	if timeout <= 0 {
		timeout = DefaultBrowseTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cache := NewHintCache(0)
	if err := NewBrowser(config, cache).Run(ctx); err != nil {
		return nil, err
	}
	return cache.Hints(), nil
}

// browserOptions returns zeroconf client options based on config.
func (b *Browser) browserOptions() ([]zeroconf.ClientOption, error) {
	var opts []zeroconf.ClientOption
	if b.config.Interface != "" {
		iface, err := net.InterfaceByName(b.config.Interface)
		if err != nil {
			return nil, fmt.Errorf("mDNS interface %q: %w", b.config.Interface, err)
		}
		opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
	}
	return opts, nil
}

func fromZeroconf(service string, entry *zeroconf.ServiceEntry) ServiceEntry {
	addrs := make([]netip.Addr, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		if a, ok := netip.AddrFromSlice(ip); ok {
			addrs = append(addrs, a.Unmap())
		}
	}
	for _, ip := range entry.AddrIPv6 {
		if a, ok := netip.AddrFromSlice(ip); ok {
			addrs = append(addrs, a)
		}
	}
	return ServiceEntry{
		Instance: entry.Instance,
		Service:  service,
		Host:     entry.HostName,
		Port:     uint16(entry.Port),
		Text:     entry.Text,
		Addrs:    addrs,
	}
}
