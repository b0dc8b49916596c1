package discovery

import (
	"net/netip"
	"slices"
	"sync"
	"time"
)

// DefaultHintTTL is how long a hint stays usable after it was last seen.
const DefaultHintTTL = 10 * time.Minute

type hintKey struct {
	instance string
	addr     netip.Addr
}

// HintCache keeps recently announced hints, keyed by instance and address.
type HintCache struct {
	mu    sync.Mutex
	ttl   time.Duration
	hints map[hintKey]Hint

	// now is overridable for tests.
	now func() time.Time
}

// NewHintCache creates a cache. A non-positive ttl uses DefaultHintTTL.
func NewHintCache(ttl time.Duration) *HintCache {
	if ttl <= 0 {
		ttl = DefaultHintTTL
	}
	return &HintCache{
		ttl:   ttl,
		hints: make(map[hintKey]Hint),
		now:   time.Now,
	}
}

// Add records or refreshes hints.
func (c *HintCache) Add(hints ...Hint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, h := range hints {
		c.hints[hintKey{h.Instance, h.Addr}] = h
	}
}

// Remove drops the given addresses of an instance. With no addresses, every
// hint of the instance is dropped.
func (c *HintCache) Remove(instance string, addrs ...netip.Addr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(addrs) == 0 {
		for k := range c.hints {
			if k.instance == instance {
				delete(c.hints, k)
			}
		}
		return
	}
	for _, a := range addrs {
		delete(c.hints, hintKey{instance, a.Unmap()})
	}
}

// Hints returns unexpired hints ordered by address, then port.
func (c *HintCache) Hints() []Hint {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-c.ttl)
	out := make([]Hint, 0, len(c.hints))
	for k, h := range c.hints {
		if h.SeenAt.Before(cutoff) {
			delete(c.hints, k)
			continue
		}
		out = append(out, h)
	}
	slices.SortFunc(out, func(a, b Hint) int {
		if c := a.Addr.Compare(b.Addr); c != 0 {
			return c
		}
		return int(a.Port) - int(b.Port)
	})
	return out
}

// Addrs returns the distinct unexpired hinted addresses in ascending order.
func (c *HintCache) Addrs() []netip.Addr {
	hints := c.Hints()
	out := make([]netip.Addr, 0, len(hints))
	for _, h := range hints {
		if n := len(out); n == 0 || out[n-1] != h.Addr {
			out = append(out, h.Addr)
		}
	}
	return out
}

// Len returns the number of cached hints, expired or not.
func (c *HintCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.hints)
}
