package pairing

import (
	"net/netip"
	"sync"
	"time"
)

// DefaultCooldownTiers are the delays applied after repeated rejections:
// [1-3 rejections, 4-6, 7-10, 11+].
var DefaultCooldownTiers = [4]time.Duration{0, 30 * time.Second, 2 * time.Minute, 10 * time.Minute}

// RejectionTracker counts rejected pairing sessions per display address and
// imposes a cooldown before the next Initiate.
//
// Cooldown tiers:
//   - Rejections 1-3: tier 1 (normally none, operators mistype codes)
//   - Rejections 4-6: tier 2
//   - Rejections 7-10: tier 3
//   - Rejections 11+: tier 4
//
// The count for an address resets when a session for it is accepted.
type RejectionTracker struct {
	mu    sync.Mutex
	tiers [4]time.Duration
	hosts map[netip.Addr]*rejections

	// now is overridable for tests.
	now func() time.Time
}

type rejections struct {
	count int
	last  time.Time
}

// NewRejectionTracker creates a tracker with the given tiers.
func NewRejectionTracker(tiers [4]time.Duration) *RejectionTracker {
	return &RejectionTracker{
		tiers: tiers,
		hosts: make(map[netip.Addr]*rejections),
		now:   time.Now,
	}
}

// Delay returns how long the tier for the address requires between the
// last rejection and the next attempt.
func (t *RejectionTracker) Delay(addr netip.Addr) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.hosts[addr]
	if !ok {
		return t.tiers[0]
	}
	return t.tierLocked(r.count)
}

func (t *RejectionTracker) tierLocked(count int) time.Duration {
	switch {
	case count <= 3:
		return t.tiers[0]
	case count <= 6:
		return t.tiers[1]
	case count <= 10:
		return t.tiers[2]
	default:
		return t.tiers[3]
	}
}

// Remaining returns how much of the cooldown is left for the address,
// or zero if a new attempt may start now.
func (t *RejectionTracker) Remaining(addr netip.Addr) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.hosts[addr]
	if !ok {
		return 0
	}
	left := r.last.Add(t.tierLocked(r.count)).Sub(t.now())
	if left < 0 {
		return 0
	}
	return left
}

// RecordRejection counts one rejected session for the address.
func (t *RejectionTracker) RecordRejection(addr netip.Addr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.hosts[addr]
	if !ok {
		r = &rejections{}
		t.hosts[addr] = r
	}
	r.count++
	r.last = t.now()
}

// Reset clears the count for the address.
func (t *RejectionTracker) Reset(addr netip.Addr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.hosts, addr)
}

// Count returns the number of rejections recorded for the address.
func (t *RejectionTracker) Count(addr netip.Addr) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.hosts[addr]; ok {
		return r.count
	}
	return 0
}
