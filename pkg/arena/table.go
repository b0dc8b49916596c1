// Package arena provides the bounded, ID-keyed session tables shared by the
// scanner and the pairing orchestrator.
//
// Sessions live in one map owned by the Table. Writers mutate an entry in
// place through Update under the table lock; readers get a cloned snapshot.
// Entries that have finished are retired with a retention deadline and a
// single sweeper goroutine per table removes them once it passes.
package arena

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Defaults.
const (
	DefaultCapacity      = 1024
	DefaultSweepInterval = 30 * time.Second
)

// Table errors.
var (
	ErrNotFound = errors.New("entry not found")
	ErrExists   = errors.New("entry already exists")
	ErrFull     = errors.New("table is full")
)

// Config configures a Table.
type Config[T any] struct {
	// Name labels log lines from the sweeper.
	Name string

	// Capacity bounds the number of live and retired entries.
	Capacity int

	// Clone produces the snapshot handed to readers. If nil, values are
	// copied by assignment.
	Clone func(T) T

	// Logger for sweep events. If nil, logging is disabled.
	Logger *slog.Logger
}

type entry[T any] struct {
	value    T
	deadline time.Time // zero while live
}

// Table is a bounded map of entries keyed by opaque ID.
type Table[T any] struct {
	mu      sync.Mutex
	entries map[string]*entry[T]

	name     string
	capacity int
	clone    func(T) T
	logger   *slog.Logger

	// now is overridable for tests.
	now func() time.Time
}

// New creates an empty table.
func New[T any](cfg Config[T]) *Table[T] {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	clone := cfg.Clone
	if clone == nil {
		clone = func(v T) T { return v }
	}
	return &Table[T]{
		entries:  make(map[string]*entry[T]),
		name:     cfg.Name,
		capacity: cfg.Capacity,
		clone:    clone,
		logger:   cfg.Logger,
		now:      time.Now,
	}
}

// Insert adds a live entry. Expired entries are swept first if the table
// is at capacity.
func (t *Table[T]) Insert(id string, v T) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[id]; ok {
		return ErrExists
	}
	if len(t.entries) >= t.capacity {
		t.sweepLocked(t.now())
		if len(t.entries) >= t.capacity {
			return ErrFull
		}
	}
	t.entries[id] = &entry[T]{value: v}
	return nil
}

// Update applies fn to the stored value under the table lock.
// fn must not block.
func (t *Table[T]) Update(id string, fn func(*T)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok {
		return ErrNotFound
	}
	fn(&e.value)
	return nil
}

// Get returns a snapshot of the entry.
func (t *Table[T]) Get(id string) (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok {
		var zero T
		return zero, ErrNotFound
	}
	return t.clone(e.value), nil
}

// Retire schedules the entry for removal after the retention period.
// Retiring twice keeps the earlier deadline.
func (t *Table[T]) Retire(id string, retention time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok {
		return ErrNotFound
	}
	if e.deadline.IsZero() {
		e.deadline = t.now().Add(retention)
	}
	return nil
}

// Delete removes the entry and returns its last value.
func (t *Table[T]) Delete(id string) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok {
		var zero T
		return zero, false
	}
	delete(t.entries, id)
	return e.value, true
}

// Len returns the number of entries, including retired ones not yet swept.
func (t *Table[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Count returns the number of entries for which match returns true.
func (t *Table[T]) Count(match func(T) bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, e := range t.entries {
		if match(e.value) {
			n++
		}
	}
	return n
}

// Snapshot returns clones of all entries, keyed by ID.
func (t *Table[T]) Snapshot() map[string]T {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]T, len(t.entries))
	for id, e := range t.entries {
		out[id] = t.clone(e.value)
	}
	return out
}

// Sweep removes retired entries whose deadline is not after now.
// Returns the number removed.
func (t *Table[T]) Sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sweepLocked(now)
}

func (t *Table[T]) sweepLocked(now time.Time) int {
	removed := 0
	for id, e := range t.entries {
		if !e.deadline.IsZero() && !now.Before(e.deadline) {
			delete(t.entries, id)
			removed++
		}
	}
	return removed
}

// Run sweeps on every interval tick until ctx is done.
func (t *Table[T]) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := t.Sweep(t.now()); n > 0 && t.logger != nil {
				t.logger.Debug("swept expired entries", "table", t.name, "removed", n)
			}
		}
	}
}
