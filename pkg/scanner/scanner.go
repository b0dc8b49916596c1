// Package scanner probes an address space for display control endpoints.
//
// A scan walks the space in batches of Config.Concurrency hosts. Within a
// batch every (host, port) pair is probed at once on a worker pool shared
// by all scans: a bare TCP connect bounded by Config.Timeout, then, if the
// port is open, classification over the same socket. Each host yields at
// most one device. Progress is written once per batch and read through
// snapshots.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/paircast/paircast-go/pkg/addrspace"
	"github.com/paircast/paircast-go/pkg/arena"
	"github.com/paircast/paircast-go/pkg/detect"
	"github.com/paircast/paircast-go/pkg/device"
	"github.com/paircast/paircast-go/pkg/eventlog"
)

// Defaults.
const (
	DefaultMaxActiveScans = 3
	DefaultMaxWorkers     = 256
	DefaultRetention      = 5 * time.Minute
	DefaultMaxSessions    = 64
)

// Scanner errors.
var (
	ErrTooManyScans  = errors.New("too many active scans")
	ErrScanNotFound  = errors.New("scan not found")
	ErrScanFinished  = errors.New("scan already finished")
	ErrCancelled     = errors.New("scan cancelled")
	ErrInternal      = errors.New("internal scan failure")
	ErrScannerClosed = errors.New("scanner is closed")
)

// Classifier identifies the device behind an open connection.
// *detect.Detector implements it.
type Classifier interface {
	Classify(ctx context.Context, conn net.Conn, target detect.Target) (device.DiscoveredDevice, bool)
}

// Options configures a Scanner.
type Options struct {
	// Classifier identifies open endpoints. Required.
	Classifier Classifier

	// Dialer opens probe connections. Defaults to a net.Dialer.
	Dialer detect.Dialer

	// MaxActiveScans bounds concurrently running scans.
	MaxActiveScans int

	// MaxWorkers bounds concurrent probes across all scans.
	MaxWorkers int

	// Retention keeps finished sessions readable for this long.
	Retention time.Duration

	// MaxSessions bounds running and retained sessions.
	MaxSessions int

	// Logger for scan events. If nil, logging is disabled.
	Logger *slog.Logger

	// Events receives the scan trace. If nil, tracing is disabled.
	Events eventlog.Logger
}

// DefaultOptions returns options with default limits and no classifier.
func DefaultOptions() Options {
	return Options{
		MaxActiveScans: DefaultMaxActiveScans,
		MaxWorkers:     DefaultMaxWorkers,
		Retention:      DefaultRetention,
		MaxSessions:    DefaultMaxSessions,
	}
}

// Scanner runs scans and keeps their sessions.
type Scanner struct {
	opts     Options
	dialer   detect.Dialer
	pool     *ants.Pool
	sessions *arena.Table[Session]
	logger   *slog.Logger

	mu      sync.Mutex
	active  map[string]context.CancelFunc
	closed  bool
	wg      sync.WaitGroup
	base    context.Context
	stopAll context.CancelFunc

	// now is overridable for tests.
	now func() time.Time
}

// New creates a Scanner.
func New(opts Options) (*Scanner, error) {
	if opts.Classifier == nil {
		return nil, errors.New("scanner: classifier is required")
	}
	def := DefaultOptions()
	if opts.MaxActiveScans <= 0 {
		opts.MaxActiveScans = def.MaxActiveScans
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = def.MaxWorkers
	}
	if opts.Retention <= 0 {
		opts.Retention = def.Retention
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = def.MaxSessions
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}

	pool, err := ants.NewPool(opts.MaxWorkers)
	if err != nil {
		return nil, fmt.Errorf("create probe pool: %w", err)
	}

	base, stop := context.WithCancel(context.Background())
	return &Scanner{
		opts:   opts,
		dialer: dialer,
		pool:   pool,
		sessions: arena.New(arena.Config[Session]{
			Name:     "scan",
			Capacity: opts.MaxSessions,
			Clone:    Session.Clone,
			Logger:   opts.Logger,
		}),
		logger:  opts.Logger,
		active:  make(map[string]context.CancelFunc),
		base:    base,
		stopAll: stop,
		now:     time.Now,
	}, nil
}

// Run sweeps finished sessions until ctx is done.
func (s *Scanner) Run(ctx context.Context) {
	s.sessions.Run(ctx, arena.DefaultSweepInterval)
}

// Close stops every running scan and releases the worker pool.
func (s *Scanner) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.stopAll()
	s.wg.Wait()
	s.pool.Release()
}

// Start begins scanning space and returns the scan ID without waiting.
// ctx only bounds the call itself: a caller that is already gone starts
// nothing. Once started, the scan outlives ctx; use Cancel to stop it.
func (s *Scanner) Start(ctx context.Context, space *addrspace.Space, cfg Config) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	if space == nil {
		space = addrspace.Empty()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrScannerClosed
	}
	if len(s.active) >= s.opts.MaxActiveScans {
		return "", ErrTooManyScans
	}

	id := uuid.NewString()
	now := s.now()
	sess := Session{
		ID:         id,
		Config:     cfg,
		Status:     StatusScanning,
		Total:      space.Len(),
		Discovered: []device.DiscoveredDevice{},
		StartedAt:  now,
	}
	sess.Config.Ports = slices.Clone(cfg.Ports)
	if err := s.sessions.Insert(id, sess); err != nil {
		if errors.Is(err, arena.ErrFull) {
			return "", ErrTooManyScans
		}
		return "", err
	}

	if s.logger != nil {
		s.logger.Info("scan started",
			"scan", id,
			"hosts", space.Len(),
			"space", space.String(),
			"ports", cfg.Ports,
			"concurrency", cfg.Concurrency)
	}
	eventlog.Emit(s.opts.Events, eventlog.Event{
		Timestamp:   now,
		SessionID:   id,
		Source:      eventlog.SourceScan,
		Category:    eventlog.CategoryState,
		StateChange: &eventlog.StateChangeEvent{NewState: StatusScanning.String(), Reason: space.String()},
	})

	if space.Len() == 0 {
		s.complete(id)
		return id, nil
	}

	scanCtx, cancel := context.WithCancel(s.base)
	s.active[id] = cancel
	s.wg.Add(1)
	go s.run(scanCtx, id, space, cfg)
	return id, nil
}

// Status returns a snapshot of the scan.
func (s *Scanner) Status(id string) (Session, error) {
	sess, err := s.sessions.Get(id)
	if err != nil {
		return Session{}, ErrScanNotFound
	}
	return sess, nil
}

// List returns snapshots of all scans, newest first.
func (s *Scanner) List() []Session {
	all := s.sessions.Snapshot()
	out := make([]Session, 0, len(all))
	for _, sess := range all {
		out = append(out, sess)
	}
	slices.SortFunc(out, func(a, b Session) int { return b.StartedAt.Compare(a.StartedAt) })
	return out
}

// Cancel stops a running scan. The session ends failed with ErrCancelled;
// devices found in completed batches are kept.
func (s *Scanner) Cancel(id string) error {
	if _, err := s.sessions.Get(id); err != nil {
		return ErrScanNotFound
	}
	if !s.finish(id, StatusFailed, ErrCancelled) {
		return ErrScanFinished
	}
	s.mu.Lock()
	cancel := s.active[id]
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Active returns the number of running scans.
func (s *Scanner) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

func (s *Scanner) run(ctx context.Context, id string, space *addrspace.Space, cfg Config) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		if cancel, ok := s.active[id]; ok {
			cancel()
			delete(s.active, id)
		}
		s.mu.Unlock()
	}()
	defer func() {
		if r := recover(); r != nil {
			s.finish(id, StatusFailed, fmt.Errorf("%w: %v", ErrInternal, r))
		}
	}()

	start := s.now()
	total := space.Len()
	processed := 0

	for _, batch := range space.Batches(cfg.Concurrency) {
		if ctx.Err() != nil {
			s.finish(id, StatusFailed, ErrCancelled)
			return
		}

		found, err := s.probeBatch(ctx, batch, cfg)
		if err != nil {
			s.finish(id, StatusFailed, err)
			return
		}
		if ctx.Err() != nil {
			s.finish(id, StatusFailed, ErrCancelled)
			return
		}

		processed += len(batch)
		elapsed := s.now().Sub(start)
		remaining := total - processed
		_ = s.sessions.Update(id, func(sess *Session) {
			if sess.Status != StatusScanning {
				return
			}
			sess.Current = processed
			sess.CurrentAddress = batch[len(batch)-1]
			sess.Discovered = append(sess.Discovered, found...)
			sess.Elapsed = elapsed
			sess.EstimatedRemaining = time.Duration(float64(remaining) * float64(elapsed) / float64(processed))
		})

		for _, dev := range found {
			eventlog.Emit(s.opts.Events, eventlog.Event{
				SessionID: id,
				Source:    eventlog.SourceScan,
				Category:  eventlog.CategoryDiscovery,
				Target:    netip.AddrPortFrom(dev.Address, dev.Port).String(),
				Brand:     dev.Brand.String(),
				Discovery: &eventlog.DiscoveryEvent{Model: dev.Model, Name: dev.Name, Confidence: dev.Confidence.String()},
			})
		}
		if s.logger != nil {
			s.logger.Debug("scan batch done",
				"scan", id, "current", processed, "total", total, "found", len(found))
		}
	}

	s.complete(id)
}

// hit is the best classification for one host so far.
type hit struct {
	dev     device.DiscoveredDevice
	portIdx int
}

func (h *hit) beats(other *hit) bool {
	if other == nil {
		return true
	}
	if h.dev.Confidence != other.dev.Confidence {
		return h.dev.Confidence > other.dev.Confidence
	}
	return h.portIdx < other.portIdx
}

// probeBatch probes every (host, port) pair of the batch concurrently and
// returns at most one device per host, in host order. A panic in a probe
// fails the batch.
func (s *Scanner) probeBatch(ctx context.Context, batch []netip.Addr, cfg Config) ([]device.DiscoveredDevice, error) {
	var (
		mu      sync.Mutex
		best    = make([]*hit, len(batch))
		failure error
		wg      sync.WaitGroup
	)

	record := func(err error) {
		mu.Lock()
		if failure == nil {
			failure = err
		}
		mu.Unlock()
	}

submit:
	for hi, addr := range batch {
		for pi, port := range cfg.Ports {
			wg.Add(1)
			task := func() {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						record(fmt.Errorf("%w: probe %s:%d panicked: %v", ErrInternal, addr, port, r))
					}
				}()

				dev, ok := s.probe(ctx, addr, port, cfg.Timeout)
				if !ok {
					return
				}
				h := &hit{dev: dev, portIdx: pi}
				mu.Lock()
				if h.beats(best[hi]) {
					best[hi] = h
				}
				mu.Unlock()
			}

			if err := s.pool.Submit(task); err != nil {
				wg.Done()
				record(fmt.Errorf("%w: submit probe: %v", ErrInternal, err))
				break submit
			}
		}
	}
	wg.Wait()

	if failure != nil {
		return nil, failure
	}
	var out []device.DiscoveredDevice
	for _, h := range best {
		if h != nil {
			out = append(out, h.dev)
		}
	}
	return out, nil
}

// probe connects to one port and classifies what answers.
func (s *Scanner) probe(ctx context.Context, addr netip.Addr, port uint16, timeout time.Duration) (device.DiscoveredDevice, bool) {
	target := detect.Target{Addr: addr, Port: port}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	conn, err := s.dialer.DialContext(dialCtx, "tcp", target.HostPort())
	cancel()
	if err != nil {
		if s.logger != nil {
			s.logger.Debug("probe closed", "target", target.HostPort(), "reason", classifyDialError(err))
		}
		return device.DiscoveredDevice{}, false
	}
	defer conn.Close()

	return s.opts.Classifier.Classify(ctx, conn, target)
}

// complete marks a scan complete.
func (s *Scanner) complete(id string) {
	s.finish(id, StatusComplete, nil)
}

// finish commits a terminal status if the scan is still running and
// reports whether this call won.
func (s *Scanner) finish(id string, status Status, cause error) bool {
	var (
		won  bool
		snap Session
	)
	_ = s.sessions.Update(id, func(sess *Session) {
		if sess.Status != StatusScanning {
			return
		}
		won = true
		now := s.now()
		sess.Status = status
		sess.CompletedAt = now
		sess.Elapsed = now.Sub(sess.StartedAt)
		sess.EstimatedRemaining = 0
		if cause != nil {
			sess.Error = cause.Error()
		}
		snap = *sess
	})
	if !won {
		return false
	}
	_ = s.sessions.Retire(id, s.opts.Retention)

	eventlog.Emit(s.opts.Events, eventlog.Event{
		Timestamp:   snap.CompletedAt,
		SessionID:   id,
		Source:      eventlog.SourceScan,
		Category:    eventlog.CategoryState,
		StateChange: &eventlog.StateChangeEvent{OldState: StatusScanning.String(), NewState: status.String(), Reason: snap.Error},
	})

	if s.logger != nil {
		attrs := []any{
			"scan", id,
			"status", status,
			"processed", snap.Current,
			"total", snap.Total,
			"devices", len(snap.Discovered),
			"elapsed", snap.Elapsed,
		}
		if cause != nil {
			attrs = append(attrs, "error", cause)
		}
		s.logger.Info("scan finished", attrs...)
	}
	return true
}
