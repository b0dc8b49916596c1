// Package pairing runs vendor pairing handshakes behind one state machine.
//
// Each session moves from initiated to either waiting (autonomous prompt,
// polled in the background) or pin_required (operator code), and ends in
// exactly one of accepted, rejected, timeout or error. An accepted token is
// sealed by the credential vault before it is stored, so the plaintext
// never leaves this package.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paircast/paircast-go/pkg/arena"
	"github.com/paircast/paircast-go/pkg/device"
	"github.com/paircast/paircast-go/pkg/eventlog"
)

// Orchestrator errors.
var (
	ErrNoVault       = errors.New("pairing requires a credential vault")
	ErrInvalidTarget = errors.New("invalid pairing target")
)

// abortTimeout bounds the best-effort prompt withdrawal after a session
// ends without a decision.
const abortTimeout = 5 * time.Second

// Orchestrator owns all pairing sessions.
type Orchestrator struct {
	cfg        Config
	sessions   *arena.Table[*session]
	rejections *RejectionTracker
	logger     *slog.Logger

	// base parents every session context; Close cancels it.
	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	// now is overridable for tests.
	now func() time.Time
}

// New creates an orchestrator. Zero timing fields take their defaults.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Vault == nil {
		return nil, ErrNoVault
	}
	def := DefaultConfig()
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = def.DefaultTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.MaxPollFailures <= 0 {
		cfg.MaxPollFailures = def.MaxPollFailures
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = def.MaxSessions
	}

	base, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg: cfg,
		sessions: arena.New(arena.Config[*session]{
			Name:     "pairing",
			Capacity: cfg.MaxSessions,
			Logger:   cfg.Logger,
		}),
		rejections: NewRejectionTracker(cfg.CooldownTiers),
		logger:     cfg.Logger,
		base:       base,
		stop:       stop,
		now:        time.Now,
	}, nil
}

// Run sweeps finished sessions until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) {
	o.sessions.Run(ctx, arena.DefaultSweepInterval)
}

// Close cancels every open session's background work and waits for it.
// Sessions are not transitioned.
func (o *Orchestrator) Close() {
	o.stop()
	o.wg.Wait()
}

// TimeoutFor returns the session lifetime used for a brand.
func (o *Orchestrator) TimeoutFor(brand device.Brand) time.Duration {
	if d, ok := o.cfg.Timeouts[brand]; ok && d > 0 {
		return d
	}
	p, err := o.cfg.Vendors.For(brand)
	if err != nil {
		return o.cfg.DefaultTimeout
	}
	if d := p.TimeoutPolicy().Expiry; d > 0 {
		return d
	}
	return o.cfg.DefaultTimeout
}

// RequiresCode reports whether pairing with the brand needs operator input.
func (o *Orchestrator) RequiresCode(brand device.Brand) (bool, error) {
	p, err := o.cfg.Vendors.For(brand)
	if err != nil {
		return false, err
	}
	return p.Family().RequiresCode(), nil
}

// Initiate starts pairing with a display. It returns once the vendor
// request has been sent, with the session in pin_required or waiting. On
// transport failure the session is kept in error state and the returned
// error wraps ErrPairingTransport.
func (o *Orchestrator) Initiate(ctx context.Context, target Target) (Session, error) {
	if !target.Addr.IsValid() || target.Port == 0 {
		return Session{}, ErrInvalidTarget
	}
	pairer, err := o.cfg.Vendors.For(target.Brand)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %s", err, target.Brand)
	}
	if left := o.rejections.Remaining(target.Addr); left > 0 {
		return Session{}, fmt.Errorf("%w: retry in %s", ErrCoolingDown, left.Round(time.Second))
	}

	policy := pairer.TimeoutPolicy()
	expiry := o.TimeoutFor(target.Brand)
	interval := policy.PollInterval
	if o.cfg.PollInterval > 0 {
		interval = o.cfg.PollInterval
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	now := o.now()
	s := &session{
		pairer: pairer,
		target: target,
		info: Session{
			ID:          uuid.NewString(),
			Address:     target.Addr,
			Port:        target.Port,
			Brand:       target.Brand,
			Family:      pairer.Family(),
			Status:      StatusInitiated,
			RequiresPIN: pairer.Family().RequiresCode(),
			StartedAt:   now,
			ExpiresAt:   now.Add(expiry),
		},
	}
	s.ctx, s.cancel = context.WithCancel(eventlog.WithSession(o.base, s.info.ID))

	if err := o.sessions.Insert(s.info.ID, s); err != nil {
		s.cancel()
		if errors.Is(err, arena.ErrFull) {
			return Session{}, ErrTooManySessions
		}
		return Session{}, err
	}

	s.mu.Lock()
	s.timer = time.AfterFunc(expiry, func() { o.expire(s) })
	s.mu.Unlock()

	if o.logger != nil {
		o.logger.Info("pairing initiated",
			"session", s.info.ID,
			"target", target.HostPort(),
			"brand", target.Brand,
			"family", pairer.Family(),
			"expiry", expiry)
	}
	o.emitState(s, "", StatusInitiated, "")

	reqCtx, cancel := context.WithTimeout(eventlog.WithSession(ctx, s.info.ID), o.cfg.RequestTimeout)
	defer cancel()
	release := context.AfterFunc(s.ctx, cancel)
	defer release()

	pending, err := pairer.SendRequest(reqCtx, target)
	if err != nil {
		o.finish(s, StatusError, fmt.Errorf("%w: %v", ErrPairingTransport, err), nil)
		return s.snapshot(), s.terminalErr()
	}

	s.mu.Lock()
	if s.info.Status.IsTerminal() {
		// Cancelled or expired while the request was in flight.
		s.pending = pending
		s.mu.Unlock()
		o.abort(s, pending)
		return s.snapshot(), s.terminalErr()
	}
	s.pending = pending
	if s.info.RequiresPIN {
		s.info.Status = StatusPinRequired
	} else {
		s.info.Status = StatusWaiting
	}
	snap := s.info
	s.mu.Unlock()
	o.emitState(s, StatusInitiated.String(), snap.Status, "")

	if !snap.RequiresPIN {
		o.wg.Add(1)
		go o.poll(s, pending, interval)
	}
	return snap, nil
}

// poll asks the device for its decision on every tick until the session
// finishes.
func (o *Orchestrator) poll(s *session, pending *Pending, interval time.Duration) {
	defer o.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		reqCtx, cancel := context.WithTimeout(s.ctx, o.cfg.RequestTimeout)
		out, err := s.pairer.PollOrVerify(reqCtx, pending, "")
		cancel()
		if s.ctx.Err() != nil {
			return
		}

		if err != nil {
			failures++
			if o.logger != nil {
				o.logger.Debug("pairing poll failed",
					"session", s.info.ID, "failures", failures, "error", err)
			}
			o.emit(s, eventlog.Event{
				Category: eventlog.CategoryError,
				Error:    &eventlog.ErrorEventData{Message: err.Error(), Context: fmt.Sprintf("poll %d/%d", failures, o.cfg.MaxPollFailures)},
			})
			if failures >= o.cfg.MaxPollFailures {
				o.finish(s, StatusError, fmt.Errorf("%w: %v", ErrPairingTransport, err), nil)
				return
			}
			continue
		}
		failures = 0

		if o.decide(s, out) {
			return
		}
	}
}

// decide applies a device outcome. Returns false while undecided.
func (o *Orchestrator) decide(s *session, out Outcome) bool {
	switch out.Decision {
	case DecisionAccepted:
		o.accept(s, out.Grant)
	case DecisionRejected:
		err := ErrPairingRejected
		if out.Reason != "" {
			err = fmt.Errorf("%w: %s", ErrPairingRejected, out.Reason)
		}
		o.finish(s, StatusRejected, err, nil)
	default:
		return false
	}
	return true
}

// accept seals the granted token and stores the result.
func (o *Orchestrator) accept(s *session, g Grant) {
	sealed, err := o.cfg.Vault.SealString(g.Token)
	if err != nil {
		o.finish(s, StatusError, fmt.Errorf("seal credential: %w", err), nil)
		return
	}
	o.finish(s, StatusAccepted, nil, &Result{
		Credential:   sealed,
		TokenExpiry:  g.TokenExpiry,
		Capabilities: g.Capabilities.Clone(),
		APIVersion:   g.APIVersion,
	})
}

// expire ends the session at its deadline.
func (o *Orchestrator) expire(s *session) {
	o.finish(s, StatusTimeout, ErrPairingTimeout, nil)
}

// finish commits a terminal state if none has been committed yet, and
// reports whether this call won.
func (o *Orchestrator) finish(s *session, status Status, err error, res *Result) bool {
	s.mu.Lock()
	if s.info.Status.IsTerminal() {
		s.mu.Unlock()
		return false
	}
	old := s.info.Status
	s.info.Status = status
	if status == StatusTimeout {
		s.info.FinishedAt = s.info.ExpiresAt
	} else {
		s.info.FinishedAt = o.now()
	}
	s.err = err
	if err != nil {
		s.info.Error = err.Error()
	}
	s.result = res
	s.info.HasCredential = res != nil
	if s.timer != nil {
		s.timer.Stop()
	}
	pending := s.pending
	snap := s.info
	s.mu.Unlock()

	s.cancel()
	_ = o.sessions.Retire(snap.ID, o.cfg.Retention)
	o.emitState(s, old.String(), status, snap.Error)

	switch status {
	case StatusAccepted:
		o.rejections.Reset(snap.Address)
	case StatusRejected:
		o.rejections.RecordRejection(snap.Address)
	case StatusTimeout, StatusError:
		if pending != nil {
			o.abort(s, pending)
		}
	}

	if o.logger != nil {
		attrs := []any{"session", snap.ID, "target", s.target.HostPort(), "status", status}
		if err != nil {
			attrs = append(attrs, "error", err)
		}
		o.logger.Info("pairing finished", attrs...)
	}
	return true
}

// abort withdraws the prompt from the display when the vendor supports it.
func (o *Orchestrator) abort(s *session, pending *Pending) {
	a, ok := s.pairer.(Aborter)
	if !ok {
		return
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(eventlog.WithSession(context.WithoutCancel(o.base), s.info.ID), abortTimeout)
		defer cancel()
		if err := a.Abort(ctx, pending); err != nil && o.logger != nil {
			o.logger.Debug("pairing abort failed", "target", s.target.HostPort(), "error", err)
		}
	}()
}

// SubmitCode verifies an operator-entered code. Only one attempt is made
// per session: whatever the device answers, the session ends. On success
// the sealed result is returned and counts as collected.
func (o *Orchestrator) SubmitCode(ctx context.Context, id, code string) (Result, error) {
	s, err := o.lookup(id)
	if err != nil {
		return Result{}, err
	}
	normalized, err := NormalizeCode(s.pairer.Family(), code)
	if err != nil {
		return Result{}, err
	}

	s.mu.Lock()
	switch {
	case s.info.Status.IsTerminal():
		s.mu.Unlock()
		return Result{}, ErrSessionClosed
	case s.info.Status != StatusPinRequired:
		s.mu.Unlock()
		return Result{}, ErrNoChallenge
	case s.verifying:
		s.mu.Unlock()
		return Result{}, ErrCodeInFlight
	}
	if !o.now().Before(s.info.ExpiresAt) {
		s.mu.Unlock()
		o.expire(s)
		return Result{}, ErrSessionClosed
	}
	s.verifying = true
	pending := s.pending
	s.mu.Unlock()

	reqCtx, cancel := context.WithTimeout(eventlog.WithSession(ctx, s.info.ID), o.cfg.RequestTimeout)
	defer cancel()
	release := context.AfterFunc(s.ctx, cancel)
	defer release()

	out, err := s.pairer.PollOrVerify(reqCtx, pending, normalized)
	switch {
	case err != nil:
		o.finish(s, StatusError, fmt.Errorf("%w: %v", ErrPairingTransport, err), nil)
	case !o.decide(s, out):
		o.finish(s, StatusError, fmt.Errorf("%w: device gave no decision", ErrPairingTransport), nil)
	}
	return o.release(s)
}

// Collect releases the sealed result of a finished session. The result is
// released once; a failed session returns its terminal error.
func (o *Orchestrator) Collect(id string) (Result, error) {
	s, err := o.lookup(id)
	if err != nil {
		return Result{}, err
	}
	return o.release(s)
}

func (o *Orchestrator) release(s *session) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case !s.info.Status.IsTerminal():
		return Result{}, ErrNotFinished
	case s.info.Status != StatusAccepted:
		return Result{}, s.err
	case s.collected:
		return Result{}, ErrAlreadyCollected
	}
	s.collected = true
	return s.result.Clone(), nil
}

// Cancel ends an open session in error state. Returns ErrSessionClosed if
// the session had already finished.
func (o *Orchestrator) Cancel(id string) error {
	s, err := o.lookup(id)
	if err != nil {
		return err
	}
	if !o.finish(s, StatusError, ErrCancelled, nil) {
		return ErrSessionClosed
	}
	return nil
}

// Status returns a snapshot of the session.
func (o *Orchestrator) Status(id string) (Session, error) {
	s, err := o.lookup(id)
	if err != nil {
		return Session{}, err
	}
	return s.snapshot(), nil
}

// List returns snapshots of all sessions, oldest first.
func (o *Orchestrator) List() []Session {
	all := o.sessions.Snapshot()
	out := make([]Session, 0, len(all))
	for _, s := range all {
		out = append(out, s.snapshot())
	}
	slices.SortFunc(out, func(a, b Session) int { return a.StartedAt.Compare(b.StartedAt) })
	return out
}

// Rejections returns the number of rejected sessions recorded for an
// address since its last accepted one.
func (o *Orchestrator) Rejections(addr netip.Addr) int {
	return o.rejections.Count(addr)
}

func (o *Orchestrator) lookup(id string) (*session, error) {
	s, err := o.sessions.Get(id)
	if err != nil {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (s *session) terminalErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// emit sends a trace event for s. Session, target and brand are filled in.
func (o *Orchestrator) emit(s *session, e eventlog.Event) {
	if o.cfg.Events == nil {
		return
	}
	e.SessionID = s.info.ID
	e.Source = eventlog.SourcePairing
	e.Target = s.target.HostPort()
	e.Brand = s.target.Brand.String()
	if e.Timestamp.IsZero() {
		e.Timestamp = o.now()
	}
	o.cfg.Events.Log(e)
}

// emitState traces a transition. from is empty for a new session.
func (o *Orchestrator) emitState(s *session, from string, to Status, reason string) {
	o.emit(s, eventlog.Event{
		Category:    eventlog.CategoryState,
		StateChange: &eventlog.StateChangeEvent{OldState: from, NewState: to.String(), Reason: reason},
	})
}
