// Package engine is the downstream API of paircast: it starts and tracks
// scans, drives pairing sessions and hands accepted credentials to the
// device store.
//
// Scans and pairings are independent. A running scan never delays a
// pairing request and vice versa; each subsystem keeps its own session
// table and sweeper.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/paircast/paircast-go/pkg/detect"
	"github.com/paircast/paircast-go/pkg/discovery"
	"github.com/paircast/paircast-go/pkg/eventlog"
	"github.com/paircast/paircast-go/pkg/pairing"
	"github.com/paircast/paircast-go/pkg/persistence"
	"github.com/paircast/paircast-go/pkg/scanner"
)

// Engine errors.
var (
	ErrNoStore        = errors.New("no device store configured")
	ErrMissingScanner = errors.New("engine requires a scanner")
	ErrMissingPairing = errors.New("engine requires a pairing orchestrator")
)

// Options assembles an Engine from its parts.
type Options struct {
	// Scanner runs scans. Required.
	Scanner *scanner.Scanner

	// Pairing drives pairing sessions. Required.
	Pairing *pairing.Orchestrator

	// Detector supplies the default port list. Optional.
	Detector *detect.Detector

	// Store receives finalized devices. Optional; Finalize fails without it.
	Store persistence.Store

	// Hints are merged into every scan. Optional.
	Hints *discovery.HintCache

	// Browser feeds Hints while Run is active. Optional.
	Browser *discovery.Browser

	// ScanDefaults fill in unset ScanRequest fields.
	ScanDefaults scanner.Config

	// Events is the trace shared with the scanner and orchestrator.
	Events eventlog.Logger

	// EventFile is closed by Close after every component has stopped.
	EventFile *eventlog.FileLogger

	// Logger for engine events. If nil, logging is disabled.
	Logger *slog.Logger
}

// Engine ties the scanner, the pairing orchestrator and the device store
// together.
type Engine struct {
	scanner  *scanner.Scanner
	pairing  *pairing.Orchestrator
	detector *detect.Detector
	store    persistence.Store
	hints    *discovery.HintCache
	browser  *discovery.Browser
	defaults scanner.Config
	logger   *slog.Logger

	events    eventlog.Logger
	eventFile *eventlog.FileLogger

	// released holds results handed out by SubmitCode or Collect until Finalize.
	mu       sync.Mutex
	released map[string]pairing.Result

	closeOnce sync.Once
}

// New creates an engine.
func New(opts Options) (*Engine, error) {
	if opts.Scanner == nil {
		return nil, ErrMissingScanner
	}
	if opts.Pairing == nil {
		return nil, ErrMissingPairing
	}

	defaults := opts.ScanDefaults
	if defaults.Timeout <= 0 {
		defaults.Timeout = scanner.DefaultTimeout
	}
	if defaults.Concurrency <= 0 {
		defaults.Concurrency = scanner.DefaultConcurrency
	}
	if len(defaults.Ports) == 0 && opts.Detector != nil {
		defaults.Ports = opts.Detector.KnownPorts()
	}

	return &Engine{
		scanner:   opts.Scanner,
		pairing:   opts.Pairing,
		detector:  opts.Detector,
		store:     opts.Store,
		hints:     opts.Hints,
		browser:   opts.Browser,
		defaults:  defaults,
		logger:    opts.Logger,
		events:    opts.Events,
		eventFile: opts.EventFile,
		released:  make(map[string]pairing.Result),
	}, nil
}

// Run runs the session sweepers and, if configured, the mDNS browser until
// ctx is done. A browser failure is logged and does not stop the engine.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		e.scanner.Run(ctx)
		return nil
	})
	g.Go(func() error {
		e.pairing.Run(ctx)
		return nil
	})
	if e.browser != nil {
		g.Go(func() error {
			if err := e.browser.Run(ctx); err != nil && e.logger != nil {
				e.logger.Warn("mDNS browser stopped", "error", err)
			}
			return nil
		})
	}

	if e.logger != nil {
		e.logger.Info("engine running", "mdns", e.browser != nil, "store", e.store != nil)
	}
	return g.Wait()
}

// Close stops running scans, pairing sessions and the browser, then closes
// the store.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		if e.browser != nil {
			e.browser.Stop()
		}
		e.pairing.Close()
		e.scanner.Close()
		if e.store != nil {
			err = e.store.Close()
		}
		if e.eventFile != nil {
			err = errors.Join(err, e.eventFile.Close())
		}
	})
	return err
}

// ScanDefaults returns the values used for unset ScanRequest fields.
func (e *Engine) ScanDefaults() scanner.Config {
	d := e.defaults
	d.Ports = append([]uint16(nil), d.Ports...)
	return d
}

// Hints returns the current mDNS hints, or nil without a hint cache.
func (e *Engine) Hints() []discovery.Hint {
	if e.hints == nil {
		return nil
	}
	return e.hints.Hints()
}
