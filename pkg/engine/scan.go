package engine

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/paircast/paircast-go/pkg/addrspace"
	"github.com/paircast/paircast-go/pkg/scanner"
)

// ScanRequest describes a scan. Zero fields take the engine defaults.
type ScanRequest struct {
	// Range is an address expression accepted by addrspace.Parse.
	Range       string   `json:"range"`
	Ports       []uint16 `json:"ports,omitempty"`
	TimeoutMs   int      `json:"timeoutMs,omitempty"`
	Concurrency int      `json:"concurrency,omitempty"`

	// SkipHints scans only Range, ignoring mDNS hints.
	SkipHints bool `json:"skipHints,omitempty"`
}

// StartScan validates req and starts a scan without waiting for it.
func (e *Engine) StartScan(ctx context.Context, req ScanRequest) (string, error) {
	space, err := addrspace.Parse(req.Range)
	if err != nil {
		return "", err
	}

	cfg := e.ScanDefaults()
	if len(req.Ports) > 0 {
		cfg.Ports = slices.Clone(req.Ports)
	}
	if req.TimeoutMs != 0 {
		cfg.Timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	if req.Concurrency != 0 {
		cfg.Concurrency = req.Concurrency
	}
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	if !req.SkipHints {
		space, cfg, err = e.withHints(space, cfg)
		if err != nil {
			return "", err
		}
	}

	id, err := e.scanner.Start(ctx, space, cfg)
	if err != nil {
		return "", err
	}
	if e.logger != nil {
		e.logger.Info("scan started", "scan", id, "range", req.Range, "hosts", space.Len(), "ports", cfg.Ports)
	}
	return id, nil
}

// withHints adds hinted hosts to space and hinted vendor ports to cfg.
// Ports are only added while the port limit allows.
func (e *Engine) withHints(space *addrspace.Space, cfg scanner.Config) (*addrspace.Space, scanner.Config, error) {
	if e.hints == nil {
		return space, cfg, nil
	}
	hints := e.hints.Hints()
	if len(hints) == 0 {
		return space, cfg, nil
	}

	hinted, err := addrspace.FromAddrs(e.hints.Addrs())
	if err != nil {
		return nil, cfg, fmt.Errorf("mDNS hints: %w", err)
	}
	merged, err := addrspace.Merge(space, hinted)
	if err != nil {
		return nil, cfg, fmt.Errorf("mDNS hints: %w", err)
	}

	for _, h := range hints {
		if len(cfg.Ports) >= scanner.MaxPorts {
			break
		}
		if e.detector != nil && !e.detector.IsKnownPort(h.Port) {
			continue
		}
		if h.Port != 0 && !slices.Contains(cfg.Ports, h.Port) {
			cfg.Ports = append(cfg.Ports, h.Port)
		}
	}
	return merged, cfg, nil
}

// GetScanStatus returns a snapshot of a scan.
func (e *Engine) GetScanStatus(id string) (scanner.Session, error) {
	return e.scanner.Status(id)
}

// ListScans returns snapshots of all retained scans, newest first.
func (e *Engine) ListScans() []scanner.Session {
	return e.scanner.List()
}

// CancelScan stops a running scan.
func (e *Engine) CancelScan(id string) error {
	return e.scanner.Cancel(id)
}
