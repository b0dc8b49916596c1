package scanner

import (
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"time"

	"github.com/paircast/paircast-go/pkg/device"
)

// Limits accepted by Config.Validate.
const (
	MaxConcurrency = 256
	MaxPorts       = 32
	MinTimeout     = 10 * time.Millisecond
	MaxTimeout     = 30 * time.Second
)

// DefaultTimeout is the per-probe connect timeout used when a caller does
// not supply one.
const DefaultTimeout = 750 * time.Millisecond

// DefaultConcurrency is the batch size used when a caller does not supply one.
const DefaultConcurrency = 32

// ErrInvalidConfig is returned by Start before any I/O happens.
var ErrInvalidConfig = errors.New("invalid scan configuration")

// Config describes one scan.
type Config struct {
	// Ports probed on every host, in preference order.
	Ports []uint16 `json:"ports"`

	// Timeout bounds each TCP connect.
	Timeout time.Duration `json:"timeout"`

	// Concurrency is the number of hosts probed per batch.
	Concurrency int `json:"concurrency"`
}

// Validate checks the config.
func (c Config) Validate() error {
	switch {
	case len(c.Ports) == 0:
		return fmt.Errorf("%w: no ports", ErrInvalidConfig)
	case len(c.Ports) > MaxPorts:
		return fmt.Errorf("%w: %d ports exceeds %d", ErrInvalidConfig, len(c.Ports), MaxPorts)
	case c.Timeout < MinTimeout || c.Timeout > MaxTimeout:
		return fmt.Errorf("%w: timeout %s outside [%s, %s]", ErrInvalidConfig, c.Timeout, MinTimeout, MaxTimeout)
	case c.Concurrency < 1 || c.Concurrency > MaxConcurrency:
		return fmt.Errorf("%w: concurrency %d outside [1, %d]", ErrInvalidConfig, c.Concurrency, MaxConcurrency)
	}
	seen := make(map[uint16]bool, len(c.Ports))
	for _, p := range c.Ports {
		if p == 0 {
			return fmt.Errorf("%w: port 0", ErrInvalidConfig)
		}
		if seen[p] {
			return fmt.Errorf("%w: duplicate port %d", ErrInvalidConfig, p)
		}
		seen[p] = true
	}
	return nil
}

// Status is the state of a scan.
type Status uint8

const (
	StatusScanning Status = iota
	StatusComplete
	StatusFailed
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusScanning:
		return "scanning"
	case StatusComplete:
		return "complete"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Session is a snapshot of a scan's progress.
type Session struct {
	ID                 string                    `json:"id"`
	Config             Config                    `json:"config"`
	Status             Status                    `json:"status"`
	Current            int                       `json:"current"`
	Total              int                       `json:"total"`
	CurrentAddress     netip.Addr                `json:"currentAddress,omitzero"`
	Discovered         []device.DiscoveredDevice `json:"discovered"`
	StartedAt          time.Time                 `json:"startedAt"`
	CompletedAt        time.Time                 `json:"completedAt,omitzero"`
	Elapsed            time.Duration             `json:"elapsed"`
	EstimatedRemaining time.Duration             `json:"estimatedRemaining"`
	Error              string                    `json:"error,omitempty"`
}

// Clone returns a deep copy.
func (s Session) Clone() Session {
	s.Config.Ports = slices.Clone(s.Config.Ports)
	if s.Discovered != nil {
		devs := make([]device.DiscoveredDevice, len(s.Discovered))
		for i, d := range s.Discovered {
			devs[i] = d.Clone()
		}
		s.Discovered = devs
	}
	return s
}

// Done reports whether the scan has stopped.
func (s Session) Done() bool {
	return s.Status != StatusScanning
}

// Progress returns the fraction of hosts processed, in [0, 1].
func (s Session) Progress() float64 {
	if s.Total == 0 {
		return 1
	}
	return float64(s.Current) / float64(s.Total)
}
