package detect

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/paircast/paircast-go/pkg/device"
)

// Defaults.
const (
	// DefaultHandshakeTimeout bounds a single vendor handshake.
	DefaultHandshakeTimeout = 2 * time.Second
)

// DefaultGenericPaths are requested, in order, by the generic HTTP probe.
var DefaultGenericPaths = []string{"/", "/description.xml", "/dd.xml"}

// Detection errors. Probes wrap these; the detector only logs them.
var (
	ErrProtocolMismatch = errors.New("protocol mismatch")
	ErrNoProbe          = errors.New("no probe for port")
)

// Target is the endpoint under classification.
type Target struct {
	Addr netip.Addr
	Port uint16
}

// HostPort returns "addr:port" suitable for dialing.
func (t Target) HostPort() string {
	return net.JoinHostPort(t.Addr.String(), strconv.Itoa(int(t.Port)))
}

// Port is a vendor control port.
type Port struct {
	Number uint16
	TLS    bool
}

// Probe recognises one vendor's control endpoint.
type Probe interface {
	// Brand returns the brand this probe identifies.
	Brand() device.Brand

	// Ports returns the control ports the vendor listens on.
	Ports() []Port

	// Handshake runs the vendor fingerprint exchange over conn. The
	// connection is already TLS-wrapped when the port requires it.
	Handshake(ctx context.Context, conn net.Conn, target Target) (device.Fingerprint, error)
}

// Dialer opens TCP connections.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Config configures a Detector.
type Config struct {
	// Probes in priority order.
	Probes []Probe

	// GenericPaths for the fallback HTTP probe. Defaults to DefaultGenericPaths.
	GenericPaths []string

	// Dialer for probes that need a fresh connection.
	Dialer Dialer

	// HandshakeTimeout bounds each vendor handshake and generic request.
	HandshakeTimeout time.Duration

	// Logger for debug output. If nil, logging is disabled.
	Logger *slog.Logger
}

type portProbe struct {
	probe Probe
	tls   bool
}

// Detector classifies open endpoints by manufacturer.
type Detector struct {
	byPort       map[uint16][]portProbe
	knownPorts   []uint16
	genericPaths []string
	dialer       Dialer
	timeout      time.Duration
	logger       *slog.Logger
}

// New creates a Detector.
func New(cfg Config) *Detector {
	d := &Detector{
		byPort:       make(map[uint16][]portProbe),
		genericPaths: cfg.GenericPaths,
		dialer:       cfg.Dialer,
		timeout:      cfg.HandshakeTimeout,
		logger:       cfg.Logger,
	}
	if d.genericPaths == nil {
		d.genericPaths = DefaultGenericPaths
	}
	if d.dialer == nil {
		d.dialer = &net.Dialer{}
	}
	if d.timeout <= 0 {
		d.timeout = DefaultHandshakeTimeout
	}

	for _, p := range cfg.Probes {
		for _, port := range p.Ports() {
			if _, seen := d.byPort[port.Number]; !seen {
				d.knownPorts = append(d.knownPorts, port.Number)
			}
			d.byPort[port.Number] = append(d.byPort[port.Number], portProbe{probe: p, tls: port.TLS})
		}
	}
	return d
}

// KnownPorts returns every vendor control port, in probe priority order.
func (d *Detector) KnownPorts() []uint16 {
	out := make([]uint16, len(d.knownPorts))
	copy(out, d.knownPorts)
	return out
}

// IsKnownPort reports whether a vendor probe is registered for port.
func (d *Detector) IsKnownPort(port uint16) bool {
	_, ok := d.byPort[port]
	return ok
}

// Classify identifies the endpoint behind an open connection. The first
// vendor probe for the port reuses conn; the caller keeps ownership of conn
// and must close it. Returns false when nothing HTTP-like answered.
func (d *Detector) Classify(ctx context.Context, conn net.Conn, target Target) (device.DiscoveredDevice, bool) {
	for i, pp := range d.byPort[target.Port] {
		c := conn
		if i > 0 || c == nil {
			fresh, err := d.dial(ctx, target)
			if err != nil {
				d.debug("redial failed", target, err)
				continue
			}
			c = fresh
		}

		fp, err := d.handshake(ctx, c, target, pp)
		if c != conn {
			c.Close()
		}
		if err != nil {
			d.debug("vendor handshake failed", target, fmt.Errorf("%s: %w", pp.probe.Brand(), err))
			continue
		}
		return device.FromFingerprint(target.Addr, target.Port, fp, device.ConfidenceHigh), true
	}

	return d.classifyGeneric(ctx, target)
}

func (d *Detector) handshake(ctx context.Context, conn net.Conn, target Target, pp portProbe) (device.Fingerprint, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if pp.tls {
		tc := tls.Client(conn, insecureTLSConfig())
		if err := tc.HandshakeContext(ctx); err != nil {
			return device.Fingerprint{}, fmt.Errorf("tls handshake: %w", err)
		}
		conn = tc
	}

	fp, err := pp.probe.Handshake(ctx, conn, target)
	if err != nil {
		return device.Fingerprint{}, err
	}
	fp.Brand = pp.probe.Brand()
	return fp, nil
}

// classifyGeneric requests a few common paths on fresh connections.
// Any HTTP response marks the endpoint as a generic display.
func (d *Detector) classifyGeneric(ctx context.Context, target Target) (device.DiscoveredDevice, bool) {
	for _, path := range d.genericPaths {
		resp, err := d.genericRequest(ctx, target, path)
		if err != nil {
			d.debug("generic probe failed", target, err)
			continue
		}
		return device.DiscoveredDevice{
			Address:    target.Addr,
			Port:       target.Port,
			Brand:      device.BrandGeneric,
			Model:      serverModel(resp.Header.Get("Server")),
			Confidence: device.ConfidenceLow,
		}, true
	}
	return device.DiscoveredDevice{}, false
}

func (d *Detector) genericRequest(ctx context.Context, target Target, path string) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	conn, err := d.dial(ctx, target)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+target.HostPort()+path, nil)
	if err != nil {
		return nil, err
	}
	resp, _, err := RoundTrip(ctx, conn, req)
	return resp, err
}

func (d *Detector) dial(ctx context.Context, target Target) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.dialer.DialContext(ctx, "tcp", target.HostPort())
}

func (d *Detector) debug(msg string, target Target, err error) {
	if d.logger != nil {
		d.logger.Debug(msg, "target", target.HostPort(), "error", err)
	}
}

// serverModel extracts a product token from a Server header, e.g.
// "Linux/4.4 UPnP/1.0 Bravia/2.0" yields "Bravia/2.0".
func serverModel(server string) string {
	fields := strings.Fields(server)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

// insecureTLSConfig returns the TLS configuration for vendor control ports.
// Displays present self-signed certificates, so verification is skipped.
func insecureTLSConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true, //nolint:gosec // device certificates are self-signed
		MinVersion:         tls.VersionTLS12,
	}
}

// InsecureTLSConfig is exported for vendor HTTP clients that must talk to
// the same self-signed endpoints.
func InsecureTLSConfig() *tls.Config {
	return insecureTLSConfig()
}
