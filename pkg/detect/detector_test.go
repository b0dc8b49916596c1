package detect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/paircast/paircast-go/internal/tvsim"
	"github.com/paircast/paircast-go/pkg/device"
)

// MockProbe is a testify mock implementing Probe.
type MockProbe struct {
	mock.Mock
}

func (m *MockProbe) Brand() device.Brand {
	return m.Called().Get(0).(device.Brand)
}

func (m *MockProbe) Ports() []Port {
	return m.Called().Get(0).([]Port)
}

func (m *MockProbe) Handshake(ctx context.Context, conn net.Conn, target Target) (device.Fingerprint, error) {
	args := m.Called(ctx, conn, target)
	return args.Get(0).(device.Fingerprint), args.Error(1)
}

func newMockProbe(brand device.Brand, ports ...Port) *MockProbe {
	p := &MockProbe{}
	p.On("Brand").Return(brand).Maybe()
	p.On("Ports").Return(ports)
	return p
}

// funcProbe is a Probe backed by a function.
type funcProbe struct {
	brand device.Brand
	ports []Port
	fn    func(context.Context, net.Conn, Target) (device.Fingerprint, error)
}

func (p funcProbe) Brand() device.Brand { return p.brand }
func (p funcProbe) Ports() []Port       { return p.ports }
func (p funcProbe) Handshake(ctx context.Context, conn net.Conn, target Target) (device.Fingerprint, error) {
	return p.fn(ctx, conn, target)
}

// countingDialer wraps a tvsim network and counts dials.
type countingDialer struct {
	*tvsim.Network
	dials atomic.Int32
}

func (d *countingDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.dials.Add(1)
	return d.Network.DialContext(ctx, network, address)
}

func setup(t *testing.T) (*countingDialer, Target) {
	t.Helper()
	n := tvsim.NewNetwork()
	t.Cleanup(n.Close)
	return &countingDialer{Network: n}, Target{Addr: netip.MustParseAddr("10.0.0.3"), Port: 8001}
}

func TestKnownPortsOrder(t *testing.T) {
	a := newMockProbe(device.BrandSamsung, Port{Number: 8001}, Port{Number: 8002, TLS: true})
	b := newMockProbe(device.BrandRoku, Port{Number: 8060}, Port{Number: 8001})

	d := New(Config{Probes: []Probe{a, b}})
	assert.Equal(t, []uint16{8001, 8002, 8060}, d.KnownPorts())
	assert.True(t, d.IsKnownPort(8060))
	assert.False(t, d.IsKnownPort(80))
}

func TestClassifyFirstProbeReusesConnection(t *testing.T) {
	dialer, tgt := setup(t)
	dialer.Serve(tgt.HostPort(), http.NotFoundHandler())

	conn, err := dialer.DialContext(context.Background(), "tcp", tgt.HostPort())
	require.NoError(t, err)
	defer conn.Close()

	p := newMockProbe(device.BrandSamsung, Port{Number: 8001})
	p.On("Handshake", mock.Anything, conn, tgt).
		Return(device.Fingerprint{Model: "QN65", PairingRequired: true}, nil).Once()

	d := New(Config{Probes: []Probe{p}, Dialer: dialer})
	dev, ok := d.Classify(context.Background(), conn, tgt)

	require.True(t, ok)
	assert.Equal(t, device.BrandSamsung, dev.Brand)
	assert.Equal(t, device.ConfidenceHigh, dev.Confidence)
	assert.Equal(t, "QN65", dev.Model)
	assert.True(t, dev.PairingRequired)
	assert.Equal(t, int32(1), dialer.dials.Load(), "no redial expected")
	p.AssertExpectations(t)
}

func TestClassifySecondProbeRedials(t *testing.T) {
	dialer, tgt := setup(t)
	dialer.Serve(tgt.HostPort(), http.NotFoundHandler())

	conn, err := dialer.DialContext(context.Background(), "tcp", tgt.HostPort())
	require.NoError(t, err)
	defer conn.Close()

	first := newMockProbe(device.BrandSamsung, Port{Number: 8001})
	first.On("Handshake", mock.Anything, conn, tgt).
		Return(device.Fingerprint{}, fmt.Errorf("%w: nope", ErrProtocolMismatch))

	second := newMockProbe(device.BrandRoku, Port{Number: 8001})
	second.On("Handshake", mock.Anything, mock.MatchedBy(func(c net.Conn) bool { return c != conn }), tgt).
		Return(device.Fingerprint{Model: "3941X"}, nil)

	d := New(Config{Probes: []Probe{first, second}, Dialer: dialer})
	dev, ok := d.Classify(context.Background(), conn, tgt)

	require.True(t, ok)
	assert.Equal(t, device.BrandRoku, dev.Brand)
	assert.Equal(t, int32(2), dialer.dials.Load())
	first.AssertExpectations(t)
	second.AssertExpectations(t)
}

func TestClassifyTLSPortWrapsConnection(t *testing.T) {
	dialer, tgt := setup(t)
	tgt.Port = 8002
	dialer.ServeTLS(tgt.HostPort(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))

	conn, err := dialer.DialContext(context.Background(), "tcp", tgt.HostPort())
	require.NoError(t, err)
	defer conn.Close()

	p := funcProbe{
		brand: device.BrandSamsung,
		ports: []Port{{Number: 8002, TLS: true}},
		fn: func(ctx context.Context, c net.Conn, target Target) (device.Fingerprint, error) {
			var body struct{ OK bool }
			if err := GetJSON(ctx, c, "http://"+target.HostPort()+"/", &body); err != nil {
				return device.Fingerprint{}, err
			}
			if !body.OK {
				return device.Fingerprint{}, ErrProtocolMismatch
			}
			return device.Fingerprint{Model: "tls"}, nil
		},
	}

	d := New(Config{Probes: []Probe{p}, Dialer: dialer})
	dev, ok := d.Classify(context.Background(), conn, tgt)

	require.True(t, ok)
	assert.Equal(t, "tls", dev.Model)
}

func TestClassifyGenericFallback(t *testing.T) {
	dialer, tgt := setup(t)
	tgt.Port = 80
	dialer.Serve(tgt.HostPort(), &tvsim.Generic{Server: "Linux UPnP/1.0 Sony-BDP/2.0"})

	d := New(Config{Dialer: dialer})
	dev, ok := d.Classify(context.Background(), nil, tgt)

	require.True(t, ok)
	assert.Equal(t, device.BrandGeneric, dev.Brand)
	assert.Equal(t, device.ConfidenceLow, dev.Confidence)
	assert.Equal(t, "Sony-BDP/2.0", dev.Model)
	assert.False(t, dev.PairingRequired)
}

func TestClassifyNothingAnswers(t *testing.T) {
	dialer, tgt := setup(t)
	p := newMockProbe(device.BrandSamsung, Port{Number: 8001})

	d := New(Config{Probes: []Probe{p}, Dialer: dialer})
	_, ok := d.Classify(context.Background(), nil, tgt)
	assert.False(t, ok)
	p.AssertNotCalled(t, "Handshake", mock.Anything, mock.Anything, mock.Anything)
}

func TestClassifySilentEndpointRespectsTimeout(t *testing.T) {
	dialer, tgt := setup(t)
	tgt.Port = 9999

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	accepted := make(chan net.Conn, 8)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				close(accepted)
				return
			}
			accepted <- c // never answered
		}
	}()
	defer func() {
		ln.Close()
		for c := range accepted {
			c.Close()
		}
	}()
	dialer.Route(tgt.HostPort(), ln.Addr().String())

	d := New(Config{Dialer: dialer, HandshakeTimeout: 50 * time.Millisecond, GenericPaths: []string{"/"}})
	start := time.Now()
	_, ok := d.Classify(context.Background(), nil, tgt)

	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRoundTripHonoursCancellation(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		buf := make([]byte, 1024)
		for {
			if _, err := server.Read(buf); err != nil {
				return
			}
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://10.0.0.3:8001/", nil)
	require.NoError(t, err)

	time.AfterFunc(20*time.Millisecond, cancel)
	_, _, err = RoundTrip(ctx, client, req)
	require.Error(t, err)
	var ne net.Error
	assert.True(t, errors.As(err, &ne) && ne.Timeout())
}

func TestServerModel(t *testing.T) {
	tests := map[string]string{
		"":                              "",
		"nginx":                         "nginx",
		"Linux/4.4 UPnP/1.0 Bravia/2.0": "Bravia/2.0",
	}
	for in, want := range tests {
		if got := serverModel(in); got != want {
			t.Errorf("serverModel(%q) = %q, want %q", in, got, want)
		}
	}
}
