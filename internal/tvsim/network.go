// Package tvsim simulates the control endpoints of networked displays.
//
// A Network stands in for the LAN: virtual "addr:port" endpoints are routed
// to real loopback listeners, every other endpoint refuses connections, and
// black-holed endpoints never answer. The vendor handlers implement just
// enough of each manufacturer's fingerprint and pairing exchange to drive
// the scanner and pairing orchestrator end to end.
package tvsim

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"syscall"
)

// Network routes virtual endpoints to loopback listeners.
type Network struct {
	mu         sync.RWMutex
	routes     map[string]string
	blackholes map[string]bool
	servers    []*httptest.Server
	dialer     net.Dialer
}

// NewNetwork creates an empty network where every endpoint refuses.
func NewNetwork() *Network {
	return &Network{
		routes:     make(map[string]string),
		blackholes: make(map[string]bool),
	}
}

// Route sends connections for virtual to the real listener address.
func (n *Network) Route(virtual, real string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.routes[virtual] = real
	delete(n.blackholes, virtual)
}

// Blackhole makes dials to virtual hang until the context ends.
func (n *Network) Blackhole(virtual string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.blackholes[virtual] = true
	delete(n.routes, virtual)
}

// Serve starts a plain HTTP listener for h and routes virtual to it.
func (n *Network) Serve(virtual string, h http.Handler) *httptest.Server {
	srv := httptest.NewServer(h)
	n.track(virtual, srv)
	return srv
}

// ServeTLS starts a TLS listener with a self-signed certificate for h and
// routes virtual to it.
func (n *Network) ServeTLS(virtual string, h http.Handler) *httptest.Server {
	srv := httptest.NewTLSServer(h)
	n.track(virtual, srv)
	return srv
}

func (n *Network) track(virtual string, srv *httptest.Server) {
	n.mu.Lock()
	n.servers = append(n.servers, srv)
	n.mu.Unlock()
	n.Route(virtual, srv.Listener.Addr().String())
}

// Close shuts down every listener started through Serve or ServeTLS.
func (n *Network) Close() {
	n.mu.Lock()
	servers := n.servers
	n.servers = nil
	n.mu.Unlock()

	for _, srv := range servers {
		srv.Close()
	}
}

// DialContext implements the dialer interfaces of the scanner, detector
// and vendor clients.
func (n *Network) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	n.mu.RLock()
	real, routed := n.routes[address]
	hole := n.blackholes[address]
	n.mu.RUnlock()

	switch {
	case routed:
		return n.dialer.DialContext(ctx, network, real)
	case hole:
		<-ctx.Done()
		return nil, &net.OpError{Op: "dial", Net: network, Err: timeoutError{ctx.Err()}}
	default:
		return nil, &net.OpError{
			Op:  "dial",
			Net: network,
			Err: os.NewSyscallError("connect", syscall.ECONNREFUSED),
		}
	}
}

type timeoutError struct{ err error }

func (e timeoutError) Error() string   { return fmt.Sprintf("i/o timeout: %v", e.err) }
func (e timeoutError) Timeout() bool   { return true }
func (e timeoutError) Temporary() bool { return true }
func (e timeoutError) Unwrap() error   { return e.err }

// Listen serves h on a fixed local address instead of a random loopback
// port, for running displays outside of tests. The caller closes the
// returned server.
func Listen(addr string, h http.Handler, useTLS bool) (*httptest.Server, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := httptest.NewUnstartedServer(h)
	_ = srv.Listener.Close()
	srv.Listener = l
	if useTLS {
		srv.StartTLS()
	} else {
		srv.Start()
	}
	return srv, nil
}
