// Command tvsim serves simulated smart displays on local ports so that
// paircast can be tried without real hardware.
//
// Usage:
//
//	tvsim [flags]
//
// Flags:
//
//	-addr string          Listen address (default "127.0.0.1")
//	-displays string      Displays to serve, as brand or brand=port (default "samsung,lg,vizio,roku")
//	-decision string      Prompt answer for Samsung and LG: accept, reject, ignore (default "accept")
//	-accept-after int     Status polls before an accepted prompt resolves (default 3)
//	-pin string           PIN shown by the Vizio display (default "1234")
//	-psk string           Pre-shared key of the Sony display (default "0000")
//	-mdns                 Announce the displays over mDNS
//
// Sony answers on port 80 by default, which usually needs elevated
// privileges. Use sony=8080 together with paircast -ports to move it.
//
// Examples:
//
//	# Serve every display and scan it from another terminal
//	tvsim -displays samsung,lg,vizio,roku,sony=8080
//	paircast -scan 127.0.0.1 -ports 8001,3000,7345,8060,8080
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/enbility/zeroconf/v3"

	"github.com/paircast/paircast-go/internal/tvsim"
	"github.com/paircast/paircast-go/pkg/discovery"
)

// display describes one simulated endpoint.
type display struct {
	brand   string
	port    int
	tls     bool
	handler http.Handler
	service string
	txt     []string
}

type flags struct {
	addr        string
	displays    string
	decision    string
	acceptAfter int
	pin         string
	psk         string
	mdns        bool
}

func main() {
	var f flags
	flag.StringVar(&f.addr, "addr", "127.0.0.1", "Listen address")
	flag.StringVar(&f.displays, "displays", "samsung,lg,vizio,roku", "Displays to serve, as brand or brand=port")
	flag.StringVar(&f.decision, "decision", "accept", "Prompt answer for Samsung and LG: accept, reject, ignore")
	flag.IntVar(&f.acceptAfter, "accept-after", 3, "Status polls before an accepted prompt resolves")
	flag.StringVar(&f.pin, "pin", "1234", "PIN shown by the Vizio display")
	flag.StringVar(&f.psk, "psk", "0000", "Pre-shared key of the Sony display")
	flag.BoolVar(&f.mdns, "mdns", false, "Announce the displays over mDNS")
	flag.Parse()

	decision, err := parseDecision(f.decision)
	if err != nil {
		log.Fatalf("Invalid -decision: %v", err)
	}
	displays, err := buildDisplays(f, decision)
	if err != nil {
		log.Fatalf("Invalid -displays: %v", err)
	}

	var servers []*httptest.Server
	var announced []*zeroconf.Server
	defer func() {
		for _, s := range announced {
			s.Shutdown()
		}
		for _, s := range servers {
			s.Close()
		}
	}()

	for _, d := range displays {
		addr := net.JoinHostPort(f.addr, strconv.Itoa(d.port))
		srv, err := tvsim.Listen(addr, d.handler, d.tls)
		if err != nil {
			log.Printf("Failed to start %s display: %v", d.brand, err)
			return
		}
		servers = append(servers, srv)
		log.Printf("  %-8s %s", d.brand, srv.URL)

		if f.mdns {
			instance := "tvsim " + d.brand
			s, err := zeroconf.Register(instance, d.service, discovery.Domain, d.port, d.txt, nil)
			if err != nil {
				log.Printf("Failed to announce %s: %v", d.brand, err)
				continue
			}
			announced = append(announced, s)
		}
	}

	log.Println("Simulated displays running. Press Ctrl+C to stop.")
	if hasBrand(displays, "vizio") {
		log.Printf("Vizio PIN: %s", f.pin)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	log.Println("Shutting down...")
}

// defaultPorts are the ports each simulated display answers on, and
// whether the port speaks TLS.
var defaultPorts = map[string]struct {
	port int
	tls  bool
}{
	"samsung": {8001, false},
	"lg":      {3000, false},
	"sony":    {80, false},
	"vizio":   {7345, true},
	"roku":    {8060, false},
}

func buildDisplays(f flags, decision tvsim.Decision) ([]display, error) {
	var out []display
	for _, field := range strings.Split(f.displays, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		brand, portStr, hasPort := strings.Cut(strings.ToLower(field), "=")
		def, ok := defaultPorts[brand]
		if !ok {
			return nil, fmt.Errorf("unknown display %q", brand)
		}
		d := display{brand: brand, port: def.port, tls: def.tls}
		if hasPort {
			p, err := strconv.Atoi(portStr)
			if err != nil || p < 1 || p > 65535 {
				return nil, fmt.Errorf("invalid port %q for %s", portStr, brand)
			}
			d.port = p
		}

		switch brand {
		case "samsung":
			d.handler = &tvsim.Samsung{Model: "QN65Q80C", Name: "Samsung Q80C", Token: "11223344", Decision: decision, AcceptAfter: f.acceptAfter}
			d.service = "_samsungmsf._tcp"
			d.txt = []string{"md=QN65Q80C", "fn=Samsung Q80C"}
		case "lg":
			d.handler = &tvsim.LG{ClientKey: "a1b2c3d4e5f6", Decision: decision, AcceptAfter: f.acceptAfter}
			d.service = "_airplay._tcp"
			d.txt = []string{"model=OLED65C3PUA", "manufacturer=LG"}
		case "sony":
			d.handler = &tvsim.Sony{Model: "XR-65A80K", PSK: f.psk}
			d.service = "_googlecast._tcp"
			d.txt = []string{"md=BRAVIA 4K", "fn=Sony Bravia"}
		case "vizio":
			d.handler = &tvsim.Vizio{Model: "P65Q9-H1", Name: "Living Room", PIN: f.pin, AuthToken: "Zmcx2kq9"}
			d.service = "_viziocast._tcp"
			d.txt = []string{"md=P65Q9-H1", "name=Living Room"}
		case "roku":
			d.handler = &tvsim.Roku{Model: "3941X", Name: "Roku TV", Serial: "X00000ABCDEF"}
			d.service = "_airplay._tcp"
			d.txt = []string{"model=3941X", "manufacturer=Roku"}
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no displays")
	}
	return out, nil
}

func parseDecision(s string) (tvsim.Decision, error) {
	switch strings.ToLower(s) {
	case "accept":
		return tvsim.Accept, nil
	case "reject":
		return tvsim.Reject, nil
	case "ignore":
		return tvsim.Ignore, nil
	default:
		return 0, fmt.Errorf("unknown decision %q", s)
	}
}

func hasBrand(displays []display, brand string) bool {
	for _, d := range displays {
		if d.brand == brand {
			return true
		}
	}
	return false
}
