// Package interactive provides the interactive command-line interface
// for paircast.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/paircast/paircast-go/pkg/device"
	"github.com/paircast/paircast-go/pkg/discovery"
	"github.com/paircast/paircast-go/pkg/engine"
	"github.com/paircast/paircast-go/pkg/pairing"
	"github.com/paircast/paircast-go/pkg/persistence"
	"github.com/paircast/paircast-go/pkg/scanner"
)

// Engine is the part of *engine.Engine the console drives.
type Engine interface {
	StartScan(ctx context.Context, req engine.ScanRequest) (string, error)
	GetScanStatus(id string) (scanner.Session, error)
	ListScans() []scanner.Session
	CancelScan(id string) error
	InitiatePairing(ctx context.Context, addr netip.Addr, port uint16, brand device.Brand) (engine.Ticket, error)
	SubmitCode(ctx context.Context, id, code string) (engine.PairingResult, error)
	GetPairingStatus(id string) (pairing.Session, error)
	ListPairings() []pairing.Session
	CancelPairing(id string) error
	Finalize(ctx context.Context, id, displayName string) (persistence.Record, error)
	Devices() ([]persistence.Record, error)
	ForgetDevice(key netip.AddrPort) error
	Hints() []discovery.Hint
}

// Console handles interactive mode for paircast.
type Console struct {
	eng Engine
	rl  *readline.Instance
	out io.Writer
}

// New creates the console. The engine is supplied to Run so that log
// output can be routed through the console before the engine exists.
func New() (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "paircast> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{rl: rl, out: rl.Stdout()}, nil
}

// Stdout returns a writer that properly coordinates with the readline input.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Stderr returns a writer that properly coordinates with the readline input.
func (c *Console) Stderr() io.Writer {
	return c.rl.Stderr()
}

// Run starts the interactive command loop.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc, eng Engine) {
	defer c.rl.Close()
	c.eng = eng

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}

		if quit := c.Execute(ctx, line); quit {
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}
	}
}

// Execute runs a single command line and reports whether it asked to quit.
func (c *Console) Execute(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		c.printHelp()

	case "scan", "s":
		c.cmdScan(ctx, args)

	case "scans":
		c.cmdScans()

	case "status", "st":
		c.cmdStatus(args)

	case "cancel":
		c.cmdCancel(args)

	case "hints":
		c.cmdHints()

	case "pair", "p":
		c.cmdPair(ctx, args)

	case "code", "pin":
		c.cmdCode(ctx, args)

	case "pairings":
		c.cmdPairings()

	case "abort":
		c.cmdAbort(args)

	case "save", "finalize":
		c.cmdSave(ctx, args)

	case "devices", "ls":
		c.cmdDevices()

	case "forget":
		c.cmdForget(args)

	case "quit", "exit", "q":
		return true

	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
paircast Commands:
  Discovery:
    scan <range> [ports]           - Scan a range, e.g. 192.168.1.0/24 8001,8060
    scans                          - List scans
    status <id>                    - Show a scan or pairing session
    cancel <scan-id>               - Cancel a running scan
    hints                          - Show displays announced over mDNS

  Pairing:
    pair <addr:port> <brand>       - Send a pairing request
    code <pairing-id> <code>       - Submit the display code or pre-shared key
    pairings                       - List pairing sessions
    abort <pairing-id>             - Cancel a pairing session
    save <pairing-id> [name...]    - Store an accepted device

  Devices:
    devices                        - List paired devices
    forget <addr:port>             - Remove a paired device

  General:
    help                           - Show this help
    quit                           - Exit`)
}

func (c *Console) cmdScan(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.out, "Usage: scan <range> [ports]")
		return
	}
	req := engine.ScanRequest{Range: args[0]}
	if len(args) > 1 {
		ports, err := ParsePorts(args[1])
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
			return
		}
		req.Ports = ports
	}

	id, err := c.eng.StartScan(ctx, req)
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Scan started: %s\n", id)
}

func (c *Console) cmdScans() {
	scans := c.eng.ListScans()
	if len(scans) == 0 {
		fmt.Fprintln(c.out, "No scans")
		return
	}
	for _, s := range scans {
		fmt.Fprintf(c.out, "  %s  %-8s %d/%d hosts, %d device(s)\n",
			s.ID, s.Status, s.Current, s.Total, len(s.Discovered))
	}
}

func (c *Console) cmdStatus(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.out, "Usage: status <id>")
		return
	}
	id := args[0]

	if s, err := c.eng.GetScanStatus(id); err == nil {
		c.printScan(s)
		return
	}
	if p, err := c.eng.GetPairingStatus(id); err == nil {
		c.printPairing(p)
		return
	}
	fmt.Fprintf(c.out, "No scan or pairing session %s\n", id)
}

func (c *Console) printScan(s scanner.Session) {
	fmt.Fprintf(c.out, "Scan %s: %s\n", s.ID, s.Status)
	fmt.Fprintf(c.out, "  Progress: %d/%d (%.0f%%)\n", s.Current, s.Total, s.Progress()*100)
	if s.CurrentAddress.IsValid() {
		fmt.Fprintf(c.out, "  Last host: %s\n", s.CurrentAddress)
	}
	fmt.Fprintf(c.out, "  Elapsed: %s", s.Elapsed.Round(time.Millisecond))
	if !s.Done() {
		fmt.Fprintf(c.out, ", remaining ~%s", s.EstimatedRemaining.Round(time.Second))
	}
	fmt.Fprintln(c.out)
	if s.Error != "" {
		fmt.Fprintf(c.out, "  Error: %s\n", s.Error)
	}
	for _, d := range s.Discovered {
		note := ""
		if d.PairingRequired {
			note = ", pairing required"
		}
		fmt.Fprintf(c.out, "  - %-21s %-8s %s [%s%s]\n",
			d.Endpoint(), d.Brand, d.Model, d.Confidence, note)
	}
}

func (c *Console) printPairing(p pairing.Session) {
	fmt.Fprintf(c.out, "Pairing %s: %s\n", p.ID, p.Status)
	fmt.Fprintf(c.out, "  Device: %s (%s, %s)\n", netip.AddrPortFrom(p.Address, p.Port), p.Brand, p.Family)
	if !p.Status.IsTerminal() {
		fmt.Fprintf(c.out, "  Expires in: %s\n", p.Remaining(time.Now()).Round(time.Second))
	}
	if p.RequiresPIN && p.Status == pairing.StatusPinRequired {
		fmt.Fprintf(c.out, "  Enter the code shown on the display: code %s <code>\n", p.ID)
	}
	if p.Error != "" {
		fmt.Fprintf(c.out, "  Error: %s\n", p.Error)
	}
}

func (c *Console) cmdCancel(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.out, "Usage: cancel <scan-id>")
		return
	}
	if err := c.eng.CancelScan(args[0]); err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(c.out, "Scan cancelled")
}

func (c *Console) cmdHints() {
	hints := c.eng.Hints()
	if len(hints) == 0 {
		fmt.Fprintln(c.out, "No mDNS hints")
		return
	}
	for _, h := range hints {
		fmt.Fprintf(c.out, "  %-21s %-18s %s\n", netip.AddrPortFrom(h.Addr, h.Port), h.Service, h.Instance)
	}
}

func (c *Console) cmdPair(ctx context.Context, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(c.out, "Usage: pair <addr:port> <brand>")
		return
	}
	ep, err := netip.ParseAddrPort(args[0])
	if err != nil {
		fmt.Fprintf(c.out, "Invalid endpoint: %v\n", err)
		return
	}
	brand, err := device.ParseBrand(args[1])
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}

	ticket, err := c.eng.InitiatePairing(ctx, ep.Addr(), ep.Port(), brand)
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Pairing %s started (timeout %ds)\n", ticket.ID, ticket.TimeoutSeconds)
	if ticket.RequiresPIN {
		fmt.Fprintf(c.out, "Enter the code shown on the display: code %s <code>\n", ticket.ID)
	} else {
		fmt.Fprintln(c.out, "Accept the request on the display, then check: status "+ticket.ID)
	}
}

func (c *Console) cmdCode(ctx context.Context, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(c.out, "Usage: code <pairing-id> <code>")
		return
	}
	res, err := c.eng.SubmitCode(ctx, args[0], strings.Join(args[1:], " "))
	if err != nil && !errors.Is(err, pairing.ErrPairingRejected) {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	c.printPairing(res.Session)
	if res.Result != nil {
		fmt.Fprintf(c.out, "Store it with: save %s [name]\n", res.Session.ID)
	}
}

func (c *Console) cmdPairings() {
	sessions := c.eng.ListPairings()
	if len(sessions) == 0 {
		fmt.Fprintln(c.out, "No pairing sessions")
		return
	}
	for _, p := range sessions {
		fmt.Fprintf(c.out, "  %s  %-12s %-21s %s\n",
			p.ID, p.Status, netip.AddrPortFrom(p.Address, p.Port), p.Brand)
	}
}

func (c *Console) cmdAbort(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.out, "Usage: abort <pairing-id>")
		return
	}
	if err := c.eng.CancelPairing(args[0]); err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(c.out, "Pairing cancelled")
}

func (c *Console) cmdSave(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.out, "Usage: save <pairing-id> [name...]")
		return
	}
	rec, err := c.eng.Finalize(ctx, args[0], strings.Join(args[1:], " "))
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Saved %s as %q\n", rec.Key(), rec.DisplayName)
}

func (c *Console) cmdDevices() {
	recs, err := c.eng.Devices()
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	if len(recs) == 0 {
		fmt.Fprintln(c.out, "No paired devices")
		return
	}

	fmt.Fprintf(c.out, "\nPaired Devices (%d):\n", len(recs))
	fmt.Fprintln(c.out, "-------------------------------------------")
	for _, r := range recs {
		fmt.Fprintf(c.out, "  %s\n", r.DisplayName)
		fmt.Fprintf(c.out, "      Endpoint: %s\n", r.Key())
		fmt.Fprintf(c.out, "      Brand: %s\n", r.Brand.Title())
		if len(r.Capabilities) > 0 {
			fmt.Fprintf(c.out, "      Capabilities: %s\n", strings.Join(r.Capabilities.Strings(), ", "))
		}
		fmt.Fprintf(c.out, "      Paired: %s\n", r.PairedAt.Local().Format(time.DateTime))
	}
}

func (c *Console) cmdForget(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.out, "Usage: forget <addr:port>")
		return
	}
	ep, err := netip.ParseAddrPort(args[0])
	if err != nil {
		fmt.Fprintf(c.out, "Invalid endpoint: %v\n", err)
		return
	}
	if err := c.eng.ForgetDevice(ep); err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(c.out, "Device removed")
}

// ParsePorts parses a comma-separated port list. An empty string yields nil.
func ParsePorts(s string) ([]uint16, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var ports []uint16
	for _, f := range strings.Split(s, ",") {
		n, err := strconv.ParseUint(strings.TrimSpace(f), 10, 16)
		if err != nil || n == 0 {
			return nil, fmt.Errorf("invalid port %q", f)
		}
		ports = append(ports, uint16(n))
	}
	return ports, nil
}
