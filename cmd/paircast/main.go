// Command paircast scans the local network for smart TVs and pairs with
// them.
//
// Usage:
//
//	paircast [flags]
//
// Without -scan it starts an interactive console. With -scan it runs one
// scan, prints the discovered displays as JSON and exits.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/paircast/paircast-go/cmd/paircast/interactive"
	"github.com/paircast/paircast-go/pkg/config"
	"github.com/paircast/paircast-go/pkg/engine"
	"github.com/paircast/paircast-go/pkg/eventlog"
)

// Flags holds the command-line settings that override the config file.
type Flags struct {
	ConfigFile  string
	LogLevel    string
	Scan        string
	Ports       string
	TimeoutMs   int
	Concurrency int
	NoMDNS      bool
	Interface   string
	EventFile   string
}

var flags Flags

func init() {
	flag.StringVar(&flags.ConfigFile, "config", "", "Configuration file path (default: search path)")
	flag.StringVar(&flags.LogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	flag.StringVar(&flags.Scan, "scan", "", "Run a single scan of this range and print the result")
	flag.StringVar(&flags.Ports, "ports", "", "Comma-separated ports for -scan (default: all vendor ports)")
	flag.IntVar(&flags.TimeoutMs, "timeout-ms", 0, "Per-probe connect timeout in milliseconds")
	flag.IntVar(&flags.Concurrency, "concurrency", 0, "Hosts probed per batch")
	flag.BoolVar(&flags.NoMDNS, "no-mdns", false, "Disable mDNS hints")
	flag.StringVar(&flags.Interface, "interface", "", "Network interface for mDNS")
	flag.StringVar(&flags.EventFile, "events", "", "Append the scan and pairing trace to this file (see paircast-events)")
}

func main() {
	flag.Parse()
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	cfg, err := config.Load(flags.ConfigFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if flags.LogLevel != "" {
		cfg.Log.Level = flags.LogLevel
	}
	if flags.NoMDNS {
		cfg.MDNS.Enabled = false
	}
	if flags.Interface != "" {
		cfg.MDNS.Interface = flags.Interface
	}
	if flags.EventFile != "" {
		cfg.Log.EventFile = flags.EventFile
	}

	interactiveMode := flags.Scan == ""
	var console *interactive.Console
	logOut := io.Writer(os.Stderr)
	if interactiveMode {
		console, err = interactive.New()
		if err != nil {
			log.Fatalf("Failed to create console: %v", err)
		}
		// Route all logging through readline so the prompt stays intact.
		log.SetOutput(console.Stdout())
		logOut = console.Stderr()
	}

	logger, err := cfg.Log.NewLogger(logOut)
	if err != nil {
		log.Fatalf("Invalid log settings: %v", err)
	}
	slog.SetDefault(logger)

	deps := engine.Deps{Logger: logger}
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		deps.Events = eventlog.NewSlogAdapter(logger.With("component", "trace"))
	}
	eng, err := engine.Build(cfg, deps)
	if err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}

	if interactiveMode {
		log.Println("paircast")
		log.Println("========")
		if cfg.Source != "" {
			log.Printf("Config: %s", cfg.Source)
		}
		log.Printf("Store: %s (%s)", cfg.Store.Path, cfg.Store.Kind)
		log.Printf("mDNS hints: %v", cfg.MDNS.Enabled)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- eng.Run(ctx) }()

	scanErr := make(chan error, 1)
	if interactiveMode {
		go console.Run(ctx, cancel, eng)
	} else {
		go func() {
			defer cancel()
			scanErr <- runScan(ctx, eng)
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal: %v", sig)
	case <-ctx.Done():
	}

	cancel()
	if err := <-runErr; err != nil {
		log.Printf("Engine stopped: %v", err)
	}
	if err := eng.Close(); err != nil {
		log.Printf("Error closing engine: %v", err)
	}

	if interactiveMode {
		log.Println("Goodbye!")
		return
	}
	select {
	case err := <-scanErr:
		if err != nil {
			log.Fatalf("Scan failed: %v", err)
		}
	default:
		os.Exit(130)
	}
}

func runScan(ctx context.Context, eng *engine.Engine) error {
	ports, err := interactive.ParsePorts(flags.Ports)
	if err != nil {
		return err
	}
	id, err := eng.StartScan(ctx, engine.ScanRequest{
		Range:       flags.Scan,
		Ports:       ports,
		TimeoutMs:   flags.TimeoutMs,
		Concurrency: flags.Concurrency,
	})
	if err != nil {
		return err
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = eng.CancelScan(id)
			return ctx.Err()
		case <-ticker.C:
		}

		sess, err := eng.GetScanStatus(id)
		if err != nil {
			return err
		}
		if !sess.Done() {
			continue
		}
		if sess.Error != "" {
			return fmt.Errorf("scan %s: %s", sess.Status, sess.Error)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sess.Discovered)
	}
}
