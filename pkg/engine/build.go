package engine

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/paircast/paircast-go/pkg/config"
	"github.com/paircast/paircast-go/pkg/detect"
	"github.com/paircast/paircast-go/pkg/discovery"
	"github.com/paircast/paircast-go/pkg/eventlog"
	"github.com/paircast/paircast-go/pkg/pairing"
	"github.com/paircast/paircast-go/pkg/persistence"
	"github.com/paircast/paircast-go/pkg/persistence/sqlite"
	"github.com/paircast/paircast-go/pkg/scanner"
	"github.com/paircast/paircast-go/pkg/vault"
	"github.com/paircast/paircast-go/pkg/vendor"
)

// Deps are the process-level inputs Build does not read from config.
type Deps struct {
	// Dialer for probes and vendor requests. Defaults to a net.Dialer.
	Dialer detect.Dialer

	// Vault overrides the configured vault.
	Vault *vault.Vault

	// Store overrides the configured store.
	Store persistence.Store

	// Logger for all components. If nil, logging is disabled.
	Logger *slog.Logger

	// Events receives the trace in addition to the configured event file.
	Events eventlog.Logger
}

// Build assembles an engine from configuration.
func Build(cfg config.Config, deps Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	v := deps.Vault
	if v == nil {
		var err error
		if v, err = cfg.Vault.OpenVault(); err != nil {
			return nil, fmt.Errorf("vault: %w", err)
		}
	}

	events, file, err := openEvents(cfg.Log.EventFile, deps.Events)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*Engine, error) {
		if file != nil {
			_ = file.Close()
		}
		return nil, err
	}

	detector := detect.New(detect.Config{
		Probes: vendor.Probes(),
		Dialer: deps.Dialer,
		Logger: component(deps.Logger, "detect"),
	})

	scanOpts := scanner.DefaultOptions()
	scanOpts.Classifier = detector
	scanOpts.Dialer = deps.Dialer
	scanOpts.MaxActiveScans = cfg.Scan.MaxActive
	scanOpts.MaxWorkers = cfg.Scan.MaxWorkers
	scanOpts.Retention = cfg.Scan.Retention
	scanOpts.Logger = component(deps.Logger, "scanner")
	scanOpts.Events = events
	scan, err := scanner.New(scanOpts)
	if err != nil {
		return fail(err)
	}

	pairCfg := pairing.DefaultConfig()
	pairCfg.Vendors = vendor.Pairers(vendor.Config{
		ClientName:  cfg.Pairing.ClientName,
		Dialer:      deps.Dialer,
		HTTPTimeout: cfg.Pairing.HTTPTimeout,
		Logger:      component(deps.Logger, "vendor"),
		Events:      events,
	})
	pairCfg.Vault = v
	pairCfg.Timeouts = cfg.Pairing.BrandTimeouts()
	pairCfg.RequestTimeout = cfg.Pairing.RequestTimeout
	pairCfg.PollInterval = cfg.Pairing.PollInterval
	pairCfg.Retention = cfg.Pairing.Retention
	pairCfg.Logger = component(deps.Logger, "pairing")
	pairCfg.Events = events
	orch, err := pairing.New(pairCfg)
	if err != nil {
		scan.Close()
		return fail(err)
	}

	store := deps.Store
	if store == nil {
		if store, err = openStore(cfg.Store); err != nil {
			orch.Close()
			scan.Close()
			return fail(err)
		}
	}

	opts := Options{
		Scanner:  scan,
		Pairing:  orch,
		Detector: detector,
		Store:    store,
		ScanDefaults: scanner.Config{
			Ports:       cfg.Scan.Ports,
			Timeout:     cfg.Scan.Timeout,
			Concurrency: cfg.Scan.Concurrency,
		},
		Events:    events,
		EventFile: file,
		Logger:    deps.Logger,
	}
	if cfg.MDNS.Enabled {
		opts.Hints = discovery.NewHintCache(cfg.MDNS.HintTTL)
		opts.Browser = discovery.NewBrowser(discovery.BrowserConfig{
			Services:  cfg.MDNS.Services,
			Interface: cfg.MDNS.Interface,
			Logger:    component(deps.Logger, "mdns"),
		}, opts.Hints)
	}
	return New(opts)
}

// openEvents combines the configured event file with extra. The logger is
// nil when neither is set; the file is nil when path is empty.
func openEvents(path string, extra eventlog.Logger) (eventlog.Logger, *eventlog.FileLogger, error) {
	if path == "" {
		return extra, nil, nil
	}
	file, err := eventlog.NewFileLogger(os.ExpandEnv(path))
	if err != nil {
		return nil, nil, fmt.Errorf("event file: %w", err)
	}
	if extra == nil {
		return file, file, nil
	}
	return eventlog.NewMultiLogger(extra, file), file, nil
}

func openStore(sc config.StoreConfig) (persistence.Store, error) {
	switch sc.Kind {
	case config.StoreSQLite:
		return sqlite.Open(sc.Path)
	default:
		return persistence.NewFileStore(sc.Path)
	}
}

func component(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With("component", name)
}
