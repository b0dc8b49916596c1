// Package config loads the paircast YAML configuration.
//
// Every field has a default, so running without a file is valid. Durations
// are written as Go duration strings ("750ms", "2m").
//
// Example:
//
//	scan:
//	  ports: [8001, 8002, 3000, 7345, 8060, 80]
//	  timeout: 750ms
//	  concurrency: 32
//	pairing:
//	  client_name: paircast
//	  timeouts:
//	    vizio: 90s
//	vault:
//	  algorithm: xchacha20-poly1305
//	  key_file: /var/lib/paircast/vault.key
//	store:
//	  kind: sqlite
//	  path: /var/lib/paircast/devices.db
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/paircast/paircast-go/pkg/device"
	"github.com/paircast/paircast-go/pkg/discovery"
	"github.com/paircast/paircast-go/pkg/pairing"
	"github.com/paircast/paircast-go/pkg/scanner"
	"github.com/paircast/paircast-go/pkg/vault"
	"github.com/paircast/paircast-go/pkg/vendor"
)

// Environment variables.
const (
	// EnvConfig names a config file that takes precedence over the search path.
	EnvConfig = "PAIRCAST_CONFIG"

	// EnvVaultKey carries the vault secret, overriding vault.key_file.
	EnvVaultKey = "PAIRCAST_VAULT_KEY"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

// Store kinds.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

// Config is the complete configuration.
type Config struct {
	Scan    ScanConfig    `yaml:"scan"`
	Pairing PairingConfig `yaml:"pairing"`
	Vault   VaultConfig   `yaml:"vault"`
	Store   StoreConfig   `yaml:"store"`
	MDNS    MDNSConfig    `yaml:"mdns"`
	Log     LogConfig     `yaml:"log"`

	// Source is the file the config was read from, or "" for defaults.
	Source string `yaml:"-"`
}

// ScanConfig holds scan defaults and limits.
type ScanConfig struct {
	// Ports probed when a request names none. Empty means every port a
	// vendor probe knows.
	Ports       []uint16      `yaml:"ports"`
	Timeout     time.Duration `yaml:"timeout"`
	Concurrency int           `yaml:"concurrency"`
	MaxActive   int           `yaml:"max_active"`
	MaxWorkers  int           `yaml:"max_workers"`
	Retention   time.Duration `yaml:"retention"`
}

// PairingConfig holds pairing timing and the name shown on prompts.
type PairingConfig struct {
	RequestTimeout time.Duration            `yaml:"request_timeout"`
	PollInterval   time.Duration            `yaml:"poll_interval"`
	Retention      time.Duration            `yaml:"retention"`
	ClientName     string                   `yaml:"client_name"`
	HTTPTimeout    time.Duration            `yaml:"http_timeout"`
	Timeouts       map[string]time.Duration `yaml:"timeouts"`
}

// VaultConfig selects the sealing algorithm and key source.
type VaultConfig struct {
	Algorithm string `yaml:"algorithm"`
	KeyFile   string `yaml:"key_file"`
	Salt      string `yaml:"salt"`
}

// StoreConfig selects where paired devices are kept.
type StoreConfig struct {
	Kind string `yaml:"kind"`
	Path string `yaml:"path"`
}

// MDNSConfig controls the mDNS hint browser.
type MDNSConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Services  []string      `yaml:"services"`
	Interface string        `yaml:"interface"`
	HintTTL   time.Duration `yaml:"hint_ttl"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`

	// EventFile receives the CBOR scan and pairing trace. Empty disables it.
	EventFile string `yaml:"event_file"`
}

// Default returns the built-in configuration.
func Default() Config {
	dir := DataDir()
	return Config{
		Scan: ScanConfig{
			Timeout:     scanner.DefaultTimeout,
			Concurrency: scanner.DefaultConcurrency,
			MaxActive:   scanner.DefaultMaxActiveScans,
			MaxWorkers:  scanner.DefaultMaxWorkers,
			Retention:   scanner.DefaultRetention,
		},
		Pairing: PairingConfig{
			RequestTimeout: pairing.DefaultRequestTimeout,
			Retention:      pairing.DefaultRetention,
			ClientName:     vendor.DefaultClientName,
			HTTPTimeout:    vendor.DefaultHTTPTimeout,
		},
		Vault: VaultConfig{
			Algorithm: "aes-256-gcm",
			KeyFile:   filepath.Join(dir, "vault.key"),
		},
		Store: StoreConfig{
			Kind: StoreFile,
			Path: filepath.Join(dir, "devices.json"),
		},
		MDNS: MDNSConfig{
			Enabled:  true,
			Services: slices.Clone(discovery.DefaultServices),
			HintTTL:  discovery.DefaultHintTTL,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DataDir is the default directory for the key and device files.
func DataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "paircast")
	}
	return "."
}

// SearchPaths returns the files Load tries, in order.
func SearchPaths() []string {
	var paths []string
	if p := os.Getenv(EnvConfig); p != "" {
		paths = append(paths, p)
	}
	paths = append(paths, "paircast.yaml")
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "paircast", "config.yaml"))
	}
	return append(paths, "/etc/paircast/config.yaml")
}

// Load reads path, or the first existing file on the search path when path
// is empty. With no file at all the defaults are returned.
func Load(path string) (Config, error) {
	if path != "" {
		return LoadFile(path)
	}
	for _, p := range SearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return LoadFile(p)
		}
	}
	cfg := Default()
	return cfg, cfg.Validate()
}

// LoadFile reads and validates a single file.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Source = path
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values no component would accept.
func (c Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if len(c.Scan.Ports) > 0 {
		probe := scanner.Config{Ports: c.Scan.Ports, Timeout: c.Scan.Timeout, Concurrency: c.Scan.Concurrency}
		if err := probe.Validate(); err != nil {
			fail("scan: %v", err)
		}
	}
	if c.Scan.Timeout < scanner.MinTimeout || c.Scan.Timeout > scanner.MaxTimeout {
		fail("scan.timeout %s out of range [%s, %s]", c.Scan.Timeout, scanner.MinTimeout, scanner.MaxTimeout)
	}
	if c.Scan.Concurrency < 1 || c.Scan.Concurrency > scanner.MaxConcurrency {
		fail("scan.concurrency %d out of range [1, %d]", c.Scan.Concurrency, scanner.MaxConcurrency)
	}
	if c.Scan.MaxActive < 1 {
		fail("scan.max_active must be positive")
	}
	if c.Scan.MaxWorkers < 1 {
		fail("scan.max_workers must be positive")
	}
	if c.Scan.Retention <= 0 {
		fail("scan.retention must be positive")
	}

	if c.Pairing.RequestTimeout <= 0 {
		fail("pairing.request_timeout must be positive")
	}
	if c.Pairing.PollInterval < 0 {
		fail("pairing.poll_interval must not be negative")
	}
	if c.Pairing.Retention <= 0 {
		fail("pairing.retention must be positive")
	}
	if c.Pairing.HTTPTimeout <= 0 {
		fail("pairing.http_timeout must be positive")
	}
	if strings.TrimSpace(c.Pairing.ClientName) == "" {
		fail("pairing.client_name is empty")
	}
	for name, d := range c.Pairing.Timeouts {
		if _, err := device.ParseBrand(name); err != nil {
			fail("pairing.timeouts: %v", err)
		}
		if d <= 0 {
			fail("pairing.timeouts.%s must be positive", name)
		}
	}

	if _, err := vault.ParseAlgorithm(c.Vault.Algorithm); err != nil {
		fail("vault.algorithm: %v", err)
	}

	switch c.Store.Kind {
	case StoreFile, StoreSQLite:
	default:
		fail("store.kind %q (want %s or %s)", c.Store.Kind, StoreFile, StoreSQLite)
	}
	if c.Store.Path == "" {
		fail("store.path is empty")
	}

	if c.MDNS.Enabled && len(c.MDNS.Services) == 0 {
		fail("mdns.services is empty")
	}
	for _, s := range c.MDNS.Services {
		if !strings.HasPrefix(s, "_") || !strings.HasSuffix(s, "._tcp") && !strings.HasSuffix(s, "._udp") {
			fail("mdns service %q is not a DNS-SD service type", s)
		}
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		fail("log.level: %v", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		fail("log.format %q (want text or json)", c.Log.Format)
	}

	return errors.Join(errs...)
}

// BrandTimeouts converts the per-brand overrides. Call after Validate.
func (p PairingConfig) BrandTimeouts() map[device.Brand]time.Duration {
	out := make(map[device.Brand]time.Duration, len(p.Timeouts))
	for name, d := range p.Timeouts {
		if b, err := device.ParseBrand(name); err == nil {
			out[b] = d
		}
	}
	return out
}

// NewLogger builds a slog logger writing to w.
func (l LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown level %q", s)
	}
	return level, nil
}
