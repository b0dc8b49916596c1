package config

import (
	"bytes"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paircast/paircast-go/pkg/device"
	"github.com/paircast/paircast-go/pkg/vault"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 750*time.Millisecond, cfg.Scan.Timeout)
	assert.Equal(t, StoreFile, cfg.Store.Kind)
	assert.True(t, cfg.MDNS.Enabled)

	alg, err := vault.ParseAlgorithm(cfg.Vault.Algorithm)
	require.NoError(t, err)
	assert.Equal(t, vault.AES256GCM, alg)
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
scan:
  ports: [8001, 8060]
  timeout: 300ms
  concurrency: 16
pairing:
  poll_interval: 2s
  client_name: Living room hub
  timeouts:
    vizio: 90s
    LG: 45s
store:
  kind: sqlite
  path: /tmp/paircast.db
log:
  level: debug
  format: json
  event_file: /tmp/paircast-events.plog
`))
	require.NoError(t, err)

	assert.Equal(t, []uint16{8001, 8060}, cfg.Scan.Ports)
	assert.Equal(t, 300*time.Millisecond, cfg.Scan.Timeout)
	assert.Equal(t, 16, cfg.Scan.Concurrency)
	assert.Equal(t, 2*time.Second, cfg.Pairing.PollInterval)
	assert.Equal(t, "Living room hub", cfg.Pairing.ClientName)
	assert.Equal(t, StoreSQLite, cfg.Store.Kind)
	assert.Equal(t, "/tmp/paircast-events.plog", cfg.Log.EventFile)

	// Untouched sections keep their defaults.
	assert.Equal(t, Default().Scan.MaxActive, cfg.Scan.MaxActive)
	assert.Equal(t, Default().Vault.Algorithm, cfg.Vault.Algorithm)

	assert.Equal(t, map[device.Brand]time.Duration{
		device.BrandVizio: 90 * time.Second,
		device.BrandLG:    45 * time.Second,
	}, cfg.Pairing.BrandTimeouts())
}

func TestParseRejects(t *testing.T) {
	tests := map[string]string{
		"bad yaml":          "scan: [",
		"bad duration":      "scan:\n  timeout: soon",
		"timeout too small": "scan:\n  timeout: 1ms",
		"zero concurrency":  "scan:\n  concurrency: 0",
		"duplicate ports":   "scan:\n  ports: [80, 80]",
		"unknown brand":     "pairing:\n  timeouts:\n    acme: 10s",
		"negative poll":     "pairing:\n  poll_interval: -1s",
		"bad algorithm":     "vault:\n  algorithm: rot13",
		"bad store":         "store:\n  kind: redis",
		"bad service":       "mdns:\n  services: [googlecast]",
		"bad level":         "log:\n  level: loud",
		"bad format":        "log:\n  format: xml",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}

	_, err := Parse([]byte("store:\n  kind: redis"))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoad(t *testing.T) {
	t.Run("ExplicitPath", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "paircast.yaml")
		require.NoError(t, os.WriteFile(path, []byte("scan:\n  concurrency: 4\n"), 0600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 4, cfg.Scan.Concurrency)
		assert.Equal(t, path, cfg.Source)
	})

	t.Run("EnvironmentFirst", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "env.yaml")
		require.NoError(t, os.WriteFile(path, []byte("scan:\n  concurrency: 7\n"), 0600))
		t.Setenv(EnvConfig, path)

		assert.Equal(t, path, SearchPaths()[0])
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, 7, cfg.Scan.Concurrency)
	})

	t.Run("MissingExplicitPath", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})
}

func TestOpenVault(t *testing.T) {
	t.Run("CreatesKeyFile", func(t *testing.T) {
		t.Setenv(EnvVaultKey, "")
		path := filepath.Join(t.TempDir(), "keys", "vault.key")
		vc := VaultConfig{Algorithm: "aes-256-gcm", KeyFile: path}

		v1, err := vc.OpenVault()
		require.NoError(t, err)
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

		sealed, err := v1.SealString("token")
		require.NoError(t, err)

		v2, err := vc.OpenVault()
		require.NoError(t, err)
		got, err := v2.UnsealString(sealed)
		require.NoError(t, err)
		assert.Equal(t, "token", got)
	})

	t.Run("HexKeyFile", func(t *testing.T) {
		t.Setenv(EnvVaultKey, "")
		key := bytes.Repeat([]byte{0x42}, vault.KeySize)
		path := filepath.Join(t.TempDir(), "vault.key")
		require.NoError(t, os.WriteFile(path, []byte(hex.EncodeToString(key)+"\n"), 0600))

		v, err := VaultConfig{Algorithm: "xchacha20-poly1305", KeyFile: path}.OpenVault()
		require.NoError(t, err)
		assert.Equal(t, vault.XChaCha20Poly1305, v.Algorithm())

		direct, err := vault.New(key, vault.XChaCha20Poly1305)
		require.NoError(t, err)
		sealed, err := v.SealString("x")
		require.NoError(t, err)
		_, err = direct.UnsealString(sealed)
		assert.NoError(t, err)
	})

	t.Run("EnvironmentOverridesFile", func(t *testing.T) {
		t.Setenv(EnvVaultKey, "correct horse battery staple")
		vc := VaultConfig{Algorithm: "aes-256-gcm", KeyFile: filepath.Join(t.TempDir(), "unused.key"), Salt: "lab"}

		v, err := vc.OpenVault()
		require.NoError(t, err)
		_, err = os.Stat(vc.KeyFile)
		assert.True(t, os.IsNotExist(err))

		derived, err := vault.NewFromSecret([]byte("correct horse battery staple"), []byte("lab"), vault.AES256GCM)
		require.NoError(t, err)
		sealed, err := v.SealString("x")
		require.NoError(t, err)
		_, err = derived.UnsealString(sealed)
		assert.NoError(t, err)
	})

	t.Run("NoKey", func(t *testing.T) {
		t.Setenv(EnvVaultKey, "")
		_, err := VaultConfig{Algorithm: "aes-256-gcm"}.OpenVault()
		assert.ErrorIs(t, err, ErrNoVaultKey)
	})
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "k", 1)
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.HasPrefix(out, "{"))
	assert.Contains(t, out, `"msg":"shown"`)
}
