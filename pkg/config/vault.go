package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/paircast/paircast-go/pkg/vault"
)

// ErrNoVaultKey is returned when neither the environment nor a key file
// provides a vault key.
var ErrNoVaultKey = errors.New("no vault key configured")

// OpenVault builds the vault. PAIRCAST_VAULT_KEY wins over key_file and is
// stretched with HKDF. A key file holding 64 hex digits is used as the raw
// key; any other content is treated as a secret. A missing key file is
// created with a fresh random key.
func (v VaultConfig) OpenVault() (*vault.Vault, error) {
	alg, err := vault.ParseAlgorithm(v.Algorithm)
	if err != nil {
		return nil, err
	}

	if secret := os.Getenv(EnvVaultKey); secret != "" {
		return vault.NewFromSecret([]byte(secret), []byte(v.Salt), alg)
	}
	if v.KeyFile == "" {
		return nil, ErrNoVaultKey
	}

	data, err := os.ReadFile(v.KeyFile)
	if errors.Is(err, fs.ErrNotExist) {
		key, err := createKeyFile(v.KeyFile)
		if err != nil {
			return nil, err
		}
		return vault.New(key, alg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read vault key: %w", err)
	}

	text := strings.TrimSpace(string(data))
	if len(text) == 2*vault.KeySize {
		if key, err := hex.DecodeString(text); err == nil {
			return vault.New(key, alg)
		}
	}
	return vault.NewFromSecret([]byte(text), []byte(v.Salt), alg)
}

func createKeyFile(path string) ([]byte, error) {
	key, err := vault.GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	// O_EXCL: never overwrite a key another process just wrote.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault key: %w", err)
	}
	if _, err := f.WriteString(hex.EncodeToString(key) + "\n"); err != nil {
		f.Close()
		return nil, err
	}
	return key, f.Close()
}
