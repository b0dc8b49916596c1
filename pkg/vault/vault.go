// Package vault seals vendor access tokens so that nothing outside the
// pairing orchestrator ever holds them in plaintext.
//
// A Vault wraps one AEAD key. Every Seal draws a fresh random nonce, binds
// the algorithm identifier as associated data and splits the output into
// ciphertext and authentication tag. Unseal fails closed: any mismatch in
// algorithm, nonce length, tag length or tag value yields ErrIntegrity and
// no plaintext.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the key length for both supported algorithms.
const KeySize = 32

// TagSize is the authentication tag length for both supported algorithms.
const TagSize = 16

// MaxPlaintext bounds the size of a token accepted by Seal.
const MaxPlaintext = 8 * 1024

// hkdfInfo is the context string for key derivation.
const hkdfInfo = "paircast-credential-vault-v1"

// Vault errors.
var (
	ErrIntegrity   = errors.New("credential integrity check failed")
	ErrTooLarge    = errors.New("plaintext exceeds maximum size")
	ErrInvalidKey  = errors.New("invalid vault key")
	ErrUnsupported = errors.New("unsupported algorithm")
)

// Algorithm identifies the AEAD construction of a sealed credential.
type Algorithm uint8

const (
	// AES256GCM is AES-256 in Galois/Counter mode with a 12-byte nonce.
	AES256GCM Algorithm = 1

	// XChaCha20Poly1305 is XChaCha20-Poly1305 with a 24-byte nonce.
	XChaCha20Poly1305 Algorithm = 2
)

// String returns the algorithm name.
func (a Algorithm) String() string {
	switch a {
	case AES256GCM:
		return "AES-256-GCM"
	case XChaCha20Poly1305:
		return "XChaCha20-Poly1305"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(a))
	}
}

// ParseAlgorithm parses the names accepted in configuration.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch s {
	case "aes-256-gcm", "AES-256-GCM", "":
		return AES256GCM, nil
	case "xchacha20-poly1305", "XChaCha20-Poly1305":
		return XChaCha20Poly1305, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupported, s)
	}
}

// NonceSize returns the nonce length for the algorithm, or 0 if unknown.
func (a Algorithm) NonceSize() int {
	switch a {
	case AES256GCM:
		return 12
	case XChaCha20Poly1305:
		return chacha20poly1305.NonceSizeX
	default:
		return 0
	}
}

// Vault seals and unseals credentials with a single key.
type Vault struct {
	alg  Algorithm
	aead cipher.AEAD

	// rand is the nonce source; overridable for tests.
	rand io.Reader
}

// New creates a vault using a raw 32-byte key.
func New(key []byte, alg Algorithm) (*Vault, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrInvalidKey, KeySize, len(key))
	}
	aead, err := newAEAD(alg, key)
	if err != nil {
		return nil, err
	}
	return &Vault{alg: alg, aead: aead, rand: rand.Reader}, nil
}

// NewFromSecret derives the vault key from an operator secret with
// HKDF-SHA256 and creates a vault.
func NewFromSecret(secret, salt []byte, alg Algorithm) (*Vault, error) {
	key, err := DeriveKey(secret, salt)
	if err != nil {
		return nil, err
	}
	return New(key, alg)
}

// DeriveKey derives a KeySize key from secret and salt.
func DeriveKey(secret, salt []byte) ([]byte, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: empty secret", ErrInvalidKey)
	}
	key := make([]byte, KeySize)
	r := hkdf.New(sha256.New, secret, salt, []byte(hkdfInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// GenerateKey returns a random key suitable for New.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// Algorithm returns the vault's sealing algorithm.
func (v *Vault) Algorithm() Algorithm {
	return v.alg
}

// Seal encrypts plaintext under a fresh nonce.
func (v *Vault) Seal(plaintext []byte) (SealedCredential, error) {
	if len(plaintext) > MaxPlaintext {
		return SealedCredential{}, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(plaintext))
	}

	iv := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(v.rand, iv); err != nil {
		return SealedCredential{}, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := v.aead.Seal(nil, iv, plaintext, associatedData(v.alg))
	split := len(out) - TagSize

	return SealedCredential{
		Ciphertext:  out[:split:split],
		IV:          iv,
		AuthTag:     out[split:],
		AlgorithmID: v.alg,
	}, nil
}

// SealString is Seal for string tokens.
func (v *Vault) SealString(token string) (SealedCredential, error) {
	return v.Seal([]byte(token))
}

// Unseal decrypts a credential sealed by this vault's key.
func (v *Vault) Unseal(sc SealedCredential) ([]byte, error) {
	if sc.AlgorithmID != v.alg {
		return nil, ErrIntegrity
	}
	if len(sc.IV) != v.aead.NonceSize() || len(sc.AuthTag) != TagSize {
		return nil, ErrIntegrity
	}

	buf := make([]byte, 0, len(sc.Ciphertext)+TagSize)
	buf = append(buf, sc.Ciphertext...)
	buf = append(buf, sc.AuthTag...)

	plaintext, err := v.aead.Open(nil, sc.IV, buf, associatedData(sc.AlgorithmID))
	if err != nil {
		return nil, ErrIntegrity
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

// UnsealString is Unseal for string tokens.
func (v *Vault) UnsealString(sc SealedCredential) (string, error) {
	b, err := v.Unseal(sc)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func newAEAD(alg Algorithm, key []byte) (cipher.AEAD, error) {
	switch alg {
	case AES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		return cipher.NewGCM(block)
	case XChaCha20Poly1305:
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		return aead, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, alg)
	}
}

func associatedData(alg Algorithm) []byte {
	return []byte{'p', 'c', 'v', 1, byte(alg)}
}
