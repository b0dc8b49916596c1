package vault

import (
	"bytes"
	"fmt"

	"github.com/paircast/paircast-go/pkg/wire"
)

// SealedCredential is an opaque, authenticated-encrypted token.
type SealedCredential struct {
	Ciphertext  []byte    `cbor:"1,keyasint" json:"ciphertext"`
	IV          []byte    `cbor:"2,keyasint" json:"iv"`
	AuthTag     []byte    `cbor:"3,keyasint" json:"authTag"`
	AlgorithmID Algorithm `cbor:"4,keyasint" json:"algorithmId"`
}

// IsZero reports whether the credential is empty.
func (sc SealedCredential) IsZero() bool {
	return sc.AlgorithmID == 0 && len(sc.IV) == 0 && len(sc.AuthTag) == 0 && len(sc.Ciphertext) == 0
}

// Equal reports whether two credentials are byte-identical.
func (sc SealedCredential) Equal(other SealedCredential) bool {
	return sc.AlgorithmID == other.AlgorithmID &&
		bytes.Equal(sc.Ciphertext, other.Ciphertext) &&
		bytes.Equal(sc.IV, other.IV) &&
		bytes.Equal(sc.AuthTag, other.AuthTag)
}

// Clone returns a deep copy.
func (sc SealedCredential) Clone() SealedCredential {
	return SealedCredential{
		Ciphertext:  bytes.Clone(sc.Ciphertext),
		IV:          bytes.Clone(sc.IV),
		AuthTag:     bytes.Clone(sc.AuthTag),
		AlgorithmID: sc.AlgorithmID,
	}
}

// Encode returns the credential as a versioned CBOR envelope.
func (sc SealedCredential) Encode() ([]byte, error) {
	return wire.Seal(wire.KindSealedCredential, sc)
}

// DecodeSealed decodes a credential produced by Encode.
func DecodeSealed(data []byte) (SealedCredential, error) {
	var sc SealedCredential
	if err := wire.Open(data, wire.KindSealedCredential, &sc); err != nil {
		return SealedCredential{}, fmt.Errorf("failed to decode sealed credential: %w", err)
	}
	return sc, nil
}
