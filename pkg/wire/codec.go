package wire

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// FormatVersion is the envelope version written by this package.
const FormatVersion uint8 = 1

// Kind tags the payload carried in an Envelope.
type Kind uint8

const (
	// KindUnknown is the zero value and never written.
	KindUnknown Kind = iota

	// KindSealedCredential marks a vault.SealedCredential.
	KindSealedCredential

	// KindDeviceRecord marks a persisted paired-device record.
	KindDeviceRecord
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindSealedCredential:
		return "SEALED_CREDENTIAL"
	case KindDeviceRecord:
		return "DEVICE_RECORD"
	default:
		return "UNKNOWN"
	}
}

// Envelope errors.
var (
	ErrKindMismatch       = errors.New("envelope kind mismatch")
	ErrUnsupportedVersion = errors.New("unsupported envelope version")
)

// Envelope wraps an encoded payload with its version and kind.
type Envelope struct {
	Version uint8           `cbor:"1,keyasint"`
	Kind    Kind            `cbor:"2,keyasint"`
	Body    cbor.RawMessage `cbor:"3,keyasint"`
}

// Sealed credentials and device records are written with canonical key
// order so identical values produce identical bytes. Duplicate map keys
// are rejected on read; a blob carrying two ciphertexts is corrupt.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	em, err := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeUnixMicro,
	}.EncMode()
	if err != nil {
		panic("wire: encoder options: " + err.Error())
	}
	dm, err := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthAllowed,
	}.DecMode()
	if err != nil {
		panic("wire: decoder options: " + err.Error())
	}
	encMode, decMode = em, dm
}

// Marshal returns the canonical CBOR form of v.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal parses CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// NewEncoder returns a stream encoder using the canonical mode.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a stream decoder for data written by NewEncoder.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}

// Seal encodes v and wraps it in an envelope of the given kind.
func Seal(kind Kind, v any) ([]byte, error) {
	body, err := Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", kind, err)
	}
	return Marshal(Envelope{Version: FormatVersion, Kind: kind, Body: body})
}

// Open unwraps an envelope of the expected kind and decodes its body into v.
func Open(data []byte, kind Kind, v any) error {
	var env Envelope
	if err := Unmarshal(data, &env); err != nil {
		return fmt.Errorf("failed to decode envelope: %w", err)
	}
	if env.Version == 0 || env.Version > FormatVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, env.Version)
	}
	if env.Kind != kind {
		return fmt.Errorf("%w: got %s, want %s", ErrKindMismatch, env.Kind, kind)
	}
	if err := Unmarshal(env.Body, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", kind, err)
	}
	return nil
}

// Clone creates a deep copy of v by re-encoding.
func Clone[T any](v T) (T, error) {
	var result T
	data, err := Marshal(v)
	if err != nil {
		return result, err
	}
	err = Unmarshal(data, &result)
	return result, err
}

// Equal compares two values by their CBOR encoding.
func Equal(a, b any) bool {
	dataA, errA := Marshal(a)
	dataB, errB := Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(dataA, dataB)
}
