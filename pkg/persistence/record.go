package persistence

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/paircast/paircast-go/pkg/device"
	"github.com/paircast/paircast-go/pkg/vault"
)

// Store errors.
var (
	ErrNotFound      = errors.New("device not found")
	ErrInvalidRecord = errors.New("invalid device record")
	ErrStoreClosed   = errors.New("store closed")
)

// Record is a paired device as handed over after a successful pairing.
type Record struct {
	Address      netip.Addr             `json:"address"`
	Port         uint16                 `json:"port"`
	Brand        device.Brand           `json:"brand"`
	Model        string                 `json:"model,omitempty"`
	DisplayName  string                 `json:"displayName"`
	Credential   vault.SealedCredential `json:"credential"`
	Capabilities device.Capabilities    `json:"capabilities,omitempty"`
	APIVersion   string                 `json:"apiVersion,omitempty"`
	TokenExpiry  time.Time              `json:"tokenExpiry,omitzero"`
	DiscoveredAt time.Time              `json:"discoveredAt,omitzero"`
	PairedAt     time.Time              `json:"pairedAt"`
}

// Key identifies a record. A display is addressed by its control endpoint.
func (r Record) Key() netip.AddrPort {
	return netip.AddrPortFrom(r.Address, r.Port)
}

// Validate checks that the record can be stored.
func (r Record) Validate() error {
	switch {
	case !r.Address.IsValid():
		return fmt.Errorf("%w: missing address", ErrInvalidRecord)
	case r.Port == 0:
		return fmt.Errorf("%w: missing port", ErrInvalidRecord)
	case r.Brand == device.BrandUnknown:
		return fmt.Errorf("%w: unknown brand", ErrInvalidRecord)
	case strings.TrimSpace(r.DisplayName) == "":
		return fmt.Errorf("%w: empty display name", ErrInvalidRecord)
	case r.Credential.IsZero():
		return fmt.Errorf("%w: missing credential", ErrInvalidRecord)
	}
	return nil
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	r.Credential = r.Credential.Clone()
	r.Capabilities = r.Capabilities.Clone()
	return r
}

// Store persists paired devices. Save replaces any record with the same key.
type Store interface {
	Save(rec Record) error
	Get(key netip.AddrPort) (Record, error)
	List() ([]Record, error)
	Delete(key netip.AddrPort) error
	Close() error
}
