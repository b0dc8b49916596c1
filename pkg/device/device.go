// Package device holds the types shared between detection, scanning and
// pairing: manufacturer families, classification confidence, capability
// sets and the discovered-device record.
package device

import (
	"fmt"
	"net/netip"
	"slices"
	"strings"
)

// Brand identifies a manufacturer protocol family.
type Brand uint8

const (
	// BrandUnknown is the zero value.
	BrandUnknown Brand = iota
	BrandSamsung
	BrandLG
	BrandSony
	BrandVizio
	BrandRoku

	// BrandGeneric marks an HTTP-speaking endpoint with no vendor match.
	BrandGeneric
)

var brandNames = map[Brand]string{
	BrandUnknown: "unknown",
	BrandSamsung: "samsung",
	BrandLG:      "lg",
	BrandSony:    "sony",
	BrandVizio:   "vizio",
	BrandRoku:    "roku",
	BrandGeneric: "generic",
}

// String returns the lowercase brand name.
func (b Brand) String() string {
	if s, ok := brandNames[b]; ok {
		return s
	}
	return "unknown"
}

// Title returns the brand name for display.
func (b Brand) Title() string {
	switch b {
	case BrandLG:
		return "LG"
	case BrandUnknown:
		return "Unknown"
	default:
		s := b.String()
		return strings.ToUpper(s[:1]) + s[1:]
	}
}

// ParseBrand parses a brand name, case-insensitively.
func ParseBrand(s string) (Brand, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for b, name := range brandNames {
		if name == s && b != BrandUnknown {
			return b, nil
		}
	}
	return BrandUnknown, fmt.Errorf("unknown brand %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (b Brand) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *Brand) UnmarshalText(text []byte) error {
	if string(text) == "unknown" {
		*b = BrandUnknown
		return nil
	}
	v, err := ParseBrand(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// Confidence grades how certain a brand classification is.
type Confidence uint8

const (
	// ConfidenceLow: an endpoint answered but no vendor handshake matched.
	ConfidenceLow Confidence = iota

	// ConfidenceMedium is reserved for partial matches.
	ConfidenceMedium

	// ConfidenceHigh: a vendor-specific handshake succeeded.
	ConfidenceHigh
)

// String returns a human-readable confidence name.
func (c Confidence) String() string {
	switch c {
	case ConfidenceLow:
		return "low"
	case ConfidenceMedium:
		return "medium"
	case ConfidenceHigh:
		return "high"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Confidence) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Confidence) UnmarshalText(text []byte) error {
	switch string(text) {
	case "low":
		*c = ConfidenceLow
	case "medium":
		*c = ConfidenceMedium
	case "high":
		*c = ConfidenceHigh
	default:
		return fmt.Errorf("unknown confidence %q", text)
	}
	return nil
}

// Capability names a control surface a device exposes.
type Capability string

// Well-known capabilities.
const (
	CapPower   Capability = "power"
	CapVolume  Capability = "volume"
	CapInput   Capability = "input"
	CapChannel Capability = "channel"
	CapApps    Capability = "apps"
	CapKeys    Capability = "keys"
	CapMedia   Capability = "media"
)

// Capabilities is a sorted, duplicate-free set of capabilities.
type Capabilities []Capability

// NewCapabilities builds a normalised set.
func NewCapabilities(caps ...Capability) Capabilities {
	out := make(Capabilities, 0, len(caps))
	for _, c := range caps {
		if c == "" {
			continue
		}
		out = append(out, c)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Has reports whether c is in the set.
func (cs Capabilities) Has(c Capability) bool {
	_, found := slices.BinarySearch(cs, c)
	return found
}

// Union returns the union of both sets.
func (cs Capabilities) Union(other Capabilities) Capabilities {
	merged := make([]Capability, 0, len(cs)+len(other))
	merged = append(merged, cs...)
	merged = append(merged, other...)
	return NewCapabilities(merged...)
}

// Clone returns an independent copy.
func (cs Capabilities) Clone() Capabilities {
	return slices.Clone(cs)
}

// Strings returns the capability names.
func (cs Capabilities) Strings() []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = string(c)
	}
	return out
}

// Fingerprint is what a successful vendor handshake learns about an endpoint.
type Fingerprint struct {
	Brand           Brand
	Model           string
	Name            string
	Serial          string
	APIVersion      string
	PairingRequired bool
	Capabilities    Capabilities
}

// DiscoveredDevice is one classified endpoint found by a scan.
type DiscoveredDevice struct {
	Address         netip.Addr   `json:"address"`
	Port            uint16       `json:"port"`
	Brand           Brand        `json:"brand"`
	Model           string       `json:"model,omitempty"`
	Name            string       `json:"name,omitempty"`
	Confidence      Confidence   `json:"confidence"`
	PairingRequired bool         `json:"pairingRequired"`
	Capabilities    Capabilities `json:"capabilities"`
	APIVersion      string       `json:"apiVersion,omitempty"`
}

// FromFingerprint builds the device record for a vendor match.
func FromFingerprint(addr netip.Addr, port uint16, fp Fingerprint, conf Confidence) DiscoveredDevice {
	return DiscoveredDevice{
		Address:         addr,
		Port:            port,
		Brand:           fp.Brand,
		Model:           fp.Model,
		Name:            fp.Name,
		Confidence:      conf,
		PairingRequired: fp.PairingRequired,
		Capabilities:    fp.Capabilities.Clone(),
		APIVersion:      fp.APIVersion,
	}
}

// Endpoint returns the host:port of the device.
func (d DiscoveredDevice) Endpoint() netip.AddrPort {
	return netip.AddrPortFrom(d.Address, d.Port)
}

// Clone returns a deep copy.
func (d DiscoveredDevice) Clone() DiscoveredDevice {
	d.Capabilities = d.Capabilities.Clone()
	return d
}

// DisplayName returns a default operator-facing label.
func (d DiscoveredDevice) DisplayName() string {
	parts := []string{d.Brand.Title()}
	if d.Model != "" {
		parts = append(parts, d.Model)
	}
	return fmt.Sprintf("%s (%s)", strings.Join(parts, " "), d.Address)
}
