// Package discovery browses mDNS/DNS-SD for displays that announce
// themselves, and turns the answers into scan hints.
//
// Hints never classify a device on their own. The engine merges hinted
// addresses into a scan's address space so that displays outside the
// requested range, or on ports the operator did not list, are still probed
// by the regular detector.
//
// # Service types
//
//   - _samsungmsf._tcp: Samsung Multiscreen (Tizen TVs)
//   - _googlecast._tcp: Cast receivers, including Sony and Vizio TVs
//   - _viziocast._tcp: Vizio SmartCast
//   - _airplay._tcp: AirPlay receivers, including LG and Roku TVs
package discovery

import (
	"net/netip"
	"strings"
	"time"

	"github.com/paircast/paircast-go/pkg/device"
)

// Domain is the mDNS domain browsed.
const Domain = "local."

// DefaultBrowseTimeout bounds FindOnce.
const DefaultBrowseTimeout = 5 * time.Second

// DefaultServices are the service types browsed when none are configured.
var DefaultServices = []string{
	"_samsungmsf._tcp",
	"_googlecast._tcp",
	"_viziocast._tcp",
	"_airplay._tcp",
}

// serviceBrands maps service types that identify a single vendor.
var serviceBrands = map[string]device.Brand{
	"_samsungmsf._tcp": device.BrandSamsung,
	"_viziocast._tcp":  device.BrandVizio,
}

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// StringsToTXTRecords parses "key=value" strings. Keys without '=' are
// kept with an empty value.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		key, value, found := strings.Cut(s, "=")
		if key == "" {
			continue
		}
		if !found {
			value = ""
		}
		txt[strings.ToLower(key)] = value
	}
	return txt
}

// Model returns the model name announced in TXT, if any.
func (t TXTRecordMap) Model() string {
	for _, k := range []string{"md", "model", "am"} {
		if v := t[k]; v != "" {
			return v
		}
	}
	return ""
}

// Name returns the friendly name announced in TXT, if any.
func (t TXTRecordMap) Name() string {
	for _, k := range []string{"fn", "name"} {
		if v := t[k]; v != "" {
			return v
		}
	}
	return ""
}

// Hint is one address learned from mDNS.
type Hint struct {
	Addr     netip.Addr   `json:"addr"`
	Port     uint16       `json:"port"`
	Service  string       `json:"service"`
	Instance string       `json:"instance"`
	Host     string       `json:"host,omitempty"`
	Brand    device.Brand `json:"brand"`
	Model    string       `json:"model,omitempty"`
	Name     string       `json:"name,omitempty"`
	SeenAt   time.Time    `json:"seenAt"`
}

// ServiceEntry is the part of a DNS-SD answer the browser uses.
type ServiceEntry struct {
	Instance string
	Service  string
	Host     string
	Port     uint16
	Text     []string
	Addrs    []netip.Addr
}

// Hints converts the entry into one hint per usable address. Loopback,
// link-local and unspecified addresses are skipped.
func (e ServiceEntry) Hints(seen time.Time) []Hint {
	txt := StringsToTXTRecords(e.Text)
	brand, ok := serviceBrands[e.Service]
	if !ok {
		brand = device.BrandUnknown
	}

	out := make([]Hint, 0, len(e.Addrs))
	for _, a := range e.Addrs {
		a = a.Unmap()
		if !a.IsValid() || a.IsLoopback() || a.IsUnspecified() || a.IsLinkLocalUnicast() {
			continue
		}
		out = append(out, Hint{
			Addr:     a,
			Port:     e.Port,
			Service:  e.Service,
			Instance: e.Instance,
			Host:     e.Host,
			Brand:    brand,
			Model:    txt.Model(),
			Name:     txt.Name(),
			SeenAt:   seen,
		})
	}
	return out
}
