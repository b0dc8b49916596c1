package eventlog

import "time"

// Event is one trace record. CBOR encoding uses integer keys.
type Event struct {
	// Timestamp when the event occurred.
	Timestamp time.Time `cbor:"1,keyasint" json:"timestamp"`

	// SessionID is the scan or pairing session the event belongs to.
	SessionID string `cbor:"2,keyasint,omitempty" json:"session_id,omitempty"`

	// Source is the component that emitted the event.
	Source Source `cbor:"3,keyasint" json:"source"`

	// Category classifies the payload.
	Category Category `cbor:"4,keyasint" json:"category"`

	// Target is the display endpoint (host:port), if any.
	Target string `cbor:"5,keyasint,omitempty" json:"target,omitempty"`

	// Brand is the display brand name, if known.
	Brand string `cbor:"6,keyasint,omitempty" json:"brand,omitempty"`

	// Type-specific payload (one of these will be set).
	StateChange *StateChangeEvent `cbor:"10,keyasint,omitempty" json:"state_change,omitempty"`
	Discovery   *DiscoveryEvent   `cbor:"11,keyasint,omitempty" json:"discovery,omitempty"`
	Exchange    *ExchangeEvent    `cbor:"12,keyasint,omitempty" json:"exchange,omitempty"`
	Error       *ErrorEventData   `cbor:"13,keyasint,omitempty" json:"error,omitempty"`
}

// Source identifies the emitting component.
type Source uint8

const (
	// SourceScan is the network scanner.
	SourceScan Source = 0
	// SourcePairing is the pairing orchestrator.
	SourcePairing Source = 1
	// SourceVendor is a vendor HTTP client.
	SourceVendor Source = 2
)

// String returns the source name.
func (s Source) String() string {
	switch s {
	case SourceScan:
		return "SCAN"
	case SourcePairing:
		return "PAIRING"
	case SourceVendor:
		return "VENDOR"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the source by name for JSON export.
func (s Source) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Category classifies the event payload.
type Category uint8

const (
	// CategoryState indicates a session state change.
	CategoryState Category = 0
	// CategoryDiscovery indicates a classified device.
	CategoryDiscovery Category = 1
	// CategoryExchange indicates an HTTP exchange with a display.
	CategoryExchange Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryState:
		return "STATE"
	case CategoryDiscovery:
		return "DISCOVERY"
	case CategoryExchange:
		return "EXCHANGE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the category by name for JSON export.
func (c Category) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// StateChangeEvent captures a session status transition.
type StateChangeEvent struct {
	// OldState is the previous status (empty for a new session).
	OldState string `cbor:"1,keyasint,omitempty" json:"old_state,omitempty"`

	// NewState is the new status.
	NewState string `cbor:"2,keyasint" json:"new_state"`

	// Reason for the change, if any.
	Reason string `cbor:"3,keyasint,omitempty" json:"reason,omitempty"`
}

// DiscoveryEvent captures a device found by a scan.
type DiscoveryEvent struct {
	Model      string `cbor:"1,keyasint,omitempty" json:"model,omitempty"`
	Name       string `cbor:"2,keyasint,omitempty" json:"name,omitempty"`
	Confidence string `cbor:"3,keyasint" json:"confidence"`
}

// ExchangeEvent captures one HTTP request to a display and its answer.
type ExchangeEvent struct {
	Method string `cbor:"1,keyasint" json:"method"`
	Path   string `cbor:"2,keyasint" json:"path"`

	// Status is the HTTP status code, 0 if no response arrived.
	Status int `cbor:"3,keyasint,omitempty" json:"status,omitempty"`

	// Duration is the round trip time in nanoseconds.
	Duration time.Duration `cbor:"4,keyasint" json:"duration"`

	// Err is the transport error, if any.
	Err string `cbor:"5,keyasint,omitempty" json:"err,omitempty"`
}

// ErrorEventData captures a failure that did not change state.
type ErrorEventData struct {
	// Message is the error text.
	Message string `cbor:"1,keyasint" json:"message"`

	// Context describes what was being attempted.
	Context string `cbor:"2,keyasint,omitempty" json:"context,omitempty"`
}
