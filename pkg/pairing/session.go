package pairing

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/paircast/paircast-go/pkg/device"
	"github.com/paircast/paircast-go/pkg/vault"
)

// Status is the state of a pairing session.
type Status uint8

const (
	// StatusInitiated: the session exists and the request is being sent.
	StatusInitiated Status = iota

	// StatusWaiting: an autonomous prompt is on screen and being polled.
	StatusWaiting

	// StatusPinRequired: the session waits for the operator's code.
	StatusPinRequired

	// Terminal states.
	StatusAccepted
	StatusRejected
	StatusTimeout
	StatusError
)

var statusNames = map[Status]string{
	StatusInitiated:   "initiated",
	StatusWaiting:     "waiting",
	StatusPinRequired: "pin_required",
	StatusAccepted:    "accepted",
	StatusRejected:    "rejected",
	StatusTimeout:     "timeout",
	StatusError:       "error",
}

// String returns the status name.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s >= StatusAccepted
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	for st, name := range statusNames {
		if name == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown pairing status %q", text)
}

// Session is a read-only snapshot of a pairing session. It never carries
// the credential.
type Session struct {
	ID            string       `json:"id"`
	Address       netip.Addr   `json:"address"`
	Port          uint16       `json:"port"`
	Brand         device.Brand `json:"brand"`
	Family        Family       `json:"family"`
	Status        Status       `json:"status"`
	RequiresPIN   bool         `json:"requiresPin"`
	StartedAt     time.Time    `json:"startedAt"`
	ExpiresAt     time.Time    `json:"expiresAt"`
	FinishedAt    time.Time    `json:"finishedAt,omitzero"`
	HasCredential bool         `json:"hasCredential"`
	Error         string       `json:"error,omitempty"`
}

// Remaining returns the time left before the session expires, measured
// from now. Zero once expired or finished.
func (s Session) Remaining(now time.Time) time.Duration {
	if s.Status.IsTerminal() || !now.Before(s.ExpiresAt) {
		return 0
	}
	return s.ExpiresAt.Sub(now)
}

// Result is what an accepted session yields. The token is sealed.
type Result struct {
	Credential   vault.SealedCredential `json:"credential"`
	TokenExpiry  time.Time              `json:"tokenExpiry,omitzero"`
	Capabilities device.Capabilities    `json:"capabilities"`
	APIVersion   string                 `json:"apiVersion,omitempty"`
}

// Clone returns a deep copy.
func (r Result) Clone() Result {
	r.Credential = r.Credential.Clone()
	r.Capabilities = r.Capabilities.Clone()
	return r
}

// session is the live state behind a Session. All fields below mu are
// guarded by it. The first terminal write wins.
type session struct {
	pairer Pairer
	target Target

	// ctx is cancelled when the session finishes. It bounds the poll loop
	// and every in-flight vendor call.
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	info      Session
	pending   *Pending
	timer     *time.Timer
	verifying bool
	err       error
	result    *Result
	collected bool
}

func (s *session) snapshot() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}
