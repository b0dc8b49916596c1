package pairing

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/paircast/paircast-go/pkg/device"
	"github.com/paircast/paircast-go/pkg/eventlog"
	"github.com/paircast/paircast-go/pkg/vault"
)

// Default timing.
const (
	// DefaultTimeout applies to brands without a vendor policy.
	DefaultTimeout = 60 * time.Second

	// DefaultPollInterval is used when a vendor policy leaves it unset.
	DefaultPollInterval = 1 * time.Second

	// DefaultRequestTimeout bounds the initial pairing request.
	DefaultRequestTimeout = 10 * time.Second

	// DefaultRetention keeps finished sessions readable for this long.
	DefaultRetention = 5 * time.Minute

	// DefaultMaxPollFailures is the number of consecutive transport
	// failures tolerated while polling for an autonomous decision.
	DefaultMaxPollFailures = 3

	// DefaultMaxSessions bounds the session table.
	DefaultMaxSessions = 256
)

// Pairing errors.
var (
	ErrUnsupportedBrand = errors.New("brand does not support pairing")
	ErrSessionNotFound  = errors.New("pairing session not found")
	ErrSessionClosed    = errors.New("pairing session is closed")
	ErrNoChallenge      = errors.New("session is not waiting for a code")
	ErrCodeInFlight     = errors.New("a code is already being verified")
	ErrInvalidCode      = errors.New("invalid pairing code")
	ErrPairingRejected  = errors.New("pairing rejected by device")
	ErrPairingTimeout   = errors.New("pairing timed out")
	ErrPairingTransport = errors.New("pairing transport failure")
	ErrCancelled        = errors.New("pairing cancelled")
	ErrNotFinished      = errors.New("pairing session has not finished")
	ErrAlreadyCollected = errors.New("pairing result already collected")
	ErrCoolingDown      = errors.New("too many rejected attempts, try again later")
	ErrTooManySessions  = errors.New("too many pairing sessions")
)

// Family is a vendor pairing handshake family.
type Family uint8

const (
	// FamilyUnknown is the zero value.
	FamilyUnknown Family = iota

	// FamilyChallengeCode: the display shows a code the operator types back.
	FamilyChallengeCode

	// FamilyAutonomous: the display shows an accept/reject prompt and the
	// client polls for the decision.
	FamilyAutonomous

	// FamilyPresharedKey: the operator enters a secret configured on the
	// display ahead of time.
	FamilyPresharedKey
)

// String returns a human-readable family name.
func (f Family) String() string {
	switch f {
	case FamilyChallengeCode:
		return "CHALLENGE_CODE"
	case FamilyAutonomous:
		return "AUTONOMOUS"
	case FamilyPresharedKey:
		return "PRESHARED_KEY"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (f Family) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// RequiresCode reports whether sessions of this family wait for operator input.
func (f Family) RequiresCode() bool {
	return f == FamilyChallengeCode || f == FamilyPresharedKey
}

// Target is the display being paired.
type Target struct {
	Addr  netip.Addr
	Port  uint16
	Brand device.Brand
}

// HostPort returns "addr:port".
func (t Target) HostPort() string {
	return net.JoinHostPort(t.Addr.String(), strconv.Itoa(int(t.Port)))
}

// TimeoutPolicy is a vendor's session timing.
type TimeoutPolicy struct {
	// Expiry is the total lifetime of a session.
	Expiry time.Duration

	// PollInterval is the tick of the autonomous poll loop.
	PollInterval time.Duration
}

// Pending is the vendor state carried from SendRequest to PollOrVerify.
type Pending struct {
	Target    Target
	RequestID string
	Values    map[string]string
}

// Value returns a vendor value, or "".
func (p *Pending) Value(key string) string {
	if p == nil || p.Values == nil {
		return ""
	}
	return p.Values[key]
}

// Decision is the device's answer to a poll or code.
type Decision uint8

const (
	// DecisionPending: no answer yet.
	DecisionPending Decision = iota
	DecisionAccepted
	DecisionRejected
)

// String returns a human-readable decision name.
func (d Decision) String() string {
	switch d {
	case DecisionPending:
		return "PENDING"
	case DecisionAccepted:
		return "ACCEPTED"
	case DecisionRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// Grant is what a device hands over when it accepts pairing.
type Grant struct {
	Token        string
	TokenExpiry  time.Time // zero if the token does not expire
	Capabilities device.Capabilities
	APIVersion   string
}

// Outcome is the result of one poll or code verification.
type Outcome struct {
	Decision Decision
	Grant    Grant
	Reason   string
}

// Pairer implements one vendor's pairing handshake.
type Pairer interface {
	// Family returns the handshake family.
	Family() Family

	// TimeoutPolicy returns the vendor's session timing.
	TimeoutPolicy() TimeoutPolicy

	// SendRequest starts pairing: shows a prompt or code on the display.
	SendRequest(ctx context.Context, target Target) (*Pending, error)

	// PollOrVerify asks for the device's decision. Code families pass the
	// operator's code; the autonomous family passes "".
	PollOrVerify(ctx context.Context, pending *Pending, code string) (Outcome, error)
}

// Aborter is implemented by pairers that can withdraw a prompt from the
// display when a session ends without a decision.
type Aborter interface {
	Abort(ctx context.Context, pending *Pending) error
}

// Vendors holds one Pairer per supported brand. Nil entries are unsupported.
type Vendors struct {
	Samsung Pairer
	LG      Pairer
	Sony    Pairer
	Vizio   Pairer
	Roku    Pairer
}

// For returns the pairer for a brand.
func (v Vendors) For(b device.Brand) (Pairer, error) {
	var p Pairer
	switch b {
	case device.BrandSamsung:
		p = v.Samsung
	case device.BrandLG:
		p = v.LG
	case device.BrandSony:
		p = v.Sony
	case device.BrandVizio:
		p = v.Vizio
	case device.BrandRoku:
		p = v.Roku
	}
	if p == nil {
		return nil, ErrUnsupportedBrand
	}
	return p, nil
}

// Config configures an Orchestrator.
type Config struct {
	// Vendors maps brands to pairing handshakes.
	Vendors Vendors

	// Vault seals accepted tokens. Required.
	Vault *vault.Vault

	// DefaultTimeout is reported for brands without a vendor policy.
	DefaultTimeout time.Duration

	// Timeouts overrides the vendor expiry per brand.
	Timeouts map[device.Brand]time.Duration

	// RequestTimeout bounds SendRequest.
	RequestTimeout time.Duration

	// PollInterval overrides every vendor's poll tick when positive.
	PollInterval time.Duration

	// Retention keeps finished sessions before they are swept.
	Retention time.Duration

	// MaxPollFailures bounds consecutive poll transport failures.
	MaxPollFailures int

	// MaxSessions bounds the session table.
	MaxSessions int

	// Events receives the pairing trace. If nil, tracing is disabled.
	Events eventlog.Logger

	// CooldownTiers are the delays imposed after repeated rejections for
	// one address: [1-3 rejections, 4-6, 7-10, 11+].
	CooldownTiers [4]time.Duration

	// Logger for session events. If nil, logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns a config with default timing and no vendors.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout:  DefaultTimeout,
		RequestTimeout:  DefaultRequestTimeout,
		Retention:       DefaultRetention,
		MaxPollFailures: DefaultMaxPollFailures,
		MaxSessions:     DefaultMaxSessions,
		CooldownTiers:   DefaultCooldownTiers,
	}
}
