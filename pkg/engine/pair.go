package engine

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/paircast/paircast-go/pkg/device"
	"github.com/paircast/paircast-go/pkg/eventlog"
	"github.com/paircast/paircast-go/pkg/pairing"
	"github.com/paircast/paircast-go/pkg/persistence"
)

// Ticket is returned when a pairing request has been sent.
type Ticket struct {
	ID             string `json:"id"`
	RequiresPIN    bool   `json:"requiresPin"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

// InitiatePairing sends a pairing request to the display at addr:port.
func (e *Engine) InitiatePairing(ctx context.Context, addr netip.Addr, port uint16, brand device.Brand) (Ticket, error) {
	sess, err := e.pairing.Initiate(ctx, pairing.Target{Addr: addr, Port: port, Brand: brand})
	if err != nil {
		return Ticket{}, err
	}
	return Ticket{
		ID:             sess.ID,
		RequiresPIN:    sess.RequiresPIN,
		TimeoutSeconds: int(sess.ExpiresAt.Sub(sess.StartedAt).Round(time.Second) / time.Second),
	}, nil
}

// PairingResult is a pairing session together with its sealed
// credential. Result is nil unless the session was accepted.
type PairingResult struct {
	Session pairing.Session `json:"session"`
	Result  *pairing.Result `json:"result,omitempty"`
}

// SubmitCode verifies the code shown on the display or the pre-shared key
// entered by the operator. On acceptance the sealed credential is returned
// to the caller and also kept for Finalize. The session snapshot is
// returned alongside any error.
func (e *Engine) SubmitCode(ctx context.Context, id, code string) (PairingResult, error) {
	res, err := e.pairing.SubmitCode(ctx, id, code)
	var out PairingResult
	if err == nil {
		e.hold(id, res)
		c := res.Clone()
		out.Result = &c
	}
	e.pruneReleased()

	sess, serr := e.pairing.Status(id)
	if serr != nil {
		return PairingResult{}, errors.Join(err, serr)
	}
	out.Session = sess
	return out, err
}

// Collect returns the sealed credential of an accepted session, typically
// an autonomous one, so the caller can persist it without the built-in
// store. It can be called again until the session is finalized or swept.
func (e *Engine) Collect(id string) (PairingResult, error) {
	sess, err := e.pairing.Status(id)
	if err != nil {
		return PairingResult{}, err
	}

	e.mu.Lock()
	res, ok := e.released[id]
	if !ok {
		res, err = e.pairing.Collect(id)
		if err == nil {
			e.released[id] = res
		}
	}
	e.mu.Unlock()
	if err != nil {
		return PairingResult{Session: sess}, err
	}
	res = res.Clone()
	return PairingResult{Session: sess, Result: &res}, nil
}

func (e *Engine) hold(id string, res pairing.Result) {
	e.mu.Lock()
	e.released[id] = res
	e.mu.Unlock()
}

// GetPairingStatus returns a snapshot of a pairing session.
func (e *Engine) GetPairingStatus(id string) (pairing.Session, error) {
	return e.pairing.Status(id)
}

// ListPairings returns snapshots of all retained pairing sessions.
func (e *Engine) ListPairings() []pairing.Session {
	return e.pairing.List()
}

// CancelPairing ends a pairing session and withdraws the display prompt.
func (e *Engine) CancelPairing(id string) error {
	return e.pairing.Cancel(id)
}

// Finalize takes the sealed result of an accepted session and saves the
// device. An empty displayName uses "<Brand> <Model> (<address>)".
func (e *Engine) Finalize(ctx context.Context, id, displayName string) (persistence.Record, error) {
	if e.store == nil {
		return persistence.Record{}, ErrNoStore
	}
	if err := ctx.Err(); err != nil {
		return persistence.Record{}, err
	}

	sess, err := e.pairing.Status(id)
	if err != nil {
		return persistence.Record{}, err
	}
	res, err := e.takeResult(id)
	if err != nil {
		return persistence.Record{}, err
	}

	found, discoveredAt := e.lastSeen(netip.AddrPortFrom(sess.Address, sess.Port))
	if found.Brand == device.BrandUnknown {
		found = device.DiscoveredDevice{Address: sess.Address, Port: sess.Port, Brand: sess.Brand}
	}
	if strings.TrimSpace(displayName) == "" {
		displayName = found.DisplayName()
	}

	rec := persistence.Record{
		Address:      sess.Address,
		Port:         sess.Port,
		Brand:        sess.Brand,
		Model:        found.Model,
		DisplayName:  displayName,
		Credential:   res.Credential,
		Capabilities: found.Capabilities.Union(res.Capabilities),
		APIVersion:   res.APIVersion,
		TokenExpiry:  res.TokenExpiry,
		DiscoveredAt: discoveredAt,
		PairedAt:     sess.FinishedAt,
	}
	if rec.APIVersion == "" {
		rec.APIVersion = found.APIVersion
	}

	if err := e.store.Save(rec); err != nil {
		// Keep the credential so a retry can still save it.
		e.mu.Lock()
		e.released[id] = res
		e.mu.Unlock()
		return persistence.Record{}, fmt.Errorf("failed to save %s: %w", rec.Key(), err)
	}
	if e.logger != nil {
		e.logger.Info("device paired", "pairing", id, "device", rec.Key(), "brand", rec.Brand, "name", rec.DisplayName)
	}
	eventlog.Emit(e.events, eventlog.Event{
		SessionID:   id,
		Source:      eventlog.SourcePairing,
		Category:    eventlog.CategoryState,
		Target:      rec.Key().String(),
		Brand:       rec.Brand.String(),
		StateChange: &eventlog.StateChangeEvent{OldState: sess.Status.String(), NewState: "stored", Reason: rec.DisplayName},
	})
	return rec, nil
}

// Devices lists stored devices.
func (e *Engine) Devices() ([]persistence.Record, error) {
	if e.store == nil {
		return nil, ErrNoStore
	}
	return e.store.List()
}

// ForgetDevice removes a stored device.
func (e *Engine) ForgetDevice(key netip.AddrPort) error {
	if e.store == nil {
		return ErrNoStore
	}
	return e.store.Delete(key)
}

// takeResult returns the result held by SubmitCode or Collect, or collects
// it from the orchestrator for autonomous sessions.
func (e *Engine) takeResult(id string) (pairing.Result, error) {
	e.mu.Lock()
	res, ok := e.released[id]
	delete(e.released, id)
	e.mu.Unlock()
	if ok {
		return res, nil
	}
	return e.pairing.Collect(id)
}

// pruneReleased drops held results whose sessions were swept.
func (e *Engine) pruneReleased() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id := range e.released {
		if _, err := e.pairing.Status(id); errors.Is(err, pairing.ErrSessionNotFound) {
			delete(e.released, id)
		}
	}
}

// lastSeen finds the newest scan result for an endpoint.
func (e *Engine) lastSeen(ep netip.AddrPort) (device.DiscoveredDevice, time.Time) {
	for _, scan := range e.scanner.List() {
		for _, d := range scan.Discovered {
			if d.Endpoint() == ep {
				return d, scan.StartedAt
			}
		}
	}
	return device.DiscoveredDevice{}, time.Time{}
}
