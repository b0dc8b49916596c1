package interactive

import (
	"bytes"
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/paircast/paircast-go/pkg/device"
	"github.com/paircast/paircast-go/pkg/discovery"
	"github.com/paircast/paircast-go/pkg/engine"
	"github.com/paircast/paircast-go/pkg/pairing"
	"github.com/paircast/paircast-go/pkg/persistence"
	"github.com/paircast/paircast-go/pkg/scanner"
)

type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) StartScan(ctx context.Context, req engine.ScanRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockEngine) GetScanStatus(id string) (scanner.Session, error) {
	args := m.Called(id)
	return args.Get(0).(scanner.Session), args.Error(1)
}

func (m *MockEngine) ListScans() []scanner.Session {
	return m.Called().Get(0).([]scanner.Session)
}

func (m *MockEngine) CancelScan(id string) error {
	return m.Called(id).Error(0)
}

func (m *MockEngine) InitiatePairing(ctx context.Context, addr netip.Addr, port uint16, brand device.Brand) (engine.Ticket, error) {
	args := m.Called(ctx, addr, port, brand)
	return args.Get(0).(engine.Ticket), args.Error(1)
}

func (m *MockEngine) SubmitCode(ctx context.Context, id, code string) (engine.PairingResult, error) {
	args := m.Called(ctx, id, code)
	return args.Get(0).(engine.PairingResult), args.Error(1)
}

func (m *MockEngine) GetPairingStatus(id string) (pairing.Session, error) {
	args := m.Called(id)
	return args.Get(0).(pairing.Session), args.Error(1)
}

func (m *MockEngine) ListPairings() []pairing.Session {
	return m.Called().Get(0).([]pairing.Session)
}

func (m *MockEngine) CancelPairing(id string) error {
	return m.Called(id).Error(0)
}

func (m *MockEngine) Finalize(ctx context.Context, id, displayName string) (persistence.Record, error) {
	args := m.Called(ctx, id, displayName)
	return args.Get(0).(persistence.Record), args.Error(1)
}

func (m *MockEngine) Devices() ([]persistence.Record, error) {
	args := m.Called()
	return args.Get(0).([]persistence.Record), args.Error(1)
}

func (m *MockEngine) ForgetDevice(key netip.AddrPort) error {
	return m.Called(key).Error(0)
}

func (m *MockEngine) Hints() []discovery.Hint {
	return m.Called().Get(0).([]discovery.Hint)
}

func newConsole(eng Engine) (*Console, *bytes.Buffer) {
	var buf bytes.Buffer
	return &Console{eng: eng, out: &buf}, &buf
}

func TestExecuteScan(t *testing.T) {
	eng := &MockEngine{}
	c, out := newConsole(eng)
	ctx := context.Background()

	eng.On("StartScan", ctx, engine.ScanRequest{Range: "10.0.0.0/30", Ports: []uint16{8001, 8060}}).
		Return("scan-1", nil).Once()

	assert.False(t, c.Execute(ctx, "scan 10.0.0.0/30 8001,8060"))
	assert.Contains(t, out.String(), "Scan started: scan-1")

	out.Reset()
	c.Execute(ctx, "scan 10.0.0.1 80,abc")
	assert.Contains(t, out.String(), `invalid port "abc"`)
	eng.AssertExpectations(t)
}

func TestExecuteStatusFallsBackToPairing(t *testing.T) {
	eng := &MockEngine{}
	c, out := newConsole(eng)

	eng.On("GetScanStatus", "p-1").Return(scanner.Session{}, scanner.ErrScanNotFound)
	eng.On("GetPairingStatus", "p-1").Return(pairing.Session{
		ID:          "p-1",
		Address:     netip.MustParseAddr("10.0.0.7"),
		Port:        7345,
		Brand:       device.BrandVizio,
		Family:      pairing.FamilyChallengeCode,
		Status:      pairing.StatusPinRequired,
		RequiresPIN: true,
		ExpiresAt:   time.Now().Add(time.Minute),
	}, nil)

	c.Execute(context.Background(), "status p-1")
	assert.Contains(t, out.String(), "Pairing p-1: pin_required")
	assert.Contains(t, out.String(), "code p-1 <code>")
}

func TestExecutePairAndCode(t *testing.T) {
	eng := &MockEngine{}
	c, out := newConsole(eng)
	ctx := context.Background()
	addr := netip.MustParseAddr("10.0.0.7")

	eng.On("InitiatePairing", ctx, addr, uint16(7345), device.BrandVizio).
		Return(engine.Ticket{ID: "p-1", RequiresPIN: true, TimeoutSeconds: 60}, nil)
	eng.On("SubmitCode", ctx, "p-1", "48 21").
		Return(engine.PairingResult{
			Session: pairing.Session{ID: "p-1", Status: pairing.StatusAccepted, Address: addr, Port: 7345},
			Result:  &pairing.Result{APIVersion: "2.0"},
		}, nil)

	c.Execute(ctx, "pair 10.0.0.7:7345 Vizio")
	assert.Contains(t, out.String(), "Pairing p-1 started (timeout 60s)")

	out.Reset()
	c.Execute(ctx, "code p-1 48 21")
	assert.Contains(t, out.String(), "accepted")
	assert.Contains(t, out.String(), "save p-1")

	out.Reset()
	c.Execute(ctx, "pair 10.0.0.7:7345 acme")
	assert.Contains(t, out.String(), "unknown brand")
	eng.AssertExpectations(t)
}

func TestExecuteSaveAndDevices(t *testing.T) {
	eng := &MockEngine{}
	c, out := newConsole(eng)
	ctx := context.Background()
	rec := persistence.Record{
		Address:     netip.MustParseAddr("10.0.0.3"),
		Port:        8002,
		Brand:       device.BrandSamsung,
		DisplayName: "Lobby TV",
		PairedAt:    time.Now(),
	}

	eng.On("Finalize", ctx, "p-2", "Lobby TV").Return(rec, nil)
	eng.On("Devices").Return([]persistence.Record{rec}, nil)

	c.Execute(ctx, "save p-2 Lobby TV")
	assert.Contains(t, out.String(), `Saved 10.0.0.3:8002 as "Lobby TV"`)

	out.Reset()
	c.Execute(ctx, "devices")
	assert.Contains(t, out.String(), "Paired Devices (1)")
	assert.Contains(t, out.String(), "Brand: Samsung")
}

func TestExecuteQuitAndUnknown(t *testing.T) {
	c, out := newConsole(&MockEngine{})
	ctx := context.Background()

	assert.False(t, c.Execute(ctx, "   "))
	assert.False(t, c.Execute(ctx, "frobnicate"))
	assert.Contains(t, out.String(), "Unknown command: frobnicate")
	assert.True(t, c.Execute(ctx, "quit"))
}

func TestParsePorts(t *testing.T) {
	ports, err := ParsePorts("8001, 8060,80")
	require.NoError(t, err)
	assert.Equal(t, []uint16{8001, 8060, 80}, ports)

	ports, err = ParsePorts("")
	require.NoError(t, err)
	assert.Nil(t, ports)

	for _, bad := range []string{"0", "65536", "80,,81", "-1"} {
		_, err := ParsePorts(bad)
		assert.Error(t, err, bad)
	}
}
