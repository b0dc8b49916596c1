package pairing

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/paircast/paircast-go/pkg/device"
	"github.com/paircast/paircast-go/pkg/vault"
)

// MockPairer is a testify mock implementing Pairer.
type MockPairer struct {
	mock.Mock
	family Family
	policy TimeoutPolicy
}

func (m *MockPairer) Family() Family              { return m.family }
func (m *MockPairer) TimeoutPolicy() TimeoutPolicy { return m.policy }

func (m *MockPairer) SendRequest(ctx context.Context, target Target) (*Pending, error) {
	args := m.Called(ctx, target)
	p, _ := args.Get(0).(*Pending)
	return p, args.Error(1)
}

func (m *MockPairer) PollOrVerify(ctx context.Context, pending *Pending, code string) (Outcome, error) {
	args := m.Called(ctx, pending, code)
	return args.Get(0).(Outcome), args.Error(1)
}

// MockAbortingPairer also implements Aborter.
type MockAbortingPairer struct {
	MockPairer
}

func (m *MockAbortingPairer) Abort(ctx context.Context, pending *Pending) error {
	return m.Called(ctx, pending).Error(0)
}

var (
	accepted = Outcome{Decision: DecisionAccepted, Grant: Grant{
		Token:        "secret-token-123",
		Capabilities: device.NewCapabilities(device.CapPower, device.CapVolume),
		APIVersion:   "v2",
	}}
	rejected  = Outcome{Decision: DecisionRejected, Reason: "denied on screen"}
	undecided = Outcome{Decision: DecisionPending}
)

func testVault(t *testing.T) *vault.Vault {
	t.Helper()
	v, err := vault.New(make([]byte, vault.KeySize), vault.AES256GCM)
	require.NoError(t, err)
	return v
}

func newOrchestrator(t *testing.T, v Vendors, mutate ...func(*Config)) (*Orchestrator, *vault.Vault) {
	t.Helper()
	vlt := testVault(t)
	cfg := DefaultConfig()
	cfg.Vendors = v
	cfg.Vault = vlt
	cfg.RequestTimeout = time.Second
	for _, fn := range mutate {
		fn(&cfg)
	}
	o, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(o.Close)
	return o, vlt
}

func challengePairer() *MockPairer {
	return &MockPairer{family: FamilyChallengeCode, policy: TimeoutPolicy{Expiry: time.Minute}}
}

func autonomousPairer(interval time.Duration) *MockPairer {
	return &MockPairer{family: FamilyAutonomous, policy: TimeoutPolicy{Expiry: time.Minute, PollInterval: interval}}
}

var (
	tvAddr   = netip.MustParseAddr("10.0.0.3")
	vizioTV  = Target{Addr: tvAddr, Port: 7345, Brand: device.BrandVizio}
	samsung  = Target{Addr: tvAddr, Port: 8002, Brand: device.BrandSamsung}
	pendingP = &Pending{RequestID: "req-1"}
)

func waitStatus(t *testing.T, o *Orchestrator, id string, want Status) Session {
	t.Helper()
	var s Session
	require.Eventually(t, func() bool {
		var err error
		s, err = o.Status(id)
		return err == nil && s.Status == want
	}, 2*time.Second, 5*time.Millisecond, "session never reached %s", want)
	return s
}

func TestNewRequiresVault(t *testing.T) {
	_, err := New(DefaultConfig())
	assert.ErrorIs(t, err, ErrNoVault)
}

func TestInitiateUnsupportedBrand(t *testing.T) {
	o, _ := newOrchestrator(t, Vendors{})

	_, err := o.Initiate(context.Background(), Target{Addr: tvAddr, Port: 80, Brand: device.BrandGeneric})
	assert.ErrorIs(t, err, ErrUnsupportedBrand)
	assert.Equal(t, DefaultTimeout, o.TimeoutFor(device.BrandGeneric))
	assert.Empty(t, o.List())
}

func TestInitiateInvalidTarget(t *testing.T) {
	o, _ := newOrchestrator(t, Vendors{Vizio: challengePairer()})
	_, err := o.Initiate(context.Background(), Target{Brand: device.BrandVizio})
	assert.ErrorIs(t, err, ErrInvalidTarget)
}

func TestTimeoutFor(t *testing.T) {
	p := challengePairer()
	o, _ := newOrchestrator(t, Vendors{Vizio: p, Sony: &MockPairer{family: FamilyPresharedKey}}, func(c *Config) {
		c.Timeouts = map[device.Brand]time.Duration{device.BrandSony: 2 * time.Minute}
	})

	assert.Equal(t, time.Minute, o.TimeoutFor(device.BrandVizio))
	assert.Equal(t, 2*time.Minute, o.TimeoutFor(device.BrandSony))
	assert.Equal(t, DefaultTimeout, o.TimeoutFor(device.BrandRoku))
}

func TestChallengeCorrectCode(t *testing.T) {
	p := challengePairer()
	p.On("SendRequest", mock.Anything, vizioTV).Return(pendingP, nil).Once()
	p.On("PollOrVerify", mock.Anything, pendingP, "4821").Return(accepted, nil).Once()
	o, vlt := newOrchestrator(t, Vendors{Vizio: p})

	s, err := o.Initiate(context.Background(), vizioTV)
	require.NoError(t, err)
	assert.Equal(t, StatusPinRequired, s.Status)
	assert.True(t, s.RequiresPIN)
	assert.Equal(t, FamilyChallengeCode, s.Family)
	assert.Equal(t, s.StartedAt.Add(time.Minute), s.ExpiresAt)

	res, err := o.SubmitCode(context.Background(), s.ID, " 48-21 ")
	require.NoError(t, err)
	token, err := vlt.UnsealString(res.Credential)
	require.NoError(t, err)
	assert.Equal(t, "secret-token-123", token)
	assert.True(t, res.Capabilities.Has(device.CapVolume))
	assert.Equal(t, "v2", res.APIVersion)

	got, err := o.Status(s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, got.Status)
	assert.True(t, got.HasCredential)
	assert.False(t, got.FinishedAt.IsZero())

	_, err = o.Collect(s.ID)
	assert.ErrorIs(t, err, ErrAlreadyCollected)
	p.AssertExpectations(t)
}

func TestChallengeWrongCodeRefusesSecondAttempt(t *testing.T) {
	p := challengePairer()
	p.On("SendRequest", mock.Anything, vizioTV).Return(pendingP, nil).Once()
	p.On("PollOrVerify", mock.Anything, pendingP, "0000").Return(Outcome{Decision: DecisionRejected, Reason: "INVALID_PIN"}, nil).Once()
	o, _ := newOrchestrator(t, Vendors{Vizio: p})

	s, err := o.Initiate(context.Background(), vizioTV)
	require.NoError(t, err)

	_, err = o.SubmitCode(context.Background(), s.ID, "0000")
	assert.ErrorIs(t, err, ErrPairingRejected)
	assert.ErrorContains(t, err, "INVALID_PIN")

	before, err := o.Status(s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, before.Status)

	_, err = o.SubmitCode(context.Background(), s.ID, "4821")
	assert.ErrorIs(t, err, ErrSessionClosed)

	after, err := o.Status(s.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 1, o.Rejections(tvAddr))
	p.AssertNumberOfCalls(t, "PollOrVerify", 1)
}

func TestPresharedKeyKeepsPunctuation(t *testing.T) {
	sony := Target{Addr: tvAddr, Port: 80, Brand: device.BrandSony}
	p := &MockPairer{family: FamilyPresharedKey, policy: TimeoutPolicy{Expiry: time.Minute}}
	p.On("SendRequest", mock.Anything, sony).Return(pendingP, nil).Once()
	p.On("PollOrVerify", mock.Anything, pendingP, "bar-tv 01").Return(accepted, nil).Once()
	o, _ := newOrchestrator(t, Vendors{Sony: p})

	s, err := o.Initiate(context.Background(), sony)
	require.NoError(t, err)
	require.Equal(t, StatusPinRequired, s.Status)

	_, err = o.SubmitCode(context.Background(), s.ID, "  bar-tv 01\n")
	require.NoError(t, err)

	got, err := o.Status(s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, got.Status)
	assert.Zero(t, o.Rejections(tvAddr))
	p.AssertExpectations(t)
}

func TestSubmitCodeValidation(t *testing.T) {
	p := challengePairer()
	p.On("SendRequest", mock.Anything, vizioTV).Return(pendingP, nil)
	a := autonomousPairer(time.Hour)
	a.On("SendRequest", mock.Anything, samsung).Return(pendingP, nil)
	o, _ := newOrchestrator(t, Vendors{Vizio: p, Samsung: a})

	_, err := o.SubmitCode(context.Background(), "missing", "1234")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	s, err := o.Initiate(context.Background(), vizioTV)
	require.NoError(t, err)
	_, err = o.SubmitCode(context.Background(), s.ID, " - ")
	assert.ErrorIs(t, err, ErrInvalidCode)
	got, _ := o.Status(s.ID)
	assert.Equal(t, StatusPinRequired, got.Status)

	auto, err := o.Initiate(context.Background(), samsung)
	require.NoError(t, err)
	_, err = o.SubmitCode(context.Background(), auto.ID, "1234")
	assert.ErrorIs(t, err, ErrNoChallenge)

	_, err = o.Collect(auto.ID)
	assert.ErrorIs(t, err, ErrNotFinished)
}

func TestConcurrentSubmitIsRefused(t *testing.T) {
	started := make(chan struct{})
	block := make(chan struct{})
	p := challengePairer()
	p.On("SendRequest", mock.Anything, vizioTV).Return(pendingP, nil)
	p.On("PollOrVerify", mock.Anything, pendingP, "1111").
		Run(func(mock.Arguments) {
			close(started)
			<-block
		}).
		Return(accepted, nil).Once()
	o, _ := newOrchestrator(t, Vendors{Vizio: p})

	s, err := o.Initiate(context.Background(), vizioTV)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		_, firstErr = o.SubmitCode(context.Background(), s.ID, "1111")
	}()

	<-started
	_, err = o.SubmitCode(context.Background(), s.ID, "2222")
	assert.ErrorIs(t, err, ErrCodeInFlight)

	close(block)
	wg.Wait()
	assert.NoError(t, firstErr)
	p.AssertNumberOfCalls(t, "PollOrVerify", 1)
}

func TestAutonomousAccepted(t *testing.T) {
	p := autonomousPairer(10 * time.Millisecond)
	p.On("SendRequest", mock.Anything, samsung).Return(pendingP, nil).Once()
	p.On("PollOrVerify", mock.Anything, pendingP, "").Return(undecided, nil).Twice()
	p.On("PollOrVerify", mock.Anything, pendingP, "").Return(accepted, nil).Once()
	o, vlt := newOrchestrator(t, Vendors{Samsung: p})

	s, err := o.Initiate(context.Background(), samsung)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, s.Status)
	assert.False(t, s.RequiresPIN)

	waitStatus(t, o, s.ID, StatusAccepted)
	res, err := o.Collect(s.ID)
	require.NoError(t, err)
	token, err := vlt.UnsealString(res.Credential)
	require.NoError(t, err)
	assert.Equal(t, "secret-token-123", token)

	_, err = o.Collect(s.ID)
	assert.ErrorIs(t, err, ErrAlreadyCollected)
	p.AssertNumberOfCalls(t, "PollOrVerify", 3)
}

func TestAutonomousRejected(t *testing.T) {
	p := autonomousPairer(10 * time.Millisecond)
	p.On("SendRequest", mock.Anything, samsung).Return(pendingP, nil)
	p.On("PollOrVerify", mock.Anything, pendingP, "").Return(rejected, nil).Once()
	o, _ := newOrchestrator(t, Vendors{Samsung: p})

	s, err := o.Initiate(context.Background(), samsung)
	require.NoError(t, err)
	got := waitStatus(t, o, s.ID, StatusRejected)
	assert.Contains(t, got.Error, "denied on screen")

	_, err = o.Collect(s.ID)
	assert.ErrorIs(t, err, ErrPairingRejected)
}

func TestAutonomousTimeoutAtBoundary(t *testing.T) {
	p := autonomousPairer(5 * time.Millisecond)
	p.On("SendRequest", mock.Anything, samsung).Return(pendingP, nil)
	p.On("PollOrVerify", mock.Anything, pendingP, "").Return(undecided, nil)
	o, _ := newOrchestrator(t, Vendors{Samsung: p}, func(c *Config) {
		c.Timeouts = map[device.Brand]time.Duration{device.BrandSamsung: 80 * time.Millisecond}
	})

	s, err := o.Initiate(context.Background(), samsung)
	require.NoError(t, err)
	assert.Equal(t, s.StartedAt.Add(80*time.Millisecond), s.ExpiresAt)

	got := waitStatus(t, o, s.ID, StatusTimeout)
	assert.Equal(t, got.ExpiresAt, got.FinishedAt)
	assert.False(t, got.HasCredential)

	_, err = o.Collect(s.ID)
	assert.ErrorIs(t, err, ErrPairingTimeout)

	// A late cancel must not overwrite the terminal state.
	assert.ErrorIs(t, o.Cancel(s.ID), ErrSessionClosed)
	final, _ := o.Status(s.ID)
	assert.Equal(t, StatusTimeout, final.Status)
}

func TestCodeAfterTimeoutIsRefused(t *testing.T) {
	p := challengePairer()
	p.On("SendRequest", mock.Anything, vizioTV).Return(pendingP, nil)
	o, _ := newOrchestrator(t, Vendors{Vizio: p}, func(c *Config) {
		c.Timeouts = map[device.Brand]time.Duration{device.BrandVizio: 30 * time.Millisecond}
	})

	s, err := o.Initiate(context.Background(), vizioTV)
	require.NoError(t, err)
	waitStatus(t, o, s.ID, StatusTimeout)

	_, err = o.SubmitCode(context.Background(), s.ID, "4821")
	assert.ErrorIs(t, err, ErrSessionClosed)
	p.AssertNotCalled(t, "PollOrVerify", mock.Anything, mock.Anything, mock.Anything)
}

func TestPollToleratesTransientFailures(t *testing.T) {
	transport := errors.New("connection reset")

	t.Run("recovers", func(t *testing.T) {
		p := autonomousPairer(5 * time.Millisecond)
		p.On("SendRequest", mock.Anything, samsung).Return(pendingP, nil)
		p.On("PollOrVerify", mock.Anything, pendingP, "").Return(Outcome{}, transport).Twice()
		p.On("PollOrVerify", mock.Anything, pendingP, "").Return(accepted, nil).Once()
		o, _ := newOrchestrator(t, Vendors{Samsung: p})

		s, err := o.Initiate(context.Background(), samsung)
		require.NoError(t, err)
		waitStatus(t, o, s.ID, StatusAccepted)
	})

	t.Run("gives up", func(t *testing.T) {
		p := autonomousPairer(5 * time.Millisecond)
		p.On("SendRequest", mock.Anything, samsung).Return(pendingP, nil)
		p.On("PollOrVerify", mock.Anything, pendingP, "").Return(Outcome{}, transport)
		o, _ := newOrchestrator(t, Vendors{Samsung: p})

		s, err := o.Initiate(context.Background(), samsung)
		require.NoError(t, err)
		got := waitStatus(t, o, s.ID, StatusError)
		assert.Contains(t, got.Error, "connection reset")

		_, err = o.Collect(s.ID)
		assert.ErrorIs(t, err, ErrPairingTransport)
		p.AssertNumberOfCalls(t, "PollOrVerify", DefaultMaxPollFailures)
	})
}

func TestSendRequestFailure(t *testing.T) {
	p := challengePairer()
	p.On("SendRequest", mock.Anything, vizioTV).Return(nil, errors.New("connection refused"))
	o, _ := newOrchestrator(t, Vendors{Vizio: p})

	s, err := o.Initiate(context.Background(), vizioTV)
	assert.ErrorIs(t, err, ErrPairingTransport)
	assert.Equal(t, StatusError, s.Status)
	assert.NotEmpty(t, s.ID)
}

func TestCancelWithdrawsPrompt(t *testing.T) {
	p := &MockAbortingPairer{MockPairer: MockPairer{family: FamilyChallengeCode, policy: TimeoutPolicy{Expiry: time.Minute}}}
	p.On("SendRequest", mock.Anything, vizioTV).Return(pendingP, nil)
	aborted := make(chan struct{})
	p.On("Abort", mock.Anything, pendingP).Run(func(mock.Arguments) { close(aborted) }).Return(nil).Once()
	o, _ := newOrchestrator(t, Vendors{Vizio: p})

	s, err := o.Initiate(context.Background(), vizioTV)
	require.NoError(t, err)

	require.NoError(t, o.Cancel(s.ID))
	got, err := o.Status(s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, got.Status)
	assert.Equal(t, "pairing cancelled", got.Error)

	select {
	case <-aborted:
	case <-time.After(time.Second):
		t.Fatal("prompt was not withdrawn")
	}

	_, err = o.SubmitCode(context.Background(), s.ID, "4821")
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = o.Collect(s.ID)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, o.Cancel(s.ID), ErrSessionClosed)
}

func TestCancelWinsOverInFlightVerify(t *testing.T) {
	started := make(chan struct{})
	p := challengePairer()
	p.On("SendRequest", mock.Anything, vizioTV).Return(pendingP, nil)
	p.On("PollOrVerify", mock.Anything, pendingP, "4821").
		Run(func(args mock.Arguments) {
			close(started)
			<-args.Get(0).(context.Context).Done()
		}).
		Return(Outcome{}, context.Canceled)
	o, _ := newOrchestrator(t, Vendors{Vizio: p})

	s, err := o.Initiate(context.Background(), vizioTV)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := o.SubmitCode(context.Background(), s.ID, "4821")
		done <- err
	}()
	<-started

	require.NoError(t, o.Cancel(s.ID))
	assert.ErrorIs(t, <-done, ErrCancelled)

	got, _ := o.Status(s.ID)
	assert.Equal(t, StatusError, got.Status)
	assert.Equal(t, "pairing cancelled", got.Error)
}

func TestRejectionCooldown(t *testing.T) {
	p := challengePairer()
	p.On("SendRequest", mock.Anything, vizioTV).Return(pendingP, nil)
	p.On("PollOrVerify", mock.Anything, pendingP, mock.Anything).Return(rejected, nil)
	o, _ := newOrchestrator(t, Vendors{Vizio: p}, func(c *Config) {
		c.CooldownTiers = [4]time.Duration{0, time.Hour, time.Hour, time.Hour}
	})

	for i := 0; i < 4; i++ {
		s, err := o.Initiate(context.Background(), vizioTV)
		require.NoError(t, err, "attempt %d", i+1)
		_, err = o.SubmitCode(context.Background(), s.ID, "0000")
		require.ErrorIs(t, err, ErrPairingRejected)
	}

	_, err := o.Initiate(context.Background(), vizioTV)
	assert.ErrorIs(t, err, ErrCoolingDown)

	other := vizioTV
	other.Addr = netip.MustParseAddr("10.0.0.4")
	_, err = o.Initiate(context.Background(), other)
	assert.NoError(t, err)
}

func TestTooManySessions(t *testing.T) {
	p := challengePairer()
	p.On("SendRequest", mock.Anything, vizioTV).Return(pendingP, nil)
	o, _ := newOrchestrator(t, Vendors{Vizio: p}, func(c *Config) { c.MaxSessions = 2 })

	for i := 0; i < 2; i++ {
		_, err := o.Initiate(context.Background(), vizioTV)
		require.NoError(t, err)
	}
	_, err := o.Initiate(context.Background(), vizioTV)
	assert.ErrorIs(t, err, ErrTooManySessions)
	assert.Len(t, o.List(), 2)
}

func TestStatusString(t *testing.T) {
	for st, name := range statusNames {
		assert.Equal(t, name, st.String())
		var back Status
		require.NoError(t, back.UnmarshalText([]byte(name)))
		assert.Equal(t, st, back)
	}
	assert.Equal(t, "unknown", Status(99).String())
	assert.False(t, StatusPinRequired.IsTerminal())
	assert.True(t, StatusTimeout.IsTerminal())
}
