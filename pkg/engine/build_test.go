package engine

import (
	"context"
	"io"
	"net/netip"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paircast/paircast-go/internal/tvsim"
	"github.com/paircast/paircast-go/pkg/config"
	"github.com/paircast/paircast-go/pkg/device"
	"github.com/paircast/paircast-go/pkg/eventlog"
	"github.com/paircast/paircast-go/pkg/pairing"
	"github.com/paircast/paircast-go/pkg/scanner"
	"github.com/paircast/paircast-go/pkg/vault"
)

func testConfig(t *testing.T, kind string) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Scan.Ports = []uint16{8002}
	cfg.Scan.Timeout = 200 * time.Millisecond
	cfg.Pairing.PollInterval = 20 * time.Millisecond
	cfg.MDNS.Enabled = false
	cfg.Store.Kind = kind
	cfg.Store.Path = filepath.Join(dir, "devices")
	cfg.Vault.KeyFile = filepath.Join(dir, "vault.key")
	cfg.Log.EventFile = filepath.Join(dir, "events.plog")
	return cfg
}

func TestBuildTracesScanAndPairing(t *testing.T) {
	n := tvsim.NewNetwork()
	t.Cleanup(n.Close)
	n.ServeTLS("10.0.0.3:8002", &tvsim.Samsung{Model: "QN65Q80C", Token: "11223344", Decision: tvsim.Accept, AcceptAfter: 1})

	cfg := testConfig(t, config.StoreSQLite)
	v, err := vault.New(make([]byte, vault.KeySize), vault.XChaCha20Poly1305)
	require.NoError(t, err)

	eng, err := Build(cfg, Deps{Dialer: n, Vault: v})
	require.NoError(t, err)
	ctx := context.Background()

	scanID, err := eng.StartScan(ctx, ScanRequest{Range: "10.0.0.2-4"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		s, err := eng.GetScanStatus(scanID)
		return err == nil && s.Done()
	}, 5*time.Second, 5*time.Millisecond)

	ticket, err := eng.InitiatePairing(ctx, netip.MustParseAddr("10.0.0.3"), 8002, device.BrandSamsung)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		s, err := eng.GetPairingStatus(ticket.ID)
		return err == nil && s.Status == pairing.StatusAccepted
	}, 5*time.Second, 5*time.Millisecond)

	rec, err := eng.Finalize(ctx, ticket.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "QN65Q80C", rec.Model)
	require.NoError(t, eng.Close())

	r, err := eventlog.NewReader(cfg.Log.EventFile)
	require.NoError(t, err)
	defer r.Close()

	var (
		scanStates    []string
		pairingStates []string
		discoveries   int
		exchanges     int
	)
	for {
		e, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		switch {
		case e.Source == eventlog.SourceScan && e.StateChange != nil:
			assert.Equal(t, scanID, e.SessionID)
			scanStates = append(scanStates, e.StateChange.NewState)
		case e.Discovery != nil:
			discoveries++
			assert.Equal(t, "10.0.0.3:8002", e.Target)
			assert.Equal(t, "QN65Q80C", e.Discovery.Model)
		case e.Source == eventlog.SourcePairing && e.StateChange != nil:
			assert.Equal(t, ticket.ID, e.SessionID)
			pairingStates = append(pairingStates, e.StateChange.NewState)
		case e.Exchange != nil:
			exchanges++
			assert.Equal(t, ticket.ID, e.SessionID)
		}
	}

	assert.Equal(t, []string{scanner.StatusScanning.String(), scanner.StatusComplete.String()}, scanStates)
	assert.Equal(t, 1, discoveries)
	assert.Equal(t, []string{"initiated", "waiting", "accepted", "stored"}, pairingStates)
	assert.GreaterOrEqual(t, exchanges, 2)
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t, "tape")
	_, err := Build(cfg, Deps{})
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestBuildFileStore(t *testing.T) {
	cfg := testConfig(t, config.StoreFile)
	cfg.Log.EventFile = ""

	eng, err := Build(cfg, Deps{Dialer: tvsim.NewNetwork()})
	require.NoError(t, err)
	devices, err := eng.Devices()
	require.NoError(t, err)
	assert.Empty(t, devices)
	assert.FileExists(t, cfg.Vault.KeyFile)
	require.NoError(t, eng.Close())
}
