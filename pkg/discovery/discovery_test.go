package discovery

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/enbility/zeroconf/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paircast/paircast-go/pkg/device"
)

func TestStringsToTXTRecords(t *testing.T) {
	txt := StringsToTXTRecords([]string{"md=Chromecast", "FN=Living Room", "flag", "=orphan", "url=http://a/b=c"})
	assert.Equal(t, "Chromecast", txt["md"])
	assert.Equal(t, "Living Room", txt["fn"])
	assert.Equal(t, "", txt["flag"])
	assert.Equal(t, "http://a/b=c", txt["url"])
	assert.Len(t, txt, 4)

	assert.Equal(t, "Chromecast", txt.Model())
	assert.Equal(t, "Living Room", txt.Name())
	assert.Empty(t, TXTRecordMap{}.Model())
}

func TestServiceEntryHints(t *testing.T) {
	seen := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	e := ServiceEntry{
		Instance: "Samsung QN65",
		Service:  "_samsungmsf._tcp",
		Host:     "tv.local.",
		Port:     8001,
		Text:     []string{"md=QN65Q80C", "fn=Lobby"},
		Addrs: []netip.Addr{
			netip.MustParseAddr("192.168.1.20"),
			netip.MustParseAddr("127.0.0.1"),
			netip.MustParseAddr("fe80::1"),
			netip.MustParseAddr("::ffff:192.168.1.21"),
		},
	}

	hints := e.Hints(seen)
	require.Len(t, hints, 2)
	assert.Equal(t, netip.MustParseAddr("192.168.1.20"), hints[0].Addr)
	assert.Equal(t, netip.MustParseAddr("192.168.1.21"), hints[1].Addr)
	for _, h := range hints {
		assert.Equal(t, device.BrandSamsung, h.Brand)
		assert.Equal(t, uint16(8001), h.Port)
		assert.Equal(t, "QN65Q80C", h.Model)
		assert.Equal(t, "Lobby", h.Name)
		assert.Equal(t, seen, h.SeenAt)
	}

	e.Service = "_googlecast._tcp"
	assert.Equal(t, device.BrandUnknown, e.Hints(seen)[0].Brand)
}

func TestFromZeroconf(t *testing.T) {
	entry := &zeroconf.ServiceEntry{}
	entry.Instance = "Roku Ultra"
	entry.HostName = "roku.local."
	entry.Port = 7000
	entry.Text = []string{"model=3941X"}
	entry.AddrIPv4 = []net.IP{net.ParseIP("10.0.0.7")}
	entry.AddrIPv6 = []net.IP{net.ParseIP("fd00::7")}

	e := fromZeroconf("_airplay._tcp", entry)
	assert.Equal(t, "Roku Ultra", e.Instance)
	assert.Equal(t, "roku.local.", e.Host)
	assert.Equal(t, uint16(7000), e.Port)
	assert.Equal(t, []netip.Addr{
		netip.MustParseAddr("10.0.0.7"),
		netip.MustParseAddr("fd00::7"),
	}, e.Addrs)
}

func TestHintCache(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewHintCache(time.Minute)
	c.now = func() time.Time { return now }

	a := netip.MustParseAddr("10.0.0.9")
	b := netip.MustParseAddr("10.0.0.2")
	c.Add(
		Hint{Instance: "tv-a", Addr: a, Port: 8001, SeenAt: now},
		Hint{Instance: "tv-b", Addr: b, Port: 8060, SeenAt: now.Add(-30 * time.Second)},
		Hint{Instance: "tv-c", Addr: b, Port: 7000, SeenAt: now},
	)

	assert.Equal(t, []netip.Addr{b, a}, c.Addrs())
	hints := c.Hints()
	require.Len(t, hints, 3)
	assert.Equal(t, uint16(7000), hints[0].Port)

	t.Run("refresh", func(t *testing.T) {
		c.Add(Hint{Instance: "tv-a", Addr: a, Port: 8002, SeenAt: now})
		assert.Equal(t, 3, c.Len())
	})

	t.Run("expiry", func(t *testing.T) {
		now = now.Add(45 * time.Second)
		assert.Len(t, c.Hints(), 2)
		assert.Equal(t, 2, c.Len())
	})

	t.Run("remove", func(t *testing.T) {
		c.Remove("tv-c", b)
		assert.Equal(t, []netip.Addr{a}, c.Addrs())
		c.Remove("tv-a")
		assert.Empty(t, c.Addrs())
	})
}

func TestNewBrowserDefaults(t *testing.T) {
	b := NewBrowser(BrowserConfig{}, NewHintCache(0))
	assert.Equal(t, DefaultServices, b.config.Services)

	b.Stop()
	assert.ErrorIs(t, b.Run(t.Context()), ErrBrowserStopped)
}
