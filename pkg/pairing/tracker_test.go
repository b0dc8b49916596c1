package pairing

import (
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRejectionTrackerTiers(t *testing.T) {
	tiers := [4]time.Duration{0, 10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond}
	tracker := NewRejectionTracker(tiers)
	addr := netip.MustParseAddr("10.0.0.3")

	tests := []struct {
		rejections int
		want       time.Duration
	}{
		{0, 0},
		{1, 0},
		{3, 0},
		{4, 10 * time.Millisecond},
		{6, 10 * time.Millisecond},
		{7, 20 * time.Millisecond},
		{10, 20 * time.Millisecond},
		{11, 30 * time.Millisecond},
		{50, 30 * time.Millisecond},
	}

	for _, tt := range tests {
		tracker.Reset(addr)
		for i := 0; i < tt.rejections; i++ {
			tracker.RecordRejection(addr)
		}
		if got := tracker.Delay(addr); got != tt.want {
			t.Errorf("after %d rejections Delay() = %v, want %v", tt.rejections, got, tt.want)
		}
	}
}

func TestRejectionTrackerRemaining(t *testing.T) {
	tracker := NewRejectionTracker(DefaultCooldownTiers)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return now }

	addr := netip.MustParseAddr("10.0.0.3")
	other := netip.MustParseAddr("10.0.0.4")

	for i := 0; i < 4; i++ {
		tracker.RecordRejection(addr)
	}
	assert.Equal(t, 30*time.Second, tracker.Remaining(addr))
	assert.Zero(t, tracker.Remaining(other))

	now = now.Add(20 * time.Second)
	assert.Equal(t, 10*time.Second, tracker.Remaining(addr))

	now = now.Add(time.Minute)
	assert.Zero(t, tracker.Remaining(addr))
	assert.Equal(t, 4, tracker.Count(addr))

	tracker.Reset(addr)
	assert.Zero(t, tracker.Count(addr))
}

func TestNormalizeCode(t *testing.T) {
	tests := []struct {
		family  Family
		in      string
		want    string
		wantErr bool
	}{
		{FamilyChallengeCode, "4821", "4821", false},
		{FamilyChallengeCode, " 48 21 ", "4821", false},
		{FamilyChallengeCode, "48-21", "4821", false},
		{FamilyChallengeCode, "", "", true},
		{FamilyChallengeCode, "  ", "", true},
		{FamilyChallengeCode, "- -", "", true},
		{FamilyChallengeCode, "12\t34", "", true},
		{FamilyChallengeCode, "12\n34", "", true},
		{FamilyPresharedKey, "s3cr3t!", "s3cr3t!", false},
		{FamilyPresharedKey, "bar-tv-01", "bar-tv-01", false},
		{FamilyPresharedKey, " living room 1 ", "living room 1", false},
		{FamilyPresharedKey, "  ", "", true},
		{FamilyPresharedKey, "bar\ttv", "", true},
		{FamilyPresharedKey, strings.Repeat("k", MaxCodeLength+1), "", true},
	}

	for _, tt := range tests {
		got, err := NormalizeCode(tt.family, tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidCode, "%s input %q", tt.family, tt.in)
			continue
		}
		assert.NoError(t, err, "%s input %q", tt.family, tt.in)
		assert.Equal(t, tt.want, got)
	}
}
