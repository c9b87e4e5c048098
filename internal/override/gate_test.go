package override

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestGate(t *testing.T, w Window, max int) *Gate {
	t.Helper()
	g, err := NewGate(Policy{Window: w, MaxGrants: max, BreakDuration: time.Hour, Location: time.UTC})
	require.NoError(t, err)
	return g
}

func TestNewGate_Validation(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr bool
	}{
		{"default", DefaultPolicy(), false},
		{"empty window defaults", Policy{MaxGrants: 1, BreakDuration: time.Hour}, false},
		{"unknown window", Policy{Window: "fortnight", MaxGrants: 1, BreakDuration: time.Hour}, true},
		{"zero grants", Policy{Window: WindowCalendarDay, BreakDuration: time.Hour}, true},
		{"zero break", Policy{Window: WindowCalendarDay, MaxGrants: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGate(tt.policy)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestGate_CalendarDay(t *testing.T) {
	g := newTestGate(t, WindowCalendarDay, 1)
	morning := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

	first := g.Request(morning)
	require.True(t, first.Granted)
	require.Equal(t, time.Date(2026, 5, 5, 0, 0, 0, 0, time.UTC), first.NextAvailable)

	second := g.Request(morning.Add(3 * time.Hour))
	require.False(t, second.Granted)
	require.Equal(t, 1, g.UsedInWindow(morning.Add(3*time.Hour)))

	nextDay := g.Request(time.Date(2026, 5, 5, 0, 0, 1, 0, time.UTC))
	require.True(t, nextDay.Granted)
}

func TestGate_Rolling24h(t *testing.T) {
	g := newTestGate(t, WindowRolling24h, 1)
	start := time.Date(2026, 5, 4, 22, 0, 0, 0, time.UTC)

	require.True(t, g.Request(start).Granted)

	// Past midnight but inside 24 hours.
	denied := g.Request(start.Add(3 * time.Hour))
	require.False(t, denied.Granted)
	require.Equal(t, start.Add(24*time.Hour), denied.NextAvailable)

	require.True(t, g.Request(start.Add(24*time.Hour+time.Second)).Granted)
}

func TestGate_CalendarWeek(t *testing.T) {
	g := newTestGate(t, WindowCalendarWeek, 2)
	// 2026-05-06 is a Wednesday.
	wed := time.Date(2026, 5, 6, 12, 0, 0, 0, time.UTC)

	require.True(t, g.Request(wed).Granted)
	require.True(t, g.Request(wed.Add(24*time.Hour)).Granted)

	denied := g.Request(wed.Add(48 * time.Hour))
	require.False(t, denied.Granted)
	require.Equal(t, time.Date(2026, 5, 11, 0, 0, 0, 0, time.UTC), denied.NextAvailable)

	monday := time.Date(2026, 5, 11, 8, 0, 0, 0, time.UTC)
	require.True(t, g.Request(monday).Granted)
}

func TestGate_Rolling7d(t *testing.T) {
	g := newTestGate(t, WindowRolling7d, 1)
	start := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

	require.True(t, g.Request(start).Granted)
	require.False(t, g.Request(start.Add(6*24*time.Hour)).Granted)
	require.True(t, g.Request(start.Add(7*24*time.Hour+time.Minute)).Granted)
}

func TestGate_PeekDoesNotRecord(t *testing.T) {
	g := newTestGate(t, WindowCalendarDay, 1)
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

	require.True(t, g.Peek(now).Granted)
	require.True(t, g.Peek(now).Granted)
	_, ok := g.LastGrant()
	require.False(t, ok)
}

func TestGate_Restore(t *testing.T) {
	g := newTestGate(t, WindowCalendarDay, 1)
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

	g.Restore([]time.Time{now.Add(-time.Hour), now.Add(-48 * time.Hour)})

	last, ok := g.LastGrant()
	require.True(t, ok)
	require.Equal(t, now.Add(-time.Hour), last)
	require.False(t, g.Request(now).Granted)
}

func TestParseWindow(t *testing.T) {
	w, err := ParseWindow("")
	require.NoError(t, err)
	require.Equal(t, WindowCalendarDay, w)

	w, err = ParseWindow("rolling_7d")
	require.NoError(t, err)
	require.Equal(t, WindowRolling7d, w)

	_, err = ParseWindow("hourly")
	require.Error(t, err)
}
