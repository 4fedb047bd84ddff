package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextBoundary_OnExactBoundary(t *testing.T) {
	for _, minute := range []int{0, 15, 30, 45} {
		now := time.Date(2026, 1, 1, 12, minute, 0, 0, time.UTC)
		got := NextBoundary(now, 15)
		want := now.Add(15 * time.Minute)
		assert.Truef(t, got.Equal(want), "minute=%d: got %s, want %s", minute, got, want)
	}
}

func TestNextBoundary_MidWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 7, 30, 0, time.UTC)
	got := NextBoundary(now, 15)
	want := time.Date(2026, 1, 1, 12, 15, 0, 0, time.UTC)
	assert.True(t, got.Equal(want))
}

func TestNextBoundary_HourRollover(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 50, 0, 0, time.UTC)
	got := NextBoundary(now, 15)
	want := time.Date(2026, 1, 1, 13, 0, 0, 0, time.UTC)
	assert.True(t, got.Equal(want))
}

func TestIsInEntryWindow(t *testing.T) {
	boundary := time.Date(2026, 1, 1, 13, 0, 0, 0, time.UTC)
	leadSecs, windowSecs := 60, 20

	cases := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"before window", boundary.Add(-90 * time.Second), false},
		{"at window start", boundary.Add(-80 * time.Second), true},
		{"inside window", boundary.Add(-70 * time.Second), true},
		{"at window end", boundary.Add(-60 * time.Second), true},
		{"after window", boundary.Add(-30 * time.Second), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsInEntryWindow(tc.now, boundary, leadSecs, windowSecs))
		})
	}
}

func TestShouldClearTradedFlag(t *testing.T) {
	boundary := time.Date(2026, 1, 1, 13, 0, 0, 0, time.UTC)
	assert.False(t, ShouldClearTradedFlag(boundary.Add(-90*time.Second), boundary, 60))
	assert.True(t, ShouldClearTradedFlag(boundary.Add(-60*time.Second), boundary, 60))
	assert.True(t, ShouldClearTradedFlag(boundary.Add(-10*time.Second), boundary, 60))
}

func TestIsFifteenMinuteBoundary(t *testing.T) {
	for _, minute := range []int{0, 15, 30, 45} {
		now := time.Date(2026, 1, 1, 12, minute, 0, 0, time.UTC)
		assert.True(t, IsFifteenMinuteBoundary(now), "minute=%d should be a 15m boundary", minute)
	}
	for _, minute := range []int{5, 10, 20, 50} {
		now := time.Date(2026, 1, 1, 12, minute, 0, 0, time.UTC)
		assert.False(t, IsFifteenMinuteBoundary(now), "minute=%d should not be a 15m boundary", minute)
	}
}

func TestPickDirectionalInterval(t *testing.T) {
	assert.Equal(t, 15, PickDirectionalInterval([]int{5, 15, 30, 60}))
	assert.Equal(t, 5, PickDirectionalInterval([]int{5, 30, 60}))
	assert.Equal(t, 30, PickDirectionalInterval([]int{30, 60}))
	assert.Equal(t, 0, PickDirectionalInterval(nil))
}

func TestInLateWindow(t *testing.T) {
	assert.False(t, InLateWindow(20*time.Second, 90))
	assert.True(t, InLateWindow(45*time.Second, 90))
	assert.True(t, InLateWindow(90*time.Second, 90))
	assert.False(t, InLateWindow(91*time.Second, 90))
}
