package exchange

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/duskline/polybot/internal/types"
)

func TestCurrentWindowMarkets_PicksCurrentBoundaryEarlyInWindow(t *testing.T) {
	windowMin := 15
	now := time.Date(2026, 1, 1, 10, 1, 0, 0, time.UTC) // 1 minute into the window
	cur := CurrentBoundary(now, windowMin)
	next := NextBoundary(now, windowMin)

	markets := []*types.Market{
		{ConditionID: "cur", WindowTS: cur},
		{ConditionID: "next", WindowTS: next},
	}

	got := CurrentWindowMarkets(markets, windowMin, now)
	if assert.Len(t, got, 1) {
		assert.Equal(t, "cur", got[0].ConditionID)
	}
}

func TestCurrentWindowMarkets_SwitchesToNextBoundaryNearClose(t *testing.T) {
	windowMin := 15
	now := time.Date(2026, 1, 1, 10, 14, 0, 0, time.UTC) // 60s left in the window
	next := NextBoundary(now, windowMin)

	markets := []*types.Market{
		{ConditionID: "cur", WindowTS: CurrentBoundary(now, windowMin)},
		{ConditionID: "next", WindowTS: next},
	}

	got := CurrentWindowMarkets(markets, windowMin, now)
	if assert.Len(t, got, 1) {
		assert.Equal(t, "next", got[0].ConditionID)
	}
}

func TestCandidateSlugs_GeneratesFourOffsets(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	slugs := candidateSlugs("BTC", 15, now)
	assert.Len(t, slugs, 4)
	for _, s := range slugs {
		assert.Contains(t, s, "BTC-updown-15m-")
	}
}

func TestNextBoundary_IsCurrentBoundaryPlusWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 7, 0, 0, time.UTC)
	cur := CurrentBoundary(now, 15)
	next := NextBoundary(now, 15)
	assert.Equal(t, 15*time.Minute, next.Sub(cur))
}
