// Package orchestrator owns the event loop: it wakes trading cycles at
// window boundaries, runs the late-window sweep between them, starts and
// supervises every other long-lived task, and mediates resolved-trade PnL
// back to the owning engine's risk bucket.
package orchestrator

import "time"

// NextBoundary rounds now up to the next W-minute grid line. At an exact
// boundary it returns the one W minutes later, never now itself.
func NextBoundary(now time.Time, windowMin int) time.Time {
	w := time.Duration(windowMin) * time.Minute
	return now.Truncate(w).Add(w)
}

// EntryWindow is [next_boundary-entry_lead_secs-entry_window_secs,
// next_boundary-entry_lead_secs].
func EntryWindow(nextBoundary time.Time, entryLeadSecs, entryWindowSecs int) (start, end time.Time) {
	end = nextBoundary.Add(-time.Duration(entryLeadSecs) * time.Second)
	start = end.Add(-time.Duration(entryWindowSecs) * time.Second)
	return start, end
}

// IsInEntryWindow reports whether now falls within the entry window
// (inclusive of both ends).
func IsInEntryWindow(now, nextBoundary time.Time, entryLeadSecs, entryWindowSecs int) bool {
	start, end := EntryWindow(nextBoundary, entryLeadSecs, entryWindowSecs)
	return !now.Before(start) && !now.After(end)
}

// ShouldClearTradedFlag reports whether now is within entry_lead_secs of the
// next boundary, the point at which traded_this_window resets for the
// upcoming window.
func ShouldClearTradedFlag(now, nextBoundary time.Time, entryLeadSecs int) bool {
	return !now.Before(nextBoundary.Add(-time.Duration(entryLeadSecs) * time.Second))
}

// IsFifteenMinuteBoundary reports whether now's minute is a multiple of 15 —
// the 5m loop must yield to the main loop at these minutes (invariant I3).
func IsFifteenMinuteBoundary(now time.Time) bool {
	return now.Minute()%15 == 0
}

// PickDirectionalInterval applies the "every 45s" refresh rule: prefer 15m
// if any 15m market exists, else 5m, else the smallest timeframe on offer.
// Returns 0 if timeframes is empty.
func PickDirectionalInterval(timeframes []int) int {
	has15, has5 := false, false
	min := 0
	for _, tf := range timeframes {
		switch tf {
		case 15:
			has15 = true
		case 5:
			has5 = true
		}
		if min == 0 || tf < min {
			min = tf
		}
	}
	switch {
	case has15:
		return 15
	case has5:
		return 5
	default:
		return min
	}
}

// InLateWindow reports whether timeRemaining qualifies a market for the
// late-window sweep: more than 30s left but within leadSecs of expiry.
func InLateWindow(timeRemaining time.Duration, leadSecs int) bool {
	return timeRemaining > 30*time.Second && timeRemaining <= time.Duration(leadSecs)*time.Second
}
