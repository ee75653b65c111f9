package monitoring

import (
	"strconv"
	"time"
)

// advanceCursor picks the cursor to persist after a successful batch.
// An empty next keeps the current cursor. Numeric cursors are high-water
// marks and never move backwards; opaque cursors are taken as returned.
func advanceCursor(current, next string) string {
	if next == "" {
		return current
	}
	if current == "" {
		return next
	}

	cur, errCur := strconv.ParseInt(current, 10, 64)
	nxt, errNext := strconv.ParseInt(next, 10, 64)
	if errCur == nil && errNext == nil && nxt < cur {
		return current
	}
	return next
}

// nextBackoff doubles the previous delay, starting at base and capped at ceiling
func nextBackoff(previous, base, ceiling time.Duration) time.Duration {
	if previous <= 0 {
		return base
	}
	next := previous * 2
	if next > ceiling || next <= 0 {
		return ceiling
	}
	return next
}
