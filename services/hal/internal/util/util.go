// Package util holds timer and payload helpers for the HAL loops.
package util

import "time"

// idle is how long a loop timer sleeps when nothing is scheduled.
const idle = time.Hour

// ResetAt rearms t for the deadline at; a zero deadline parks it. With
// Go 1.23 timers a Reset discards any stale fire, so no drain is needed.
func ResetAt(t *time.Timer, at time.Time) {
	if at.IsZero() {
		t.Reset(idle)
		return
	}
	t.Reset(max(time.Until(at), 0))
}

func BoolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
