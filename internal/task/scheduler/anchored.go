package scheduler

import "time"

// anchoredSchedule fires at anchor+k*every for k >= 1. Timers created at
// different anchors therefore never fire in lockstep, and a restart keeps the
// original phase: a slot missed while the process was down is not replayed,
// the next slot after now is used.
type anchoredSchedule struct {
	anchor time.Time
	every  time.Duration
}

func (a anchoredSchedule) Next(t time.Time) time.Time {
	if a.every <= 0 {
		return time.Time{}
	}
	if t.Before(a.anchor) {
		return a.anchor.Add(a.every)
	}
	k := t.Sub(a.anchor)/a.every + 1
	return a.anchor.Add(k * a.every)
}

// NextAnchored returns the first anchor+k*every strictly after t.
func NextAnchored(anchor time.Time, every time.Duration, t time.Time) time.Time {
	return anchoredSchedule{anchor: anchor, every: every}.Next(t)
}
