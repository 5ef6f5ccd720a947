package scheduler

import (
	"slices"
	"strings"
	"time"
)

// Snapshot lists the schedules by name with live fire times when armed.
func (s *Service) Snapshot() Snapshot {
	now := time.Now()

	s.mu.Lock()
	snap := Snapshot{Enabled: s.cfg.Enabled, Timezone: s.cfg.Timezone}
	if snap.Timezone == "" && s.loc != nil {
		snap.Timezone = s.loc.String()
	}
	snap.Schedules = make([]ScheduleInfo, 0, len(s.defs))
	for _, d := range s.defs {
		info := ScheduleInfo{
			Name:    d.name,
			Spec:    d.spec,
			Timeout: d.timeout,
			Next:    d.sched.Next(now),
			Missed:  d.missed,
		}
		if s.c != nil && d.entryID != 0 {
			if e := s.c.Entry(d.entryID); e.Valid() {
				info.Prev = e.Prev
				if !e.Next.IsZero() {
					info.Next = e.Next
				}
			}
		}
		snap.Schedules = append(snap.Schedules, info)
	}
	eng := s.engine
	s.mu.Unlock()

	slices.SortFunc(snap.Schedules, func(a, b ScheduleInfo) int { return strings.Compare(a.Name, b.Name) })
	if eng != nil {
		snap.Engine = eng.Snapshot()
	}
	return snap
}
