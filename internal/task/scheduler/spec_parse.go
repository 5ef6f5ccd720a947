package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Timing is a parsed job schedule: either a cron expression or a fixed
// period measured from registration.
type Timing struct {
	Cron  string
	Every time.Duration
}

func (t Timing) String() string {
	if t.Cron != "" {
		return t.Cron
	}
	return "@every " + t.Every.String()
}

// ParseSchedule reads the schedule forms accepted in configuration:
//
//	"@daily", "0 3 * * *"  cron, 5 or 6 fields, or a descriptor
//	"03:30"                every day at that wall-clock time
//	"6h", "90m"            a fixed period
func ParseSchedule(raw string) (Timing, error) {
	s := strings.TrimSpace(raw)
	switch {
	case s == "":
		return Timing{}, fmt.Errorf("schedule required")
	case strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t"):
		return Timing{Cron: s}, nil
	case strings.Contains(s, ":"):
		return parseClock(s)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return Timing{}, fmt.Errorf("invalid schedule %q: want cron, HH:MM or a duration like 6h", raw)
	}
	if d <= 0 {
		return Timing{}, fmt.Errorf("schedule period must be > 0, got %s", s)
	}
	return Timing{Every: d}, nil
}

func parseClock(s string) (Timing, error) {
	hh, mm, _ := strings.Cut(s, ":")
	h, errH := strconv.Atoi(hh)
	m, errM := strconv.Atoi(mm)
	if errH != nil || errM != nil || len(mm) != 2 || h < 0 || h > 23 || m < 0 || m > 59 {
		return Timing{}, fmt.Errorf("invalid time of day %q, want HH:MM", s)
	}
	return Timing{Cron: fmt.Sprintf("%d %d * * *", m, h)}, nil
}
