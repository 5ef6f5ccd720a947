package app

import (
	"strings"
	"time"

	"sitewatch/internal/config"
	rtsup "sitewatch/internal/runtime/supervisor"
	"sitewatch/internal/task/engine"
	telegram "sitewatch/internal/transport/telegram/adapter"
)

// statusHistory caps the engine runs included in a status response.
const statusHistory = 20

// Status is the body of GET /api/status on the ops server.
type Status struct {
	StartedAt time.Time   `json:"started_at"`
	Uptime    string      `json:"uptime"`
	Watches   int         `json:"watches"`
	Config    config.Info `json:"config"`

	Timezone  string    `json:"timezone,omitempty"`
	NextPrune time.Time `json:"next_prune,omitzero"`
	// Checks counts the per-watch schedules; the prune job is excluded.
	Checks      int             `json:"checks"`
	MissedTicks uint64          `json:"missed_ticks"`
	Engine      engine.Snapshot `json:"engine"`

	// RecentAlerts counts deliveries still in the notifier's bounded history.
	RecentAlerts int       `json:"recent_alerts"`
	LastAlert    time.Time `json:"last_alert,omitzero"`

	Telegram   telegram.Stats            `json:"telegram"`
	Goroutines map[string]rtsup.Snapshot `json:"goroutines"`
}

func (a *App) status() any {
	now := time.Now()
	st := Status{
		StartedAt: a.startedAt,
		Uptime:    now.Sub(a.startedAt).Truncate(time.Second).String(),
		Watches:   a.mon.Count(),
		Config:    a.cfgm.Info(),
	}

	snap := a.sched.Snapshot()
	st.Timezone = snap.Timezone
	st.Engine = trimHistory(snap.Engine, statusHistory)
	for _, s := range snap.Schedules {
		if s.Name == pruneJob {
			st.NextPrune = s.Next
			continue
		}
		if strings.HasPrefix(s.Name, "watch:") {
			st.Checks++
			st.MissedTicks += s.Missed
		}
	}

	if sent := a.notif.Snapshot(); len(sent) > 0 {
		st.RecentAlerts = len(sent)
		st.LastAlert = sent[len(sent)-1].At
	}
	st.Telegram = a.adapter.Stats()
	st.Goroutines = map[string]rtsup.Snapshot{
		"app":        a.sup.Snapshot(),
		"adapter":    a.adapter.Supervisor().Snapshot(),
		"commands":   a.router.Supervisor().Snapshot(),
		"notifier":   a.notif.Supervisor().Snapshot(),
		"taskengine": a.engine.Supervisor().Snapshot(),
	}
	return st
}

func trimHistory(s engine.Snapshot, n int) engine.Snapshot {
	if len(s.History) > n {
		s.History = s.History[len(s.History)-n:]
	}
	return s
}
