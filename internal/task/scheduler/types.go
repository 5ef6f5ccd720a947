package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"sitewatch/internal/task/engine"
	logx "sitewatch/pkg/logx"
)

type Config struct {
	Enabled bool
	// Timezone is an IANA name for cron specs; empty means the host zone.
	Timezone string
}

type scheduleDef struct {
	name    string
	spec    string // cron expr, "@every 1h" or "anchored <t> every <d>"
	sched   cron.Schedule
	timeout time.Duration
	job     func(ctx context.Context) error
	state   *engine.RunState
	entryID cron.EntryID
	missed  uint64
}

type Service struct {
	mu     sync.Mutex
	cfg    Config
	loc    *time.Location
	c      *cron.Cron
	defs   map[string]*scheduleDef
	parser cron.Parser

	log    logx.Logger
	engine *engine.Service

	warnMu   sync.Mutex
	warnedAt map[string]time.Time
}

// ScheduleInfo describes one registered job. Watches report their anchor
// in Spec; Prev is zero until the first tick fired.
type ScheduleInfo struct {
	Name    string        `json:"name"`
	Spec    string        `json:"spec"`
	Timeout time.Duration `json:"timeout_ns"`
	Next    time.Time     `json:"next"`
	Prev    time.Time     `json:"prev,omitzero"`
	// Missed counts fires that were skipped or dropped instead of run.
	Missed uint64 `json:"missed,omitempty"`
}

type Snapshot struct {
	Enabled   bool            `json:"enabled"`
	Timezone  string          `json:"timezone,omitempty"`
	Engine    engine.Snapshot `json:"engine"`
	Schedules []ScheduleInfo  `json:"schedules"`
}
