package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"sitewatch/internal/task/engine"
	logx "sitewatch/pkg/logx"
)

// cronParser takes 5-field specs, 6-field specs with seconds, and
// descriptors such as "@daily".
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New builds a stopped scheduler. A nil engine makes every fire a no-op.
func New(cfg Config, eng *engine.Service, log logx.Logger) *Service {
	return &Service{
		cfg:      cfg,
		parser:   cronParser,
		defs:     map[string]*scheduleDef{},
		log:      log.With(logx.Component("scheduler")),
		engine:   eng,
		warnedAt: map[string]time.Time{},
	}
}

// Start arms every registered schedule. It is a no-op when running or
// disabled.
func (s *Service) Start(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil || !s.cfg.Enabled {
		return
	}
	s.loc = resolveZone(s.cfg.Timezone, s.log)
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, d := range s.defs {
		s.armLocked(d)
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop disarms all schedules but keeps them, so Start can re-arm. Runs
// already handed to the engine are not waited for.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	for _, d := range s.defs {
		d.entryID = 0
	}
	s.mu.Unlock()
	if c == nil {
		return
	}

	start := time.Now()
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

func resolveZone(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("unknown timezone, using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
