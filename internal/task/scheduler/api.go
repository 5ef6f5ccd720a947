package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"sitewatch/internal/task/engine"
	logx "sitewatch/pkg/logx"
)

// AddSchedule registers job under any form ParseSchedule accepts.
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	t, err := ParseSchedule(schedule)
	if err != nil {
		return "", err
	}
	if t.Cron != "" {
		return s.AddCron(name, t.Cron, timeout, job)
	}
	return s.AddInterval(name, t.Every, timeout, job)
}

func (s *Service) AddCron(name, spec string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return "", fmt.Errorf("parse cron %q: %w", spec, err)
	}
	return s.add(&scheduleDef{name: name, spec: spec, sched: sched, timeout: timeout, job: job})
}

// AddInterval fires every interval, measured from registration.
func (s *Service) AddInterval(name string, every, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	if every <= 0 {
		return "", errors.New("interval must be > 0")
	}
	sched := anchoredSchedule{anchor: time.Now(), every: every}
	return s.add(&scheduleDef{name: name, spec: "@every " + every.String(), sched: sched, timeout: timeout, job: job})
}

// AddAnchored fires at anchor+k*every (k >= 1). state gates overlap for the
// job; pass the same RunState to any ad-hoc runner of the same work so the
// two never overlap.
func (s *Service) AddAnchored(name string, anchor time.Time, every, timeout time.Duration, state *engine.RunState, job func(ctx context.Context) error) (string, error) {
	if every <= 0 {
		return "", errors.New("interval must be > 0")
	}
	if anchor.IsZero() {
		return "", errors.New("anchor required")
	}
	spec := fmt.Sprintf("anchored %s every %s", anchor.UTC().Format(time.RFC3339), every)
	return s.add(&scheduleDef{
		name:    name,
		spec:    spec,
		sched:   anchoredSchedule{anchor: anchor, every: every},
		timeout: timeout,
		job:     job,
		state:   state,
	})
}

// add upserts by name so repeated registrations never duplicate a timer.
func (s *Service) add(d *scheduleDef) (string, error) {
	d.name = strings.TrimSpace(d.name)
	if d.name == "" {
		return "", errors.New("name required")
	}
	if d.job == nil {
		return "", errors.New("job required")
	}
	// every job is exclusive: a tick never queues behind its own previous run
	if d.state == nil {
		d.state = &engine.RunState{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(d.name)
	s.defs[d.name] = d
	if s.c != nil {
		s.armLocked(d)
		s.log.Debug("schedule registered",
			logx.String("name", d.name),
			logx.String("spec", d.spec),
			logx.Time("next", d.sched.Next(time.Now().In(s.loc))),
		)
	}
	return d.name, nil
}

func (s *Service) armLocked(d *scheduleDef) {
	name := d.name
	job := cron.FuncJob(func() {
		if s.engine == nil {
			return
		}
		err := s.engine.Enqueue(engine.Task{
			Name:    name,
			Timeout: d.timeout,
			State:   d.state,
			Run:     d.job,
		})
		if err != nil {
			s.tickMissed(name, err)
		}
	})
	d.entryID = s.c.Schedule(d.sched, job)
}

// Remove stops the named schedule. It reports whether one existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	removed := s.removeLocked(strings.TrimSpace(name))
	s.mu.Unlock()
	if removed {
		s.forgetWarnings(name)
	}
	return removed
}

func (s *Service) removeLocked(name string) bool {
	d, ok := s.defs[name]
	if !ok {
		return false
	}
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	delete(s.defs, name)
	return true
}

// Next returns the next fire time of the named schedule, computed from now.
func (s *Service) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.defs[name]
	if !ok {
		return time.Time{}, false
	}
	return d.sched.Next(time.Now()), true
}
