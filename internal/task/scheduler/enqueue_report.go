package scheduler

import (
	"errors"
	"time"

	"sitewatch/internal/task/engine"
	logx "sitewatch/pkg/logx"
)

// missWarnEvery limits queue-full warnings to one per schedule per window.
const missWarnEvery = 5 * time.Second

// tickMissed records a fire that produced no run. A check still running
// when its next slot arrives is expected for slow sites and logs at debug.
func (s *Service) tickMissed(name string, err error) {
	s.mu.Lock()
	var missed uint64
	if d, ok := s.defs[name]; ok {
		d.missed++
		missed = d.missed
	}
	s.mu.Unlock()

	fields := []logx.Field{logx.String("schedule", name), logx.Uint64("missed", missed)}
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Debug("tick skipped, previous run in flight", fields...)
		return
	}

	now := time.Now()
	s.warnMu.Lock()
	if at, ok := s.warnedAt[name]; ok && now.Sub(at) < missWarnEvery {
		s.warnMu.Unlock()
		return
	}
	s.warnedAt[name] = now
	s.warnMu.Unlock()

	s.log.Warn("tick not enqueued", append(fields, logx.Err(err))...)
}

func (s *Service) forgetWarnings(name string) {
	s.warnMu.Lock()
	delete(s.warnedAt, name)
	s.warnMu.Unlock()
}
