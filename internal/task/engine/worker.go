package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"sitewatch/internal/eventbus"
	logx "sitewatch/pkg/logx"
)

func (s *Service) work(ctx context.Context, queue <-chan queuedTask) {
	for {
		// cancellation wins over queued work
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case qt := <-queue:
			s.inFlight.Add(1)
			s.exec(ctx, qt)
			s.inFlight.Add(-1)
		}
	}
}

func (s *Service) exec(ctx context.Context, qt queuedTask) {
	defer qt.release()

	start := time.Now()
	delay := max(start.Sub(qt.queuedAt), 0)
	s.mu.Lock()
	maxDelay := s.cfg.MaxQueueDelay
	s.mu.Unlock()
	if maxDelay > 0 && delay > maxDelay {
		s.dropped(OutcomeStale, qt.Task, start, delay)
		return
	}

	s.publish(eventbus.TaskStarted, TaskEvent{ID: qt.ID, Name: qt.Name, At: start, QueueDelay: delay})
	err := s.runGuarded(ctx, qt)
	dur := time.Since(start)

	out := classify(err)
	item := HistoryItem{ID: qt.ID, Name: qt.Name, Outcome: out, Started: start, QueueDelay: delay, Duration: dur}
	ev := TaskEvent{ID: qt.ID, Name: qt.Name, Outcome: out, At: start, QueueDelay: delay, Duration: dur}
	if err != nil {
		item.Error, ev.Error = err.Error(), err.Error()
	}
	s.record(item)

	switch out {
	case OutcomeOK:
		s.completed.Add(1)
		s.log.Debug("task.completed", logx.String("task", qt.Name), logx.Duration("queue_delay", delay), logx.Duration("dur", dur))
		s.publish(eventbus.TaskFinished, ev)
		return
	case OutcomeTimeout:
		s.timedOut.Add(1)
	case OutcomePanic:
		s.panicked.Add(1)
	default:
		s.failed.Add(1)
	}
	s.log.Warn("task.failed", logx.String("task", qt.Name), logx.String("outcome", string(out)), logx.Duration("dur", dur), logx.Err(err))
	s.publish(eventbus.TaskFailed, ev)
}

// runGuarded runs the task under its deadline. A panic becomes an ErrPanic
// error so one bad check cannot take the worker down.
func (s *Service) runGuarded(ctx context.Context, qt queuedTask) (err error) {
	if qt.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, qt.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
			s.log.Error("task.panic", logx.String("task", qt.Name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	return qt.Run(ctx)
}

func classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrPanic):
		return OutcomePanic
	case errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	default:
		return OutcomeFailed
	}
}
