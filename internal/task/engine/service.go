package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"sitewatch/internal/eventbus"
	rtsup "sitewatch/internal/runtime/supervisor"
	logx "sitewatch/pkg/logx"
)

const dropWarnEvery = 5 * time.Second

// Service runs tasks on a fixed pool of workers fed by a bounded queue.
// Every run gets its own deadline and panic guard.
type Service struct {
	mu       sync.Mutex
	cfg      Config
	queue    chan queuedTask
	sup      *rtsup.Supervisor
	stopping bool

	log logx.Logger
	bus eventbus.Bus

	hmu     sync.Mutex
	history []HistoryItem

	seq      atomic.Uint64
	inFlight atomic.Int32

	completed, failed, timedOut, panicked atomic.Uint64
	queueFull, stale, skipped             atomic.Uint64

	queueFullWarn, staleWarn atomic.Int64
}

type queuedTask struct {
	Task
	queuedAt time.Time
	timeout  time.Duration
}

func (qt queuedTask) release() {
	if qt.State != nil {
		qt.State.Release()
	}
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	cfg.Workers = positiveOr(cfg.Workers, 4)
	cfg.QueueSize = positiveOr(cfg.QueueSize, 256)
	cfg.HistorySize = positiveOr(cfg.HistorySize, 200)
	if bus == nil {
		bus = eventbus.Nop{}
	}
	return &Service{cfg: cfg, log: log.With(logx.Component("taskengine")), bus: bus}
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// Supervisor returns the worker supervisor, nil while stopped.
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Start launches the workers. Calling it on a running engine is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.queue != nil {
		return
	}
	queue := make(chan queuedTask, s.cfg.QueueSize)
	sup := rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	for i := range s.cfg.Workers {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.work(c, queue)
			return c.Err()
		}, rtsup.WithStopOnCleanExit(false), rtsup.WithPublishFirstError(true))
	}
	s.queue, s.sup = queue, sup
	s.log.Info("task engine started", logx.Int("workers", s.cfg.Workers), logx.Int("queue", s.cfg.QueueSize))
}

// Stop cancels the workers and waits for running tasks up to ctx. Tasks still
// queued are discarded and their run states released, so a later Start can
// schedule the same watches again.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.queue == nil || s.stopping {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	queue, sup := s.queue, s.sup
	s.mu.Unlock()

	sup.Cancel()
	err := sup.Wait(ctx)

	discarded := 0
	for drained := false; !drained; {
		select {
		case qt := <-queue:
			qt.release()
			discarded++
		default:
			drained = true
		}
	}

	s.mu.Lock()
	s.queue, s.sup, s.stopping = nil, nil, false
	s.mu.Unlock()

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.log.Warn("task engine stop timed out", logx.Int("in_flight", int(s.inFlight.Load())), logx.Err(err))
		return
	}
	s.log.Info("task engine stopped", logx.Int("discarded", discarded))
}

// Enqueue adds a task without blocking. A full queue drops it with ErrQueueFull.
func (s *Service) Enqueue(t Task) error {
	return s.enqueue(context.Background(), t, false)
}

// Submit waits for queue space until ctx is done.
func (s *Service) Submit(ctx context.Context, t Task) error {
	return s.enqueue(ctx, t, true)
}

func (s *Service) enqueue(ctx context.Context, t Task, wait bool) error {
	if t.Run == nil {
		return errors.New("task Run is nil")
	}
	if t.Name = strings.TrimSpace(t.Name); t.Name == "" {
		return errors.New("task Name is required")
	}
	now := time.Now()
	if t.ID == "" {
		t.ID = fmt.Sprintf("tsk-%x-%x", now.UnixNano(), s.seq.Add(1))
	}

	s.mu.Lock()
	cfg, queue, stopping := s.cfg, s.queue, s.stopping
	s.mu.Unlock()
	switch {
	case !cfg.Enabled:
		return ErrDisabled
	case queue == nil:
		return ErrStopped
	case stopping:
		return ErrStopping
	}

	if !t.State.TryAcquire() {
		s.skipped.Add(1)
		since, _ := t.State.HeldSince()
		s.publish(eventbus.TaskSkipped, TaskEvent{ID: t.ID, Name: t.Name, Outcome: OutcomeOverlap, At: now})
		s.log.Debug("task skipped; previous run in flight",
			logx.String("task", t.Name), logx.Duration("busy_for", now.Sub(since)))
		return ErrOverlapSkip
	}

	qt := queuedTask{Task: t, queuedAt: now, timeout: t.Timeout}
	if qt.timeout <= 0 {
		qt.timeout = cfg.DefaultTimeout
	}

	if !wait {
		select {
		case queue <- qt:
			return nil
		default:
			qt.release()
			s.dropped(OutcomeQueueFull, t, now, 0)
			return ErrQueueFull
		}
	}
	select {
	case queue <- qt:
		return nil
	case <-ctx.Done():
		qt.release()
		return ctx.Err()
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg, queue := s.cfg, s.queue
	s.mu.Unlock()

	s.hmu.Lock()
	h := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()

	snap := Snapshot{
		Enabled:          cfg.Enabled,
		Workers:          cfg.Workers,
		InFlight:         int(s.inFlight.Load()),
		Completed:        s.completed.Load(),
		Failed:           s.failed.Load(),
		TimedOut:         s.timedOut.Load(),
		Panicked:         s.panicked.Load(),
		DroppedQueueFull: s.queueFull.Load(),
		DroppedStale:     s.stale.Load(),
		Skipped:          s.skipped.Load(),
		DefaultTimeout:   cfg.DefaultTimeout,
		MaxQueueDelay:    cfg.MaxQueueDelay,
		History:          h,
	}
	if queue != nil {
		snap.QueueLen, snap.QueueCap = len(queue), cap(queue)
	}
	return snap
}

func (s *Service) record(item HistoryItem) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, item)
	if over := len(s.history) - s.cfg.HistorySize; over > 0 {
		s.history = s.history[over:]
	}
}

func (s *Service) publish(typ string, ev TaskEvent) {
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}

// dropped accounts for a task that never ran. Warnings are throttled per
// reason; the counters are exact.
func (s *Service) dropped(why Outcome, t Task, now time.Time, delay time.Duration) {
	counter, last := &s.queueFull, &s.queueFullWarn
	if why == OutcomeStale {
		counter, last = &s.stale, &s.staleWarn
		s.record(HistoryItem{ID: t.ID, Name: t.Name, Outcome: why, Started: now, QueueDelay: delay})
	}
	n := counter.Add(1)
	s.publish(eventbus.TaskDropped, TaskEvent{ID: t.ID, Name: t.Name, Outcome: why, At: now, QueueDelay: delay})

	prev := last.Load()
	if prev != 0 && now.UnixNano()-prev < int64(dropWarnEvery) {
		return
	}
	if last.CompareAndSwap(prev, now.UnixNano()) {
		s.log.Warn("task dropped",
			logx.String("task", t.Name),
			logx.String("reason", string(why)),
			logx.Duration("queue_delay", delay),
			logx.Uint64("total", n),
		)
	}
}
