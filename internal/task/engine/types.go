package engine

import (
	"context"
	"sync"
	"time"
)

// Config sizes the pool that runs checks. A task runs exactly once; a tick
// that fails waits for its next slot instead of being retried.
type Config struct {
	Enabled   bool
	Workers   int
	QueueSize int

	// DefaultTimeout applies when Task.Timeout is 0. Zero means no deadline.
	DefaultTimeout time.Duration
	// MaxQueueDelay drops tasks that sat in the queue longer than this.
	MaxQueueDelay time.Duration

	HistorySize int
}

// Outcome classifies how a task ended, or why it never ran.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimeout   Outcome = "timeout"
	OutcomePanic     Outcome = "panic"
	OutcomeStale     Outcome = "stale"
	OutcomeQueueFull Outcome = "queue_full"
	OutcomeOverlap   Outcome = "overlap"
)

// RunState is held while one logical job (a watch) is queued or running.
// Ad-hoc runners of the same job take it through TryAcquire.
type RunState struct {
	mu    sync.Mutex
	held  bool
	since time.Time
}

func (s *RunState) TryAcquire() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held {
		return false
	}
	s.held, s.since = true, time.Now()
	return true
}

func (s *RunState) Release() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.held, s.since = false, time.Time{}
	s.mu.Unlock()
}

// HeldSince returns when the current holder acquired the state.
func (s *RunState) HeldSince() (time.Time, bool) {
	if s == nil {
		return time.Time{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.since, s.held
}

// Task is one unit of work. A task carrying a State is refused while another
// holder of that state is queued or running.
type Task struct {
	ID      string
	Name    string
	Timeout time.Duration
	State   *RunState
	Run     func(ctx context.Context) error
}

// HistoryItem is one finished or dropped task, newest last.
type HistoryItem struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Outcome    Outcome       `json:"outcome"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay_ns"`
	Duration   time.Duration `json:"duration_ns,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// TaskEvent is the payload of task.* bus events.
type TaskEvent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Outcome    Outcome       `json:"outcome,omitempty"`
	At         time.Time     `json:"at"`
	QueueDelay time.Duration `json:"queue_delay,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Snapshot is the pool state served by the ops status endpoint.
type Snapshot struct {
	Enabled  bool `json:"enabled"`
	Workers  int  `json:"workers"`
	QueueLen int  `json:"queue_len"`
	QueueCap int  `json:"queue_cap"`
	InFlight int  `json:"in_flight"`

	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	TimedOut  uint64 `json:"timed_out"`
	Panicked  uint64 `json:"panicked"`

	DroppedQueueFull uint64 `json:"dropped_queue_full"`
	DroppedStale     uint64 `json:"dropped_stale"`
	// Skipped counts ticks refused because the same watch was still running.
	Skipped uint64 `json:"skipped"`

	DefaultTimeout time.Duration `json:"default_timeout_ns"`
	MaxQueueDelay  time.Duration `json:"max_queue_delay_ns"`

	History []HistoryItem `json:"history,omitempty"`
}
