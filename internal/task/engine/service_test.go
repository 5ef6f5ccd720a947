package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"sitewatch/internal/eventbus"
	logx "sitewatch/pkg/logx"
)

func startEngine(t *testing.T, cfg Config) *Service {
	t.Helper()
	cfg.Enabled = true
	s := New(cfg, logx.Nop(), nil)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSubmitRunsTask(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 2})

	done := make(chan struct{})
	err := s.Submit(context.Background(), Task{Name: "ok", Run: func(ctx context.Context) error {
		close(done)
		return nil
	}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
	waitFor(t, "completion", func() bool { return s.Snapshot().Completed == 1 })
	if h := s.Snapshot().History; len(h) != 1 || h[0].Outcome != OutcomeOK || h[0].ID == "" {
		t.Fatalf("history=%+v", h)
	}
}

func TestSharedStateGatesOverlap(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 2})

	release := make(chan struct{})
	started := make(chan struct{})
	st := &RunState{}
	task := Task{
		Name:  "watch:1:https://a.example",
		State: st,
		Run: func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		},
	}
	if err := s.Submit(context.Background(), task); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	<-started
	if err := s.Submit(context.Background(), task); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("second Submit err = %v, want ErrOverlapSkip", err)
	}
	if st.TryAcquire() {
		t.Fatal("external TryAcquire should fail while running")
	}
	if since, busy := st.HeldSince(); !busy || since.IsZero() {
		t.Fatalf("HeldSince = %v, %v", since, busy)
	}
	close(release)

	waitFor(t, "state release", func() bool { _, busy := st.HeldSince(); return !busy })
	if got := s.Snapshot().Skipped; got != 1 {
		t.Fatalf("skipped = %d, want 1", got)
	}
}

func TestOutcomesAreClassified(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1})
	ctx := context.Background()

	tasks := []Task{
		{Name: "boom", Run: func(context.Context) error { panic("bad") }},
		{Name: "slow", Timeout: 10 * time.Millisecond, Run: func(c context.Context) error {
			<-c.Done()
			return c.Err()
		}},
		{Name: "broken", Run: func(context.Context) error { return errors.New("store down") }},
		{Name: "fine", Run: func(context.Context) error { return nil }},
	}
	for _, tk := range tasks {
		if err := s.Submit(ctx, tk); err != nil {
			t.Fatalf("Submit %s: %v", tk.Name, err)
		}
	}
	// one worker runs them in order, so "fine" completing means all are done
	waitFor(t, "all outcomes", func() bool { return s.Snapshot().Completed == 1 })

	snap := s.Snapshot()
	if snap.Panicked != 1 || snap.TimedOut != 1 || snap.Failed != 1 || snap.Completed != 1 {
		t.Fatalf("counters=%+v", snap)
	}
	want := map[string]Outcome{"boom": OutcomePanic, "slow": OutcomeTimeout, "broken": OutcomeFailed, "fine": OutcomeOK}
	for _, h := range snap.History {
		if h.Outcome != want[h.Name] {
			t.Fatalf("%s outcome=%s, want %s", h.Name, h.Outcome, want[h.Name])
		}
	}
}

func TestStaleTaskIsDropped(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1, MaxQueueDelay: 20 * time.Millisecond})
	ctx := context.Background()

	release := make(chan struct{})
	if err := s.Submit(ctx, Task{Name: "blocker", Run: func(context.Context) error {
		<-release
		return nil
	}}); err != nil {
		t.Fatalf("Submit blocker: %v", err)
	}
	var ran atomic.Bool
	st := &RunState{}
	if err := s.Submit(ctx, Task{Name: "late", State: st, Run: func(context.Context) error {
		ran.Store(true)
		return nil
	}}); err != nil {
		t.Fatalf("Submit late: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)

	waitFor(t, "stale drop", func() bool { return s.Snapshot().DroppedStale == 1 })
	if ran.Load() {
		t.Fatal("stale task ran")
	}
	waitFor(t, "state release", func() bool { _, busy := st.HeldSince(); return !busy })
}

func TestEnqueueQueueFull(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	s := New(Config{Enabled: true, Workers: 1, QueueSize: 1}, logx.Nop(), bus)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	if err := s.Enqueue(Task{Name: "running", Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}); err != nil {
		t.Fatalf("Enqueue running: %v", err)
	}
	<-started
	noop := func(context.Context) error { return nil }
	if err := s.Enqueue(Task{Name: "queued", Run: noop}); err != nil {
		t.Fatalf("Enqueue queued: %v", err)
	}
	if err := s.Enqueue(Task{Name: "extra", Run: noop}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	if got := s.Snapshot().DroppedQueueFull; got != 1 {
		t.Fatalf("dropped_queue_full = %d", got)
	}

	for {
		select {
		case ev := <-events:
			if ev.Type != eventbus.TaskDropped {
				continue
			}
			if te := ev.Data.(TaskEvent); te.Outcome != OutcomeQueueFull || te.Name != "extra" {
				t.Fatalf("event=%+v", te)
			}
			return
		case <-time.After(2 * time.Second):
			t.Fatal("no task.dropped event")
		}
	}
}

func TestStopReleasesQueuedStates(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Workers: 1, QueueSize: 4}, logx.Nop(), nil)
	s.Start(context.Background())

	started := make(chan struct{})
	if err := s.Enqueue(Task{Name: "running", Run: func(c context.Context) error {
		close(started)
		<-c.Done()
		return nil
	}}); err != nil {
		t.Fatalf("Enqueue running: %v", err)
	}
	<-started
	st := &RunState{}
	if err := s.Enqueue(Task{Name: "queued", State: st, Run: func(context.Context) error { return nil }}); err != nil {
		t.Fatalf("Enqueue queued: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	if _, busy := st.HeldSince(); busy {
		t.Fatal("queued task still holds its state after Stop")
	}
	if err := s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrStopped) {
		t.Fatalf("after stop err = %v, want ErrStopped", err)
	}
}

func TestEnqueueWhenStopped(t *testing.T) {
	t.Parallel()
	noop := func(context.Context) error { return nil }
	s := New(Config{Enabled: true}, logx.Nop(), nil)
	if err := s.Enqueue(Task{Name: "x", Run: noop}); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
	d := New(Config{}, logx.Nop(), nil)
	if err := d.Enqueue(Task{Name: "x", Run: noop}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
	if err := s.Enqueue(Task{Name: " ", Run: noop}); err == nil {
		t.Fatal("blank name accepted")
	}
}
