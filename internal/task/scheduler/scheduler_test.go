package scheduler

import (
	"context"
	"testing"
	"time"

	"sitewatch/internal/task/engine"
	logx "sitewatch/pkg/logx"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw   string
		cron  string
		every time.Duration
	}{
		{raw: "@daily", cron: "@daily"},
		{raw: " 0 3 * * * ", cron: "0 3 * * *"},
		{raw: "03:30", cron: "30 3 * * *"},
		{raw: "0:05", cron: "5 0 * * *"},
		{raw: "6h", every: 6 * time.Hour},
		{raw: "90m", every: 90 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q): %v", tt.raw, err)
			}
			if got.Cron != tt.cron || got.Every != tt.every {
				t.Fatalf("got %+v, want cron=%q every=%v", got, tt.cron, tt.every)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "soon", "24:00", "01:75", "1:5", "-5m", "0s"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Errorf("ParseSchedule(%q): expected error", raw)
		}
	}
}

func TestAnchoredNext(t *testing.T) {
	t.Parallel()
	anchor := time.Date(2024, 1, 1, 10, 17, 0, 0, time.UTC)
	every := time.Hour
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before anchor", anchor.Add(-time.Minute), anchor.Add(time.Hour)},
		{"at anchor", anchor, anchor.Add(time.Hour)},
		{"inside first slot", anchor.Add(30 * time.Minute), anchor.Add(time.Hour)},
		{"exactly on slot", anchor.Add(2 * time.Hour), anchor.Add(3 * time.Hour)},
		{"missed slots while down", anchor.Add(5*time.Hour + time.Second), anchor.Add(6 * time.Hour)},
	}
	for _, tt := range tests {
		if got := NextAnchored(anchor, every, tt.now); !got.Equal(tt.want) {
			t.Errorf("%s: Next = %v, want %v", tt.name, got, tt.want)
		}
	}
	if got := NextAnchored(anchor, 0, anchor); !got.IsZero() {
		t.Fatalf("zero interval should never fire, got %v", got)
	}
}

func TestAnchoredEntriesKeepDistinctPhase(t *testing.T) {
	t.Parallel()
	a := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	b := a.Add(20 * time.Minute)
	now := a.Add(3 * time.Hour)
	na, nb := NextAnchored(a, time.Hour, now), NextAnchored(b, time.Hour, now)
	if nb.Sub(na) != 20*time.Minute {
		t.Fatalf("phases collapsed: %v vs %v", na, nb)
	}
}

func newTestScheduler(t *testing.T) (*Service, *engine.Service) {
	t.Helper()
	eng := engine.New(engine.Config{Enabled: true, Workers: 2}, logx.Nop(), nil)
	eng.Start(context.Background())
	s := New(Config{Enabled: true}, eng, logx.Nop())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
		eng.Stop(ctx)
	})
	return s, eng
}

func TestAddAnchoredUpsertAndRemove(t *testing.T) {
	t.Parallel()
	s, _ := newTestScheduler(t)
	job := func(context.Context) error { return nil }
	anchor := time.Now().Add(-90 * time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := s.AddAnchored("watch:1:https://example.com", anchor, time.Hour, time.Second, nil, job); err != nil {
			t.Fatalf("AddAnchored: %v", err)
		}
	}
	snap := s.Snapshot()
	if len(snap.Schedules) != 1 {
		t.Fatalf("schedules = %d, want 1 after upsert", len(snap.Schedules))
	}
	next, ok := s.Next("watch:1:https://example.com")
	if !ok || !next.Equal(anchor.Add(2*time.Hour)) {
		t.Fatalf("Next = %v (ok=%v), want %v", next, ok, anchor.Add(2*time.Hour))
	}

	if !s.Remove("watch:1:https://example.com") {
		t.Fatal("Remove should report true")
	}
	if s.Remove("watch:1:https://example.com") {
		t.Fatal("second Remove should report false")
	}
	if _, ok := s.Next("watch:1:https://example.com"); ok {
		t.Fatal("schedule still present")
	}
}

func TestIntervalJobFires(t *testing.T) {
	t.Parallel()
	s, _ := newTestScheduler(t)
	fired := make(chan struct{}, 4)
	if _, err := s.AddSchedule("prune", "1s", time.Second, func(context.Context) error {
		fired <- struct{}{}
		return nil
	}); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	select {
	case <-fired:
	case <-time.After(4 * time.Second):
		t.Fatal("interval job did not fire")
	}
}

func TestAddRejectsBadInput(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, logx.Nop())
	job := func(context.Context) error { return nil }
	if _, err := s.AddAnchored("", time.Now(), time.Hour, 0, nil, job); err == nil {
		t.Fatal("empty name should fail")
	}
	if _, err := s.AddAnchored("x", time.Time{}, time.Hour, 0, nil, job); err == nil {
		t.Fatal("zero anchor should fail")
	}
	if _, err := s.AddCron("x", "not a cron", 0, job); err == nil {
		t.Fatal("bad cron should fail")
	}
}

func TestTickMissedCounts(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, logx.Nop())
	if _, err := s.AddCron("watch:1:https://a.example", "@hourly", time.Second, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("AddCron: %v", err)
	}
	s.tickMissed("watch:1:https://a.example", engine.ErrOverlapSkip)
	s.tickMissed("watch:1:https://a.example", engine.ErrQueueFull)
	s.tickMissed("gone", engine.ErrQueueFull)

	snap := s.Snapshot()
	if len(snap.Schedules) != 1 || snap.Schedules[0].Missed != 2 {
		t.Fatalf("schedules=%+v", snap.Schedules)
	}
}
