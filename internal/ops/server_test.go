package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"sitewatch/internal/domain"
	logx "sitewatch/pkg/logx"
)

type fakeSource struct {
	watches []domain.WatchEntry
	history []domain.CheckResult
	err     error
}

func (f fakeSource) Watches(owner domain.OwnerID) []domain.WatchEntry {
	var out []domain.WatchEntry
	for _, w := range f.watches {
		if w.OwnerID == owner {
			out = append(out, w)
		}
	}
	return out
}

func (f fakeSource) GetHistory(_ context.Context, owner domain.OwnerID, url string) ([]domain.CheckResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.CheckResult
	for _, r := range f.history {
		if r.OwnerID == owner && r.URL == url {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestRoutes(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	src := fakeSource{
		watches: []domain.WatchEntry{{OwnerID: 7, URL: "https://a.example", AddedAt: now}},
		history: []domain.CheckResult{{ID: "r1", OwnerID: 7, URL: "https://a.example", Timestamp: now, Outcome: domain.OutcomeUp}},
	}
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("m 1")) })
	s := New(Config{}, src, metrics, logx.Nop())
	h := s.Handler(Config{Token: "secret"})

	cases := []struct {
		name   string
		path   string
		auth   string
		status int
	}{
		{"healthz is open", "/healthz", "", http.StatusOK},
		{"metrics needs token", "/metrics", "", http.StatusUnauthorized},
		{"metrics bearer", "/metrics", "Bearer secret", http.StatusOK},
		{"query token", "/api/watches?owner=7&token=secret", "", http.StatusOK},
		{"wrong query token", "/api/watches?owner=7&token=nope", "Bearer secret", http.StatusUnauthorized},
		{"bad owner", "/api/watches?owner=x", "Bearer secret", http.StatusBadRequest},
		{"history needs url", "/api/history?owner=7", "Bearer secret", http.StatusBadRequest},
		{"pprof disabled", "/debug/pprof/", "Bearer secret", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.auth != "" {
				req.Header.Set("Authorization", tc.auth)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.status {
				t.Fatalf("status=%d, want %d", rec.Code, tc.status)
			}
		})
	}
}

func TestHistoryJSON(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	src := fakeSource{history: []domain.CheckResult{
		{ID: "r1", OwnerID: 7, URL: "https://a.example", Timestamp: now, Outcome: domain.OutcomeUp},
		{ID: "r2", OwnerID: 8, URL: "https://a.example", Timestamp: now, Outcome: domain.OutcomeDown},
	}}
	h := New(Config{}, src, nil, logx.Nop()).Handler(Config{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history?owner=7&url=https://a.example", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var got []domain.CheckResult
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].ID != "r1" {
		t.Fatalf("history=%+v", got)
	}

	failing := New(Config{}, fakeSource{err: errors.New("db down")}, nil, logx.Nop()).Handler(Config{})
	rec = httptest.NewRecorder()
	failing.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history?owner=7&url=x", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want 500", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()
	s := New(Config{}, fakeSource{}, nil, logx.Nop())
	h := s.Handler(Config{Token: "secret"})

	get := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
		req.Header.Set("Authorization", "Bearer secret")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}
	if rec := get(); rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d before SetStatus, want 404", rec.Code)
	}

	s.SetStatus(func() any { return map[string]int{"watches": 3} })
	rec := get()
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var got map[string]int
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["watches"] != 3 {
		t.Fatalf("body=%v", got)
	}
}

func TestPprofEnabled(t *testing.T) {
	t.Parallel()
	h := New(Config{}, fakeSource{}, nil, logx.Nop()).Handler(Config{Pprof: true})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestStartRefusesExposedWithoutToken(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, fakeSource{}, nil, logx.Nop())
	if err := s.Start(context.Background()); err == nil {
		s.Stop(context.Background())
		t.Fatalf("expected refusal")
	}
	if s.Addr() != "" {
		t.Fatalf("listener bound")
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, fakeSource{}, nil, logx.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	addr := s.Addr()
	if addr == "" {
		t.Fatalf("no addr")
	}
	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	s.Stop(ctx)
	if s.Addr() != "" {
		t.Fatalf("still bound after stop")
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	cases := map[string]bool{
		"127.0.0.1:9090": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		"0.0.0.0:9090":   false,
		":9090":          false,
		"bad":            false,
	}
	for in, want := range cases {
		if got := isLoopbackAddr(in); got != want {
			t.Fatalf("%q: got %v, want %v", in, got, want)
		}
	}
}
