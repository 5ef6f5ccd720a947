package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sitewatch/internal/domain"
	logx "sitewatch/pkg/logx"
)

type opener func(t *testing.T) Store

func backends(t *testing.T) map[string]opener {
	t.Helper()
	ctx := context.Background()
	m := map[string]opener{
		"memory": func(t *testing.T) Store { return NewMemory() },
		"file": func(t *testing.T) Store {
			st, err := Open(ctx, Config{Driver: "file", Dir: t.TempDir()}, logx.Nop())
			if err != nil {
				t.Fatalf("open file: %v", err)
			}
			return st
		},
		"sqlite": func(t *testing.T) Store {
			st, err := Open(ctx, Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "h.db")}, logx.Nop())
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			return st
		},
	}
	if dsn := os.Getenv("SITEWATCH_TEST_PG_DSN"); dsn != "" {
		m["postgres"] = func(t *testing.T) Store {
			st, err := Open(ctx, Config{Driver: "postgres", DSN: dsn}, logx.Nop())
			if err != nil {
				t.Fatalf("open postgres: %v", err)
			}
			// Shared database: start from a clean slate for the owners used below.
			for _, o := range []domain.OwnerID{1, 2} {
				_ = st.ClearOwner(ctx, o)
				ws, _ := st.ListOwnerWatches(ctx, o)
				for _, w := range ws {
					_, _ = st.DeleteWatch(ctx, w.OwnerID, w.URL)
				}
			}
			return st
		}
	}
	return m
}

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func result(id string, owner domain.OwnerID, url string, at time.Duration, o domain.Outcome) domain.CheckResult {
	return domain.CheckResult{
		ID:        id,
		OwnerID:   owner,
		URL:       url,
		Timestamp: base.Add(at),
		Outcome:   o,
	}
}

func TestHistoryStore(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open(t)
			defer st.Close()

			const u = "https://example.com"
			full := domain.CheckResult{
				ID: "r1", OwnerID: 1, URL: u, Timestamp: base,
				Outcome: domain.OutcomeUp, HTTPStatus: 200, CertIssuer: "Acme CA",
				Duration: 150 * time.Millisecond,
			}
			if err := st.Append(ctx, full); err != nil {
				t.Fatalf("append: %v", err)
			}
			// Out-of-order insert must still list chronologically.
			if err := st.Append(ctx, result("r3", 1, u, 2*time.Hour, domain.OutcomeTimeout)); err != nil {
				t.Fatalf("append: %v", err)
			}
			down := result("r2", 1, u, time.Hour, domain.OutcomeNetworkError)
			down.ErrorKind = domain.ErrKindDNS
			down.CertError = domain.CertErrHandshake
			if err := st.Append(ctx, down); err != nil {
				t.Fatalf("append: %v", err)
			}
			if err := st.Append(ctx, result("o1", 2, u, 0, domain.OutcomeUp)); err != nil {
				t.Fatalf("append: %v", err)
			}

			got, err := st.List(ctx, 1, u)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(got) != 3 {
				t.Fatalf("len=%d, want 3", len(got))
			}
			for i, id := range []string{"r1", "r2", "r3"} {
				if got[i].ID != id {
					t.Fatalf("order[%d]=%s, want %s", i, got[i].ID, id)
				}
			}
			if g := got[0]; g.HTTPStatus != 200 || g.CertIssuer != "Acme CA" || g.Duration != 150*time.Millisecond || !g.Timestamp.Equal(base) {
				t.Fatalf("round trip lost fields: %+v", g)
			}
			if g := got[1]; g.ErrorKind != domain.ErrKindDNS || g.CertError != domain.CertErrHandshake || g.HTTPStatus != 0 || g.CertIssuer != "" {
				t.Fatalf("absent fields not preserved: %+v", g)
			}

			empty, err := st.List(ctx, 1, "https://unknown.example")
			if err != nil || empty == nil || len(empty) != 0 {
				t.Fatalf("unknown key: %v %v", empty, err)
			}

			if err := st.Clear(ctx, 1, u); err != nil {
				t.Fatalf("clear: %v", err)
			}
			if err := st.Clear(ctx, 1, u); err != nil {
				t.Fatalf("clear twice: %v", err)
			}
			if got, _ := st.List(ctx, 1, u); len(got) != 0 {
				t.Fatalf("after clear: %d rows", len(got))
			}
			if got, _ := st.List(ctx, 2, u); len(got) != 1 {
				t.Fatalf("other owner touched: %d rows", len(got))
			}
		})
	}
}

func TestClearOwnerAndPrune(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open(t)
			defer st.Close()

			for i, u := range []string{"https://a.example", "https://b.example"} {
				_ = st.Append(ctx, result(name+"old"+u, 1, u, time.Duration(i)*time.Minute, domain.OutcomeUp))
				_ = st.Append(ctx, result(name+"new"+u, 1, u, 48*time.Hour, domain.OutcomeUp))
			}
			_ = st.Append(ctx, result(name+"keep", 2, "https://a.example", 0, domain.OutcomeDown))

			n, err := st.Prune(ctx, base.Add(24*time.Hour))
			if err != nil {
				t.Fatalf("prune: %v", err)
			}
			if n != 3 {
				t.Fatalf("pruned=%d, want 3", n)
			}
			if got, _ := st.List(ctx, 1, "https://a.example"); len(got) != 1 {
				t.Fatalf("after prune: %d rows", len(got))
			}

			if err := st.ClearOwner(ctx, 1); err != nil {
				t.Fatalf("clear owner: %v", err)
			}
			for _, u := range []string{"https://a.example", "https://b.example"} {
				if got, _ := st.List(ctx, 1, u); len(got) != 0 {
					t.Fatalf("%s still has %d rows", u, len(got))
				}
			}
		})
	}
}

func TestWatchStore(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open(t)
			defer st.Close()

			a := domain.WatchEntry{OwnerID: 1, URL: "https://a.example", AddedAt: base}
			b := domain.WatchEntry{OwnerID: 1, URL: "https://b.example", AddedAt: base.Add(time.Minute)}
			c := domain.WatchEntry{OwnerID: 2, URL: "https://a.example", AddedAt: base}
			for _, w := range []domain.WatchEntry{b, a, c} {
				if err := st.PutWatch(ctx, w); err != nil {
					t.Fatalf("put: %v", err)
				}
			}
			if err := st.UpdateLastState(ctx, 1, a.URL, domain.OutcomeDown); err != nil {
				t.Fatalf("last state: %v", err)
			}
			// Unknown keys are ignored.
			if err := st.UpdateLastState(ctx, 9, a.URL, domain.OutcomeDown); err != nil {
				t.Fatalf("last state unknown: %v", err)
			}

			ws, err := st.ListOwnerWatches(ctx, 1)
			if err != nil {
				t.Fatalf("list owner: %v", err)
			}
			if len(ws) != 2 || ws[0].URL != a.URL || ws[1].URL != b.URL {
				t.Fatalf("owner watches: %+v", ws)
			}
			if ws[0].LastState != domain.OutcomeDown || ws[1].LastState != "" {
				t.Fatalf("last state: %+v", ws)
			}
			if !ws[0].AddedAt.Equal(base) {
				t.Fatalf("added_at=%v", ws[0].AddedAt)
			}

			ok, err := st.DeleteWatch(ctx, 1, a.URL)
			if err != nil || !ok {
				t.Fatalf("delete: %v %v", ok, err)
			}
			ok, err = st.DeleteWatch(ctx, 1, a.URL)
			if err != nil || ok {
				t.Fatalf("delete twice: %v %v", ok, err)
			}
			all, err := st.ListWatches(ctx)
			if err != nil {
				t.Fatalf("list all: %v", err)
			}
			if len(all) != 2 {
				t.Fatalf("all watches: %+v", all)
			}
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	st, err := Open(ctx, Config{Driver: "file", Dir: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = st.PutWatch(ctx, domain.WatchEntry{OwnerID: 1, URL: "https://a.example", AddedAt: base})
	_ = st.Append(ctx, result("x1", 1, "https://a.example", 0, domain.OutcomeUp))
	_ = st.Append(ctx, result("x2", 1, "https://a.example", time.Hour, domain.OutcomeDown))
	_ = st.UpdateLastState(ctx, 1, "https://a.example", domain.OutcomeDown)

	// Simulate a crash: leave the journal uncompacted and add a torn line.
	fs := st.(*fileStore)
	if _, err := fs.journal.WriteString(`{"op":"append","res`); err != nil {
		t.Fatalf("write torn line: %v", err)
	}
	_ = fs.journal.Close()

	st2, err := Open(ctx, Config{Driver: "file", Dir: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, _ := st2.List(ctx, 1, "https://a.example")
	if len(got) != 2 || got[1].Outcome != domain.OutcomeDown {
		t.Fatalf("replayed history: %+v", got)
	}
	ws, _ := st2.ListWatches(ctx)
	if len(ws) != 1 || ws[0].LastState != domain.OutcomeDown {
		t.Fatalf("replayed watches: %+v", ws)
	}

	if err := st2.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	st3, err := Open(ctx, Config{Driver: "file", Dir: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen after compaction: %v", err)
	}
	defer st3.Close()
	if got, _ := st3.List(ctx, 1, "https://a.example"); len(got) != 2 {
		t.Fatalf("snapshot history: %d rows", len(got))
	}
}

func TestFileStoreSkipsCompactedOps(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	st, err := Open(ctx, Config{Driver: "file", Dir: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = st.PutWatch(ctx, domain.WatchEntry{OwnerID: 1, URL: "https://a.example", AddedAt: base})
	_ = st.Append(ctx, result("c1", 1, "https://a.example", 0, domain.OutcomeUp))
	_ = st.Append(ctx, result("c2", 1, "https://a.example", time.Hour, domain.OutcomeDown))

	journal := filepath.Join(dir, journalName)
	pending, err := os.ReadFile(journal)
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Crash between snapshot rename and journal truncate: the ops survive in
	// both files.
	if err := os.WriteFile(journal, pending, 0o600); err != nil {
		t.Fatalf("restore journal: %v", err)
	}

	st2, err := Open(ctx, Config{Driver: "file", Dir: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got, _ := st2.List(ctx, 1, "https://a.example"); len(got) != 2 {
		t.Fatalf("history after replay: %d rows, want 2", len(got))
	}

	// New ops after the snapshot still replay.
	_ = st2.Append(ctx, result("c3", 1, "https://a.example", 2*time.Hour, domain.OutcomeUp))
	_ = st2.(*fileStore).journal.Close()
	st3, err := Open(ctx, Config{Driver: "file", Dir: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen again: %v", err)
	}
	defer st3.Close()
	if got, _ := st3.List(ctx, 1, "https://a.example"); len(got) != 3 || got[2].ID != "c3" {
		t.Fatalf("history after second replay: %+v", got)
	}
}

func TestSQLiteTableNames(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, err := Open(ctx, Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "h.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()
	if err := st.PutWatch(ctx, domain.WatchEntry{OwnerID: 1, URL: "https://a.example", AddedAt: base}); err != nil {
		t.Fatalf("put: %v", err)
	}
	db := st.(*sqliteStore).db
	for _, table := range []string{"watch_entries", "check_results"} {
		var n int
		if err := db.QueryRowContext(ctx, "SELECT count(*) FROM "+table).Scan(&n); err != nil {
			t.Fatalf("%s: %v", table, err)
		}
		if table == "watch_entries" && n != 1 {
			t.Fatalf("watch_entries rows=%d", n)
		}
	}
}

func TestClosedStore(t *testing.T) {
	t.Parallel()
	st := NewMemory()
	_ = st.Close()
	if err := st.Append(context.Background(), result("z", 1, "u", 0, domain.OutcomeUp)); !errors.Is(err, ErrClosed) {
		t.Fatalf("err=%v, want ErrClosed", err)
	}
}

func TestOpenValidation(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		cfg  Config
		want error
	}{
		{"unknown", Config{Driver: "redis"}, ErrUnknownDriver},
		{"file no dir", Config{Driver: "file"}, ErrMissingSetting},
		{"sqlite no path", Config{Driver: "sqlite"}, ErrMissingSetting},
		{"postgres no dsn", Config{Driver: "postgres"}, ErrMissingSetting},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Open(context.Background(), tc.cfg, logx.Nop())
			if !errors.Is(err, tc.want) {
				t.Fatalf("err=%v, want %v", err, tc.want)
			}
		})
	}
}
