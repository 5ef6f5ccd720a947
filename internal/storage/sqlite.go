package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"sitewatch/internal/domain"
	logx "sitewatch/pkg/logx"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, fmt.Errorf("%w: storage.sqlite.path", ErrMissingSetting)
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection serializes writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	log.Debug("sqlite store ready", logx.String("path", path))
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Append(ctx context.Context, r domain.CheckResult) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO check_results(id, owner_id, url, ts, outcome, http_status, cert_issuer, error_kind, cert_error, duration_ms)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.OwnerID, r.URL, r.Timestamp.UnixNano(), string(r.Outcome),
		nullInt(r.HTTPStatus), nullStr(r.CertIssuer), nullStr(string(r.ErrorKind)), nullStr(string(r.CertError)),
		durationMS(r.Duration),
	)
	return s.wrap(err)
}

func (s *sqliteStore) List(ctx context.Context, owner domain.OwnerID, url string) ([]domain.CheckResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, outcome, http_status, cert_issuer, error_kind, cert_error, duration_ms
		 FROM check_results WHERE owner_id = ? AND url = ? ORDER BY ts, rowid`,
		owner, url,
	)
	if err != nil {
		return nil, s.wrap(err)
	}
	defer rows.Close()

	out := []domain.CheckResult{}
	for rows.Next() {
		var (
			r                         domain.CheckResult
			ts, durMS                 int64
			outcome                   string
			status                    sql.NullInt64
			issuer, errKind, certKind sql.NullString
		)
		if err := rows.Scan(&r.ID, &ts, &outcome, &status, &issuer, &errKind, &certKind, &durMS); err != nil {
			return nil, err
		}
		r.OwnerID = owner
		r.URL = url
		r.Timestamp = time.Unix(0, ts).UTC()
		r.Outcome = domain.Outcome(outcome)
		r.HTTPStatus = int(status.Int64)
		r.CertIssuer = issuer.String
		r.ErrorKind = domain.ErrorKind(errKind.String)
		r.CertError = domain.CertErrKind(certKind.String)
		r.Duration = time.Duration(durMS) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Clear(ctx context.Context, owner domain.OwnerID, url string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM check_results WHERE owner_id = ? AND url = ?`, owner, url)
	return s.wrap(err)
}

func (s *sqliteStore) ClearOwner(ctx context.Context, owner domain.OwnerID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM check_results WHERE owner_id = ?`, owner)
	return s.wrap(err)
}

func (s *sqliteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM check_results WHERE ts < ?`, before.UnixNano())
	if err != nil {
		return 0, s.wrap(err)
	}
	return res.RowsAffected()
}

func (s *sqliteStore) PutWatch(ctx context.Context, w domain.WatchEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO watch_entries(owner_id, url, added_at, last_state) VALUES(?,?,?,?)
		 ON CONFLICT(owner_id, url) DO UPDATE SET added_at=excluded.added_at, last_state=excluded.last_state`,
		w.OwnerID, w.URL, w.AddedAt.UnixNano(), nullStr(string(w.LastState)),
	)
	return s.wrap(err)
}

func (s *sqliteStore) DeleteWatch(ctx context.Context, owner domain.OwnerID, url string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM watch_entries WHERE owner_id = ? AND url = ?`, owner, url)
	if err != nil {
		return false, s.wrap(err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqliteStore) ListWatches(ctx context.Context) ([]domain.WatchEntry, error) {
	return s.queryWatches(ctx,
		`SELECT owner_id, url, added_at, last_state FROM watch_entries ORDER BY owner_id, added_at, url`)
}

func (s *sqliteStore) ListOwnerWatches(ctx context.Context, owner domain.OwnerID) ([]domain.WatchEntry, error) {
	return s.queryWatches(ctx,
		`SELECT owner_id, url, added_at, last_state FROM watch_entries WHERE owner_id = ? ORDER BY added_at, url`, owner)
}

func (s *sqliteStore) queryWatches(ctx context.Context, q string, args ...any) ([]domain.WatchEntry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, s.wrap(err)
	}
	defer rows.Close()

	out := []domain.WatchEntry{}
	for rows.Next() {
		var (
			w     domain.WatchEntry
			added int64
			last  sql.NullString
		)
		if err := rows.Scan(&w.OwnerID, &w.URL, &added, &last); err != nil {
			return nil, err
		}
		w.AddedAt = time.Unix(0, added).UTC()
		w.LastState = domain.Outcome(last.String)
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateLastState(ctx context.Context, owner domain.OwnerID, url string, o domain.Outcome) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE watch_entries SET last_state = ? WHERE owner_id = ? AND url = ?`, nullStr(string(o)), owner, url)
	return s.wrap(err)
}

func (s *sqliteStore) wrap(err error) error {
	if err != nil && strings.Contains(err.Error(), "database is closed") {
		return ErrClosed
	}
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}
