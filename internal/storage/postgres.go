package storage

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"sitewatch/internal/domain"
	logx "sitewatch/pkg/logx"
)

//go:embed schema_postgres.sql
var postgresSchema string

type pgStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("%w: storage.postgres.dsn", ErrMissingSetting)
	}
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres schema: %w", err)
	}
	log.Debug("postgres store ready", logx.Int("max_conns", int(pcfg.MaxConns)))
	return &pgStore{pool: pool, log: log}, nil
}

func (s *pgStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *pgStore) Append(ctx context.Context, r domain.CheckResult) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO check_results (id, owner_id, url, ts, outcome, http_status, cert_issuer, error_kind, cert_error, duration_ms)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		r.ID, r.OwnerID, r.URL, r.Timestamp, string(r.Outcome),
		nullInt(r.HTTPStatus), nullStr(r.CertIssuer), nullStr(string(r.ErrorKind)), nullStr(string(r.CertError)),
		durationMS(r.Duration))
	return s.wrap(err)
}

func (s *pgStore) List(ctx context.Context, owner domain.OwnerID, url string) ([]domain.CheckResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, ts, outcome, http_status, cert_issuer, error_kind, cert_error, duration_ms
		 FROM check_results WHERE owner_id = $1 AND url = $2 ORDER BY ts, seq`, owner, url)
	if err != nil {
		return nil, s.wrap(err)
	}
	defer rows.Close()

	out := []domain.CheckResult{}
	for rows.Next() {
		var (
			r                         domain.CheckResult
			outcome                   string
			status                    *int32
			issuer, errKind, certKind *string
			durMS                     int64
		)
		if err := rows.Scan(&r.ID, &r.Timestamp, &outcome, &status, &issuer, &errKind, &certKind, &durMS); err != nil {
			return nil, err
		}
		r.OwnerID = owner
		r.URL = url
		r.Timestamp = r.Timestamp.UTC()
		r.Outcome = domain.Outcome(outcome)
		if status != nil {
			r.HTTPStatus = int(*status)
		}
		r.CertIssuer = deref(issuer)
		r.ErrorKind = domain.ErrorKind(deref(errKind))
		r.CertError = domain.CertErrKind(deref(certKind))
		r.Duration = time.Duration(durMS) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *pgStore) Clear(ctx context.Context, owner domain.OwnerID, url string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM check_results WHERE owner_id = $1 AND url = $2`, owner, url)
	return s.wrap(err)
}

func (s *pgStore) ClearOwner(ctx context.Context, owner domain.OwnerID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM check_results WHERE owner_id = $1`, owner)
	return s.wrap(err)
}

func (s *pgStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM check_results WHERE ts < $1`, before)
	if err != nil {
		return 0, s.wrap(err)
	}
	return tag.RowsAffected(), nil
}

func (s *pgStore) PutWatch(ctx context.Context, w domain.WatchEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO watch_entries (owner_id, url, added_at, last_state) VALUES ($1,$2,$3,$4)
		 ON CONFLICT (owner_id, url) DO UPDATE SET added_at = EXCLUDED.added_at, last_state = EXCLUDED.last_state`,
		w.OwnerID, w.URL, w.AddedAt, nullStr(string(w.LastState)))
	return s.wrap(err)
}

func (s *pgStore) DeleteWatch(ctx context.Context, owner domain.OwnerID, url string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM watch_entries WHERE owner_id = $1 AND url = $2`, owner, url)
	if err != nil {
		return false, s.wrap(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *pgStore) ListWatches(ctx context.Context) ([]domain.WatchEntry, error) {
	return s.queryWatches(ctx,
		`SELECT owner_id, url, added_at, last_state FROM watch_entries ORDER BY owner_id, added_at, url`)
}

func (s *pgStore) ListOwnerWatches(ctx context.Context, owner domain.OwnerID) ([]domain.WatchEntry, error) {
	return s.queryWatches(ctx,
		`SELECT owner_id, url, added_at, last_state FROM watch_entries WHERE owner_id = $1 ORDER BY added_at, url`, owner)
}

func (s *pgStore) queryWatches(ctx context.Context, q string, args ...any) ([]domain.WatchEntry, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, s.wrap(err)
	}
	defer rows.Close()

	out := []domain.WatchEntry{}
	for rows.Next() {
		var (
			w    domain.WatchEntry
			last *string
		)
		if err := rows.Scan(&w.OwnerID, &w.URL, &w.AddedAt, &last); err != nil {
			return nil, err
		}
		w.AddedAt = w.AddedAt.UTC()
		w.LastState = domain.Outcome(deref(last))
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *pgStore) UpdateLastState(ctx context.Context, owner domain.OwnerID, url string, o domain.Outcome) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE watch_entries SET last_state = $1 WHERE owner_id = $2 AND url = $3`, nullStr(string(o)), owner, url)
	return s.wrap(err)
}

func (s *pgStore) wrap(err error) error {
	if err != nil && strings.Contains(err.Error(), "closed pool") {
		return ErrClosed
	}
	return err
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
