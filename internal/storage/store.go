package storage

import (
	"context"
	"errors"
	"time"

	"sitewatch/internal/domain"
)

var (
	ErrClosed         = errors.New("storage closed")
	ErrUnknownDriver  = errors.New("unknown storage driver")
	ErrMissingSetting = errors.New("missing storage setting")
)

// Config selects and configures a backend.
//
// Driver values: "memory" (default), "file", "sqlite", "postgres".
type Config struct {
	Driver string

	// file
	Dir string

	// sqlite
	Path        string
	BusyTimeout time.Duration

	// postgres
	DSN      string
	MaxConns int32
}

// HistoryStore is the append-only per-(owner, url) result log.
//
// List returns results in chronological order; an unknown key yields an
// empty slice and a nil error. Clear is idempotent.
type HistoryStore interface {
	Append(ctx context.Context, r domain.CheckResult) error
	List(ctx context.Context, owner domain.OwnerID, url string) ([]domain.CheckResult, error)
	Clear(ctx context.Context, owner domain.OwnerID, url string) error
	ClearOwner(ctx context.Context, owner domain.OwnerID) error
	// Prune deletes results older than before and reports how many went.
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// WatchStore persists the registration table.
type WatchStore interface {
	PutWatch(ctx context.Context, w domain.WatchEntry) error
	DeleteWatch(ctx context.Context, owner domain.OwnerID, url string) (bool, error)
	ListWatches(ctx context.Context) ([]domain.WatchEntry, error)
	ListOwnerWatches(ctx context.Context, owner domain.OwnerID) ([]domain.WatchEntry, error)
	UpdateLastState(ctx context.Context, owner domain.OwnerID, url string, o domain.Outcome) error
}

type Store interface {
	HistoryStore
	WatchStore
	Close() error
}

type key struct {
	owner domain.OwnerID
	url   string
}

func durationMS(d time.Duration) int64 { return d.Milliseconds() }
