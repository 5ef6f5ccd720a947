// Package monitor owns the watch set. It arms one anchored timer per entry,
// runs the probe/record/alert pipeline for each tick and exposes the
// registration and history operations used by the chat commands.
package monitor

import (
	"errors"
	"fmt"
	"time"

	"sitewatch/internal/domain"
)

type Config struct {
	// Interval between checks of one entry. Default 1h.
	Interval time.Duration
	// StorageRetryBackoff is the pause before the single append retry.
	StorageRetryBackoff time.Duration
	// CertAffectsHealth counts a failed certificate lookup on an otherwise
	// Up check as CertificateError.
	CertAffectsHealth bool
	// MaxWatchesPerUser caps registrations per owner; 0 means unlimited.
	MaxWatchesPerUser int
	// TickTimeout bounds one tick including storage writes. Default 60s.
	TickTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
	if c.StorageRetryBackoff <= 0 {
		c.StorageRetryBackoff = 500 * time.Millisecond
	}
	if c.TickTimeout <= 0 {
		c.TickTimeout = 60 * time.Second
	}
	return c
}

// Alert is emitted on a health-class transition.
type Alert struct {
	OwnerID    domain.OwnerID
	URL        string
	Outcome    domain.Outcome
	Previous   domain.Outcome // empty on the first result
	Timestamp  time.Time
	HTTPStatus int
	ErrorKind  domain.ErrorKind
	CertIssuer string
	Recovered  bool
}

var (
	ErrNotFound       = errors.New("watch not found")
	ErrBusy           = errors.New("check already running")
	ErrTooManyWatches = errors.New("too many watches")
)

// ValidationError reports rejected user input. It is never retried.
type ValidationError struct {
	Input  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid url %q: %s", e.Input, e.Reason)
	}
	return fmt.Sprintf("invalid url %q", e.Input)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// StorageError wraps a failed history or watch-table operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return "storage " + e.Op + ": " + e.Err.Error() }
func (e *StorageError) Unwrap() error { return e.Err }

// CheckEvent is the payload of eventbus.CheckCompleted.
type CheckEvent struct {
	Result domain.CheckResult
	Alert  bool
}

// DegradedEvent is the payload of eventbus.StorageDegraded.
type DegradedEvent struct {
	OwnerID domain.OwnerID
	URL     string
	Op      string
	Err     string
}

func jobName(owner domain.OwnerID, url string) string {
	return fmt.Sprintf("watch:%d:%s", owner, url)
}
