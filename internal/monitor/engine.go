package monitor

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"

	"sitewatch/internal/domain"
	"sitewatch/internal/eventbus"
	"sitewatch/internal/probe"
	"sitewatch/internal/storage"
	"sitewatch/internal/task/engine"
	logx "sitewatch/pkg/logx"
)

type Prober interface {
	Check(ctx context.Context, url string) probe.Result
	Inspect(ctx context.Context, url string) probe.SiteInfo
}

type Scheduler interface {
	AddAnchored(name string, anchor time.Time, every, timeout time.Duration, state *engine.RunState, job func(ctx context.Context) error) (string, error)
	Remove(name string) bool
}

type watchKey struct {
	owner domain.OwnerID
	url   string
}

// watch is the live registration. A re-registration after removal creates
// a new watch, so a tick holding the old pointer sees removed=true.
type watch struct {
	name  string
	state *engine.RunState

	// mu guards entry and removed and is held for a whole commit, so
	// Unregister either precedes a commit or follows it entirely.
	mu      sync.Mutex
	entry   domain.WatchEntry
	removed bool
}

func (w *watch) snapshot() (domain.WatchEntry, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.entry, w.removed
}

type Engine struct {
	log    logx.Logger
	bus    eventbus.Bus
	prober Prober
	store  storage.Store
	sched  Scheduler
	now    func() time.Time

	cfgMu   sync.RWMutex
	cfg     Config
	onAlert func(context.Context, Alert)

	mu      sync.Mutex
	watches map[watchKey]*watch
}

func New(cfg Config, prober Prober, store storage.Store, sched Scheduler, log logx.Logger, bus eventbus.Bus) *Engine {
	if bus == nil {
		bus = eventbus.Nop{}
	}
	return &Engine{
		log:     log.With(logx.Component("monitor")),
		bus:     bus,
		prober:  prober,
		store:   store,
		sched:   sched,
		now:     time.Now,
		cfg:     cfg.withDefaults(),
		watches: map[watchKey]*watch{},
	}
}

// ApplyConfig swaps settings. A new interval applies to timers armed
// afterwards.
func (e *Engine) ApplyConfig(cfg Config) {
	e.cfgMu.Lock()
	e.cfg = cfg.withDefaults()
	e.cfgMu.Unlock()
}

func (e *Engine) config() Config {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

// OnAlert sets the delivery callback. It is called outside any lock.
func (e *Engine) OnAlert(fn func(ctx context.Context, a Alert)) {
	e.cfgMu.Lock()
	e.onAlert = fn
	e.cfgMu.Unlock()
}

func (e *Engine) alertFn() func(context.Context, Alert) {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.onAlert
}

// Restore re-arms every persisted watch from its stored added_at and
// last_state. It is called once at startup before the scheduler starts.
func (e *Engine) Restore(ctx context.Context) (int, error) {
	ws, err := e.store.ListWatches(ctx)
	if err != nil {
		return 0, &StorageError{Op: "list_watches", Err: err}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ent := range ws {
		k := watchKey{ent.OwnerID, ent.URL}
		if _, ok := e.watches[k]; ok {
			continue
		}
		w := &watch{name: jobName(ent.OwnerID, ent.URL), state: &engine.RunState{}, entry: ent}
		if err := e.armLocked(w); err != nil {
			e.log.Warn("restore watch failed", logx.String("job", w.name), logx.Err(err))
			continue
		}
		e.watches[k] = w
		n++
	}
	e.log.Info("watches restored", logx.Int("count", n))
	return n, nil
}

// Register validates raw and adds a watch for owner. Registering an
// existing (owner, url) returns the stored entry unchanged.
func (e *Engine) Register(ctx context.Context, owner domain.OwnerID, raw string) (domain.WatchEntry, error) {
	u, err := probe.ValidateURL(raw)
	if err != nil {
		return domain.WatchEntry{}, &ValidationError{Input: raw, Reason: reasonOf(err), Err: err}
	}
	k := watchKey{owner, u}

	e.mu.Lock()
	defer e.mu.Unlock()
	if w, ok := e.watches[k]; ok {
		ent, _ := w.snapshot()
		return ent, nil
	}
	if limit := e.config().MaxWatchesPerUser; limit > 0 && e.countLocked(owner) >= limit {
		return domain.WatchEntry{}, ErrTooManyWatches
	}

	ent := domain.WatchEntry{OwnerID: owner, URL: u, AddedAt: e.now().UTC().Truncate(time.Microsecond)}
	if err := e.store.PutWatch(ctx, ent); err != nil {
		return domain.WatchEntry{}, &StorageError{Op: "put_watch", Err: err}
	}
	w := &watch{name: jobName(owner, u), state: &engine.RunState{}, entry: ent}
	if err := e.armLocked(w); err != nil {
		if _, derr := e.store.DeleteWatch(ctx, owner, u); derr != nil {
			e.log.Warn("rollback watch failed", logx.String("job", w.name), logx.Err(derr))
		}
		return domain.WatchEntry{}, err
	}
	e.watches[k] = w

	e.log.Info("watch added", logx.Owner(owner), logx.URL(u))
	e.bus.Publish(eventbus.Event{Type: eventbus.WatchAdded, Data: ent})
	return ent, nil
}

func (e *Engine) armLocked(w *watch) error {
	cfg := e.config()
	_, err := e.sched.AddAnchored(w.name, w.entry.AddedAt, cfg.Interval, cfg.TickTimeout, w.state,
		func(ctx context.Context) error {
			e.runTick(ctx, w)
			return nil
		})
	return err
}

func (e *Engine) countLocked(owner domain.OwnerID) int {
	n := 0
	for k := range e.watches {
		if k.owner == owner {
			n++
		}
	}
	return n
}

// Unregister stops the watch. A tick already running completes but its
// result is dropped. The row is deleted under e.mu, as Register writes it,
// so the watch table always matches the live set.
func (e *Engine) Unregister(ctx context.Context, owner domain.OwnerID, url string) (bool, error) {
	k := watchKey{owner, canonical(url)}

	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.watches[k]
	if !ok {
		return false, nil
	}
	delete(e.watches, k)
	e.sched.Remove(w.name)

	w.mu.Lock()
	w.removed = true
	ent := w.entry
	w.mu.Unlock()

	if _, err := e.store.DeleteWatch(ctx, k.owner, k.url); err != nil {
		return true, &StorageError{Op: "delete_watch", Err: err}
	}
	e.log.Info("watch removed", logx.Owner(owner), logx.URL(k.url))
	e.bus.Publish(eventbus.Event{Type: eventbus.WatchRemoved, Data: ent})
	return true, nil
}

// Watches lists the owner's entries ordered by added_at.
func (e *Engine) Watches(owner domain.OwnerID) []domain.WatchEntry {
	e.mu.Lock()
	ws := make([]*watch, 0, len(e.watches))
	for k, w := range e.watches {
		if k.owner == owner {
			ws = append(ws, w)
		}
	}
	e.mu.Unlock()

	out := make([]domain.WatchEntry, 0, len(ws))
	for _, w := range ws {
		ent, _ := w.snapshot()
		out = append(out, ent)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AddedAt.Equal(out[j].AddedAt) {
			return out[i].AddedAt.Before(out[j].AddedAt)
		}
		return out[i].URL < out[j].URL
	})
	return out
}

// Count reports the number of live watches across all owners.
func (e *Engine) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.watches)
}

func (e *Engine) lookup(owner domain.OwnerID, url string) (*watch, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.watches[watchKey{owner, canonical(url)}]
	return w, ok
}

// GetHistory returns the chronological results recorded since the current
// registration. An unregistered URL has no visible history.
func (e *Engine) GetHistory(ctx context.Context, owner domain.OwnerID, url string) ([]domain.CheckResult, error) {
	w, ok := e.lookup(owner, url)
	if !ok {
		return []domain.CheckResult{}, nil
	}
	ent, _ := w.snapshot()
	rs, err := e.store.List(ctx, owner, ent.URL)
	if err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}
	out := rs[:0]
	for _, r := range rs {
		if !r.Timestamp.Before(ent.AddedAt) {
			out = append(out, r)
		}
	}
	return out, nil
}

// ClearHistory removes the watch and deletes its history.
func (e *Engine) ClearHistory(ctx context.Context, owner domain.OwnerID, url string) error {
	u := canonical(url)
	if _, err := e.Unregister(ctx, owner, u); err != nil {
		return err
	}
	if err := e.store.Clear(ctx, owner, u); err != nil {
		return &StorageError{Op: "clear", Err: err}
	}
	return nil
}

// ClearAll removes every watch of owner and all of its history.
func (e *Engine) ClearAll(ctx context.Context, owner domain.OwnerID) (int, error) {
	var errs []error
	n := 0
	for _, ent := range e.Watches(owner) {
		ok, err := e.Unregister(ctx, owner, ent.URL)
		if ok {
			n++
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.store.ClearOwner(ctx, owner); err != nil {
		errs = append(errs, &StorageError{Op: "clear_owner", Err: err})
	}
	return n, multierr.Combine(errs...)
}

// CheckNow runs one tick for a registered watch immediately. It fails with
// ErrBusy when a scheduled tick is in flight, and with ErrNotFound when the
// watch was removed while the check ran.
func (e *Engine) CheckNow(ctx context.Context, owner domain.OwnerID, url string) (domain.CheckResult, error) {
	w, ok := e.lookup(owner, url)
	if !ok {
		return domain.CheckResult{}, ErrNotFound
	}
	if !w.state.TryAcquire() {
		return domain.CheckResult{}, ErrBusy
	}
	defer w.state.Release()

	ctx, cancel := context.WithTimeout(ctx, e.config().TickTimeout)
	defer cancel()
	r, ok := e.runTick(ctx, w)
	if !ok {
		if err := ctx.Err(); err != nil {
			return domain.CheckResult{}, err
		}
		return domain.CheckResult{}, ErrNotFound
	}
	return r, nil
}

// Inspect runs a one-off report without touching the watch set.
func (e *Engine) Inspect(ctx context.Context, raw string) (probe.SiteInfo, error) {
	u, err := probe.ValidateURL(raw)
	if err != nil {
		return probe.SiteInfo{}, &ValidationError{Input: raw, Reason: reasonOf(err), Err: err}
	}
	return e.prober.Inspect(ctx, u), nil
}

// PruneHistory drops results older than retention.
func (e *Engine) PruneHistory(ctx context.Context, retention time.Duration) error {
	if retention <= 0 {
		return nil
	}
	n, err := e.store.Prune(ctx, e.now().Add(-retention))
	if err != nil {
		return &StorageError{Op: "prune", Err: err}
	}
	if n > 0 {
		e.log.Info("history pruned", logx.Int64("rows", n), logx.Duration("retention", retention))
	}
	return nil
}

func reasonOf(err error) string {
	return strings.TrimPrefix(err.Error(), probe.ErrInvalidURL.Error()+": ")
}

// canonical maps user input to the stored key form. Input that no longer
// validates falls back to plain normalization so stale keys still match.
func canonical(raw string) string {
	if u, err := probe.ValidateURL(raw); err == nil {
		return u
	}
	return probe.NormalizeURL(raw)
}
