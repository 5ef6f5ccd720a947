package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"sitewatch/internal/domain"
)

// memStore keeps everything in maps. The file backend reuses it as its
// in-memory state and replays its journal into it.
type memStore struct {
	mu      sync.RWMutex
	closed  bool
	results map[key][]domain.CheckResult
	watches map[key]domain.WatchEntry
}

func NewMemory() Store { return newMem() }

func newMem() *memStore {
	return &memStore{
		results: map[key][]domain.CheckResult{},
		watches: map[key]domain.WatchEntry{},
	}
}

func (m *memStore) Append(ctx context.Context, r domain.CheckResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.appendLocked(r)
	return nil
}

func (m *memStore) appendLocked(r domain.CheckResult) {
	k := key{r.OwnerID, r.URL}
	m.results[k] = append(m.results[k], r)
}

func (m *memStore) List(ctx context.Context, owner domain.OwnerID, url string) ([]domain.CheckResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	src := m.results[key{owner, url}]
	out := make([]domain.CheckResult, len(src))
	copy(out, src)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *memStore) Clear(ctx context.Context, owner domain.OwnerID, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.results, key{owner, url})
	return nil
}

func (m *memStore) ClearOwner(ctx context.Context, owner domain.OwnerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.clearOwnerLocked(owner)
	return nil
}

func (m *memStore) clearOwnerLocked(owner domain.OwnerID) {
	for k := range m.results {
		if k.owner == owner {
			delete(m.results, k)
		}
	}
}

func (m *memStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	return m.pruneLocked(before), nil
}

func (m *memStore) pruneLocked(before time.Time) int64 {
	var n int64
	for k, rs := range m.results {
		kept := rs[:0]
		for _, r := range rs {
			if r.Timestamp.Before(before) {
				n++
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) == 0 {
			delete(m.results, k)
			continue
		}
		m.results[k] = kept
	}
	return n
}

func (m *memStore) PutWatch(ctx context.Context, w domain.WatchEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.watches[key{w.OwnerID, w.URL}] = w
	return nil
}

func (m *memStore) DeleteWatch(ctx context.Context, owner domain.OwnerID, url string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	return m.deleteWatchLocked(key{owner, url}), nil
}

func (m *memStore) deleteWatchLocked(k key) bool {
	_, ok := m.watches[k]
	delete(m.watches, k)
	return ok
}

func (m *memStore) ListWatches(ctx context.Context) ([]domain.WatchEntry, error) {
	return m.listWatches(func(domain.WatchEntry) bool { return true })
}

func (m *memStore) ListOwnerWatches(ctx context.Context, owner domain.OwnerID) ([]domain.WatchEntry, error) {
	return m.listWatches(func(w domain.WatchEntry) bool { return w.OwnerID == owner })
}

func (m *memStore) listWatches(keep func(domain.WatchEntry) bool) ([]domain.WatchEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]domain.WatchEntry, 0, len(m.watches))
	for _, w := range m.watches {
		if keep(w) {
			out = append(out, w)
		}
	}
	sortWatches(out)
	return out, nil
}

func (m *memStore) UpdateLastState(ctx context.Context, owner domain.OwnerID, url string, o domain.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.updateLastStateLocked(key{owner, url}, o)
	return nil
}

func (m *memStore) updateLastStateLocked(k key, o domain.Outcome) {
	if w, ok := m.watches[k]; ok {
		w.LastState = o
		m.watches[k] = w
	}
}

func (m *memStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func sortWatches(ws []domain.WatchEntry) {
	sort.Slice(ws, func(i, j int) bool {
		if ws[i].OwnerID != ws[j].OwnerID {
			return ws[i].OwnerID < ws[j].OwnerID
		}
		if !ws[i].AddedAt.Equal(ws[j].AddedAt) {
			return ws[i].AddedAt.Before(ws[j].AddedAt)
		}
		return ws[i].URL < ws[j].URL
	})
}
