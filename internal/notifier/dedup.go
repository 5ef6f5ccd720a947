package notifier

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	kit "sitewatch/internal/transport"
)

// dedupSet remembers accepted keys until their window closes. When full,
// the entry closest to expiry is evicted first.
type dedupSet struct {
	mu      sync.Mutex
	expires map[string]time.Time
}

func newDedupSet() *dedupSet { return &dedupSet{expires: map[string]time.Time{}} }

// admit reports whether key is new within ttl and records it if so.
func (d *dedupSet) admit(key string, ttl time.Duration, limit int, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if until, seen := d.expires[key]; seen && now.Before(until) {
		return false
	}
	d.expires[key] = now.Add(ttl)

	for k, until := range d.expires {
		if !now.Before(until) {
			delete(d.expires, k)
		}
	}
	for len(d.expires) > limit {
		oldest, first := "", time.Time{}
		for k, until := range d.expires {
			if oldest == "" || until.Before(first) {
				oldest, first = k, until
			}
		}
		delete(d.expires, oldest)
	}
	return true
}

// contentKey identifies a notification without an explicit DedupKey by its
// target, priority and text.
func contentKey(n kit.Notification) string {
	if n.Channel == "" {
		return ""
	}
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%d|%d|%d|%s", n.Channel, n.Target.ChatID, n.Target.ThreadID, n.Priority, n.Text)
	return fmt.Sprintf("%016x", h.Sum64())
}
