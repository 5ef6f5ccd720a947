package tgui

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"
)

// TokenStore keeps callback payloads server-side behind short tokens. Tokens
// never contain ':' so they fit the payload slot of callback data.
type TokenStore struct {
	mu  sync.Mutex
	ttl time.Duration
	max int
	now func() time.Time
	m   map[string]tokenEntry
}

type tokenEntry struct {
	v   string
	exp time.Time
}

// NewTokenStore returns a store whose tokens expire after ttl (default 30m)
// and which holds at most limit entries (default 5000).
func NewTokenStore(ttl time.Duration, limit int) *TokenStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if limit <= 0 {
		limit = 5000
	}
	return &TokenStore{ttl: ttl, max: limit, now: time.Now, m: map[string]tokenEntry{}}
}

func (s *TokenStore) Put(v string) string {
	var buf [6]byte
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.m) >= s.max {
		s.sweepLocked(now)
	}
	for {
		_, _ = rand.Read(buf[:])
		tok := "~" + base64.RawURLEncoding.EncodeToString(buf[:])
		if _, taken := s.m[tok]; taken {
			continue
		}
		s.evictLocked()
		s.m[tok] = tokenEntry{v: v, exp: now.Add(s.ttl)}
		return tok
	}
}

func (s *TokenStore) Get(tok string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[tok]
	if !ok {
		return "", false
	}
	if s.now().After(e.exp) {
		delete(s.m, tok)
		return "", false
	}
	return e.v, true
}

func (s *TokenStore) sweepLocked(now time.Time) {
	for k, e := range s.m {
		if now.After(e.exp) {
			delete(s.m, k)
		}
	}
}

// evictLocked drops the entry closest to expiry when the store is full.
func (s *TokenStore) evictLocked() {
	if len(s.m) < s.max {
		return
	}
	var (
		oldest string
		exp    time.Time
	)
	for k, e := range s.m {
		if oldest == "" || e.exp.Before(exp) {
			oldest, exp = k, e.exp
		}
	}
	delete(s.m, oldest)
}
