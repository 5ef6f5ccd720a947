package watchbot

import (
	"sync"
	"time"
)

// inputKind is what the next plain-text message from a user will be used for.
type inputKind int

const (
	inputNone inputKind = iota
	inputAddURL
	inputCheckURL
	inputDeleteIndexes
)

type chatUser struct {
	chat int64
	user int64
}

type pendingInput struct {
	kind inputKind
	exp  time.Time
}

// pendingStore tracks one awaited input per (chat, user). Entries expire so
// a forgotten prompt does not swallow a later message.
type pendingStore struct {
	mu  sync.Mutex
	ttl time.Duration
	now func() time.Time
	m   map[chatUser]pendingInput
}

func newPendingStore(ttl time.Duration, now func() time.Time) *pendingStore {
	return &pendingStore{ttl: ttl, now: now, m: map[chatUser]pendingInput{}}
}

func (s *pendingStore) set(k chatUser, kind inputKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for key, p := range s.m {
		if now.After(p.exp) {
			delete(s.m, key)
		}
	}
	s.m[k] = pendingInput{kind: kind, exp: now.Add(s.ttl)}
}

// take returns and clears the awaited input for k.
func (s *pendingStore) take(k chatUser) inputKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.m[k]
	if !ok {
		return inputNone
	}
	delete(s.m, k)
	if s.now().After(p.exp) {
		return inputNone
	}
	return p.kind
}
