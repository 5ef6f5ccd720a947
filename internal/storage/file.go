package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/multierr"

	"sitewatch/internal/domain"
	logx "sitewatch/pkg/logx"
)

const (
	snapshotName    = "sitewatch.snapshot.json"
	journalName     = "sitewatch.journal.jsonl"
	compactEveryOps = 1000
)

// fileStore keeps state in a memStore and makes it durable with an
// append-only journal (one JSON op per line) compacted into a snapshot.
// A torn last line from a crash is skipped on replay. Every op carries a
// sequence number and the snapshot records the last one it contains, so ops
// left in the journal by an interrupted compaction are not applied twice.
type fileStore struct {
	*memStore
	log logx.Logger

	snapshotPath string
	journalPath  string
	journal      *os.File
	ops          int
	seq          uint64
	snapSeq      uint64
}

type journalOp struct {
	Seq    uint64              `json:"seq"`
	Op     string              `json:"op"`
	Result *domain.CheckResult `json:"result,omitempty"`
	Watch  *domain.WatchEntry  `json:"watch,omitempty"`
	Owner  domain.OwnerID      `json:"owner,omitempty"`
	URL    string              `json:"url,omitempty"`
	State  domain.Outcome      `json:"state,omitempty"`
	Before time.Time           `json:"before,omitempty"`
}

type snapshot struct {
	Seq     uint64               `json:"seq"`
	Watches []domain.WatchEntry  `json:"watches"`
	Results []domain.CheckResult `json:"results"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Dir)
	if dir == "" {
		return nil, fmt.Errorf("%w: storage.file.dir", ErrMissingSetting)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s := &fileStore{
		memStore:     newMem(),
		log:          log,
		snapshotPath: filepath.Join(dir, snapshotName),
		journalPath:  filepath.Join(dir, journalName),
	}
	if err := s.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	skipped, err := s.replayJournal()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("replay journal: %w", err)
	}
	if skipped > 0 {
		log.Warn("journal had unreadable lines", logx.Int("skipped", skipped))
	}
	jf, err := os.OpenFile(s.journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.journal = jf
	if err := terminateLastLine(jf); err != nil {
		_ = jf.Close()
		return nil, err
	}
	return s, nil
}

func (s *fileStore) loadSnapshot() error {
	f, err := os.Open(s.snapshotPath)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	s.seq, s.snapSeq = snap.Seq, snap.Seq
	for _, w := range snap.Watches {
		s.watches[key{w.OwnerID, w.URL}] = w
	}
	for _, r := range snap.Results {
		s.appendLocked(r)
	}
	return nil
}

func (s *fileStore) replayJournal() (skipped int, err error) {
	f, err := os.Open(s.journalPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64<<10), 1<<20)
	for sc.Scan() {
		var op journalOp
		if err := json.Unmarshal(sc.Bytes(), &op); err != nil {
			skipped++
			continue
		}
		if op.Seq <= s.snapSeq {
			continue // already in the snapshot
		}
		s.seq = max(s.seq, op.Seq)
		s.applyLocked(op)
	}
	return skipped, sc.Err()
}

// terminateLastLine appends a newline when a crash left a partial record,
// so the next op starts on its own line.
func terminateLastLine(f *os.File) error {
	st, err := f.Stat()
	if err != nil || st.Size() == 0 {
		return err
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, st.Size()-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}
	_, err = f.Write([]byte{'\n'})
	return err
}

// applyLocked mutates the in-memory state for one journal op.
func (s *fileStore) applyLocked(op journalOp) {
	switch op.Op {
	case "append":
		if op.Result != nil {
			s.appendLocked(*op.Result)
		}
	case "clear":
		delete(s.results, key{op.Owner, op.URL})
	case "clear_owner":
		s.clearOwnerLocked(op.Owner)
	case "prune":
		s.pruneLocked(op.Before)
	case "put_watch":
		if op.Watch != nil {
			s.watches[key{op.Watch.OwnerID, op.Watch.URL}] = *op.Watch
		}
	case "delete_watch":
		s.deleteWatchLocked(key{op.Owner, op.URL})
	case "last_state":
		s.updateLastStateLocked(key{op.Owner, op.URL}, op.State)
	}
}

// commit writes op to the journal, then applies it. The journal write
// comes first so a failed write leaves memory unchanged.
func (s *fileStore) commit(op journalOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.journal == nil {
		return ErrClosed
	}
	op.Seq = s.seq + 1
	b, err := json.Marshal(op)
	if err != nil {
		return err
	}
	if _, err := s.journal.Write(append(b, '\n')); err != nil {
		return err
	}
	s.seq = op.Seq
	s.applyLocked(op)

	s.ops++
	if s.ops%compactEveryOps == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("journal compaction failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	snap := snapshot{Seq: s.seq, Watches: make([]domain.WatchEntry, 0, len(s.watches))}
	for _, w := range s.watches {
		snap.Watches = append(snap.Watches, w)
	}
	for _, rs := range s.results {
		snap.Results = append(snap.Results, rs...)
	}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		return multierr.Append(err, f.Close())
	}
	if err := multierr.Append(f.Sync(), f.Close()); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	s.snapSeq = snap.Seq
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}

func (s *fileStore) Append(ctx context.Context, r domain.CheckResult) error {
	return s.commit(journalOp{Op: "append", Result: &r})
}

func (s *fileStore) Clear(ctx context.Context, owner domain.OwnerID, url string) error {
	return s.commit(journalOp{Op: "clear", Owner: owner, URL: url})
}

func (s *fileStore) ClearOwner(ctx context.Context, owner domain.OwnerID) error {
	return s.commit(journalOp{Op: "clear_owner", Owner: owner})
}

func (s *fileStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	s.mu.RLock()
	var n int64
	for _, rs := range s.results {
		for _, r := range rs {
			if r.Timestamp.Before(before) {
				n++
			}
		}
	}
	s.mu.RUnlock()
	if n == 0 {
		return 0, nil
	}
	return n, s.commit(journalOp{Op: "prune", Before: before})
}

func (s *fileStore) PutWatch(ctx context.Context, w domain.WatchEntry) error {
	return s.commit(journalOp{Op: "put_watch", Watch: &w})
}

func (s *fileStore) DeleteWatch(ctx context.Context, owner domain.OwnerID, url string) (bool, error) {
	s.mu.RLock()
	_, ok := s.watches[key{owner, url}]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return true, s.commit(journalOp{Op: "delete_watch", Owner: owner, URL: url})
}

func (s *fileStore) UpdateLastState(ctx context.Context, owner domain.OwnerID, url string, o domain.Outcome) error {
	return s.commit(journalOp{Op: "last_state", Owner: owner, URL: url, State: o})
}

// Close compacts once more so the next start replays an empty journal.
func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.compactLocked()
	err = multierr.Append(err, s.journal.Close())
	s.journal = nil
	s.closed = true
	return err
}
