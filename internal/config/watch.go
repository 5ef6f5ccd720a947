package config

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "sitewatch/pkg/logx"
)

const (
	reloadDebounce = 250 * time.Millisecond
	rewatchMin     = 250 * time.Millisecond
	rewatchMax     = 5 * time.Second
)

// Watch reloads the file whenever it changes until ctx is done. Bursts of
// events collapse into one reload; a broken fsnotify watcher is recreated
// with backoff.
func (m *ConfigManager) Watch(ctx context.Context) error {
	log := m.log.With(logx.String("path", m.path))
	d := &debouncer{wait: reloadDebounce, fn: func() { m.reloadAndLog(ctx, log) }}
	defer d.stop()

	wait := rewatchMin
	for ctx.Err() == nil {
		err := m.watchOnce(ctx, d.trigger, func() { wait = rewatchMin })
		if ctx.Err() != nil {
			break
		}
		// up to 50% jitter
		delay := wait + rand.N(wait/2+1)
		log.Warn("config watcher stopped; restarting", logx.Err(err), logx.Duration("backoff", delay))
		select {
		case <-ctx.Done():
		case <-time.After(delay):
		}
		wait = min(wait*2, rewatchMax)
	}
	return nil
}

func (m *ConfigManager) reloadAndLog(ctx context.Context, log logx.Logger) {
	published, err := m.Reload(ctx)
	switch {
	case err != nil:
		log.Warn("config rejected; keeping revision", logx.Uint64("revision", m.Info().Revision), logx.Err(err))
	case published:
		log.Debug("config published", logx.Uint64("revision", m.Info().Revision))
	default:
		log.Debug("config unchanged; skipping publish")
	}
}

// watchOnce watches the parent directory, since editors often replace the
// file instead of writing it, and runs until the watcher breaks.
func (m *ConfigManager) watchOnce(ctx context.Context, changed, started func()) error {
	dir, file := filepath.Dir(m.path), filepath.Base(m.path)
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch init: %w", err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	started()
	m.log.Debug("config watcher started", logx.String("dir", dir))

	const ops = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("event channel closed")
			}
			if ev.Op&ops != 0 && strings.EqualFold(filepath.Base(ev.Name), file) {
				changed()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("error channel closed")
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				m.log.Warn("config watch overflow; forcing reload", logx.Err(err))
				changed()
				continue
			}
			m.log.Warn("config watch error", logx.Err(err))
		}
	}
}

// debouncer runs fn once, wait after the last trigger.
type debouncer struct {
	wait time.Duration
	fn   func()

	mu sync.Mutex
	t  *time.Timer
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.t != nil {
		d.t.Reset(d.wait)
		return
	}
	d.t = time.AfterFunc(d.wait, d.fn)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.t != nil {
		d.t.Stop()
	}
}
