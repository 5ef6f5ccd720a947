package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"sitewatch/internal/domain"
	"sitewatch/internal/eventbus"
	logx "sitewatch/pkg/logx"
)

// commitGrace bounds the storage writes of a tick whose deadline passed
// while the probe was running.
const commitGrace = 5 * time.Second

// runTick probes one watch and commits the result. It reports false when
// the result was discarded because the watch went away meanwhile or the
// tick was canceled.
func (e *Engine) runTick(ctx context.Context, w *watch) (domain.CheckResult, bool) {
	ent, removed := w.snapshot()
	if removed {
		return domain.CheckResult{}, false
	}
	cfg := e.config()

	pr := e.prober.Check(ctx, ent.URL)
	switch err := ctx.Err(); {
	case errors.Is(err, context.Canceled):
		e.log.Debug("tick abandoned", logx.String("job", w.name), logx.Err(err))
		return domain.CheckResult{}, false
	case err != nil:
		// The deadline hit while probing and the hang came back as Timeout.
		// That result is still recorded, within a short grace.
		e.log.Debug("tick deadline passed during probe", logx.String("job", w.name))
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitGrace+cfg.StorageRetryBackoff)
		defer cancel()
		ctx = cctx
	}

	ts := pr.CheckedAt
	if ts.IsZero() {
		ts = e.now()
	}
	r := domain.CheckResult{
		ID:         uuid.NewString(),
		OwnerID:    ent.OwnerID,
		URL:        ent.URL,
		Timestamp:  ts.UTC().Truncate(time.Microsecond),
		Outcome:    healthOutcome(pr.Outcome, pr.Cert.ErrKind, cfg.CertAffectsHealth),
		HTTPStatus: pr.HTTPStatus,
		CertIssuer: pr.Cert.Issuer,
		ErrorKind:  pr.ErrorKind,
		CertError:  pr.Cert.ErrKind,
		Duration:   pr.Duration,
	}

	alert, fire, ok := e.commit(ctx, w, r, cfg)
	if !ok {
		e.log.Debug("result discarded", logx.String("job", w.name))
		e.bus.Publish(eventbus.Event{Type: eventbus.ResultDiscarded, Data: r})
		return r, false
	}

	if fire {
		if fn := e.alertFn(); fn != nil {
			fn(ctx, alert)
		}
		e.bus.Publish(eventbus.Event{Type: eventbus.AlertFired, Data: alert})
		e.log.Info("health changed",
			logx.Owner(r.OwnerID),
			logx.URL(r.URL),
			logx.String("from", string(alert.Previous)),
			logx.String("to", string(r.Outcome)),
		)
	}
	e.bus.Publish(eventbus.Event{Type: eventbus.CheckCompleted, Data: CheckEvent{Result: r, Alert: fire}})
	return r, true
}

// commit appends r and advances last_state under the watch lock. A removed
// watch drops the result.
func (e *Engine) commit(ctx context.Context, w *watch, r domain.CheckResult, cfg Config) (Alert, bool, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.removed {
		return Alert{}, false, false
	}

	if err := e.appendWithRetry(ctx, r, cfg.StorageRetryBackoff); err != nil {
		e.degraded(r, "append", err)
	}

	alert, fire := Decide(w.entry.Prev(), r)
	w.entry.LastState = r.Outcome
	if err := e.store.UpdateLastState(ctx, r.OwnerID, r.URL, r.Outcome); err != nil {
		e.degraded(r, "update_last_state", err)
	}
	return alert, fire, true
}

func (e *Engine) appendWithRetry(ctx context.Context, r domain.CheckResult, backoff time.Duration) error {
	err := e.store.Append(ctx, r)
	if err == nil {
		return nil
	}
	e.log.Warn("append failed, retrying", logx.URL(r.URL), logx.Duration("backoff", backoff), logx.Err(err))

	t := time.NewTimer(backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}
	return e.store.Append(ctx, r)
}

func (e *Engine) degraded(r domain.CheckResult, op string, err error) {
	serr := &StorageError{Op: op, Err: err}
	e.log.Warn("storage degraded",
		logx.Owner(r.OwnerID),
		logx.URL(r.URL),
		logx.Err(serr),
	)
	e.bus.Publish(eventbus.Event{Type: eventbus.StorageDegraded, Data: DegradedEvent{
		OwnerID: r.OwnerID, URL: r.URL, Op: op, Err: err.Error(),
	}})
}
