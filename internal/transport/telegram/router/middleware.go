package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "sitewatch/pkg/logx"
)

// Middleware wraps a handler. Chain applies the first one outermost.
type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

// slowRequest is the duration above which a successful request logs at info.
const slowRequest = 750 * time.Millisecond

// WithRecover turns a handler panic into an error carrying the stack in the log.
func WithRecover() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if p := recover(); p != nil {
					req.Logger.Error("handler panicked", logx.Any("panic", p), logx.Stack(string(debug.Stack())))
					err = fmt.Errorf("handler panic: %v", p)
				}
			}()
			return next(ctx, req)
		}
	}
}

// WithRequestLog records the outcome of every request.
func WithRequestLog() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			took := time.Since(start)

			log := req.Logger.With(logx.Duration("took", took), logx.Bool("owner_user", req.Owner))
			switch {
			case err != nil:
				log.Warn("request failed", logx.Err(err))
			case took >= slowRequest:
				log.Info("slow request")
			default:
				log.Debug("request done")
			}
			return err
		}
	}
}

// WithDeadline bounds the handler context; d <= 0 leaves it unbounded.
func WithDeadline(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}

// WithUserRate drops requests from a user who exceeds their budget and
// calls throttled instead. Owners are never throttled.
func WithUserRate(l *userLimits, throttled func(ctx context.Context, req *Request)) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if l == nil {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			if !req.Owner && !l.allow(req.FromID) {
				req.Logger.Debug("request throttled")
				if throttled != nil {
					throttled(ctx, req)
				}
				return nil
			}
			return next(ctx, req)
		}
	}
}

// userLimits keeps one token bucket per user. The map is reset when it
// reaches max entries, which only forgives partially spent budgets.
type userLimits struct {
	perSec float64
	burst  int
	max    int

	mu sync.Mutex
	m  map[int64]*rate.Limiter
}

func newUserLimits(perSec float64, burst, max int) *userLimits {
	if perSec <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &userLimits{perSec: perSec, burst: burst, max: max, m: map[int64]*rate.Limiter{}}
}

func (l *userLimits) allow(user int64) bool {
	l.mu.Lock()
	lim := l.m[user]
	if lim == nil {
		if l.max > 0 && len(l.m) >= l.max {
			clear(l.m)
		}
		lim = rate.NewLimiter(rate.Limit(l.perSec), l.burst)
		l.m[user] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
