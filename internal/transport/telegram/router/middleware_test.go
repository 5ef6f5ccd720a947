package router

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	kit "sitewatch/internal/transport"
	logx "sitewatch/pkg/logx"
)

func TestChainOrder(t *testing.T) {
	t.Parallel()
	var trail []string
	tag := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *Request) error {
				trail = append(trail, name)
				return next(ctx, req)
			}
		}
	}
	h := Chain(func(context.Context, *Request) error {
		trail = append(trail, "handler")
		return nil
	}, tag("outer"), tag("inner"))
	if err := h(context.Background(), &Request{Logger: logx.Nop()}); err != nil {
		t.Fatalf("err=%v", err)
	}
	if got := strings.Join(trail, ","); got != "outer,inner,handler" {
		t.Fatalf("order=%s", got)
	}
}

func TestWithRecover(t *testing.T) {
	t.Parallel()
	h := Chain(func(context.Context, *Request) error { panic("boom") }, WithRecover())
	err := h(context.Background(), &Request{Logger: logx.Nop()})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("err=%v", err)
	}
}

func TestWithDeadline(t *testing.T) {
	t.Parallel()
	h := Chain(func(ctx context.Context, _ *Request) error {
		<-ctx.Done()
		return ctx.Err()
	}, WithDeadline(20*time.Millisecond))
	if err := h(context.Background(), &Request{Logger: logx.Nop()}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v", err)
	}

	var hasDeadline bool
	open := Chain(func(ctx context.Context, _ *Request) error {
		_, hasDeadline = ctx.Deadline()
		return nil
	}, WithDeadline(0))
	_ = open(context.Background(), &Request{Logger: logx.Nop()})
	if hasDeadline {
		t.Fatalf("zero duration should not set a deadline")
	}
}

func TestWithUserRate(t *testing.T) {
	t.Parallel()
	lim := newUserLimits(0.001, 2, 0)
	var ran, throttled int
	h := Chain(func(context.Context, *Request) error { ran++; return nil },
		WithUserRate(lim, func(context.Context, *Request) { throttled++ }))

	user := &Request{FromID: 5, Logger: logx.Nop()}
	for i := 0; i < 4; i++ {
		_ = h(context.Background(), user)
	}
	if ran != 2 || throttled != 2 {
		t.Fatalf("ran=%d throttled=%d, want 2/2", ran, throttled)
	}

	other := &Request{FromID: 6, Logger: logx.Nop()}
	_ = h(context.Background(), other)
	owner := &Request{FromID: 5, Owner: true, Logger: logx.Nop()}
	_ = h(context.Background(), owner)
	if ran != 4 {
		t.Fatalf("ran=%d, want 4", ran)
	}
}

func TestUserLimitsDisabled(t *testing.T) {
	t.Parallel()
	if newUserLimits(0, 5, 10) != nil {
		t.Fatalf("zero rate should disable throttling")
	}
	lim := newUserLimits(0.001, 1, 2)
	lim.allow(1)
	lim.allow(2)
	lim.allow(3)
	if n := len(lim.m); n != 1 {
		t.Fatalf("tracked=%d, want reset to 1", n)
	}
}

func TestRouterThrottlesChatter(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	r := New(Config{Workers: 1, UserRatePerSec: 0.001, UserBurst: 1}, ad, nil, logx.Nop())
	done := make(chan struct{}, 4)
	r.SetRegistry([]Command{{Route: "list", Handle: func(context.Context, *Request) error {
		done <- struct{}{}
		return nil
	}}}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	in := make(chan kit.Update, 2)
	go func() { _ = r.Run(ctx, in) }()

	in <- msg(9, "/list")
	in <- msg(9, "/list")
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("first request not handled")
	}
	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(ad.lastSent(), "slow down") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !strings.Contains(ad.lastSent(), "slow down") {
		t.Fatalf("last=%q", ad.lastSent())
	}
	select {
	case <-done:
		t.Fatalf("second request should be throttled")
	default:
	}
}
