package notifier

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"sitewatch/internal/eventbus"
	kit "sitewatch/internal/transport"
	logx "sitewatch/pkg/logx"
)

const (
	sendTimeout = 10 * time.Second
	// maxFloodWait caps a server-requested back-off so Stop stays bounded.
	maxFloodWait = time.Minute
	// maxChatLimiters bounds the per-chat limiter table; it is cleared when full.
	maxChatLimiters = 10000
)

func (s *Service) drain(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.deliver(ctx, j)
		}
	}
}

// deliver sends one job, retrying transient failures with jittered
// exponential back-off. An unreachable recipient fails at once.
func (s *Service) deliver(ctx context.Context, j job) {
	s.mu.Lock()
	cfg, global := s.cfg, s.limiter
	s.mu.Unlock()
	if s.adapter == nil || j.n.Text == "" {
		return
	}
	text := priorityMark(j.n.Priority) + j.n.Text
	chat := s.chats.get(j.n.Target.ChatID, cfg.ChatRatePerSec)
	log := s.log.With(logx.Owner(j.n.Target.ChatID), logx.String("key", j.key))

	attempts := 1 + cfg.RetryMax
	var err error
	for try := 1; try <= attempts; try++ {
		if global.Wait(ctx) != nil || chat.Wait(ctx) != nil {
			return
		}
		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		_, err = s.adapter.SendText(sendCtx, j.n.Target, text, j.n.Options)
		cancel()
		if err == nil {
			s.recordDelivery(Delivery{At: time.Now(), ChatID: j.n.Target.ChatID, Priority: j.n.Priority, Attempts: try, Text: text})
			s.publish(eventbus.NotifySent, j.n, j.key, try, nil)
			return
		}
		if errors.Is(err, kit.ErrUnreachable) {
			log.Info("alert not delivered, recipient unreachable", logx.Err(err))
			s.publish(eventbus.NotifyFailed, j.n, j.key, try, err)
			return
		}
		log.Debug("send failed", logx.Int("attempt", try), logx.Int("of", attempts), logx.Err(err))
		if try == attempts {
			break
		}
		if !sleepCtx(ctx, s.backoff(cfg, try, err)) {
			return
		}
	}

	log.Warn("alert delivery failed", logx.Int("attempts", attempts), logx.Err(err))
	s.publish(eventbus.NotifyFailed, j.n, j.key, attempts, err)
}

// backoff honors a server-requested wait when it is longer than ours.
func (s *Service) backoff(cfg Config, try int, err error) time.Duration {
	d := retryDelay(cfg, try)
	if hint, ok := kit.RetryHint(err); ok {
		d = min(max(d, hint), maxFloodWait)
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// retryDelay is the wait after attempt try: RetryBase doubled per attempt,
// jittered by ±30% and capped at RetryMaxDelay.
func retryDelay(cfg Config, try int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < try && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(d) * (0.7 + 0.6*rand.Float64()))
	return min(d, cfg.RetryMaxDelay)
}

func priorityMark(p int) string {
	switch {
	case p >= 9:
		return "🚨 "
	case p >= 7:
		return "⚠️ "
	}
	return ""
}

func (s *Service) publish(typ string, n kit.Notification, key string, attempts int, err error) {
	now := time.Now()
	ev := NotificationEvent{
		Channel:  n.Channel,
		ChatID:   n.Target.ChatID,
		ThreadID: n.Target.ThreadID,
		Key:      key,
		At:       now,
		Attempts: attempts,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
}

// chatLimits keeps one limiter per chat so a burst of alerts for one owner
// stays within Telegram's per-chat limit.
type chatLimits struct {
	mu sync.Mutex
	m  map[int64]*rate.Limiter
}

func newChatLimits() *chatLimits { return &chatLimits{m: map[int64]*rate.Limiter{}} }

func (c *chatLimits) get(chatID int64, perSec float64) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.m[chatID]; ok {
		return l
	}
	if len(c.m) >= maxChatLimiters {
		clear(c.m)
	}
	l := rate.NewLimiter(rate.Limit(perSec), 1)
	c.m[chatID] = l
	return l
}

func (c *chatLimits) reset() {
	c.mu.Lock()
	clear(c.m)
	c.mu.Unlock()
}
