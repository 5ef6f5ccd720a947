package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"sitewatch/internal/eventbus"
	rtsup "sitewatch/internal/runtime/supervisor"
	kit "sitewatch/internal/transport"
	logx "sitewatch/pkg/logx"
)

// deliveryLog bounds the in-memory list served by Snapshot.
const deliveryLog = 300

type job struct {
	n   kit.Notification
	key string
}

// Service delivers alerts asynchronously: a bounded queue drained by a
// worker pool, with global and per-chat rate limits, retries and dedup.
type Service struct {
	mu        sync.Mutex
	cfg       Config
	limiter   *rate.Limiter
	accepting bool
	queue     chan job
	sup       *rtsup.Supervisor
	stopping  chan struct{} // closed when a Stop finishes
	inFlight  sync.WaitGroup

	log     logx.Logger
	adapter kit.Adapter
	bus     eventbus.Bus

	chats *chatLimits
	seen  *dedupSet

	dmu        sync.Mutex
	deliveries []Delivery
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger, bus eventbus.Bus) *Service {
	if bus == nil {
		bus = eventbus.Nop{}
	}
	s := &Service{
		log:     log.With(logx.Component("notifier")),
		adapter: adapter,
		bus:     bus,
		chats:   newChatLimits(),
		seen:    newDedupSet(),
	}
	s.setConfigLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps limits, retry and dedup settings in place. Worker and queue
// sizes apply from the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.setConfigLocked(cfg)
	s.mu.Unlock()
	s.chats.reset()
}

func (s *Service) setConfigLocked(cfg Config) {
	s.cfg = cfg.withDefaults()
	s.limiter = rate.NewLimiter(rate.Limit(s.cfg.RatePerSec), s.cfg.RatePerSec)
}

// Supervisor returns the worker supervisor, nil when not started.
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Start launches the workers. It waits for a Stop still draining, and is a
// no-op when running or disabled.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	for s.stopping != nil {
		wait := s.stopping
		s.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	defer s.mu.Unlock()
	if s.queue != nil || !s.cfg.Enabled {
		return
	}

	q := make(chan job, s.cfg.QueueSize)
	// a failed delivery never stops the process
	sup := rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	s.queue, s.sup, s.accepting = q, sup, true

	for i := range s.cfg.Workers {
		sup.GoRestart(fmt.Sprintf("deliver.%d", i), func(c context.Context) error {
			s.drain(c, q)
			if s.isStopping() {
				return context.Canceled
			}
			if err := c.Err(); err != nil {
				return err
			}
			return errors.New("delivery worker exited")
		}, rtsup.WithPublishFirstError(true))
	}
	s.log.Debug("notifier started", logx.Int("workers", s.cfg.Workers), logx.Int("queue_cap", cap(q)))
}

func (s *Service) isStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping != nil
}

// Stop refuses new alerts, then lets the workers finish the queue until ctx
// expires. Whatever is left after that is dropped.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.queue == nil {
		s.mu.Unlock()
		return
	}
	if s.stopping != nil {
		wait := s.stopping
		s.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	q, sup := s.queue, s.sup
	s.stopping, s.accepting = done, false
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.inFlight.Wait()
		close(q)
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.queue, s.sup, s.stopping = nil, nil, nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

// Notify queues n for delivery. A repeat of a key accepted within DedupTTL
// is dropped and reported as success.
func (s *Service) Notify(ctx context.Context, n kit.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	switch {
	case !s.cfg.Enabled:
		s.mu.Unlock()
		return ErrDisabled
	case !s.accepting:
		s.mu.Unlock()
		return ErrStopped
	}
	q, cfg := s.queue, s.cfg
	s.inFlight.Add(1)
	s.mu.Unlock()
	defer s.inFlight.Done()

	key := n.DedupKey
	if key == "" {
		key = contentKey(n)
	}
	if key != "" && cfg.DedupTTL > 0 && !s.seen.admit(key, cfg.DedupTTL, cfg.DedupMaxEntries, time.Now()) {
		s.publish(eventbus.NotifyDeduped, n, key, 0, nil)
		return nil
	}

	select {
	case q <- job{n: n, key: key}:
		s.publish(eventbus.NotifyQueued, n, key, 0, nil)
		return nil
	default:
		s.publish(eventbus.NotifyDropped, n, key, 0, ErrQueueFull)
		s.log.Warn("alert dropped, queue full", logx.Owner(n.Target.ChatID), logx.Int("queue_cap", cap(q)))
		return ErrQueueFull
	}
}

// Snapshot returns recent deliveries, oldest first.
func (s *Service) Snapshot() []Delivery {
	s.dmu.Lock()
	defer s.dmu.Unlock()
	return append([]Delivery(nil), s.deliveries...)
}

func (s *Service) recordDelivery(d Delivery) {
	s.dmu.Lock()
	s.deliveries = append(s.deliveries, d)
	if over := len(s.deliveries) - deliveryLog; over > 0 {
		s.deliveries = append(s.deliveries[:0:0], s.deliveries[over:]...)
	}
	s.dmu.Unlock()
}
