package notifier

import (
	"errors"
	"time"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled   bool
	Workers   int
	QueueSize int

	// RatePerSec is the global send budget; ChatRatePerSec applies per chat.
	RatePerSec     int
	ChatRatePerSec float64

	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration

	// DedupTTL drops a notification whose key was accepted within the window.
	DedupTTL        time.Duration
	DedupMaxEntries int
}

func (c Config) withDefaults() Config {
	c.Workers = positiveOr(c.Workers, 2)
	c.QueueSize = positiveOr(c.QueueSize, 512)
	c.RatePerSec = positiveOr(c.RatePerSec, 25)
	c.DedupMaxEntries = positiveOr(c.DedupMaxEntries, 2000)
	c.RetryMax = max(c.RetryMax, 0)
	c.DedupTTL = max(c.DedupTTL, 0)
	if c.ChatRatePerSec <= 0 {
		c.ChatRatePerSec = 1
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	return c
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// Delivery is one message that reached the chat service.
type Delivery struct {
	At       time.Time `json:"at"`
	ChatID   int64     `json:"chat_id"`
	Priority int       `json:"priority"`
	Attempts int       `json:"attempts"`
	Text     string    `json:"text"`
}

// NotificationEvent is the payload of notify.* bus events.
type NotificationEvent struct {
	Channel  string    `json:"channel"`
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	Key      string    `json:"key"`
	At       time.Time `json:"at"`
	Attempts int       `json:"attempts,omitempty"`
	Error    string    `json:"error,omitempty"`
}
