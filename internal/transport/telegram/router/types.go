// Package router dispatches Telegram updates to commands and inline-button
// callbacks through a bounded worker pool.
package router

import (
	"context"
	"time"

	kit "sitewatch/internal/transport"
	logx "sitewatch/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	// Route is a space-separated command path, e.g. "add" or "history clear".
	Route       string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration
	Handle      HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

// CallbackRoute handles callback data of the form "<namespace>:<action>:<payload>".
type CallbackRoute struct {
	Namespace string
	Action    string
	Access    Access
	Timeout   time.Duration
	Handle    CallbackHandlerFunc
}

type Request struct {
	Update   kit.Update
	Chat     kit.ChatTarget
	FromID   int64
	FromName string
	Path     []string
	Command  string
	Args     []string
	Payload  string
	Text     string
	ReqID    string

	Adapter kit.Adapter
	Logger  logx.Logger
	Owner   bool
}

// Reply sends text to the request's chat.
func (r *Request) Reply(ctx context.Context, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return r.Adapter.SendText(ctx, r.Chat, text, opt)
}

// MessageRef is the message a callback was pressed on.
func (r *Request) MessageRef() (kit.MessageRef, bool) {
	cb := r.Update.Callback
	if cb == nil || cb.MessageID == 0 {
		return kit.MessageRef{}, false
	}
	return kit.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID}, true
}

type Config struct {
	Workers   int
	QueueSize int
	// CommandTimeout applies when a command sets no Timeout.
	CommandTimeout time.Duration

	// UserRatePerSec and UserBurst form a token bucket per non-owner user.
	// Zero rate disables throttling.
	UserRatePerSec float64
	UserBurst      int
}

const maxTrackedUsers = 10000

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 30 * time.Second
	}
	if c.UserRatePerSec > 0 && c.UserBurst <= 0 {
		c.UserBurst = 5
	}
	return c
}
