// Package transport holds the chat-transport contract shared by the Telegram
// adapter, the command router and the alert notifier.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

// Update is one inbound event; exactly one of Message and Callback is set.
type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

// Message is a text message. Private chats have ChatID == FromID, which is
// also the watch owner id.
type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int
	FromID       int64
	FromUsername string
	FromName     string
	Text         string
}

// Callback is an inline-button press. Data is "<plugin>:<action>:<payload>".
type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	ThreadID  int
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

// MessageRef points at a sent message so it can be edited in place.
type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool

	// ReplyMarkupAdapter carries adapter-specific markup (*telebot.ReplyMarkup).
	ReplyMarkupAdapter any
}

// Notification is one outbound message queued through the notifier.
// DedupKey, when set, replaces the text-derived dedup key.
type Notification struct {
	Channel  string // "telegram"
	Priority int    // 0 low .. 10 high
	Target   ChatTarget
	Text     string
	Options  *SendOptions
	DedupKey string
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish a command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}

// ErrUnreachable marks a send that can never succeed: the user blocked the
// bot or the chat is gone. Callers should not retry.
var ErrUnreachable = errors.New("recipient unreachable")

// RateLimitedError is returned by an adapter when the chat service asked
// the caller to back off before the next send.
type RateLimitedError struct {
	Err   error
	After time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s: %v", e.After, e.Err)
}

func (e *RateLimitedError) Unwrap() error { return e.Err }

// RetryHint reports the back-off requested by err, if any.
func RetryHint(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) && rl.After > 0 {
		return rl.After, true
	}
	return 0, false
}
