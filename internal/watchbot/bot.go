// Package watchbot implements the chat commands and inline menus on top of
// the monitor engine.
package watchbot

import (
	"context"
	"errors"
	"time"

	tele "gopkg.in/telebot.v4"

	"sitewatch/internal/domain"
	"sitewatch/internal/monitor"
	"sitewatch/internal/probe"
	"sitewatch/internal/transport/telegram/router"
	kit "sitewatch/internal/transport"
	logx "sitewatch/pkg/logx"
	"sitewatch/pkg/tgui"
)

// Monitor is the engine surface the commands use.
type Monitor interface {
	Register(ctx context.Context, owner domain.OwnerID, raw string) (domain.WatchEntry, error)
	Unregister(ctx context.Context, owner domain.OwnerID, url string) (bool, error)
	Watches(owner domain.OwnerID) []domain.WatchEntry
	GetHistory(ctx context.Context, owner domain.OwnerID, url string) ([]domain.CheckResult, error)
	ClearHistory(ctx context.Context, owner domain.OwnerID, url string) error
	ClearAll(ctx context.Context, owner domain.OwnerID) (int, error)
	CheckNow(ctx context.Context, owner domain.OwnerID, url string) (domain.CheckResult, error)
	Inspect(ctx context.Context, raw string) (probe.SiteInfo, error)
	Count() int
}

type Config struct {
	// HistoryLimit caps the results shown by /history <url>.
	HistoryLimit int
	// PendingTTL bounds how long a prompt waits for its answer.
	PendingTTL time.Duration
	// InspectTimeout bounds /check and /checknow.
	InspectTimeout time.Duration
	// Interval is shown to users when a watch is added.
	Interval time.Duration
}

func (c Config) withDefaults() Config {
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 15
	}
	if c.PendingTTL <= 0 {
		c.PendingTTL = 10 * time.Minute
	}
	if c.InspectTimeout <= 0 {
		c.InspectTimeout = 45 * time.Second
	}
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
	return c
}

type Bot struct {
	cfg     Config
	mon     Monitor
	log     logx.Logger
	pending *pendingStore
	tokens  *tgui.TokenStore
	started time.Time
}

func New(cfg Config, mon Monitor, log logx.Logger) *Bot {
	cfg = cfg.withDefaults()
	return &Bot{
		cfg:     cfg,
		mon:     mon,
		log:     log.With(logx.Component("watchbot")),
		pending: newPendingStore(cfg.PendingTTL, time.Now),
		tokens:  tgui.NewTokenStore(0, 0),
		started: time.Now(),
	}
}

// Register installs the commands, callbacks and text fallback on r.
func (b *Bot) Register(r *router.Router) {
	r.SetRegistry(b.Commands(), b.Callbacks())
	r.SetFallback(b.handleText)
}

func (b *Bot) Commands() []router.Command {
	return []router.Command{
		{Route: "start", Description: "greeting and main menu", Handle: b.cmdStart},
		{Route: "menu", Description: "show the main menu", Handle: b.cmdMenu},
		{Route: "add", Aliases: []string{"watch"}, Description: "watch a site hourly", Usage: "/add <url>", Handle: b.cmdAdd},
		{Route: "remove", Aliases: []string{"unwatch"}, Description: "stop watching a site", Usage: "/remove <url>", Handle: b.cmdRemove},
		{Route: "list", Description: "list watched sites", Handle: b.cmdList},
		{Route: "history", Description: "show check history", Usage: "/history [url]", Handle: b.cmdHistory},
		{Route: "delete", Description: "remove watches by number", Usage: "/delete <n> [n...]", Handle: b.cmdDelete},
		{Route: "clear", Description: "clear history", Usage: "/clear [url]", Handle: b.cmdClear},
		{Route: "check", Description: "one-off site report", Usage: "/check <url>", Timeout: b.cfg.InspectTimeout + 5*time.Second, Handle: b.cmdCheck},
		{Route: "checknow", Description: "check a watched site now", Usage: "/checknow <url>", Timeout: b.cfg.InspectTimeout + 5*time.Second, Handle: b.cmdCheckNow},
		{Route: "cancel", Description: "cancel the current prompt", Handle: b.cmdCancel},
		{Route: "status", Description: "process status", Access: router.AccessOwnerOnly, Handle: b.cmdStatus},
	}
}

func (b *Bot) Callbacks() []router.CallbackRoute {
	route := func(action string, h router.CallbackHandlerFunc) router.CallbackRoute {
		return router.CallbackRoute{Namespace: callbackNS, Action: action, Handle: h}
	}
	return []router.CallbackRoute{
		route("menu", b.cbMenu),
		route("add", b.cbAdd),
		route("check", b.cbCheck),
		route("list", b.cbList),
		route("history", b.cbHistory),
		route("delete", b.cbDelete),
		route("clear", b.cbClear),
		route("clear_confirm", b.cbClearConfirm),
		route("clear_cancel", b.cbClearCancel),
	}
}

const callbackNS = "watch"

func key(req *router.Request) chatUser {
	return chatUser{chat: req.Chat.ChatID, user: req.FromID}
}

func send(ctx context.Context, req *router.Request, h tgui.H, kb *tgui.Inline) error {
	m := tgui.NewCard().HTML(h).Keyboard(kb).Build()
	_, err := m.Send(ctx, req.Adapter, req.Chat)
	return err
}

func sendPlain(ctx context.Context, req *router.Request, text string) error {
	_, err := req.Reply(ctx, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// userMessage maps engine errors onto replies. Errors the user cannot act
// on are logged.
func (b *Bot) userMessage(req *router.Request, err error) string {
	var ve *monitor.ValidationError
	switch {
	case errors.As(err, &ve):
		return "That does not look like a link (" + ve.Reason + "). Please send a site address such as example.com."
	case errors.Is(err, monitor.ErrTooManyWatches):
		return "You have reached the watch limit. Remove a site with /delete first."
	case errors.Is(err, monitor.ErrNotFound):
		return "You are not watching that site. Add it with /add first."
	case errors.Is(err, monitor.ErrBusy):
		return "A check of that site is already running, try again shortly."
	case errors.Is(err, context.DeadlineExceeded):
		return "The check took too long, try again later."
	}
	req.Logger.Warn("command failed", logx.Err(err))
	return "Something went wrong on our side, please try again later."
}

func mainMenu() *tgui.Inline {
	btn := func(text, action string) tele.Btn {
		return tgui.Btn(text, callbackNS+":"+action)
	}
	return tgui.NewInline().
		Row(btn("🔭 Check a site", "check")).
		Row(btn("✏️ Watch a site", "add")).
		Row(btn("📋 My watches", "list"), btn("📒 History", "history")).
		Row(btn("✂️ Remove some", "delete")).
		Row(btn("❌ Clear everything", "clear"))
}

// urlData builds callback data carrying url, behind a token when the url is
// too long to inline. Colons inside url survive since payloads are split on
// the first two only.
func (b *Bot) urlData(action, url string) string {
	if d, err := tgui.Data(callbackNS, action, url); err == nil {
		return d
	}
	d, _ := tgui.Data(callbackNS, action, b.tokens.Put(url))
	return d
}

// payloadURL resolves a callback payload produced by urlData.
func (b *Bot) payloadURL(payload string) (string, bool) {
	if payload == "" {
		return "", false
	}
	if payload[0] == '~' {
		return b.tokens.Get(payload)
	}
	return payload, true
}
