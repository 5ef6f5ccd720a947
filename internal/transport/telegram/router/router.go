package router

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "sitewatch/internal/runtime/supervisor"
	kit "sitewatch/internal/transport"
	logx "sitewatch/pkg/logx"
)

type Router struct {
	cfg     Config
	log     logx.Logger
	adapter kit.Adapter

	mu        sync.RWMutex
	root      *cmdNode
	alias     map[string]*cmdNode
	callbacks map[string]map[string]CallbackRoute
	fallback  HandlerFunc
	owners    []int64
	limits    *userLimits

	runMu sync.Mutex
	sup   *rtsup.Supervisor
	jobs  chan func()
}

func New(cfg Config, adapter kit.Adapter, owners []int64, log logx.Logger) *Router {
	cfg = cfg.withDefaults()
	return &Router{
		cfg:       cfg,
		log:       log.With(logx.Component("telegram.router")),
		adapter:   adapter,
		root:      newRoot(),
		alias:     map[string]*cmdNode{},
		callbacks: map[string]map[string]CallbackRoute{},
		owners:    slices.Clone(owners),
		limits:    newUserLimits(cfg.UserRatePerSec, cfg.UserBurst, maxTrackedUsers),
		jobs:      make(chan func(), cfg.QueueSize),
	}
}

// SetOwners replaces the owner list used by AccessOwnerOnly.
func (r *Router) SetOwners(owners []int64) {
	r.mu.Lock()
	r.owners = slices.Clone(owners)
	r.mu.Unlock()
}

func (r *Router) isOwner(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Contains(r.owners, id)
}

// SetFallback handles plain (non-command) text messages.
func (r *Router) SetFallback(h HandlerFunc) {
	r.mu.Lock()
	r.fallback = h
	r.mu.Unlock()
}

// SetRegistry installs cmds and cbs, replacing any previous set. A /help
// command is always added.
func (r *Router) SetRegistry(cmds []Command, cbs []CallbackRoute) {
	cmds = append(slices.Clone(cmds), Command{
		Route:       "help",
		Description: "show command help",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			_, err := req.Reply(ctx, r.helpText(req.Args, req.Owner), &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
			return err
		},
	})

	root := newRoot()
	alias := map[string]*cmdNode{}
	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		leaf := root.add(route, c)
		// Multi-token routes also answer to their Telegram-safe joined form
		// (/history_clear). Single tokens stay out of the alias map so they
		// still reach their subcommands.
		if len(route) > 1 {
			if name := menuName(route); name != "" {
				alias[name] = leaf
			}
		}
		for _, a := range c.Aliases {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" && !strings.Contains(a, " ") {
				alias[a] = leaf
			}
		}
	}

	cb := map[string]map[string]CallbackRoute{}
	for _, rt := range cbs {
		if rt.Namespace == "" || rt.Action == "" || rt.Handle == nil {
			continue
		}
		if cb[rt.Namespace] == nil {
			cb[rt.Namespace] = map[string]CallbackRoute{}
		}
		cb[rt.Namespace][rt.Action] = rt
	}

	r.mu.Lock()
	r.root, r.alias, r.callbacks = root, alias, cb
	r.mu.Unlock()

	if up, ok := r.adapter.(kit.CommandMenuUpdater); ok {
		menu := buildMenu(root)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(ctx, menu); err != nil {
				r.log.Warn("menu update failed", logx.Err(err))
			}
		}()
	}
}

// Supervisor returns the dispatcher's supervisor while Run is active.
func (r *Router) Supervisor() *rtsup.Supervisor {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	return r.sup
}

// Run consumes updates until ctx is done or updates is closed. Handlers run
// on cfg.Workers goroutines; when the queue is full the user is told to retry.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(r.log), rtsup.WithCancelOnError(false))
	r.runMu.Lock()
	r.sup = sup
	r.runMu.Unlock()

	for i := 0; i < r.cfg.Workers; i++ {
		sup.GoRestart("command.worker."+strconv.Itoa(i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-r.jobs:
					job()
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithStopOnCleanExit(true),
		)
	}
	r.log.Info("dispatcher started", logx.Int("workers", r.cfg.Workers), logx.Int("queue_cap", cap(r.jobs)))

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.runMu.Lock()
		r.sup = nil
		r.runMu.Unlock()
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.route(ctx, up)
		}
	}
}

func (r *Router) route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message != nil {
			r.routeMessage(ctx, up)
		}
	case kit.UpdateCallback:
		if up.Callback != nil {
			r.routeCallback(ctx, up)
		}
	}
}

func (r *Router) enqueue(job func()) bool {
	select {
	case r.jobs <- job:
		return true
	default:
		return false
	}
}

func (r *Router) newRequest(up kit.Update, chat kit.ChatTarget, from int64, command string) *Request {
	rid := newReqID()
	return &Request{
		Update:  up,
		Chat:    chat,
		FromID:  from,
		Command: command,
		ReqID:   rid,
		Adapter: r.adapter,
		Owner:   r.isOwner(from),
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int64("from_id", from),
			logx.String("cmd", command),
		),
	}
}

func (r *Router) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	parts := tokenize(msg.Text)
	if len(parts) == 0 {
		return
	}

	word, isCmd := commandWord(parts[0])
	if !isCmd {
		r.mu.RLock()
		fb := r.fallback
		r.mu.RUnlock()
		if fb == nil {
			return
		}
		req := r.newRequest(up, chat, msg.FromID, "text")
		req.FromName = msg.FromName
		req.Text = strings.TrimSpace(msg.Text)
		r.dispatch(ctx, req, fb, r.cfg.CommandTimeout, func() {
			_, _ = r.adapter.SendText(ctx, chat, "Busy, try again in a moment.", nil)
		})
		return
	}

	r.mu.RLock()
	root, alias := r.root, r.alias
	r.mu.RUnlock()

	var (
		node *cmdNode
		path []string
		args = parts[1:]
	)
	if leaf, ok := alias[word]; ok {
		node, path = leaf, splitRoute(leaf.cmd.Route)
	} else if top, ok := root.child(word); ok {
		var sub []string
		node, sub, args = top.walk(args)
		path = append([]string{word}, sub...)
	} else {
		_, _ = r.adapter.SendText(ctx, chat, "Unknown command. Try /help", nil)
		return
	}

	if node.cmd == nil {
		_, _ = r.adapter.SendText(ctx, chat, r.helpText(path, r.isOwner(msg.FromID)), &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
		return
	}
	cmd := *node.cmd
	if cmd.Access == AccessOwnerOnly && !r.isOwner(msg.FromID) {
		_, _ = r.adapter.SendText(ctx, chat, "This command is restricted to bot owners.", nil)
		return
	}

	req := r.newRequest(up, chat, msg.FromID, cmd.Route)
	req.FromName = msg.FromName
	req.Path = path
	req.Args = args
	req.Text = strings.TrimSpace(msg.Text)
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = r.cfg.CommandTimeout
	}
	r.dispatch(ctx, req, cmd.Handle, timeout, func() {
		_, _ = r.adapter.SendText(ctx, chat, "Busy, try again in a moment.", nil)
	})
}

func (r *Router) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	ns, action, payload, ok := splitCallback(cb.Data)
	if !ok {
		return
	}
	r.mu.RLock()
	route, found := r.callbacks[ns][action]
	r.mu.RUnlock()
	if !found {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}
	if route.Access == AccessOwnerOnly && !r.isOwner(cb.FromID) {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "forbidden")
		return
	}

	req := r.newRequest(up, kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}, cb.FromID, "cb:"+ns+":"+action)
	req.Payload = payload
	h := func(ctx context.Context, req *Request) error { return route.Handle(ctx, req, payload) }
	timeout := route.Timeout
	if timeout <= 0 {
		timeout = r.cfg.CommandTimeout
	}
	r.dispatch(ctx, req, func(ctx context.Context, req *Request) error {
		err := h(ctx, req)
		// stops the client's loading spinner
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		return err
	}, timeout, func() {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "busy")
	})
}

func (r *Router) dispatch(ctx context.Context, req *Request, h HandlerFunc, timeout time.Duration, busy func()) {
	final := Chain(h, WithRecover(), WithRequestLog(), WithUserRate(r.limits, r.throttled), WithDeadline(timeout))
	if !r.enqueue(func() { _ = final(ctx, req) }) {
		req.Logger.Warn("command queue full")
		busy()
	}
}

func (r *Router) throttled(ctx context.Context, req *Request) {
	if cb := req.Update.Callback; cb != nil {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "slow down")
		return
	}
	_, _ = r.adapter.SendText(ctx, req.Chat, "Too many requests, slow down a little.", nil)
}
