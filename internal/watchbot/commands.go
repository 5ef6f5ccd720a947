package watchbot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"sitewatch/internal/monitor"
	"sitewatch/internal/probe"
	"sitewatch/internal/transport/telegram/router"
	logx "sitewatch/pkg/logx"
	"sitewatch/pkg/tgui"
)

const (
	promptURL    = "Please send the link. Send /cancel to stop."
	listButtons  = 10
	notWatching  = "You are not watching any site yet. Send /add <url> to start."
	privateHint  = "Send /add <url> to watch a site, /check <url> for a one-off report, or /menu for all options."
	clearConfirm = "❓ Do you really want to remove all your watches and their history?"
)

func (b *Bot) cmdStart(ctx context.Context, req *router.Request) error {
	name := req.FromName
	if name == "" {
		name = "there"
	}
	text := tgui.H(fmt.Sprintf("🚀 Hi, %s! I check your sites every %s and tell you when one goes down or comes back.\n\nWhat would you like to do?",
		tgui.Esc(name), humanInterval(b.cfg.Interval)))
	return send(ctx, req, text, mainMenu())
}

func (b *Bot) cmdMenu(ctx context.Context, req *router.Request) error {
	return send(ctx, req, "What would you like to do?", mainMenu())
}

func (b *Bot) cmdAdd(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		b.pending.set(key(req), inputAddURL)
		return sendPlain(ctx, req, promptURL)
	}
	return b.addURL(ctx, req, req.Args[0], false)
}

func (b *Bot) addURL(ctx context.Context, req *router.Request, raw string, prompted bool) error {
	already := false
	if u, err := probe.ValidateURL(raw); err == nil {
		for _, w := range b.mon.Watches(req.FromID) {
			if w.URL == u {
				already = true
				break
			}
		}
	}
	ent, err := b.mon.Register(ctx, req.FromID, raw)
	if err != nil {
		var ve *monitor.ValidationError
		if prompted && errors.As(err, &ve) {
			b.pending.set(key(req), inputAddURL)
		}
		return sendPlain(ctx, req, b.userMessage(req, err))
	}
	if already {
		return send(ctx, req, tgui.H("You are already watching "+tgui.Code(ent.URL).String()+"."), nil)
	}
	return send(ctx, req, tgui.H(fmt.Sprintf("👍 Thanks! I will check %s every %s.",
		tgui.Code(ent.URL), humanInterval(b.cfg.Interval))), nil)
}

func (b *Bot) cmdRemove(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		return sendPlain(ctx, req, "Usage: /remove <url>")
	}
	ok, err := b.mon.Unregister(ctx, req.FromID, req.Args[0])
	if err != nil {
		return sendPlain(ctx, req, b.userMessage(req, err))
	}
	if !ok {
		return sendPlain(ctx, req, b.userMessage(req, monitor.ErrNotFound))
	}
	return send(ctx, req, tgui.H("Stopped watching "+tgui.Code(req.Args[0]).String()+". Its past results are no longer shown, and adding it again starts a fresh history."), nil)
}

func (b *Bot) cmdList(ctx context.Context, req *router.Request) error {
	return b.showList(ctx, req)
}

func (b *Bot) showList(ctx context.Context, req *router.Request) error {
	ws := b.mon.Watches(req.FromID)
	if len(ws) == 0 {
		return sendPlain(ctx, req, notWatching)
	}
	kb := tgui.NewInline()
	for i, w := range ws {
		if i == listButtons {
			break
		}
		n := strconv.Itoa(i + 1)
		kb.Row(
			tgui.Btn("📒 #"+n, b.urlData("history", w.URL)),
			tgui.Btn("🗑 #"+n, b.urlData("delete", w.URL)),
		)
	}
	return send(ctx, req, renderWatches(ws), kb)
}

func (b *Bot) cmdHistory(ctx context.Context, req *router.Request) error {
	if len(req.Args) > 0 {
		return b.showHistory(ctx, req, req.Args[0])
	}
	return b.showLatest(ctx, req)
}

func (b *Bot) showHistory(ctx context.Context, req *router.Request, url string) error {
	rs, err := b.mon.GetHistory(ctx, req.FromID, url)
	if err != nil {
		return sendPlain(ctx, req, b.userMessage(req, err))
	}
	if u, verr := probe.ValidateURL(url); verr == nil {
		url = u
	}
	return send(ctx, req, renderHistory(url, rs, b.cfg.HistoryLimit), nil)
}

func (b *Bot) showLatest(ctx context.Context, req *router.Request) error {
	ws := b.mon.Watches(req.FromID)
	if len(ws) == 0 {
		return sendPlain(ctx, req, notWatching)
	}
	latest := make([]latestResult, 0, len(ws))
	for _, w := range ws {
		rs, err := b.mon.GetHistory(ctx, req.FromID, w.URL)
		if err != nil {
			return sendPlain(ctx, req, b.userMessage(req, err))
		}
		l := latestResult{url: w.URL}
		if len(rs) > 0 {
			l.result = &rs[len(rs)-1]
		}
		latest = append(latest, l)
	}
	return send(ctx, req, renderLatest(latest), nil)
}

func (b *Bot) cmdDelete(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		return b.promptDelete(ctx, req)
	}
	return b.deleteIndexes(ctx, req, req.Args)
}

func (b *Bot) promptDelete(ctx context.Context, req *router.Request) error {
	ws := b.mon.Watches(req.FromID)
	if len(ws) == 0 {
		return sendPlain(ctx, req, "You have nothing to remove.")
	}
	b.pending.set(key(req), inputDeleteIndexes)
	head := tgui.H("Send the numbers of the sites to remove, separated by spaces. Send /cancel to stop.\n\n")
	return send(ctx, req, head+renderWatches(ws), nil)
}

// deleteIndexes removes the watches at the given 1-based /list positions,
// together with their history.
func (b *Bot) deleteIndexes(ctx context.Context, req *router.Request, args []string) error {
	ws := b.mon.Watches(req.FromID)
	picked := map[int]bool{}
	var bad []string
	for _, a := range args {
		for _, f := range strings.FieldsFunc(a, func(r rune) bool { return r == ',' }) {
			n, err := strconv.Atoi(strings.TrimSpace(f))
			if err != nil || n < 1 || n > len(ws) {
				bad = append(bad, f)
				continue
			}
			picked[n] = true
		}
	}
	idx := make([]int, 0, len(picked))
	for n := range picked {
		idx = append(idx, n)
	}
	sort.Ints(idx)

	var removed []string
	for _, n := range idx {
		u := ws[n-1].URL
		if err := b.mon.ClearHistory(ctx, req.FromID, u); err != nil {
			return sendPlain(ctx, req, b.userMessage(req, err))
		}
		removed = append(removed, u)
	}

	c := tgui.NewCard()
	if len(removed) > 0 {
		c.HTML(tgui.B("Removed"))
		for _, u := range removed {
			c.HTML("• " + tgui.Code(u))
		}
	}
	if len(bad) > 0 {
		c.Line("Not in your list: " + strings.Join(bad, ", "))
	}
	if len(removed) == 0 && len(bad) == 0 {
		c.Line("Nothing to remove.")
	}
	_, err := c.Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

func (b *Bot) cmdClear(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		return b.askClearAll(ctx, req)
	}
	if err := b.mon.ClearHistory(ctx, req.FromID, req.Args[0]); err != nil {
		return sendPlain(ctx, req, b.userMessage(req, err))
	}
	return send(ctx, req, tgui.H("History of "+tgui.Code(req.Args[0]).String()+" cleared and the site is no longer watched."), nil)
}

func (b *Bot) askClearAll(ctx context.Context, req *router.Request) error {
	kb := tgui.Confirm(
		tgui.Btn("Clear", callbackNS+":clear_confirm"),
		tgui.Btn("Cancel", callbackNS+":clear_cancel"),
	)
	return send(ctx, req, clearConfirm, kb)
}

func (b *Bot) cmdCheck(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		b.pending.set(key(req), inputCheckURL)
		return sendPlain(ctx, req, promptURL)
	}
	return b.inspect(ctx, req, req.Args[0], false)
}

func (b *Bot) inspect(ctx context.Context, req *router.Request, raw string, prompted bool) error {
	ictx, cancel := context.WithTimeout(ctx, b.cfg.InspectTimeout)
	defer cancel()
	info, err := b.mon.Inspect(ictx, raw)
	if err != nil {
		var ve *monitor.ValidationError
		if prompted && errors.As(err, &ve) {
			b.pending.set(key(req), inputCheckURL)
		}
		return sendPlain(ctx, req, b.userMessage(req, err))
	}
	req.Logger.Info("site inspected", logx.URL(info.URL))
	return send(ctx, req, renderInspect(info), nil)
}

func (b *Bot) cmdCheckNow(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		return sendPlain(ctx, req, "Usage: /checknow <url>")
	}
	cctx, cancel := context.WithTimeout(ctx, b.cfg.InspectTimeout)
	defer cancel()
	r, err := b.mon.CheckNow(cctx, req.FromID, req.Args[0])
	if err != nil {
		return sendPlain(ctx, req, b.userMessage(req, err))
	}
	return send(ctx, req, renderCheckNow(r), nil)
}

func (b *Bot) cmdCancel(ctx context.Context, req *router.Request) error {
	switch b.pending.take(key(req)) {
	case inputAddURL, inputCheckURL:
		return sendPlain(ctx, req, "Link input cancelled.")
	case inputDeleteIndexes:
		return sendPlain(ctx, req, "Removal cancelled.")
	}
	return sendPlain(ctx, req, "Nothing to cancel.")
}

func (b *Bot) cmdStatus(ctx context.Context, req *router.Request) error {
	c := tgui.NewCard().Title("🩺", "Status").
		KV("Watches", strconv.Itoa(b.mon.Count())).
		KV("Uptime", time.Since(b.started).Truncate(time.Second).String())
	_, err := c.Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

// handleText consumes plain messages that answer a prompt.
func (b *Bot) handleText(ctx context.Context, req *router.Request) error {
	switch b.pending.take(key(req)) {
	case inputAddURL:
		return b.addURL(ctx, req, req.Text, true)
	case inputCheckURL:
		return b.inspect(ctx, req, req.Text, true)
	case inputDeleteIndexes:
		return b.deleteIndexes(ctx, req, strings.Fields(req.Text))
	}
	if req.Chat.ChatID == req.FromID {
		return sendPlain(ctx, req, privateHint)
	}
	return nil
}

func humanInterval(d time.Duration) string {
	switch {
	case d == time.Hour:
		return "hour"
	case d%time.Hour == 0:
		return strconv.Itoa(int(d/time.Hour)) + " hours"
	case d%time.Minute == 0:
		return strconv.Itoa(int(d/time.Minute)) + " minutes"
	}
	return d.String()
}
