package watchbot

import (
	"context"
	"strconv"

	"sitewatch/internal/transport/telegram/router"
	"sitewatch/pkg/tgui"
)

func (b *Bot) cbMenu(ctx context.Context, req *router.Request, _ string) error {
	return b.cmdMenu(ctx, req)
}

func (b *Bot) cbAdd(ctx context.Context, req *router.Request, _ string) error {
	b.pending.set(key(req), inputAddURL)
	return sendPlain(ctx, req, promptURL)
}

func (b *Bot) cbCheck(ctx context.Context, req *router.Request, _ string) error {
	b.pending.set(key(req), inputCheckURL)
	return sendPlain(ctx, req, promptURL)
}

func (b *Bot) cbList(ctx context.Context, req *router.Request, _ string) error {
	return b.showList(ctx, req)
}

// cbHistory shows one site's history when the button carries a url and the
// latest-results summary otherwise.
func (b *Bot) cbHistory(ctx context.Context, req *router.Request, payload string) error {
	if payload == "" {
		return b.showLatest(ctx, req)
	}
	url, ok := b.payloadURL(payload)
	if !ok {
		return sendPlain(ctx, req, "That button has expired, open /list again.")
	}
	return b.showHistory(ctx, req, url)
}

func (b *Bot) cbDelete(ctx context.Context, req *router.Request, payload string) error {
	if payload == "" {
		return b.promptDelete(ctx, req)
	}
	url, ok := b.payloadURL(payload)
	if !ok {
		return sendPlain(ctx, req, "That button has expired, open /list again.")
	}
	if err := b.mon.ClearHistory(ctx, req.FromID, url); err != nil {
		return sendPlain(ctx, req, b.userMessage(req, err))
	}
	return send(ctx, req, tgui.H("Removed "+tgui.Code(url).String()+" and its history."), nil)
}

func (b *Bot) cbClear(ctx context.Context, req *router.Request, _ string) error {
	return b.askClearAll(ctx, req)
}

func (b *Bot) cbClearConfirm(ctx context.Context, req *router.Request, _ string) error {
	n, err := b.mon.ClearAll(ctx, req.FromID)
	if err != nil {
		return sendPlain(ctx, req, b.userMessage(req, err))
	}
	text := "🧹 Everything cleared (" + strconv.Itoa(n) + " watches removed)."
	return b.replaceConfirm(ctx, req, text)
}

func (b *Bot) cbClearCancel(ctx context.Context, req *router.Request, _ string) error {
	return b.replaceConfirm(ctx, req, "Nothing was cleared.")
}

// replaceConfirm overwrites the confirmation prompt so its buttons cannot be
// pressed twice. It falls back to a new message when the edit fails.
func (b *Bot) replaceConfirm(ctx context.Context, req *router.Request, text string) error {
	m := tgui.NewCard().Line(text).Build()
	if ref, ok := req.MessageRef(); ok {
		if err := m.Edit(ctx, req.Adapter, ref); err == nil {
			return nil
		}
	}
	_, err := m.Send(ctx, req.Adapter, req.Chat)
	return err
}
