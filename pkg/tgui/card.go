package tgui

import (
	"context"
	"strings"

	kit "sitewatch/internal/transport"
)

// Message is rendered text plus its send options.
type Message struct {
	Text string
	Opt  *kit.SendOptions
}

func (m Message) Send(ctx context.Context, ad kit.Adapter, to kit.ChatTarget) (kit.MessageRef, error) {
	return ad.SendText(ctx, to, m.Text, m.Opt)
}

func (m Message) Edit(ctx context.Context, ad kit.Adapter, ref kit.MessageRef) error {
	return ad.EditText(ctx, ref, m.Text, m.Opt)
}

// Card accumulates HTML lines. Plain strings are escaped; H values are not.
type Card struct {
	lines []string
	kb    *Inline
}

func NewCard() *Card { return &Card{} }

func (c *Card) Title(emoji, title string) *Card {
	c.lines = append(c.lines, strings.TrimSpace(emoji+" "+B(title).String()))
	return c
}

func (c *Card) Line(s string) *Card {
	c.lines = append(c.lines, Esc(s).String())
	return c
}

func (c *Card) HTML(h H) *Card {
	c.lines = append(c.lines, string(h))
	return c
}

func (c *Card) Blank() *Card {
	c.lines = append(c.lines, "")
	return c
}

// KV adds "• <b>key</b>: value"; empty values are skipped.
func (c *Card) KV(key, value string) *Card {
	if strings.TrimSpace(value) == "" {
		return c
	}
	c.lines = append(c.lines, "• "+B(key).String()+": "+Esc(value).String())
	return c
}

func (c *Card) Keyboard(kb *Inline) *Card {
	c.kb = kb
	return c
}

func (c *Card) Build() Message {
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	if c.kb != nil && c.kb.Len() > 0 {
		opt.ReplyMarkupAdapter = c.kb.Markup()
	}
	return Message{Text: strings.Trim(strings.Join(c.lines, "\n"), "\n"), Opt: opt}
}
