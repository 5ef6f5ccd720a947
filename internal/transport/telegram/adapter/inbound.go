package adapter

import (
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "sitewatch/internal/transport"
)

// onText receives every text message, including commands: none are
// registered with telebot, so routing is left to the command router.
func (a *Adapter) onText(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Chat == nil {
		return nil
	}
	msg := &kit.Message{ID: m.ID, ChatID: m.Chat.ID, ThreadID: m.ThreadID, Text: m.Text}
	if s := m.Sender; s != nil {
		msg.FromID = s.ID
		msg.FromUsername = s.Username
		msg.FromName = strings.TrimSpace(s.FirstName + " " + s.LastName)
	}
	a.forward(kit.Update{Kind: kit.UpdateMessage, Message: msg})
	return nil
}

func (a *Adapter) onCallback(c tele.Context) error {
	cb := c.Callback()
	if cb == nil || cb.Message == nil || cb.Message.Chat == nil {
		return nil
	}
	up := &kit.Callback{
		ID:        cb.ID,
		ChatID:    cb.Message.Chat.ID,
		ThreadID:  cb.Message.ThreadID,
		MessageID: cb.Message.ID,
		Data:      strings.TrimSpace(cb.Data),
	}
	if cb.Sender != nil {
		up.FromID = cb.Sender.ID
	}
	a.forward(kit.Update{Kind: kit.UpdateCallback, Callback: up})
	return nil
}

// forward never blocks the poller: a full dispatch queue drops the update.
func (a *Adapter) forward(up kit.Update) {
	out := a.out.Load()
	if out == nil {
		return
	}
	a.stats.received.Add(1)
	select {
	case *out <- up:
	default:
		a.stats.dropped.Add(1)
		a.stats.pendingDrop.Add(1)
	}
}
