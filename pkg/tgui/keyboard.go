package tgui

import (
	"errors"

	tele "gopkg.in/telebot.v4"
)

// MaxCallbackData is Telegram's callback_data limit in bytes.
const MaxCallbackData = 64

var ErrCallbackTooLong = errors.New("tgui: callback data too long")

// Data formats "<ns>:<action>[:<payload>]".
func Data(ns, action, payload string) (string, error) {
	s := ns + ":" + action
	if payload != "" {
		s += ":" + payload
	}
	if len(s) > MaxCallbackData {
		return "", ErrCallbackTooLong
	}
	return s, nil
}

// Inline builds an inline keyboard row by row.
type Inline struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
}

func NewInline() *Inline { return &Inline{rm: &tele.ReplyMarkup{}} }

func (i *Inline) Row(btns ...tele.Btn) *Inline {
	if len(btns) == 0 {
		return i
	}
	i.rows = append(i.rows, i.rm.Row(btns...))
	i.rm.Inline(i.rows...)
	return i
}

func (i *Inline) Len() int { return len(i.rows) }

func (i *Inline) Markup() *tele.ReplyMarkup { return i.rm }

// Btn is a callback button. Data must already fit MaxCallbackData.
func Btn(text, data string) tele.Btn { return tele.Btn{Text: text, Data: data} }

func URLBtn(text, url string) tele.Btn { return tele.Btn{Text: text, URL: url} }

// Confirm is a one-row yes/no keyboard.
func Confirm(yes, no tele.Btn) *Inline { return NewInline().Row(yes, no) }
