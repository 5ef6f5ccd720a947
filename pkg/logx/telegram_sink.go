package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "sitewatch/internal/transport"
	"sitewatch/pkg/tgui"
)

// Sender is the part of the chat adapter the Telegram sink needs.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

const (
	tgMaxRunes   = 3500
	tgFieldRunes = 300
	tgStackRunes = 900
	tgQueueSize  = 256
)

// telegramSink is a zerolog.LevelWriter that forwards records to a chat.
// It drops rather than blocks when the queue is full or the rate is spent.
type telegramSink struct {
	sender Sender
	queue  chan telegramItem

	mu       sync.Mutex
	enabled  bool
	chatID   int64
	threadID int
	minLevel zerolog.Level
	limiter  *rate.Limiter

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

type telegramItem struct {
	to   kit.ChatTarget
	text string
}

func newTelegramSink(sender Sender, cfg TelegramConfig) *telegramSink {
	return &telegramSink{
		sender:   sender,
		queue:    make(chan telegramItem, tgQueueSize),
		threadID: cfg.ThreadID,
		minLevel: zerolog.WarnLevel,
	}
}

// configure reports whether the sink should be part of the writer set.
func (t *telegramSink) configure(cfg TelegramConfig) bool {
	on := cfg.Enabled && t.sender != nil

	t.mu.Lock()
	t.enabled = on
	t.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	t.limiter = rate.NewLimiter(rate.Limit(cfg.rate()), cfg.rate())
	if cfg.ThreadID != 0 {
		t.threadID = cfg.ThreadID
	}
	t.mu.Unlock()

	if on {
		t.startOnce.Do(t.start)
	}
	return on
}

func (t *telegramSink) setTarget(chatID int64, threadID int) {
	t.mu.Lock()
	t.chatID = chatID
	if threadID != 0 {
		t.threadID = threadID
	}
	t.mu.Unlock()
}

func (t *telegramSink) hasTarget() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.chatID != 0
}

func (t *telegramSink) start() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	t.mu.Lock()
	t.cancel, t.done = cancel, done
	t.mu.Unlock()

	go func() {
		defer close(done)
		opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
		for {
			select {
			case <-ctx.Done():
				return
			case it := <-t.queue:
				sctx, stop := context.WithTimeout(ctx, 10*time.Second)
				_, _ = t.sender.SendText(sctx, it.to, it.text, opt)
				stop()
			}
		}
	}()
}

func (t *telegramSink) close() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.enabled = false
	t.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (t *telegramSink) Write(p []byte) (int, error) {
	return t.WriteLevel(zerolog.InfoLevel, p)
}

func (t *telegramSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	t.mu.Lock()
	ok := t.enabled && t.chatID != 0 && level >= t.minLevel && t.limiter != nil && t.limiter.Allow()
	to := kit.ChatTarget{ChatID: t.chatID, ThreadID: t.threadID}
	t.mu.Unlock()
	if !ok {
		return len(p), nil
	}
	if text := formatRecord(p); text != "" {
		select {
		case t.queue <- telegramItem{to: to, text: text}:
		default:
		}
	}
	return len(p), nil
}

// formatRecord renders one JSON log line as Telegram HTML: the level and
// message in bold, then the fields in key order. Values are cut before
// escaping so no entity is split.
func formatRecord(p []byte) string {
	raw := strings.TrimSpace(string(p))
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return string(tgui.Code(tgui.Trunc(raw, tgMaxRunes)))
	}

	var b strings.Builder
	lvl, _ := m["level"].(string)
	msg, _ := m["message"].(string)
	if lvl != "" {
		b.WriteString(string(tgui.B(strings.ToUpper(lvl))) + " ")
	}
	b.WriteString(string(tgui.Esc(msg)))

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		var line string
		if k == "stack" {
			line = "\n<pre>" + string(tgui.Esc(tgui.Trunc(fmt.Sprint(m[k]), tgStackRunes))) + "</pre>"
		} else {
			line = "\n" + string(tgui.Code(k)) + " " + string(tgui.Esc(tgui.Trunc(fmt.Sprint(m[k]), tgFieldRunes)))
		}
		if utf8.RuneCountInString(b.String())+utf8.RuneCountInString(line) > tgMaxRunes {
			b.WriteString("\n…")
			break
		}
		b.WriteString(line)
	}
	return b.String()
}
