package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	kit "sitewatch/internal/transport"
)

func TestLoggerWithFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(Component("probe"))
	log.Warn("check failed", URL("https://example.com"), Err(errors.New("boom")))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	if m["comp"] != "probe" || m["url"] != "https://example.com" {
		t.Fatalf("missing fields: %v", m)
	}
	if c, _ := m["caller"].(string); !strings.HasPrefix(c, "logging_test.go:") {
		t.Fatalf("caller = %v", m["caller"])
	}
	if m["level"] != "warn" {
		t.Fatalf("level = %v, want warn", m["level"])
	}
}

func TestLoggerZeroValueIsNoop(t *testing.T) {
	t.Parallel()
	var l Logger
	l.Info("ignored")
	l.With(Component("x")).Error("ignored", Err(errors.New("boom")))
	Nop().Warn("ignored")
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" WARNING ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"nope", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in, zerolog.InfoLevel); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFormatRecord(t *testing.T) {
	t.Parallel()
	got := formatRecord([]byte(`{"level":"error","message":"store <down>","url":"https://a.example/?q=1&r=2","op":"append","time":"x"}`))
	want := "<b>ERROR</b> store &lt;down&gt;\n<code>op</code> append\n<code>url</code> https://a.example/?q=1&amp;r=2"
	if got != want {
		t.Fatalf("got %q\nwant %q", got, want)
	}
	if raw := formatRecord([]byte("not json")); raw != "<code>not json</code>" {
		t.Fatalf("raw=%q", raw)
	}
}

type captureSender struct {
	mu   sync.Mutex
	sent []string
	to   []kit.ChatTarget
}

func (c *captureSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	c.to = append(c.to, to)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func TestTelegramSinkForwardsWarnings(t *testing.T) {
	t.Parallel()
	snd := &captureSender{}
	cfg := Config{Level: "debug", File: FileConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "x.log")},
		Telegram: TelegramConfig{Enabled: true, ThreadID: 4, RatePerSec: 100}}
	svc, log := New(cfg, snd)
	defer svc.Close()
	svc.SetTelegramTarget(-100, 0)

	log.Info("routine")
	log.Warn("probe failed", URL("https://a.example"), Owner(7))

	deadline := time.Now().Add(2 * time.Second)
	for snd.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	snd.mu.Lock()
	defer snd.mu.Unlock()
	if len(snd.sent) != 1 {
		t.Fatalf("sent %d messages, want 1: %q", len(snd.sent), snd.sent)
	}
	if !strings.Contains(snd.sent[0], "probe failed") || !strings.Contains(snd.sent[0], "<code>owner</code> 7") {
		t.Fatalf("text=%q", snd.sent[0])
	}
	if snd.to[0] != (kit.ChatTarget{ChatID: -100, ThreadID: 4}) {
		t.Fatalf("target=%+v", snd.to[0])
	}
}

func TestServiceFileSink(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "logs", "bot.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path, MaxSizeMB: 1}}, nil)
	log.Info("hello")
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
