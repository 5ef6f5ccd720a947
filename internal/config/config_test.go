package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
telegram:
  token: "123:abc"
  owner_user_ids: [1, 2]
  group_log: "-100200"
logging:
  level: info
  console: true
monitor:
  interval: 1h
  cert_affects_health: true
probe:
  timeout: 10s
  insecure_skip_verify: false
storage:
  driver: sqlite
  sqlite:
    path: ./sitewatch.db
  retention: 720h
ops:
  enabled: true
  addr: 127.0.0.1:9090
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(writeFile(t, "config.yaml", validYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || len(cfg.Telegram.OwnerUserIDs) != 2 {
		t.Fatalf("telegram=%+v", cfg.Telegram)
	}
	if !cfg.Monitor.CertAffectsHealth || cfg.Storage.SQLite.Path != "./sitewatch.db" {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.Probe.InsecureSkipVerify == nil || *cfg.Probe.InsecureSkipVerify {
		t.Fatalf("insecure_skip_verify not decoded")
	}
	if m.Get() != cfg {
		t.Fatalf("Get did not return the committed config")
	}
}

func TestLoadRejects(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name, file, body, want string
	}{
		{"unknown key", "c.json", `{"telegram":{"token":"x"},"bogus":1}`, "unknown field"},
		{"trailing data", "c.json", `{"telegram":{"token":"x"}} {}`, "trailing"},
		{"missing token", "c.json", `{"telegram":{}}`, "telegram.token"},
		{"bad duration", "c.json", `{"telegram":{"token":"x"},"monitor":{"interval":"soon"}}`, "monitor.interval"},
		{"short interval", "c.json", `{"telegram":{"token":"x"},"monitor":{"interval":"5s"}}`, "at least 1m"},
		{"negative", "c.json", `{"telegram":{"token":"x"},"monitor":{"workers":-1}}`, "monitor.workers"},
		{"driver", "c.json", `{"telegram":{"token":"x"},"storage":{"driver":"mongo"}}`, "unknown storage.driver"},
		{"sqlite path", "c.json", `{"telegram":{"token":"x"},"storage":{"driver":"sqlite"}}`, "storage.sqlite.path"},
		{"group log", "c.json", `{"telegram":{"token":"x","group_log":"logs"}}`, "group_log"},
		{"tick shorter than probe", "c.json", `{"telegram":{"token":"x"},"monitor":{"tick_timeout":"5s"}}`, "monitor.tick_timeout"},
		{"tick equals cert", "c.json", `{"telegram":{"token":"x"},"monitor":{"tick_timeout":"30s"},"probe":{"cert_timeout":"30s"}}`, "monitor.tick_timeout"},
		{"inspect too short", "c.json", `{"telegram":{"token":"x"},"commands":{"inspect_timeout":"15s"}}`, "commands.inspect_timeout"},
		{"bad yaml", "c.yml", "telegram: [", "yaml"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewConfigManager(writeFile(t, tc.file, tc.body)).Load()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err=%v, want %q", err, tc.want)
			}
		})
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	cases := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{" 90s ", 90 * time.Second, false},
		{"1h30m", 90 * time.Minute, false},
		{"-1s", 0, true},
		{"ten", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseDurationField("x", tc.raw)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Fatalf("ParseDurationField(%q)=%v,%v", tc.raw, got, err)
		}
	}
	if d, _ := ParseDurationOrDefault("x", "", time.Hour); d != time.Hour {
		t.Fatalf("default=%v", d)
	}
	if d, err := ParseInterval("x", "", time.Hour, MinInterval); err != nil || d != time.Hour {
		t.Fatalf("blank interval=%v,%v", d, err)
	}
	if _, err := ParseInterval("x", "30s", time.Hour, MinInterval); err == nil || !strings.Contains(err.Error(), "at least 1m") {
		t.Fatalf("short interval err=%v", err)
	}
}

func TestReloadPublishesChanges(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{"telegram":{"token":"x"},"logging":{"level":"info"}}`)
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	sub := m.Subscribe(1)
	ctx := context.Background()

	if published, err := m.Reload(ctx); err != nil || published {
		t.Fatalf("unchanged reload published=%v err=%v", published, err)
	}

	if err := os.WriteFile(path, []byte(`{"telegram":{"token":"x"},"logging":{"level":"debug"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if published, err := m.Reload(ctx); err != nil || !published {
		t.Fatalf("reload published=%v err=%v", published, err)
	}
	select {
	case cfg := <-sub:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("level=%q", cfg.Logging.Level)
		}
	default:
		t.Fatalf("subscriber got nothing")
	}

	// a rejected file keeps the committed config
	m.SetValidator(func(context.Context, *Config) error { return context.Canceled })
	if err := os.WriteFile(path, []byte(`{"telegram":{"token":"x"},"logging":{"level":"warn"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Reload(ctx); err == nil {
		t.Fatalf("validator error ignored")
	}
	if m.Get().Logging.Level != "debug" {
		t.Fatalf("rejected config committed")
	}
	if info := m.Info(); info.Revision != 2 || info.Rejected == "" || info.Checksum == "" {
		t.Fatalf("info=%+v", info)
	}
	m.Unsubscribe(sub)
	if _, ok := <-sub; ok {
		t.Fatalf("subscription not closed")
	}
}

func TestWatchPicksUpWrites(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{"telegram":{"token":"x"}}`)
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	sub := m.Subscribe(1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(300 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-sub:
			if len(cfg.Telegram.OwnerUserIDs) != 1 {
				t.Fatalf("owners=%v", cfg.Telegram.OwnerUserIDs)
			}
			return
		case <-tick.C:
			// rewrite until the watcher is up and sees it
			_ = os.WriteFile(path, []byte(`{"telegram":{"token":"x","owner_user_ids":[7]}}`), 0o600)
		case <-deadline:
			t.Fatalf("no reload observed")
		}
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	old := &Config{Telegram: TelegramConfig{Token: "a"}, Ops: OpsConfig{Token: "s1"}}
	nw := &Config{Telegram: TelegramConfig{Token: "a", OwnerUserIDs: []int64{1}}, Ops: OpsConfig{Token: "s2"},
		Monitor: MonitorConfig{Interval: "2h"}}

	sections, _ := SummarizeChange(old, nw)
	if strings.Join(sections, ",") != "monitor,ops,telegram" {
		t.Fatalf("sections=%v", sections)
	}
	if r := RestartRequired(old, nw); len(r) != 0 {
		t.Fatalf("owner/interval/ops changes need no restart, got %v", r)
	}
	nw.Storage.Driver = "sqlite"
	if r := RestartRequired(old, nw); len(r) != 1 || r[0] != SectionStorage {
		t.Fatalf("restart=%v", r)
	}
}

func TestDetectFormat(t *testing.T) {
	t.Parallel()
	cases := []struct {
		path, body, want string
	}{
		{"c.json", "telegram: {}", formatJSON},
		{"c.YML", "{}", formatYAML},
		{"config", "  {\"telegram\":{}}", formatJSON},
		{"config", "telegram:\n  token: x\n", formatYAML},
		{"config.conf", "", formatYAML},
	}
	for _, tc := range cases {
		if got := detectFormat(tc.path, []byte(tc.body)); got != tc.want {
			t.Errorf("detectFormat(%q, %q)=%s, want %s", tc.path, tc.body, got, tc.want)
		}
	}

	// a YAML file without extension loads like config.yaml
	m := NewConfigManager(writeFile(t, "sitewatch", "telegram:\n  token: \"1:x\"\nmonitor:\n  workers: 2\n"))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Monitor.Workers != 2 {
		t.Fatalf("workers=%d", cfg.Monitor.Workers)
	}
}
