package app

import (
	"strings"
	"testing"
	"time"

	"sitewatch/internal/config"
)

func TestMapConfigDefaults(t *testing.T) {
	t.Parallel()
	c, err := mapConfig(&config.Config{Telegram: config.TelegramConfig{Token: "x", GroupLog: " -1001 "}})
	if err != nil {
		t.Fatalf("mapConfig: %v", err)
	}
	if c.logChat != -1001 {
		t.Fatalf("logChat=%d", c.logChat)
	}
	if c.adapter.PollTimeout != 10*time.Second {
		t.Fatalf("poll=%v", c.adapter.PollTimeout)
	}
	if !c.probe.InsecureSkipVerify {
		t.Fatalf("status check should skip verification by default")
	}
	if c.monitor.Interval != time.Hour || c.bot.Interval != time.Hour {
		t.Fatalf("interval monitor=%v bot=%v", c.monitor.Interval, c.bot.Interval)
	}
	if !c.notifier.Enabled {
		t.Fatalf("omitted notifier section should stay enabled")
	}
	if !c.engine.Enabled || c.engine.MaxQueueDelay != time.Hour {
		t.Fatalf("engine=%+v", c.engine)
	}
	if c.retention != 0 || c.prune != "@daily" {
		t.Fatalf("retention=%v prune=%q", c.retention, c.prune)
	}
}

func TestMapConfigSections(t *testing.T) {
	t.Parallel()
	off := false
	cfg := &config.Config{
		Telegram: config.TelegramConfig{Token: "x"},
		Monitor:  config.MonitorConfig{Interval: "2h", Workers: 8, CertAffectsHealth: true},
		Probe:    config.ProbeConfig{Timeout: "3s", InsecureSkipVerify: &off},
		Storage: config.StorageConfig{
			Driver:    " SQLite ",
			SQLite:    config.StorageSQLite{Path: "./db"},
			Retention:     "720h",
			PruneSchedule: "04:15",
		},
		Notifier: &config.NotifierConfig{Enabled: false, RetryBase: "2s"},
		Ops:      config.OpsConfig{Enabled: true, Addr: " 127.0.0.1:0 ", Token: " t "},
		Commands: config.CommandsConfig{UserRatePerSec: 0.5, UserBurst: 3},
	}
	c, err := mapConfig(cfg)
	if err != nil {
		t.Fatalf("mapConfig: %v", err)
	}
	if c.monitor.Interval != 2*time.Hour || !c.monitor.CertAffectsHealth || c.bot.Interval != 2*time.Hour {
		t.Fatalf("monitor=%+v", c.monitor)
	}
	if c.router.UserRatePerSec != 0.5 || c.router.UserBurst != 3 {
		t.Fatalf("router=%+v", c.router)
	}
	if c.engine.Workers != 8 {
		t.Fatalf("workers=%d", c.engine.Workers)
	}
	if c.probe.Timeout != 3*time.Second || c.probe.InsecureSkipVerify {
		t.Fatalf("probe=%+v", c.probe)
	}
	if c.storage.Driver != "sqlite" || c.storage.Path != "./db" || c.storage.BusyTimeout != 5*time.Second {
		t.Fatalf("storage=%+v", c.storage)
	}
	if c.retention != 720*time.Hour || c.prune != "04:15" {
		t.Fatalf("retention=%v prune=%q", c.retention, c.prune)
	}
	if c.notifier.Enabled || c.notifier.RetryBase != 2*time.Second {
		t.Fatalf("notifier=%+v", c.notifier)
	}
	if c.ops.Addr != "127.0.0.1:0" || c.ops.Token != "t" || c.ops.ReadTimeout != 10*time.Second || c.ops.WriteTimeout != 0 {
		t.Fatalf("ops=%+v", c.ops)
	}
}

func TestMapConfigRejectsBadDuration(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		cfg  config.Config
		want string
	}{
		{"poll", config.Config{Telegram: config.TelegramConfig{PollTimeout: "later"}}, "telegram.poll_timeout"},
		{"retention", config.Config{Storage: config.StorageConfig{Retention: "forever"}}, "storage.retention"},
		{"prune schedule", config.Config{Storage: config.StorageConfig{PruneSchedule: "25:00"}}, "storage.prune_schedule"},
		{"notifier", config.Config{Notifier: &config.NotifierConfig{DedupTTL: "-1s"}}, "notifier.dedup_ttl"},
		{"ops", config.Config{Ops: config.OpsConfig{IdleTimeout: "x"}}, "ops.idle_timeout"},
		{"group log", config.Config{Telegram: config.TelegramConfig{GroupLog: "logs"}}, "logs"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := mapConfig(&tc.cfg)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err=%v, want %q", err, tc.want)
			}
		})
	}
}
