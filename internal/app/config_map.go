package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"sitewatch/internal/config"
	"sitewatch/internal/monitor"
	"sitewatch/internal/notifier"
	"sitewatch/internal/ops"
	"sitewatch/internal/probe"
	"sitewatch/internal/storage"
	"sitewatch/internal/task/engine"
	"sitewatch/internal/task/scheduler"
	telegram "sitewatch/internal/transport/telegram/adapter"
	"sitewatch/internal/transport/telegram/router"
	"sitewatch/internal/watchbot"
	logx "sitewatch/pkg/logx"
)

// components is every component config derived from one file. Mapping all
// of them up front doubles as validation before a reload is committed.
type components struct {
	adapter   telegram.Config
	logging   logx.Config
	logChat   int64
	storage   storage.Config
	retention time.Duration
	prune     string
	engine    engine.Config
	probe     probe.Config
	monitor   monitor.Config
	notifier  notifier.Config
	router    router.Config
	bot       watchbot.Config
	ops       ops.Config
}

func mapConfig(cfg *config.Config) (components, error) {
	var (
		c   components
		err error
	)
	if c.adapter, err = mapAdapterConfig(cfg); err != nil {
		return c, err
	}
	c.logging = mapLogConfig(cfg)
	if g := strings.TrimSpace(cfg.Telegram.GroupLog); g != "" {
		if c.logChat, err = strconv.ParseInt(g, 10, 64); err != nil {
			return c, err
		}
	}
	if c.storage, err = mapStorageConfig(cfg); err != nil {
		return c, err
	}
	if c.retention, err = config.ParseDurationField("storage.retention", cfg.Storage.Retention); err != nil {
		return c, err
	}
	if c.prune, err = mapPruneSchedule(cfg); err != nil {
		return c, err
	}
	if c.probe, err = mapProbeConfig(cfg); err != nil {
		return c, err
	}
	if c.monitor, err = mapMonitorConfig(cfg); err != nil {
		return c, err
	}
	c.engine = mapEngineConfig(cfg, c.monitor.Interval)
	if c.notifier, err = mapNotifierConfig(cfg); err != nil {
		return c, err
	}
	if c.router, c.bot, err = mapCommandsConfig(cfg, c.monitor.Interval); err != nil {
		return c, err
	}
	if c.ops, err = mapOpsConfig(cfg); err != nil {
		return c, err
	}
	return c, nil
}

func mapAdapterConfig(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: cfg.Telegram.Token, PollTimeout: poll}, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled:    l.File.Enabled,
			Path:       l.File.Path,
			MaxSizeMB:  l.File.MaxSizeMB,
			MaxBackups: l.File.MaxBackups,
			MaxAgeDays: l.File.MaxAgeDays,
			Compress:   l.File.Compress,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	s := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.sqlite.busy_timeout", s.SQLite.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(s.Driver)),
		Dir:         strings.TrimSpace(s.File.Dir),
		Path:        strings.TrimSpace(s.SQLite.Path),
		BusyTimeout: busy,
		DSN:         strings.TrimSpace(s.Postgres.DSN),
		MaxConns:    s.Postgres.MaxConns,
	}, nil
}

func mapPruneSchedule(cfg *config.Config) (string, error) {
	raw := strings.TrimSpace(cfg.Storage.PruneSchedule)
	if raw == "" {
		return "@daily", nil
	}
	if _, err := scheduler.ParseSchedule(raw); err != nil {
		return "", fmt.Errorf("storage.prune_schedule: %w", err)
	}
	return raw, nil
}

// mapEngineConfig sizes the pool that runs checks. A tick stuck in the queue
// for a whole interval is stale: the next anchored slot supersedes it.
func mapEngineConfig(cfg *config.Config, interval time.Duration) engine.Config {
	return engine.Config{
		Enabled:       true,
		Workers:       cfg.Monitor.Workers,
		QueueSize:     cfg.Monitor.QueueSize,
		MaxQueueDelay: interval,
	}
}

func mapProbeConfig(cfg *config.Config) (probe.Config, error) {
	p := cfg.Probe
	timeout, err := config.ParseDurationField("probe.timeout", p.Timeout)
	if err != nil {
		return probe.Config{}, err
	}
	certTimeout, err := config.ParseDurationField("probe.cert_timeout", p.CertTimeout)
	if err != nil {
		return probe.Config{}, err
	}
	insecure := true
	if p.InsecureSkipVerify != nil {
		insecure = *p.InsecureSkipVerify
	}
	return probe.Config{
		Timeout:            timeout,
		CertTimeout:        certTimeout,
		InsecureSkipVerify: insecure,
		MaxRedirects:       p.MaxRedirects,
		UserAgent:          p.UserAgent,
	}, nil
}

func mapMonitorConfig(cfg *config.Config) (monitor.Config, error) {
	m := cfg.Monitor
	interval, err := config.ParseInterval("monitor.interval", m.Interval, time.Hour, config.MinInterval)
	if err != nil {
		return monitor.Config{}, err
	}
	backoff, err := config.ParseDurationField("monitor.storage_retry_backoff", m.StorageRetryBackoff)
	if err != nil {
		return monitor.Config{}, err
	}
	tick, err := config.ParseDurationField("monitor.tick_timeout", m.TickTimeout)
	if err != nil {
		return monitor.Config{}, err
	}
	return monitor.Config{
		Interval:            interval,
		StorageRetryBackoff: backoff,
		CertAffectsHealth:   m.CertAffectsHealth,
		MaxWatchesPerUser:   m.MaxWatchesPerUser,
		TickTimeout:         tick,
	}, nil
}

// mapNotifierConfig treats an omitted section as enabled with defaults.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notifier
	if n == nil {
		return notifier.Config{Enabled: true, RetryMax: 3, DedupTTL: time.Hour}, nil
	}
	base, err := config.ParseDurationField("notifier.retry_base", n.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	dedup, err := config.ParseDurationOrDefault("notifier.dedup_ttl", n.DedupTTL, time.Hour)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		ChatRatePerSec:  n.ChatRatePerSec,
		RetryMax:        n.RetryMax,
		RetryBase:       base,
		RetryMaxDelay:   maxDelay,
		DedupTTL:        dedup,
		DedupMaxEntries: n.DedupMaxEntries,
	}, nil
}

func mapCommandsConfig(cfg *config.Config, interval time.Duration) (router.Config, watchbot.Config, error) {
	c := cfg.Commands
	timeout, err := config.ParseDurationField("commands.timeout", c.Timeout)
	if err != nil {
		return router.Config{}, watchbot.Config{}, err
	}
	pending, err := config.ParseDurationField("commands.pending_ttl", c.PendingTTL)
	if err != nil {
		return router.Config{}, watchbot.Config{}, err
	}
	inspect, err := config.ParseDurationField("commands.inspect_timeout", c.InspectTimeout)
	if err != nil {
		return router.Config{}, watchbot.Config{}, err
	}
	return router.Config{
			Workers:        c.Workers,
			QueueSize:      c.QueueSize,
			CommandTimeout: timeout,
			UserRatePerSec: c.UserRatePerSec,
			UserBurst:      c.UserBurst,
		},
		watchbot.Config{HistoryLimit: c.HistoryLimit, PendingTTL: pending, InspectTimeout: inspect, Interval: interval},
		nil
}

func mapOpsConfig(cfg *config.Config) (ops.Config, error) {
	o := cfg.Ops
	read, err := config.ParseDurationOrDefault("ops.read_timeout", o.ReadTimeout, 10*time.Second)
	if err != nil {
		return ops.Config{}, err
	}
	// pprof profiles run for 30s, so writes are unbounded by default
	write, err := config.ParseDurationField("ops.write_timeout", o.WriteTimeout)
	if err != nil {
		return ops.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("ops.idle_timeout", o.IdleTimeout, 60*time.Second)
	if err != nil {
		return ops.Config{}, err
	}
	return ops.Config{
		Enabled:       o.Enabled,
		Addr:          strings.TrimSpace(o.Addr),
		Token:         strings.TrimSpace(o.Token),
		AllowInsecure: o.AllowInsecure,
		Pprof:         o.Pprof,
		CORSOrigins:   o.CORSOrigins,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}
