package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Validate checks the fields that cannot be defaulted. It does not touch the
// network or the filesystem.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if g := strings.TrimSpace(cfg.Telegram.GroupLog); g != "" {
		if _, err := strconv.ParseInt(g, 10, 64); err != nil {
			return fmt.Errorf("telegram.group_log: invalid chat id %q", g)
		}
	}

	durations := []struct{ path, raw string }{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"monitor.interval", cfg.Monitor.Interval},
		{"monitor.storage_retry_backoff", cfg.Monitor.StorageRetryBackoff},
		{"monitor.tick_timeout", cfg.Monitor.TickTimeout},
		{"probe.timeout", cfg.Probe.Timeout},
		{"probe.cert_timeout", cfg.Probe.CertTimeout},
		{"storage.sqlite.busy_timeout", cfg.Storage.SQLite.BusyTimeout},
		{"storage.retention", cfg.Storage.Retention},
		{"commands.timeout", cfg.Commands.Timeout},
		{"commands.pending_ttl", cfg.Commands.PendingTTL},
		{"commands.inspect_timeout", cfg.Commands.InspectTimeout},
		{"ops.read_timeout", cfg.Ops.ReadTimeout},
		{"ops.write_timeout", cfg.Ops.WriteTimeout},
		{"ops.idle_timeout", cfg.Ops.IdleTimeout},
	}
	if n := cfg.Notifier; n != nil {
		durations = append(durations,
			struct{ path, raw string }{"notifier.retry_base", n.RetryBase},
			struct{ path, raw string }{"notifier.retry_max_delay", n.RetryMaxDelay},
			struct{ path, raw string }{"notifier.dedup_ttl", n.DedupTTL},
		)
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}
	if _, err := ParseInterval("monitor.interval", cfg.Monitor.Interval, time.Hour, MinInterval); err != nil {
		return err
	}
	if err := validateTimeouts(cfg); err != nil {
		return err
	}

	ints := []struct {
		path string
		v    int
	}{
		{"monitor.workers", cfg.Monitor.Workers},
		{"monitor.queue_size", cfg.Monitor.QueueSize},
		{"monitor.max_watches_per_user", cfg.Monitor.MaxWatchesPerUser},
		{"probe.max_redirects", cfg.Probe.MaxRedirects},
		{"commands.workers", cfg.Commands.Workers},
		{"commands.queue_size", cfg.Commands.QueueSize},
		{"commands.history_limit", cfg.Commands.HistoryLimit},
		{"commands.user_burst", cfg.Commands.UserBurst},
		{"logging.file.max_size_mb", cfg.Logging.File.MaxSizeMB},
		{"logging.file.max_backups", cfg.Logging.File.MaxBackups},
		{"logging.file.max_age_days", cfg.Logging.File.MaxAgeDays},
	}
	for _, i := range ints {
		if i.v < 0 {
			return fmt.Errorf("%s must be >= 0", i.path)
		}
	}

	if cfg.Commands.UserRatePerSec < 0 {
		return errors.New("commands.user_rate_per_sec must be >= 0")
	}

	if tz := strings.TrimSpace(cfg.Monitor.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("monitor.timezone: invalid %q: %w", tz, err)
		}
	}

	switch d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d {
	case "", "memory", "mem":
	case "file":
		if strings.TrimSpace(cfg.Storage.File.Dir) == "" {
			return errors.New("storage.file.dir is required when storage.driver=file")
		}
	case "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.SQLite.Path) == "" {
			return errors.New("storage.sqlite.path is required when storage.driver=sqlite")
		}
	case "postgres", "postgresql", "pg":
		if strings.TrimSpace(cfg.Storage.Postgres.DSN) == "" {
			return errors.New("storage.postgres.dsn is required when storage.driver=postgres")
		}
		if cfg.Storage.Postgres.MaxConns < 0 {
			return errors.New("storage.postgres.max_conns must be >= 0")
		}
	default:
		return fmt.Errorf("unknown storage.driver: %s", cfg.Storage.Driver)
	}

	if n := cfg.Notifier; n != nil {
		if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 || n.ChatRatePerSec < 0 {
			return errors.New("notifier: numeric fields must be >= 0")
		}
	}
	return nil
}

// Component defaults, repeated here so the ordering check sees the values
// that will actually run.
const (
	defaultProbeTimeout   = 10 * time.Second
	defaultCertTimeout    = 10 * time.Second
	defaultTickTimeout    = 60 * time.Second
	defaultInspectTimeout = 45 * time.Second
)

// validateTimeouts requires the outer deadlines to leave room for the probe.
// A tick must outlast both probe channels, and a site report runs the check
// followed by the robots and sitemap requests.
func validateTimeouts(cfg *Config) error {
	probe, _ := ParseDurationOrDefault("probe.timeout", cfg.Probe.Timeout, defaultProbeTimeout)
	cert, _ := ParseDurationOrDefault("probe.cert_timeout", cfg.Probe.CertTimeout, defaultCertTimeout)
	tick, _ := ParseDurationOrDefault("monitor.tick_timeout", cfg.Monitor.TickTimeout, defaultTickTimeout)
	inspect, _ := ParseDurationOrDefault("commands.inspect_timeout", cfg.Commands.InspectTimeout, defaultInspectTimeout)

	check := max(probe, cert)
	if tick <= check {
		return fmt.Errorf("monitor.tick_timeout (%s) must be longer than probe.timeout and probe.cert_timeout (%s)", tick, check)
	}
	if need := check + probe; inspect <= need {
		return fmt.Errorf("commands.inspect_timeout (%s) must be longer than %s (check plus robots/sitemap)", inspect, need)
	}
	return nil
}
