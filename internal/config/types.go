// Package config loads the process configuration from JSON or YAML, validates
// it and republishes it to subscribers when the file changes.
package config

// Config is the on-disk configuration. Durations are Go duration strings
// ("500ms", "10s", "1h").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Monitor  MonitorConfig  `json:"monitor"`
	Probe    ProbeConfig    `json:"probe"`
	Storage  StorageConfig  `json:"storage"`
	Commands CommandsConfig `json:"commands"`
	Ops      OpsConfig      `json:"ops"`

	// Notifier may be omitted, in which case delivery runs with defaults.
	Notifier *NotifierConfig `json:"notifier,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is the chat id receiving log lines from the telegram sink.
	GroupLog    string `json:"group_log"`
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// MonitorConfig drives the per-watch timers and the task engine that runs
// the checks.
//
// Defaults: interval 1h, workers 4, queue_size 256,
// storage_retry_backoff 500ms, tick_timeout 60s, retention 0 (keep forever).
type MonitorConfig struct {
	Interval            string `json:"interval,omitempty"`
	Workers             int    `json:"workers,omitempty"`
	QueueSize           int    `json:"queue_size,omitempty"`
	StorageRetryBackoff string `json:"storage_retry_backoff,omitempty"`
	TickTimeout         string `json:"tick_timeout,omitempty"`
	CertAffectsHealth   bool   `json:"cert_affects_health,omitempty"`
	MaxWatchesPerUser   int    `json:"max_watches_per_user,omitempty"`
	Timezone            string `json:"timezone,omitempty"`
}

type ProbeConfig struct {
	Timeout     string `json:"timeout,omitempty"`
	CertTimeout string `json:"cert_timeout,omitempty"`
	// InsecureSkipVerify defaults to true when omitted.
	InsecureSkipVerify *bool  `json:"insecure_skip_verify,omitempty"`
	MaxRedirects       int    `json:"max_redirects,omitempty"`
	UserAgent          string `json:"user_agent,omitempty"`
}

// StorageConfig selects the history backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "sqlite": { "path": "./sitewatch.db" } }
type StorageConfig struct {
	Driver   string            `json:"driver"`
	File     StorageFileConfig `json:"file,omitempty"`
	SQLite   StorageSQLite     `json:"sqlite,omitempty"`
	Postgres StoragePostgres   `json:"postgres,omitempty"`
	// Retention prunes results older than this. "0s" keeps all.
	Retention string `json:"retention,omitempty"`
	// PruneSchedule is a cron expression, HH:MM or a period; "@daily" when empty.
	PruneSchedule string `json:"prune_schedule,omitempty"`
}

type StorageFileConfig struct {
	Dir string `json:"dir"`
}

type StorageSQLite struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type StoragePostgres struct {
	DSN      string `json:"dsn"`
	MaxConns int32  `json:"max_conns,omitempty"`
}

type NotifierConfig struct {
	Enabled         bool    `json:"enabled"`
	Workers         int     `json:"workers"`
	QueueSize       int     `json:"queue_size"`
	RatePerSec      int     `json:"rate_per_sec"`
	ChatRatePerSec  float64 `json:"chat_rate_per_sec,omitempty"`
	RetryMax        int     `json:"retry_max"`
	RetryBase       string  `json:"retry_base"`
	RetryMaxDelay   string  `json:"retry_max_delay,omitempty"`
	DedupTTL        string  `json:"dedup_ttl"`
	DedupMaxEntries int     `json:"dedup_max_entries,omitempty"`
}

// CommandsConfig tunes the chat command dispatcher.
type CommandsConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	Timeout        string `json:"timeout,omitempty"`
	HistoryLimit   int    `json:"history_limit,omitempty"`
	PendingTTL     string `json:"pending_ttl,omitempty"`
	InspectTimeout string `json:"inspect_timeout,omitempty"`
	// UserRatePerSec throttles non-owner users; 0 disables.
	UserRatePerSec float64 `json:"user_rate_per_sec,omitempty"`
	UserBurst      int     `json:"user_burst,omitempty"`
}

// OpsConfig controls the read-only HTTP surface.
//
// Security note: a non-loopback addr requires a token unless allow_insecure
// is set.
type OpsConfig struct {
	Enabled       bool     `json:"enabled"`
	Addr          string   `json:"addr,omitempty"`  // default: "127.0.0.1:9090"
	Token         string   `json:"token,omitempty"` // do not log
	AllowInsecure bool     `json:"allow_insecure,omitempty"`
	Pprof         bool     `json:"pprof,omitempty"`
	CORSOrigins   []string `json:"cors_origins,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
