package logx

import (
	"strings"

	"github.com/rs/zerolog"
)

// Config selects the sinks of a Service. Level applies to console and file;
// the Telegram sink has its own threshold.
type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Telegram TelegramConfig
}

// FileConfig describes the rotating JSON log. Zero MaxSizeMB keeps
// lumberjack's 100 MB default.
type FileConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// TelegramConfig mirrors records at or above MinLevel (default warn) into
// the telegram.group_log chat, at most RatePerSec messages per second.
type TelegramConfig struct {
	Enabled    bool
	ThreadID   int
	MinLevel   string
	RatePerSec int
}

func (c FileConfig) path() string {
	if p := strings.TrimSpace(c.Path); p != "" {
		return p
	}
	return "./sitewatch.log"
}

func (c TelegramConfig) rate() int { return max(c.RatePerSec, 1) }

// parseLevel accepts zerolog's level names plus "warning", in any case.
// Blank or unknown names yield def.
func parseLevel(s string, def zerolog.Level) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || lvl == zerolog.NoLevel {
		return def
	}
	return lvl
}
