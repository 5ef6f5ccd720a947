package config

import (
	"reflect"
	"slices"
	"sort"
	"strings"

	logx "sitewatch/pkg/logx"
)

// Section names returned by SummarizeChange.
const (
	SectionTelegram = "telegram"
	SectionLogging  = "logging"
	SectionMonitor  = "monitor"
	SectionProbe    = "probe"
	SectionStorage  = "storage"
	SectionNotifier = "notifier"
	SectionCommands = "commands"
	SectionOps      = "ops"
)

// SummarizeChange lists the sections that differ between oldCfg and newCfg
// and returns log fields describing the new values. Secrets (tokens, DSNs)
// are reported only as "set" flags.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token || strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		!slices.Equal(ot.OwnerUserIDs, nt.OwnerUserIDs) || strings.TrimSpace(ot.GroupLog) != strings.TrimSpace(nt.GroupLog) {
		changed = append(changed, SectionTelegram)
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(nt.GroupLog) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, SectionLogging)
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Monitor != newCfg.Monitor {
		changed = append(changed, SectionMonitor)
		attrs = append(attrs,
			logx.String("monitor.interval", newCfg.Monitor.Interval),
			logx.Int("monitor.workers", newCfg.Monitor.Workers),
			logx.Bool("monitor.cert_affects_health", newCfg.Monitor.CertAffectsHealth),
		)
	}

	if !reflect.DeepEqual(oldCfg.Probe, newCfg.Probe) {
		changed = append(changed, SectionProbe)
		attrs = append(attrs, logx.String("probe.timeout", newCfg.Probe.Timeout))
	}

	ns := newCfg.Storage
	if oldCfg.Storage != ns {
		changed = append(changed, SectionStorage)
		attrs = append(attrs,
			logx.String("storage.driver", ns.Driver),
			logx.Bool("storage.dsn_set", ns.Postgres.DSN != ""),
			logx.String("storage.retention", ns.Retention),
			logx.String("storage.prune_schedule", ns.PruneSchedule),
		)
	}

	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, SectionNotifier)
		if n := newCfg.Notifier; n != nil {
			attrs = append(attrs,
				logx.Bool("notifier.enabled", n.Enabled),
				logx.Int("notifier.workers", n.Workers),
				logx.Int("notifier.rate_per_sec", n.RatePerSec),
			)
		}
	}

	if oldCfg.Commands != newCfg.Commands {
		changed = append(changed, SectionCommands)
	}

	if no := newCfg.Ops; !reflect.DeepEqual(oldCfg.Ops, no) {
		changed = append(changed, SectionOps)
		attrs = append(attrs,
			logx.Bool("ops.enabled", no.Enabled),
			logx.String("ops.addr", no.Addr),
			logx.Bool("ops.token_set", strings.TrimSpace(no.Token) != ""),
			logx.Bool("ops.token_changed", oldCfg.Ops.Token != no.Token),
			logx.Bool("ops.pprof", no.Pprof),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists the settings that changed but are only read at
// startup.
func RestartRequired(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if oldCfg.Telegram.Token != newCfg.Telegram.Token || oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout {
		out = append(out, "telegram.token/poll_timeout")
	}
	if oldCfg.Monitor.Workers != newCfg.Monitor.Workers || oldCfg.Monitor.QueueSize != newCfg.Monitor.QueueSize ||
		oldCfg.Monitor.Timezone != newCfg.Monitor.Timezone {
		out = append(out, "monitor.workers/queue_size/timezone")
	}
	if !reflect.DeepEqual(oldCfg.Probe, newCfg.Probe) {
		out = append(out, SectionProbe)
	}
	if oldCfg.Storage.Driver != newCfg.Storage.Driver || oldCfg.Storage.File != newCfg.Storage.File ||
		oldCfg.Storage.SQLite != newCfg.Storage.SQLite || oldCfg.Storage.Postgres != newCfg.Storage.Postgres {
		out = append(out, SectionStorage)
	}
	if oldCfg.Commands != newCfg.Commands {
		out = append(out, SectionCommands)
	}
	return out
}
