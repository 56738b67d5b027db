package config

import (
	"reflect"

	logx "schedbot/pkg/logx"
)

// LiveSections can be applied without a restart.
var LiveSections = map[string]bool{
	"logging": true,
	"monitor": true,
	"limits":  true,
}

// SummarizeChange lists changed top-level sections plus log fields that are
// safe to emit (never the token or DSN).
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
	mark := func(name string, differs bool, fields ...logx.Field) {
		if differs {
			changed = append(changed, name)
			attrs = append(attrs, fields...)
		}
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	mark("telegram", ot.Token != nt.Token || ot.PollTimeout != nt.PollTimeout || !reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs),
		logx.Bool("telegram.token_changed", ot.Token != nt.Token),
		logx.String("telegram.poll_timeout", nt.PollTimeout),
	)
	mark("logging", !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging),
		logx.String("logging.level", newCfg.Logging.Level),
		logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
	)
	mark("source", oldCfg.Source != newCfg.Source,
		logx.String("source.url", newCfg.Source.URL),
		logx.String("source.timeout", newCfg.Source.Timeout),
	)
	mark("monitor", !reflect.DeepEqual(oldCfg.Monitor, newCfg.Monitor),
		logx.String("monitor.interval", newCfg.Monitor.Interval),
		logx.Int("monitor.workers", newCfg.Monitor.Workers),
	)
	mark("storage", oldCfg.Storage != newCfg.Storage,
		logx.String("storage.driver", newCfg.Storage.Driver),
	)
	mark("limits", oldCfg.Limits != newCfg.Limits,
		logx.String("limits.command_cooldown", newCfg.Limits.CommandCooldown),
		logx.Int("limits.max_extra_groups", newCfg.Limits.MaxExtraGroups),
	)
	mark("health", !reflect.DeepEqual(oldCfg.Health, newCfg.Health), logx.String("health.addr", newCfg.Health.Addr))
	mark("report", oldCfg.Report != newCfg.Report, logx.String("report.spec", newCfg.Report.Spec))
	mark("systemd", oldCfg.Systemd != newCfg.Systemd, logx.Bool("systemd.notify", newCfg.Systemd.Notify))
	return changed, attrs
}
