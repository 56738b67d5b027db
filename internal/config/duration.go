package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultSourceURL       = "http://lntrt.ru/schedule/daySchedule"
	DefaultSourceTimeout   = 10 * time.Second
	DefaultPollTimeout     = 10 * time.Second
	DefaultMonitorInterval = 15 * time.Minute
	DefaultMonitorWorkers  = 4
	DefaultMonitorRate     = 20
	DefaultCommandCooldown = 5 * time.Second
	DefaultMaxExtraGroups  = 4
	DefaultHealthAddr      = ":10000"
	DefaultReportSpec      = "0 9 * * *"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault returns def for empty or zero values.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// Resolved holds parsed values with defaults filled in.
type Resolved struct {
	SourceURL       string
	SourceTimeout   time.Duration
	UserAgent       string
	PollTimeout     time.Duration
	MonitorEnabled  bool
	MonitorInterval time.Duration
	MonitorWorkers  int
	MonitorRate     int
	CommandCooldown time.Duration
	MaxExtraGroups  int
	HealthEnabled   bool
	HealthAddr      string
	ReportSpec      string
}

func Resolve(cfg *Config) (Resolved, error) {
	var (
		r   Resolved
		err error
	)
	r.SourceURL = strings.TrimSpace(cfg.Source.URL)
	if r.SourceURL == "" {
		r.SourceURL = DefaultSourceURL
	}
	r.UserAgent = strings.TrimSpace(cfg.Source.UserAgent)
	if r.SourceTimeout, err = ParseDurationOrDefault("source.timeout", cfg.Source.Timeout, DefaultSourceTimeout); err != nil {
		return r, err
	}
	if r.PollTimeout, err = ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, DefaultPollTimeout); err != nil {
		return r, err
	}
	if r.MonitorInterval, err = ParseDurationOrDefault("monitor.interval", cfg.Monitor.Interval, DefaultMonitorInterval); err != nil {
		return r, err
	}
	if r.CommandCooldown, err = ParseDurationOrDefault("limits.command_cooldown", cfg.Limits.CommandCooldown, DefaultCommandCooldown); err != nil {
		return r, err
	}
	r.MonitorEnabled = Enabled(cfg.Monitor.Enabled)
	r.MonitorWorkers = orDefault(cfg.Monitor.Workers, DefaultMonitorWorkers)
	r.MonitorRate = orDefault(cfg.Monitor.RatePerSec, DefaultMonitorRate)
	r.MaxExtraGroups = orDefault(cfg.Limits.MaxExtraGroups, DefaultMaxExtraGroups)
	r.HealthEnabled = Enabled(cfg.Health.Enabled)
	r.HealthAddr = strings.TrimSpace(cfg.Health.Addr)
	if r.HealthAddr == "" {
		r.HealthAddr = DefaultHealthAddr
	}
	r.ReportSpec = strings.TrimSpace(cfg.Report.Spec)
	if r.ReportSpec == "" {
		r.ReportSpec = DefaultReportSpec
	}
	return r, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
