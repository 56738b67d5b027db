package config

// Config is the on-disk configuration (JSON or YAML).
// Secrets may be left empty and supplied through the environment, see ApplyEnv.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Source   SourceConfig   `json:"source"`
	Monitor  MonitorConfig  `json:"monitor"`
	Storage  StorageConfig  `json:"storage"`
	Limits   LimitsConfig   `json:"limits"`
	Health   HealthConfig   `json:"health"`
	Report   ReportConfig   `json:"report"`
	Systemd  SystemdConfig  `json:"systemd"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout  string  `json:"poll_timeout"`
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SourceConfig points at the timetable endpoint.
//
// Defaults:
//   - url: http://lntrt.ru/schedule/daySchedule
//   - timeout: "10s"
type SourceConfig struct {
	URL       string `json:"url"`
	Timeout   string `json:"timeout"`
	UserAgent string `json:"user_agent,omitempty"`
}

// MonitorConfig drives the change-detection loop.
type MonitorConfig struct {
	Enabled    *bool  `json:"enabled,omitempty"` // default true
	Interval   string `json:"interval"`          // default "15m"
	Workers    int    `json:"workers"`           // default 4
	RatePerSec int    `json:"rate_per_sec"`      // default 20
}

// StorageConfig selects the subscriber store driver.
//
//	"storage": { "driver": "sqlite", "path": "./schedbot.db" }
//	"storage": { "driver": "postgres", "dsn": "postgres://..." }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type LimitsConfig struct {
	CommandCooldown string `json:"command_cooldown"` // default "5s"
	MaxExtraGroups  int    `json:"max_extra_groups"` // default 4
}

type HealthConfig struct {
	Enabled *bool  `json:"enabled,omitempty"` // default true
	Addr    string `json:"addr"`              // default ":10000"; PORT overrides
	// Pprof mounts /debug/pprof/ on the health listener.
	Pprof bool `json:"pprof,omitempty"`
}

type ReportConfig struct {
	Enabled  bool   `json:"enabled"`
	Spec     string `json:"spec"` // cron, default "0 9 * * *"
	Timezone string `json:"timezone,omitempty"`
}

type SystemdConfig struct {
	Notify bool `json:"notify"`
}

// Enabled reports a tri-state flag with a default of true.
func Enabled(b *bool) bool { return b == nil || *b }
