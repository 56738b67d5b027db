package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestParseYAMLWithEnvOverrides(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.yaml", `
telegram:
  token: from-file
source:
  timeout: 3s
monitor:
  interval: 5m
  workers: 2
storage:
  driver: sqlite
  path: ./x.db
`)
	m := NewManager(p)
	m.getenv = envMap(map[string]string{EnvToken: "from-env", EnvPort: "8080"})
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "from-env" {
		t.Fatalf("token = %q, want from-env", cfg.Telegram.Token)
	}
	if cfg.Health.Addr != ":8080" {
		t.Fatalf("health.addr = %q, want :8080", cfg.Health.Addr)
	}
	r, err := Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if r.MonitorInterval != 5*time.Minute || r.SourceTimeout != 3*time.Second {
		t.Fatalf("resolved durations = %v/%v", r.MonitorInterval, r.SourceTimeout)
	}
	if r.MonitorWorkers != 2 || r.MaxExtraGroups != DefaultMaxExtraGroups {
		t.Fatalf("resolved ints = %d/%d", r.MonitorWorkers, r.MaxExtraGroups)
	}
	if m.Get() != cfg {
		t.Fatal("Get should return committed config")
	}
}

func TestDatabaseURLSelectsPostgres(t *testing.T) {
	t.Parallel()
	var cfg Config
	ApplyEnv(&cfg, envMap(map[string]string{EnvDatabaseURL: "postgres://u@h/db"}))
	if cfg.Storage.Driver != "postgres" || cfg.Storage.DSN != "postgres://u@h/db" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
}

func TestParseRejectsUnknownAndInvalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, file, body, want string
	}{
		{"unknown key", "c.json", `{"telegram":{"tokn":"x"}}`, "unknown field"},
		{"bad duration", "c.json", `{"monitor":{"interval":"soon"}}`, "monitor.interval"},
		{"negative duration", "c.yaml", "source:\n  timeout: -1s\n", "source.timeout"},
		{"bad driver", "c.json", `{"storage":{"driver":"mongo"}}`, "storage.driver"},
		{"trailing", "c.json", `{} {}`, "trailing"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewManager(writeFile(t, tt.file, tt.body))
			m.getenv = envMap(nil)
			_, err := m.Parse()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Parse err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestEmptyPathUsesDefaults(t *testing.T) {
	t.Parallel()
	m := NewManager("")
	m.getenv = envMap(nil)
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	r, err := Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if r.SourceURL != DefaultSourceURL || r.MonitorInterval != DefaultMonitorInterval || r.HealthAddr != DefaultHealthAddr {
		t.Fatalf("defaults = %+v", r)
	}
	if !r.MonitorEnabled || !r.HealthEnabled {
		t.Fatal("monitor and health should default to enabled")
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Telegram: TelegramConfig{Token: "a"}, Monitor: MonitorConfig{Interval: "15m"}}
	newCfg := &Config{Telegram: TelegramConfig{Token: "a"}, Monitor: MonitorConfig{Interval: "5m"}}
	changed, attrs := SummarizeChange(oldCfg, newCfg)
	if len(changed) != 1 || changed[0] != "monitor" {
		t.Fatalf("changed = %v, want [monitor]", changed)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs for changed section")
	}
}

func TestWatchPublishesReload(t *testing.T) {
	p := writeFile(t, "config.json", `{"monitor":{"interval":"15m"}}`)
	m := NewManager(p)
	m.getenv = envMap(nil)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	// give the watcher time to register
	time.Sleep(200 * time.Millisecond)
	if err := os.WriteFile(p, []byte(`{"monitor":{"interval":"1m"}}`), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	select {
	case cfg := <-ch:
		if cfg.Monitor.Interval != "1m" {
			t.Fatalf("interval = %q, want 1m", cfg.Monitor.Interval)
		}
	case <-ctx.Done():
		t.Fatal("no reload published")
	}
}
