package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"schedbot/internal/bot"
	"schedbot/internal/config"
	"schedbot/internal/monitor"
	"schedbot/internal/subscribers"
	logx "schedbot/pkg/logx"
)

type recordingDeliverer struct {
	mu   sync.Mutex
	sent map[int64]string
	fail int64
}

func (d *recordingDeliverer) Deliver(_ context.Context, id int64, text string) error {
	if id == d.fail {
		return errors.New("blocked")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sent == nil {
		d.sent = map[int64]string{}
	}
	d.sent[id] = text
	return nil
}

func TestNewStatsReportSpec(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		spec    string
		tz      string
		wantErr bool
	}{
		{name: "default", spec: ""},
		{name: "five fields", spec: "30 8 * * 1-5"},
		{name: "descriptor", spec: "@daily"},
		{name: "seconds rejected", spec: "0 0 9 * * *", wantErr: true},
		{name: "garbage", spec: "every day", wantErr: true},
		{name: "bad tz", spec: "0 9 * * *", tz: "Mars/Olympus", wantErr: true},
		{name: "tz", spec: "0 9 * * *", tz: "UTC"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := newStatsReport(tc.spec, tc.tz, subscribers.NewMemory(4), &recordingDeliverer{}, nil, logx.Nop())
			if (err != nil) != tc.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tc.wantErr)
			}
		})
	}
}

func TestStatsReportNext(t *testing.T) {
	t.Parallel()
	r, err := newStatsReport("0 9 * * *", "UTC", subscribers.NewMemory(4), &recordingDeliverer{}, nil, logx.Nop())
	if err != nil {
		t.Fatalf("newStatsReport: %v", err)
	}
	from := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	want := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)
	if got := r.Next(from); !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestStatsReportSendsToOwners(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := subscribers.NewMemory(4)
	if _, err := store.Subscribe(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if err := store.SetMainGroup(ctx, 1, "ИС-21"); err != nil {
		t.Fatal(err)
	}
	if err := store.EnsureUser(ctx, 2, "bob"); err != nil {
		t.Fatal(err)
	}

	out := &recordingDeliverer{fail: 99}
	r, err := newStatsReport("", "", store, out, []int64{10, 99}, logx.Nop())
	if err != nil {
		t.Fatalf("newStatsReport: %v", err)
	}
	r.send(ctx)

	got, ok := out.sent[10]
	if !ok {
		t.Fatalf("owner 10 got nothing: %v", out.sent)
	}
	for _, want := range []string{"Пользователей: 2", "Подписчиков: 1", "С основной группой: 1"} {
		if !strings.Contains(got, want) {
			t.Fatalf("report %q missing %q", got, want)
		}
	}
	if _, ok := out.sent[99]; ok {
		t.Fatal("failed delivery recorded as sent")
	}
}

func TestStatsReportRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	r, err := newStatsReport("@yearly", "", subscribers.NewMemory(4), &recordingDeliverer{}, nil, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestStoreConfigMapping(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Storage: config.StorageConfig{Driver: "sqlite", Path: "x.db", BusyTimeout: "3s"}}
	res, err := config.Resolve(cfg)
	if err != nil {
		t.Fatal(err)
	}
	sc, err := StoreConfig(cfg, res)
	if err != nil {
		t.Fatalf("StoreConfig: %v", err)
	}
	if sc.Driver != "sqlite" || sc.Path != "x.db" || sc.BusyTimeout != 3*time.Second {
		t.Fatalf("got %+v", sc)
	}
	if sc.MaxExtraGroups != config.DefaultMaxExtraGroups {
		t.Fatalf("max extra got %d want %d", sc.MaxExtraGroups, config.DefaultMaxExtraGroups)
	}

	cfg.Storage.BusyTimeout = "soon"
	if _, err := StoreConfig(cfg, res); err == nil {
		t.Fatal("expected error for bad busy_timeout")
	}
}

func TestLogConfigMapping(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Logging: config.LoggingConfig{
		Level:    "debug",
		Telegram: config.LoggingTelegram{Enabled: true, ChatID: -100, MinLevel: "error", RatePerSec: 2},
	}}
	lc := LogConfig(cfg)
	if lc.Level != "debug" || !lc.Telegram.Enabled || lc.Telegram.ChatID != -100 || lc.Telegram.MinLevel != "error" {
		t.Fatalf("got %+v", lc)
	}
}

func TestSDNotifierDisabledIsInert(t *testing.T) {
	t.Parallel()
	n := newSDNotifier(false, logx.Nop())
	n.Ready()
	n.Stopping()
	done := make(chan struct{})
	go func() {
		n.Watchdog(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled watchdog should return immediately")
	}
}

func TestApplyConfigLiveSections(t *testing.T) {
	t.Parallel()
	oldCfg := &config.Config{Monitor: config.MonitorConfig{Interval: "15m"}}
	res, err := config.Resolve(oldCfg)
	if err != nil {
		t.Fatal(err)
	}
	logs, log := logx.New(logx.Config{Level: "error"}, nil)
	defer logs.Close()
	store := subscribers.NewMemory(4)
	a := &App{
		cfg:  oldCfg,
		res:  res,
		logs: logs,
		log:  log,
		mon:  monitor.New(monitor.Deps{Store: store}, monitor.Config{Interval: res.MonitorInterval}, log),
		bot:  bot.New(bot.Deps{Store: store}, bot.Config{}, log),
	}

	a.applyConfig(&config.Config{Monitor: config.MonitorConfig{Interval: "2m"}, Limits: config.LimitsConfig{CommandCooldown: "1s"}})
	if got := a.mon.Interval(); got != 2*time.Minute {
		t.Fatalf("interval = %v, want 2m", got)
	}
	if a.res.CommandCooldown != time.Second {
		t.Fatalf("cooldown = %v, want 1s", a.res.CommandCooldown)
	}

	a.applyConfig(&config.Config{Monitor: config.MonitorConfig{Interval: "bogus"}})
	if got := a.mon.Interval(); got != 2*time.Minute {
		t.Fatalf("invalid config changed interval to %v", got)
	}
}
