package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"schedbot/internal/subscribers"
	logx "schedbot/pkg/logx"
)

// Deliverer sends one HTML message to one chat.
type Deliverer interface {
	Deliver(ctx context.Context, recipientID int64, text string) error
}

type statsSource interface {
	Stats(ctx context.Context) (subscribers.Stats, error)
}

var reportParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// statsReport sends subscriber counts to the owners on a cron schedule.
type statsReport struct {
	spec   string
	loc    *time.Location
	sched  cron.Schedule
	store  statsSource
	out    Deliverer
	owners []int64
	log    logx.Logger
}

func newStatsReport(spec, tz string, store statsSource, out Deliverer, owners []int64, log logx.Logger) (*statsReport, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		spec = "0 9 * * *"
	}
	sched, err := reportParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("report.spec: %w", err)
	}
	loc := time.Local
	if tz = strings.TrimSpace(tz); tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			return nil, fmt.Errorf("report.timezone: %w", err)
		}
	}
	return &statsReport{spec: spec, loc: loc, sched: sched, store: store, out: out, owners: owners, log: log}, nil
}

// Next reports the next fire time after t.
func (r *statsReport) Next(t time.Time) time.Time { return r.sched.Next(t.In(r.loc)) }

// Run triggers the report until ctx is done.
func (r *statsReport) Run(ctx context.Context) error {
	if len(r.owners) == 0 {
		r.log.Warn("stats report enabled without owner_user_ids; nothing to send")
	}
	c := cron.New(cron.WithParser(reportParser), cron.WithLocation(r.loc))
	if _, err := c.AddFunc(r.spec, func() { r.send(ctx) }); err != nil {
		return err
	}
	c.Start()
	r.log.Info("stats report scheduled", logx.String("spec", r.spec), logx.String("tz", r.loc.String()),
		logx.Time("next", r.Next(time.Now())))

	<-ctx.Done()
	select {
	case <-c.Stop().Done():
	case <-time.After(3 * time.Second):
		r.log.Warn("stats report still running at shutdown")
	}
	return nil
}

func (r *statsReport) send(ctx context.Context) {
	st, err := r.store.Stats(ctx)
	if err != nil {
		r.log.Warn("stats report: store stats failed", logx.Err(err))
		return
	}
	text := formatStats(st)
	for _, id := range r.owners {
		if err := r.out.Deliver(ctx, id, text); err != nil {
			r.log.Warn("stats report delivery failed", logx.Int64("chat_id", id), logx.Err(err))
		}
	}
	r.log.Info("stats report sent", logx.Int("owners", len(r.owners)), logx.Int("users", st.Users))
}

func formatStats(st subscribers.Stats) string {
	return fmt.Sprintf("📊 <b>Статистика</b>\n\n👤 Пользователей: %d\n🔔 Подписчиков: %d\n🎓 С основной группой: %d\n📋 Дополнительных групп: %d",
		st.Users, st.Subscribers, st.WithGroup, st.ExtraGroups)
}
