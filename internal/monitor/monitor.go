// Package monitor polls the timetable, detects per-group changes and notifies
// subscribers who track a changed group.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"schedbot/internal/eventbus"
	"schedbot/internal/subscribers"
	"schedbot/internal/timetable"
	logx "schedbot/pkg/logx"
)

// ErrBusy is returned by RunOnce while another cycle is in progress.
var ErrBusy = errors.New("monitor: cycle already running")

type Fetcher interface {
	Fetch(ctx context.Context) (string, error)
}

// Sink delivers one message to one recipient. Failures are per recipient.
type Sink interface {
	Deliver(ctx context.Context, recipientID int64, text string) error
}

// Formatter renders the notification for one group of snap.
type Formatter func(snap *timetable.Snapshot, group string) string

type Config struct {
	Interval     time.Duration // default 15m
	FetchTimeout time.Duration // default 10s
	Workers      int           // default 4
	RatePerSec   int           // default 20
	RetryMax     int           // extra attempts per delivery, default 1
	RetryDelay   time.Duration // default 500ms
	// DryRun skips delivery; jobs are reported as OK with zero attempts.
	DryRun bool
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 15 * time.Minute
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 10 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 20
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 500 * time.Millisecond
	}
	return c
}

// CycleReport summarizes one iteration.
type CycleReport struct {
	ID          string
	Started     time.Time
	Took        time.Duration
	Date        string
	Groups      int
	Warm        bool // state before the cycle
	Changed     []string
	Subscribers int
	Deliveries  []Delivery
}

func (r CycleReport) Failed() int {
	n := 0
	for _, d := range r.Deliveries {
		if d.Outcome == DeliveryFailed {
			n++
		}
	}
	return n
}

// Status is a concurrency-safe view for health checks.
type Status struct {
	Running     bool      `json:"running"`
	Warm        bool      `json:"warm"`
	Groups      int       `json:"groups"`
	LastPoll    time.Time `json:"last_poll"`
	LastOutcome string    `json:"last_outcome"`
	LastChanged int       `json:"last_changed"`
	LastFailed  int       `json:"last_failed"`
	Cycles      uint64    `json:"cycles"`
}

type Monitor struct {
	fetch  Fetcher
	subs   subscribers.Reader
	format Formatter
	bus    eventbus.Bus
	log    logx.Logger

	cfg      Config
	interval atomic.Int64
	state    *State
	disp     *dispatcher
	busy     atomic.Bool

	// guards only the last snapshot and status copies read by other goroutines
	mu     sync.RWMutex
	last   *timetable.Snapshot
	status Status
	cycles atomic.Uint64
}

type Deps struct {
	Fetcher   Fetcher
	Store     subscribers.Reader
	Sink      Sink
	Formatter Formatter
	Bus       eventbus.Bus // optional
}

func New(deps Deps, cfg Config, log logx.Logger) *Monitor {
	cfg = cfg.withDefaults()
	m := &Monitor{
		fetch:  deps.Fetcher,
		subs:   deps.Store,
		format: deps.Formatter,
		bus:    deps.Bus,
		log:    log,
		cfg:    cfg,
		state:  NewState(),
		disp: &dispatcher{
			sink:       deps.Sink,
			limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
			workers:    cfg.Workers,
			retryMax:   cfg.RetryMax,
			retryDelay: cfg.RetryDelay,
			log:        log,
		},
	}
	m.interval.Store(int64(cfg.Interval))
	return m
}

// SetInterval changes the sleep between cycles; it takes effect after the current sleep.
func (m *Monitor) SetInterval(d time.Duration) {
	if d > 0 {
		m.interval.Store(int64(d))
	}
}

func (m *Monitor) Interval() time.Duration { return time.Duration(m.interval.Load()) }

// Run loops until ctx is canceled. Cycles never overlap.
func (m *Monitor) Run(ctx context.Context) error {
	m.setRunning(true)
	defer m.setRunning(false)
	m.log.Info("monitor started", logx.Duration("interval", m.Interval()), logx.Int("workers", m.cfg.Workers))

	for {
		rep, err := m.RunOnce(ctx)
		switch {
		case err == nil:
		case errors.Is(err, timetable.ErrUnavailable):
			m.log.Info("schedule not published", logx.String("cycle", rep.ID), logx.Err(err))
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			m.log.Warn("monitor cycle failed", logx.String("cycle", rep.ID), logx.Err(err))
		}

		t := time.NewTimer(m.Interval())
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// RunOnce performs one fetch, diff and dispatch. State is replaced only when
// the subscriber list could be read, so a store outage retries the same
// change next cycle. Individual delivery failures do not block the replace.
func (m *Monitor) RunOnce(ctx context.Context) (rep CycleReport, err error) {
	if !m.busy.CompareAndSwap(false, true) {
		return rep, ErrBusy
	}
	defer m.busy.Store(false)

	rep = CycleReport{ID: uuid.NewString(), Started: time.Now(), Warm: m.state.Warm()}
	log := m.log.With(logx.String("cycle", rep.ID))
	defer func() { rep.Took = time.Since(rep.Started) }()

	snap, err := m.poll(ctx)
	if err != nil {
		m.finish(rep, "unavailable")
		m.publish(eventbus.TypeSourceUnavailable, eventbus.CycleData{CycleID: rep.ID, Err: err.Error()})
		return rep, err
	}
	rep.Date = snap.Date
	rep.Groups = len(snap.Groups)
	m.setLast(snap)

	tr := m.state.Plan(snap)
	rep.Changed = tr.Changed
	if len(tr.Changed) == 0 {
		m.state.Apply(tr)
		log.Debug("no schedule changes", logx.Int("groups", rep.Groups), logx.Bool("warm", rep.Warm))
		m.finish(rep, "unchanged")
		m.publishCycle(rep)
		return rep, nil
	}

	log.Info("schedule changed", logx.String("date", snap.Date), logx.Strings("groups", tr.Changed))
	m.publish(eventbus.TypeScheduleChanged, eventbus.ChangedData{CycleID: rep.ID, Groups: tr.Changed, Date: snap.Date})

	jobs, nsubs, err := m.plan(ctx, snap, tr.Changed)
	if err != nil {
		m.finish(rep, "store_error")
		return rep, fmt.Errorf("list subscribers: %w", err)
	}
	rep.Subscribers = nsubs

	if m.cfg.DryRun {
		rep.Deliveries = make([]Delivery, len(jobs))
		for i, j := range jobs {
			rep.Deliveries[i] = Delivery{RecipientID: j.recipientID, Group: j.group, Outcome: DeliveryOK}
		}
	} else {
		rep.Deliveries = m.disp.run(ctx, jobs)
	}
	for _, d := range rep.Deliveries {
		if d.Outcome == DeliveryFailed {
			log.Warn("notification failed", logx.Int64("recipient", d.RecipientID), logx.String("group", d.Group), logx.Int("attempts", d.Attempts), logx.Err(d.Err))
			m.publish(eventbus.TypeDeliveryFailed, eventbus.DeliveryFailedData{CycleID: rep.ID, RecipientID: d.RecipientID, Err: errString(d.Err)})
		}
	}

	m.state.Apply(tr)
	log.Info("notifications sent", logx.Int("total", len(rep.Deliveries)), logx.Int("failed", rep.Failed()), logx.Duration("took", time.Since(rep.Started)))
	m.finish(rep, "changed")
	m.publishCycle(rep)
	return rep, nil
}

// poll fetches with a bounded wait; any fetch failure counts as unavailable.
func (m *Monitor) poll(ctx context.Context) (*timetable.Snapshot, error) {
	fctx, cancel := context.WithTimeout(ctx, m.cfg.FetchTimeout)
	raw, err := m.fetch.Fetch(fctx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", timetable.ErrUnavailable, err)
	}
	return timetable.Parse(raw, timetable.WithLogger(m.log))
}

// plan builds one job per (subscriber, changed tracked group), main group first.
func (m *Monitor) plan(ctx context.Context, snap *timetable.Snapshot, changed []string) ([]dispatchJob, int, error) {
	ids, err := m.subs.ListSubscribers(ctx)
	if err != nil {
		return nil, 0, err
	}
	isChanged := make(map[string]bool, len(changed))
	for _, g := range changed {
		isChanged[g] = true
	}
	texts := make(map[string]string, len(changed))
	var jobs []dispatchJob
	for _, id := range ids {
		groups, err := m.subs.TrackedGroups(ctx, id)
		if err != nil {
			m.log.Warn("tracked groups lookup failed", logx.Int64("recipient", id), logx.Err(err))
			continue
		}
		seen := make(map[string]bool, len(groups))
		for _, g := range groups {
			if !isChanged[g] || seen[g] {
				continue
			}
			seen[g] = true
			text, ok := texts[g]
			if !ok {
				text = m.format(snap, g)
				texts[g] = text
			}
			jobs = append(jobs, dispatchJob{idx: len(jobs), recipientID: id, group: g, text: text})
		}
	}
	return jobs, len(ids), nil
}

// Last returns the most recent successfully parsed snapshot, or nil.
func (m *Monitor) Last() *timetable.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := m.status
	st.Cycles = m.cycles.Load()
	return st
}

func (m *Monitor) setLast(snap *timetable.Snapshot) {
	m.mu.Lock()
	m.last = snap
	m.mu.Unlock()
}

func (m *Monitor) setRunning(v bool) {
	m.mu.Lock()
	m.status.Running = v
	m.mu.Unlock()
}

func (m *Monitor) finish(rep CycleReport, outcome string) {
	m.cycles.Add(1)
	warm := m.state.Warm()
	held := m.state.Len()
	m.mu.Lock()
	m.status.Warm = warm
	m.status.Groups = held
	m.status.LastPoll = rep.Started
	m.status.LastOutcome = outcome
	m.status.LastChanged = len(rep.Changed)
	m.status.LastFailed = rep.Failed()
	m.mu.Unlock()
}

func (m *Monitor) publishCycle(rep CycleReport) {
	m.publish(eventbus.TypeCycleDone, eventbus.CycleData{
		CycleID:   rep.ID,
		Changed:   len(rep.Changed),
		Delivered: len(rep.Deliveries) - rep.Failed(),
		Failed:    rep.Failed(),
	})
}

func (m *Monitor) publish(typ string, data any) {
	if m.bus != nil {
		m.bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
