package bot

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"schedbot/internal/timetable"
	logx "schedbot/pkg/logx"
)

// Fetcher returns the raw schedule page.
type Fetcher interface {
	Fetch(ctx context.Context) (string, error)
}

// scheduleCache serves recent snapshots to interactive commands. Concurrent
// misses share one fetch.
type scheduleCache struct {
	fetch Fetcher
	ttl   time.Duration
	log   logx.Logger
	now   func() time.Time

	group singleflight.Group
	mu    sync.Mutex
	snap  *timetable.Snapshot
	at    time.Time
}

func newScheduleCache(f Fetcher, ttl time.Duration, log logx.Logger) *scheduleCache {
	return &scheduleCache{fetch: f, ttl: ttl, log: log, now: time.Now}
}

// Get returns timetable.ErrUnavailable when there is nothing to show.
func (c *scheduleCache) Get(ctx context.Context) (*timetable.Snapshot, error) {
	c.mu.Lock()
	if c.snap != nil && c.now().Sub(c.at) < c.ttl {
		snap := c.snap
		c.mu.Unlock()
		return snap, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do("page", func() (any, error) {
		raw, err := c.fetch.Fetch(ctx)
		if err != nil {
			c.log.Warn("schedule fetch failed", logx.Err(err))
			return nil, timetable.ErrUnavailable
		}
		snap, err := timetable.Parse(raw, timetable.WithLogger(c.log))
		if err != nil {
			return nil, err
		}
		c.Put(snap)
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*timetable.Snapshot), nil
}

// Put primes the cache, e.g. with the snapshot of the latest monitor cycle.
func (c *scheduleCache) Put(snap *timetable.Snapshot) {
	if snap == nil {
		return
	}
	c.mu.Lock()
	c.snap = snap
	c.at = c.now()
	c.mu.Unlock()
}
