package monitor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "schedbot/pkg/logx"
)

type Outcome int

const (
	DeliveryOK Outcome = iota
	DeliveryFailed
)

func (o Outcome) String() string {
	if o == DeliveryOK {
		return "ok"
	}
	return "failed"
}

// Delivery is the result of one (recipient, group) notification.
type Delivery struct {
	RecipientID int64
	Group       string
	Outcome     Outcome
	Err         error
	Attempts    int
}

type dispatchJob struct {
	idx         int
	recipientID int64
	group       string
	text        string
}

type dispatcher struct {
	sink       Sink
	limiter    *rate.Limiter
	workers    int
	retryMax   int
	retryDelay time.Duration
	log        logx.Logger
}

// run delivers every job and returns one Delivery per job in input order.
// It returns only after all jobs finished; a failing job never stops others.
func (d *dispatcher) run(ctx context.Context, jobs []dispatchJob) []Delivery {
	out := make([]Delivery, len(jobs))
	if len(jobs) == 0 {
		return out
	}
	workers := max(1, min(d.workers, len(jobs)))

	queue := make(chan dispatchJob)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for j := range queue {
				out[j.idx] = d.deliver(ctx, j)
			}
		}()
	}
	for _, j := range jobs {
		queue <- j
	}
	close(queue)
	wg.Wait()
	return out
}

func (d *dispatcher) deliver(ctx context.Context, j dispatchJob) (res Delivery) {
	res = Delivery{RecipientID: j.recipientID, Group: j.group}
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("panic in delivery", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			res.Outcome = DeliveryFailed
			res.Err = fmt.Errorf("panic: %v", r)
		}
	}()

	var last error
attempts:
	for attempt := 0; attempt <= d.retryMax; attempt++ {
		res.Attempts = attempt + 1
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				last = err
				break attempts
			}
		}
		err := d.sink.Deliver(ctx, j.recipientID, j.text)
		if err == nil {
			res.Outcome = DeliveryOK
			return res
		}
		last = err
		if attempt == d.retryMax || ctx.Err() != nil {
			break attempts
		}
		delay := d.retryDelay * time.Duration(attempt+1)
		d.log.Debug("delivery retry scheduled", logx.Int64("recipient", j.recipientID), logx.String("group", j.group), logx.Duration("delay", delay), logx.Err(err))
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			last = ctx.Err()
			break attempts
		case <-t.C:
		}
	}
	res.Outcome = DeliveryFailed
	res.Err = last
	return res
}
