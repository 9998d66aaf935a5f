package search

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrQueueOverflow is returned synchronously when a submission would exceed
// the pending cap.
var ErrQueueOverflow = errors.New("search queue overflow")

// RPSForTier maps plan tiers to requests per second. Unknown tiers fall back
// to the free tier.
func RPSForTier(tier string) int {
	switch tier {
	case "paid", "base":
		return 20
	case "pro":
		return 50
	case "free":
		return 1
	}
	return 1
}

// Task is one unit of queued upstream work.
type Task func(ctx context.Context) (any, error)

type queued struct {
	ctx  context.Context
	fn   Task
	done chan taskResult
}

type taskResult struct {
	value any
	err   error
}

// Queue serializes upstream calls: exactly one in flight, FIFO order, paced
// to the configured rate. Submissions beyond the pending cap fail fast.
type Queue struct {
	tasks chan queued

	interval time.Duration
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error

	startOnce sync.Once
	closeOnce sync.Once
	closed    chan struct{}

	// pump state, touched only by the pump goroutine
	nextAvailableAt time.Time
}

// NewQueue creates a queue allowing rps dispatches per second and at most
// queueMax pending tasks.
func NewQueue(rps, queueMax int) *Queue {
	if rps <= 0 {
		rps = 1
	}
	if queueMax <= 0 {
		queueMax = 10
	}
	return &Queue{
		tasks:    make(chan queued, queueMax),
		interval: time.Duration(int64(time.Second) / int64(rps)),
		now:      time.Now,
		closed:   make(chan struct{}),
	}
}

func (q *Queue) start() {
	q.startOnce.Do(func() { go q.pump() })
}

// Close stops the pump once pending tasks drain is no longer needed.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}

// Schedule submits fn and blocks until it has run or the context is
// cancelled. ErrQueueOverflow is returned immediately when the pending cap is
// hit.
func (q *Queue) Schedule(ctx context.Context, fn Task) (any, error) {
	q.start()
	item := queued{ctx: ctx, fn: fn, done: make(chan taskResult, 1)}
	select {
	case q.tasks <- item:
	default:
		return nil, ErrQueueOverflow
	}
	select {
	case res := <-item.done:
		return res.value, res.err
	case <-ctx.Done():
		// The pump will notice the dead context and skip the task.
		return nil, ctx.Err()
	}
}

func (q *Queue) pump() {
	for {
		select {
		case <-q.closed:
			return
		case item := <-q.tasks:
			if item.ctx.Err() != nil {
				item.done <- taskResult{err: item.ctx.Err()}
				continue
			}
			if err := q.waitTurn(item.ctx); err != nil {
				item.done <- taskResult{err: err}
				continue
			}
			value, err := item.fn(item.ctx)
			item.done <- taskResult{value: value, err: err}
		}
	}
}

// waitTurn blocks until the pacing slot opens, then advances it. The carry
// in nextAvailableAt keeps the long-run rate exact even when dispatch lags.
func (q *Queue) waitTurn(ctx context.Context) error {
	now := q.now()
	if wait := q.nextAvailableAt.Sub(now); wait > 0 {
		if err := q.doSleep(ctx, wait); err != nil {
			return err
		}
		now = q.now()
	}
	base := q.nextAvailableAt
	if now.After(base) {
		base = now
	}
	q.nextAvailableAt = base.Add(q.interval)
	return nil
}

func (q *Queue) doSleep(ctx context.Context, d time.Duration) error {
	if q.sleep != nil {
		return q.sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
