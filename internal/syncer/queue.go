package syncer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wilfranr/control-id-miid/internal/errors"
	"github.com/wilfranr/control-id-miid/internal/logger"
	"github.com/wilfranr/control-id-miid/internal/reconcile"
)

// Common queue errors
var (
	ErrQueueStopped = errors.NewStd("mutation queue has been stopped")
	ErrNilTask      = errors.NewStd("cannot submit nil task")
)

// Task is one unit of device work
type Task func(ctx context.Context) (*reconcile.Outcome, error)

type job struct {
	name   string
	ctx    context.Context
	task   Task
	result chan jobResult
}

type jobResult struct {
	outcome *reconcile.Outcome
	err     error
}

// QueueStats are counters of a Queue
type QueueStats struct {
	Submitted uint64
	Completed uint64
	Failed    uint64
}

// Queue runs tasks one at a time, in submission order, on a single goroutine.
// Every device mutation goes through it.
type Queue struct {
	jobs chan *job

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}

	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64

	log logger.Logger
}

// NewQueue creates a queue holding up to size pending tasks
func NewQueue(size int, log logger.Logger) *Queue {
	if size < 1 {
		size = 1
	}
	if log == nil {
		log = logger.Global().Module("sync")
	}
	return &Queue{
		jobs: make(chan *job, size),
		log:  log,
	}
}

// Start launches the consumer goroutine. Starting twice is a no-op.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	q.running = true
	q.stopCh = make(chan struct{})
	q.done = make(chan struct{})
	go q.consume(q.stopCh, q.done)
}

func (q *Queue) consume(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		// stop wins over pending work
		select {
		case <-stop:
			q.rejectPending()
			return
		default:
		}

		select {
		case <-stop:
			q.rejectPending()
			return
		case j := <-q.jobs:
			q.run(j)
		}
	}
}

func (q *Queue) run(j *job) {
	start := time.Now()
	var res jobResult
	func() {
		defer func() {
			if r := recover(); r != nil {
				res.err = fmt.Errorf("task %s panicked: %v", j.name, r)
			}
		}()
		res.outcome, res.err = j.task(j.ctx)
	}()

	if res.err != nil {
		q.failed.Add(1)
	} else {
		q.completed.Add(1)
	}
	q.log.WithContext(j.ctx).Trace("task finished",
		logger.String("task", j.name),
		logger.Duration("duration", time.Since(start)),
		logger.Bool("failed", res.err != nil))
	j.result <- res
}

func (q *Queue) rejectPending() {
	for {
		select {
		case j := <-q.jobs:
			j.result <- jobResult{err: ErrQueueStopped}
		default:
			return
		}
	}
}

// Submit enqueues task and waits for its result. The task runs with a
// context that keeps ctx's values but not its cancellation, so a started
// task always runs to completion. Cancelling ctx only stops the wait.
func (q *Queue) Submit(ctx context.Context, name string, task Task) (*reconcile.Outcome, error) {
	if task == nil {
		return nil, ErrNilTask
	}

	q.mu.Lock()
	running, stop, done := q.running, q.stopCh, q.done
	q.mu.Unlock()
	if !running {
		return nil, ErrQueueStopped
	}

	j := &job{
		name:   name,
		ctx:    context.WithoutCancel(ctx),
		task:   task,
		result: make(chan jobResult, 1),
	}

	select {
	case q.jobs <- j:
		q.submitted.Add(1)
	case <-stop:
		return nil, ErrQueueStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-j.result:
		return res.outcome, res.err
	case <-done:
		// the consumer may have exited before picking the job up
		select {
		case res := <-j.result:
			return res.outcome, res.err
		default:
			return nil, ErrQueueStopped
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop rejects pending tasks and waits up to timeout for the running one
func (q *Queue) Stop(timeout time.Duration) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	close(q.stopCh)
	done := q.done
	q.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timed out waiting for running task after %v", timeout)
	}
}

// Stats returns the queue counters
func (q *Queue) Stats() QueueStats {
	return QueueStats{
		Submitted: q.submitted.Load(),
		Completed: q.completed.Load(),
		Failed:    q.failed.Load(),
	}
}
