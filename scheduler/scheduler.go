// Package scheduler provides the single admission-controlled queue that
// every remote call in the pipeline goes through. It caps concurrent
// closures at a fixed ceiling and spaces successive admissions by a
// fixed delay while actively draining, so a burst of work never
// hammers the remote APIs.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yairfalse/vahti/telemetry"
)

// ErrClosed is returned for work submitted after Close.
var ErrClosed = errors.New("scheduler closed")

// Task is one unit of remote work.
type Task func(ctx context.Context) (any, error)

// Future resolves with the result of one submitted task.
type Future struct {
	done  chan struct{}
	value any
	err   error
}

// Done is closed when the task has resolved.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the task resolves or ctx is canceled.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *Future) resolve(value any, err error) {
	f.value = value
	f.err = err
	close(f.done)
}

type pending struct {
	ctx    context.Context
	task   Task
	future *Future
}

// Scheduler drains continuously: whenever in-flight count drops below
// the ceiling and the queue is non-empty it admits more work without an
// external trigger. Tasks may themselves submit further work; it queues
// behind the current backlog.
type Scheduler struct {
	maxConcurrent int
	delay         time.Duration
	logger        *telemetry.Logger

	mu       sync.Mutex
	queue    []*pending
	inflight int
	closed   bool

	wake chan struct{}
	stop chan struct{}
}

// New creates a scheduler and starts its dispatch loop.
func New(maxConcurrent int, delay time.Duration) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	s := &Scheduler{
		maxConcurrent: maxConcurrent,
		delay:         delay,
		logger:        telemetry.NewLogger("scheduler"),
		wake:          make(chan struct{}, 1),
		stop:          make(chan struct{}),
	}
	go s.dispatch()
	return s
}

// Submit enqueues a task and returns its future. The task runs with the
// submitter's ctx; cancellation before admission resolves the future
// with the ctx error without running the task.
func (s *Scheduler) Submit(ctx context.Context, task Task) *Future {
	f := &Future{done: make(chan struct{})}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		f.resolve(nil, ErrClosed)
		return f
	}
	s.queue = append(s.queue, &pending{ctx: ctx, task: task, future: f})
	queued, inflight := len(s.queue), s.inflight
	s.mu.Unlock()

	telemetry.RecordSchedulerState(ctx, queued, inflight)
	s.signal()
	return f
}

// Close rejects queued and future work. In-flight tasks finish.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	drained := s.queue
	s.queue = nil
	s.mu.Unlock()

	close(s.stop)
	for _, p := range drained {
		p.future.resolve(nil, ErrClosed)
	}
}

// Depth returns queued and in-flight counts.
func (s *Scheduler) Depth() (queued, inflight int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue), s.inflight
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// dispatch admits work whenever signaled, spacing consecutive
// admissions by the configured delay. The delay applies only while
// actively admitting, not while the scheduler sits idle.
func (s *Scheduler) dispatch() {
	for {
		select {
		case <-s.stop:
			return
		case <-s.wake:
		}

		for s.admitNext() {
			if s.delay <= 0 {
				continue
			}
			select {
			case <-s.stop:
				return
			case <-time.After(s.delay):
			}
		}
	}
}

// admitNext pops and launches one task if the ceiling allows.
func (s *Scheduler) admitNext() bool {
	s.mu.Lock()
	if s.closed || len(s.queue) == 0 || s.inflight >= s.maxConcurrent {
		s.mu.Unlock()
		return false
	}
	p := s.queue[0]
	s.queue = s.queue[1:]
	s.inflight++
	s.mu.Unlock()

	go s.run(p)
	return true
}

func (s *Scheduler) run(p *pending) {
	defer s.finish()

	if err := p.ctx.Err(); err != nil {
		p.future.resolve(nil, err)
		return
	}

	value, err := p.task(p.ctx)
	if err != nil {
		s.logger.WithContext(p.ctx).Debug().Err(err).Msg("scheduled task failed")
	}
	// A task failure resolves only this caller's future; siblings
	// keep running and the queue keeps draining.
	p.future.resolve(value, err)
}

func (s *Scheduler) finish() {
	s.mu.Lock()
	s.inflight--
	s.mu.Unlock()
	s.signal()
}
