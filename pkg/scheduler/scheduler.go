// Package scheduler runs the master controller's periodic tasks (heartbeat
// send, state publish, balance tick, heartbeat check, freshness check) on a
// single goroutine using a min-heap of next-fire-times: a loop that takes
// whichever task is due next, sleeps until it is due, then runs it,
// generalized from a single fixed period per goroutine to many
// independently-periodic tasks sharing one goroutine via a heap, since the
// pack's periodic work is driven from exactly one goroutine rather than
// one per task.
package scheduler

import (
	"container/heap"
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Task is one periodic unit of work. Run is invoked every Period, starting
// immediately on Scheduler.Run.
type Task struct {
	Name   string
	Period time.Duration
	Run    func(ctx context.Context)
}

type scheduledTask struct {
	task   Task
	nextAt time.Time
	index  int
}

// taskHeap orders scheduledTask entries by nextAt, earliest first.
type taskHeap []*scheduledTask

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].nextAt.Before(h[j].nextAt) }
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *taskHeap) Push(x interface{}) {
	st := x.(*scheduledTask)
	st.index = len(*h)
	*h = append(*h, st)
}
func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	st := old[n-1]
	old[n-1] = nil
	st.index = -1
	*h = old[:n-1]
	return st
}

// Scheduler cooperatively multiplexes every periodic Task onto one
// goroutine: at most one task's Run executes at a time, in nextAt order.
type Scheduler struct {
	tasks  taskHeap
	now    func() time.Time
	sleep  func(time.Duration)
	logger *logrus.Entry
}

// New builds a Scheduler from the given tasks, each first firing
// immediately (nextAt = now) and then every Period thereafter.
func New(tasks []Task, logger *logrus.Entry) *Scheduler {
	s := &Scheduler{
		now:    time.Now,
		sleep:  time.Sleep,
		logger: logger,
	}
	start := s.now()
	for _, t := range tasks {
		heap.Push(&s.tasks, &scheduledTask{task: t, nextAt: start})
	}
	return s
}

// SetClock overrides the time source and sleep function, for deterministic
// testing of scheduling order without real waits.
func (s *Scheduler) SetClock(now func() time.Time, sleep func(time.Duration)) {
	s.now = now
	s.sleep = sleep
}

// Run drives the task heap until ctx is cancelled. Each iteration pops the
// earliest-due task, sleeps until it is due if necessary, runs it, then
// reschedules it Period later.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if len(s.tasks) == 0 {
			return
		}
		next := s.tasks[0]
		wait := next.nextAt.Sub(s.now())
		if wait > 0 {
			s.sleep(wait)
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.runTask(ctx, next)
		next.nextAt = s.now().Add(next.task.Period)
		heap.Fix(&s.tasks, next.index)
	}
}

func (s *Scheduler) runTask(ctx context.Context, st *scheduledTask) {
	defer func() {
		if r := recover(); r != nil && s.logger != nil {
			s.logger.WithField("task", st.task.Name).Errorf("scheduler: task panicked: %v", r)
		}
	}()
	st.task.Run(ctx)
}

// RunOnce pops and runs exactly the next due task, without blocking on its
// period, and returns its name. Intended for tests that want to drive the
// schedule deterministically one step at a time.
func (s *Scheduler) RunOnce(ctx context.Context) (string, bool) {
	if len(s.tasks) == 0 {
		return "", false
	}
	next := s.tasks[0]
	s.runTask(ctx, next)
	next.nextAt = s.now().Add(next.task.Period)
	heap.Fix(&s.tasks, next.index)
	return next.task.Name, true
}
