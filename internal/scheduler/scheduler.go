// Package scheduler drives kobe's four pipelines as long-lived,
// independently-ticking goroutines, adapted from cmd/thor/node's
// houseKeeping/txStashLoop/packerLoop/backerLoop pattern: one
// goroutine per loop, each its own select{ <-ctx.Done(); case
// <-ticker.C } body, all tracked by a single coutil.Goes so a run can
// wait for or be torn down as a unit.
package scheduler

import (
	"context"
	"time"

	"github.com/inconshreveable/log15"

	"github.com/jito-foundation/kobe/internal/adminsrv"
	"github.com/jito-foundation/kobe/internal/coutil"
)

var logger = log15.New("pkg", "scheduler")

// Task is one pipeline tick: Run is invoked every Interval (or on
// ProgressTrigger firing, for BamSizer's epoch-progress-threshold
// cadence) until the scheduler's context is cancelled.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error

	// ProgressTrigger, when non-nil, is polled on a short fixed cadence
	// (independent of Interval) and fires Run whenever it reports a new
	// threshold has been reached — BamSizer's "tick at 50/75/90% epoch
	// progress" cadence (§4.5), which isn't a fixed wall-clock interval.
	ProgressTrigger func(ctx context.Context) (fire bool, err error)
}

// Scheduler runs a set of Tasks concurrently and lets the caller wait
// for a clean shutdown.
type Scheduler struct {
	goes    coutil.Goes
	tracker *adminsrv.Tracker
}

// New returns a Scheduler that records each task's outcome in tracker
// (nil is fine — a fresh Tracker is created, reachable through
// Tracker()).
func New(tracker *adminsrv.Tracker) *Scheduler {
	if tracker == nil {
		tracker = adminsrv.NewTracker()
	}
	return &Scheduler{tracker: tracker}
}

// Tracker exposes the scheduler's run-status tracker for wiring into
// an adminsrv server.
func (s *Scheduler) Tracker() *adminsrv.Tracker {
	return s.tracker
}

// Start launches every task's loop in the background. Start returns
// immediately; call Wait to block until ctx is cancelled and every
// loop has exited.
func (s *Scheduler) Start(ctx context.Context, tasks ...Task) {
	for _, task := range tasks {
		task := task
		s.goes.Go(func() { s.runLoop(ctx, task) })
	}
}

// Wait blocks until every task loop started by Start has returned.
func (s *Scheduler) Wait() {
	s.goes.Wait()
}

const progressPollInterval = 10 * time.Second

func (s *Scheduler) runLoop(ctx context.Context, task Task) {
	if task.ProgressTrigger != nil {
		s.runProgressLoop(ctx, task)
		return
	}
	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.invoke(ctx, task)
		}
	}
}

func (s *Scheduler) runProgressLoop(ctx context.Context, task Task) {
	ticker := time.NewTicker(progressPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fire, err := task.ProgressTrigger(ctx)
			if err != nil {
				logger.Warn("progress trigger check failed", "task", task.Name, "err", err)
				continue
			}
			if fire {
				s.invoke(ctx, task)
			}
		}
	}
}

func (s *Scheduler) invoke(ctx context.Context, task Task) {
	err := task.Run(ctx)
	s.tracker.RecordRun(task.Name, err)
	if err != nil {
		logger.Warn("task run failed", "task", task.Name, "err", err)
	} else {
		logger.Info("task run complete", "task", task.Name)
	}
}
