// Copyright (c) 2018 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

// package funnel provides lightweight ordered task queue, that executes tasks one at a time
// on shared Executor.
package funnel

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/yandex/funnel/lib/monitoring"
)

// Task is unit of work with single outcome.
type Task func() error

var ErrShutdown = errors.New("funnel is shut down")

type Config struct {
	// Batch limits number of tasks executed in one executor run, before run
	// is rescheduled. That gives tasks of other funnels sharing executor a chance to run.
	// Unlimited if zero.
	Batch int `validate:"min=0"`
	// StopOnFail makes funnel skip tasks queued after the first failure.
	StopOnFail bool `config:"stop-on-fail"`
}

func DefaultConfig() Config {
	return Config{
		Batch: 64,
	}
}

type Metrics struct {
	Submitted *monitoring.Counter
	// Done counts tasks finished without error.
	Done    *monitoring.Counter
	Failed  *monitoring.Counter
	Skipped *monitoring.Counter
}

// NewMetrics returns not published metrics.
func NewMetrics() Metrics {
	return Metrics{
		Submitted: &monitoring.Counter{},
		Done:      &monitoring.Counter{},
		Failed:    &monitoring.Counter{},
		Skipped:   &monitoring.Counter{},
	}
}

func New(log *zap.Logger, exec Executor, conf Config, m Metrics) *Funnel {
	return &Funnel{
		log:      log,
		exec:     exec,
		conf:     conf,
		metrics:  m,
		stoppedC: make(chan struct{}),
	}
}

// Funnel executes submitted tasks strictly in submission order, never two at a time.
// Tasks may be executed on different goroutines, but each task happens after
// previous task completion, so task bodies may share state without locking.
type Funnel struct {
	log     *zap.Logger
	exec    Executor
	conf    Config
	metrics Metrics

	mu    sync.Mutex
	queue []Task
	// scheduled is true, when run is scheduled on executor or running.
	// Only one run is scheduled at a time.
	scheduled bool
	shutdown  bool
	stopped   bool
	stoppedC  chan struct{}
	err       error
}

// Submit enqueues task and returns immediately.
// Returns ErrShutdown, if Shutdown has been called.
func (f *Funnel) Submit(t Task) error {
	f.mu.Lock()
	if f.shutdown {
		f.mu.Unlock()
		return ErrShutdown
	}
	f.queue = append(f.queue, t)
	f.metrics.Submitted.Inc()
	schedule := !f.scheduled
	f.scheduled = true
	f.mu.Unlock()
	if schedule {
		f.exec.Go(f.run)
	}
	return nil
}

// IsEmpty returns true, when there is no queued or executing tasks.
func (f *Funnel) IsEmpty() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.scheduled
}

// Shutdown makes funnel reject new tasks. Funnel stops after already queued
// tasks are executed.
func (f *Funnel) Shutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shutdown {
		return
	}
	f.shutdown = true
	if !f.scheduled {
		f.stop()
	}
}

func (f *Funnel) IsStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

// Stopped returns channel, that is closed when funnel is stopped.
func (f *Funnel) Stopped() <-chan struct{} {
	return f.stoppedC
}

// Err returns the first task failure.
func (f *Funnel) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *Funnel) run() {
	for n := 0; f.conf.Batch <= 0 || n < f.conf.Batch; n++ {
		task, ok := f.next()
		if !ok {
			return
		}
		f.execute(task)
	}
	f.exec.Go(f.run)
}

func (f *Funnel) next() (Task, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		f.queue = nil
		f.scheduled = false
		if f.shutdown {
			f.stop()
		}
		return nil, false
	}
	t := f.queue[0]
	f.queue[0] = nil
	f.queue = f.queue[1:]
	return t, true
}

func (f *Funnel) execute(task Task) {
	if f.conf.StopOnFail && f.Err() != nil {
		f.metrics.Skipped.Inc()
		return
	}
	err := call(task)
	if err == nil {
		f.metrics.Done.Inc()
		return
	}
	f.metrics.Failed.Inc()
	f.mu.Lock()
	first := f.err == nil
	if first {
		f.err = err
	}
	f.mu.Unlock()
	if first {
		f.log.Warn("Task failed", zap.Error(err))
		return
	}
	if ce := f.log.Check(zap.DebugLevel, "Task failed after the first failure"); ce != nil {
		ce.Write(zap.Error(err))
	}
}

func call(task Task) (err error) {
	defer func() {
		r := recover()
		if r != nil {
			err = errors.Errorf("task panic: %s", r)
		}
	}()
	return task()
}

func (f *Funnel) stop() {
	if f.stopped {
		return
	}
	f.stopped = true
	close(f.stoppedC)
}
