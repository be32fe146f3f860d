// Copyright (c) 2018 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package funnel

import (
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/yandex/funnel/lib/monitoring"
)

// Executor runs funcs asynchronously.
type Executor interface {
	// Go schedules fn execution. Go MUST NOT block, and MUST execute every passed fn.
	Go(fn func())
}

type ExecutorFunc func(fn func())

func (f ExecutorFunc) Go(fn func()) { f(fn) }

// GoExecutor runs every func in new goroutine. That is, funnel
// on GoExecutor has dedicated goroutine for every drain run.
type GoExecutor struct{}

func (GoExecutor) Go(fn func()) { go fn() }

type PoolConfig struct {
	Workers int `validate:"min=1"`
	// QueueSize is number of funcs, that can wait for free worker.
	// Func that doesn't fit queue is executed in new goroutine.
	QueueSize int `config:"queue-size" validate:"min=0"`
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:   4 * runtime.GOMAXPROCS(0),
		QueueSize: 1024,
	}
}

func NewPool(log *zap.Logger, conf PoolConfig) *Pool {
	p := &Pool{
		log:   log,
		conf:  conf,
		funcs: make(chan func(), conf.QueueSize),
	}
	p.wait.Add(conf.Workers)
	for i := 0; i < conf.Workers; i++ {
		go p.work()
	}
	log.Debug("Worker pool started", zap.Int("workers", conf.Workers), zap.Int("queue-size", conf.QueueSize))
	return p
}

// Pool is Executor with fixed set of worker goroutines.
type Pool struct {
	log  *zap.Logger
	conf PoolConfig

	closeMu sync.RWMutex
	closed  bool
	funcs   chan func()
	wait    sync.WaitGroup

	Overflow monitoring.Counter
}

var _ Executor = (*Pool)(nil)

func (p *Pool) Go(fn func()) {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		go fn()
		return
	}
	select {
	case p.funcs <- fn:
	default:
		if p.Overflow.Get() == 0 {
			p.log.Info("Worker pool queue is full. Extra goroutines are started")
		}
		p.Overflow.Inc()
		go fn()
	}
}

// Close waits for queued funcs execution and stops workers.
// Funcs passed after Close are executed in new goroutines.
func (p *Pool) Close() error {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return nil
	}
	p.closed = true
	close(p.funcs)
	p.closeMu.Unlock()
	p.wait.Wait()
	p.log.Debug("Worker pool closed", zap.Int64("overflow", p.Overflow.Get()))
	return nil
}

func (p *Pool) work() {
	defer p.wait.Done()
	for fn := range p.funcs {
		fn()
	}
}
