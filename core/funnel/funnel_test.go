// Copyright (c) 2018 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package funnel

import (
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
	"go.uber.org/atomic"

	"github.com/yandex/funnel/lib/ginkgoutil"
)

// recorder records task execution order, and detects concurrent task execution.
type recorder struct {
	running    atomic.Int32
	maxRunning atomic.Int32
	mu         sync.Mutex
	order      []int
}

func (r *recorder) task(i int, delay time.Duration, err error) Task {
	return func() error {
		running := r.running.Inc()
		defer r.running.Dec()
		if running > r.maxRunning.Load() {
			r.maxRunning.Store(running)
		}
		time.Sleep(delay)
		r.mu.Lock()
		r.order = append(r.order, i)
		r.mu.Unlock()
		return err
	}
}

func (r *recorder) Order() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.order...)
}

func seq(n int) []int {
	s := make([]int, n)
	for i := range s {
		s[i] = i
	}
	return s
}

var _ = Describe("funnel", func() {
	var (
		conf    Config
		metrics Metrics
		rec     *recorder
	)
	BeforeEach(func() {
		conf = DefaultConfig()
		metrics = NewMetrics()
		rec = &recorder{}
	})

	DescribeTable("ordered single flight execution",
		func(newExec func() Executor, batch int) {
			conf.Batch = batch
			f := New(ginkgoutil.NewLogger(), newExec(), conf, metrics)
			const tasks = 200
			for i := 0; i < tasks; i++ {
				var delay time.Duration
				if i%50 == 0 {
					delay = time.Millisecond
				}
				Expect(f.Submit(rec.task(i, delay, nil))).To(Succeed())
			}
			Eventually(f.IsEmpty).Should(BeTrue())
			f.Shutdown()
			Eventually(f.Stopped()).Should(BeClosed())
			Expect(rec.Order()).To(Equal(seq(tasks)))
			Expect(rec.maxRunning.Load()).To(BeEquivalentTo(1))
			Expect(metrics.Submitted.Get()).To(BeEquivalentTo(tasks))
			Expect(metrics.Done.Get()).To(BeEquivalentTo(tasks))
			Expect(f.Err()).To(BeNil())
		},
		Entry("go executor", func() Executor { return GoExecutor{} }, 0),
		Entry("go executor, small batch", func() Executor { return GoExecutor{} }, 3),
		Entry("pool", func() Executor {
			return NewPool(ginkgoutil.NewLogger(), PoolConfig{Workers: 4, QueueSize: 16})
		}, 1),
		Entry("pool without queue", func() Executor {
			return NewPool(ginkgoutil.NewLogger(), PoolConfig{Workers: 1, QueueSize: 0})
		}, 2),
	)

	It("submit never blocks on slow task", func() {
		f := New(ginkgoutil.NewLogger(), GoExecutor{}, conf, metrics)
		release := make(chan struct{})
		Expect(f.Submit(func() error { <-release; return nil })).To(Succeed())
		start := time.Now()
		for i := 0; i < 100; i++ {
			Expect(f.Submit(rec.task(i, 0, nil))).To(Succeed())
		}
		Expect(time.Since(start)).To(BeNumerically("<", time.Second))
		Consistently(f.IsEmpty, 50*time.Millisecond).Should(BeFalse())
		close(release)
		Eventually(f.IsEmpty).Should(BeTrue())
		Expect(rec.Order()).To(Equal(seq(100)))
	})

	It("shutdown drains queued tasks and rejects new", func() {
		f := New(ginkgoutil.NewLogger(), GoExecutor{}, conf, metrics)
		for i := 0; i < 10; i++ {
			Expect(f.Submit(rec.task(i, 5*time.Millisecond, nil))).To(Succeed())
		}
		f.Shutdown()
		Expect(f.Submit(rec.task(100, 0, nil))).To(Equal(ErrShutdown))
		Expect(f.IsStopped()).To(BeFalse())
		Eventually(f.Stopped()).Should(BeClosed())
		Expect(f.IsStopped()).To(BeTrue())
		Expect(f.IsEmpty()).To(BeTrue())
		Expect(rec.Order()).To(Equal(seq(10)))
	})

	It("shutdown of idle funnel stops it immediately", func() {
		f := New(ginkgoutil.NewLogger(), GoExecutor{}, conf, metrics)
		f.Shutdown()
		f.Shutdown()
		Expect(f.IsStopped()).To(BeTrue())
		Expect(f.Stopped()).To(BeClosed())
	})

	Context("task failures", func() {
		var (
			first  = errors.New("first")
			second = errors.New("second")
		)

		It("first failure recorded, next tasks still run", func() {
			f := New(ginkgoutil.NewLogger(), GoExecutor{}, conf, metrics)
			for i := 0; i < 10; i++ {
				var err error
				switch i {
				case 3:
					err = first
				case 6:
					err = second
				}
				Expect(f.Submit(rec.task(i, 0, err))).To(Succeed())
			}
			f.Shutdown()
			Eventually(f.Stopped()).Should(BeClosed())
			Expect(f.Err()).To(Equal(first))
			Expect(rec.Order()).To(Equal(seq(10)))
			Expect(metrics.Failed.Get()).To(BeEquivalentTo(2))
			Expect(metrics.Done.Get()).To(BeEquivalentTo(8))
		})

		It("stop on fail skips next tasks", func() {
			conf.StopOnFail = true
			f := New(ginkgoutil.NewLogger(), GoExecutor{}, conf, metrics)
			for i := 0; i < 10; i++ {
				var err error
				if i == 3 {
					err = first
				}
				Expect(f.Submit(rec.task(i, 0, err))).To(Succeed())
			}
			f.Shutdown()
			Eventually(f.Stopped()).Should(BeClosed())
			Expect(f.Err()).To(Equal(first))
			Expect(rec.Order()).To(Equal(seq(4)))
			Expect(metrics.Skipped.Get()).To(BeEquivalentTo(6))
		})

		It("panic is recovered as failure", func() {
			f := New(ginkgoutil.NewLogger(), GoExecutor{}, conf, metrics)
			Expect(f.Submit(func() error { panic("boom") })).To(Succeed())
			Expect(f.Submit(rec.task(1, 0, nil))).To(Succeed())
			f.Shutdown()
			Eventually(f.Stopped()).Should(BeClosed())
			Expect(f.Err()).To(MatchError(ContainSubstring("task panic: boom")))
			Expect(rec.Order()).To(Equal([]int{1}))
		})
	})
})

var _ = Describe("pool", func() {
	It("executes everything and closes", func() {
		p := NewPool(ginkgoutil.NewLogger(), PoolConfig{Workers: 2, QueueSize: 1})
		var done atomic.Int32
		var wg sync.WaitGroup
		const n = 100
		wg.Add(n)
		for i := 0; i < n; i++ {
			p.Go(func() {
				defer wg.Done()
				time.Sleep(time.Millisecond)
				done.Inc()
			})
		}
		wg.Wait()
		Expect(done.Load()).To(BeEquivalentTo(n))
		Expect(p.Overflow.Get()).To(BeNumerically(">", 0))
		Expect(p.Close()).To(Succeed())
		Expect(p.Close()).To(Succeed())

		ran := make(chan struct{})
		p.Go(func() { close(ran) })
		Eventually(ran).Should(BeClosed())
	})
})
