// Copyright (c) 2018 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package connection

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"

	"github.com/yandex/funnel/components/framers"
	"github.com/yandex/funnel/core"
	"github.com/yandex/funnel/core/accumulator"
	"github.com/yandex/funnel/core/funnel"
	"github.com/yandex/funnel/lib/ginkgoutil"
)

func shortPrefixFramer() framers.Framer {
	return framers.NewLengthPrefix(framers.LengthPrefixConfig{PrefixSize: 2})
}

func encode(payloads ...string) []byte {
	f := shortPrefixFramer()
	var buf []byte
	for _, p := range payloads {
		buf = f.Encode(buf, []byte(p))
	}
	return buf
}

func waitHandled(c *Connection) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return c.WaitForAllHandled(ctx)
}

var _ = Describe("connection", func() {
	var (
		conf    Config
		deps    Deps
		stream  *fakeStream
		handler *recordingHandler
		// pieceHandler is handler passed to connection. It is recordingHandler by default.
		pieceHandler core.PieceHandler
		framer       core.Framer
		conn         *Connection
	)

	BeforeEach(func() {
		conf = testConfig()
		deps = Deps{Log: ginkgoutil.NewLogger(), ID: "test"}
		stream = &fakeStream{}
		handler = &recordingHandler{}
		pieceHandler = handler
		framer = shortPrefixFramer()
	})

	JustBeforeEach(func() {
		conn = New(stream, framer, pieceHandler, conf, deps)
		Expect(conn.State()).To(Equal(StateOpen))
		conn.Start(context.Background())
		Expect(conn.State()).To(Equal(StateReading))
	})

	Context("short length prefix stream with trailing partial frame", func() {
		data := []byte{0x00, 0x03, 'a', 'b', 'c', 0x00, 0x02, 'x'}

		DescribeTable("chunk splits",
			func(splits ...int) {
				prev := 0
				for _, split := range append(splits, len(data)) {
					conn.OnData(data[prev:split])
					prev = split
				}
				Eventually(handler.Payloads).Should(Equal([]string{"abc"}))
				conn.OnEnd()
				err := waitHandled(conn)
				Expect(err).To(HaveOccurred())
				truncated, ok := errors.Cause(err).(*TruncatedError)
				Expect(ok).To(BeTrue(), "%T", err)
				Expect(truncated.Leftover).To(Equal([]byte{0x00, 0x02, 'x'}))
				Expect(conn.Leftover()).To(Equal([]byte{0x00, 0x02, 'x'}))
				Expect(handler.Payloads()).To(Equal([]string{"abc"}))
				Expect(conn.State()).To(Equal(StateTerminated))
				Expect(conn.Reason()).To(Equal(ReasonEndOfStream))

				stats := conn.AccumulatorStats()
				Expect(stats.Appended).To(BeEquivalentTo(len(data)))
				Expect(stats.Consumed + stats.Discarded).To(Equal(stats.Appended))
			},
			Entry("1, 4", 1, 4),
			Entry("3, 6", 3, 6),
			Entry("5, 7", 5, 7),
		)

		Context("trailing allowed", func() {
			BeforeEach(func() {
				conf.AllowTrailing = true
			})
			It("is not an error", func() {
				conn.OnData(data)
				conn.OnEnd()
				Expect(waitHandled(conn)).To(Succeed())
				Expect(conn.Leftover()).To(Equal([]byte{0x00, 0x02, 'x'}))
				Expect(handler.Payloads()).To(Equal([]string{"abc"}))
			})
		})
	})

	Context("split invariance", func() {
		var (
			payloads []string
			data     []byte
		)
		BeforeEach(func() {
			rnd := rand.New(rand.NewSource(GinkgoRandomSeed()))
			payloads = nil
			for i := 0; i < 100; i++ {
				payload := make([]byte, rnd.Intn(10))
				rnd.Read(payload)
				payloads = append(payloads, string(payload))
			}
			data = encode(payloads...)
		})

		It("every byte split equals single chunk", func() {
			for i := range data {
				conn.OnData(data[i : i+1])
			}
			conn.OnEnd()
			Expect(waitHandled(conn)).To(Succeed())
			Expect(handler.Payloads()).To(Equal(payloads))
			Expect(conn.Leftover()).To(BeEmpty())
			stats := conn.AccumulatorStats()
			Expect(stats.Consumed).To(BeEquivalentTo(len(data)))
			Expect(stats.Pieces).To(BeEquivalentTo(len(payloads)))
		})

		It("single chunk", func() {
			conn.OnData(data)
			conn.OnEnd()
			Expect(waitHandled(conn)).To(Succeed())
			Expect(handler.Payloads()).To(Equal(payloads))
		})
	})

	Context("slow handler on pool", func() {
		var pool *funnel.Pool
		BeforeEach(func() {
			handler.delay = 2 * time.Millisecond
			pool = funnel.NewPool(ginkgoutil.NewLogger(), funnel.PoolConfig{Workers: 4, QueueSize: 4})
			deps.Executor = pool
			conf.Funnel.Batch = 2
		})
		AfterEach(func() {
			Expect(pool.Close()).To(Succeed())
		})

		It("handles one piece at a time, and waits all handled", func() {
			var payloads []string
			for i := 0; i < 30; i++ {
				payloads = append(payloads, fmt.Sprint(i))
			}
			data := encode(payloads...)
			for len(data) > 0 {
				n := 1 + rand.Intn(7)
				if n > len(data) {
					n = len(data)
				}
				conn.OnData(data[:n])
				data = data[n:]
			}
			conn.OnEnd()
			Expect(waitHandled(conn)).To(Succeed())
			Expect(handler.Payloads()).To(Equal(payloads), "all handled before wait return")
			Expect(handler.maxRunning.Load()).To(BeEquivalentTo(1))
			Expect(handler.IsClosed()).To(BeTrue())
			Expect(conn.Terminated()).To(BeClosed())
		})
	})

	Context("piece handle fail", func() {
		failed := errors.New("handle failed")
		BeforeEach(func() {
			handler.fail = func(num int) error {
				if num == 3 || num == 6 {
					return failed
				}
				return nil
			}
		})

		It("first failure is returned, next pieces are still handled", func() {
			conn.OnData(encode("0", "1", "2", "3", "4", "5", "6", "7", "8", "9"))
			conn.OnEnd()
			err := waitHandled(conn)
			Expect(errors.Cause(err)).To(Equal(failed))
			Expect(err.Error()).To(ContainSubstring("piece #3"))
			Expect(handler.Payloads()).To(HaveLen(10))
			Expect(conn.Err()).To(Equal(err))
		})

		Context("stop on fail", func() {
			BeforeEach(func() {
				conf.Funnel.StopOnFail = true
			})
			It("skips next pieces", func() {
				conn.OnData(encode("0", "1", "2", "3", "4", "5"))
				conn.OnEnd()
				err := waitHandled(conn)
				Expect(errors.Cause(err)).To(Equal(failed))
				Expect(handler.Payloads()).To(HaveLen(4))
			})
		})
	})

	It("transport error drains queued pieces", func() {
		transport := errors.New("connection reset")
		handler.delay = 5 * time.Millisecond
		conn.OnData(encode("a", "b", "c"))
		conn.OnError(transport)
		Expect(conn.State()).To(Equal(StateDraining))
		err := waitHandled(conn)
		Expect(err).To(Equal(transport))
		Expect(handler.Payloads()).To(Equal([]string{"a", "b", "c"}))
		Expect(conn.Reason()).To(Equal(ReasonErrored))
	})

	It("first cause wins", func() {
		failed := errors.New("handle failed")
		handler.fail = func(int) error { return failed }
		conn.OnData(encode("a"))
		Eventually(conn.Err).Should(HaveOccurred())
		conn.OnError(errors.New("later transport error"))
		Expect(errors.Cause(waitHandled(conn))).To(Equal(failed))
	})

	Context("framing error", func() {
		BeforeEach(func() {
			framer = framers.NewLengthPrefix(framers.LengthPrefixConfig{PrefixSize: 2, MaxPayload: 4})
		})
		It("is terminal", func() {
			conn.OnData(encode("ok", "too long"))
			err := waitHandled(conn)
			_, ok := err.(*accumulator.FramingError)
			Expect(ok).To(BeTrue(), "%T", err)
			Expect(errors.Cause(err)).To(Equal(framers.ErrTooLarge))
			Expect(handler.Payloads()).To(Equal([]string{"ok"}))
			Expect(conn.Reason()).To(Equal(ReasonErrored))
		})
	})

	It("close starts draining", func() {
		conn.OnData(encode("a", "b"))
		Expect(conn.Close()).To(Succeed())
		Expect(conn.Reason()).To(Equal(ReasonClosed))
		conn.OnData(encode("after close"))
		conn.OnEnd()
		Expect(waitHandled(conn)).To(Succeed())
		Expect(handler.Payloads()).To(Equal([]string{"a", "b"}))
		Expect(conn.Reason()).To(Equal(ReasonClosed))
	})

	It("wait canceled before stream end", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err := conn.WaitForAllHandled(ctx)
		Expect(errors.Cause(err)).To(Equal(context.DeadlineExceeded))
		Expect(conn.State()).To(Equal(StateReading))
	})

	Context("drain timeout", func() {
		var handlerCtxDone chan struct{}
		BeforeEach(func() {
			conf.DrainTimeout = 30 * time.Millisecond
			handlerCtxDone = make(chan struct{})
			pieceHandler = core.PieceHandlerFunc(func(ctx context.Context, _ core.Responder, _ core.Piece) error {
				<-ctx.Done()
				close(handlerCtxDone)
				return ctx.Err()
			})
		})

		It("cancels handling", func() {
			conn.OnData(encode("blocks"))
			conn.OnEnd()
			err := waitHandled(conn)
			_, ok := errors.Cause(err).(*DrainTimeoutError)
			Expect(ok).To(BeTrue(), "%T", err)
			Eventually(handlerCtxDone).Should(BeClosed())
			Expect(conn.State()).To(Equal(StateTerminated))
		})
	})

	Context("drain timeout with handler ignoring ctx", func() {
		BeforeEach(func() {
			conf.DrainTimeout = 30 * time.Millisecond
			handler.delay = 100 * time.Millisecond
		})

		It("closes handler only after running handle returns", func() {
			conn.OnData(encode("a", "b", "c"))
			conn.OnEnd()
			err := waitHandled(conn)
			_, ok := errors.Cause(err).(*DrainTimeoutError)
			Expect(ok).To(BeTrue(), "%T", err)
			Expect(conn.State()).To(Equal(StateTerminated))
			Expect(handler.IsClosed()).To(BeTrue())
			Expect(handler.closedWhileRunning.Load()).To(BeFalse())
			Expect(handler.handledAfterClose.Load()).To(BeZero())
			Expect(handler.Payloads()).To(Equal([]string{"a"}), "queued pieces are skipped")
		})
	})

	Context("abort", func() {
		BeforeEach(func() {
			handler.delay = 50 * time.Millisecond
		})

		It("terminates after running handle returns", func() {
			conn.OnData(encode("a", "b"))
			conn.Abort()
			Eventually(conn.Terminated()).Should(BeClosed())
			Expect(conn.Reason()).To(Equal(ReasonAborted))
			Expect(errors.Cause(conn.Err())).To(Equal(ErrAborted))
			Expect(handler.IsClosed()).To(BeTrue())
			Expect(handler.closedWhileRunning.Load()).To(BeFalse())
			Expect(len(handler.Payloads())).To(BeNumerically("<=", 1))

			Expect(errors.Cause(waitHandled(conn))).To(Equal(ErrAborted))
		})

		It("is noop after termination", func() {
			conn.OnData(encode("a"))
			conn.OnEnd()
			Expect(waitHandled(conn)).To(Succeed())
			conn.Abort()
			Expect(conn.Err()).To(BeNil())
			Expect(conn.Reason()).To(Equal(ReasonEndOfStream))
		})
	})

	Context("zero poll interval", func() {
		BeforeEach(func() {
			conf.PollInterval = 0
		})

		It("is replaced with default", func() {
			Expect(conn.conf.PollInterval).To(Equal(DefaultConfig().PollInterval))
			conn.OnData(encode("a"))
			conn.OnEnd()
			Expect(waitHandled(conn)).To(Succeed())
		})
	})

	Context("backpressure", func() {
		It("stays paused, if queue is full again on drain", func() {
			stream.SetFull(true)
			conn.Write([]byte("a"))
			Expect(conn.IsPaused()).To(BeTrue())

			conn.OnDrain()
			Expect(conn.IsPaused()).To(BeTrue())
			Expect(stream.IsPaused()).To(BeTrue())
			Expect(stream.resumes).To(BeZero())

			stream.SetFull(false)
			conn.OnDrain()
			Expect(conn.IsPaused()).To(BeFalse())
			Expect(stream.resumes).To(Equal(1))
		})

		It("pauses reads on full queue, and resumes on drain", func() {
			Expect(conn.IsPaused()).To(BeFalse())
			Eventually(conn.Write([]byte("a"))).Should(Receive(BeNil()))
			Expect(stream.IsPaused()).To(BeFalse())

			stream.SetFull(true)
			conn.Write([]byte("b"))
			conn.Write([]byte("c"))
			Expect(conn.IsPaused()).To(BeTrue())
			Expect(stream.IsPaused()).To(BeTrue())
			Expect(stream.pauses).To(Equal(1))

			stream.SetFull(false)
			conn.OnDrain()
			Expect(conn.IsPaused()).To(BeFalse())
			Expect(stream.IsPaused()).To(BeFalse())
			Expect(stream.resumes).To(Equal(1))

			conn.OnDrain()
			Expect(stream.resumes).To(Equal(1), "drain without pause")
			Expect(stream.written).To(HaveLen(3))
		})
	})
})
