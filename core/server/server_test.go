// Copyright (c) 2018 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/c2h5oh/datasize"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/yandex/funnel/components/framers"
	"github.com/yandex/funnel/components/handlers"
	"github.com/yandex/funnel/core"
	"github.com/yandex/funnel/core/config"
	"github.com/yandex/funnel/core/coretest"
	"github.com/yandex/funnel/core/stream"
	"github.com/yandex/funnel/lib/ginkgoutil"
	"github.com/yandex/funnel/lib/netutil"
)

var _ = Describe("config", func() {
	It("decodes", func() {
		conf := DefaultConfig()
		coretest.DecodeAndValidate(`
endpoint: unix:/tmp/funnel.sock
max-connections: 5
shutdown-timeout: 1s
stream:
  write-queue-max-size: 64KB
connection:
  batch: 16
  stop-on-fail: true
pool:
  workers: 2
`, &conf)
		Expect(conf.Endpoint).To(Equal("unix:/tmp/funnel.sock"))
		Expect(conf.MaxConnections).To(Equal(5))
		Expect(conf.ShutdownTimeout).To(Equal(time.Second))
		Expect(conf.Stream.WriteQueueMaxSize).To(Equal(64 * datasize.KB))
		Expect(conf.Stream.CloseTimeout).To(Equal(stream.DefaultConfig().CloseTimeout), "defaults kept")
		Expect(conf.Connection.Funnel.Batch).To(Equal(16))
		Expect(conf.Connection.Funnel.StopOnFail).To(BeTrue())
		Expect(conf.Pool.Workers).To(Equal(2))
	})

	DescribeTable("validation",
		func(endpoint string, valid bool) {
			conf := DefaultConfig()
			conf.Endpoint = endpoint
			err := config.Validate(conf)
			if valid {
				Expect(err).NotTo(HaveOccurred())
			} else {
				Expect(err).To(HaveOccurred())
			}
		},
		Entry("default", DefaultConfig().Endpoint, true),
		Entry("host port", "localhost:7777", true),
		Entry("unix", "unix:/tmp/funnel.sock", true),
		Entry("path", "/tmp/funnel.sock", true),
		Entry("empty", "", false),
		Entry("no port", "localhost", false),
		Entry("relative path", "unix:funnel.sock", false),
	)
})

func newLineFramer() (framers.Framer, error) {
	return framers.NewDelimiter(framers.DefaultDelimiterConfig()), nil
}

type handlerFactoryFunc func(log *zap.Logger, enc core.Encoder) core.PieceHandler

func (f handlerFactoryFunc) New(log *zap.Logger, enc core.Encoder) core.PieceHandler {
	return f(log, enc)
}

type closeRecorder struct {
	core.PieceHandler
	closed atomic.Bool
}

func (h *closeRecorder) Close() error {
	h.closed.Store(true)
	return nil
}

var _ = Describe("server", func() {
	var (
		conf        Config
		deps        Deps
		metrics     Metrics
		server      *Server
		addr        string
		cancel      context.CancelFunc
		serveErr    chan error
		echoFactory *handlers.Factory
	)

	BeforeEach(func() {
		conf = DefaultConfig()
		conf.Endpoint = "127.0.0.1:0"
		conf.ShutdownTimeout = 5 * time.Second
		conf.Pool.Workers = 2
		conf.Connection.PollInterval = 5 * time.Millisecond
		var err error
		echoFactory, err = handlers.NewFactory(map[string]interface{}{"type": "echo"}, handlers.Deps{Log: ginkgoutil.NewLogger()})
		Expect(err).NotTo(HaveOccurred())
		metrics = NewMetrics()
		deps = Deps{
			Log:       ginkgoutil.NewLogger(),
			NewFramer: newLineFramer,
			Handlers:  echoFactory,
			Metrics:   metrics,
		}
	})

	JustBeforeEach(func() {
		server = New(conf, deps)
		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		listener, err := netutil.Listen(ctx, conf.Endpoint, conf.MaxConnections)
		Expect(err).NotTo(HaveOccurred())
		addr = listener.Addr().String()
		serveErr = make(chan error, 1)
		go func() {
			serveErr <- server.Serve(ctx, listener)
		}()
	})

	AfterEach(func() {
		cancel()
		Eventually(serveErr, 10*time.Second).Should(Receive())
	})

	dial := func() net.Conn {
		conn, err := net.Dial("tcp", addr)
		Expect(err).NotTo(HaveOccurred())
		return conn
	}

	It("echoes lines in order", func() {
		conn := dial()
		defer conn.Close()
		const lines = 100
		go func() {
			defer GinkgoRecover()
			w := bufio.NewWriter(conn)
			for i := 0; i < lines; i++ {
				_, err := fmt.Fprintf(w, "line %v\n", i)
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(w.Flush()).To(Succeed())
		}()
		r := bufio.NewReader(conn)
		for i := 0; i < lines; i++ {
			line, err := r.ReadString('\n')
			Expect(err).NotTo(HaveOccurred())
			Expect(line).To(Equal(fmt.Sprintf("line %v\n", i)))
		}
		Expect(conn.(*net.TCPConn).CloseWrite()).To(Succeed())
		_, err := r.ReadByte()
		Expect(err).To(Equal(io.EOF))

		Eventually(server.Active).Should(BeZero())
		Expect(metrics.Accepted.Get()).To(BeEquivalentTo(1))
		Expect(metrics.Failed.Get()).To(BeZero())
		Expect(metrics.Connection.Pieces.Get()).To(BeEquivalentTo(lines))
		Expect(metrics.BytesRead.Get()).To(Equal(metrics.BytesWritten.Get()))
	})

	It("serves connections concurrently", func() {
		const conns = 5
		var wg sync.WaitGroup
		for i := 0; i < conns; i++ {
			wg.Add(1)
			go func(i int) {
				defer GinkgoRecover()
				defer wg.Done()
				conn := dial()
				defer conn.Close()
				r := bufio.NewReader(conn)
				for j := 0; j < 20; j++ {
					msg := fmt.Sprintf("conn %v msg %v\n", i, j)
					_, err := io.WriteString(conn, msg)
					Expect(err).NotTo(HaveOccurred())
					line, err := r.ReadString('\n')
					Expect(err).NotTo(HaveOccurred())
					Expect(line).To(Equal(msg))
				}
			}(i)
		}
		wg.Wait()
		Eventually(server.Active).Should(BeZero())
		Expect(metrics.Accepted.Get()).To(BeEquivalentTo(conns))
	})

	It("truncated stream is connection failure", func() {
		conn := dial()
		_, err := io.WriteString(conn, "complete\nincompl")
		Expect(err).NotTo(HaveOccurred())
		line, err := bufio.NewReader(conn).ReadString('\n')
		Expect(err).NotTo(HaveOccurred())
		Expect(line).To(Equal("complete\n"))
		Expect(conn.Close()).To(Succeed())
		Eventually(metrics.Failed.Get).Should(BeEquivalentTo(1))
		Eventually(server.Active).Should(BeZero())
	})

	Context("framer create fail", func() {
		BeforeEach(func() {
			deps.NewFramer = func() (framers.Framer, error) {
				return nil, errors.New("no framer")
			}
		})
		It("closes connection", func() {
			conn := dial()
			defer conn.Close()
			_, err := conn.Read(make([]byte, 1))
			Expect(err).To(HaveOccurred())
			Expect(metrics.Failed.Get()).To(BeEquivalentTo(1))
		})
	})

	It("graceful shutdown closes idle connections", func() {
		conn := dial()
		defer conn.Close()
		r := bufio.NewReader(conn)
		_, err := io.WriteString(conn, "hello\n")
		Expect(err).NotTo(HaveOccurred())
		line, err := r.ReadString('\n')
		Expect(err).NotTo(HaveOccurred())
		Expect(line).To(Equal("hello\n"))

		cancel()
		Eventually(serveErr).Should(Receive(BeNil()))
		serveErr <- nil // For AfterEach.
		_, err = r.ReadByte()
		Expect(err).To(HaveOccurred())
		Expect(server.Active()).To(BeZero())
	})

	Context("handler blocks", func() {
		var (
			canceled chan struct{}
			handler  *closeRecorder
		)
		BeforeEach(func() {
			conf.ShutdownTimeout = 50 * time.Millisecond
			canceled = make(chan struct{}, 1)
			handler = &closeRecorder{PieceHandler: core.PieceHandlerFunc(func(ctx context.Context, _ core.Responder, _ core.Piece) error {
				<-ctx.Done()
				canceled <- struct{}{}
				return ctx.Err()
			})}
			deps.Handlers = handlerFactoryFunc(func(*zap.Logger, core.Encoder) core.PieceHandler {
				return handler
			})
		})
		It("shutdown timeout cancels handling", func() {
			conn := dial()
			defer conn.Close()
			_, err := io.WriteString(conn, "blocks\n")
			Expect(err).NotTo(HaveOccurred())
			Eventually(metrics.Connection.Pieces.Get).Should(BeEquivalentTo(1))

			cancel()
			Eventually(serveErr, 5*time.Second).Should(Receive(Equal(ErrShutdownTimeout)))
			serveErr <- nil
			Expect(canceled).To(Receive())
			Expect(handler.closed.Load()).To(BeTrue(), "handler is closed before serve return")
			Expect(server.Active()).To(BeZero())
		})
	})

	Context("max connections", func() {
		BeforeEach(func() {
			conf.MaxConnections = 1
		})
		It("next connection is served after previous finish", func() {
			first := dial()
			r1 := bufio.NewReader(first)
			_, err := io.WriteString(first, "first\n")
			Expect(err).NotTo(HaveOccurred())
			Expect(r1.ReadString('\n')).To(Equal("first\n"))

			second := dial()
			defer second.Close()
			_, err = io.WriteString(second, "second\n")
			Expect(err).NotTo(HaveOccurred())
			Consistently(metrics.Accepted.Get, 50*time.Millisecond).Should(BeEquivalentTo(1))

			Expect(first.Close()).To(Succeed())
			Expect(bufio.NewReader(second).ReadString('\n')).To(Equal("second\n"))
			Expect(metrics.Accepted.Get()).To(BeEquivalentTo(2))
		})
	})
})
