// Copyright (c) 2018 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package server

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/yandex/funnel/components/framers"
	"github.com/yandex/funnel/core"
	"github.com/yandex/funnel/core/connection"
	"github.com/yandex/funnel/core/funnel"
	"github.com/yandex/funnel/core/stream"
	"github.com/yandex/funnel/lib/errutil"
	"github.com/yandex/funnel/lib/monitoring"
	"github.com/yandex/funnel/lib/netutil"
)

type Config struct {
	// Endpoint is "host:port", ":port", "unix:/path/to/socket" or "/path/to/socket".
	Endpoint string `config:"endpoint" validate:"required,listen-endpoint"`
	// MaxConnections limits number of simultaneously served connections. Unlimited if zero.
	MaxConnections int `config:"max-connections" validate:"min=0"`
	// ShutdownTimeout limits wait of live connections drain on shutdown.
	// Pieces handling is canceled after it. Unlimited if zero.
	ShutdownTimeout time.Duration     `config:"shutdown-timeout"`
	Stream          stream.Config     `config:"stream"`
	Connection      connection.Config `config:"connection"`
	Pool            funnel.PoolConfig `config:"pool"`
}

func DefaultConfig() Config {
	return Config{
		Endpoint:        ":7777",
		ShutdownTimeout: 10 * time.Second,
		Stream:          stream.DefaultConfig(),
		Connection:      connection.DefaultConfig(),
		Pool:            funnel.DefaultPoolConfig(),
	}
}

var ErrShutdownTimeout = errors.New("connections were not finished in shutdown timeout")

type Metrics struct {
	Connection   connection.Metrics
	Accepted     *monitoring.Counter
	Active       *monitoring.Counter
	Failed       *monitoring.Counter
	BytesRead    *monitoring.Counter
	BytesWritten *monitoring.Counter
}

// NewMetrics returns not published metrics.
func NewMetrics() Metrics {
	return Metrics{
		Connection:   connection.NewMetrics(),
		Accepted:     &monitoring.Counter{},
		Active:       &monitoring.Counter{},
		Failed:       &monitoring.Counter{},
		BytesRead:    &monitoring.Counter{},
		BytesWritten: &monitoring.Counter{},
	}
}

type Deps struct {
	Log *zap.Logger
	// NewFramer is called for every accepted connection, so framers may be stateful.
	NewFramer func() (framers.Framer, error)
	Handlers  core.PieceHandlerFactory
	Metrics   Metrics
}

func New(conf Config, deps Deps) *Server {
	if deps.Metrics == (Metrics{}) {
		deps.Metrics = NewMetrics()
	}
	connCtx, connCancel := context.WithCancel(context.Background())
	return &Server{
		log:        deps.Log,
		conf:       conf,
		deps:       deps,
		metrics:    deps.Metrics,
		connCtx:    connCtx,
		connCancel: connCancel,
		conns:      map[*connection.Connection]struct{}{},
	}
}

// Server accepts connections and runs connection pipeline on each of them.
// Pieces of all connections are handled on one shared worker pool.
type Server struct {
	log     *zap.Logger
	conf    Config
	deps    Deps
	metrics Metrics

	// connCtx is parent of connection contexts. Canceled on shutdown timeout.
	connCtx    context.Context
	connCancel context.CancelFunc

	lastID atomic.Int64
	mu     sync.Mutex
	conns  map[*connection.Connection]struct{}
	wait   sync.WaitGroup
}

// Run listens on configured endpoint and serves connections until ctx cancel.
func (s *Server) Run(ctx context.Context) error {
	listener, err := netutil.Listen(ctx, s.conf.Endpoint, s.conf.MaxConnections)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections on listener until ctx cancel or accept fail.
// Then listener is closed, live connections are closed and their drain is awaited.
// Returns nil, if ctx was canceled, and all connections finished in shutdown timeout.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.log.Info("Serving", zap.Stringer("addr", listener.Addr()))
	pool := funnel.NewPool(s.log, s.conf.Pool)
	defer func() {
		_ = pool.Close()
		s.connCancel()
	}()

	serveDone := make(chan struct{})
	defer close(serveDone)
	go func() {
		select {
		case <-ctx.Done():
		case <-serveDone:
		}
		_ = listener.Close()
	}()

	var acceptErr error
	var tempDelay time.Duration
	for {
		nc, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				tempDelay = nextAcceptDelay(tempDelay)
				s.log.Warn("Accept failed. Retrying", zap.Error(err), zap.Duration("delay", tempDelay))
				time.Sleep(tempDelay)
				continue
			}
			acceptErr = errors.Wrap(err, "accept failed")
			break
		}
		tempDelay = 0
		s.serveConn(nc, pool)
	}
	shutdownErr := s.shutdown()
	return errutil.Join(acceptErr, shutdownErr)
}

func nextAcceptDelay(prev time.Duration) time.Duration {
	const maxDelay = time.Second
	if prev == 0 {
		return 5 * time.Millisecond
	}
	if prev*2 > maxDelay {
		return maxDelay
	}
	return prev * 2
}

// Active returns number of not finished connections.
func (s *Server) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) serveConn(nc net.Conn, pool *funnel.Pool) {
	s.metrics.Accepted.Inc()
	framer, err := s.deps.NewFramer()
	if err != nil {
		s.log.Error("Framer create failed. Closing connection", zap.Error(err))
		s.metrics.Failed.Inc()
		_ = nc.Close()
		return
	}
	id := strconv.FormatInt(s.lastID.Inc(), 10)
	log := s.log.With(zap.Stringer("remote", nc.RemoteAddr()))
	st := stream.New(log.With(zap.String("conn", id)), nc, s.conf.Stream)
	handler := s.deps.Handlers.New(log.With(zap.String("conn", id)), framer)
	c := connection.New(st, framer, handler, s.conf.Connection, connection.Deps{
		Log:      log,
		Executor: pool,
		Metrics:  s.metrics.Connection,
		ID:       id,
	})
	log = log.With(zap.String("conn", id))

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	s.metrics.Active.Inc()
	s.wait.Add(1)
	log.Debug("Connection accepted")

	go func() {
		defer s.wait.Done()
		s.awaitConn(log, c, st)
	}()
	c.Start(s.connCtx)
}

func (s *Server) awaitConn(log *zap.Logger, c *connection.Connection, st *stream.Stream) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		s.metrics.Active.Dec()
	}()
	err := c.WaitForAllHandled(s.connCtx)
	canceled := err != nil && errutil.IsCtxError(s.connCtx, err)
	if canceled {
		c.Abort()
		<-c.Terminated()
	}
	closeErr := st.Close()
	stats := st.Stats()
	s.metrics.BytesRead.Add(stats.Read)
	s.metrics.BytesWritten.Add(stats.Written)

	fields := []zap.Field{
		zap.Stringer("reason", c.Reason()),
		zap.Int64("read", stats.Read),
		zap.Int64("written", stats.Written),
		zap.Int64("pieces", c.AccumulatorStats().Pieces),
	}
	if err == nil && closeErr != nil {
		log.Debug("Stream close failed", zap.Error(closeErr))
	}
	if err != nil {
		s.metrics.Failed.Inc()
		if canceled {
			log.Warn("Connection handling canceled on shutdown timeout", fields...)
			return
		}
		log.Warn("Connection failed", append(fields, zap.Error(err))...)
		return
	}
	log.Debug("Connection finished", fields...)
}

func (s *Server) shutdown() error {
	s.mu.Lock()
	conns := make([]*connection.Connection, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	s.log.Info("Shutting down", zap.Int("active", len(conns)), zap.Duration("timeout", s.conf.ShutdownTimeout))
	for _, c := range conns {
		err := c.Close()
		if err != nil {
			s.log.Debug("Connection close failed", zap.String("conn", c.ID()), zap.Error(err))
		}
	}

	done := make(chan struct{})
	go func() {
		s.wait.Wait()
		close(done)
	}()
	var timeout <-chan time.Time
	if s.conf.ShutdownTimeout > 0 {
		timer := time.NewTimer(s.conf.ShutdownTimeout)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-done:
		s.log.Info("All connections finished")
		return nil
	case <-timeout:
	}
	s.log.Warn("Shutdown timeout exceeded. Canceling pieces handling", zap.Int("active", s.Active()))
	s.connCancel()
	<-done
	return ErrShutdownTimeout
}
