// Copyright (c) 2018 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

// package connection bridges core.Stream events to ordered core.PieceHandler calls.
package connection

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/yandex/funnel/core"
	"github.com/yandex/funnel/core/accumulator"
	"github.com/yandex/funnel/core/funnel"
	"github.com/yandex/funnel/lib/monitoring"
)

type Config struct {
	Accumulator accumulator.Config `config:",squash"`
	Funnel      funnel.Config      `config:",squash"`
	// PollInterval is period of termination conditions check in WaitForAllHandled.
	PollInterval time.Duration `config:"poll-interval" validate:"min-time=1ms"`
	// DrainTimeout limits time of queued pieces handling after stream end. Unlimited if zero.
	DrainTimeout time.Duration `config:"drain-timeout"`
	// AllowTrailing makes bytes that can't be framed at stream end a warning, not an error.
	AllowTrailing bool `config:"allow-trailing"`
}

func DefaultConfig() Config {
	return Config{
		Accumulator:  accumulator.DefaultConfig(),
		Funnel:       funnel.DefaultConfig(),
		PollInterval: 100 * time.Millisecond,
	}
}

type Metrics struct {
	Funnel funnel.Metrics
	Pieces *monitoring.Counter
	Pauses *monitoring.Counter
}

// NewMetrics returns not published metrics.
func NewMetrics() Metrics {
	return Metrics{
		Funnel: funnel.NewMetrics(),
		Pieces: &monitoring.Counter{},
		Pauses: &monitoring.Counter{},
	}
}

type Deps struct {
	Log *zap.Logger
	// Executor runs piece handling. New goroutine per drain run is used, if nil.
	Executor funnel.Executor
	Metrics  Metrics
	// ID is connection identifier. Generated, if empty.
	ID string
}

var lastID atomic.Int64

func New(stream core.Stream, framer core.Framer, handler core.PieceHandler, conf Config, deps Deps) *Connection {
	id := deps.ID
	if id == "" {
		id = strconv.FormatInt(lastID.Inc(), 10)
	}
	exec := deps.Executor
	if exec == nil {
		exec = funnel.GoExecutor{}
	}
	if deps.Metrics == (Metrics{}) {
		deps.Metrics = NewMetrics()
	}
	if conf.PollInterval <= 0 {
		conf.PollInterval = DefaultConfig().PollInterval
	}
	log := deps.Log.With(zap.String("conn", id))
	return &Connection{
		id:         id,
		log:        log,
		stream:     stream,
		handler:    handler,
		conf:       conf,
		metrics:    deps.Metrics,
		acc:        accumulator.New(framer, conf.Accumulator),
		funnel:     funnel.New(log, exec, conf.Funnel, deps.Metrics.Funnel),
		ctx:        context.Background(),
		cancel:     func() {},
		terminated: make(chan struct{}),
	}
}

// Connection cuts stream data to pieces, and passes them to handler one at a time,
// in stream order. Connection pauses stream reads, when its write queue is full, and
// resumes them on drain.
// Stream MUST be closed by connection owner after termination. That flushes answers
// written by handler.
type Connection struct {
	id      string
	log     *zap.Logger
	stream  core.Stream
	handler core.PieceHandler
	conf    Config
	metrics Metrics
	acc     *accumulator.Accumulator
	funnel  *funnel.Funnel
	ctx     context.Context
	cancel  context.CancelFunc

	// pieceNum is accessed only from accumulator emit, that is serialized.
	pieceNum int64

	pauseMu sync.Mutex
	paused  bool

	mu         sync.Mutex
	state      State
	reason     Reason
	finalCut   bool
	aborted    bool
	leftover   []byte
	err        error
	terminated chan struct{}
}

var (
	_ core.StreamHandler = (*Connection)(nil)
	_ core.Responder     = (*Connection)(nil)
)

func (c *Connection) ID() string { return c.id }

// Start starts stream reading. Handler calls get context derived from ctx.
func (c *Connection) Start(ctx context.Context) {
	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		panic("connection is already started")
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.state = StateReading
	c.mu.Unlock()
	c.log.Debug("Connection started")
	c.stream.Start(c)
}

// Write enqueues p to stream outbound queue. If queue is full after that,
// stream reads are paused until queue drain.
func (c *Connection) Write(p []byte) <-chan error {
	res := c.stream.Write(p)
	c.pauseMu.Lock()
	defer c.pauseMu.Unlock()
	if !c.paused && c.stream.WriteQueueFull() {
		c.paused = true
		c.metrics.Pauses.Inc()
		c.log.Debug("Write queue is full. Pausing reads")
		c.stream.Pause()
	}
	return res
}

// Close closes stream. Connection starts draining, if it has not yet.
func (c *Connection) Close() error {
	err := c.stream.Close()
	c.beginDraining(ReasonClosed)
	return err
}

func (c *Connection) OnData(data []byte) {
	if ce := c.log.Check(zap.DebugLevel, "Buffer received"); ce != nil {
		ce.Write(zap.Int("size", len(data)), zap.String("hex", hex.EncodeToString(data)))
	}
	err := c.acc.Append(data, c.submit)
	if err == accumulator.ErrDrained {
		c.log.Debug("Data received after drain is ignored", zap.Int("size", len(data)))
		return
	}
	if err != nil {
		c.fail(err)
		c.beginDraining(ReasonErrored)
	}
}

func (c *Connection) OnEnd() {
	c.log.Debug("Read to end")
	c.beginDraining(ReasonEndOfStream)
}

func (c *Connection) OnError(err error) {
	c.log.Debug("Stream error", zap.Error(err))
	c.fail(err)
	c.beginDraining(ReasonErrored)
}

func (c *Connection) OnClose() {
	c.log.Debug("Stream closed")
	c.beginDraining(ReasonClosed)
}

// OnDrain resumes reads, if they were paused and write queue is not full again.
func (c *Connection) OnDrain() {
	c.pauseMu.Lock()
	defer c.pauseMu.Unlock()
	if c.paused && !c.stream.WriteQueueFull() {
		c.paused = false
		c.log.Debug("Write queue drained. Resuming reads")
		c.stream.Resume()
	}
}

func (c *Connection) IsPaused() bool {
	c.pauseMu.Lock()
	defer c.pauseMu.Unlock()
	return c.paused
}

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Reason returns the event, that started draining.
func (c *Connection) Reason() Reason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Leftover returns bytes discarded by final framing pass.
func (c *Connection) Leftover() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leftover
}

// Err returns the first failure: transport, framing or piece handling.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Terminated returns channel, that is closed on connection termination.
func (c *Connection) Terminated() <-chan struct{} {
	return c.terminated
}

func (c *Connection) AccumulatorStats() accumulator.Stats {
	return c.acc.Stats()
}

// submit is accumulator emit callback, so pieces are submitted in cut order.
func (c *Connection) submit(p core.Piece) {
	num := c.pieceNum
	c.pieceNum++
	c.metrics.Pieces.Inc()
	err := c.funnel.Submit(func() error {
		return c.handle(num, p)
	})
	if err != nil {
		c.log.Warn("Piece dropped", zap.Int64("piece", num), zap.Error(err))
	}
}

func (c *Connection) handle(num int64, p core.Piece) error {
	err := c.ctx.Err()
	if err != nil {
		err = errors.WithMessage(err, fmt.Sprintf("piece #%v skipped", num))
	} else if err = c.handler.Handle(c.ctx, c, p); err != nil {
		err = errors.WithMessage(err, fmt.Sprintf("piece #%v handle failed", num))
	}
	if err != nil {
		c.fail(err)
	}
	return err
}

// fail records err, if it is the first failure. Later failures are only logged.
func (c *Connection) fail(err error) {
	c.mu.Lock()
	first := c.err == nil
	if first {
		c.err = err
	}
	c.mu.Unlock()
	if !first {
		if ce := c.log.Check(zap.DebugLevel, "Failure after the first one is ignored"); ce != nil {
			ce.Write(zap.Error(err))
		}
	}
}

// beginDraining moves connection to Draining, and runs final framing pass.
// Only the first call has effect.
func (c *Connection) beginDraining(reason Reason) {
	c.mu.Lock()
	if c.state >= StateDraining {
		c.mu.Unlock()
		return
	}
	c.state = StateDraining
	c.reason = reason
	c.mu.Unlock()
	c.log.Debug("Draining", zap.Stringer("reason", reason))

	leftover, err := c.acc.Drain(c.submit)
	if err != nil {
		c.fail(err)
	}
	if len(leftover) > 0 {
		if c.conf.AllowTrailing {
			c.log.Warn("Trailing bytes can't be framed",
				zap.Int("size", len(leftover)), zap.String("hex", hex.EncodeToString(leftover)))
		} else {
			c.fail(&TruncatedError{Leftover: leftover})
		}
	}
	c.mu.Lock()
	c.leftover = leftover
	c.finalCut = true
	c.mu.Unlock()
}

// Abort cancels context of running piece handling, and skips pieces that are not
// handled yet. Connection is terminated after running Handle call returns, so
// handler is never closed concurrently with Handle.
// Abort is used when WaitForAllHandled was canceled, and connection should not
// be waited more.
func (c *Connection) Abort() {
	c.mu.Lock()
	if c.aborted || c.state == StateTerminated {
		c.mu.Unlock()
		return
	}
	c.aborted = true
	if c.state < StateDraining {
		c.state = StateDraining
		c.reason = ReasonAborted
		c.finalCut = true
	}
	cancel := c.cancel
	c.mu.Unlock()
	c.log.Debug("Aborting pieces handling")
	c.fail(ErrAborted)
	cancel()
	c.funnel.Shutdown()
	go func() {
		<-c.funnel.Stopped()
		c.terminate()
	}()
}

// terminate MUST be called only after funnel is stopped.
func (c *Connection) terminate() {
	c.mu.Lock()
	if c.state == StateTerminated {
		c.mu.Unlock()
		return
	}
	c.state = StateTerminated
	c.mu.Unlock()
	c.cancel()
	if closer, ok := c.handler.(io.Closer); ok {
		err := closer.Close()
		if err != nil {
			c.log.Warn("Piece handler close failed", zap.Error(err))
		}
	}
	close(c.terminated)
	c.log.Debug("Connection terminated")
}
