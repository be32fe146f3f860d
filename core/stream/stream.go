// Copyright (c) 2018 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

// package stream implements callback driven core.Stream over io.ReadWriteCloser.
package stream

import (
	"io"
	"sync"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/yandex/funnel/core"
	"github.com/yandex/funnel/core/coreutil"
	"github.com/yandex/funnel/lib/errutil"
)

type Config struct {
	// ReadBuffer is size of buffer, stream reads to.
	ReadBuffer coreutil.BufferSizeConfig `config:",squash"`
	// WriteQueueMaxSize is high-water mark of outbound queue. Stream signals drain,
	// when queue that was full is reduced to half of it.
	WriteQueueMaxSize datasize.ByteSize `config:"write-queue-max-size" validate:"min-size=1b"`
	// CloseTimeout limits time of pending writes flush on close. Unlimited if zero.
	CloseTimeout time.Duration `config:"close-timeout"`
}

func DefaultConfig() Config {
	return Config{
		WriteQueueMaxSize: datasize.MB,
		CloseTimeout:      5 * time.Second,
	}
}

var (
	ErrClosed       = errors.New("stream is closed")
	ErrCloseTimeout = errors.New("pending writes flush timed out")
)

type Stats struct {
	Read    int64
	Written int64
}

func New(log *zap.Logger, rwc io.ReadWriteCloser, conf Config) *Stream {
	s := &Stream{
		log:        log,
		rwc:        rwc,
		conf:       conf,
		writerDone: make(chan struct{}),
	}
	s.pauseCond = sync.NewCond(&s.pauseMu)
	s.writeCond = sync.NewCond(&s.writeMu)
	return s
}

// Stream reads rwc in one goroutine, and writes queued data in another.
// Handler callbacks are called from these goroutines, and from Close caller.
// Close MUST NOT be called concurrently with Start.
type Stream struct {
	log     *zap.Logger
	rwc     io.ReadWriteCloser
	conf    Config
	handler core.StreamHandler
	started bool

	pauseMu   sync.Mutex
	pauseCond *sync.Cond
	paused    bool

	writeMu     sync.Mutex
	writeCond   *sync.Cond
	queue       []writeReq
	queued      int
	sawFull     bool
	writeClosed bool
	writeErr    error
	writerDone  chan struct{}

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	read    atomic.Int64
	written atomic.Int64
}

type writeReq struct {
	data []byte
	done chan error
}

var _ core.Stream = (*Stream)(nil)

func (s *Stream) Start(h core.StreamHandler) {
	if s.started {
		panic("stream is already started")
	}
	s.handler = h
	s.started = true
	go s.readLoop()
	go s.writeLoop()
}

func (s *Stream) Write(p []byte) <-chan error {
	done := make(chan error, 1)
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.writeClosed {
		done <- errutil.First(s.writeErr, ErrClosed)
		return done
	}
	data := append([]byte(nil), p...)
	s.queue = append(s.queue, writeReq{data: data, done: done})
	s.queued += len(data)
	if s.isFull() {
		s.sawFull = true
	}
	s.writeCond.Signal()
	return done
}

func (s *Stream) WriteQueueFull() bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.isFull()
}

func (s *Stream) Pause() {
	s.pauseMu.Lock()
	defer s.pauseMu.Unlock()
	if !s.paused {
		s.log.Debug("Reads paused")
	}
	s.paused = true
}

func (s *Stream) Resume() {
	s.pauseMu.Lock()
	defer s.pauseMu.Unlock()
	if s.paused {
		s.log.Debug("Reads resumed")
	}
	s.paused = false
	s.pauseCond.Broadcast()
}

func (s *Stream) IsPaused() bool {
	s.pauseMu.Lock()
	defer s.pauseMu.Unlock()
	return s.paused
}

// Close flushes queued writes, closes rwc, and calls OnClose once.
// Writes that were not flushed in close timeout fail with ErrCloseTimeout.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.close()
	})
	return s.closeErr
}

func (s *Stream) Stats() Stats {
	return Stats{
		Read:    s.read.Load(),
		Written: s.written.Load(),
	}
}

func (s *Stream) close() error {
	s.closed.Store(true)
	s.pauseMu.Lock()
	s.pauseCond.Broadcast()
	s.pauseMu.Unlock()

	s.writeMu.Lock()
	s.writeClosed = true
	s.writeCond.Broadcast()
	s.writeMu.Unlock()

	var flushErr error
	if s.started {
		flushErr = s.waitFlushed()
	}
	err := errutil.Join(flushErr, errors.Wrap(s.rwc.Close(), "close failed"))
	s.failWrites(errutil.First(flushErr, ErrClosed))
	s.log.Debug("Stream closed", zap.Int64("read", s.read.Load()), zap.Int64("written", s.written.Load()))
	if s.handler != nil {
		s.handler.OnClose()
	}
	return err
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

func (s *Stream) waitFlushed() error {
	timeout := s.conf.CloseTimeout
	if timeout <= 0 {
		<-s.writerDone
		return nil
	}
	if d, ok := s.rwc.(writeDeadliner); ok {
		// Unblocks write to peer that doesn't read.
		_ = d.SetWriteDeadline(time.Now().Add(timeout))
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.writerDone:
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		if isTimeout(s.writeErr) {
			return ErrCloseTimeout
		}
		return nil
	case <-timer.C:
		return ErrCloseTimeout
	}
}

func isTimeout(err error) bool {
	te, ok := errors.Cause(err).(interface{ Timeout() bool })
	return ok && te.Timeout()
}

func (s *Stream) isFull() bool {
	return uint64(s.queued) >= s.conf.WriteQueueMaxSize.Bytes()
}

func (s *Stream) readLoop() {
	buf := make([]byte, s.conf.ReadBuffer.BufferSizeOrDefault())
	for {
		if !s.waitResumed() {
			return
		}
		n, err := s.rwc.Read(buf)
		if n > 0 {
			s.read.Add(int64(n))
			data := make([]byte, n)
			copy(data, buf[:n])
			s.handler.OnData(data)
		}
		if err == nil {
			continue
		}
		if s.closed.Load() {
			return
		}
		if err == io.EOF {
			s.log.Debug("Read to end")
			s.handler.OnEnd()
			return
		}
		s.handler.OnError(errors.Wrap(err, "read failed"))
		return
	}
}

// waitResumed blocks while reads are paused. Returns false if stream is closed.
func (s *Stream) waitResumed() bool {
	s.pauseMu.Lock()
	defer s.pauseMu.Unlock()
	for s.paused && !s.closed.Load() {
		s.pauseCond.Wait()
	}
	return !s.closed.Load()
}

func (s *Stream) writeLoop() {
	for {
		s.writeMu.Lock()
		for len(s.queue) == 0 && !s.writeClosed {
			s.writeCond.Wait()
		}
		if len(s.queue) == 0 {
			s.writeMu.Unlock()
			close(s.writerDone)
			return
		}
		req := s.queue[0]
		s.queue[0] = writeReq{}
		s.queue = s.queue[1:]
		s.writeMu.Unlock()

		n, err := s.rwc.Write(req.data)
		s.written.Add(int64(n))

		s.writeMu.Lock()
		s.queued -= len(req.data)
		drained := err == nil && s.sawFull && uint64(s.queued) <= s.conf.WriteQueueMaxSize.Bytes()/2
		if drained {
			s.sawFull = false
		}
		if err != nil {
			err = errors.Wrap(err, "write failed")
			s.writeErr = err
			s.writeClosed = true
		}
		s.writeMu.Unlock()

		req.done <- err
		if err != nil {
			s.failWrites(err)
			close(s.writerDone)
			if !s.closed.Load() {
				s.handler.OnError(err)
			}
			_ = s.Close()
			return
		}
		if drained && s.stillDrained() {
			s.log.Debug("Write queue drained")
			s.handler.OnDrain()
		}
	}
}

// stillDrained returns false, if queue was refilled over high-water mark after drain.
// Next drain notifies handler in that case.
func (s *Stream) stillDrained() bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return !s.sawFull && uint64(s.queued) <= s.conf.WriteQueueMaxSize.Bytes()/2
}

func (s *Stream) failWrites(err error) {
	s.writeMu.Lock()
	queue := s.queue
	s.queue = nil
	s.queued = 0
	s.writeMu.Unlock()
	for _, req := range queue {
		req.done <- err
	}
}
