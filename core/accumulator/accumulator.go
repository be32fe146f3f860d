// Copyright (c) 2018 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

// package accumulator coalesces stream reads and cuts them to pieces with core.Framer.
package accumulator

import (
	"fmt"
	"sync"

	"github.com/c2h5oh/datasize"
	"github.com/pkg/errors"

	"github.com/yandex/funnel/core"
)

type Config struct {
	// MaxBuffered limits number of buffered, but not consumed by framer bytes.
	// Unlimited if zero.
	MaxBuffered datasize.ByteSize `config:"max-buffered"`
}

func DefaultConfig() Config {
	return Config{
		MaxBuffered: 16 * datasize.MB,
	}
}

var (
	ErrBufferOverflow = errors.New("buffered data exceeds max-buffered limit")
	ErrDrained        = errors.New("accumulator has been drained")
)

// FramingError means that stream can't be cut to pieces anymore.
type FramingError struct {
	// Offset is stream offset of first not consumed byte.
	Offset int64
	Err    error
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("framing failed at stream offset %v: %s", e.Offset, e.Err)
}

func (e *FramingError) Cause() error { return e.Err }

// Stats is accumulator byte and piece counters.
// Appended == Consumed + Discarded + Buffered holds at any time.
type Stats struct {
	Appended  int64
	Consumed  int64
	Discarded int64
	Pieces    int64
}

func New(framer core.Framer, conf Config) *Accumulator {
	return &Accumulator{framer: framer, conf: conf}
}

// Accumulator holds not consumed stream bytes, and passes them to framer on every append.
// Append and Drain are mutually exclusive, so pieces are emitted in stream order, even
// when they are called from different goroutines.
type Accumulator struct {
	framer core.Framer
	conf   Config

	mu      sync.Mutex
	buf     []byte
	stats   Stats
	err     error
	drained bool
}

// Append adds data to buffered bytes, cuts all complete pieces from the front and
// passes them to emit. emit is called under accumulator lock, so it MUST NOT call
// accumulator methods. Empty data is no-op.
// After the first error, accumulator is broken and returns the same error.
func (a *Accumulator) Append(data []byte, emit func(core.Piece)) error {
	if len(data) == 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	if a.drained {
		return ErrDrained
	}
	a.buf = append(a.buf, data...)
	a.stats.Appended += int64(len(data))
	if err := a.cut(emit); err != nil {
		return a.fail(err)
	}
	if a.conf.MaxBuffered > 0 && uint64(len(a.buf)) > a.conf.MaxBuffered.Bytes() {
		return a.fail(ErrBufferOverflow)
	}
	return nil
}

// Drain runs final cut pass, and discards bytes that can't be completed anymore.
// Returns discarded bytes. Appends after Drain fail with ErrDrained.
// Repeated Drain returns nothing.
func (a *Accumulator) Drain(emit func(core.Piece)) (leftover []byte, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.drained {
		return nil, a.err
	}
	a.drained = true
	if a.err == nil && len(a.buf) > 0 {
		if err := a.cut(emit); err != nil {
			a.fail(err)
		}
	}
	if len(a.buf) > 0 {
		leftover = append([]byte(nil), a.buf...)
		a.stats.Discarded += int64(len(a.buf))
	}
	a.buf = nil
	return leftover, a.err
}

// Buffered returns number of not consumed bytes.
func (a *Accumulator) Buffered() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buf)
}

func (a *Accumulator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

func (a *Accumulator) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

func (a *Accumulator) cut(emit func(core.Piece)) (err error) {
	pieces, err := a.framer.Frame(a.buf)
	var consumed int
	// Pieces cut before contract violation or framer error are still valid.
	defer func() { a.compact(consumed) }()
	for i, p := range pieces {
		n := p.Len()
		if n <= 0 {
			return errors.Errorf("framer contract violation: piece #%v has non positive length %v", i, n)
		}
		if consumed+n > len(a.buf) {
			return errors.Errorf("framer contract violation: pieces consumed %v bytes, but only %v buffered",
				consumed+n, len(a.buf))
		}
		consumed += n
		a.stats.Consumed += int64(n)
		a.stats.Pieces++
		emit(p)
	}
	return err
}

// compact drops consumed prefix, reusing buffer memory.
func (a *Accumulator) compact(consumed int) {
	if consumed == 0 {
		return
	}
	rest := copy(a.buf, a.buf[consumed:])
	a.buf = a.buf[:rest]
}

func (a *Accumulator) fail(err error) error {
	a.err = &FramingError{
		Offset: a.stats.Consumed,
		Err:    err,
	}
	return a.err
}
