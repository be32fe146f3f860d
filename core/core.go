// Copyright (c) 2018 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

// package core defines funnel extension points.
// Core interfaces implementations are wired together by core/connection, which turns
// a raw byte Stream into ordered Piece handling. They can be used for manual pipeline
// creation as a library, or built from abstract config by cli.
package core

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// Piece is one complete application message cut from the front of a byte stream.
// Piece is immutable after it was cut.
type Piece interface {
	// Len returns number of stream bytes piece was cut from, framing overhead included.
	// Sum of Len of all pieces cut from stream is number of consumed stream bytes.
	Len() int
}

// Frame is Piece produced by framers from components/framers.
type Frame struct {
	// Payload is frame content without framing overhead.
	Payload []byte
	// Size is number of stream bytes frame occupied.
	Size int
}

var _ Piece = (*Frame)(nil)

func (f *Frame) Len() int { return f.Size }

func (f *Frame) String() string {
	const preview = 32
	if len(f.Payload) <= preview {
		return fmt.Sprintf("[Frame %v %s]", f.Size, hex.EncodeToString(f.Payload))
	}
	return fmt.Sprintf("[Frame %v %s...]", f.Size, hex.EncodeToString(f.Payload[:preview]))
}

//go:generate mockery -name=Framer -case=underscore -outpkg=coremock

// Framer is protocol specific rule, that detects complete pieces in accumulated stream bytes.
// Framer is called only from one goroutine at a time, so it may keep state between calls.
type Framer interface {
	// Frame cuts as many complete pieces as possible from the front of buf.
	// Returns nothing, if buf contains only an incomplete piece.
	// Pieces MUST NOT reference buf memory: buf is reused after return.
	// Non nil error means that stream is malformed, and no more pieces can be cut from it.
	Frame(buf []byte) ([]Piece, error)
}

type FramerFunc func(buf []byte) ([]Piece, error)

func (f FramerFunc) Frame(buf []byte) ([]Piece, error) { return f(buf) }

// Encoder produces stream bytes from payload. Usually implemented by Framer
// of the same wire format, so handlers can write answers in it.
type Encoder interface {
	// Encode appends framed payload to dst and returns extended slice.
	Encode(dst, payload []byte) []byte
}

//go:generate mockery -name=Responder -case=underscore -outpkg=coremock

// Responder is connection side, that is visible to PieceHandler.
type Responder interface {
	// ID returns connection identifier, unique in process.
	ID() string
	// Write enqueues p to connection outbound queue. Returned channel receives
	// one value: nil when p is written, or write error.
	// Write does not block, but may pause connection reads, if outbound queue is full.
	Write(p []byte) <-chan error
}

// PieceHandler processes pieces of one connection.
// Handle calls for one connection are never concurrent, and made in stream order,
// so handler can keep per connection state without locking.
// Handlers that also implement io.Closer are closed after connection termination.
type PieceHandler interface {
	// Handle processes one piece. Non nil error is recorded as connection failure,
	// but next pieces are still handled.
	Handle(ctx context.Context, r Responder, p Piece) error
}

type PieceHandlerFunc func(ctx context.Context, r Responder, p Piece) error

func (f PieceHandlerFunc) Handle(ctx context.Context, r Responder, p Piece) error {
	return f(ctx, r, p)
}

// PieceHandlerFactory creates PieceHandler for every connection.
// log is connection logger, and enc is connection wire format encoder.
type PieceHandlerFactory interface {
	New(log *zap.Logger, enc Encoder) PieceHandler
}

// StreamHandler receives Stream events.
// Callbacks are called from stream I/O goroutines, and SHOULD NOT block.
type StreamHandler interface {
	// OnData is called with next read stream bytes. Data is not reused by stream.
	OnData(data []byte)
	// OnEnd is called once, when there is no more data to read.
	OnEnd()
	// OnDrain is called when outbound queue was full, and now is ready
	// to accept writes again.
	OnDrain()
	// OnClose is called once, when stream is closed.
	OnClose()
	// OnError is called on unrecoverable stream error. OnEnd is not called after it.
	OnError(err error)
}

// Stream is duplex byte stream with callback driven read side and
// queued write side.
type Stream interface {
	// Start starts events delivery to h. Must be called once.
	Start(h StreamHandler)
	// Write enqueues p to outbound queue. p can be reused after return.
	// Returned channel receives one value: nil when p is written, or write error.
	Write(p []byte) <-chan error
	// WriteQueueFull returns true, when outbound queue exceeds its high-water mark.
	WriteQueueFull() bool
	// Pause stops reads until Resume call. Data read before Pause may still be delivered.
	Pause()
	Resume()
	// Close flushes outbound queue and closes stream.
	Close() error
}

// DataSource is factory of data for replay and other offline processing.
type DataSource interface {
	// OpenSource opens source for read. OpenSource MUST NOT be called more than once.
	OpenSource() (rc io.ReadCloser, err error)
}

// DataSink is factory of output, that piece handlers write to.
type DataSink interface {
	// OpenSink opens sink for writing. OpenSink MUST NOT be called more than once.
	OpenSink() (wc io.WriteCloser, err error)
}
