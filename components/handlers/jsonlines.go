// Copyright (c) 2018 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package handlers

import (
	"bufio"
	"context"
	"hash/crc32"
	"io"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/yandex/funnel/core"
	"github.com/yandex/funnel/core/config"
	"github.com/yandex/funnel/core/coreutil"
	"github.com/yandex/funnel/core/datasink"
	"github.com/yandex/funnel/lib/errutil"
)

type JSONLinesConfig struct {
	// Sink is datasink config: stdout, file path or typed map.
	Sink                      interface{} `config:"sink" validate:"required"`
	JSONIterConfig            `config:",squash"`
	coreutil.BufferSizeConfig `config:",squash"`
}

// JSONIterConfig is subset of jsoniter.Config that may be useful to configure.
type JSONIterConfig struct {
	// EscapeHTML makes encoder escape HTML special characters in strings.
	EscapeHTML bool `config:"escape-html"`
}

func DefaultJSONLinesConfig() JSONLinesConfig {
	return JSONLinesConfig{
		Sink: "stdout",
	}
}

// Record is JSON line written for every piece.
type Record struct {
	Conn string `json:"conn"`
	// Seq is piece number in connection.
	Seq  int64 `json:"seq"`
	Size int   `json:"size"`
	// CRC32 is IEEE checksum of connection payloads from the first to this one.
	CRC32   uint32 `json:"crc32"`
	Payload []byte `json:"payload"`
}

func newJSONLinesOutput(fs afero.Fs, conf JSONLinesConfig) (*jsonLinesOutput, error) {
	sink, err := datasink.New(fs, conf.Sink)
	if err != nil {
		return nil, err
	}
	wc, err := sink.OpenSink()
	if err != nil {
		return nil, errors.WithMessage(err, "sink open failed")
	}
	var apiConfig jsoniter.Config
	config.Map(&apiConfig, conf.JSONIterConfig)
	api := apiConfig.Froze()
	buf := bufio.NewWriterSize(wc, conf.BufferSizeOrDefault())
	return &jsonLinesOutput{
		wc:     wc,
		buf:    buf,
		stream: jsoniter.NewStream(api, buf, conf.BufferSizeOrDefault()),
	}, nil
}

// jsonLinesOutput is sink shared by all connections.
type jsonLinesOutput struct {
	mu     sync.Mutex
	wc     io.WriteCloser
	buf    *bufio.Writer
	stream *jsoniter.Stream
}

func (o *jsonLinesOutput) newHandler() *JSONLines {
	return &JSONLines{out: o}
}

func (o *jsonLinesOutput) write(rec *Record) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stream.WriteVal(rec)
	o.stream.WriteRaw("\n")
	return o.stream.Error
}

func (o *jsonLinesOutput) Flush() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.flush()
}

func (o *jsonLinesOutput) flush() error {
	err := o.stream.Flush()
	return errutil.Join(err, o.buf.Flush())
}

func (o *jsonLinesOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return errutil.Join(o.flush(), o.wc.Close())
}

// JSONLines writes piece records of one connection to shared sink.
// Records of one connection are in stream order, but may interleave with other connections records.
// See http://jsonlines.org/ for format details.
type JSONLines struct {
	out *jsonLinesOutput
	// Pieces of one connection are handled one at a time, so no lock needed.
	seq int64
	crc uint32
}

var _ core.PieceHandler = (*JSONLines)(nil)

func (h *JSONLines) Handle(_ context.Context, r core.Responder, p core.Piece) error {
	payload, err := framePayload(p)
	if err != nil {
		return err
	}
	h.crc = crc32.Update(h.crc, crc32.IEEETable, payload)
	rec := &Record{
		Conn:    r.ID(),
		Seq:     h.seq,
		Size:    p.Len(),
		CRC32:   h.crc,
		Payload: payload,
	}
	h.seq++
	return errors.WithMessage(h.out.write(rec), "record write failed")
}

// Close flushes connection records.
func (h *JSONLines) Close() error {
	return h.out.Flush()
}
