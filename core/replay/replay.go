// Copyright (c) 2018 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

// package replay runs connection pipeline over captured stream data, instead of
// network connection.
package replay

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/yandex/funnel/core"
	"github.com/yandex/funnel/core/connection"
	"github.com/yandex/funnel/core/datasink"
	"github.com/yandex/funnel/core/datasource"
	"github.com/yandex/funnel/core/stream"
	"github.com/yandex/funnel/lib/errutil"
	"github.com/yandex/funnel/lib/ioutil2"
)

type Config struct {
	// Source is stream data: "stdin", file path, or source config with type key.
	Source interface{} `config:"source" validate:"required"`
	// Output receives bytes written by piece handlers to connection.
	Output interface{} `config:"output"`
	// Passes is number of source reads. Source should be seekable for more than one pass.
	Passes     int               `config:"passes" validate:"min=1"`
	Stream     stream.Config     `config:"stream"`
	Connection connection.Config `config:"connection"`
}

func DefaultConfig() Config {
	return Config{
		Output:     "discard",
		Passes:     1,
		Stream:     stream.DefaultConfig(),
		Connection: connection.DefaultConfig(),
	}
}

type Deps struct {
	Log *zap.Logger
	// Fs is used to open source and output files.
	Fs       afero.Fs
	Framer   core.Framer
	Encoder  core.Encoder
	Handlers core.PieceHandlerFactory
	Metrics  connection.Metrics
}

type Result struct {
	// Read is number of source bytes read.
	Read int64
	// Written is number of bytes written to output.
	Written int64
	Pieces  int64
	// Leftover is trailing bytes, that can't be framed.
	Leftover []byte
	Reason   connection.Reason
}

var ErrNotSeekable = errors.New("source is not seekable")

// Run replays source through framer and handlers, and waits all pieces handled.
// Result is valid even on error.
func Run(ctx context.Context, conf Config, deps Deps) (Result, error) {
	rwc, err := open(conf, deps.Fs)
	if err != nil {
		return Result{}, err
	}
	log := deps.Log
	st := stream.New(log, rwc, conf.Stream)
	c := connection.New(st, deps.Framer, deps.Handlers.New(log, deps.Encoder), conf.Connection, connection.Deps{
		Log:     log,
		Metrics: deps.Metrics,
		ID:      "replay",
	})
	c.Start(ctx)
	err = c.WaitForAllHandled(ctx)
	closeErr := st.Close()

	stats := st.Stats()
	res := Result{
		Read:     stats.Read,
		Written:  stats.Written,
		Pieces:   c.AccumulatorStats().Pieces,
		Leftover: c.Leftover(),
		Reason:   c.Reason(),
	}
	log.Info("Replay finished",
		zap.Stringer("reason", res.Reason),
		zap.Int64("read", res.Read),
		zap.Int64("written", res.Written),
		zap.Int64("pieces", res.Pieces),
		zap.Int("leftover", len(res.Leftover)),
	)
	return res, errutil.Join(err, closeErr)
}

func open(conf Config, fs afero.Fs) (io.ReadWriteCloser, error) {
	source, err := datasource.New(fs, conf.Source)
	if err != nil {
		return nil, err
	}
	sink, err := datasink.New(fs, conf.Output)
	if err != nil {
		return nil, err
	}
	rc, err := source.OpenSource()
	if err != nil {
		return nil, errors.WithMessage(err, "source open failed")
	}
	var r io.Reader = rc
	if conf.Passes > 1 {
		rs, ok := rc.(io.ReadSeeker)
		if !ok {
			_ = rc.Close()
			return nil, errors.WithMessagef(ErrNotSeekable, "%v passes requested", conf.Passes)
		}
		r = ioutil2.NewMultiPassReader(rs, conf.Passes)
	}
	wc, err := sink.OpenSink()
	if err != nil {
		_ = rc.Close()
		return nil, errors.WithMessage(err, "output open failed")
	}
	return ioutil2.ReadWriteCloser{
		ReadCloser:  readCloser{r, rc},
		WriteCloser: wc,
	}, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}
