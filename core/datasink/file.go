// Copyright (c) 2018 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package datasink

import (
	"io"
	"io/ioutil"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/yandex/funnel/core"
	"github.com/yandex/funnel/core/coreutil"
	"github.com/yandex/funnel/lib/errutil"
	"github.com/yandex/funnel/lib/ioutil2"
)

type FileConfig struct {
	Path string `config:"path" validate:"required"`
	// Compression is one of: auto, none, gzip, zstd. Auto detects compression by file extension.
	Compression string `config:"compression"`
}

func NewFile(fs afero.Fs, conf FileConfig) core.DataSink {
	return &fileSink{afero.Afero{Fs: fs}, conf}
}

type fileSink struct {
	fs   afero.Afero
	conf FileConfig
}

func (s *fileSink) OpenSink() (wc io.WriteCloser, err error) {
	compression, err := coreutil.ResolveCompression(s.conf.Path, s.conf.Compression)
	if err != nil {
		return nil, err
	}
	file, err := s.fs.OpenFile(s.conf.Path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	switch compression {
	case coreutil.CompressionGzip:
		return &compressWriter{WriteCloser: gzip.NewWriter(file), file: file}, nil
	case coreutil.CompressionZstd:
		zw, err := zstd.NewWriter(file)
		if err != nil {
			_ = file.Close()
			return nil, errors.Wrap(err, "zstd encoder create failed")
		}
		return &compressWriter{WriteCloser: zw, file: file}, nil
	}
	return file, nil
}

// compressWriter flushes compressed stream on close, then closes file.
type compressWriter struct {
	io.WriteCloser
	file io.Closer
}

func (w *compressWriter) Close() error {
	return errutil.Join(w.WriteCloser.Close(), w.file.Close())
}

func NewStdout() core.DataSink {
	return hideCloseFileSink{os.Stdout}
}

func NewStderr() core.DataSink {
	return hideCloseFileSink{os.Stderr}
}

type hideCloseFileSink struct{ afero.File }

func (f hideCloseFileSink) OpenSink() (wc io.WriteCloser, err error) {
	return f, nil
}

func (f hideCloseFileSink) Close() error { return nil }

func NewDiscard() core.DataSink {
	return discard{}
}

type discard struct{}

func (discard) OpenSink() (wc io.WriteCloser, err error) {
	return struct {
		io.Writer
		ioutil2.NopCloser
	}{Writer: ioutil.Discard}, nil
}
