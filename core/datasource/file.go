// Copyright (c) 2018 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package datasource

import (
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/yandex/funnel/core"
	"github.com/yandex/funnel/core/coreutil"
	"github.com/yandex/funnel/lib/errutil"
)

type FileConfig struct {
	Path string `config:"path" validate:"required"`
	// Compression is one of: auto, none, gzip, zstd. Auto detects compression by file extension.
	Compression string `config:"compression"`
}

func NewFile(fs afero.Fs, conf FileConfig) core.DataSource {
	return &fileSource{afero.Afero{Fs: fs}, conf}
}

type fileSource struct {
	fs   afero.Afero
	conf FileConfig
}

func (s *fileSource) OpenSource() (rc io.ReadCloser, err error) {
	compression, err := coreutil.ResolveCompression(s.conf.Path, s.conf.Compression)
	if err != nil {
		return nil, err
	}
	file, err := s.fs.Open(s.conf.Path)
	if err != nil {
		return nil, err
	}
	switch compression {
	case coreutil.CompressionGzip:
		zr, err := gzip.NewReader(file)
		if err != nil {
			_ = file.Close()
			return nil, errors.Wrap(err, "gzip header read failed")
		}
		return &decompressReader{Reader: zr, closeDecoder: zr.Close, file: file}, nil
	case coreutil.CompressionZstd:
		zr, err := zstd.NewReader(file)
		if err != nil {
			_ = file.Close()
			return nil, errors.Wrap(err, "zstd decoder create failed")
		}
		return &decompressReader{Reader: zr, closeDecoder: func() error { zr.Close(); return nil }, file: file}, nil
	}
	return file, nil
}

type decompressReader struct {
	io.Reader
	closeDecoder func() error
	file         io.Closer
}

func (r *decompressReader) Close() error {
	return errutil.Join(r.closeDecoder(), r.file.Close())
}

func NewStdin() core.DataSource {
	return hideCloseFileSource{os.Stdin}
}

type hideCloseFileSource struct{ afero.File }

func (f hideCloseFileSource) OpenSource() (wc io.ReadCloser, err error) {
	return f, nil
}

func (f hideCloseFileSource) Close() error { return nil }
