// Copyright (c) 2018 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package datasink

import (
	"bytes"
	"io"
	"sync"

	"github.com/yandex/funnel/core"
	"github.com/yandex/funnel/lib/ioutil2"
)

// Buffer is in memory sink, that is safe for concurrent use.
type Buffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	ioutil2.NopCloser
}

var _ core.DataSink = &Buffer{}

func NewBuffer() *Buffer {
	return &Buffer{}
}

func (b *Buffer) OpenSink() (wc io.WriteCloser, err error) {
	return b, nil
}

func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}
