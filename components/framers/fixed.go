// Copyright (c) 2018 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package framers

import (
	"github.com/c2h5oh/datasize"

	"github.com/yandex/funnel/core"
)

type FixedConfig struct {
	Size datasize.ByteSize `validate:"min-size=1b,max-size=1gb"`
}

func NewFixed(conf FixedConfig) *Fixed {
	return &Fixed{size: int(conf.Size.Bytes())}
}

// Fixed frames records of equal size.
type Fixed struct {
	size int
}

var _ Framer = (*Fixed)(nil)

func (f *Fixed) Frame(buf []byte) ([]core.Piece, error) {
	n := len(buf) / f.size
	if n == 0 {
		return nil, nil
	}
	pieces := make([]core.Piece, n)
	for i := range pieces {
		payload := make([]byte, f.size)
		copy(payload, buf[i*f.size:])
		pieces[i] = &core.Frame{Payload: payload, Size: f.size}
	}
	return pieces, nil
}

// Encode pads short payload with zeros, and truncates long one.
func (f *Fixed) Encode(dst, payload []byte) []byte {
	if len(payload) >= f.size {
		return append(dst, payload[:f.size]...)
	}
	dst = append(dst, payload...)
	return append(dst, make([]byte, f.size-len(payload))...)
}
