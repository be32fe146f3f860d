// Copyright (c) 2018 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package framers

import (
	"bytes"

	"github.com/c2h5oh/datasize"
	"github.com/pkg/errors"

	"github.com/yandex/funnel/core"
)

type DelimiterConfig struct {
	Delimiter string `validate:"required"`
	// KeepDelimiter makes delimiter part of payload.
	KeepDelimiter bool `config:"keep-delimiter"`
	// MaxLength limits piece length, delimiter included. Unlimited if zero.
	MaxLength datasize.ByteSize `config:"max-length"`
}

func DefaultDelimiterConfig() DelimiterConfig {
	return DelimiterConfig{
		Delimiter: "\n",
		MaxLength: datasize.MB,
	}
}

func NewDelimiter(conf DelimiterConfig) *Delimiter {
	return &Delimiter{conf: conf, delim: []byte(conf.Delimiter)}
}

// Delimiter frames payloads followed by delimiter, like text lines.
type Delimiter struct {
	conf  DelimiterConfig
	delim []byte
	// scanned is number of buffer front bytes, that are known to contain no delimiter.
	scanned int
}

var _ Framer = (*Delimiter)(nil)

func (f *Delimiter) Frame(buf []byte) ([]core.Piece, error) {
	var pieces []core.Piece
	for {
		from := f.scanned
		if from > len(buf) {
			from = 0
		}
		idx := bytes.Index(buf[from:], f.delim)
		if idx < 0 {
			f.scanned = len(buf) - len(f.delim) + 1
			if f.scanned < 0 {
				f.scanned = 0
			}
			if f.tooLong(len(buf)) {
				return pieces, errors.Wrapf(ErrTooLarge, "no delimiter in %v bytes", len(buf))
			}
			return pieces, nil
		}
		f.scanned = 0
		end := from + idx
		total := end + len(f.delim)
		if f.tooLong(total) {
			return pieces, errors.Wrapf(ErrTooLarge, "piece length %v", total)
		}
		payloadEnd := end
		if f.conf.KeepDelimiter {
			payloadEnd = total
		}
		payload := make([]byte, payloadEnd)
		copy(payload, buf)
		pieces = append(pieces, &core.Frame{Payload: payload, Size: total})
		buf = buf[total:]
	}
}

func (f *Delimiter) Encode(dst, payload []byte) []byte {
	dst = append(dst, payload...)
	if f.conf.KeepDelimiter && bytes.HasSuffix(payload, f.delim) {
		return dst
	}
	return append(dst, f.delim...)
}

func (f *Delimiter) tooLong(n int) bool {
	return f.conf.MaxLength > 0 && uint64(n) > f.conf.MaxLength.Bytes()
}
