// Copyright (c) 2018 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package framers

import (
	"encoding/binary"
	"math"

	"github.com/c2h5oh/datasize"
	"github.com/pkg/errors"

	"github.com/yandex/funnel/core"
	"github.com/yandex/funnel/core/config"
)

type LengthPrefixConfig struct {
	// PrefixSize is length prefix size in bytes: 1, 2, 4 or 8.
	PrefixSize   int  `config:"prefix-size"`
	LittleEndian bool `config:"little-endian"`
	// IncludesPrefix means that length counts prefix bytes too.
	IncludesPrefix bool `config:"includes-prefix"`
	// MaxPayload limits payload size. Unlimited if zero.
	MaxPayload datasize.ByteSize `config:"max-payload"`
}

func DefaultLengthPrefixConfig() LengthPrefixConfig {
	return LengthPrefixConfig{
		PrefixSize: 4,
		MaxPayload: 16 * datasize.MB,
	}
}

var _ = config.RegisterCustom(func(h config.ValidateHandle) {
	switch h.Value().(LengthPrefixConfig).PrefixSize {
	case 1, 2, 4, 8:
	default:
		h.ReportError("PrefixSize", "should be 1, 2, 4 or 8")
	}
}, LengthPrefixConfig{})

func NewLengthPrefix(conf LengthPrefixConfig) *LengthPrefix {
	var order binary.ByteOrder = binary.BigEndian
	if conf.LittleEndian {
		order = binary.LittleEndian
	}
	return &LengthPrefix{conf: conf, order: order}
}

// LengthPrefix frames payloads prefixed with their length.
type LengthPrefix struct {
	conf  LengthPrefixConfig
	order binary.ByteOrder
}

var _ Framer = (*LengthPrefix)(nil)

func (f *LengthPrefix) Frame(buf []byte) ([]core.Piece, error) {
	var pieces []core.Piece
	prefix := f.conf.PrefixSize
	for len(buf) >= prefix {
		size := f.readLength(buf)
		if f.conf.IncludesPrefix {
			if size < uint64(prefix) {
				return pieces, errors.Errorf("length %v is less than prefix size %v", size, prefix)
			}
			size -= uint64(prefix)
		}
		if f.conf.MaxPayload > 0 && size > f.conf.MaxPayload.Bytes() {
			return pieces, errors.Wrapf(ErrTooLarge, "payload length %v, limit %s", size, f.conf.MaxPayload.HR())
		}
		if size > math.MaxInt32 {
			return pieces, errors.Wrapf(ErrTooLarge, "payload length %v", size)
		}
		total := prefix + int(size)
		if len(buf) < total {
			break
		}
		payload := make([]byte, size)
		copy(payload, buf[prefix:total])
		pieces = append(pieces, &core.Frame{Payload: payload, Size: total})
		buf = buf[total:]
	}
	return pieces, nil
}

func (f *LengthPrefix) Encode(dst, payload []byte) []byte {
	size := uint64(len(payload))
	if f.conf.IncludesPrefix {
		size += uint64(f.conf.PrefixSize)
	}
	var prefix [8]byte
	switch f.conf.PrefixSize {
	case 1:
		prefix[0] = byte(size)
	case 2:
		f.order.PutUint16(prefix[:], uint16(size))
	case 4:
		f.order.PutUint32(prefix[:], uint32(size))
	default:
		f.order.PutUint64(prefix[:], size)
	}
	dst = append(dst, prefix[:f.conf.PrefixSize]...)
	return append(dst, payload...)
}

func (f *LengthPrefix) readLength(buf []byte) uint64 {
	switch f.conf.PrefixSize {
	case 1:
		return uint64(buf[0])
	case 2:
		return uint64(f.order.Uint16(buf))
	case 4:
		return uint64(f.order.Uint32(buf))
	default:
		return f.order.Uint64(buf)
	}
}
