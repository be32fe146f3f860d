// Copyright (c) 2018 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

// package framers provides core.Framer implementations for common wire formats.
// Every framer is also core.Encoder of the same format.
package framers

import (
	"github.com/pkg/errors"

	"github.com/yandex/funnel/core"
	"github.com/yandex/funnel/core/config"
)

type Framer interface {
	core.Framer
	core.Encoder
}

var ErrTooLarge = errors.New("piece exceeds size limit")

// New creates framer from config map with type key.
// Framers may keep state between Frame calls, so every stream needs its own.
func New(conf interface{}) (Framer, error) {
	_, c, err := config.DecodeTyped(conf, func(typ string) interface{} {
		switch typ {
		case "length-prefix":
			c := DefaultLengthPrefixConfig()
			return &c
		case "delimiter":
			c := DefaultDelimiterConfig()
			return &c
		case "fixed":
			return &FixedConfig{}
		}
		return nil
	})
	if err != nil {
		return nil, errors.WithMessage(err, "framer")
	}
	switch c := c.(type) {
	case *LengthPrefixConfig:
		return NewLengthPrefix(*c), nil
	case *DelimiterConfig:
		return NewDelimiter(*c), nil
	default:
		return NewFixed(*c.(*FixedConfig)), nil
	}
}
