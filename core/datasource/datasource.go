// Copyright (c) 2018 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

// package datasource provides core.DataSource implementations.
package datasource

import (
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/yandex/funnel/core"
	"github.com/yandex/funnel/core/config"
)

// New creates source from config. Config is "stdin", file path,
// or map with type key: file, stdin or inline.
func New(fs afero.Fs, conf interface{}) (core.DataSource, error) {
	if s, ok := conf.(string); ok {
		if s == "stdin" || s == "-" {
			return NewStdin(), nil
		}
		return NewFile(fs, FileConfig{Path: s}), nil
	}
	_, c, err := config.DecodeTyped(conf, func(typ string) interface{} {
		switch typ {
		case "file":
			return &FileConfig{}
		case "stdin":
			return &struct{}{}
		case "inline":
			return &InlineConfig{}
		}
		return nil
	})
	if err != nil {
		return nil, errors.WithMessage(err, "source")
	}
	switch c := c.(type) {
	case *FileConfig:
		return NewFile(fs, *c), nil
	case *InlineConfig:
		return NewInline(*c)
	}
	return NewStdin(), nil
}

// decodeHex decodes hex string, ignoring whitespaces.
func decodeHex(s string) ([]byte, error) {
	s = strings.Join(strings.Fields(s), "")
	data, err := hex.DecodeString(s)
	return data, errors.Wrap(err, "hex decode failed")
}
