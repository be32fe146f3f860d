// Copyright (c) 2018 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

// package datasink provides core.DataSink implementations.
package datasink

import (
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/yandex/funnel/core"
	"github.com/yandex/funnel/core/config"
)

// New creates sink from config. Config is one of "stdout", "stderr", "discard", file path,
// or map with type key: file, stdout, stderr or discard.
func New(fs afero.Fs, conf interface{}) (core.DataSink, error) {
	if s, ok := conf.(string); ok {
		switch s {
		case "stdout", "-":
			return NewStdout(), nil
		case "stderr":
			return NewStderr(), nil
		case "discard":
			return NewDiscard(), nil
		}
		return NewFile(fs, FileConfig{Path: s}), nil
	}
	typ, c, err := config.DecodeTyped(conf, func(typ string) interface{} {
		switch typ {
		case "file":
			return &FileConfig{}
		case "stdout", "stderr", "discard":
			return &struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, errors.WithMessage(err, "sink")
	}
	switch typ {
	case "file":
		return NewFile(fs, *c.(*FileConfig)), nil
	case "stdout":
		return NewStdout(), nil
	case "stderr":
		return NewStderr(), nil
	}
	return NewDiscard(), nil
}
