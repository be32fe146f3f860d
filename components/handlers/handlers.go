// Copyright (c) 2018 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

// package handlers provides core.PieceHandler implementations.
package handlers

import (
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/yandex/funnel/core"
	"github.com/yandex/funnel/core/config"
	"github.com/yandex/funnel/lib/monitoring"
)

type Deps struct {
	Log *zap.Logger
	// Fs is used to open sinks.
	Fs afero.Fs
}

// NewFactory parses handler config with type key: echo, jsonlines, log or discard,
// and opens resources shared by handlers of all connections.
func NewFactory(conf interface{}, deps Deps) (*Factory, error) {
	name, rest, err := config.ParseTyped(conf)
	if err != nil {
		return nil, errors.WithMessage(err, "handler config parse failed")
	}
	f := &Factory{name: name, log: deps.Log}
	switch name {
	case "echo":
		f.echo = DefaultEchoConfig()
		err = config.DecodeAndValidate(rest, &f.echo)
	case "jsonlines":
		jsonConf := DefaultJSONLinesConfig()
		err = config.DecodeAndValidate(rest, &jsonConf)
		if err == nil {
			f.jsonLines, err = newJSONLinesOutput(deps.Fs, jsonConf)
		}
	case "log":
		f.logConf = DefaultLogConfig()
		err = config.DecodeAndValidate(rest, &f.logConf)
	case "discard":
		err = config.DecodeAndValidate(rest, &struct{}{})
	default:
		return nil, errors.Errorf("unknown handler type %q", name)
	}
	if err != nil {
		return nil, errors.WithMessage(err, name+" handler config")
	}
	return f, nil
}

// Factory builds handlers of one type for every connection.
type Factory struct {
	name      string
	log       *zap.Logger
	echo      EchoConfig
	logConf   LogConfig
	jsonLines *jsonLinesOutput
	// Discarded counts pieces dropped by discard handlers.
	Discarded monitoring.Counter
}

func (f *Factory) Name() string { return f.name }

// New returns handler for connection. enc is connection wire format encoder.
func (f *Factory) New(log *zap.Logger, enc core.Encoder) core.PieceHandler {
	switch f.name {
	case "echo":
		return NewEcho(enc, f.echo)
	case "jsonlines":
		return f.jsonLines.newHandler()
	case "log":
		return NewLog(log, f.logConf)
	}
	return NewDiscard(&f.Discarded)
}

// Close releases shared resources. Handlers MUST NOT be used after Close.
func (f *Factory) Close() error {
	if f.jsonLines != nil {
		return f.jsonLines.Close()
	}
	return nil
}

func framePayload(p core.Piece) ([]byte, error) {
	frame, ok := p.(*core.Frame)
	if !ok {
		return nil, errors.Errorf("unsupported piece type %T", p)
	}
	return frame.Payload, nil
}
