// Copyright (c) 2018 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package handlers

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/yandex/funnel/core"
)

type LogConfig struct {
	Level zapcore.Level `config:"level"`
}

func DefaultLogConfig() LogConfig {
	return LogConfig{Level: zapcore.InfoLevel}
}

func NewLog(log *zap.Logger, conf LogConfig) *Log {
	return &Log{log: log, conf: conf}
}

// Log logs every piece.
type Log struct {
	log  *zap.Logger
	conf LogConfig
	seq  int64
}

var _ core.PieceHandler = (*Log)(nil)

func (l *Log) Handle(_ context.Context, _ core.Responder, p core.Piece) error {
	if ce := l.log.Check(l.conf.Level, "Piece received"); ce != nil {
		ce.Write(zap.Int64("seq", l.seq), zap.Int("size", p.Len()), zap.Any("piece", p))
	}
	l.seq++
	return nil
}
