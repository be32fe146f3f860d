// Copyright (c) 2018 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package zaputil

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LoggerConfig struct {
	Level zapcore.Level `config:"level"`
	// Format is "console" or "json".
	Format string `config:"format" validate:"oneof=console json"`
	// Output is zap sink URL or path. "stderr" by default.
	Output string `config:"output"`
}

func DefaultLoggerConfig() LoggerConfig {
	return LoggerConfig{
		Level:  zapcore.InfoLevel,
		Format: "console",
		Output: "stderr",
	}
}

// NewLogger builds process logger. Errors with github.com/pkg/errors stacks are
// printed with errorVerbose field by zap itself.
func NewLogger(conf LoggerConfig) (*zap.Logger, error) {
	zconf := zap.NewDevelopmentConfig()
	if conf.Format == "json" {
		zconf = zap.NewProductionConfig()
	}
	zconf.Level = zap.NewAtomicLevelAt(conf.Level)
	zconf.Encoding = conf.Format
	if conf.Output != "" {
		zconf.OutputPaths = []string{conf.Output}
	}
	log, err := zconf.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zap.DPanicLevel),
	)
	return log, errors.WithMessage(err, "logger build failed")
}
