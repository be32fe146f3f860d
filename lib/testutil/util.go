// Copyright (c) 2018 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package testutil

import (
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type TestingT interface {
	mock.TestingT
}

func NewLogger() *zap.Logger {
	conf := zap.NewDevelopmentConfig()
	conf.OutputPaths = []string{"stdout"}
	conf.Level.SetLevel(zapcore.ErrorLevel)
	log, err := conf.Build(zap.AddCaller(), zap.AddStacktrace(zap.PanicLevel))
	if err != nil {
		zap.L().Fatal("Logger build failed", zap.Error(err))
	}
	return log
}

// NewObservedLogger returns logger, which entries of level or above can be inspected in tests.
func NewObservedLogger(level zapcore.Level) (*zap.Logger, *observer.ObservedLogs) {
	c, logs := observer.New(level)
	return zap.New(c), logs
}

// getHelper allows to call t.Helper() on TestingT, that may not implement it.
func getHelper(t TestingT) helper {
	var tInterface interface{} = t
	if h, ok := tInterface.(helper); ok {
		return h
	}
	return nopHelper{}
}

type nopHelper struct{}

func (nopHelper) Helper() {}

type helper interface {
	Helper()
}
