/*
 * Copyright (c) 2023 VMware, Inc.
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy of this software and
 * associated documentation files (the "Software"), to deal in the Software without restriction, including
 * without limitation the rights to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is furnished to do
 * so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all copies or substantial
 * portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR IMPLIED, INCLUDING BUT
 * NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.
 * IN NO EVENT SHALL THE AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY,
 * WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN CONNECTION WITH THE
 * SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
 */
// Package zap adapts uber zap to the indexer logger facade.
package zap

import (
	"os"

	uzap "go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vmware/vmware-go-indexer/logger"
)

type zapLogger struct {
	*uzap.SugaredLogger
}

// NewZapLoggerWithConfig creates a Logger backed by a sugared zap logger. Each
// enabled output is its own core with its own level and encoding.
func NewZapLoggerWithConfig(config logger.Configuration) logger.Logger {
	var cores []zapcore.Core
	if config.EnableConsole {
		cores = append(cores, zapcore.NewCore(encoder(config.ConsoleJSONFormat),
			zapcore.Lock(os.Stdout), level(config.ConsoleLevel)))
	}
	if config.EnableFile {
		cores = append(cores, zapcore.NewCore(encoder(config.FileJSONFormat),
			zapcore.AddSync(logger.RotatingFile(config)), level(config.FileLevel)))
	}

	base := uzap.New(zapcore.NewTee(cores...), uzap.AddCaller())
	return &zapLogger{SugaredLogger: base.Sugar()}
}

func (l *zapLogger) WithFields(fields logger.Fields) logger.Logger {
	args := make([]interface{}, 0, 2*len(fields))
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &zapLogger{SugaredLogger: l.SugaredLogger.With(args...)}
}

func encoder(json bool) zapcore.Encoder {
	cfg := uzap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if json {
		return zapcore.NewJSONEncoder(cfg)
	}
	return zapcore.NewConsoleEncoder(cfg)
}

// level maps a facade level name, falling back to info for unknown names.
func level(name string) zapcore.Level {
	l, err := zapcore.ParseLevel(name)
	if err != nil || name == "" {
		return zapcore.InfoLevel
	}
	return l
}
