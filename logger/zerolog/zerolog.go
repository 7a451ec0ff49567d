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
// Package zerolog adapts rs/zerolog to the indexer logger facade.
package zerolog

import (
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/vmware/vmware-go-indexer/logger"
)

type zeroLogger struct {
	log zerolog.Logger
}

// NewZerologLoggerWithConfig creates a Logger backed by zerolog. zerolog has one
// level per logger; the console level wins when both outputs are enabled.
func NewZerologLoggerWithConfig(config logger.Configuration) logger.Logger {
	var console io.Writer = os.Stdout
	if !config.ConsoleJSONFormat {
		console = zerolog.ConsoleWriter{Out: os.Stdout}
	}

	out, levelName := console, config.ConsoleLevel
	if config.EnableFile {
		file := logger.RotatingFile(config)
		if config.EnableConsole {
			out = zerolog.MultiLevelWriter(console, file)
		} else {
			out, levelName = file, config.FileLevel
		}
	}

	return &zeroLogger{log: zerolog.New(out).Level(level(levelName)).With().Timestamp().Logger()}
}

func (z *zeroLogger) Debugf(format string, args ...interface{}) { z.log.Debug().Msgf(format, args...) }
func (z *zeroLogger) Infof(format string, args ...interface{})  { z.log.Info().Msgf(format, args...) }
func (z *zeroLogger) Warnf(format string, args ...interface{})  { z.log.Warn().Msgf(format, args...) }
func (z *zeroLogger) Errorf(format string, args ...interface{}) { z.log.Error().Msgf(format, args...) }
func (z *zeroLogger) Fatalf(format string, args ...interface{}) { z.log.Fatal().Msgf(format, args...) }
func (z *zeroLogger) Panicf(format string, args ...interface{}) { z.log.Panic().Msgf(format, args...) }

func (z *zeroLogger) WithFields(fields logger.Fields) logger.Logger {
	return &zeroLogger{log: z.log.With().Fields(map[string]interface{}(fields)).Logger()}
}

// level maps a facade level name, falling back to info for empty or unknown names.
func level(name string) zerolog.Level {
	l, err := zerolog.ParseLevel(name)
	if err != nil || name == "" {
		return zerolog.InfoLevel
	}
	return l
}
