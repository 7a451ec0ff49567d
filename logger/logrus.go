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
package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// logrusLogger serves both a *logrus.Logger and the *logrus.Entry values
// WithFields derives from it.
type logrusLogger struct {
	logrus.FieldLogger
}

// NewLogrusLogger adapts an existing logrus logger or entry to the Logger interface.
// The caller is responsible for configuring it.
func NewLogrusLogger(l logrus.FieldLogger) Logger {
	return &logrusLogger{FieldLogger: l}
}

// NewLogrusLoggerWithConfig creates a Logger backed by logrus. logrus has a single
// level per logger, so the console level wins when both outputs are enabled.
func NewLogrusLoggerWithConfig(config Configuration) Logger {
	levelName, jsonFormat := config.ConsoleLevel, config.ConsoleJSONFormat
	var out io.Writer = os.Stdout
	if config.EnableFile {
		file := RotatingFile(config)
		if config.EnableConsole {
			out = io.MultiWriter(os.Stdout, file)
		} else {
			out, levelName, jsonFormat = file, config.FileLevel, config.FileJSONFormat
		}
	}

	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		level = logrus.InfoLevel
	}

	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(level)
	if jsonFormat {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableLevelTruncation: true})
	}
	return NewLogrusLogger(l)
}

func (l *logrusLogger) WithFields(fields Fields) Logger {
	return &logrusLogger{FieldLogger: l.FieldLogger.WithFields(logrus.Fields(fields))}
}
