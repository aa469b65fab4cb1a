/*
 * Copyright (c) 2019 VMware, Inc.
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
// Package zerolog implements the Logger contract using rs/zerolog.
package zerolog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/spring-operator/spring-integration-aws/logger"
)

type zeroLogger struct {
	log zerolog.Logger
}

// NewZerologLogger returns a JSON console logger at info level.
func NewZerologLogger() logger.Logger {
	return NewZerologLoggerWithConfig(logger.Configuration{
		EnableConsole:     true,
		ConsoleJSONFormat: true,
		ConsoleLevel:      logger.Info,
		LocalTime:         true,
	})
}

// NewZerologLoggerWithConfig creates a zerolog logger. When both console and
// file are enabled, the console level applies to both writers.
func NewZerologLoggerWithConfig(config logger.Configuration) logger.Logger {
	logger.NormalizeConfig(&config)

	var console io.Writer = os.Stdout
	if !config.ConsoleJSONFormat {
		console = zerolog.ConsoleWriter{Out: os.Stdout}
	}

	var (
		out   io.Writer
		level = config.ConsoleLevel
	)
	switch {
	case config.EnableConsole && config.EnableFile:
		out = zerolog.MultiLevelWriter(console, rotatingFile(config))
	case config.EnableFile:
		out = rotatingFile(config)
		level = config.FileLevel
	default:
		out = console
	}

	return &zeroLogger{
		log: zerolog.New(out).Level(zeroLevel(level)).With().Timestamp().Logger(),
	}
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

func rotatingFile(config logger.Configuration) io.Writer {
	return &lumberjack.Logger{
		Filename:   config.Filename,
		MaxSize:    config.MaxSizeMB,
		MaxAge:     config.MaxAgeDays,
		MaxBackups: config.MaxBackups,
		LocalTime:  config.LocalTime,
		Compress:   true,
	}
}

func zeroLevel(name string) zerolog.Level {
	switch name {
	case logger.Debug:
		return zerolog.DebugLevel
	case logger.Warn:
		return zerolog.WarnLevel
	case logger.Error:
		return zerolog.ErrorLevel
	case logger.Fatal:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}
