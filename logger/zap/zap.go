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
// Package zap implements the Logger contract on top of a sugared zap logger.
package zap

import (
	"os"

	uzap "go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/spring-operator/spring-integration-aws/logger"
)

type zapLogger struct {
	sugared *uzap.SugaredLogger
}

// NewZapLogger adapts an existing sugared logger. Use (*zap.Logger).Sugar()
// to obtain one from a structured logger.
func NewZapLogger(l *uzap.SugaredLogger) logger.Logger {
	return &zapLogger{sugared: l}
}

// NewZapLoggerWithConfig builds a tee of console and file cores according to
// the configuration. Each core uses its own level.
func NewZapLoggerWithConfig(config logger.Configuration) logger.Logger {
	logger.NormalizeConfig(&config)

	var cores []zapcore.Core
	if config.EnableConsole {
		cores = append(cores, zapcore.NewCore(
			encoder(config.ConsoleJSONFormat),
			zapcore.Lock(os.Stdout),
			level(config.ConsoleLevel),
		))
	}

	if config.EnableFile {
		cores = append(cores, zapcore.NewCore(
			encoder(config.FileJSONFormat),
			zapcore.AddSync(&lumberjack.Logger{
				Filename:   config.Filename,
				MaxSize:    config.MaxSizeMB,
				MaxAge:     config.MaxAgeDays,
				MaxBackups: config.MaxBackups,
				LocalTime:  config.LocalTime,
				Compress:   true,
			}),
			level(config.FileLevel),
		))
	}

	// skip the adapter frames so the caller's file is reported
	l := uzap.New(zapcore.NewTee(cores...), uzap.AddCaller(), uzap.AddCallerSkip(1))
	return &zapLogger{sugared: l.Sugar()}
}

func (z *zapLogger) Debugf(format string, args ...interface{}) { z.sugared.Debugf(format, args...) }
func (z *zapLogger) Infof(format string, args ...interface{})  { z.sugared.Infof(format, args...) }
func (z *zapLogger) Warnf(format string, args ...interface{})  { z.sugared.Warnf(format, args...) }
func (z *zapLogger) Errorf(format string, args ...interface{}) { z.sugared.Errorf(format, args...) }
func (z *zapLogger) Fatalf(format string, args ...interface{}) { z.sugared.Fatalf(format, args...) }
func (z *zapLogger) Panicf(format string, args ...interface{}) { z.sugared.Panicf(format, args...) }

func (z *zapLogger) WithFields(fields logger.Fields) logger.Logger {
	kv := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		kv = append(kv, k, v)
	}
	return &zapLogger{sugared: z.sugared.With(kv...)}
}

func encoder(json bool) zapcore.Encoder {
	cfg := uzap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if json {
		return zapcore.NewJSONEncoder(cfg)
	}
	return zapcore.NewConsoleEncoder(cfg)
}

func level(name string) zapcore.Level {
	switch name {
	case logger.Debug:
		return zapcore.DebugLevel
	case logger.Warn:
		return zapcore.WarnLevel
	case logger.Error:
		return zapcore.ErrorLevel
	case logger.Fatal:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}
