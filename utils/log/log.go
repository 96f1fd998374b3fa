// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package log

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config defines log configuration.
type Config struct {
	Level       zapcore.Level `yaml:"level"`
	Disable     bool          `yaml:"disable"`
	ServiceName string        `yaml:"service_name"`
	Path        string        `yaml:"path"`
	Encoding    string        `yaml:"encoding"`
}

func (c Config) applyDefaults() Config {
	if c.ServiceName == "" {
		c.ServiceName = "riptide"
	}
	if c.Encoding == "" {
		c.Encoding = "console"
	}
	return c
}

// New creates a logger that is not default.
func New(c Config, fields map[string]interface{}) (*zap.Logger, error) {
	c = c.applyDefaults()
	if c.Disable {
		return zap.NewNop(), nil
	}
	outputPaths := []string{"stdout"}
	if c.Path != "" {
		outputPaths = []string{c.Path}
	}
	return zap.Config{
		Level: zap.NewAtomicLevelAt(c.Level),
		Sampling: &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		},
		Encoding: c.Encoding,
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:     "message",
			NameKey:        "logger_name",
			LevelKey:       "level",
			TimeKey:        "ts",
			CallerKey:      "caller",
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		DisableStacktrace: true,
		OutputPaths:       outputPaths,
		InitialFields:     fields,
	}.Build()
}

var (
	_default *zap.SugaredLogger
	_mu      sync.Mutex
)

func init() {
	l, _ := zap.NewProduction()
	_default = l.Sugar()
}

// ConfigureLogger configures the default logger and returns it for syncing
// purposes.
func ConfigureLogger(c Config) *zap.SugaredLogger {
	logger, err := New(c, nil)
	if err != nil {
		panic(err)
	}
	_mu.Lock()
	defer _mu.Unlock()
	_default = logger.Sugar()
	return _default
}

// Default returns the default logger.
func Default() *zap.SugaredLogger {
	_mu.Lock()
	defer _mu.Unlock()
	return _default
}

// Debugf logs at debug level with the default logger.
func Debugf(template string, args ...interface{}) {
	Default().Debugf(template, args...)
}

// Infof logs at info level with the default logger.
func Infof(template string, args ...interface{}) {
	Default().Infof(template, args...)
}

// Warnf logs at warn level with the default logger.
func Warnf(template string, args ...interface{}) {
	Default().Warnf(template, args...)
}

// Errorf logs at error level with the default logger.
func Errorf(template string, args ...interface{}) {
	Default().Errorf(template, args...)
}

// Fatal logs at fatal level with the default logger, then exits.
func Fatal(args ...interface{}) {
	Default().Fatal(args...)
}

// Fatalf logs at fatal level with the default logger, then exits.
func Fatalf(template string, args ...interface{}) {
	Default().Fatalf(template, args...)
}

// With returns the default logger with the given keys and values attached.
func With(args ...interface{}) *zap.SugaredLogger {
	return Default().With(args...)
}
