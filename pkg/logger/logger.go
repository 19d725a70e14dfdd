/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package logger provides JSON structured logging using zerolog
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var globalLogger zerolog.Logger

type Config struct {
	Level      string `json:"level" yaml:"level"`
	Debug      bool   `json:"debug" yaml:"debug"`
	Output     string `json:"output" yaml:"output"`
	TimeFormat string `json:"time_format" yaml:"time_format"`
}

func init() {
	globalLogger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	zerolog.TimeFieldFormat = time.RFC3339
}

func Init(config *Config) error {
	if config == nil {
		config = DefaultConfig()
	}

	output, level, timeFormat, err := resolveConfig(config)
	if err != nil {
		return err
	}

	zerolog.TimeFieldFormat = timeFormat

	globalLogger = zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()

	log.Logger = globalLogger

	return nil
}

// instance implements the Logger interface without touching global state,
// so components can carry their own configured logger.
type instance struct {
	logger zerolog.Logger
}

// New creates an independent Logger from the provided configuration.
func New(config *Config) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	output, level, timeFormat, err := resolveConfig(config)
	if err != nil {
		return nil, err
	}

	zerolog.TimeFieldFormat = timeFormat

	zlog := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()

	return &instance{logger: zlog}, nil
}

func resolveConfig(config *Config) (io.Writer, zerolog.Level, string, error) {
	var output io.Writer = os.Stdout

	if config.Output == "stderr" {
		output = os.Stderr
	}

	level := zerolog.InfoLevel

	if config.Debug {
		level = zerolog.DebugLevel
	} else if config.Level != "" {
		var err error

		level, err = zerolog.ParseLevel(config.Level)
		if err != nil {
			return nil, level, "", err
		}
	}

	timeFormat := time.RFC3339
	if config.TimeFormat != "" {
		timeFormat = config.TimeFormat
	}

	return output, level, timeFormat, nil
}

func (l *instance) Trace() *zerolog.Event { return l.logger.Trace() }
func (l *instance) Debug() *zerolog.Event { return l.logger.Debug() }
func (l *instance) Info() *zerolog.Event  { return l.logger.Info() }
func (l *instance) Warn() *zerolog.Event  { return l.logger.Warn() }
func (l *instance) Error() *zerolog.Event { return l.logger.Error() }
func (l *instance) Fatal() *zerolog.Event { return l.logger.Fatal() }
func (l *instance) Panic() *zerolog.Event { return l.logger.Panic() }
func (l *instance) With() zerolog.Context { return l.logger.With() }

func (l *instance) WithComponent(component string) zerolog.Logger {
	return l.logger.With().Str("component", component).Logger()
}

func (l *instance) WithFields(fields map[string]interface{}) zerolog.Logger {
	ctx := l.logger.With()
	for key, value := range fields {
		ctx = ctx.Interface(key, value)
	}

	return ctx.Logger()
}

func (l *instance) SetLevel(level zerolog.Level) {
	l.logger = l.logger.Level(level)
}

func (l *instance) SetDebug(debug bool) {
	if debug {
		l.SetLevel(zerolog.DebugLevel)
	} else {
		l.SetLevel(zerolog.InfoLevel)
	}
}

func SetLevel(level zerolog.Level) {
	globalLogger = globalLogger.Level(level)
	log.Logger = globalLogger
}

func SetDebug(debug bool) {
	if debug {
		SetLevel(zerolog.DebugLevel)
	} else {
		SetLevel(zerolog.InfoLevel)
	}
}

func GetLogger() zerolog.Logger {
	return globalLogger
}

func Debug() *zerolog.Event {
	return globalLogger.Debug()
}

func Info() *zerolog.Event {
	return globalLogger.Info()
}

func Warn() *zerolog.Event {
	return globalLogger.Warn()
}

func Error() *zerolog.Event {
	return globalLogger.Error()
}

func Fatal() *zerolog.Event {
	return globalLogger.Fatal()
}

func WithComponent(component string) zerolog.Logger {
	return globalLogger.With().Str("component", component).Logger()
}
