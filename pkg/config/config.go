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

// Package config loads and validates component configuration from JSON files
// or the environment.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/carverauto/chamberlink/pkg/logger"
)

var (
	errInvalidConfigSource = errors.New("invalid CONFIG_SOURCE value")
	errLoadConfigFailed    = errors.New("failed to load configuration")
)

const (
	configSourceFile = "file"
	configSourceEnv  = "env"
)

// ConfigLoader loads configuration from a source into dst.
type ConfigLoader interface {
	Load(ctx context.Context, path string, dst interface{}) error
}

// Validator is implemented by config structs that can check themselves.
type Validator interface {
	Validate() error
}

// Config holds the configuration loading dependencies.
type Config struct {
	loader ConfigLoader
	logger logger.Logger
}

// NewConfig initializes a Config with a file loader and the given logger.
func NewConfig(log logger.Logger) *Config {
	if log == nil {
		log = logger.NewTestLogger()
	}

	return &Config{
		loader: &FileConfigLoader{logger: log},
		logger: log,
	}
}

// LoadAndValidate loads configuration from the source selected by the
// CONFIG_SOURCE environment variable (file by default), then validates dst if
// it implements Validator.
func (c *Config) LoadAndValidate(ctx context.Context, path string, dst interface{}) error {
	source := os.Getenv("CONFIG_SOURCE")

	var loader ConfigLoader

	switch source {
	case "", configSourceFile:
		loader = c.loader
	case configSourceEnv:
		loader = &EnvConfigLoader{logger: c.logger, prefix: "CHAMBERLINK_"}
	default:
		return fmt.Errorf("%w: %q", errInvalidConfigSource, source)
	}

	if err := loader.Load(ctx, path, dst); err != nil {
		return fmt.Errorf("%w: %w", errLoadConfigFailed, err)
	}

	if v, ok := dst.(Validator); ok {
		if err := v.Validate(); err != nil {
			return err
		}
	}

	return nil
}
