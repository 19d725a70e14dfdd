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

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/carverauto/chamberlink/pkg/logger"
)

// EnvConfigLoader loads configuration from the environment. The path argument,
// when non-empty, names a dotenv file merged into the process environment
// before reading. The full configuration is expected as JSON in
// <prefix>CONFIG_JSON.
type EnvConfigLoader struct {
	logger logger.Logger
	prefix string
}

// NewEnvConfigLoader creates an environment variable config loader.
func NewEnvConfigLoader(log logger.Logger, prefix string) *EnvConfigLoader {
	return &EnvConfigLoader{
		logger: log,
		prefix: prefix,
	}
}

// Load implements ConfigLoader by reading from environment variables.
func (e *EnvConfigLoader) Load(_ context.Context, path string, dst interface{}) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			if !os.IsNotExist(err) {
				return fmt.Errorf("failed to load env file '%s': %w", path, err)
			}

			if e.logger != nil {
				e.logger.Debug().Str("path", path).Msg("Env file not found, using process environment")
			}
		}
	}

	jsonConfig := os.Getenv(e.prefix + "CONFIG_JSON")
	if jsonConfig == "" {
		return fmt.Errorf("%s%s is not set", e.prefix, "CONFIG_JSON")
	}

	if err := json.Unmarshal([]byte(jsonConfig), dst); err != nil {
		return fmt.Errorf("failed to unmarshal %sCONFIG_JSON: %w", e.prefix, err)
	}

	if e.logger != nil {
		e.logger.Info().Msg("Loaded configuration from environment")
	}

	return nil
}
