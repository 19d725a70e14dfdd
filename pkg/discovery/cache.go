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

package discovery

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/carverauto/chamberlink/pkg/logger"
	"github.com/carverauto/chamberlink/pkg/models"
)

const cacheFilePerms = 0o600

// loadCachedResult reads the persisted last-known discovery result. Any error
// is treated as a cache miss; a stale or corrupt file must never block
// discovery.
func loadCachedResult(path string, log logger.Logger) *models.DiscoveryResult {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Debug().Str("path", path).Err(err).Msg("Failed to read endpoint cache")
		}

		return nil
	}

	var result models.DiscoveryResult
	if err := json.Unmarshal(data, &result); err != nil {
		log.Warn().Str("path", path).Err(err).Msg("Discarding corrupt endpoint cache")
		return nil
	}

	if result.Endpoint.Host == "" || result.Endpoint.Port == 0 {
		return nil
	}

	return &result
}

// saveCachedResult persists the discovery result so the fast path survives a
// restart. Failures are logged and ignored; persistence is best effort.
func saveCachedResult(path string, result *models.DiscoveryResult, log logger.Logger) {
	if path == "" || result == nil {
		return
	}

	data, err := json.Marshal(result)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to encode endpoint cache")
		return
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Warn().Str("path", path).Err(err).Msg("Failed to create endpoint cache directory")
			return
		}
	}

	if err := os.WriteFile(path, data, cacheFilePerms); err != nil {
		log.Warn().Str("path", path).Err(err).Msg("Failed to write endpoint cache")
	}
}

// removeCachedResult deletes the persisted cache on an explicit forget.
func removeCachedResult(path string, log logger.Logger) {
	if path == "" {
		return
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn().Str("path", path).Err(err).Msg("Failed to remove endpoint cache")
	}
}
