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

package models

import "time"

// DiscoveryResult is produced once per successful discovery cycle and cached
// until an explicit reset or repeated connection failure clears it.
type DiscoveryResult struct {
	Endpoint       Endpoint  `json:"endpoint"`
	VerifiedAt     time.Time `json:"verified_at"`
	ServiceName    string    `json:"service_name"`
	ServiceVersion string    `json:"service_version"`
}

// HealthResponse is the payload returned by the controller's /health endpoint.
// Verification requires Service to match the expected constant and Version to
// match the expected pattern; everything else is informational.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
	Uptime  int64  `json:"uptime_seconds,omitempty"`
}
