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

import "errors"

var (
	// ErrVerificationFailed means a candidate responded but did not match the
	// expected service fingerprint. Non-fatal; the coordinator moves on.
	ErrVerificationFailed = errors.New("endpoint verification failed")

	// ErrNoBackendFound means discovery exhausted every candidate.
	ErrNoBackendFound = errors.New("no chamber controller found on any candidate address")

	// Verification failure causes, wrapped under ErrVerificationFailed and
	// distinguished only for logging.
	ErrWrongService       = errors.New("service name mismatch")
	ErrVersionMismatch    = errors.New("service version mismatch")
	ErrHealthNotOK        = errors.New("health endpoint returned non-success status")
	ErrEndpointMissing    = errors.New("required endpoint unreachable")
	ErrMalformedResponse  = errors.New("malformed health response")
	ErrInvalidOverride    = errors.New("invalid override address")
	ErrDiscoveryCancelled = errors.New("discovery cancelled")
)
