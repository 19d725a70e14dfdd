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

package session

import "errors"

var (
	// ErrStreamClosed means the live connection ended. It drives the
	// reconnect policy and is surfaced as state, not thrown to callers.
	ErrStreamClosed = errors.New("stream closed")

	// ErrMaxReconnectsExceeded means the reconnect policy is exhausted. The
	// session stays eligible for a manual reconnect.
	ErrMaxReconnectsExceeded = errors.New("max reconnect attempts exceeded")

	// ErrAlreadyConnected is returned when Connect is called on a session
	// that already has a live stream.
	ErrAlreadyConnected = errors.New("session already connected")
)
