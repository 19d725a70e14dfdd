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

// ConnectionState is the single authoritative connection state of the client.
// It is Connected if and only if a live streaming session exists; only the
// connection session mutates it.
type ConnectionState string

const (
	StateIdle         ConnectionState = "idle"
	StateDiscovering  ConnectionState = "discovering"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
)

func (s ConnectionState) String() string {
	return string(s)
}
