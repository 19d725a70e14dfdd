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

// Package models contains the shared types for the chamberlink client.
package models

import (
	"fmt"
	"net"
	"strconv"
)

// Endpoint identifies one network location of a controller backend.
// Values are immutable; build a new Endpoint instead of mutating one.
type Endpoint struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Scheme string `json:"scheme,omitempty"` // "http" or "https", defaults to "http"
}

func (e Endpoint) scheme() string {
	if e.Scheme == "" {
		return "http"
	}

	return e.Scheme
}

// Addr returns the host:port pair without a scheme.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// URL returns the HTTP base URL for the endpoint.
func (e Endpoint) URL() string {
	return fmt.Sprintf("%s://%s", e.scheme(), e.Addr())
}

// StreamURL returns the websocket URL for the system status stream.
func (e Endpoint) StreamURL() string {
	ws := "ws"
	if e.scheme() == "https" {
		ws = "wss"
	}

	return fmt.Sprintf("%s://%s/ws/system-status", ws, e.Addr())
}

func (e Endpoint) String() string {
	return e.URL()
}
