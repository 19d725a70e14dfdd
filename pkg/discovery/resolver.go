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

// Package discovery locates a chamber controller backend on the local network
// and verifies that a responding address genuinely hosts it.
package discovery

import (
	"fmt"
	"net"
	"strconv"

	"github.com/carverauto/chamberlink/pkg/models"
)

const (
	// quickHostOffset is the fixed host the controller claims on each subnet,
	// adjacent to the gateway address.
	quickHostOffset = 2

	fullScanFirstHost = 1
	fullScanLastHost  = 254
)

// Phase is one ordered group of candidate endpoints. Phases are probed in
// order; an Exclusive phase short-circuits discovery on success or failure.
type Phase struct {
	Name      string
	Endpoints []models.Endpoint
	Exclusive bool
}

// Resolver enumerates candidate backend addresses from configuration. The
// candidate sequence is rebuilt on every call; there is no cursor shared
// between discovery invocations.
type Resolver struct {
	cfg *models.CoreConfig
}

func NewResolver(cfg *models.CoreConfig) *Resolver {
	return &Resolver{cfg: cfg}
}

// Phases produces the ordered candidate sequence: explicit override (alone),
// last known endpoint, one quick-scan host per subnet, then the full subnet
// ranges when full scanning is enabled. lastKnown may be nil.
func (r *Resolver) Phases(lastKnown *models.Endpoint) ([]Phase, error) {
	if r.cfg.OverrideAddress != "" {
		ep, err := parseOverride(r.cfg.OverrideAddress, r.cfg.BackendPort)
		if err != nil {
			return nil, err
		}

		return []Phase{{Name: "override", Endpoints: []models.Endpoint{ep}, Exclusive: true}}, nil
	}

	seen := make(map[string]struct{})

	phases := make([]Phase, 0, 3)

	if lastKnown != nil {
		seen[lastKnown.Addr()] = struct{}{}
		phases = append(phases, Phase{Name: "cached", Endpoints: []models.Endpoint{*lastKnown}})
	}

	quick := make([]models.Endpoint, 0, len(r.cfg.Subnets))

	for _, subnet := range r.cfg.Subnets {
		ep := models.Endpoint{
			Host: fmt.Sprintf("%s.%d", subnet, quickHostOffset),
			Port: r.cfg.BackendPort,
		}
		if _, dup := seen[ep.Addr()]; dup {
			continue
		}

		seen[ep.Addr()] = struct{}{}
		quick = append(quick, ep)
	}

	if len(quick) > 0 {
		phases = append(phases, Phase{Name: "quick-scan", Endpoints: quick})
	}

	if r.cfg.FullScan {
		full := make([]models.Endpoint, 0, len(r.cfg.Subnets)*fullScanLastHost)

		for _, subnet := range r.cfg.Subnets {
			for host := fullScanFirstHost; host <= fullScanLastHost; host++ {
				ep := models.Endpoint{
					Host: fmt.Sprintf("%s.%d", subnet, host),
					Port: r.cfg.BackendPort,
				}
				if _, dup := seen[ep.Addr()]; dup {
					continue
				}

				seen[ep.Addr()] = struct{}{}
				full = append(full, ep)
			}
		}

		if len(full) > 0 {
			phases = append(phases, Phase{Name: "full-scan", Endpoints: full})
		}
	}

	return phases, nil
}

// parseOverride accepts "host" or "host:port", defaulting to the configured
// backend port.
func parseOverride(addr string, defaultPort int) (models.Endpoint, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		// No port in the address; use it as a bare host.
		return models.Endpoint{Host: addr, Port: defaultPort}, nil
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return models.Endpoint{}, fmt.Errorf("%w: %q", ErrInvalidOverride, addr)
	}

	return models.Endpoint{Host: host, Port: port}, nil
}
