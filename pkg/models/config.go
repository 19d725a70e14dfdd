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

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/carverauto/chamberlink/pkg/logger"
)

var (
	errNoSubnets          = errors.New("at least one candidate subnet is required")
	errInvalidSubnet      = errors.New("subnet must be a dotted IPv4 /24 prefix, e.g. \"192.168.4\"")
	errInvalidPort        = errors.New("backend_port must be between 1 and 65535")
	errInvalidConcurrency = errors.New("max_concurrency must be positive")
)

const (
	defaultBackendPort          = 8080
	defaultMaxConcurrency       = 32
	defaultProbeTimeout         = 2 * time.Second
	defaultCommandTimeout       = 5 * time.Second
	defaultConfirmTimeout       = 3 * time.Second
	defaultConfirmInterval      = 150 * time.Millisecond
	defaultReconnectInterval    = 3 * time.Second
	defaultMaxReconnectAttempts = 5
	defaultRediscoverEvery      = 3

	maxPort = 65535
)

var subnetPrefixRe = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}$`)

// defaultSubnets covers the networks the chamber controller ships on.
func defaultSubnets() []string {
	return []string{"192.168.4", "192.168.1", "192.168.0", "10.0.0"}
}

// CoreConfig is the full externally supplied configuration surface for the
// discovery and synchronization layer.
type CoreConfig struct {
	// OverrideAddress pins the backend to one host; when set, discovery tries
	// it alone and short-circuits on success or failure.
	OverrideAddress string `json:"override_address,omitempty"`

	BackendPort    int      `json:"backend_port"`
	Subnets        []string `json:"subnets"`
	FullScan       bool     `json:"full_scan"`
	MaxConcurrency int      `json:"max_concurrency"`

	// CacheFile persists the last verified endpoint across restarts. Empty
	// disables persistence; the in-memory cache still applies.
	CacheFile string `json:"cache_file,omitempty"`

	ProbeTimeout         Duration `json:"probe_timeout"`
	CommandTimeout       Duration `json:"command_timeout"`
	ConfirmTimeout       Duration `json:"confirm_timeout"`
	ConfirmInterval      Duration `json:"confirm_interval"`
	ReconnectInterval    Duration `json:"reconnect_interval"`
	MaxReconnectAttempts int      `json:"max_reconnect_attempts"`

	// RediscoverEvery forces a discovery cache reset before every Nth
	// reconnect attempt so a moved backend is picked up without manual help.
	RediscoverEvery int `json:"rediscover_every"`

	Logging *logger.Config `json:"logging,omitempty"`
}

// DefaultCoreConfig returns a config with every field at its default.
func DefaultCoreConfig() *CoreConfig {
	cfg := &CoreConfig{}
	cfg.ApplyDefaults()

	return cfg
}

// ApplyDefaults fills zero-valued fields in place.
func (c *CoreConfig) ApplyDefaults() {
	if c.BackendPort == 0 {
		c.BackendPort = defaultBackendPort
	}

	if len(c.Subnets) == 0 {
		c.Subnets = defaultSubnets()
	}

	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = defaultMaxConcurrency
	}

	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = Duration(defaultProbeTimeout)
	}

	if c.CommandTimeout == 0 {
		c.CommandTimeout = Duration(defaultCommandTimeout)
	}

	if c.ConfirmTimeout == 0 {
		c.ConfirmTimeout = Duration(defaultConfirmTimeout)
	}

	if c.ConfirmInterval == 0 {
		c.ConfirmInterval = Duration(defaultConfirmInterval)
	}

	if c.ReconnectInterval == 0 {
		c.ReconnectInterval = Duration(defaultReconnectInterval)
	}

	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}

	if c.RediscoverEvery == 0 {
		c.RediscoverEvery = defaultRediscoverEvery
	}
}

// Validate applies defaults and checks the config for consistency.
func (c *CoreConfig) Validate() error {
	c.ApplyDefaults()

	if c.BackendPort < 1 || c.BackendPort > maxPort {
		return errInvalidPort
	}

	if len(c.Subnets) == 0 {
		return errNoSubnets
	}

	for _, subnet := range c.Subnets {
		if !subnetPrefixRe.MatchString(subnet) {
			return fmt.Errorf("%w: %q", errInvalidSubnet, subnet)
		}
	}

	if c.MaxConcurrency < 1 {
		return errInvalidConcurrency
	}

	return nil
}
