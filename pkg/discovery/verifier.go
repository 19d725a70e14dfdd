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

//go:generate mockgen -destination=mock_verifier.go -package=discovery github.com/carverauto/chamberlink/pkg/discovery Verifier

package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/carverauto/chamberlink/pkg/logger"
	"github.com/carverauto/chamberlink/pkg/models"
)

const (
	// ExpectedService is the service name the controller declares in /health.
	ExpectedService = "chamber-controller"

	healthPath = "/health"
)

// versionPattern matches the controller's firmware version scheme.
var versionPattern = regexp.MustCompile(`^v?\d+\.\d+(\.\d+)?`)

// requiredPaths are probed for reachability when endpoint probing is enabled.
// A service that answers /health convincingly but 404s these is not ours.
var requiredPaths = []string{"/api/system/status"}

// Verifier confirms that a probed address truly hosts the chamber controller,
// not merely that something answered HTTP on the right port.
type Verifier interface {
	Verify(ctx context.Context, endpoint models.Endpoint) (*models.DiscoveryResult, error)
}

// HTTPVerifier verifies candidates with a bounded-timeout health request.
type HTTPVerifier struct {
	client         *http.Client
	timeout        time.Duration
	probeEndpoints bool
	logger         logger.Logger
}

var _ Verifier = (*HTTPVerifier)(nil)

// NewHTTPVerifier creates a verifier with the given per-probe timeout. When
// probeEndpoints is set, required API paths are also checked for reachability.
func NewHTTPVerifier(timeout time.Duration, probeEndpoints bool, log logger.Logger) *HTTPVerifier {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	return &HTTPVerifier{
		client:         &http.Client{Timeout: timeout},
		timeout:        timeout,
		probeEndpoints: probeEndpoints,
		logger:         log,
	}
}

// Verify issues the health probe and checks the service fingerprint. Every
// failure mode (timeout, refused connection, wrong service, malformed body)
// wraps ErrVerificationFailed; callers treat them all as a non-match and the
// cause is kept only for logging.
func (v *HTTPVerifier) Verify(ctx context.Context, endpoint models.Endpoint) (*models.DiscoveryResult, error) {
	probeCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	health, err := v.fetchHealth(probeCtx, endpoint)
	if err != nil {
		v.logger.Debug().
			Str("endpoint", endpoint.Addr()).
			Err(err).
			Msg("Candidate failed health probe")

		return nil, fmt.Errorf("%w: %w", ErrVerificationFailed, err)
	}

	if health.Service != ExpectedService {
		v.logger.Debug().
			Str("endpoint", endpoint.Addr()).
			Str("service", health.Service).
			Msg("Candidate hosts a different service")

		return nil, fmt.Errorf("%w: %w: got %q", ErrVerificationFailed, ErrWrongService, health.Service)
	}

	if !versionPattern.MatchString(health.Version) {
		return nil, fmt.Errorf("%w: %w: got %q", ErrVerificationFailed, ErrVersionMismatch, health.Version)
	}

	if v.probeEndpoints {
		if err := v.checkRequiredPaths(probeCtx, endpoint); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrVerificationFailed, err)
		}
	}

	return &models.DiscoveryResult{
		Endpoint:       endpoint,
		VerifiedAt:     time.Now(),
		ServiceName:    health.Service,
		ServiceVersion: health.Version,
	}, nil
}

func (v *HTTPVerifier) fetchHealth(ctx context.Context, endpoint models.Endpoint) (*models.HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.URL()+healthPath, http.NoBody)
	if err != nil {
		return nil, err
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, err
	}

	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			v.logger.Debug().Err(cerr).Msg("failed to close health response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrHealthNotOK, resp.StatusCode)
	}

	var health models.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	return &health, nil
}

// checkRequiredPaths confirms the candidate serves the API surface the client
// depends on. Any HTTP answer short of a 404 or server error counts as
// reachable.
func (v *HTTPVerifier) checkRequiredPaths(ctx context.Context, endpoint models.Endpoint) error {
	for _, path := range requiredPaths {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.URL()+path, http.NoBody)
		if err != nil {
			return err
		}

		resp, err := v.client.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrEndpointMissing, path, err)
		}

		_ = resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound || resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%w: %s: status %d", ErrEndpointMissing, path, resp.StatusCode)
		}
	}

	return nil
}
