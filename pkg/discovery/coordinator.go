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
	"context"
	"fmt"
	"sync"

	"github.com/carverauto/chamberlink/pkg/events"
	"github.com/carverauto/chamberlink/pkg/logger"
	"github.com/carverauto/chamberlink/pkg/metrics"
	"github.com/carverauto/chamberlink/pkg/models"
)

// Coordinator orchestrates the resolver and verifier under a concurrency cap,
// selects the first verified match and caches it process-wide. All cache
// mutation goes through the coordinator.
type Coordinator struct {
	cfg      *models.CoreConfig
	resolver *Resolver
	verifier Verifier
	hub      *events.Hub
	metrics  *metrics.Metrics
	logger   logger.Logger

	mu     sync.Mutex
	cached *models.DiscoveryResult
}

func NewCoordinator(
	cfg *models.CoreConfig,
	resolver *Resolver,
	verifier Verifier,
	hub *events.Hub,
	m *metrics.Metrics,
	log logger.Logger,
) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		resolver: resolver,
		verifier: verifier,
		hub:      hub,
		metrics:  m,
		logger:   log,
	}
}

// Cached returns the current in-memory discovery result, or nil.
func (c *Coordinator) Cached() *models.DiscoveryResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cached
}

// Reset clears the in-memory cache so the next Discover repeats the whole
// resolution path. The persisted last-known endpoint is kept: it is only a
// fast-path candidate and is re-verified like any other.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cached = nil
}

// Forget clears both the in-memory and the persisted cache.
func (c *Coordinator) Forget() {
	c.Reset()
	removeCachedResult(c.cfg.CacheFile, c.logger)
}

// Discover returns the cached result when present; otherwise it probes the
// resolver's candidate phases in order and returns the first verified match.
// Within a concurrent batch the tie-break among multiple successes is the
// lowest candidate index, which keeps the outcome deterministic.
func (c *Coordinator) Discover(ctx context.Context) (*models.DiscoveryResult, error) {
	if cached := c.Cached(); cached != nil {
		c.logger.Debug().
			Str("endpoint", cached.Endpoint.Addr()).
			Msg("Reusing cached discovery result")

		return cached, nil
	}

	c.metrics.DiscoveryStarted()

	var lastKnown *models.Endpoint

	if persisted := loadCachedResult(c.cfg.CacheFile, c.logger); persisted != nil {
		lastKnown = &persisted.Endpoint
	}

	phases, err := c.resolver.Phases(lastKnown)
	if err != nil {
		return nil, err
	}

	tried := 0

	for _, phase := range phases {
		c.logger.Info().
			Str("phase", phase.Name).
			Int("candidates", len(phase.Endpoints)).
			Msg("Probing discovery phase")

		result, probed := c.probePhase(ctx, phase)
		tried += probed

		if result != nil {
			c.commit(result)
			return result, nil
		}

		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrDiscoveryCancelled, ctx.Err())
		}

		if phase.Exclusive {
			// Explicit override: no fallback scanning.
			break
		}
	}

	c.metrics.DiscoveryFailed()
	c.logger.Warn().Int("candidates_tried", tried).Msg("Discovery exhausted all candidates")
	c.hub.Publish(events.TopicDiscoveryFailed, events.DiscoveryFailedEvent{
		CandidatesTried: tried,
		Reason:          ErrNoBackendFound.Error(),
	})

	return nil, ErrNoBackendFound
}

func (c *Coordinator) commit(result *models.DiscoveryResult) {
	c.mu.Lock()
	c.cached = result
	c.mu.Unlock()

	saveCachedResult(c.cfg.CacheFile, result, c.logger)

	c.logger.Info().
		Str("endpoint", result.Endpoint.Addr()).
		Str("version", result.ServiceVersion).
		Msg("Discovered chamber controller")
	c.hub.Publish(events.TopicDiscoveryComplete, events.DiscoveryCompleteEvent{Result: *result})
}

// probePhase walks the phase's candidates in batches bounded by the configured
// concurrency. It returns the winning result (nil if none) and how many
// candidates were probed.
func (c *Coordinator) probePhase(ctx context.Context, phase Phase) (*models.DiscoveryResult, int) {
	probed := 0

	for start := 0; start < len(phase.Endpoints); start += c.cfg.MaxConcurrency {
		end := start + c.cfg.MaxConcurrency
		if end > len(phase.Endpoints) {
			end = len(phase.Endpoints)
		}

		batch := phase.Endpoints[start:end]
		probed += len(batch)
		c.metrics.CandidatesProbed(len(batch))

		if result := c.probeBatch(ctx, batch); result != nil {
			return result, probed
		}

		if ctx.Err() != nil {
			return nil, probed
		}
	}

	return nil, probed
}

type probeOutcome struct {
	idx    int
	result *models.DiscoveryResult
}

// probeBatch verifies one batch concurrently. The first success cancels the
// batch context so losing probes abandon their in-flight requests instead of
// merely having their results ignored.
func (c *Coordinator) probeBatch(ctx context.Context, batch []models.Endpoint) *models.DiscoveryResult {
	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	outcomes := make(chan probeOutcome, len(batch))

	var wg sync.WaitGroup

	for i, endpoint := range batch {
		wg.Add(1)

		go func(idx int, ep models.Endpoint) {
			defer wg.Done()

			result, err := c.verifier.Verify(batchCtx, ep)
			if err != nil {
				outcomes <- probeOutcome{idx: idx}
				return
			}

			outcomes <- probeOutcome{idx: idx, result: result}
		}(i, endpoint)
	}

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	bestIdx := -1

	var best *models.DiscoveryResult

	for outcome := range outcomes {
		if outcome.result == nil {
			continue
		}

		if bestIdx == -1 || outcome.idx < bestIdx {
			bestIdx = outcome.idx
			best = outcome.result
		}

		// First success wins; cancelled probes drain quickly.
		cancel()
	}

	return best
}
