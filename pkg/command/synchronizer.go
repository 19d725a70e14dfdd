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

// Package command executes user-initiated commands optimistically: the local
// value changes immediately and is reconciled against the authoritative state
// arriving on the snapshot stream, rolling back on rejection.
package command

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carverauto/chamberlink/pkg/events"
	"github.com/carverauto/chamberlink/pkg/logger"
	"github.com/carverauto/chamberlink/pkg/metrics"
	"github.com/carverauto/chamberlink/pkg/models"
)

const apiPrefix = "/api/"

// SnapshotSource yields the newest authoritative snapshot; the connection
// session implements it.
type SnapshotSource interface {
	Latest() (*models.Snapshot, bool)
}

// optimisticEntry lives between command issuance and its terminal outcome.
// At most one exists per control key; a newer command discards the older
// entry without reconciling it.
type optimisticEntry struct {
	key       string
	commandID string
	value     interface{}
	issuedAt  time.Time
	afterSeq  uint64 // only snapshots strictly newer than this can confirm
	expired   bool   // confirmation timed out; the next newer snapshot displaces it
	cancel    context.CancelFunc
}

// Synchronizer owns the optimistic entry table. Consumers read control values
// through it: the optimistic value when an entry exists, the snapshot-derived
// value otherwise.
type Synchronizer struct {
	cfg       *models.CoreConfig
	client    *http.Client
	snapshots SnapshotSource
	hub       *events.Hub
	metrics   *metrics.Metrics
	logger    logger.Logger
	bindings  map[string]models.ControlBinding

	mu      sync.Mutex
	entries map[string]*optimisticEntry
}

func NewSynchronizer(
	cfg *models.CoreConfig,
	snapshots SnapshotSource,
	hub *events.Hub,
	m *metrics.Metrics,
	log logger.Logger,
) *Synchronizer {
	bindings := make(map[string]models.ControlBinding)
	for _, b := range models.DefaultBindings() {
		bindings[b.Key] = b
	}

	return &Synchronizer{
		cfg:       cfg,
		client:    &http.Client{Timeout: cfg.CommandTimeout.Duration()},
		snapshots: snapshots,
		hub:       hub,
		metrics:   m,
		logger:    log,
		bindings:  bindings,
		entries:   make(map[string]*optimisticEntry),
	}
}

// Value returns the consumer-visible value for a control key: the optimistic
// entry's value when one is outstanding, else the latest snapshot's. An entry
// whose confirmation timed out keeps its optimistic value visible until a
// snapshot newer than the command arrives, which displaces it.
func (s *Synchronizer) Value(key string) (interface{}, bool) {
	s.mu.Lock()
	entry, haveEntry := s.entries[key]

	if haveEntry && !entry.expired {
		v := entry.value
		s.mu.Unlock()

		return v, true
	}
	s.mu.Unlock()

	binding, ok := s.bindings[key]
	if !ok {
		return nil, false
	}

	snapshot, ok := s.snapshots.Latest()

	if haveEntry {
		if !ok || snapshot.Seq <= entry.afterSeq {
			return entry.value, true
		}

		s.mu.Lock()
		if s.entries[key] == entry {
			delete(s.entries, key)
		}
		s.mu.Unlock()
	}

	if !ok {
		return nil, false
	}

	return snapshot.Value(binding.SnapshotPath)
}

// Pending lists the control keys with commands in flight, for busy indication.
func (s *Synchronizer) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.entries))
	for key, entry := range s.entries {
		if entry.expired {
			continue
		}

		keys = append(keys, key)
	}

	return keys
}

// Execute applies proposed optimistically, issues the command to the backend
// and reconciles against the snapshot stream. It returns nil once the
// authoritative state matches, ErrCommandRejected on refusal (after rolling
// back), ErrConfirmationTimeout when the state never catches up, and
// ErrSuperseded when a newer command takes over the key.
func (s *Synchronizer) Execute(ctx context.Context, endpoint models.Endpoint, key string, proposed interface{}) error {
	binding, ok := s.bindings[key]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownControl, key)
	}

	entry, reconcileCtx := s.record(key, proposed)

	s.hub.Publish(events.TopicCommandPending, events.CommandEvent{
		CommandID: entry.commandID,
		Key:       key,
		Value:     proposed,
	})

	resp, err := s.post(ctx, endpoint, binding, proposed)
	if err != nil || !resp.Success {
		s.rollback(entry)

		message := "request failed"
		if err == nil {
			message = resp.Message
		}

		s.metrics.CommandFinished(metrics.OutcomeRejected)
		s.hub.Publish(events.TopicCommandError, events.CommandEvent{
			CommandID: entry.commandID,
			Key:       key,
			Message:   message,
		})

		if err != nil {
			return fmt.Errorf("%w: %w", ErrCommandRejected, err)
		}

		return fmt.Errorf("%w: %s", ErrCommandRejected, resp.Message)
	}

	// The server is authoritative for the final value: a clamped setpoint in
	// the response replaces the proposal before reconciliation.
	if binding.ResponseField != "" && resp.Data != nil {
		if confirmed, ok := resp.Data[binding.ResponseField]; ok {
			s.adopt(entry, confirmed)
		}
	}

	return s.reconcile(reconcileCtx, entry, binding)
}

// record installs the optimistic entry, superseding any outstanding entry for
// the same key. The superseded entry is discarded, not reconciled.
func (s *Synchronizer) record(key string, proposed interface{}) (*optimisticEntry, context.Context) {
	reconcileCtx, cancel := context.WithCancel(context.Background())

	var afterSeq uint64
	if snapshot, ok := s.snapshots.Latest(); ok {
		afterSeq = snapshot.Seq
	}

	entry := &optimisticEntry{
		key:       key,
		commandID: uuid.New().String(),
		value:     proposed,
		issuedAt:  time.Now(),
		afterSeq:  afterSeq,
		cancel:    cancel,
	}

	s.mu.Lock()

	if old, ok := s.entries[key]; ok {
		old.cancel()
	}

	s.entries[key] = entry
	s.mu.Unlock()

	return entry, reconcileCtx
}

// adopt replaces the optimistic value if the entry is still current.
func (s *Synchronizer) adopt(entry *optimisticEntry, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entries[entry.key] == entry {
		entry.value = value
	}
}

// rollback discards the entry so reads fall back to the last authoritative
// value. A superseded entry is left alone; the newer command owns the key.
func (s *Synchronizer) rollback(entry *optimisticEntry) {
	s.clear(entry)
}

// expire marks the entry so it no longer counts as in flight but keeps its
// value visible for reads until a newer snapshot displaces it.
func (s *Synchronizer) expire(entry *optimisticEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entries[entry.key] == entry {
		entry.expired = true
		entry.cancel()
	}
}

func (s *Synchronizer) clear(entry *optimisticEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entries[entry.key] == entry {
		delete(s.entries, entry.key)
		entry.cancel()
	}
}

func (s *Synchronizer) post(
	ctx context.Context,
	endpoint models.Endpoint,
	binding models.ControlBinding,
	proposed interface{},
) (*models.CommandResponse, error) {
	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.CommandTimeout.Duration())
	defer cancel()

	var body *bytes.Reader

	if binding.BodyField != "" {
		encoded, err := json.Marshal(map[string]interface{}{binding.BodyField: proposed})
		if err != nil {
			return nil, err
		}

		body = bytes.NewReader(encoded)
	} else {
		body = bytes.NewReader(nil)
	}

	url := endpoint.URL() + apiPrefix + binding.CommandPath

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}

	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			s.logger.Debug().Err(cerr).Msg("failed to close command response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var decoded models.CommandResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}

	return &decoded, nil
}

// reconcile polls the authoritative snapshot until its derived value matches
// the optimistic one. Only snapshots received strictly after the entry was
// created are trusted, so a stale frame already in flight cannot confirm
// early.
func (s *Synchronizer) reconcile(ctx context.Context, entry *optimisticEntry, binding models.ControlBinding) error {
	ticker := time.NewTicker(s.cfg.ConfirmInterval.Duration())
	defer ticker.Stop()

	deadline := time.NewTimer(s.cfg.ConfirmTimeout.Duration())
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			// Superseded by a newer command on the same key.
			s.metrics.CommandFinished(metrics.OutcomeSuperseded)
			return ErrSuperseded

		case <-deadline.C:
			// The optimistic value stays visible; the next snapshot newer
			// than the command takes over. The caller still learns that
			// confirmation could not be verified.
			s.expire(entry)
			s.metrics.CommandFinished(metrics.OutcomeTimeout)
			s.hub.Publish(events.TopicCommandError, events.CommandEvent{
				CommandID: entry.commandID,
				Key:       entry.key,
				Value:     entry.value,
				Message:   ErrConfirmationTimeout.Error(),
			})

			return ErrConfirmationTimeout

		case <-ticker.C:
			snapshot, ok := s.snapshots.Latest()
			if !ok || snapshot.Seq <= entry.afterSeq {
				continue
			}

			current, ok := snapshot.Value(binding.SnapshotPath)
			if !ok || !valuesEqual(current, entry.value) {
				continue
			}

			s.clear(entry)
			s.metrics.CommandFinished(metrics.OutcomeSuccess)
			s.hub.Publish(events.TopicCommandSuccess, events.CommandEvent{
				CommandID: entry.commandID,
				Key:       entry.key,
				Value:     entry.value,
			})

			return nil
		}
	}
}

// valuesEqual compares a snapshot-derived value with an optimistic one.
// Numeric values go through float64 (JSON numbers always arrive that way).
func valuesEqual(a, b interface{}) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)

	if aok && bok {
		return math.Abs(af-bf) < 1e-9
	}

	return reflect.DeepEqual(a, b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
