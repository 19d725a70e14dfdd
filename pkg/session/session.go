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

// Package session owns the streaming connection to the discovered backend:
// it detects loss, reconnects with bounded retries and periodically forces
// rediscovery when the backend seems to have moved.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/carverauto/chamberlink/pkg/discovery"
	"github.com/carverauto/chamberlink/pkg/events"
	"github.com/carverauto/chamberlink/pkg/logger"
	"github.com/carverauto/chamberlink/pkg/metrics"
	"github.com/carverauto/chamberlink/pkg/models"
)

// Session is the connect/reconnect state machine. The connection state is
// Connected if and only if a live stream exists; no other component writes it.
type Session struct {
	cfg         *models.CoreConfig
	coordinator *discovery.Coordinator
	dialer      Dialer
	hub         *events.Hub
	metrics     *metrics.Metrics
	logger      logger.Logger

	mu           sync.Mutex
	state        models.ConnectionState
	conn         Conn
	gen          uint64 // invalidates read pumps and loss handling of older streams
	seq          uint64 // monotonic snapshot ordering, never reset
	latest       *models.Snapshot
	manualStop   bool
	reconnectCtx context.Context // run context owned by the live reconnect loop
	runCtx       context.Context
	runCancel    context.CancelFunc
}

func NewSession(
	cfg *models.CoreConfig,
	coordinator *discovery.Coordinator,
	dialer Dialer,
	hub *events.Hub,
	m *metrics.Metrics,
	log logger.Logger,
) *Session {
	if dialer == nil {
		dialer = &WebsocketDialer{HandshakeTimeout: cfg.ProbeTimeout.Duration()}
	}

	return &Session{
		cfg:         cfg,
		coordinator: coordinator,
		dialer:      dialer,
		hub:         hub,
		metrics:     m,
		logger:      log,
		state:       models.StateIdle,
	}
}

// State returns the current connection state.
func (s *Session) State() models.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Latest returns the newest authoritative snapshot, if any has arrived.
func (s *Session) Latest() (*models.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.latest, s.latest != nil
}

// Connect establishes the session: discovery, stream handshake, read pump.
// On failure the session transitions to Disconnected and the automatic
// reconnect policy takes over; the first attempt's error is returned so the
// caller knows the immediate outcome. A manual Connect resets the reconnect
// budget.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()

	if s.conn != nil {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}

	s.manualStop = false

	if s.runCancel != nil {
		s.runCancel()
	}

	// The reconnect loop must outlive the caller's context; only Disconnect
	// cancels it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.runCtx = runCtx
	s.runCancel = cancel
	s.mu.Unlock()

	err := s.connectOnce(ctx)
	if err != nil {
		s.spawnReconnect(runCtx)
	}

	return err
}

// Disconnect closes the active stream, suppresses automatic reconnection and
// returns the session to Idle.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.manualStop = true
	s.gen++

	conn := s.conn
	s.conn = nil

	if s.runCancel != nil {
		s.runCancel()
		s.runCtx = nil
		s.runCancel = nil
	}
	s.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("failed to close stream")
		}
	}

	s.setState(models.StateIdle, "disconnected by user")
}

// connectOnce performs one discovery + handshake attempt and starts the read
// pump on success.
func (s *Session) connectOnce(ctx context.Context) error {
	s.setState(models.StateDiscovering, "")

	result, err := s.coordinator.Discover(ctx)
	if err != nil {
		s.setState(models.StateDisconnected, "discovery failed")
		return err
	}

	conn, err := s.dialer.Dial(ctx, result.Endpoint.StreamURL())
	if err != nil {
		s.logger.Warn().
			Str("endpoint", result.Endpoint.Addr()).
			Err(err).
			Msg("Stream handshake failed")
		s.setState(models.StateDisconnected, "handshake failed")

		return err
	}

	s.mu.Lock()

	if s.manualStop {
		s.mu.Unlock()
		_ = conn.Close()

		return nil
	}

	s.gen++
	gen := s.gen
	s.conn = conn
	s.mu.Unlock()

	s.setState(models.StateConnected, "")

	go s.readPump(conn, gen)

	return nil
}

// readPump delivers snapshots in arrival order. Seq is assigned under the
// session lock and never reset, so consumers can reject frames that were in
// flight before a local event.
func (s *Session) readPump(conn Conn, gen uint64) {
	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			s.handleStreamLoss(gen, err)
			return
		}

		if msg.Error != "" {
			s.logger.Warn().Str("error", msg.Error).Msg("Stream reported an error frame")
			continue
		}

		if msg.Data == nil {
			continue
		}

		snapshot := models.SnapshotFromMessage(msg)

		s.mu.Lock()

		if gen != s.gen {
			// A newer stream owns the session now.
			s.mu.Unlock()
			return
		}

		s.seq++
		snapshot.Seq = s.seq
		s.latest = snapshot
		s.mu.Unlock()

		s.metrics.SnapshotReceived()
		s.hub.Publish(events.TopicSnapshot, snapshot)
	}
}

func (s *Session) handleStreamLoss(gen uint64, cause error) {
	s.mu.Lock()

	if gen != s.gen || s.manualStop {
		s.mu.Unlock()
		return
	}

	s.gen++
	s.conn = nil
	runCtx := s.runCtx
	s.mu.Unlock()

	s.logger.Warn().Err(cause).Msg("Stream lost")
	s.setState(models.StateDisconnected, ErrStreamClosed.Error())

	if runCtx != nil {
		s.spawnReconnect(runCtx)
	}
}

// spawnReconnect starts a reconnect loop for the given run context unless one
// is already serving it. Ownership is keyed on the context rather than a flag:
// a manual Connect replaces the run context, and the loop it spawns must not
// be refused just because a loop for the cancelled context has yet to exit.
func (s *Session) spawnReconnect(ctx context.Context) {
	s.mu.Lock()

	if s.manualStop || s.reconnectCtx == ctx {
		s.mu.Unlock()
		return
	}

	s.reconnectCtx = ctx
	s.mu.Unlock()

	go s.reconnectLoop(ctx)
}

// reconnectLoop retries with a fixed inter-attempt delay. Every Nth attempt
// resets the discovery cache first so a changed backend address is picked up
// without manual intervention. Exhausting the budget leaves the session
// Disconnected but still eligible for a manual Connect.
func (s *Session) reconnectLoop(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		if s.reconnectCtx == ctx {
			s.reconnectCtx = nil
		}
		s.mu.Unlock()
	}()

	interval := s.cfg.ReconnectInterval.Duration()

	for attempt := 1; attempt <= s.cfg.MaxReconnectAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		if s.State() == models.StateConnected {
			return
		}

		s.metrics.ReconnectAttempt()

		if s.cfg.RediscoverEvery > 0 && attempt%s.cfg.RediscoverEvery == 0 {
			s.logger.Info().Int("attempt", attempt).Msg("Resetting discovery cache before reconnect")
			s.coordinator.Reset()
		}

		s.logger.Info().
			Int("attempt", attempt).
			Int("max", s.cfg.MaxReconnectAttempts).
			Msg("Reconnecting")

		if err := s.connectOnce(ctx); err == nil {
			return
		}
	}

	s.logger.Error().
		Int("attempts", s.cfg.MaxReconnectAttempts).
		Msg("Reconnect budget exhausted")
	s.setState(models.StateDisconnected, ErrMaxReconnectsExceeded.Error())
}

func (s *Session) setState(state models.ConnectionState, reason string) {
	s.mu.Lock()

	if s.state == state && reason == "" {
		s.mu.Unlock()
		return
	}

	s.state = state
	s.mu.Unlock()

	s.metrics.ConnectionState(state)
	s.hub.Publish(events.TopicConnectionState, events.ConnectionStateEvent{
		State:  state,
		Reason: reason,
	})
}
