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

// Package client wires the discovery, session and command components into one
// explicitly owned object with a create/reset/teardown lifecycle. The
// discovery cache and connection state are process-wide in the sense that one
// Client owns one of each; nothing is ambient.
package client

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/carverauto/chamberlink/pkg/command"
	"github.com/carverauto/chamberlink/pkg/discovery"
	"github.com/carverauto/chamberlink/pkg/events"
	"github.com/carverauto/chamberlink/pkg/logger"
	"github.com/carverauto/chamberlink/pkg/metrics"
	"github.com/carverauto/chamberlink/pkg/models"
	"github.com/carverauto/chamberlink/pkg/session"
)

// ErrNotConnected is returned for command operations before any backend has
// been discovered.
var ErrNotConnected = errors.New("no backend discovered yet")

// Options carries optional dependency overrides, mainly for tests.
type Options struct {
	Logger     logger.Logger
	Verifier   discovery.Verifier
	Dialer     session.Dialer
	Registerer prometheus.Registerer
}

// Client is the top-level handle over the discovery and synchronization
// layer.
type Client struct {
	cfg         *models.CoreConfig
	logger      logger.Logger
	hub         *events.Hub
	metrics     *metrics.Metrics
	coordinator *discovery.Coordinator
	session     *session.Session
	commands    *command.Synchronizer
}

// New builds a client from configuration. The config is validated and
// defaulted in place.
func New(cfg *models.CoreConfig, opts Options) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := opts.Logger

	if log == nil {
		var err error

		log, err = logger.New(cfg.Logging)
		if err != nil {
			return nil, err
		}
	}

	var m *metrics.Metrics
	if opts.Registerer != nil {
		m = metrics.New(opts.Registerer)
	}

	hub := events.NewHub(log)

	verifier := opts.Verifier
	if verifier == nil {
		verifier = discovery.NewHTTPVerifier(cfg.ProbeTimeout.Duration(), true, log)
	}

	resolver := discovery.NewResolver(cfg)
	coordinator := discovery.NewCoordinator(cfg, resolver, verifier, hub, m, log)
	sess := session.NewSession(cfg, coordinator, opts.Dialer, hub, m, log)
	commands := command.NewSynchronizer(cfg, sess, hub, m, log)

	return &Client{
		cfg:         cfg,
		logger:      log,
		hub:         hub,
		metrics:     m,
		coordinator: coordinator,
		session:     sess,
		commands:    commands,
	}, nil
}

// Hub exposes the event hub for subscribing to connection, snapshot and
// command lifecycle events.
func (c *Client) Hub() *events.Hub {
	return c.hub
}

// State returns the current connection state.
func (c *Client) State() models.ConnectionState {
	return c.session.State()
}

// Snapshot returns the latest authoritative snapshot, if any.
func (c *Client) Snapshot() (*models.Snapshot, bool) {
	return c.session.Latest()
}

// Connect starts discovery and the streaming session.
func (c *Client) Connect(ctx context.Context) error {
	return c.session.Connect(ctx)
}

// Disconnect closes the session and suppresses automatic reconnection.
func (c *Client) Disconnect() {
	c.session.Disconnect()
}

// Reset forgets the discovered backend entirely and reconnects from scratch.
func (c *Client) Reset(ctx context.Context) error {
	c.session.Disconnect()
	c.coordinator.Forget()

	return c.session.Connect(ctx)
}

// Close tears the client down.
func (c *Client) Close() {
	c.session.Disconnect()
}

// Value returns the consumer-visible value for a control key: optimistic
// when a command is in flight, snapshot-derived otherwise.
func (c *Client) Value(key string) (interface{}, bool) {
	return c.commands.Value(key)
}

// Pending lists controls with commands in flight.
func (c *Client) Pending() []string {
	return c.commands.Pending()
}

// Execute issues a command for a control key with an explicit proposed value.
func (c *Client) Execute(ctx context.Context, key string, proposed interface{}) error {
	endpoint, err := c.endpoint()
	if err != nil {
		return err
	}

	return c.commands.Execute(ctx, endpoint, key, proposed)
}

// Toggle flips a boolean control.
func (c *Client) Toggle(ctx context.Context, key string) error {
	endpoint, err := c.endpoint()
	if err != nil {
		return err
	}

	return c.commands.Toggle(ctx, endpoint, key)
}

// StepPressure moves the pressure setpoint one boundary-snapped step.
func (c *Client) StepPressure(ctx context.Context, up bool) error {
	endpoint, err := c.endpoint()
	if err != nil {
		return err
	}

	return c.commands.StepPressure(ctx, endpoint, up)
}

func (c *Client) endpoint() (models.Endpoint, error) {
	cached := c.coordinator.Cached()
	if cached == nil {
		return models.Endpoint{}, ErrNotConnected
	}

	return cached.Endpoint, nil
}
