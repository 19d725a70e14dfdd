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

// Package metrics exposes Prometheus instrumentation for the discovery and
// synchronization layer. A nil *Metrics is valid and records nothing, so
// instrumentation stays optional for library consumers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/carverauto/chamberlink/pkg/models"
)

// Command outcome label values.
const (
	OutcomeSuccess    = "success"
	OutcomeRejected   = "rejected"
	OutcomeTimeout    = "confirmation_timeout"
	OutcomeSuperseded = "superseded"
)

var stateValues = map[models.ConnectionState]float64{
	models.StateIdle:         0,
	models.StateDiscovering:  1,
	models.StateConnected:    2,
	models.StateDisconnected: 3,
}

// Metrics holds the collectors for one client instance.
type Metrics struct {
	discoveryAttempts prometheus.Counter
	discoveryFailures prometheus.Counter
	candidatesProbed  prometheus.Counter
	reconnects        prometheus.Counter
	snapshotsReceived prometheus.Counter
	commandsTotal     *prometheus.CounterVec
	connectionState   prometheus.Gauge
}

// New creates and registers the collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		discoveryAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chamberlink_discovery_attempts_total",
			Help: "Discovery cycles started",
		}),
		discoveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chamberlink_discovery_failures_total",
			Help: "Discovery cycles that exhausted every candidate",
		}),
		candidatesProbed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chamberlink_discovery_candidates_probed_total",
			Help: "Candidate endpoints probed across all discovery cycles",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chamberlink_session_reconnect_attempts_total",
			Help: "Automatic reconnect attempts",
		}),
		snapshotsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chamberlink_snapshots_received_total",
			Help: "Authoritative snapshots received on the stream",
		}),
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chamberlink_commands_total",
			Help: "Commands executed, by terminal outcome",
		}, []string{"outcome"}),
		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chamberlink_connection_state",
			Help: "Connection state (0=idle 1=discovering 2=connected 3=disconnected)",
		}),
	}

	reg.MustRegister(
		m.discoveryAttempts,
		m.discoveryFailures,
		m.candidatesProbed,
		m.reconnects,
		m.snapshotsReceived,
		m.commandsTotal,
		m.connectionState,
	)

	return m
}

func (m *Metrics) DiscoveryStarted() {
	if m == nil {
		return
	}

	m.discoveryAttempts.Inc()
}

func (m *Metrics) DiscoveryFailed() {
	if m == nil {
		return
	}

	m.discoveryFailures.Inc()
}

func (m *Metrics) CandidatesProbed(n int) {
	if m == nil {
		return
	}

	m.candidatesProbed.Add(float64(n))
}

func (m *Metrics) ReconnectAttempt() {
	if m == nil {
		return
	}

	m.reconnects.Inc()
}

func (m *Metrics) SnapshotReceived() {
	if m == nil {
		return
	}

	m.snapshotsReceived.Inc()
}

func (m *Metrics) CommandFinished(outcome string) {
	if m == nil {
		return
	}

	m.commandsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ConnectionState(state models.ConnectionState) {
	if m == nil {
		return
	}

	m.connectionState.Set(stateValues[state])
}
