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

// Package simulator is a synthetic chamber controller exposing the identical
// health/stream/command surface as the real backend, for offline development
// and tests. The core components treat it like any other backend; conformance
// is purely the shared HTTP surface.
package simulator

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/carverauto/chamberlink/pkg/discovery"
	"github.com/carverauto/chamberlink/pkg/logger"
	"github.com/carverauto/chamberlink/pkg/models"
)

const (
	defaultVersion      = "v2.3.1"
	defaultTickInterval = time.Second

	setpointFloor   = 1.0
	setpointCeiling = 1.99

	// internal_current drifts toward the setpoint this much per tick.
	pressureDriftPerTick = 0.01
)

// streamConn pairs a client connection with a write mutex. The tick loop and
// HTTP handlers broadcast concurrently, and gorilla/websocket allows at most
// one writer on a connection at a time.
type streamConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *streamConn) write(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// deviceFields maps toggle route segments to their control panel state field.
var deviceFields = map[string]string{
	"ac":       "ac_state",
	"lights":   "lights_state",
	"oxygen":   "o2_state",
	"intercom": "intercom_state",
}

type Config struct {
	Version      string        `json:"version"`
	TickInterval time.Duration `json:"tick_interval"`
}

// Simulator holds mutable chamber state and broadcasts snapshots to every
// connected stream on change and on a periodic tick.
type Simulator struct {
	cfg    Config
	router *mux.Router
	logger logger.Logger

	upgrader websocket.Upgrader

	mu            sync.Mutex
	controlPanel  map[string]interface{}
	pressure      map[string]interface{}
	environment   map[string]interface{}
	conns         map[*streamConn]struct{}
	rejectMessage string
	suppress      bool

	done     chan struct{}
	stopOnce sync.Once
}

func New(cfg Config, log logger.Logger) *Simulator {
	if cfg.Version == "" {
		cfg.Version = defaultVersion
	}

	if cfg.TickInterval == 0 {
		cfg.TickInterval = defaultTickInterval
	}

	s := &Simulator{
		cfg:    cfg,
		logger: log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		controlPanel: map[string]interface{}{
			"ac_state":       false,
			"lights_state":   false,
			"o2_state":       false,
			"intercom_state": false,
		},
		pressure: map[string]interface{}{
			"internal_setpoint": 1.3,
			"internal_current":  1.3,
		},
		environment: map[string]interface{}{
			"temperature_c": 22.5,
			"humidity_pct":  40.0,
		},
		conns: make(map[*streamConn]struct{}),
		done:  make(chan struct{}),
	}

	s.router = s.routes()

	go s.tickLoop()

	return s
}

func (s *Simulator) routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/system/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/ws/system-status", s.handleStream).Methods(http.MethodGet)
	r.HandleFunc("/api/control/{device}/toggle", s.handleToggle).Methods(http.MethodPost)
	r.HandleFunc("/api/pressure/setpoint", s.handleSetpoint).Methods(http.MethodPost)

	return r
}

func (s *Simulator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops the tick loop and drops every connected stream.
func (s *Simulator) Close() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
	s.DropConnections()
}

// RejectNext makes the next command fail with the given message, simulating a
// backend refusal.
func (s *Simulator) RejectNext(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rejectMessage = message
}

// SuppressSnapshots stops snapshot broadcasting without closing streams, so a
// command can be accepted while confirmation never arrives.
func (s *Simulator) SuppressSnapshots(suppress bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.suppress = suppress
}

// DropConnections closes every live stream, simulating a network drop.
func (s *Simulator) DropConnections() {
	s.mu.Lock()
	conns := make([]*streamConn, 0, len(s.conns))

	for client := range s.conns {
		conns = append(conns, client)
	}

	s.conns = make(map[*streamConn]struct{})
	s.mu.Unlock()

	for _, client := range conns {
		_ = client.conn.Close()
	}
}

// ControlState reports the current value of a control panel field.
func (s *Simulator) ControlState(field string) interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.controlPanel[field]
}

// Setpoint reports the current pressure setpoint.
func (s *Simulator) Setpoint() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, _ := s.pressure["internal_setpoint"].(float64)

	return v
}

func (s *Simulator) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, models.HealthResponse{
		Status:  "ok",
		Service: discovery.ExpectedService,
		Version: s.cfg.Version,
	})
}

func (s *Simulator) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	data := s.stateLocked()
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, models.CommandResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
	})
}

func (s *Simulator) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("stream upgrade failed")
		return
	}

	client := &streamConn{conn: conn}

	s.mu.Lock()
	s.conns[client] = struct{}{}
	initial := s.frameLocked()
	s.mu.Unlock()

	if err := client.write(initial); err != nil {
		s.forget(client)
		return
	}

	// Drain client frames so close handshakes complete; the stream carries no
	// application data from the client.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.forget(client)
				return
			}
		}
	}()
}

func (s *Simulator) handleToggle(w http.ResponseWriter, r *http.Request) {
	device := mux.Vars(r)["device"]

	field, ok := deviceFields[device]
	if !ok {
		writeJSON(w, http.StatusNotFound, models.CommandResponse{
			Success:   false,
			Message:   fmt.Sprintf("unknown device %q", device),
			Timestamp: time.Now(),
		})

		return
	}

	s.mu.Lock()

	if msg := s.takeRejectionLocked(); msg != "" {
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, models.CommandResponse{
			Success:   false,
			Message:   msg,
			Timestamp: time.Now(),
		})

		return
	}

	state, _ := s.controlPanel[field].(bool)
	state = !state
	s.controlPanel[field] = state
	s.mu.Unlock()

	s.broadcast()

	writeJSON(w, http.StatusOK, models.CommandResponse{
		Success:   true,
		Data:      map[string]interface{}{field: state},
		Timestamp: time.Now(),
	})
}

func (s *Simulator) handleSetpoint(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Setpoint float64 `json:"setpoint"`
	}

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, models.CommandResponse{
			Success:   false,
			Message:   "invalid request body",
			Timestamp: time.Now(),
		})

		return
	}

	s.mu.Lock()

	if msg := s.takeRejectionLocked(); msg != "" {
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, models.CommandResponse{
			Success:   false,
			Message:   msg,
			Timestamp: time.Now(),
		})

		return
	}

	// The controller clamps out-of-range setpoints instead of refusing them.
	setpoint := math.Min(math.Max(body.Setpoint, setpointFloor), setpointCeiling)
	s.pressure["internal_setpoint"] = setpoint
	s.mu.Unlock()

	s.broadcast()

	writeJSON(w, http.StatusOK, models.CommandResponse{
		Success:   true,
		Data:      map[string]interface{}{"setpoint": setpoint},
		Timestamp: time.Now(),
	})
}

func (s *Simulator) takeRejectionLocked() string {
	msg := s.rejectMessage
	s.rejectMessage = ""

	return msg
}

// stateLocked deep-copies the mutable state so published snapshots stay
// immutable. Called with s.mu held.
func (s *Simulator) stateLocked() map[string]interface{} {
	return map[string]interface{}{
		"control_panel": copyMap(s.controlPanel),
		"pressure":      copyMap(s.pressure),
		"environment":   copyMap(s.environment),
	}
}

func (s *Simulator) frameLocked() []byte {
	frame, err := json.Marshal(models.StreamMessage{
		Type:      "system-status",
		Data:      s.stateLocked(),
		Timestamp: time.Now(),
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to encode snapshot frame")
		return nil
	}

	return frame
}

func (s *Simulator) broadcast() {
	s.mu.Lock()

	if s.suppress || len(s.conns) == 0 {
		s.mu.Unlock()
		return
	}

	frame := s.frameLocked()
	conns := make([]*streamConn, 0, len(s.conns))

	for client := range s.conns {
		conns = append(conns, client)
	}
	s.mu.Unlock()

	if frame == nil {
		return
	}

	for _, client := range conns {
		if err := client.write(frame); err != nil {
			s.forget(client)
		}
	}
}

func (s *Simulator) forget(client *streamConn) {
	s.mu.Lock()
	delete(s.conns, client)
	s.mu.Unlock()

	_ = client.conn.Close()
}

func (s *Simulator) tickLoop() {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.drift()
			s.broadcast()
		}
	}
}

// drift moves the measured pressure toward the setpoint a little each tick.
func (s *Simulator) drift() {
	s.mu.Lock()
	defer s.mu.Unlock()

	setpoint, _ := s.pressure["internal_setpoint"].(float64)
	current, _ := s.pressure["internal_current"].(float64)

	delta := setpoint - current
	if math.Abs(delta) <= pressureDriftPerTick {
		s.pressure["internal_current"] = setpoint
		return
	}

	s.pressure["internal_current"] = current + math.Copysign(pressureDriftPerTick, delta)
}

func copyMap(src map[string]interface{}) map[string]interface{} {
	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		dst[k] = v
	}

	return dst
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(payload)
}
