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

package command

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/chamberlink/pkg/events"
	"github.com/carverauto/chamberlink/pkg/logger"
	"github.com/carverauto/chamberlink/pkg/models"
)

// fakeSource is a settable SnapshotSource standing in for the session.
type fakeSource struct {
	mu   sync.Mutex
	snap *models.Snapshot
}

func (f *fakeSource) Latest() (*models.Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.snap == nil {
		return nil, false
	}

	return f.snap, true
}

func (f *fakeSource) set(seq uint64, data map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.snap = &models.Snapshot{Seq: seq, Timestamp: time.Now(), Type: "system_status", Data: data}
}

func controlPanel(acState bool) map[string]interface{} {
	return map[string]interface{}{
		"control_panel": map[string]interface{}{"ac_state": acState},
	}
}

func syncConfig(t *testing.T) *models.CoreConfig {
	t.Helper()

	cfg := &models.CoreConfig{
		BackendPort:     8080,
		Subnets:         []string{"192.168.4"},
		CommandTimeout:  models.Duration(time.Second),
		ConfirmTimeout:  models.Duration(500 * time.Millisecond),
		ConfirmInterval: models.Duration(5 * time.Millisecond),
	}
	require.NoError(t, cfg.Validate())

	return cfg
}

func testEndpoint(t *testing.T, server *httptest.Server) models.Endpoint {
	t.Helper()

	parsed, err := url.Parse(server.URL)
	require.NoError(t, err)

	host, portStr, err := net.SplitHostPort(parsed.Host)
	require.NoError(t, err)

	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return models.Endpoint{Host: host, Port: port}
}

// eventLog records command lifecycle events for assertion.
type eventLog struct {
	mu      sync.Mutex
	pending []events.CommandEvent
	success []events.CommandEvent
	failed  []events.CommandEvent
}

func watchCommands(hub *events.Hub) *eventLog {
	log := &eventLog{}

	hub.Subscribe(events.TopicCommandPending, func(payload interface{}) {
		log.mu.Lock()
		defer log.mu.Unlock()
		log.pending = append(log.pending, payload.(events.CommandEvent))
	})
	hub.Subscribe(events.TopicCommandSuccess, func(payload interface{}) {
		log.mu.Lock()
		defer log.mu.Unlock()
		log.success = append(log.success, payload.(events.CommandEvent))
	})
	hub.Subscribe(events.TopicCommandError, func(payload interface{}) {
		log.mu.Lock()
		defer log.mu.Unlock()
		log.failed = append(log.failed, payload.(events.CommandEvent))
	})

	return log
}

func newTestSynchronizer(t *testing.T, source SnapshotSource) (*Synchronizer, *events.Hub) {
	t.Helper()

	log := logger.NewTestLogger()
	hub := events.NewHub(log)

	return NewSynchronizer(syncConfig(t), source, hub, nil, log), hub
}

func TestToggleConfirmsAgainstStream(t *testing.T) {
	source := &fakeSource{}
	source.set(1, controlPanel(false))

	var gotPath string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path

		// Controller applies the toggle; the stream reports it shortly after.
		time.AfterFunc(20*time.Millisecond, func() {
			source.set(2, controlPanel(true))
		})

		_ = json.NewEncoder(w).Encode(models.CommandResponse{
			Success: true,
			Data:    map[string]interface{}{"ac_state": true},
		})
	}))
	defer server.Close()

	syncer, hub := newTestSynchronizer(t, source)
	log := watchCommands(hub)

	err := syncer.Toggle(context.Background(), testEndpoint(t, server), models.ControlAC)
	require.NoError(t, err)

	assert.Equal(t, "/api/control/ac/toggle", gotPath)
	assert.Empty(t, syncer.Pending())

	// Reads now come from the authoritative snapshot again.
	value, ok := syncer.Value(models.ControlAC)
	require.True(t, ok)
	assert.Equal(t, true, value)

	log.mu.Lock()
	defer log.mu.Unlock()
	require.Len(t, log.pending, 1)
	assert.Equal(t, true, log.pending[0].Value)
	require.Len(t, log.success, 1)
	assert.Equal(t, log.pending[0].CommandID, log.success[0].CommandID)
	assert.Empty(t, log.failed)
}

func TestExecuteRejectionRollsBack(t *testing.T) {
	source := &fakeSource{}
	source.set(1, controlPanel(false))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(models.CommandResponse{
			Success: false,
			Message: "door interlock open",
		})
	}))
	defer server.Close()

	syncer, hub := newTestSynchronizer(t, source)
	log := watchCommands(hub)

	err := syncer.Execute(context.Background(), testEndpoint(t, server), models.ControlAC, true)
	require.ErrorIs(t, err, ErrCommandRejected)
	assert.ErrorContains(t, err, "door interlock open")

	// Rolled back: reads show the last authoritative value.
	value, ok := syncer.Value(models.ControlAC)
	require.True(t, ok)
	assert.Equal(t, false, value)
	assert.Empty(t, syncer.Pending())

	log.mu.Lock()
	defer log.mu.Unlock()
	require.Len(t, log.failed, 1)
	assert.Equal(t, "door interlock open", log.failed[0].Message)
	assert.Empty(t, log.success)
}

func TestExecuteTransportFailureRollsBack(t *testing.T) {
	source := &fakeSource{}
	source.set(1, controlPanel(false))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	syncer, _ := newTestSynchronizer(t, source)

	err := syncer.Execute(context.Background(), testEndpoint(t, server), models.ControlAC, true)
	require.ErrorIs(t, err, ErrCommandRejected)
	assert.Empty(t, syncer.Pending())
}

func TestExecuteConfirmationTimeout(t *testing.T) {
	source := &fakeSource{}
	source.set(1, controlPanel(false))

	// Accepted by the controller, but the stream never reflects it.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(models.CommandResponse{Success: true})
	}))
	defer server.Close()

	syncer, hub := newTestSynchronizer(t, source)
	log := watchCommands(hub)

	err := syncer.Execute(context.Background(), testEndpoint(t, server), models.ControlAC, true)
	require.ErrorIs(t, err, ErrConfirmationTimeout)

	// The command is no longer in flight, but the optimistic value stays on
	// display until a newer snapshot arrives.
	assert.Empty(t, syncer.Pending())

	value, ok := syncer.Value(models.ControlAC)
	require.True(t, ok)
	assert.Equal(t, true, value)

	// A snapshot newer than the command displaces the expired value, even when
	// it disagrees with it.
	source.set(2, controlPanel(false))

	value, ok = syncer.Value(models.ControlAC)
	require.True(t, ok)
	assert.Equal(t, false, value)

	log.mu.Lock()
	defer log.mu.Unlock()
	require.Len(t, log.failed, 1)
	assert.Equal(t, ErrConfirmationTimeout.Error(), log.failed[0].Message)
}

func TestExpiredEntryHeldUntilNewerSnapshot(t *testing.T) {
	source := &fakeSource{}
	source.set(3, controlPanel(false))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(models.CommandResponse{Success: true})
	}))
	defer server.Close()

	syncer, _ := newTestSynchronizer(t, source)

	err := syncer.Execute(context.Background(), testEndpoint(t, server), models.ControlAC, true)
	require.ErrorIs(t, err, ErrConfirmationTimeout)

	// Re-publishing the pre-command snapshot must not displace the optimistic
	// value; only a strictly newer frame may.
	source.set(3, controlPanel(false))

	value, ok := syncer.Value(models.ControlAC)
	require.True(t, ok)
	assert.Equal(t, true, value)

	source.set(4, controlPanel(false))

	value, ok = syncer.Value(models.ControlAC)
	require.True(t, ok)
	assert.Equal(t, false, value)

	// Displacement cleared the entry, so reads track the snapshot from here.
	source.set(5, controlPanel(true))

	value, ok = syncer.Value(models.ControlAC)
	require.True(t, ok)
	assert.Equal(t, true, value)
}

func TestExecuteStaleSnapshotCannotConfirm(t *testing.T) {
	source := &fakeSource{}

	// The pre-command snapshot already shows the target value; only a frame
	// received after issuance may confirm.
	source.set(5, controlPanel(true))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(models.CommandResponse{Success: true})
	}))
	defer server.Close()

	syncer, _ := newTestSynchronizer(t, source)

	err := syncer.Execute(context.Background(), testEndpoint(t, server), models.ControlAC, true)
	assert.ErrorIs(t, err, ErrConfirmationTimeout)
}

func TestExecuteSupersededByNewerCommand(t *testing.T) {
	source := &fakeSource{}
	source.set(1, controlPanel(false))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(models.CommandResponse{Success: true})
	}))
	defer server.Close()

	syncer, _ := newTestSynchronizer(t, source)
	endpoint := testEndpoint(t, server)

	firstDone := make(chan error, 1)

	go func() {
		firstDone <- syncer.Execute(context.Background(), endpoint, models.ControlAC, true)
	}()

	// Let the first command reach reconciliation before replacing it.
	require.Eventually(t, func() bool {
		value, ok := syncer.Value(models.ControlAC)
		return ok && value == true
	}, time.Second, 2*time.Millisecond)

	time.AfterFunc(20*time.Millisecond, func() {
		source.set(2, controlPanel(false))
	})

	err := syncer.Execute(context.Background(), endpoint, models.ControlAC, false)
	require.NoError(t, err)

	require.ErrorIs(t, <-firstDone, ErrSuperseded)
	assert.Empty(t, syncer.Pending())
}

func TestExecuteAdoptsServerClampedValue(t *testing.T) {
	source := &fakeSource{}
	source.set(1, map[string]interface{}{
		"pressure": map[string]interface{}{"internal_setpoint": 1.90},
	})

	var gotBody map[string]float64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		// Controller clamps the proposal to its ceiling and reports back.
		time.AfterFunc(20*time.Millisecond, func() {
			source.set(2, map[string]interface{}{
				"pressure": map[string]interface{}{"internal_setpoint": 1.99},
			})
		})

		_ = json.NewEncoder(w).Encode(models.CommandResponse{
			Success: true,
			Data:    map[string]interface{}{"setpoint": 1.99},
		})
	}))
	defer server.Close()

	syncer, _ := newTestSynchronizer(t, source)

	err := syncer.Execute(context.Background(), testEndpoint(t, server), models.ControlPressureSetpoint, 2.05)
	require.NoError(t, err)

	assert.InDelta(t, 2.05, gotBody["setpoint"], 1e-9)

	value, ok := syncer.Value(models.ControlPressureSetpoint)
	require.True(t, ok)
	assert.InDelta(t, 1.99, value.(float64), 1e-9)
}

func TestExecuteUnknownControl(t *testing.T) {
	syncer, _ := newTestSynchronizer(t, &fakeSource{})

	err := syncer.Execute(context.Background(), models.Endpoint{Host: "127.0.0.1", Port: 1}, "vent", true)
	assert.ErrorIs(t, err, ErrUnknownControl)
	assert.Empty(t, syncer.Pending())
}

func TestStepPressureUsesCurrentSetpoint(t *testing.T) {
	source := &fakeSource{}
	source.set(1, map[string]interface{}{
		"pressure": map[string]interface{}{"internal_setpoint": 1.50},
	})

	var gotBody map[string]float64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		time.AfterFunc(20*time.Millisecond, func() {
			source.set(2, map[string]interface{}{
				"pressure": map[string]interface{}{"internal_setpoint": 1.60},
			})
		})

		_ = json.NewEncoder(w).Encode(models.CommandResponse{
			Success: true,
			Data:    map[string]interface{}{"setpoint": 1.60},
		})
	}))
	defer server.Close()

	syncer, _ := newTestSynchronizer(t, source)

	err := syncer.StepPressure(context.Background(), testEndpoint(t, server), true)
	require.NoError(t, err)
	assert.InDelta(t, 1.60, gotBody["setpoint"], 1e-9)
}

func TestStepPressureWithoutSnapshot(t *testing.T) {
	syncer, _ := newTestSynchronizer(t, &fakeSource{})

	err := syncer.StepPressure(context.Background(), models.Endpoint{Host: "127.0.0.1", Port: 1}, true)
	assert.ErrorIs(t, err, ErrValueUnknown)
}

func TestValuePrefersOptimisticEntry(t *testing.T) {
	source := &fakeSource{}
	source.set(1, controlPanel(false))

	release := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		_ = json.NewEncoder(w).Encode(models.CommandResponse{Success: true})
	}))
	defer server.Close()

	syncer, _ := newTestSynchronizer(t, source)

	done := make(chan error, 1)

	go func() {
		done <- syncer.Execute(context.Background(), testEndpoint(t, server), models.ControlAC, true)
	}()

	// While the command is in flight the optimistic value is what readers see.
	require.Eventually(t, func() bool {
		value, ok := syncer.Value(models.ControlAC)
		return ok && value == true
	}, time.Second, 2*time.Millisecond)

	assert.Equal(t, []string{models.ControlAC}, syncer.Pending())

	source.set(2, controlPanel(true))
	close(release)

	require.NoError(t, <-done)
}
