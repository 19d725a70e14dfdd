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

package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/carverauto/chamberlink/pkg/discovery"
	"github.com/carverauto/chamberlink/pkg/events"
	"github.com/carverauto/chamberlink/pkg/logger"
	"github.com/carverauto/chamberlink/pkg/models"
)

var errDialRefused = errors.New("dial refused")

// fakeConn feeds scripted frames to the read pump.
type fakeConn struct {
	frames    chan *models.StreamMessage
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan *models.StreamMessage, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (*models.StreamMessage, error) {
	select {
	case msg, ok := <-c.frames:
		if !ok {
			return nil, io.EOF
		}

		return msg, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// drop simulates the peer going away.
func (c *fakeConn) drop() {
	close(c.frames)
}

// fakeDialer hands out fakeConns, optionally failing the first n dials.
type fakeDialer struct {
	mu       sync.Mutex
	conns    []*fakeConn
	failures int32 // remaining dials to refuse; negative means refuse forever
}

func (d *fakeDialer) Dial(_ context.Context, _ string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.failures != 0 {
		if d.failures > 0 {
			d.failures--
		}

		d.conns = append(d.conns, nil)

		return nil, errDialRefused
	}

	conn := newFakeConn()
	d.conns = append(d.conns, conn)

	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.conns)
}

func (d *fakeDialer) lastConn() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := len(d.conns) - 1; i >= 0; i-- {
		if d.conns[i] != nil {
			return d.conns[i]
		}
	}

	return nil
}

func sessionConfig(t *testing.T) *models.CoreConfig {
	t.Helper()

	cfg := &models.CoreConfig{
		OverrideAddress:      "10.0.0.5:9000",
		BackendPort:          8080,
		Subnets:              []string{"192.168.4"},
		ReconnectInterval:    models.Duration(10 * time.Millisecond),
		MaxReconnectAttempts: 3,
		RediscoverEvery:      2,
	}
	require.NoError(t, cfg.Validate())

	return cfg
}

// stateLog records connection state transitions published on the hub.
type stateLog struct {
	mu     sync.Mutex
	states []events.ConnectionStateEvent
}

func watchStates(hub *events.Hub) *stateLog {
	log := &stateLog{}

	hub.Subscribe(events.TopicConnectionState, func(payload interface{}) {
		log.mu.Lock()
		defer log.mu.Unlock()

		log.states = append(log.states, payload.(events.ConnectionStateEvent))
	})

	return log
}

func (l *stateLog) sequence() []models.ConnectionState {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]models.ConnectionState, len(l.states))
	for i, s := range l.states {
		out[i] = s.State
	}

	return out
}

func (l *stateLog) lastReason() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.states) == 0 {
		return ""
	}

	return l.states[len(l.states)-1].Reason
}

// newTestSession wires a session against an always-verifying mock backend and
// returns a getter for how many discovery verifications ran.
func newTestSession(t *testing.T, cfg *models.CoreConfig, dialer Dialer) (*Session, *events.Hub, func() int32) {
	t.Helper()

	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	var verifications int32

	verifier := discovery.NewMockVerifier(ctrl)
	verifier.EXPECT().
		Verify(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, ep models.Endpoint) (*models.DiscoveryResult, error) {
			atomic.AddInt32(&verifications, 1)

			return &models.DiscoveryResult{
				Endpoint:       ep,
				VerifiedAt:     time.Now(),
				ServiceName:    discovery.ExpectedService,
				ServiceVersion: "v2.3.1",
			}, nil
		}).
		AnyTimes()

	log := logger.NewTestLogger()
	hub := events.NewHub(log)
	coordinator := discovery.NewCoordinator(cfg, discovery.NewResolver(cfg), verifier, hub, nil, log)

	session := NewSession(cfg, coordinator, dialer, hub, nil, log)
	t.Cleanup(session.Disconnect)

	return session, hub, func() int32 { return atomic.LoadInt32(&verifications) }
}

func TestSessionConnectAndStream(t *testing.T) {
	dialer := &fakeDialer{}
	session, hub, _ := newTestSession(t, sessionConfig(t), dialer)
	states := watchStates(hub)

	var (
		mu   sync.Mutex
		seqs []uint64
	)

	hub.Subscribe(events.TopicSnapshot, func(payload interface{}) {
		mu.Lock()
		defer mu.Unlock()

		seqs = append(seqs, payload.(*models.Snapshot).Seq)
	})

	require.NoError(t, session.Connect(context.Background()))
	assert.Equal(t, models.StateConnected, session.State())
	assert.Equal(t,
		[]models.ConnectionState{models.StateDiscovering, models.StateConnected},
		states.sequence())

	conn := dialer.lastConn()
	require.NotNil(t, conn)

	// Error frames and empty frames are skipped without consuming a sequence
	// number; data frames arrive in order.
	conn.frames <- &models.StreamMessage{Error: "sensor fault"}
	conn.frames <- &models.StreamMessage{Type: "system_status"}
	conn.frames <- &models.StreamMessage{
		Type: "system_status",
		Data: map[string]interface{}{"control_panel": map[string]interface{}{"ac_state": false}},
	}
	conn.frames <- &models.StreamMessage{
		Type: "system_status",
		Data: map[string]interface{}{"control_panel": map[string]interface{}{"ac_state": true}},
	}

	require.Eventually(t, func() bool {
		snap, ok := session.Latest()
		return ok && snap.Seq == 2
	}, time.Second, 2*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []uint64{1, 2}, seqs)
	mu.Unlock()

	value, ok := session.Latest()
	require.True(t, ok)

	state, ok := value.Value("control_panel.ac_state")
	require.True(t, ok)
	assert.Equal(t, true, state)
}

func TestSessionConnectTwice(t *testing.T) {
	dialer := &fakeDialer{}
	session, _, _ := newTestSession(t, sessionConfig(t), dialer)

	require.NoError(t, session.Connect(context.Background()))
	assert.ErrorIs(t, session.Connect(context.Background()), ErrAlreadyConnected)
	assert.Equal(t, 1, dialer.dialCount())
}

func TestSessionReconnectsAfterStreamLoss(t *testing.T) {
	dialer := &fakeDialer{}
	session, hub, _ := newTestSession(t, sessionConfig(t), dialer)
	states := watchStates(hub)

	require.NoError(t, session.Connect(context.Background()))

	first := dialer.lastConn()
	require.NotNil(t, first)

	first.frames <- &models.StreamMessage{
		Type: "system_status",
		Data: map[string]interface{}{"tick": 1.0},
	}

	require.Eventually(t, func() bool {
		_, ok := session.Latest()
		return ok
	}, time.Second, 2*time.Millisecond)

	first.drop()

	require.Eventually(t, func() bool {
		return session.State() == models.StateConnected && dialer.dialCount() == 2
	}, time.Second, 2*time.Millisecond)

	assert.Contains(t, states.sequence(), models.StateDisconnected)

	// Sequence numbers survive the reconnect; the new stream's frames extend
	// the old ordering instead of restarting it.
	second := dialer.lastConn()
	require.NotNil(t, second)

	second.frames <- &models.StreamMessage{
		Type: "system_status",
		Data: map[string]interface{}{"tick": 2.0},
	}

	require.Eventually(t, func() bool {
		snap, ok := session.Latest()
		return ok && snap.Seq == 2
	}, time.Second, 2*time.Millisecond)
}

func TestSessionDisconnectSuppressesReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	session, hub, _ := newTestSession(t, sessionConfig(t), dialer)
	states := watchStates(hub)

	require.NoError(t, session.Connect(context.Background()))
	session.Disconnect()

	assert.Equal(t, models.StateIdle, session.State())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, dialer.dialCount())
	assert.Equal(t, models.StateIdle, session.State())
	assert.Equal(t, "disconnected by user", states.lastReason())
}

func TestSessionConnectDuringReconnectKeepsRetrying(t *testing.T) {
	cfg := sessionConfig(t)
	cfg.MaxReconnectAttempts = 50

	dialer := &fakeDialer{failures: -1}
	session, _, _ := newTestSession(t, cfg, dialer)

	// The first attempt fails and a reconnect loop starts for its run context.
	require.ErrorIs(t, session.Connect(context.Background()), errDialRefused)

	// A manual Connect replaces the run context while the old loop may still
	// be winding down; its failure must still leave a loop retrying for the
	// new context.
	require.ErrorIs(t, session.Connect(context.Background()), errDialRefused)

	dialer.mu.Lock()
	dialer.failures = 0
	dialer.mu.Unlock()

	require.Eventually(t, func() bool {
		return session.State() == models.StateConnected
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSessionReconnectBudgetExhausted(t *testing.T) {
	cfg := sessionConfig(t)
	cfg.MaxReconnectAttempts = 2

	dialer := &fakeDialer{failures: -1}
	session, hub, _ := newTestSession(t, cfg, dialer)
	states := watchStates(hub)

	require.ErrorIs(t, session.Connect(context.Background()), errDialRefused)

	require.Eventually(t, func() bool {
		return states.lastReason() == ErrMaxReconnectsExceeded.Error()
	}, time.Second, 5*time.Millisecond)

	// Initial attempt plus the whole reconnect budget.
	assert.Equal(t, 3, dialer.dialCount())
	assert.Equal(t, models.StateDisconnected, session.State())

	// A manual Connect is still allowed and resets the budget.
	dialer.mu.Lock()
	dialer.failures = 0
	dialer.mu.Unlock()

	require.NoError(t, session.Connect(context.Background()))
	assert.Equal(t, models.StateConnected, session.State())
}

func TestSessionPeriodicRediscovery(t *testing.T) {
	cfg := sessionConfig(t)
	cfg.MaxReconnectAttempts = 4
	cfg.RediscoverEvery = 2

	dialer := &fakeDialer{failures: -1}
	session, hub, verifications := newTestSession(t, cfg, dialer)
	states := watchStates(hub)

	require.ErrorIs(t, session.Connect(context.Background()), errDialRefused)

	require.Eventually(t, func() bool {
		return states.lastReason() == ErrMaxReconnectsExceeded.Error()
	}, 2*time.Second, 5*time.Millisecond)

	// Discovery runs for the initial attempt, then again on attempts 2 and 4
	// when the cache is reset; attempts 1 and 3 reuse the cached result.
	assert.Equal(t, int32(3), verifications())
}
