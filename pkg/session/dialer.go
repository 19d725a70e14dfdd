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
	"time"

	"github.com/gorilla/websocket"

	"github.com/carverauto/chamberlink/pkg/models"
)

// Conn is one established stream. ReadMessage blocks until a frame arrives,
// the peer closes, or Close is called from another goroutine.
type Conn interface {
	ReadMessage() (*models.StreamMessage, error)
	Close() error
}

// Dialer opens the status stream to an endpoint. Tests substitute their own.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer is the production Dialer backed by gorilla/websocket.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
}

var _ Dialer = (*WebsocketDialer)(nil)

func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: d.HandshakeTimeout}

	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		return nil, err
	}

	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadMessage() (*models.StreamMessage, error) {
	var msg models.StreamMessage
	if err := c.conn.ReadJSON(&msg); err != nil {
		return nil, err
	}

	return &msg, nil
}

func (c *wsConn) Close() error {
	// Best-effort close frame; the peer may already be gone.
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

	return c.conn.Close()
}
