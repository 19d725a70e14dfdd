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

package models

import (
	"strings"
	"time"
)

// StreamMessage represents one inbound frame on the system status stream.
type StreamMessage struct {
	Type      string                 `json:"type,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Snapshot is a full authoritative device state at a point in time. It is
// immutable once received; a newer snapshot supersedes it, never mutates it.
// Seq is assigned by the session on receipt and increases monotonically, so
// consumers can order snapshots and reject ones already in flight before a
// given local event.
type Snapshot struct {
	Seq       uint64
	Timestamp time.Time
	Type      string
	Data      map[string]interface{}
}

// SnapshotFromMessage converts a stream frame into a Snapshot. Seq is left for
// the session to assign under its own ordering.
func SnapshotFromMessage(msg *StreamMessage) *Snapshot {
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return &Snapshot{
		Timestamp: ts,
		Type:      msg.Type,
		Data:      msg.Data,
	}
}

// Value resolves a dotted path ("control_panel.ac_state") inside the snapshot
// data. The second return reports whether the full path was present.
func (s *Snapshot) Value(path string) (interface{}, bool) {
	if s == nil || s.Data == nil {
		return nil, false
	}

	var current interface{} = s.Data

	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}

		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}
