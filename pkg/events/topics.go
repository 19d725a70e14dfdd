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

package events

import "github.com/carverauto/chamberlink/pkg/models"

// Topics published by the core components.
const (
	TopicConnectionState   = "connection-state"
	TopicSnapshot          = "snapshot"
	TopicDiscoveryComplete = "discovery-complete"
	TopicDiscoveryFailed   = "discovery-failed"
	TopicCommandPending    = "command-pending"
	TopicCommandSuccess    = "command-success"
	TopicCommandError      = "command-error"
)

// ConnectionStateEvent reports a connection state transition.
type ConnectionStateEvent struct {
	State  models.ConnectionState `json:"state"`
	Reason string                 `json:"reason,omitempty"`
}

// DiscoveryCompleteEvent carries the winning endpoint of a discovery cycle.
type DiscoveryCompleteEvent struct {
	Result models.DiscoveryResult `json:"result"`
}

// DiscoveryFailedEvent reports an exhausted discovery cycle.
type DiscoveryFailedEvent struct {
	CandidatesTried int    `json:"candidates_tried"`
	Reason          string `json:"reason,omitempty"`
}

// CommandEvent describes a command lifecycle transition. Value is the
// optimistic value for pending events and the reconciled value on success; on
// error it is the rolled-back or retained optimistic value.
type CommandEvent struct {
	CommandID string      `json:"command_id"`
	Key       string      `json:"key"`
	Value     interface{} `json:"value,omitempty"`
	Message   string      `json:"message,omitempty"`
}
