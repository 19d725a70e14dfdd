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

import "time"

// CommandResponse is the payload returned by a command POST.
type CommandResponse struct {
	Success   bool                   `json:"success"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// ControlBinding ties a control key to its command route and to the places the
// backend reports its value: the command response data field and the dotted
// path inside a status snapshot.
type ControlBinding struct {
	Key           string // stable key used by callers and the optimistic table
	CommandPath   string // path under /api/, e.g. "control/ac/toggle"
	SnapshotPath  string // dotted path into snapshot data
	ResponseField string // field inside CommandResponse.Data carrying the confirmed value
	BodyField     string // request body field for the proposed value; empty for bare toggles
}

// Control keys for the chamber controller surface.
const (
	ControlAC               = "ac"
	ControlLights           = "lights"
	ControlOxygen           = "oxygen"
	ControlIntercom         = "intercom"
	ControlPressureSetpoint = "pressure_setpoint"
)

// DefaultBindings returns the control table for the chamber controller.
func DefaultBindings() []ControlBinding {
	return []ControlBinding{
		{
			Key:           ControlAC,
			CommandPath:   "control/ac/toggle",
			SnapshotPath:  "control_panel.ac_state",
			ResponseField: "ac_state",
		},
		{
			Key:           ControlLights,
			CommandPath:   "control/lights/toggle",
			SnapshotPath:  "control_panel.lights_state",
			ResponseField: "lights_state",
		},
		{
			Key:           ControlOxygen,
			CommandPath:   "control/oxygen/toggle",
			SnapshotPath:  "control_panel.o2_state",
			ResponseField: "o2_state",
		},
		{
			Key:           ControlIntercom,
			CommandPath:   "control/intercom/toggle",
			SnapshotPath:  "control_panel.intercom_state",
			ResponseField: "intercom_state",
		},
		{
			Key:           ControlPressureSetpoint,
			CommandPath:   "pressure/setpoint",
			SnapshotPath:  "pressure.internal_setpoint",
			ResponseField: "setpoint",
			BodyField:     "setpoint",
		},
	}
}
