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

import "math"

// Pressure setpoint stepping, in ATA. The controller's hard safety ceiling
// sits off the 0.1 grid, so the step shrinks when approaching it: 1.90 steps
// up to exactly 1.99, and stepping down from 1.99 returns to 1.90, not 1.89.
// The asymmetry matches the controller hardware; do not generalize it.
const (
	PressureStep    = 0.1
	PressureFloor   = 1.0
	PressureCeiling = 1.99

	pressureEpsilon = 1e-6
)

// NextPressureStep returns the setpoint one step up or down from current,
// snapped at the boundaries.
func NextPressureStep(current float64, up bool) float64 {
	if up {
		next := roundCentibar(current + PressureStep)
		if next > PressureCeiling {
			next = PressureCeiling
		}

		return next
	}

	if nearlyEqual(current, PressureCeiling) {
		// Back off the ceiling onto the step grid.
		return roundCentibar(math.Floor((PressureCeiling+pressureEpsilon)/PressureStep) * PressureStep)
	}

	next := roundCentibar(current - PressureStep)
	if next < PressureFloor {
		next = PressureFloor
	}

	return next
}

func roundCentibar(v float64) float64 {
	return math.Round(v*100) / 100
}

func nearlyEqual(a, b float64) bool {
	return math.Abs(a-b) < pressureEpsilon
}
