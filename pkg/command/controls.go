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
	"fmt"

	"github.com/carverauto/chamberlink/pkg/models"
)

// Toggle flips a boolean control, proposing the inverse of the currently
// visible value. A control with no known value is proposed on.
func (s *Synchronizer) Toggle(ctx context.Context, endpoint models.Endpoint, key string) error {
	proposed := true

	if current, ok := s.Value(key); ok {
		if state, isBool := current.(bool); isBool {
			proposed = !state
		}
	}

	return s.Execute(ctx, endpoint, key, proposed)
}

// StepPressure moves the pressure setpoint one step up or down with the
// controller's boundary snapping applied.
func (s *Synchronizer) StepPressure(ctx context.Context, endpoint models.Endpoint, up bool) error {
	current, ok := s.Value(models.ControlPressureSetpoint)
	if !ok {
		return fmt.Errorf("%w: %s", ErrValueUnknown, models.ControlPressureSetpoint)
	}

	setpoint, ok := toFloat(current)
	if !ok {
		return fmt.Errorf("%w: %s is not numeric", ErrValueUnknown, models.ControlPressureSetpoint)
	}

	return s.Execute(ctx, endpoint, models.ControlPressureSetpoint, NextPressureStep(setpoint, up))
}
