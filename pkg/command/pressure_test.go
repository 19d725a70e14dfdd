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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextPressureStep(t *testing.T) {
	tests := []struct {
		name    string
		current float64
		up      bool
		want    float64
	}{
		{name: "plain increment", current: 1.30, up: true, want: 1.40},
		{name: "plain decrement", current: 1.40, up: false, want: 1.30},
		{name: "increment clamps at ceiling", current: 1.90, up: true, want: 1.99},
		{name: "increment from ceiling stays", current: 1.99, up: true, want: 1.99},
		{name: "decrement from ceiling snaps to grid", current: 1.99, up: false, want: 1.90},
		{name: "decrement clamps at floor", current: 1.05, up: false, want: 1.00},
		{name: "decrement at floor stays", current: 1.00, up: false, want: 1.00},
		{name: "increment near ceiling clamps", current: 1.95, up: true, want: 1.99},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, NextPressureStep(tt.current, tt.up), 1e-9)
		})
	}
}
