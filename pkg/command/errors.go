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

import "errors"

var (
	// ErrCommandRejected means the backend refused or failed the command; the
	// optimistic value was rolled back.
	ErrCommandRejected = errors.New("command rejected by backend")

	// ErrConfirmationTimeout means the backend accepted the command but the
	// authoritative state never matched within the confirmation budget.
	ErrConfirmationTimeout = errors.New("command confirmation timed out")

	// ErrSuperseded means a newer command for the same control key replaced
	// this one before it was reconciled.
	ErrSuperseded = errors.New("command superseded by a newer one")

	// ErrUnknownControl means no binding exists for the control key.
	ErrUnknownControl = errors.New("unknown control key")

	// ErrValueUnknown means the current value of a control cannot be read,
	// typically because no snapshot has arrived yet.
	ErrValueUnknown = errors.New("current control value unknown")
)
