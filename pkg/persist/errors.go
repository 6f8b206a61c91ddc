// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package persist

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is returned by DeinitLibrary when the init counter
	// is already zero. No work is performed.
	ErrNotInitialized = errors.New("persistence library is not initialized")

	// ErrMainloopSetup is returned when the event-loop bridge cannot be
	// started during bring-up.
	ErrMainloopSetup = errors.New("failed to set up the event loop")

	// ErrLifecycleRegistration is returned when registering for lifecycle
	// shutdown notifications fails during bring-up.
	ErrLifecycleRegistration = errors.New("failed to register for lifecycle notifications")

	// ErrAdminRegistration is returned when registering with the
	// persistence admin service fails during bring-up.
	ErrAdminRegistration = errors.New("failed to register with the admin service")

	// ErrShutdownNoPermit is returned by SetLifecycleState when the
	// session was initialized with ShutdownNone.
	ErrShutdownNoPermit = errors.New("shutdown requests are not permitted for this session")

	// ErrShutdownMaxCancel is returned when the shutdown cancellation
	// budget is exhausted.
	ErrShutdownMaxCancel = errors.New("shutdown cancellation budget exhausted")

	// ErrInvalidArgument is returned for arguments outside the supported
	// domain (empty application name, unknown mode or request).
	ErrInvalidArgument = errors.New("invalid argument")
)

// PluginLoadError reports a custom-plugin load failure during bring-up,
// carrying the loader's own error.
type PluginLoadError struct {
	// Plugin is the plugin whose load failed, when known.
	Plugin string
	// Cause is the loader's error.
	Cause error
}

// Error implements the error interface.
func (e *PluginLoadError) Error() string {
	if e.Plugin != "" {
		return fmt.Sprintf("failed to load custom plugin %s: %v", e.Plugin, e.Cause)
	}
	return fmt.Sprintf("failed to load custom plugins: %v", e.Cause)
}

// Unwrap returns the loader's error for errors.Is/As support.
func (e *PluginLoadError) Unwrap() error { return e.Cause }
