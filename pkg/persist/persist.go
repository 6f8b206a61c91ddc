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

import "sync"

// The package-level functions operate on a single process-wide session,
// matching the common case of one application identity per process.
// Applications that need more control construct a Session directly.
var (
	defaultMu      sync.Mutex
	defaultSession *Session
)

// Default returns the process-wide session, creating it on first use.
func Default() (*Session, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultSession == nil {
		s, err := NewSession()
		if err != nil {
			return nil, err
		}
		defaultSession = s
	}
	return defaultSession, nil
}

// InitLibrary initializes the process-wide session for appName.
// See Session.InitLibrary.
func InitLibrary(appName string, mode ShutdownMode) error {
	s, err := Default()
	if err != nil {
		return err
	}
	return s.InitLibrary(appName, mode)
}

// DeinitLibrary releases one reference on the process-wide session.
// See Session.DeinitLibrary.
func DeinitLibrary() error {
	s, err := Default()
	if err != nil {
		return err
	}
	return s.DeinitLibrary()
}

// SetLifecycleState casts a shutdown vote on the process-wide session.
// See Session.SetLifecycleState.
func SetLifecycleState(req LifecycleRequest) error {
	s, err := Default()
	if err != nil {
		return err
	}
	return s.SetLifecycleState(req)
}
