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

/*
Package persist is the client-side runtime of the persistence access
library. It is embedded in application processes and coordinates
library-wide initialization, concurrent use from any number of caller
goroutines, and an orderly shutdown with the node lifecycle manager.

# Initialization

Initialization is reference counted and idempotent across the logical
clients of one process. The first InitLibrary call sweeps orphaned OS
resources left by a crashed prior generation, brings up the dependent
subsystems in order, and starts the event-loop goroutine. Subsequent calls
only increment the counter:

	if err := persist.InitLibrary("navigation", persist.ShutdownFull); err != nil {
	    // Handle error
	}
	defer persist.DeinitLibrary()

DeinitLibrary mirrors this: only the call that drops the counter to zero
tears the subsystems down, in strict reverse order, after the event loop
has drained and exited.

# Shutdown voting

When the session was initialized with a shutdown mode other than
ShutdownNone, the lifecycle manager's shutdown announcements can be
answered with a vote:

	persist.SetLifecycleState(persist.RequestShutdown)       // prepare for shutdown
	persist.SetLifecycleState(persist.RequestShutdownCancel) // resume, budget permitting

Cancellation is a bounded resource: once the configured budget is
exhausted, further cancellations fail with ErrShutdownMaxCancel and the
shutdown proceeds.

# Sessions

The package-level functions operate on a single lazily created process-wide
Session. Embedders that need explicit ownership (tests, multi-tenant
harnesses) can construct their own with NewSession and call the same
methods on it.
*/
package persist
