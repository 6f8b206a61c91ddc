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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// initTotal tracks successful library initializations
	initTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "persist_init_total",
			Help: "Total successful library initializations, including nested ones",
		},
	)

	// deinitTotal tracks successful library de-initializations
	deinitTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "persist_deinit_total",
			Help: "Total successful library de-initializations, including nested ones",
		},
	)

	// bringupFailures tracks failed bring-up attempts by step
	bringupFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "persist_bringup_failures_total",
			Help: "Total failed bring-up attempts by the step that failed",
		},
		[]string{"step"},
	)

	// artifactsSwept tracks leftover shared-memory artifacts removed at bring-up
	artifactsSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "persist_artifacts_swept_total",
			Help: "Total stale shared-memory artifacts removed during bring-up",
		},
	)

	// shutdownVotes tracks lifecycle votes by kind
	shutdownVotes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "persist_shutdown_votes_total",
			Help: "Total accepted lifecycle votes by kind (shutdown or cancel)",
		},
		[]string{"kind"},
	)

	// cancelRejected tracks cancel votes rejected over budget
	cancelRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "persist_shutdown_cancel_rejected_total",
			Help: "Total shutdown cancellations rejected because the budget was exhausted",
		},
	)
)
