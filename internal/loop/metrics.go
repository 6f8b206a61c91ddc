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

package loop

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// messagesDelivered tracks messages accepted into the mailbox by command.
	messagesDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "persist_loop_messages_delivered_total",
			Help: "Total messages delivered to the event loop by command",
		},
		[]string{"command"},
	)

	// messagesRejected tracks messages rejected because the mailbox was full.
	messagesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "persist_loop_messages_rejected_total",
			Help: "Total messages rejected by a full event loop mailbox",
		},
		[]string{"command"},
	)
)
