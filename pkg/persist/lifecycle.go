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
	"fmt"

	internallog "github.com/tombee/persist/internal/log"
	"github.com/tombee/persist/internal/loop"
)

// LifecycleRequest is a shutdown vote issued through SetLifecycleState.
type LifecycleRequest int

const (
	// RequestShutdown announces that the application is ready for an
	// on-demand partial shutdown.
	RequestShutdown LifecycleRequest = iota + 1
	// RequestShutdownCancel withdraws a shutdown announcement, budget
	// permitting, and resumes normal operation.
	RequestShutdownCancel
)

// SetLifecycleState casts a shutdown or cancel vote. Voting is only
// permitted when the session was initialized with a shutdown mode other
// than ShutdownNone; otherwise ErrShutdownNoPermit is returned and no
// message is sent.
//
// The state machine never performs the shutdown itself. A shutdown vote
// hands a prepare-partial-shutdown intent to the event loop; the actual
// resource release is driven by the lifecycle manager and the teardown
// path. Cancellation draws on a bounded budget: once MaxCancelCount votes
// have been spent, further cancels fail with ErrShutdownMaxCancel and the
// mandated shutdown is expected to proceed.
func (s *Session) SetLifecycleState(req LifecycleRequest) error {
	s.lcMu.Lock()
	defer s.lcMu.Unlock()

	if s.mode == ShutdownNone {
		s.logger.Warn("shutdown vote rejected, session has no shutdown permit")
		return ErrShutdownNoPermit
	}

	switch req {
	case RequestShutdown:
		s.logger.Info("shutdown vote issued",
			internallog.String(internallog.AppIDKey, s.appID),
			internallog.Int("cancel_count", s.cancelCount))

		err := s.bridge.Deliver(loop.Message{
			Cmd:    loop.CmdPrepareShutdown,
			Params: [2]int32{loop.ShutdownPartial, 0},
		})
		if err != nil {
			return fmt.Errorf("failed to deliver shutdown vote: %w", err)
		}

		s.cancelCount++
		shutdownVotes.WithLabelValues("shutdown").Inc()
		return nil

	case RequestShutdownCancel:
		if s.cancelCount >= s.cfg.MaxCancelCount {
			s.logger.Warn("shutdown cancel rejected, budget exhausted",
				internallog.String(internallog.AppIDKey, s.appID),
				internallog.Int("cancel_count", s.cancelCount),
				internallog.Int("max_cancel_count", s.cfg.MaxCancelCount))
			cancelRejected.Inc()
			return ErrShutdownMaxCancel
		}

		if err := s.collab.AccessLock.Release(); err != nil {
			return fmt.Errorf("failed to release access lock: %w", err)
		}

		s.cancelCount++
		shutdownVotes.WithLabelValues("cancel").Inc()
		s.logger.Info("shutdown cancelled, normal operation resumed",
			internallog.String(internallog.AppIDKey, s.appID),
			internallog.Int("cancel_count", s.cancelCount))
		return nil

	default:
		return fmt.Errorf("%w: unknown lifecycle request %d", ErrInvalidArgument, req)
	}
}

// CancelBudgetLeft returns how many shutdown cancellations remain.
func (s *Session) CancelBudgetLeft() int {
	s.lcMu.Lock()
	defer s.lcMu.Unlock()

	left := s.cfg.MaxCancelCount - s.cancelCount
	if left < 0 {
		return 0
	}
	return left
}
