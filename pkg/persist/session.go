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
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/tombee/persist/internal/blacklist"
	"github.com/tombee/persist/internal/config"
	"github.com/tombee/persist/internal/handle"
	internallog "github.com/tombee/persist/internal/log"
	"github.com/tombee/persist/internal/loop"
	"github.com/tombee/persist/internal/sweep"
	"github.com/tombee/persist/internal/tracing"
	"github.com/tombee/persist/internal/trust"
)

// libraryVersion identifies the library in traces and diagnostics.
const libraryVersion = "1.0.0"

// eventBridge is the loop surface the session drives. *loop.Bridge is the
// production implementation; in-package tests wrap it to observe the
// message protocol.
type eventBridge interface {
	Start() error
	Running() bool
	Deliver(msg loop.Message) error
	Join(ctx context.Context) error
}

// ShutdownMode selects how the session participates in node shutdown.
type ShutdownMode int

const (
	// ShutdownNone opts out of lifecycle shutdown notifications entirely.
	ShutdownNone ShutdownMode = iota
	// ShutdownFull registers for full-shutdown notifications.
	ShutdownFull
	// ShutdownOnDemandPartial additionally accepts on-demand partial
	// shutdowns that release the data without ending the process.
	ShutdownOnDemandPartial
)

func (m ShutdownMode) valid() bool {
	switch m {
	case ShutdownNone, ShutdownFull, ShutdownOnDemandPartial:
		return true
	}
	return false
}

// Session is the process-wide state of the persistence client. It is
// created pristine, activated by the first InitLibrary call, and returns to
// pristine when the last DeinitLibrary call drops the counter to zero.
// One Session per process is the intended lifecycle; the package-level
// functions manage that singleton.
//
// Two mutexes guard the session. initMu serializes the init counter and the
// decision to run bring-up or teardown; regMu is held across the whole
// multi-step orchestration so no second initializer can observe a
// half-initialized session.
type Session struct {
	cfg    *config.Config
	logger *slog.Logger
	collab Collaborators

	initMu sync.Mutex
	regMu  sync.Mutex

	initCount  int
	generation uuid.UUID

	// lcMu guards the shutdown-vote state. appID is written holding both
	// initMu and lcMu; holding either is enough to read it.
	lcMu        sync.Mutex
	appID       string
	mode        ShutdownMode
	cancelCount int

	bridge      eventBridge
	handles     *handle.Table
	excluded    *blacklist.Set
	watchCancel context.CancelFunc
	gate        *trust.Gate
	cache       Cache
	tracing     *tracing.Provider
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger for the session and all subsystems it owns.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithCollaborators substitutes external subsystem implementations; unset
// fields keep their production defaults.
func WithCollaborators(c Collaborators) Option {
	return func(s *Session) { s.collab = c }
}

// withConfig replaces the configuration wholesale. In-package tests use
// this to point the session at temp directories.
func withConfig(cfg *config.Config) Option {
	return func(s *Session) { s.cfg = cfg }
}

// withBridge substitutes the event-loop bridge, for in-package tests that
// observe the teardown message protocol.
func withBridge(b eventBridge) Option {
	return func(s *Session) { s.bridge = b }
}

// NewSession creates a pristine session. The configuration is loaded from
// the default config file unless overridden by an option.
func NewSession(opts ...Option) (*Session, error) {
	s := &Session{}

	for _, opt := range opts {
		opt(s)
	}

	if s.cfg == nil {
		cfg, err := config.Load("")
		if err != nil {
			return nil, err
		}
		s.cfg = cfg
	}
	if s.logger == nil {
		s.logger = internallog.New(internallog.FromEnv())
	}
	s.logger = internallog.WithComponent(s.logger, "persist")

	s.collab = s.collab.withDefaults(s.cfg, s.logger)
	s.handles = handle.NewTable()
	if s.bridge == nil {
		s.bridge = loop.New(&sessionHandler{s: s}, s.logger)
	}

	return s, nil
}

// InitLibrary activates the session for appName, or increments the init
// counter if it is already active. Only the 0→1 transition sweeps stale OS
// artifacts and brings up the subsystems; a failed bring-up leaves the
// counter at zero with all partially built state unwound.
func (s *Session) InitLibrary(appName string, mode ShutdownMode) error {
	if appName == "" || !mode.valid() {
		return ErrInvalidArgument
	}

	s.initMu.Lock()
	defer s.initMu.Unlock()

	if s.initCount == 0 {
		s.logger.Info("initializing persistence library",
			internallog.String(internallog.AppIDKey, appName))

		swept := sweep.Sweep(s.cfg.ShmDir, appName, s.logger)
		artifactsSwept.Add(float64(swept))

		if err := s.bringUp(appName, mode); err != nil {
			return err
		}
	} else {
		s.logger.Info("library already initialized, incrementing init counter",
			internallog.String(internallog.AppIDKey, s.appID),
			internallog.Int("init_count", s.initCount))
	}

	s.initCount++
	initTotal.Inc()
	return nil
}

// DeinitLibrary decrements the init counter and, on the 1→0 transition,
// tears all subsystems down in reverse bring-up order. Calling it on an
// inactive session fails with ErrNotInitialized and performs no work.
func (s *Session) DeinitLibrary() error {
	return s.DeinitContext(context.Background())
}

// DeinitContext is DeinitLibrary with a caller-supplied context bounding
// the wait for the event loop to drain. DeinitLibrary waits unbounded;
// pass a deadline to cap shutdown latency.
func (s *Session) DeinitContext(ctx context.Context) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()

	switch {
	case s.initCount == 0:
		s.logger.Warn("deinit requested but library is not initialized")
		return ErrNotInitialized

	case s.initCount == 1:
		s.logger.Info("deinitializing persistence library",
			internallog.String(internallog.AppIDKey, s.appID))
		err := s.tearDown(ctx)
		s.shutdownTracing(ctx)
		s.initCount = 0
		deinitTotal.Inc()
		return err

	default:
		s.logger.Info("decrementing init counter",
			internallog.String(internallog.AppIDKey, s.appID),
			internallog.Int("init_count", s.initCount))
		s.initCount--
		deinitTotal.Inc()
		return nil
	}
}

// shutdownTracing flushes and drops the session-owned tracing provider.
// Sessions without one (the default, or when the embedder installs its own
// global provider) are untouched. Caller holds initMu.
func (s *Session) shutdownTracing(ctx context.Context) {
	if s.tracing == nil {
		return
	}
	if err := s.tracing.Shutdown(ctx); err != nil {
		s.logger.Warn("tracing shutdown failed", internallog.Error(err))
	}
	s.tracing = nil
}

// InitCount returns the current logical-initialization count.
func (s *Session) InitCount() int {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	return s.initCount
}

// AppID returns the committed application identifier, empty while pristine.
func (s *Session) AppID() string {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	return s.appID
}

// Generation returns the UUID of the current process generation, or
// uuid.Nil while pristine.
func (s *Session) Generation() uuid.UUID {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	return s.generation
}

// Trusted reports the cached trust verdict. It is only meaningful when the
// trust check feature is enabled.
func (s *Session) Trusted() bool {
	s.initMu.Lock()
	gate := s.gate
	s.initMu.Unlock()

	return gate != nil && gate.Verdict() == trust.Trusted
}

// Excluded reports whether path is excluded from backup by the loaded
// blacklist.
func (s *Session) Excluded(path string) bool {
	s.initMu.Lock()
	excluded := s.excluded
	s.initMu.Unlock()

	return excluded != nil && excluded.Contains(path)
}

// sessionHandler adapts the session to the event loop. All methods run on
// the loop goroutine.
type sessionHandler struct {
	s *Session
}

// PrepareShutdown flushes outstanding work before a shutdown. A partial
// shutdown additionally takes the cross-process access lock so foreground
// operations stay blocked until the shutdown is cancelled or completed.
func (h *sessionHandler) PrepareShutdown(level int32) {
	if level != loop.ShutdownPartial {
		return
	}
	if err := h.s.collab.AccessLock.Acquire(); err != nil {
		h.s.logger.Warn("failed to take access lock for partial shutdown",
			internallog.Error(err))
	}
}

// HandleMessage services asynchronous IPC notifications.
func (h *sessionHandler) HandleMessage(msg loop.Message) {
	switch msg.Cmd {
	case loop.CmdSyncCache:
		h.s.logger.Debug("cache sync requested",
			internallog.String(internallog.CommandKey, msg.Cmd.String()))
	case loop.CmdNotifySignal:
		h.s.logger.Debug("change notification received",
			internallog.String(internallog.CommandKey, msg.Cmd.String()),
			internallog.String("key", msg.Payload))
	}
}
