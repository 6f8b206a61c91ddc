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
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tombee/persist/internal/blacklist"
	"github.com/tombee/persist/internal/config"
	internallog "github.com/tombee/persist/internal/log"
	"github.com/tombee/persist/internal/loop"
	"github.com/tombee/persist/internal/tracing"
	"github.com/tombee/persist/internal/trust"
)

// bringUp runs the ordered subsystem bring-up on the 0→1 init transition.
// The pending-registration lock is held for the whole sequence. Best-effort
// steps (trust check, file cache, blacklist) log and continue; fatal steps
// abort, unwind the already-built fatal steps, and return their distinct
// error with the session left pristine.
//
// Caller holds initMu.
func (s *Session) bringUp(appName string, mode ShutdownMode) error {
	s.regMu.Lock()
	defer s.regMu.Unlock()

	if s.cfg.EnableTracing && s.tracing == nil {
		provider, err := tracing.NewProvider("persist", libraryVersion)
		if err != nil {
			s.logger.Warn("tracing unavailable, continuing without it",
				internallog.String(internallog.SubsystemKey, "tracing"),
				internallog.Error(err))
		} else {
			s.tracing = provider
		}
	}

	ctx, span := tracing.Tracer("persist").Start(context.Background(), "bringup")
	defer span.End()

	s.lcMu.Lock()
	s.mode = mode
	s.lcMu.Unlock()

	if s.cfg.EnableTrustCheck {
		s.gate = trust.NewGate(s.cfg.RCTPath(appName), s.logger)
		s.gate.Check(appName)
	}

	if s.cfg.EnableFileCache {
		cache, err := s.collab.OpenCache(appName)
		if err != nil {
			s.logger.Warn("file cache unavailable, continuing without it",
				internallog.String(internallog.SubsystemKey, "filecache"),
				internallog.Error(err))
		} else {
			s.cache = cache
		}
	}

	s.excluded = blacklist.NewSet(s.cfg.BlacklistPath(appName))
	if err := s.excluded.Load(); err != nil {
		s.logger.Warn("cannot load backup blacklist, using empty set",
			internallog.String(internallog.SubsystemKey, "blacklist"),
			internallog.String("path", s.excluded.Path()),
			internallog.Error(err))
	}
	if s.cfg.WatchBlacklist {
		watchCtx, cancel := context.WithCancel(context.Background())
		s.watchCancel = cancel
		go func(set *blacklist.Set) {
			if err := set.Watch(watchCtx, s.logger); err != nil {
				s.logger.Warn("blacklist watch unavailable",
					internallog.String(internallog.SubsystemKey, "blacklist"),
					internallog.Error(err))
			}
		}(s.excluded)
	}

	if err := s.bridge.Start(); err != nil {
		bringupFailures.WithLabelValues("mainloop").Inc()
		s.unwind(ctx, unwindNothing, appName, mode)
		return fmt.Errorf("%w: %v", ErrMainloopSetup, err)
	}

	if mode != ShutdownNone {
		if err := s.collab.Lifecycle.RegisterLifecycle(ctx, appName, int(mode)); err != nil {
			bringupFailures.WithLabelValues("lifecycle").Inc()
			s.unwind(ctx, unwindLoop, appName, mode)
			return fmt.Errorf("%w: %v", ErrLifecycleRegistration, err)
		}
	}

	if s.cfg.EnableAdminService {
		if err := s.collab.Admin.RegisterAdmin(ctx, appName); err != nil {
			bringupFailures.WithLabelValues("admin").Inc()
			s.unwind(ctx, unwindLifecycle, appName, mode)
			return fmt.Errorf("%w: %v", ErrAdminRegistration, err)
		}
	}

	count, err := s.collab.Plugins.LoadAll(s.asyncPluginInit)
	if err != nil {
		bringupFailures.WithLabelValues("plugins").Inc()
		s.unwind(ctx, unwindPlugins, appName, mode)
		return &PluginLoadError{Cause: err}
	}
	s.logger.Info("custom plugins loaded", internallog.Int("count", count))

	s.handles.Init()

	if err := s.collab.AccessLock.ReleasePending(); err != nil {
		s.logger.Warn("could not release pending access lock",
			internallog.Error(err))
	}

	if len(appName) > config.MaxAppNameLen {
		appName = appName[:config.MaxAppNameLen]
	}
	// appID is written under initMu (held by the caller) and lcMu, so the
	// vote path can read it under lcMu alone.
	s.lcMu.Lock()
	s.appID = appName
	s.lcMu.Unlock()
	s.generation = uuid.New()

	s.logger.Info("persistence library ready",
		internallog.String(internallog.AppIDKey, appName),
		internallog.String(internallog.GenerationKey, s.generation.String()),
		internallog.Bool("filecache", s.cache != nil),
		internallog.Bool("trusted", s.gate != nil && s.gate.Verdict() == trust.Trusted))

	return nil
}

// Unwind depth markers name the last fatal bring-up step that completed
// before the failure.
type unwindDepth int

const (
	unwindNothing unwindDepth = iota
	unwindLoop
	unwindLifecycle
	unwindAdmin
	unwindPlugins
)

// unwind rolls back the fatal-sequence bring-up steps after a failure so
// the init counter never counts a half-built session. Best-effort steps
// (cache, blacklist, trust) are reset unconditionally.
func (s *Session) unwind(ctx context.Context, depth unwindDepth, appName string, mode ShutdownMode) {

	if depth >= unwindPlugins {
		// A failed LoadAll cleans up after itself, but a loader that
		// partially succeeded must not keep plugins initialized when the
		// init counter stays at zero.
		if err := s.collab.Plugins.DeinitAll(); err != nil {
			s.logger.Warn("unwind: plugin deinit failed", internallog.Error(err))
		}
	}

	if depth >= unwindAdmin && s.cfg.EnableAdminService {
		if err := s.collab.Admin.UnregisterAdmin(ctx, appName); err != nil {
			s.logger.Warn("unwind: admin unregister failed", internallog.Error(err))
		}
	}

	if depth >= unwindLifecycle && mode != ShutdownNone {
		if err := s.collab.Lifecycle.UnregisterLifecycle(ctx, appName, int(mode)); err != nil {
			s.logger.Warn("unwind: lifecycle unregister failed", internallog.Error(err))
		}
	}

	if depth >= unwindLoop {
		s.stopLoop(ctx)
	}

	if s.cache != nil {
		if err := s.cache.Deinit(); err != nil {
			s.logger.Warn("unwind: file cache deinit failed", internallog.Error(err))
		}
		s.cache = nil
	}

	s.stopBlacklistWatch()
	s.excluded = nil
	s.gate = nil
	s.shutdownTracing(ctx)

	s.lcMu.Lock()
	s.mode = ShutdownNone
	s.cancelCount = 0
	s.lcMu.Unlock()
}

// stopBlacklistWatch cancels the hot-reload goroutine if one was started.
func (s *Session) stopBlacklistWatch() {
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
}

// tearDown runs the reverse-ordered teardown on the 1→0 deinit transition.
// Steps are best-effort: each failure is logged and recorded, but teardown
// always runs to completion and the session always comes back pristine.
//
// Caller holds initMu.
func (s *Session) tearDown(ctx context.Context) error {
	s.regMu.Lock()
	defer s.regMu.Unlock()

	ctx, span := tracing.Tracer("persist").Start(ctx, "teardown")
	defer span.End()

	var firstErr error
	record := func(step string, err error) {
		if err == nil {
			return
		}
		s.logger.Warn("teardown step failed",
			internallog.String(internallog.SubsystemKey, step),
			internallog.Error(err))
		if firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", step, err)
		}
	}

	s.lcMu.Lock()
	mode := s.mode
	s.lcMu.Unlock()

	if mode != ShutdownNone {
		record("lifecycle", s.collab.Lifecycle.UnregisterLifecycle(ctx, s.appID, int(mode)))
	}

	if s.cfg.EnableAdminService {
		if err := s.collab.Admin.UnregisterAdmin(ctx, s.appID); err != nil {
			record("admin", err)
		} else {
			s.logger.Info("admin service unregistered")
		}
	}

	record("mainloop", s.stopLoop(ctx))

	s.handles.DestroyHandles()
	s.handles.DestroyBackup()
	s.handles.DestroyNotify()

	record("plugins", s.collab.Plugins.DeinitAll())

	if s.cache != nil {
		record("filecache", s.cache.Deinit())
		s.cache = nil
	}

	// Back to pristine.
	s.stopBlacklistWatch()
	s.generation = uuid.Nil
	s.excluded = nil
	s.gate = nil

	s.lcMu.Lock()
	s.appID = ""
	s.mode = ShutdownNone
	s.cancelCount = 0
	s.lcMu.Unlock()

	return firstErr
}

// stopLoop delivers the prepare-full-shutdown and quit messages and joins
// the loop goroutine. Delivering to a stopped loop is a no-op error by
// contract, so a dead loop is not a teardown failure.
func (s *Session) stopLoop(ctx context.Context) error {
	err := s.bridge.Deliver(loop.Message{
		Cmd:    loop.CmdPrepareShutdown,
		Params: [2]int32{loop.ShutdownFull, 0},
	})
	if err != nil {
		if errors.Is(err, loop.ErrLoopNotRunning) {
			return nil
		}
		return err
	}

	if err := s.bridge.Deliver(loop.Message{Cmd: loop.CmdQuit}); err != nil {
		return err
	}

	return s.bridge.Join(ctx)
}

// asyncPluginInit receives asynchronous plugin initialization results. It
// runs off the foreground goroutines and must stay lock-free.
func (s *Session) asyncPluginInit(name string, err error) {
	if err != nil {
		s.logger.Error("asynchronous plugin initialization failed",
			internallog.String("plugin", name),
			internallog.Error(err))
		return
	}
	s.logger.Info("asynchronous plugin initialization complete",
		internallog.String("plugin", name))
}
