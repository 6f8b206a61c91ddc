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
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/persist/internal/config"
)

type fakeLifecycle struct {
	mu          sync.Mutex
	registers   int
	unregisters int
	failNext    error
}

func (f *fakeLifecycle) RegisterLifecycle(_ context.Context, _ string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	f.registers++
	return nil
}

func (f *fakeLifecycle) UnregisterLifecycle(_ context.Context, _ string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unregisters++
	return nil
}

func (f *fakeLifecycle) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.registers, f.unregisters
}

type fakeAdmin struct {
	mu          sync.Mutex
	registers   int
	unregisters int
	failNext    error
}

func (f *fakeAdmin) RegisterAdmin(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	f.registers++
	return nil
}

func (f *fakeAdmin) UnregisterAdmin(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unregisters++
	return nil
}

type fakePlugins struct {
	mu       sync.Mutex
	loads    int
	deinits  int
	failNext error
}

func (f *fakePlugins) LoadAll(func(name string, err error)) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return 0, err
	}
	f.loads++
	return 0, nil
}

func (f *fakePlugins) DeinitAll() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deinits++
	return nil
}

func (f *fakePlugins) Count() int { return 0 }

type fakeLock struct {
	mu       sync.Mutex
	acquires int
	releases int
	pending  int
}

func (f *fakeLock) Acquire() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquires++
	return nil
}

func (f *fakeLock) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
	return nil
}

func (f *fakeLock) ReleasePending() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending++
	return nil
}

func (f *fakeLock) acquireCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acquires
}

func (f *fakeLock) releaseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.releases
}

type fixture struct {
	session   *Session
	lifecycle *fakeLifecycle
	admin     *fakeAdmin
	plugins   *fakePlugins
	lock      *fakeLock
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.ShmDir = t.TempDir()
	cfg.AccessLockPath = filepath.Join(t.TempDir(), "pers.lock")
	cfg.EnableTrustCheck = false
	cfg.EnableFileCache = false
	cfg.EnableAdminService = false
	return cfg
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()

	cfg := testConfig(t)
	if mutate != nil {
		mutate(cfg)
	}

	f := &fixture{
		lifecycle: &fakeLifecycle{},
		admin:     &fakeAdmin{},
		plugins:   &fakePlugins{},
		lock:      &fakeLock{},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewSession(
		withConfig(cfg),
		WithLogger(logger),
		WithCollaborators(Collaborators{
			Lifecycle:  f.lifecycle,
			Admin:      f.admin,
			Plugins:    f.plugins,
			AccessLock: f.lock,
			OpenCache:  func(string) (Cache, error) { return nil, errors.New("no cache in tests") },
		}),
	)
	require.NoError(t, err)

	f.session = s
	return f
}

func TestInitLibraryRejectsInvalidArguments(t *testing.T) {
	f := newFixture(t, nil)

	assert.ErrorIs(t, f.session.InitLibrary("", ShutdownFull), ErrInvalidArgument)
	assert.ErrorIs(t, f.session.InitLibrary("app", ShutdownMode(99)), ErrInvalidArgument)
	assert.Equal(t, 0, f.session.InitCount())
}

func TestInitLibraryBringsUpOnFirstCall(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.session.InitLibrary("node-health-monitor", ShutdownFull))
	t.Cleanup(func() { _ = f.session.DeinitLibrary() })

	assert.Equal(t, 1, f.session.InitCount())
	assert.Equal(t, "node-health-monitor", f.session.AppID())
	assert.NotEqual(t, uuid.Nil, f.session.Generation())

	registers, _ := f.lifecycle.counts()
	assert.Equal(t, 1, registers)
}

func TestNestedInitRunsBringUpOnce(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.session.InitLibrary("app", ShutdownFull))
	require.NoError(t, f.session.InitLibrary("app", ShutdownFull))
	require.NoError(t, f.session.InitLibrary("app", ShutdownFull))

	assert.Equal(t, 3, f.session.InitCount())
	registers, _ := f.lifecycle.counts()
	assert.Equal(t, 1, registers)

	// Only the final deinit tears down.
	require.NoError(t, f.session.DeinitLibrary())
	require.NoError(t, f.session.DeinitLibrary())
	_, unregisters := f.lifecycle.counts()
	assert.Equal(t, 0, unregisters)

	require.NoError(t, f.session.DeinitLibrary())
	_, unregisters = f.lifecycle.counts()
	assert.Equal(t, 1, unregisters)
	assert.Equal(t, 0, f.session.InitCount())
}

func TestDeinitWithoutInitFails(t *testing.T) {
	f := newFixture(t, nil)

	assert.ErrorIs(t, f.session.DeinitLibrary(), ErrNotInitialized)

	_, unregisters := f.lifecycle.counts()
	assert.Equal(t, 0, unregisters)
	assert.Equal(t, 0, f.plugins.deinits)
}

func TestDeinitReturnsSessionToPristine(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.session.InitLibrary("app", ShutdownOnDemandPartial))
	require.NoError(t, f.session.DeinitLibrary())

	assert.Equal(t, 0, f.session.InitCount())
	assert.Empty(t, f.session.AppID())
	assert.Equal(t, uuid.Nil, f.session.Generation())

	// A fresh generation is minted on re-init.
	require.NoError(t, f.session.InitLibrary("app", ShutdownOnDemandPartial))
	gen1 := f.session.Generation()
	require.NoError(t, f.session.DeinitLibrary())
	require.NoError(t, f.session.InitLibrary("app", ShutdownOnDemandPartial))
	assert.NotEqual(t, gen1, f.session.Generation())
	require.NoError(t, f.session.DeinitLibrary())
}

func TestInitTruncatesOverlongAppName(t *testing.T) {
	f := newFixture(t, nil)

	long := strings.Repeat("x", config.MaxAppNameLen+20)
	require.NoError(t, f.session.InitLibrary(long, ShutdownNone))
	t.Cleanup(func() { _ = f.session.DeinitLibrary() })

	assert.Len(t, f.session.AppID(), config.MaxAppNameLen)
}

func TestShutdownNoneSkipsLifecycleRegistration(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.session.InitLibrary("app", ShutdownNone))
	require.NoError(t, f.session.DeinitLibrary())

	registers, unregisters := f.lifecycle.counts()
	assert.Equal(t, 0, registers)
	assert.Equal(t, 0, unregisters)
}

func TestConcurrentInitDeinitBalances(t *testing.T) {
	f := newFixture(t, nil)

	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if err := f.session.InitLibrary("app", ShutdownFull); err != nil {
					t.Errorf("init: %v", err)
					return
				}
				if err := f.session.DeinitLibrary(); err != nil {
					t.Errorf("deinit: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, f.session.InitCount())
	registers, unregisters := f.lifecycle.counts()
	assert.Equal(t, registers, unregisters)
}

func TestFailedBringUpLeavesCounterUntouched(t *testing.T) {
	f := newFixture(t, nil)
	f.lifecycle.failNext = errors.New("lifecycle manager unreachable")

	err := f.session.InitLibrary("app", ShutdownFull)
	require.ErrorIs(t, err, ErrLifecycleRegistration)
	assert.Equal(t, 0, f.session.InitCount())
	assert.Empty(t, f.session.AppID())

	// The failure is not sticky; the next attempt brings the session up.
	require.NoError(t, f.session.InitLibrary("app", ShutdownFull))
	assert.Equal(t, 1, f.session.InitCount())
	require.NoError(t, f.session.DeinitLibrary())
}

func TestFailedAdminRegistrationUnwindsLifecycle(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.EnableAdminService = true
	})
	f.admin.failNext = errors.New("admin service unreachable")

	err := f.session.InitLibrary("app", ShutdownFull)
	require.ErrorIs(t, err, ErrAdminRegistration)
	assert.Equal(t, 0, f.session.InitCount())

	registers, unregisters := f.lifecycle.counts()
	assert.Equal(t, registers, unregisters, "lifecycle registration must be rolled back")
}

func TestFailedPluginLoadReportsPluginError(t *testing.T) {
	f := newFixture(t, nil)
	f.plugins.failNext = errors.New("bad plugin config")

	err := f.session.InitLibrary("app", ShutdownFull)

	var pErr *PluginLoadError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, 0, f.session.InitCount())

	registers, unregisters := f.lifecycle.counts()
	assert.Equal(t, registers, unregisters)

	// Partially loaded plugins must not stay initialized: with the counter
	// at zero there is no deinit path left to reach them.
	assert.Equal(t, 1, f.plugins.deinits)
}

func TestDeinitRunsAllTeardownSteps(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.EnableAdminService = true
	})

	require.NoError(t, f.session.InitLibrary("app", ShutdownFull))
	require.NoError(t, f.session.DeinitLibrary())

	_, lcUnregisters := f.lifecycle.counts()
	assert.Equal(t, 1, lcUnregisters)
	assert.Equal(t, 1, f.admin.unregisters)
	assert.Equal(t, 1, f.plugins.deinits)
}

func TestBlacklistHotReload(t *testing.T) {
	prefix := t.TempDir()
	f := newFixture(t, func(cfg *config.Config) {
		cfg.CachePrefix = prefix
		cfg.WatchBlacklist = true
	})

	appDir := filepath.Join(prefix, "app")
	require.NoError(t, os.MkdirAll(appDir, 0700))

	require.NoError(t, f.session.InitLibrary("app", ShutdownFull))
	assert.False(t, f.session.Excluded("media/db/media.db"))

	blPath := filepath.Join(appDir, config.DefaultBlacklistFileName)
	require.NoError(t, os.WriteFile(blPath, []byte("media/db/media.db\n"), 0600))

	require.Eventually(t, func() bool {
		return f.session.Excluded("media/db/media.db")
	}, 5*time.Second, 10*time.Millisecond, "watcher must pick up the new blacklist file")

	require.NoError(t, f.session.DeinitLibrary())
	assert.Nil(t, f.session.watchCancel)
}

func TestTracingProviderFollowsSessionLifecycle(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.EnableTracing = true
	})

	require.NoError(t, f.session.InitLibrary("app", ShutdownFull))
	assert.NotNil(t, f.session.tracing, "bring-up must install the tracing provider")

	require.NoError(t, f.session.DeinitLibrary())
	assert.Nil(t, f.session.tracing, "teardown must flush and drop the tracing provider")
}

func TestFailedBringUpDropsTracingProvider(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.EnableTracing = true
	})
	f.lifecycle.failNext = errors.New("lifecycle manager unreachable")

	require.ErrorIs(t, f.session.InitLibrary("app", ShutdownFull), ErrLifecycleRegistration)
	assert.Nil(t, f.session.tracing)
}

func TestDeinitContextHonorsDeadline(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.session.InitLibrary("app", ShutdownFull))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// The loop drains fast enough that even a cancelled context usually
	// succeeds; either outcome must leave the session pristine.
	_ = f.session.DeinitContext(ctx)
	assert.Equal(t, 0, f.session.InitCount())
}
