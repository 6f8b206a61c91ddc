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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/persist/internal/handle"
	"github.com/tombee/persist/internal/loop"
)

func TestBridgeRunsExactlyWhileInitialized(t *testing.T) {
	f := newFixture(t, nil)

	assert.False(t, f.session.bridge.Running())

	require.NoError(t, f.session.InitLibrary("app", ShutdownFull))
	assert.True(t, f.session.bridge.Running())

	require.NoError(t, f.session.InitLibrary("app", ShutdownFull))
	require.NoError(t, f.session.DeinitLibrary())
	assert.True(t, f.session.bridge.Running(), "loop stays up while the counter is positive")

	require.NoError(t, f.session.DeinitLibrary())
	assert.False(t, f.session.bridge.Running())

	// The full-shutdown prepare sent during teardown must not take the
	// cross-process access lock; only partial-shutdown votes do.
	assert.Equal(t, 0, f.lock.acquireCount())
}

func TestTeardownDestroysHandleTables(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.session.InitLibrary("app", ShutdownFull))

	h := f.session.handles.Open(handle.Entry{Key: "status/position", UserNo: 1, SeatNo: 0})
	f.session.handles.SetBackup("status/position", "/var/backup/position")
	f.session.handles.SetNotify("status/position", 1)
	require.Equal(t, 1, f.session.handles.OpenCount())

	require.NoError(t, f.session.DeinitLibrary())

	assert.Equal(t, 0, f.session.handles.OpenCount())
	_, err := f.session.handles.Get(h)
	assert.ErrorIs(t, err, handle.ErrInvalidHandle)
}

// recordingBridge wraps the production bridge to capture the messages the
// session delivers and the handle-table population at join time.
type recordingBridge struct {
	inner *loop.Bridge

	mu         sync.Mutex
	sent       []loop.Message
	openAtJoin int
	onJoin     func() int
}

func (r *recordingBridge) Start() error  { return r.inner.Start() }
func (r *recordingBridge) Running() bool { return r.inner.Running() }

func (r *recordingBridge) Deliver(msg loop.Message) error {
	err := r.inner.Deliver(msg)
	if err == nil {
		r.mu.Lock()
		r.sent = append(r.sent, msg)
		r.mu.Unlock()
	}
	return err
}

func (r *recordingBridge) Join(ctx context.Context) error {
	err := r.inner.Join(ctx)
	if err == nil && r.onJoin != nil {
		r.mu.Lock()
		r.openAtJoin = r.onJoin()
		r.mu.Unlock()
	}
	return err
}

func TestTeardownMessageProtocol(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := &recordingBridge{inner: loop.New(nil, logger), openAtJoin: -1}

	s, err := NewSession(
		withConfig(testConfig(t)),
		withBridge(rec),
		WithLogger(logger),
		WithCollaborators(Collaborators{
			Lifecycle:  &fakeLifecycle{},
			Admin:      &fakeAdmin{},
			Plugins:    &fakePlugins{},
			AccessLock: &fakeLock{},
			OpenCache:  func(string) (Cache, error) { return nil, errors.New("no cache in tests") },
		}),
	)
	require.NoError(t, err)
	rec.onJoin = func() int { return s.handles.OpenCount() }

	require.NoError(t, s.InitLibrary("app", ShutdownFull))
	s.handles.Open(handle.Entry{Key: "status/position"})

	require.NoError(t, s.DeinitLibrary())

	rec.mu.Lock()
	defer rec.mu.Unlock()

	// Exactly two messages, in order: prepare-shutdown-full, then quit.
	require.Len(t, rec.sent, 2)
	assert.Equal(t, loop.CmdPrepareShutdown, rec.sent[0].Cmd)
	assert.Equal(t, loop.ShutdownFull, rec.sent[0].Params[0])
	assert.Equal(t, loop.CmdQuit, rec.sent[1].Cmd)

	// The loop goroutine was joined before handle destruction began.
	assert.Equal(t, 1, rec.openAtJoin)
	assert.Equal(t, 0, s.handles.OpenCount())
}

func TestStopLoopToleratesStoppedBridge(t *testing.T) {
	f := newFixture(t, nil)

	// Never started: delivery fails with the not-running sentinel, which
	// teardown treats as already stopped.
	assert.NoError(t, f.session.stopLoop(context.Background()))
}
