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

// Package locker manages the cross-process persistence access lock. The
// admin service takes this lock while it owns the data (backup, import,
// partial shutdown); the client library releases it to resume normal
// operation. The lock is a file under the runtime directory guarded by
// flock, so a crashed holder never leaves it stuck.
package locker

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
)

// ErrLockHeld is returned when another process holds the access lock.
var ErrLockHeld = errors.New("persistence access lock held by another process")

// AccessLock is a file-backed, flock-guarded cross-process lock. A handle
// is shared between caller goroutines and the event-loop goroutine, so all
// methods are safe for concurrent use.
type AccessLock struct {
	path string

	mu       sync.Mutex
	lockFile *os.File
}

// NewAccessLock creates a lock handle for the given lock file path.
func NewAccessLock(path string) *AccessLock {
	return &AccessLock{path: path}
}

// Acquire takes the lock, creating the lock file if needed. It fails with
// ErrLockHeld if another process owns it.
func (l *AccessLock) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.lockFile != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0700); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if err == syscall.EWOULDBLOCK {
			return ErrLockHeld
		}
		return fmt.Errorf("failed to lock %s: %w", l.path, err)
	}

	l.lockFile = f
	return nil
}

// Release drops the lock if held by this handle. Releasing an unheld lock
// is a no-op.
func (l *AccessLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.releaseLocked()
}

func (l *AccessLock) releaseLocked() error {
	if l.lockFile == nil {
		return nil
	}

	syscall.Flock(int(l.lockFile.Fd()), syscall.LOCK_UN)
	err := l.lockFile.Close()
	l.lockFile = nil
	return err
}

// ReleasePending removes a lock file left over from a prior partial
// shutdown of an earlier process generation. A missing file is a no-op;
// any other failure is reported so the caller can log it.
func (l *AccessLock) ReleasePending() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.lockFile != nil {
		return l.releaseLocked()
	}

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale access lock %s: %w", l.path, err)
	}
	return nil
}

// Held reports whether this handle currently owns the lock.
func (l *AccessLock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lockFile != nil
}
