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

// Package handle keeps the in-memory bookkeeping for open persistence
// handles and the companion backup and notification trees. The tables are
// created at library bring-up and destroyed, in order, at teardown.
package handle

import (
	"errors"
	"sync"
)

// ErrInvalidHandle is returned for operations on unknown or closed handles.
var ErrInvalidHandle = errors.New("invalid persistence handle")

// Entry describes one open persistence handle.
type Entry struct {
	// Key is the persistence resource key the handle refers to.
	Key string
	// UserNo and SeatNo scope the resource to a user and seat.
	UserNo uint32
	SeatNo uint32
	// Permission is the access mode the handle was opened with.
	Permission uint32
}

// Table tracks open handles plus the backup and notification trees.
// All methods are safe for concurrent use.
type Table struct {
	mu     sync.RWMutex
	next   int
	open   map[int]Entry
	backup map[string]string
	notify map[string]uint32
}

// NewTable creates an initialized, empty table.
func NewTable() *Table {
	t := &Table{}
	t.Init()
	return t
}

// Init resets the table to its initialized, empty state.
func (t *Table) Init() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next = 1
	t.open = make(map[int]Entry)
	t.backup = make(map[string]string)
	t.notify = make(map[string]uint32)
}

// Open registers a handle entry and returns its handle number.
func (t *Table) Open(e Entry) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.next
	t.next++
	t.open[h] = e
	return h
}

// Get looks up an open handle.
func (t *Table) Get(h int) (Entry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.open[h]
	if !ok {
		return Entry{}, ErrInvalidHandle
	}
	return e, nil
}

// Close removes an open handle.
func (t *Table) Close(h int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.open[h]; !ok {
		return ErrInvalidHandle
	}
	delete(t.open, h)
	return nil
}

// OpenCount returns the number of currently open handles.
func (t *Table) OpenCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.open)
}

// SetBackup records the backup location for a resource key.
func (t *Table) SetBackup(key, backupPath string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.backup[key] = backupPath
}

// SetNotify records a registered change notification for a resource key.
func (t *Table) SetNotify(key string, policy uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notify[key] = policy
}

// DestroyHandles drops all open handle state.
func (t *Table) DestroyHandles() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open = make(map[int]Entry)
	t.next = 1
}

// DestroyBackup drops the backup tree.
func (t *Table) DestroyBackup() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.backup = make(map[string]string)
}

// DestroyNotify drops the notification tree.
func (t *Table) DestroyNotify() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notify = make(map[string]uint32)
}
