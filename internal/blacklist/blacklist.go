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

// Package blacklist maintains the set of resource paths excluded from
// backup creation. The set is loaded from a per-application file with one
// entry per line; entries may be literal paths or doublestar glob patterns.
// A missing file means an empty set, never an error.
package blacklist

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// Set holds backup-exclusion entries. It is safe for concurrent use; a
// reload swaps the whole entry list atomically under the write lock.
type Set struct {
	mu       sync.RWMutex
	path     string
	literals map[string]struct{}
	patterns []string
}

// NewSet creates an empty set bound to the given blacklist file path.
func NewSet(path string) *Set {
	return &Set{
		path:     path,
		literals: make(map[string]struct{}),
	}
}

// Path returns the file the set loads from.
func (s *Set) Path() string { return s.path }

// Load reads the blacklist file and replaces the current entries. Lines are
// trimmed; blank lines and lines starting with '#' are ignored. Lines
// containing glob metacharacters are kept as patterns, everything else is a
// literal path. A missing file clears the set and returns nil.
func (s *Set) Load() error {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.replace(make(map[string]struct{}), nil)
			return nil
		}
		return fmt.Errorf("failed to open blacklist file %s: %w", s.path, err)
	}
	defer f.Close()

	literals := make(map[string]struct{})
	var patterns []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.ContainsAny(line, "*?[{") {
			if !doublestar.ValidatePattern(line) {
				return fmt.Errorf("invalid blacklist pattern %q in %s", line, s.path)
			}
			patterns = append(patterns, line)
		} else {
			literals[line] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read blacklist file %s: %w", s.path, err)
	}

	s.replace(literals, patterns)
	return nil
}

func (s *Set) replace(literals map[string]struct{}, patterns []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.literals = literals
	s.patterns = patterns
}

// Contains reports whether path is excluded from backup, either by a
// literal entry or by a glob pattern.
func (s *Set) Contains(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.literals[path]; ok {
		return true
	}
	for _, pattern := range s.patterns {
		if ok, err := doublestar.Match(pattern, path); err == nil && ok {
			return true
		}
	}
	return false
}

// Len returns the number of entries currently loaded.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.literals) + len(s.patterns)
}
