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

// Package sweep reclaims orphaned OS resources left behind by a previous,
// uncleanly terminated process generation of the same application.
//
// Shared-memory segments and named semaphores appear as files under a
// well-known directory (/dev/shm on Linux), named after a sanitized form of
// the owning application name. Sweeping is best-effort crash recovery: it
// never blocks or fails initialization.
package sweep

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	internallog "github.com/tombee/persist/internal/log"
)

// Token derives the artifact-name token for an application. Every byte of
// the application name that is not an ASCII letter or digit is replaced
// with an underscore, matching how shared-memory and semaphore artifacts
// are named by the OS resource layer.
func Token(appName string) string {
	var b strings.Builder
	b.Grow(len(appName))
	for i := 0; i < len(appName); i++ {
		c := appName[i]
		if ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9') {
			b.WriteByte(c)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Sweep removes every entry of dir whose name contains the sanitized token
// of appName. Entries named "." or ".." are never considered. Each removal
// is logged. Failure to read the directory or to remove an individual entry
// is non-fatal; Sweep returns the number of artifacts actually removed.
func Sweep(dir, appName string, logger *slog.Logger) int {
	if dir == "" || appName == "" {
		return 0
	}

	token := Token(appName)

	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Warn("artifact sweep skipped, cannot read resource directory",
			internallog.String("dir", dir),
			internallog.Error(err))
		return 0
	}

	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if name == "." || name == ".." || !strings.Contains(name, token) {
			continue
		}

		path := filepath.Join(dir, name)
		if err := os.Remove(path); err != nil {
			logger.Warn("failed to remove stale artifact",
				internallog.String(internallog.ArtifactKey, path),
				internallog.Error(err))
			continue
		}

		logger.Warn("removed stale shared-memory/semaphore artifact",
			internallog.String(internallog.ArtifactKey, path),
			internallog.String(internallog.AppIDKey, appName))
		removed++
	}

	return removed
}
