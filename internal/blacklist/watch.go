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

package blacklist

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	internallog "github.com/tombee/persist/internal/log"
)

// Watch reloads the set whenever its file is created, rewritten, or removed.
// It watches the parent directory so that editors replacing the file with a
// rename are picked up. Watch blocks until ctx is cancelled; run it in its
// own goroutine. Reload failures are logged and watching continues.
func (s *Set) Watch(ctx context.Context, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = internallog.WithComponent(logger, "blacklist")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create blacklist watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch blacklist directory %s: %w", dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if err := s.Load(); err != nil {
				logger.Warn("blacklist reload failed",
					internallog.String("path", s.path),
					internallog.Error(err))
				continue
			}
			logger.Info("blacklist reloaded",
				internallog.String("path", s.path),
				internallog.Int("entries", s.Len()))

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("blacklist watcher error", internallog.Error(err))
		}
	}
}
