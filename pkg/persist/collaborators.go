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

	"github.com/tombee/persist/internal/config"
	"github.com/tombee/persist/internal/filecache"
	"github.com/tombee/persist/internal/ipc"
	"github.com/tombee/persist/internal/locker"
	"github.com/tombee/persist/internal/plugin"
)

// LifecycleRegistrar registers the application with the node lifecycle
// manager for shutdown notifications.
type LifecycleRegistrar interface {
	RegisterLifecycle(ctx context.Context, app string, mode int) error
	UnregisterLifecycle(ctx context.Context, app string, mode int) error
}

// AdminRegistrar registers the application with the persistence admin
// service.
type AdminRegistrar interface {
	RegisterAdmin(ctx context.Context, app string) error
	UnregisterAdmin(ctx context.Context, app string) error
}

// PluginLoader loads and unloads the configured custom plugins. The async
// init callback passed to LoadAll must be safe to call from another
// goroutine.
type PluginLoader interface {
	LoadAll(asyncInit func(name string, err error)) (int, error)
	DeinitAll() error
	Count() int
}

// AccessLocker manages the cross-process persistence access lock.
type AccessLocker interface {
	Acquire() error
	Release() error
	ReleasePending() error
}

// Cache is the feature-gated file-cache layer as seen by the session.
type Cache interface {
	Deinit() error
}

// CacheOpener opens the file cache for an application.
type CacheOpener func(appName string) (Cache, error)

// Collaborators bundles the external subsystems the orchestrator drives.
// Zero-value fields are replaced by the production implementations; tests
// substitute fakes.
type Collaborators struct {
	Lifecycle  LifecycleRegistrar
	Admin      AdminRegistrar
	Plugins    PluginLoader
	AccessLock AccessLocker
	OpenCache  CacheOpener
}

// withDefaults fills unset collaborators with production implementations
// wired from the configuration.
func (c Collaborators) withDefaults(cfg *config.Config, logger *slog.Logger) Collaborators {
	if c.Lifecycle == nil {
		c.Lifecycle = ipc.NewClient(cfg.LifecycleSocket)
	}
	if c.Admin == nil {
		c.Admin = ipc.NewClient(cfg.AdminSocket)
	}
	if c.Plugins == nil {
		c.Plugins = plugin.NewLoader(cfg.PluginConfig, logger)
	}
	if c.AccessLock == nil {
		c.AccessLock = locker.NewAccessLock(cfg.AccessLockPath)
	}
	if c.OpenCache == nil {
		c.OpenCache = func(appName string) (Cache, error) {
			base, err := config.CacheDir()
			if err != nil {
				return nil, err
			}
			return filecache.Init(base, appName)
		}
	}
	return c
}
