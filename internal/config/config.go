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

// Package config loads the persistence client runtime configuration.
// Configuration comes from a YAML file under the XDG config directory,
// with environment variable overrides for the settings that commonly
// differ between deployments.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// MaxAppNameLen is the maximum supported length of an application
	// identifier. Longer names are truncated when committed to a session.
	MaxAppNameLen = 64

	// DefaultBlacklistFileName is the per-application file listing paths
	// excluded from backup creation.
	DefaultBlacklistFileName = "BackupFileList.info"

	// DefaultRCTFileName is the per-application resource configuration
	// table whose presence marks the application as trusted.
	DefaultRCTFileName = "resource-table-cfg.db"

	// DefaultShmDir is the OS resource directory swept for orphaned
	// shared-memory and semaphore artifacts.
	DefaultShmDir = "/dev/shm"

	// DefaultMaxCancelCount bounds how often a mandated shutdown may be
	// cancelled before further cancellations are rejected.
	DefaultMaxCancelCount = 3
)

// Config holds the runtime configuration for the persistence client library.
type Config struct {
	// ShmDir is the directory swept for stale shared-memory and
	// semaphore artifacts on first initialization.
	ShmDir string `yaml:"shm_dir"`

	// CachePrefix is the root under which per-application persistence
	// data (blacklist, resource tables) lives.
	CachePrefix string `yaml:"cache_prefix"`

	// BlacklistFileName is the backup-exclusion file name looked up
	// under <cache_prefix>/<app>/.
	BlacklistFileName string `yaml:"blacklist_file_name"`

	// RCTFileName is the resource-configuration-table file name used by
	// the trust check.
	RCTFileName string `yaml:"rct_file_name"`

	// LifecycleSocket is the unix socket of the node lifecycle manager.
	LifecycleSocket string `yaml:"lifecycle_socket"`

	// AdminSocket is the unix socket of the persistence admin service.
	AdminSocket string `yaml:"admin_socket"`

	// PluginConfig is the path to the custom plugin declaration file.
	PluginConfig string `yaml:"plugin_config"`

	// AccessLockPath is the cross-process persistence access lock file.
	AccessLockPath string `yaml:"access_lock_path"`

	// MaxCancelCount is the shutdown cancellation budget.
	MaxCancelCount int `yaml:"max_cancel_count"`

	// EnableFileCache enables the per-application file cache layer.
	EnableFileCache bool `yaml:"enable_file_cache"`

	// EnableAdminService enables registration with the admin service.
	EnableAdminService bool `yaml:"enable_admin_service"`

	// EnableTrustCheck enables the application trust check.
	EnableTrustCheck bool `yaml:"enable_trust_check"`

	// WatchBlacklist reloads the backup blacklist when its file changes
	// on disk, instead of reading it once at initialization.
	WatchBlacklist bool `yaml:"watch_blacklist"`

	// EnableTracing installs an OpenTelemetry provider so bring-up and
	// teardown produce spans. Off by default; embedding applications
	// that install their own provider leave this disabled.
	EnableTracing bool `yaml:"enable_tracing"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		ShmDir:            DefaultShmDir,
		CachePrefix:       "/var/cache/persist",
		BlacklistFileName: DefaultBlacklistFileName,
		RCTFileName:       DefaultRCTFileName,
		LifecycleSocket:   defaultSocketPath("lifecycle.sock"),
		AdminSocket:       defaultSocketPath("admin.sock"),
		AccessLockPath:    defaultSocketPath("access.lock"),
		MaxCancelCount:    DefaultMaxCancelCount,
	}
}

// Load reads the configuration from the given path. If path is empty the
// default config file location is used. A missing file yields the defaults,
// not an error; a malformed file is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		var err error
		path, err = ConfigPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path: %w", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies environment variable overrides.
func (c *Config) applyEnv() {
	if v := os.Getenv("PERSIST_SHM_DIR"); v != "" {
		c.ShmDir = v
	}
	if v := os.Getenv("PERSIST_CACHE_PREFIX"); v != "" {
		c.CachePrefix = v
	}
	if v := os.Getenv("PERSIST_LIFECYCLE_SOCKET"); v != "" {
		c.LifecycleSocket = v
	}
	if v := os.Getenv("PERSIST_ADMIN_SOCKET"); v != "" {
		c.AdminSocket = v
	}
}

func (c *Config) validate() error {
	if c.MaxCancelCount < 0 {
		return fmt.Errorf("max_cancel_count must be non-negative, got %d", c.MaxCancelCount)
	}
	if c.BlacklistFileName == "" {
		return fmt.Errorf("blacklist_file_name must not be empty")
	}
	return nil
}

// BlacklistPath returns the backup-exclusion file path for an application.
func (c *Config) BlacklistPath(appName string) string {
	return filepath.Join(c.CachePrefix, appName, c.BlacklistFileName)
}

// RCTPath returns the resource-configuration-table path for an application.
func (c *Config) RCTPath(appName string) string {
	return filepath.Join(c.CachePrefix, appName, c.RCTFileName)
}

// defaultSocketPath returns the runtime socket path for the given name.
func defaultSocketPath(name string) string {
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		return filepath.Join(runtimeDir, "persist", name)
	}
	return filepath.Join("/run", "persist", name)
}
