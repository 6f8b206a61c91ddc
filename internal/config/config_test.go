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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultShmDir, cfg.ShmDir)
	assert.Equal(t, DefaultBlacklistFileName, cfg.BlacklistFileName)
	assert.Equal(t, DefaultMaxCancelCount, cfg.MaxCancelCount)
}

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
shm_dir: /tmp/shm
cache_prefix: /tmp/cache
max_cancel_count: 5
enable_file_cache: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/shm", cfg.ShmDir)
	assert.Equal(t, "/tmp/cache", cfg.CachePrefix)
	assert.Equal(t, 5, cfg.MaxCancelCount)
	assert.True(t, cfg.EnableFileCache)
	// Unset fields keep their defaults.
	assert.Equal(t, DefaultBlacklistFileName, cfg.BlacklistFileName)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("shm_dir: [unclosed"), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsNegativeCancelCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_cancel_count: -1"), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PERSIST_SHM_DIR", "/tmp/override-shm")
	t.Setenv("PERSIST_CACHE_PREFIX", "/tmp/override-cache")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/override-shm", cfg.ShmDir)
	assert.Equal(t, "/tmp/override-cache", cfg.CachePrefix)
}

func TestPathHelpers(t *testing.T) {
	cfg := Default()
	cfg.CachePrefix = "/var/cache/persist"

	assert.Equal(t, "/var/cache/persist/nav/BackupFileList.info", cfg.BlacklistPath("nav"))
	assert.Equal(t, "/var/cache/persist/nav/resource-table-cfg.db", cfg.RCTPath("nav"))
}
