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

package trust

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckTrusted(t *testing.T) {
	rct := filepath.Join(t.TempDir(), "resource-table-cfg.db")
	require.NoError(t, os.WriteFile(rct, []byte("rct"), 0600))

	g := NewGate(rct, nil)
	assert.Equal(t, Trusted, g.Check("nav"))
	assert.Equal(t, Trusted, g.Verdict())
}

func TestCheckUntrusted(t *testing.T) {
	g := NewGate(filepath.Join(t.TempDir(), "missing.db"), nil)
	assert.Equal(t, Untrusted, g.Check("nav"))
}

func TestTrustedVerdictIsSticky(t *testing.T) {
	dir := t.TempDir()
	rct := filepath.Join(dir, "resource-table-cfg.db")
	require.NoError(t, os.WriteFile(rct, []byte("rct"), 0600))

	g := NewGate(rct, nil)
	require.Equal(t, Trusted, g.Check("nav"))

	// Removing the table does not revoke an established verdict.
	require.NoError(t, os.Remove(rct))
	assert.Equal(t, Trusted, g.Check("nav"))
}

func TestUntrustedIsRecheckedLazily(t *testing.T) {
	dir := t.TempDir()
	rct := filepath.Join(dir, "resource-table-cfg.db")

	g := NewGate(rct, nil)
	require.Equal(t, Untrusted, g.Check("nav"))

	// The table appearing later upgrades the verdict on the next check.
	require.NoError(t, os.WriteFile(rct, []byte("rct"), 0600))
	assert.Equal(t, Trusted, g.Check("nav"))
}

func TestVerdictStartsUndetermined(t *testing.T) {
	g := NewGate(filepath.Join(t.TempDir(), "missing.db"), nil)
	assert.Equal(t, Undetermined, g.Verdict())
}
