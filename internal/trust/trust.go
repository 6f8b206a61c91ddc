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

// Package trust determines whether the calling application is authorized
// for elevated persistence operations. An application counts as trusted
// when its resource configuration table exists at the expected path. The
// verdict is cached for the process lifetime once established.
package trust

import (
	"log/slog"
	"os"
	"sync"

	internallog "github.com/tombee/persist/internal/log"
)

// Verdict is the cached trust decision for an application.
type Verdict int

const (
	// Undetermined means no check has succeeded in establishing trust yet;
	// the gate re-checks lazily while in this state.
	Undetermined Verdict = iota
	// Trusted means the resource configuration table was found.
	Trusted
	// Untrusted means the table was absent at the last check.
	Untrusted
)

func (v Verdict) String() string {
	switch v {
	case Trusted:
		return "trusted"
	case Untrusted:
		return "untrusted"
	default:
		return "undetermined"
	}
}

// Gate caches the trust verdict for one application.
type Gate struct {
	rctPath string
	logger  *slog.Logger

	mu      sync.Mutex
	verdict Verdict
}

// NewGate creates a trust gate checking for the resource configuration
// table at rctPath.
func NewGate(rctPath string, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		rctPath: rctPath,
		logger:  internallog.WithComponent(logger, "trust"),
	}
}

// Check returns the trust verdict for appName, probing the filesystem only
// while the verdict is not yet Trusted. Once an application has been seen
// as trusted it stays trusted for the process lifetime.
func (g *Gate) Check(appName string) Verdict {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.verdict == Trusted {
		return Trusted
	}

	if _, err := os.Stat(g.rctPath); err == nil {
		g.verdict = Trusted
		g.logger.Info("application is trusted",
			internallog.String(internallog.AppIDKey, appName))
	} else {
		g.verdict = Untrusted
		g.logger.Info("application is NOT trusted",
			internallog.String(internallog.AppIDKey, appName),
			internallog.String("rct_path", g.rctPath))
	}

	return g.verdict
}

// Verdict returns the cached verdict without probing the filesystem.
func (g *Gate) Verdict() Verdict {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.verdict
}
