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

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tombee/persist/internal/commands/blacklist"
	"github.com/tombee/persist/internal/commands/sweep"
	"github.com/tombee/persist/internal/commands/trust"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "persistctl",
		Short: "Inspect and maintain persistence client state",
		Long: `persistctl works on the on-disk state of the persistence client library:
stale shared-memory artifacts, trust configuration, and backup blacklists.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(sweep.NewCommand())
	rootCmd.AddCommand(trust.NewCommand())
	rootCmd.AddCommand(blacklist.NewCommand())

	for _, sub := range rootCmd.Commands() {
		bindFlagEnv(sub)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// bindFlagEnv seeds flag defaults from PERSISTCTL_<FLAG> environment
// variables, so e.g. PERSISTCTL_SHM_DIR overrides --shm-dir. Explicit
// command-line flags still win.
func bindFlagEnv(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		key := "PERSISTCTL_" + strings.ToUpper(strings.ReplaceAll(flag.Name, "-", "_"))
		if val, ok := os.LookupEnv(key); ok {
			_ = flag.Value.Set(val)
		}
	})
}
