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

package sweep

import (
	"github.com/spf13/cobra"

	"github.com/tombee/persist/internal/config"
	internallog "github.com/tombee/persist/internal/log"
	artifacts "github.com/tombee/persist/internal/sweep"
)

// NewCommand creates the sweep command
func NewCommand() *cobra.Command {
	var shmDir string

	cmd := &cobra.Command{
		Use:   "sweep <app>",
		Short: "Remove stale shared-memory artifacts for an application",
		Long: `Remove leftover shared-memory segments and named semaphores that a
previous, uncleanly terminated instance of the application left behind.

The library performs this sweep automatically on initialization; the
command exists for manual cleanup and diagnosis.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := internallog.WithApp(internallog.New(internallog.FromEnv()), args[0])
			removed := artifacts.Sweep(shmDir, args[0], logger)
			cmd.Printf("removed %d stale artifact(s) for %q from %s\n", removed, args[0], shmDir)
			return nil
		},
	}

	cmd.Flags().StringVar(&shmDir, "shm-dir", config.DefaultShmDir, "directory holding shared-memory artifacts")

	return cmd
}
