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
	"fmt"

	"github.com/spf13/cobra"

	blset "github.com/tombee/persist/internal/blacklist"
	"github.com/tombee/persist/internal/config"
)

// NewCommand creates the blacklist command
func NewCommand() *cobra.Command {
	var (
		configPath string
		filePath   string
	)

	cmd := &cobra.Command{
		Use:   "blacklist <app> <path>",
		Short: "Check a resource path against an application's backup blacklist",
		Long: `Load the application's backup blacklist file and report whether the given
resource path is excluded from backup. Exits non-zero when the path is
blacklisted.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, resource := args[0], args[1]

			path := filePath
			if path == "" {
				cfg, err := config.Load(configPath)
				if err != nil {
					return err
				}
				path = cfg.BlacklistPath(app)
			}

			set := blset.NewSet(path)
			if err := set.Load(); err != nil {
				return fmt.Errorf("failed to load blacklist %s: %w", path, err)
			}

			if set.Contains(resource) {
				cmd.Printf("%s is blacklisted for %s (%d entries in %s)\n", resource, app, set.Len(), path)
				return fmt.Errorf("path %q is excluded from backup", resource)
			}

			cmd.Printf("%s is not blacklisted for %s (%d entries in %s)\n", resource, app, set.Len(), path)
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "configuration file to load")
	cmd.Flags().StringVar(&filePath, "file", "", "blacklist file path (overrides config)")

	return cmd
}
