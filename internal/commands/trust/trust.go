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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tombee/persist/internal/config"
	internallog "github.com/tombee/persist/internal/log"
	trustgate "github.com/tombee/persist/internal/trust"
)

// NewCommand creates the trust command
func NewCommand() *cobra.Command {
	var (
		configPath string
		rctPath    string
	)

	cmd := &cobra.Command{
		Use:   "trust <app>",
		Short: "Check whether an application is trusted",
		Long: `Check whether the application's resource configuration table is present,
which is what the library uses as the trust criterion. Exits non-zero for
an untrusted application.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rctPath
			if path == "" {
				cfg, err := config.Load(configPath)
				if err != nil {
					return err
				}
				path = cfg.RCTPath(args[0])
			}

			logger := internallog.WithApp(internallog.New(internallog.FromEnv()), args[0])
			verdict := trustgate.NewGate(path, logger).Check(args[0])
			cmd.Printf("%s: %s (rct: %s)\n", args[0], verdict, path)

			if verdict != trustgate.Trusted {
				return fmt.Errorf("application %q is not trusted", args[0])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "configuration file to load")
	cmd.Flags().StringVar(&rctPath, "rct", "", "resource configuration table path (overrides config)")

	return cmd
}
