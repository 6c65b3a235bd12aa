// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keychain-pgp.
//
// go-keychain-pgp is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-keychain-pgp/internal/server"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/apiversion"
)

// Version information (injected at build time via -ldflags)
var (
	Version   = ""        // Set via -ldflags "-X github.com/jeremyhahn/go-keychain-pgp/internal/cli.Version=x.y.z"
	GitCommit = "unknown" // Set via -ldflags "-X github.com/jeremyhahn/go-keychain-pgp/internal/cli.GitCommit=abc123"
	BuildDate = "unknown" // Set via -ldflags "-X github.com/jeremyhahn/go-keychain-pgp/internal/cli.BuildDate=2025-01-15"
)

func version() string {
	if Version != "" {
		return Version
	}
	return server.BuildVersion()
}

func newVersionCmd(cc *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  `Print the version information for the keychain-pgp CLI`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cc.cfg.OutputFormat == string(OutputFormatJSON) {
				return cc.printer(cmd).printJSON(map[string]interface{}{
					"version":      version(),
					"commit":       GitCommit,
					"build_date":   BuildDate,
					"api_versions": apiversion.Supported(),
					"go_version":   runtime.Version(),
					"os":           runtime.GOOS,
					"arch":         runtime.GOARCH,
				})
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "keychain-pgp version %s\n", version())
			fmt.Fprintf(w, "Git commit: %s\n", GitCommit)
			fmt.Fprintf(w, "Build date: %s\n", BuildDate)
			fmt.Fprintf(w, "API versions: %d-%d\n", apiversion.MinSupported, apiversion.MaxSupported)
			fmt.Fprintf(w, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(w, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
			return nil
		},
	}
}
