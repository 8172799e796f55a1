package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/hrygo/jcp/internal/version"
)

// VersionInfo is printed by 'jcp version'.
type VersionInfo struct {
	Version string `json:"version" yaml:"version"`
	Go      string `json:"go" yaml:"go"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		mode := "prod"
		if p, err := GetProfile(); err == nil {
			mode = p.Mode
		}
		info := VersionInfo{Version: version.GetCurrentVersion(mode), Go: runtime.Version()}
		if done, err := printStructured(cmd.OutOrStdout(), info); done {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "jcp %s\n", info.Version)
		if verbose {
			fmt.Fprintf(cmd.OutOrStdout(), "  go:     %s\n", info.Go)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
