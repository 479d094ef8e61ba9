package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tinyzimmer/fastzip/pkg/version"
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display version information for fastzip",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "fastzip Version:", version.Version)
		fmt.Fprintln(cmd.OutOrStdout(), "fastzip GitCommit:", version.Commit)
	},
}
