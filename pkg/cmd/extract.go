package cmd

import (
	"github.com/spf13/cobra"

	"github.com/tinyzimmer/fastzip/pkg/engine"
	"github.com/tinyzimmer/fastzip/pkg/log"
)

func init() {
	rootCmd.AddCommand(extractCmd)
}

var extractCmd = &cobra.Command{
	Use:   "extract ARCHIVE DEST",
	Short: "Extract the contents of an archive to a directory",
	Long: `
Extracts every entry of the archive below DEST, creating it if needed. Entries are checked
against their recorded checksums and nothing is written for archives with entries that
would land outside of DEST.
`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		log.Infof("Extracting %q to %q\n", args[0], args[1])
		if err := engine.New(engineOpts).Extract(commandContext(cmd), args[0], args[1]); err != nil {
			return err
		}
		log.Info("Extraction complete")
		return nil
	},
}
