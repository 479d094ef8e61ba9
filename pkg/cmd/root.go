package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh/terminal"

	"github.com/tinyzimmer/fastzip/pkg/config"
	"github.com/tinyzimmer/fastzip/pkg/log"
	"github.com/tinyzimmer/fastzip/pkg/types"
	"github.com/tinyzimmer/fastzip/pkg/util"
)

var (
	configFile string
	engineOpts = types.NewDefaultEngineOptions()
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "A yaml or json file with default engine settings")
	rootCmd.PersistentFlags().StringVar(&util.TempDir, "tmp-dir", util.TempDir, "Override the directory used for working files, defaults to the archive's directory")
	rootCmd.PersistentFlags().IntVarP(&engineOpts.Workers, "workers", "w", 0, "The number of files to compress concurrently, defaults to one per CPU")
	rootCmd.PersistentFlags().BoolVarP(&log.Verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&log.NoColor, "no-color", false, "Disable colored log output")
}

var rootCmd = &cobra.Command{
	Use:   "fastzip",
	Short: "fastzip is a parallel zip archiver",
	Long: `
The fastzip command builds, appends to and extracts zip archives, compressing the files
of a directory in parallel while keeping the layout of the archive deterministic.
`,
	SilenceUsage:      true,
	DisableAutoGenTag: true,
	SilenceErrors:     true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if !terminal.IsTerminal(int(os.Stdout.Fd())) {
			log.NoColor = true
		}
		if configFile == "" {
			return nil
		}
		log.Debugf("Loading configuration from %q\n", configFile)
		cfg, err := config.FromFile(configFile)
		if err != nil {
			return err
		}
		// values given on the command line win over the file
		workers := engineOpts.Workers
		cfg.ApplyTo(engineOpts)
		if cmd.Flags().Changed("workers") {
			engineOpts.Workers = workers
		}
		if cfg.TempDir != "" && !cmd.Flags().Changed("tmp-dir") {
			log.Debugf("Setting tmp dir to %q\n", cfg.TempDir)
			util.TempDir = cfg.TempDir
		}
		return nil
	},
}

// GetRootCommand returns the root fastzip command
func GetRootCommand() *cobra.Command { return rootCmd }
