package cmd

import (
	"github.com/spf13/cobra"

	"github.com/tinyzimmer/fastzip/pkg/engine"
	"github.com/tinyzimmer/fastzip/pkg/log"
	"github.com/tinyzimmer/fastzip/pkg/types"
)

var (
	archiveLevel    int
	archiveExcludes []string
	archiveComment  string
)

func init() {
	for _, c := range []*cobra.Command{archiveFileCmd, archiveDirCmd} {
		c.Flags().IntVarP(&archiveLevel, "level", "l", int(types.DefaultLevel), "The compression level to use, from 1 (fastest) to 9 (smallest)")
		c.RegisterFlagCompletionFunc("level", completeStringOpts(levelOpts()))
		c.Flags().StringVar(&archiveComment, "comment", "", "A template to render into the archive comment")
	}
	archiveDirCmd.Flags().StringArrayVarP(&archiveExcludes, "exclude", "e", nil, "Patterns of paths to leave out of the archive, may be given multiple times")

	archiveCmd.AddCommand(archiveFileCmd)
	archiveCmd.AddCommand(archiveDirCmd)
	rootCmd.AddCommand(archiveCmd)
}

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Add files or directories to an archive",
	Long: `
Adds to the archive at the given path, creating it when it does not exist. Entries already
present in the archive are kept unless a new entry replaces them.
`,
}

var archiveFileCmd = &cobra.Command{
	Use:   "file SOURCE ARCHIVE",
	Short: "Add a single file to an archive",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, level := archiveOptions(cmd)
		log.Infof("Adding %q to %q at level %d\n", args[0], args[1], level)
		if err := engine.New(opts).ArchiveFile(commandContext(cmd), args[0], args[1], level); err != nil {
			return err
		}
		return reportArchive(args[1])
	},
}

var archiveDirCmd = &cobra.Command{
	Use:   "dir SOURCE_DIR ARCHIVE",
	Short: "Add the contents of a directory to an archive",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, level := archiveOptions(cmd)
		log.Infof("Adding the contents of %q to %q at level %d\n", args[0], args[1], level)
		if err := engine.New(opts).ArchiveDir(commandContext(cmd), args[0], args[1], level); err != nil {
			return err
		}
		return reportArchive(args[1])
	},
}

// archiveOptions merges the archive flags into a copy of the engine options and returns
// it with the level to compress at.
func archiveOptions(cmd *cobra.Command) (*types.EngineOptions, types.Level) {
	opts := engineOpts.DeepCopy()
	opts.Excludes = append(opts.Excludes, archiveExcludes...)
	if cmd.Flags().Changed("comment") {
		opts.Comment = archiveComment
	}
	level := opts.Level
	if cmd.Flags().Changed("level") {
		level = types.Level(archiveLevel)
	}
	return opts, level
}
