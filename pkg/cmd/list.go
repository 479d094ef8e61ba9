package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tinyzimmer/fastzip/pkg/engine"
)

func init() {
	rootCmd.AddCommand(listCmd)
}

var listCmd = &cobra.Command{
	Use:     "list ARCHIVE",
	Aliases: []string{"ls"},
	Short:   "List the contents of the given archive",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, comment, err := engine.New(engineOpts).List(args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		fmt.Fprintln(out)
		fmt.Fprintln(out, "ARCHIVE:", args[0])
		fmt.Fprintln(out, "ENTRIES:", len(entries))
		if comment != "" {
			fmt.Fprintln(out, "COMMENT:", comment)
		}
		fmt.Fprintln(out)
		for _, e := range entries {
			if e.IsDir() {
				fmt.Fprintf(out, "  %-7s %10s %10s  %s  %s\n", "dir", "-", "-", e.Modified.UTC().Format("2006-01-02 15:04"), e.Name)
				continue
			}
			fmt.Fprintf(out, "  %-7s %10s %10s  %s  %s\n",
				e.Method, byteCountSI(e.UncompressedSize), byteCountSI(e.CompressedSize),
				e.Modified.UTC().Format("2006-01-02 15:04"), e.Name)
		}
		fmt.Fprintln(out)
		return nil
	},
}
