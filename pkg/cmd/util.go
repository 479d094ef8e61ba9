package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tinyzimmer/fastzip/pkg/log"
	"github.com/tinyzimmer/fastzip/pkg/types"
	"github.com/tinyzimmer/fastzip/pkg/util"
)

func completeStringOpts(opts []string) func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return opts, cobra.ShellCompDirectiveNoFileComp
	}
}

func levelOpts() []string {
	opts := make([]string, 0, int(types.BestCompression))
	for l := types.BestSpeed; l <= types.BestCompression; l++ {
		opts = append(opts, strconv.Itoa(int(l)))
	}
	return opts
}

// commandContext returns the context the command was executed with.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// reportArchive logs the size and checksum of a written archive.
func reportArchive(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	sum, err := util.CalculateFileSHA256Sum(path)
	if err != nil {
		return err
	}
	log.Infof("Wrote %q (%s, sha256:%s)\n", path, byteCountSI(info.Size()), sum)
	return nil
}

func byteCountSI(b int64) string {
	const unit = 1000
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB",
		float64(b)/float64(div), "kMGTPE"[exp])
}
