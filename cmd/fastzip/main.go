package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tinyzimmer/fastzip/pkg/cmd"
	"github.com/tinyzimmer/fastzip/pkg/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.GetRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
