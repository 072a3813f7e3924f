// Package main is the entry point for the lognexusctl CLI tool.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/good-yellow-bee/lognexus/cmd/lognexusctl/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := cmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
