package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jinford/doc-rag/internal/app/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "doc-rag:", err)
		stop()
		os.Exit(1)
	}
}
