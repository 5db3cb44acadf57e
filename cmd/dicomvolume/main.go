// Command dicomvolume assembles DICOM series and image stacks into windowed
// volumes, slice images and point sets.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"dicomvolume/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
