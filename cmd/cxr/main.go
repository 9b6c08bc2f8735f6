// Command cxr inspects and exercises the chest X-ray data pipeline: it builds
// the cross-validation split, verifies that every sample loads, renders
// previews with their opacity masks and trains a quick probe classifier.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{}
	if err := rootCommand(a).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		a.sync()
		os.Exit(1)
	}
	a.sync()
}
