// Command cwrite is the grammar-checking server and command-line client.
//
// cwrite serve runs the HTTP API; cwrite check proofreads files from the
// terminal using the same configuration.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cwrite: %v\n", err)
		os.Exit(1)
	}
}
