// Package main provides the reposync CLI, which keeps a Debian package
// repository in sync with upstream product releases.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ochairo/reposync/internal/domain/services"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		reportError(err)
		stop()
		os.Exit(1)
	}
}

// reportError prints a fatal error, preceded by the captured tool output of a failed build
func reportError(err error) {
	var failure *services.BuildFailure
	if errors.As(err, &failure) && failure.Output != "" {
		fmt.Fprintf(os.Stderr, "%s\n", failure.Output)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}
