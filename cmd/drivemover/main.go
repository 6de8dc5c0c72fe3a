// Command drivemover moves the contents of a Google Drive folder into
// another folder or shared drive, resuming across invocations.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/fang"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := fang.Execute(
		ctx,
		newRootCmd(),
		fang.WithVersion(version),
		fang.WithoutCompletions(),
		fang.WithoutManpage(),
	)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
