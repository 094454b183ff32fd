// tinix is a teaching multiprocessor kernel: a memory manager, a round-robin
// scheduler, a trap/syscall dispatcher, and a journaling file system, all
// running as simulated CPUs inside one process.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/tinix-os/tinix/internal/cli"
	"github.com/tinix-os/tinix/internal/cli/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	run := cmd.Run()
	help := cmd.Help([]cli.Command{run})

	app := cli.New(ctx).
		WithLogger(os.Stderr).
		WithHelp(help).
		WithCommands([]cli.Command{run, help})

	os.Exit(app.Execute(os.Args[1:]))
}
