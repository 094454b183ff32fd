// Package cmd holds tinix's sub-commands: run, which boots the kernel, and
// help, the default when no sub-command (or an unknown one) is given.
package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"sort"

	"github.com/tinix-os/tinix/internal/cli"
	"github.com/tinix-os/tinix/internal/log"
)

// Help returns the default command: it lists every other registered
// sub-command and a one-line description of each.
func Help(commands []cli.Command) cli.Command {
	return &help{commands: commands}
}

type help struct {
	fs       *flag.FlagSet
	commands []cli.Command
}

func (h *help) FlagSet() *cli.FlagSet {
	if h.fs == nil {
		h.fs = flag.NewFlagSet("help", flag.ExitOnError)
	}

	return h.fs
}

func (h *help) Description() string { return "show usage information" }

func (h *help) Usage(out io.Writer) error {
	_, err := fmt.Fprintln(out, "usage: tinix <command> [flags]")
	return err
}

func (h *help) Run(_ context.Context, _ []string, out io.Writer, _ *log.Logger) cli.ExitStatus {
	fmt.Fprintln(out, "tinix is a teaching multiprocessor kernel simulator.")
	fmt.Fprintln(out)

	if err := h.Usage(out); err != nil {
		return cli.ExitUsage
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Commands:")

	names := make([]string, 0, len(h.commands))
	byName := make(map[string]cli.Command, len(h.commands))

	for _, c := range h.commands {
		name := c.FlagSet().Name()
		names = append(names, name)
		byName[name] = c
	}

	sort.Strings(names)

	for _, name := range names {
		fmt.Fprintf(out, "  %-10s %s\n", name, byName[name].Description())
	}

	return cli.ExitUsage
}
