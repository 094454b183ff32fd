package cmd_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tinix-os/tinix/internal/cli"
	"github.com/tinix-os/tinix/internal/cli/cmd"
	"github.com/tinix-os/tinix/internal/log"
)

func TestHelpListsRegisteredCommands(t *testing.T) {
	run := cmd.Run()
	h := cmd.Help([]cli.Command{run})

	var out bytes.Buffer

	logger := log.NewFormattedLogger(&out)
	h.Run(context.Background(), nil, &out, logger)

	require.Contains(t, out.String(), "run")
	require.Contains(t, out.String(), run.Description())
}

func TestHelpUsage(t *testing.T) {
	run := cmd.Run()
	h := cmd.Help([]cli.Command{run})

	var out bytes.Buffer
	require.NoError(t, h.Usage(&out))
	require.Contains(t, out.String(), "tinix")
}

func TestRunFlagDefaults(t *testing.T) {
	run := cmd.Run()

	fs := run.FlagSet()
	require.Equal(t, "run", fs.Name())
	require.NotNil(t, fs.Lookup("ncpu"))
	require.NotNil(t, fs.Lookup("frames"))
	require.NotNil(t, fs.Lookup("blocks"))
	require.NotNil(t, fs.Lookup("inodes"))
	require.NotNil(t, fs.Lookup("logsize"))
}

func TestRunBootsAndExecutesInit(t *testing.T) {
	run := cmd.Run()

	fs := run.FlagSet()
	require.NoError(t, fs.Parse([]string{
		"-ncpu", "2",
		"-frames", "4096",
		"-blocks", "200",
		"-inodes", "50",
		"-logsize", "30",
	}))

	var out bytes.Buffer

	logger := log.NewFormattedLogger(&out)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	code := run.Run(ctx, nil, &out, logger)

	require.Equal(t, 0, code)
	require.True(t, strings.Contains(out.String(), "tinix: booted with 2 cpus"), out.String())
}
