package cmd

import (
	"bufio"
	"context"
	"os"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// consoleTerminal puts the process's own stdin in raw mode and streams it a
// byte at a time into the simulated console's line discipline, the same
// role the teacher's tty.Console plays between a host terminal and the
// simulated keyboard device: readTerminal there feeds a channel that
// updateKeyboard drains one key at a time, which is exactly what
// console.Console.Intr already expects to be called with.
type consoleTerminal struct {
	fd    int
	saved *term.State
}

// openConsoleTerminal puts stdin in raw mode, if it is a terminal at all.
// Piped or redirected stdin (as in tests or scripted runs) is left alone and
// openConsoleTerminal returns nil, nil: the console still works, it just
// isn't fed by a live keyboard.
func openConsoleTerminal() (*consoleTerminal, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, nil
	}

	saved, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}

	ct := &consoleTerminal{fd: fd, saved: saved}

	if err := ct.setTerminalParams(1, 0); err != nil {
		_ = term.Restore(fd, saved)
		return nil, err
	}

	return ct, nil
}

// setTerminalParams configures the read-blocking behavior of the raw
// terminal, matching the teacher's tty.Console.setTerminalParams: VMIN
// bytes must be available before a read returns, with VTIME tenths of a
// second between bytes before giving up.
func (ct *consoleTerminal) setTerminalParams(vmin, vtime byte) error {
	termIO, err := unix.IoctlGetTermios(ct.fd, getTermiosIoctl)
	if err != nil {
		return err
	}

	termIO.Cc[unix.VMIN] = vmin
	termIO.Cc[unix.VTIME] = vtime

	return unix.IoctlSetTermios(ct.fd, setTermiosIoctl, termIO)
}

// feed reads stdin a byte at a time and calls intr for each one, until ctx
// is cancelled. It unblocks a pending read the same way the teacher's
// Console.Restore does: setting a read deadline in the past.
func (ct *consoleTerminal) feed(ctx context.Context, intr func(byte)) {
	go func() {
		<-ctx.Done()
		_ = os.Stdin.SetReadDeadline(time.Now())
	}()

	buf := bufio.NewReader(os.Stdin)

	for {
		b, err := buf.ReadByte()
		if err != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		default:
			intr(b)
		}
	}
}

// restore returns stdin to its original terminal state.
func (ct *consoleTerminal) restore() {
	_ = term.Restore(ct.fd, ct.saved)
}
