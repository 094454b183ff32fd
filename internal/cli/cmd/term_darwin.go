//go:build darwin
// +build darwin

package cmd

import "golang.org/x/sys/unix"

// Ioctl requests for reading/writing termios state, as used by
// setTerminalParams. Linux and Darwin disagree on the numeric values, same
// split the teacher's tty package carries per-GOOS.
const (
	getTermiosIoctl = unix.TIOCGETA
	setTermiosIoctl = unix.TIOCSETA
)
