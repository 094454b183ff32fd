// Package console implements the line-editing terminal device: an input
// ring buffer fed a byte at a time by whatever drives the keyboard, and a
// synchronous writer for console output. It registers as an fs.Device the
// way the teacher kernel's consoleinit wires consoleread/consolewrite into
// the device switch.
package console

import (
	"io"

	"github.com/tinix-os/tinix/internal/lock"
)

// Major is the device-switch major number consoled registers itself under.
const Major = 1

// inputBuf is the size of the line-discipline input ring.
const inputBuf = 128

// ^X control codes the line discipline recognizes.
const (
	ctrlD = 0x04 // EOF
	ctrlH = 0x08 // backspace
	ctrlP = 0x10 // process dump
	ctrlU = 0x15 // kill line
	del   = 0x7f
)

// Killed reports whether a process has been marked killed, letting a reader
// blocked on empty input give up instead of waiting forever. internal/proc's
// Table implements this.
type Killed interface {
	IsKilled(cpu *lock.CPU, pid int) bool
}

// Console is the console device: an input line discipline plus a direct
// passthrough writer.
type Console struct {
	spin *lock.Spinlock
	sched lock.Scheduler
	killed Killed

	out io.Writer

	buf        [inputBuf]byte
	r, w, e    uint

	// dump, when non-nil, is invoked (outside the console lock) on ^P, the
	// process-listing hotkey.
	dump func()
}

// New creates a console writing to out, with input fed by Intr.
func New(out io.Writer, sched lock.Scheduler, killed Killed) *Console {
	return &Console{
		spin:   lock.New("console"),
		sched:  sched,
		killed: killed,
		out:    out,
	}
}

// OnProcDump registers the callback ^P invokes.
func (c *Console) OnProcDump(fn func()) { c.dump = fn }

// Intr feeds one input byte through the line discipline, same switch the
// teacher kernel's consoleintr runs per keystroke: ^U kills the current
// line, ^H/DEL erases one character, everything else is buffered (and
// echoed) until a newline or ^D closes out a line for readers.
func (c *Console) Intr(cpu *lock.CPU, b byte) {
	c.spin.Acquire(cpu)

	dump := false

	switch b {
	case ctrlP:
		dump = true
	case ctrlU:
		for c.e != c.w && c.buf[(c.e-1)%inputBuf] != '\n' {
			c.e--
			c.echo(ctrlH)
		}
	case ctrlH, del:
		if c.e != c.w {
			c.e--
			c.echo(ctrlH)
		}
	default:
		if b != 0 && c.e-c.r < inputBuf {
			if b == '\r' {
				b = '\n'
			}

			c.buf[c.e%inputBuf] = b
			c.e++
			c.echo(b)

			if b == '\n' || b == ctrlD || c.e == c.r+inputBuf {
				c.w = c.e
				c.sched.Wakeup(cpu, &c.r)
			}
		}
	}

	c.spin.Release(cpu)

	if dump && c.dump != nil {
		c.dump()
	}
}

// echo writes b back out immediately; ^H is rendered as backspace-space-
// backspace so the erased character visually disappears.
func (c *Console) echo(b byte) {
	if b == ctrlH {
		io.WriteString(c.out, "\b \b")
		return
	}

	c.out.Write([]byte{b})
}

// Read implements fs.Device: it blocks until at least one line (or ^D) is
// available, then copies up to len(dst) bytes of it out, consuming ^D
// without copying it.
func (c *Console) Read(cpu *lock.CPU, pid int, dst []byte) (int, error) {
	c.spin.Acquire(cpu)
	defer c.spin.Release(cpu)

	n := 0

	for n < len(dst) {
		for c.r == c.w {
			if c.killed.IsKilled(cpu, pid) {
				return n, io.ErrClosedPipe
			}

			c.sched.Sleep(cpu, &c.r, c.spin)
		}

		b := c.buf[c.r%inputBuf]
		c.r++

		if b == ctrlD {
			if n > 0 {
				c.r-- // leave it for the next read
			}

			break
		}

		dst[n] = b
		n++

		if b == '\n' {
			break
		}
	}

	return n, nil
}

// Write implements fs.Device: every byte is echoed straight through.
func (c *Console) Write(cpu *lock.CPU, pid int, src []byte) (int, error) {
	c.spin.Acquire(cpu)
	defer c.spin.Release(cpu)

	for _, b := range src {
		c.echo(b)
	}

	return len(src), nil
}
