// Package trap implements the boundary between a running process and the
// kernel: the trap dispatcher that switches on a trap frame's vector number,
// and (in syscall.go) the argument-fetch layer and dispatch table behind the
// one vector that matters most, the system call.
//
// Every process in this kernel runs as a Process.Entry closure rather than a
// raw instruction stream (see internal/proc's doc comment), so there is no
// assembly trap stub to vector control here automatically. Instead, the
// facade in facade.go stages a trap frame exactly as the real stub would --
// syscall number in EAX, arguments on the simulated user stack below ESP --
// and calls Dispatch directly, so everything downstream of "a trap has
// occurred" runs unmodified from how it would on real hardware.
package trap

import (
	kcpu "github.com/tinix-os/tinix/internal/cpu"
	"github.com/tinix-os/tinix/internal/file"
	"github.com/tinix-os/tinix/internal/fs"
	"github.com/tinix-os/tinix/internal/fslog"
	"github.com/tinix-os/tinix/internal/log"
	"github.com/tinix-os/tinix/internal/proc"
)

// Kernel bundles the subsystems a trap handler needs to reach: the process
// table, the mounted file system and the journal guarding it, and the
// system-wide open file table.
type Kernel struct {
	Procs   *proc.Table
	FS      *fs.FS
	Journal *fslog.Log
	Files   *file.Table

	log *log.Logger
}

// New creates a Kernel ready to dispatch traps for processes running under
// procs, backed by the given mounted file system, journal, and file table.
func New(procs *proc.Table, fsys *fs.FS, jlog *fslog.Log, files *file.Table) *Kernel {
	return &Kernel{
		Procs:   procs,
		FS:      fsys,
		Journal: jlog,
		Files:   files,
		log:     log.DefaultLogger(),
	}
}

// Dispatch services one trap for p on CPU c, switching on p.TrapFrame.TrapNo
// exactly as the original kernel's trap() does. Device interrupts other than
// the timer are acknowledged and logged only: this simulation's devices
// (internal/blockdev, internal/console) deliver their own completions
// directly through the scheduler's Sleep/Wakeup rather than re-entering here,
// so those branches exist for fidelity to the original dispatch table, not
// because anything still routes through them.
func (k *Kernel) Dispatch(c *kcpu.CPU, p *proc.Process) {
	tf := p.TrapFrame

	switch tf.TrapNo {
	case kcpu.TrapSyscall:
		if p.Killed {
			k.Procs.Exit(c, p, 1)
		}

		tf.EAX = k.syscall(c, p)

		if p.Killed {
			k.Procs.Exit(c, p, 1)
		}

	case kcpu.TrapTimer:
		if c.ID == 0 {
			k.Procs.Tick(c)
		}

		if p != nil {
			k.Procs.Yield(c, p)
		}

	case kcpu.TrapIDE, kcpu.TrapKeyboard, kcpu.TrapSerial:
		log.WithProc(k.log, c.ID, 0).Debug("trap: device interrupt dispatched outside trap()", "trapno", tf.TrapNo)

	case kcpu.TrapSpurious:
		log.WithProc(k.log, c.ID, 0).Debug("trap: spurious interrupt ignored")

	default:
		userMode := tf.CS&3 == kcpu.DPLUser

		log.WithProc(k.log, c.ID, p.PID).Error("trap: unexpected trap", "trapno", tf.TrapNo, "user", userMode)

		if userMode {
			p.Killed = true
			k.Procs.Exit(c, p, 1)
		} else {
			panic("trap: unexpected trap in kernel mode")
		}
	}
}
