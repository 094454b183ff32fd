package proc

// lifecycle.go implements the process lifecycle: allocating a table slot,
// building the first user process, fork, exec, exit, wait, and kill. Each
// mirrors the original kernel's proc.c operation of the same name; the
// differences are exactly the ones Process.Entry documents (a "program" is
// a registered Go closure, not a loaded ELF image).

import (
	"errors"
	"fmt"

	kcpu "github.com/tinix-os/tinix/internal/cpu"
	"github.com/tinix-os/tinix/internal/lock"
	"github.com/tinix-os/tinix/internal/mem"
)

// ErrNoProc is returned when the process table has no Unused slot left.
var ErrNoProc = errors.New("proc: no free process slot")

// ErrNoProgram is returned by Exec when no program is registered at path.
var ErrNoProgram = errors.New("proc: no such program image")

// ustackPages is the number of pages Exec maps for the user stack: one
// stack page plus, below it, one guard page with the user bit cleared.
const ustackPages = 2

// Allocate finds an Unused slot, marks it Embryo, assigns the next pid, and
// gives the process a parked context ready to be switched into for the
// first time. It returns ErrNoProc if the table is full.
func (t *Table) Allocate(c *lock.CPU) (*Process, error) {
	t.lock.Acquire(c)

	var p *Process

	for _, cand := range t.proc {
		if cand.State == Unused {
			p = cand
			break
		}
	}

	if p == nil {
		t.lock.Release(c)
		t.log.Error("proc: table full", "cpu", c.ID)

		return nil, ErrNoProc
	}

	p.State = Embryo
	p.PID = t.nextPID
	t.nextPID++

	t.lock.Release(c)

	p.Context = kcpu.NewContext()
	p.TrapFrame = &kcpu.TrapFrame{}

	return p, nil
}

// UserInit creates the first process: the registered "/init" program image
// mapped at virtual address 0 of a fresh address space, with its trap frame
// set up to enter user mode at that address with interrupts enabled.
func (t *Table) UserInit(c *kcpu.CPU) error {
	entry, ok := t.programs["/init"]
	if !ok {
		return fmt.Errorf("userinit: %w: /init", ErrNoProgram)
	}

	p, err := t.Allocate(c.CPU)
	if err != nil {
		return fmt.Errorf("userinit: %w", err)
	}

	as, err := mem.SetupKernelVM(c.CPU, t.alloc, t.physTop)
	if err != nil {
		t.free(c.CPU, p)
		return fmt.Errorf("userinit: %w", err)
	}

	sz, err := as.AllocUser(c.CPU, 0, mem.PageSize)
	if err != nil {
		as.FreeVM(c.CPU)
		t.free(c.CPU, p)

		return fmt.Errorf("userinit: %w", err)
	}

	p.Space = as
	p.Sz = sz
	p.Name = "init"
	p.Entry = entry

	p.TrapFrame.CS = kcpu.SelUserCode
	p.TrapFrame.DS = kcpu.SelUserData
	p.TrapFrame.ES = kcpu.SelUserData
	p.TrapFrame.SS = kcpu.SelUserData
	p.TrapFrame.EFlags = kcpu.FlagIF
	p.TrapFrame.ESP = mem.PageSize
	p.TrapFrame.EIP = 0

	if t.resolveRoot != nil {
		p.Cwd = t.resolveRoot()
	}

	t.lock.Acquire(c.CPU)
	p.State = Runnable
	t.init = p
	t.lock.Release(c.CPU)

	return nil
}

// Fork allocates a child process, deep-copies the parent's address space and
// duplicates its open files and current directory, and marks the child
// Runnable. It returns the child's pid.
func (t *Table) Fork(c *kcpu.CPU, parent *Process) (int, error) {
	child, err := t.Allocate(c.CPU)
	if err != nil {
		return -1, fmt.Errorf("fork: %w", err)
	}

	space, err := parent.Space.CopyUser(c.CPU, parent.Sz, t.physTop)
	if err != nil {
		t.free(c.CPU, child)
		return -1, fmt.Errorf("fork: %w", err)
	}

	child.Space = space
	child.Sz = parent.Sz
	child.Parent = parent
	child.Name = parent.Name

	tf := *parent.TrapFrame
	child.TrapFrame = &tf
	child.TrapFrame.EAX = 0 // fork returns 0 in the child

	for i, f := range parent.Files {
		if f != nil {
			child.Files[i] = f.Dup()
		}
	}

	if parent.Cwd != nil {
		child.Cwd = parent.Cwd.Dup()
	}

	pid := child.PID

	t.lock.Acquire(c.CPU)
	child.State = Runnable
	t.lock.Release(c.CPU)

	return pid, nil
}

// Exec replaces p's address space and program image with the one registered
// at path: a fresh address space, a stack of ustackPages pages (the lower
// one left without the user-accessible bit, as a guard), argv pushed onto
// that stack, and a trap frame set to enter path's Entry at virtual address
// 0. The old address space is freed only after the new one is built
// successfully.
//
// Exec does not attempt to transfer control into the new program mid-flight:
// the goroutine already running p.Entry keeps running until it returns, same
// as Process.Entry's fork simplification. The metadata this function installs
// takes effect the next time p is freshly scheduled. See DESIGN.md.
func (t *Table) Exec(c *kcpu.CPU, p *Process, path string, argv []string) error {
	entry, ok := t.programs[path]
	if !ok {
		return fmt.Errorf("exec: %w: %s", ErrNoProgram, path)
	}

	as, err := mem.SetupKernelVM(c.CPU, t.alloc, t.physTop)
	if err != nil {
		return fmt.Errorf("exec: %w", err)
	}

	sz, err := as.AllocUser(c.CPU, 0, ustackPages*mem.PageSize)
	if err != nil {
		as.FreeVM(c.CPU)
		return fmt.Errorf("exec: %w", err)
	}

	as.ClearUserPerm(0) // the lower page is the guard

	sp := sz

	uargv := make([]uint32, 0, len(argv)+1)

	for i := len(argv) - 1; i >= 0; i-- {
		s := append([]byte(argv[i]), 0)

		sp -= uint32(len(s))
		sp &^= 3 // word align, matching the original's stack discipline

		if err := as.CopyOut(c.CPU, sp, s); err != nil {
			as.FreeVM(c.CPU)
			return fmt.Errorf("exec: %w", err)
		}

		uargv = append([]uint32{sp}, uargv...)
	}

	uargv = append(uargv, 0) // argv is NULL-terminated

	vec := make([]byte, 4*len(uargv))
	for i, w := range uargv {
		vec[i*4+0] = byte(w)
		vec[i*4+1] = byte(w >> 8)
		vec[i*4+2] = byte(w >> 16)
		vec[i*4+3] = byte(w >> 24)
	}

	sp -= uint32(len(vec))
	sp &^= 3

	if err := as.CopyOut(c.CPU, sp, vec); err != nil {
		as.FreeVM(c.CPU)
		return fmt.Errorf("exec: %w", err)
	}

	old := p.Space

	p.Space = as
	p.Sz = sz
	p.Name = path
	p.Entry = entry
	p.Argv = argv

	p.TrapFrame = &kcpu.TrapFrame{
		CS:     kcpu.SelUserCode,
		DS:     kcpu.SelUserData,
		ES:     kcpu.SelUserData,
		SS:     kcpu.SelUserData,
		EFlags: kcpu.FlagIF,
		ESP:    sp,
		EIP:    0,
	}

	if old != nil {
		old.FreeVM(c.CPU)
	}

	return nil
}

// Exit closes p's open files and current directory, wakes its parent out of
// Wait, reparents its children to init, and marks it Zombie before yielding
// the CPU for the last time. It never returns.
//
// Unlike the original kernel, init exiting is not fatal here: init's Entry
// is a bounded closure (see Process.Entry) rather than a program that loops
// forever reaping orphans, so it is expected to run to completion and exit
// like any other process once its caller (cmd/tinix's run command) is done
// demonstrating the boot sequence. See DESIGN.md.
func (t *Table) Exit(c *kcpu.CPU, p *Process, status int) {
	for i, f := range p.Files {
		if f != nil {
			f.Close(c.CPU, p.PID)
			p.Files[i] = nil
		}
	}

	if p.Cwd != nil {
		p.Cwd.Put(c.CPU, p.PID)
		p.Cwd = nil
	}

	t.lock.Acquire(c.CPU)

	t.wakeupLocked(p.Parent)

	for _, child := range t.proc {
		if child.Parent == p {
			child.Parent = t.init

			if child.State == Zombie {
				t.wakeupLocked(t.init)
			}
		}
	}

	p.ExitStatus = status
	p.State = Zombie

	t.sched(c, p)

	panic("proc: zombie exit")
}

// Wait blocks until one of p's children exits, then frees that child's
// kernel resources and returns its pid and exit status. It returns (-1, 0)
// immediately if p has no children, or once p itself has been killed.
func (t *Table) Wait(c *kcpu.CPU, p *Process) (int, int) {
	t.lock.Acquire(c.CPU)

	for {
		haveKids := false

		for _, child := range t.proc {
			if child.Parent != p {
				continue
			}

			haveKids = true

			if child.State == Zombie {
				pid := child.PID
				status := child.ExitStatus

				if child.Space != nil {
					child.Space.FreeVM(c.CPU)
				}

				*child = Process{State: Unused}

				t.lock.Release(c.CPU)

				return pid, status
			}
		}

		if !haveKids || p.Killed {
			t.lock.Release(c.CPU)
			return -1, 0
		}

		t.Sleep(c.CPU, p, t.lock)
	}
}

// Kill marks the process with the given pid killed, waking it if it is
// sleeping so it observes the flag. It reports whether pid was found.
func (t *Table) Kill(c *kcpu.CPU, pid int) bool {
	t.lock.Acquire(c.CPU)
	defer t.lock.Release(c.CPU)

	for _, p := range t.proc {
		if p.PID != pid || p.State == Unused {
			continue
		}

		p.Killed = true

		if p.State == Sleeping {
			p.State = Runnable
		}

		return true
	}

	return false
}

// IsKilled reports whether pid has been marked killed, without waking it.
// It lets a device (e.g. internal/console) blocked on input notice a killed
// reader and give up.
func (t *Table) IsKilled(c *lock.CPU, pid int) bool {
	t.lock.Acquire(c)
	defer t.lock.Release(c)

	for _, p := range t.proc {
		if p.PID == pid && p.State != Unused {
			return p.Killed
		}
	}

	return false
}

// free resets a just-allocated process back to Unused after a failure partway
// through Allocate's caller (UserInit, Fork), so the slot can be reused.
func (t *Table) free(c *lock.CPU, p *Process) {
	t.lock.Acquire(c)
	*p = Process{State: Unused}
	t.lock.Release(c)
}
