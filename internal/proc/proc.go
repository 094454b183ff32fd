// Package proc implements the process table, the per-CPU round-robin
// scheduler, sleep/wakeup, and the process lifecycle (allocate, fork, exec,
// exit, wait, kill).
package proc

import (
	"fmt"

	"github.com/tinix-os/tinix/internal/cpu"
	"github.com/tinix-os/tinix/internal/lock"
	"github.com/tinix-os/tinix/internal/log"
	"github.com/tinix-os/tinix/internal/mem"
)

// State is a process's position in its lifecycle.
type State int

const (
	Unused State = iota
	Embryo
	Sleeping
	Runnable
	Running
	Zombie
)

func (s State) String() string {
	switch s {
	case Unused:
		return "UNUSED"
	case Embryo:
		return "EMBRYO"
	case Sleeping:
		return "SLEEPING"
	case Runnable:
		return "RUNNABLE"
	case Running:
		return "RUNNING"
	case Zombie:
		return "ZOMBIE"
	default:
		return "?"
	}
}

// NOFILE is the number of file descriptors a process may have open.
const NOFILE = 16

// NPROC is the size of the process table.
const NPROC = 64

// File is the minimal interface proc needs from a file descriptor. It is
// satisfied by internal/file.File; the interface exists here, rather than
// importing that package's concrete type, only to keep proc's dependency on
// file one-directional and explicit.
type File interface {
	Dup() File
	Close(cpu *lock.CPU, pid int)
}

// Inode is the minimal interface proc needs from a current-directory inode,
// mirroring the File pattern above. cpu and pid identify the calling process
// the way every blocking operation in this kernel does: an inode's sleep
// lock needs both to take and release it.
type Inode interface {
	Dup() Inode
	Put(cpu *lock.CPU, pid int)
}

// Process is one entry in the process table.
type Process struct {
	PID    int
	Parent *Process
	State  State
	Name   string

	Sz    uint32          // size of process memory (bytes)
	Space *mem.AddressSpace

	TrapFrame *cpu.TrapFrame
	Context   *cpu.Context

	Chan   any // wait channel, valid while Sleeping
	Killed bool

	ExitStatus int

	Files [NOFILE]File
	Cwd   Inode

	// Entry is the simulated user-mode program body. Since this kernel
	// simulates user processes as goroutines rather than raw instruction
	// streams, a "program" is a Go closure instead of a loaded ELF image;
	// see Table.Exec and DESIGN.md for the grounding of this simplification.
	// It takes the CPU the process was dispatched onto since, unlike on real
	// hardware, nothing else gives the closure a CPU identity to present to
	// internal/trap's syscall facade.
	Entry func(p *Process, c *cpu.CPU)

	// Argv is the argument vector Exec pushed onto the simulated user
	// stack, kept here as well so a program's Entry closure can read its
	// arguments directly instead of walking its own stack memory.
	Argv []string

	started bool
}

func (p *Process) String() string {
	parent := -1
	if p.Parent != nil {
		parent = p.Parent.PID
	}

	return fmt.Sprintf("proc(pid=%d ppid=%d state=%s name=%q)", p.PID, parent, p.State, p.Name)
}

// Table is the kernel's single process table and the lock that serializes
// access to it. Per spec.md §5, the process-table lock is the outermost in
// the lock hierarchy.
type Table struct {
	lock *lock.Spinlock
	proc [NPROC]*Process

	nextPID int

	cpus []*cpu.CPU

	ticksLock *lock.Spinlock
	ticks     uint64

	init *Process // the initial process; exited children are reparented here

	fsInit     func(c *cpu.CPU) // called exactly once, by the first process's forkret
	fsInitOnce bool

	alloc   *mem.Allocator
	physTop uint32

	programs    map[string]func(p *Process, c *cpu.CPU)
	resolveRoot func() Inode

	log *log.Logger
}

// NewTable creates an empty process table bound to ncpu simulated CPUs.
func NewTable(ncpu int) *Table {
	t := &Table{
		lock:      lock.New("ptable"),
		ticksLock: lock.New("ticks"),
		nextPID:   1,
		programs:  make(map[string]func(p *Process, c *cpu.CPU)),
		log:       log.DefaultLogger(),
	}

	for i := 0; i < ncpu; i++ {
		t.cpus = append(t.cpus, cpu.New(i))
	}

	for i := range t.proc {
		t.proc[i] = &Process{State: Unused}
	}

	return t
}

// SetMemory records the frame allocator and top-of-physical-memory address
// Allocate/UserInit/Exec need to build a fresh address space from scratch,
// rather than deriving one from an existing process (as Fork does via
// AddressSpace.CopyUser, which already carries its own allocator).
func (t *Table) SetMemory(alloc *mem.Allocator, physTop uint32) {
	t.alloc = alloc
	t.physTop = physTop
}

// RegisterProgram installs the Go closure that stands in for the program
// image at path, so UserInit and Exec can "load" it by name. See Process.Entry.
func (t *Table) RegisterProgram(path string, entry func(p *Process, c *cpu.CPU)) {
	t.programs[path] = entry
}

// SetRootResolver installs the function Allocate-derived processes use to
// look up the root inode for their initial current directory. It is injected
// rather than imported directly to keep proc free of a dependency on
// internal/fs.
func (t *Table) SetRootResolver(fn func() Inode) {
	t.resolveRoot = fn
}

// CPUs returns the table's simulated processors.
func (t *Table) CPUs() []*cpu.CPU { return t.cpus }

// SetFSInit registers the callback forkret runs, exactly once, the first
// time any process is ever scheduled, passing the CPU that picked up that
// first process (the only CPU identity with a process attached yet, so the
// only one that can safely block on the buffer cache). The real kernel uses
// this hook to initialize the inode cache and replay the journal.
func (t *Table) SetFSInit(fn func(c *cpu.CPU)) { t.fsInit = fn }

// Ticks returns the current tick count, guarded by its own lock as spec.md
// §3 requires for the global tick counter.
func (t *Table) Ticks(c *cpu.CPU) uint64 {
	t.ticksLock.Acquire(c.CPU)
	defer t.ticksLock.Release(c.CPU)

	return t.ticks
}

// Tick increments the tick counter and wakes anything sleeping on it. Called
// from the timer trap on CPU 0 only, per spec.md §4.7.
func (t *Table) Tick(c *cpu.CPU) {
	t.ticksLock.Acquire(c.CPU)
	t.ticks++
	t.ticksLock.Release(c.CPU)

	t.Wakeup(c.CPU, &t.ticks)
}

// Dump returns a listing of every non-unused process, mirroring the original kernel's
// ^P / procdump diagnostic.
func (t *Table) Dump() string {
	out := "PID\tSTATE\tNAME\n"

	for _, p := range t.proc {
		if p.State == Unused {
			continue
		}

		out += fmt.Sprintf("%d\t%s\t%s\n", p.PID, p.State, p.Name)
	}

	return out
}
