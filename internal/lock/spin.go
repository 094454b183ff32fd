// Package lock provides the kernel's two mutual-exclusion primitives: a
// spinlock that disables interrupts on the holding CPU, and a sleep lock
// layered on top of it that may be held across blocking operations.
package lock

// spin.go implements Spinlock, the short-hold lock used by the process
// table, buffer cache, log, console and file table. Unlike a plain
// sync.Mutex, acquiring a Spinlock also disables interrupts on the calling
// CPU for as long as the lock is held, and nests correctly when a CPU
// acquires more than one spinlock (or re-enters a code path that pushes the
// interrupt-disable count) before releasing any of them.

import (
	"fmt"
	"runtime"
	"sync/atomic"
)

// CPU identifies the simulated processor a goroutine is running on. The
// kernel binds exactly one goroutine to each CPU for its lifetime, so a
// *CPU serves as that goroutine's thread-local state.
type CPU struct {
	ID int

	// depth is the nesting count of pushcli/popcli; it is only ever touched
	// by the CPU's own goroutine so it needs no atomic access.
	depth int

	// wasEnabled records whether interrupts were enabled before the first
	// PushCLI call in a nested sequence.
	wasEnabled bool

	// enabled models the CPU's actual interrupt-enable flag. It is a stand
	// in for the real EFLAGS.IF bit the original kernel manipulates with
	// cli/sti.
	enabled bool
}

// NewCPU creates a CPU record with interrupts initially enabled, matching
// the state the boot loader leaves a core in.
func NewCPU(id int) *CPU {
	return &CPU{ID: id, enabled: true}
}

// PushCLI disables interrupts on the CPU, remembering whether they were
// enabled so a matching PopCLI can restore the original state. Nested calls
// only increment the depth counter.
func (c *CPU) PushCLI() {
	wasEnabled := c.enabled

	c.enabled = false

	if c.depth == 0 {
		c.wasEnabled = wasEnabled
	}

	c.depth++
}

// PopCLI reverses one PushCLI. When the nesting depth returns to zero and
// interrupts were enabled before the outermost PushCLI, interrupts are
// re-enabled. It panics if interrupts are already enabled (unbalanced call)
// or the depth underflows.
func (c *CPU) PopCLI() {
	if c.enabled {
		panic("lock: popcli: interrupts enabled")
	}

	if c.depth < 1 {
		panic("lock: popcli: depth underflow")
	}

	c.depth--

	if c.depth == 0 && c.wasEnabled {
		c.enabled = true
	}
}

// InterruptsEnabled reports the CPU's current interrupt-enable state.
func (c *CPU) InterruptsEnabled() bool {
	return c.enabled
}

// Spinlock is a mutual-exclusion lock that spins (rather than parking the
// goroutine) until it is free, and disables interrupts on the owning CPU for
// the duration it is held. It must never be held across a blocking
// operation; use a SleepLock for that.
type Spinlock struct {
	name string

	// locked is 0 when free, 1 when held; manipulated with atomic
	// compare-and-swap to model the hardware xchg instruction.
	locked atomic.Uint32

	// cpu records the owner for diagnostics and the Holding check. It is
	// only valid while locked == 1.
	cpu atomic.Pointer[CPU]
}

// New creates a named, initially-free spinlock. The name appears in panic
// messages and logs, mirroring the original kernel's initlock.
func New(name string) *Spinlock {
	return &Spinlock{name: name}
}

// Acquire disables interrupts on the calling CPU, then spins until the lock
// is free, recording the new owner. It panics if the calling CPU already
// holds the lock.
func (l *Spinlock) Acquire(cpu *CPU) {
	cpu.PushCLI()

	if l.Holding(cpu) {
		panic(fmt.Sprintf("lock: %s: already held by cpu %d", l.name, cpu.ID))
	}

	for !l.locked.CompareAndSwap(0, 1) {
		runtime.Gosched()
	}

	l.cpu.Store(cpu)
}

// Release clears ownership and unlocks, then re-enables interrupts if the
// calling CPU's nesting depth allows it. It panics if the calling CPU is not
// the holder.
func (l *Spinlock) Release(cpu *CPU) {
	if !l.Holding(cpu) {
		panic(fmt.Sprintf("lock: %s: release by non-owner cpu %d", l.name, cpu.ID))
	}

	l.cpu.Store(nil)
	l.locked.Store(0)

	cpu.PopCLI()
}

// Holding reports whether cpu is the current owner of the lock.
func (l *Spinlock) Holding(cpu *CPU) bool {
	return l.locked.Load() == 1 && l.cpu.Load() == cpu
}

// Name returns the lock's diagnostic name.
func (l *Spinlock) Name() string { return l.name }
