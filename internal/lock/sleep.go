package lock

// sleep.go implements SleepLock, a long-held lock that a process may hold
// across a blocking operation (disk I/O, pipe I/O, and so on) without
// disabling interrupts for the whole hold. It is built from a Spinlock plus
// a boolean and an owner, and parks the calling process on its own address
// via the scheduler rather than spinning.

// Scheduler is the minimal hook SleepLock needs into the process scheduler.
// internal/proc implements this interface; it is injected here instead of
// imported directly to keep internal/lock free of a dependency on process
// state.
type Scheduler interface {
	// Sleep blocks the process running on cpu until Wakeup(chan) is called,
	// releasing spin for the duration exactly as proc.Sleep does: the
	// process is marked sleeping before spin is released so a concurrent
	// Wakeup cannot be missed.
	Sleep(cpu *CPU, ch any, spin *Spinlock)

	// Wakeup resumes every process sleeping on chan. cpu identifies the
	// calling context so Wakeup can take the process-table lock under the
	// same interrupt-nesting discipline as everything else.
	Wakeup(cpu *CPU, ch any)
}

// SleepLock is a mutex that may be held across a call that blocks the
// calling process.
type SleepLock struct {
	name string
	spin *Spinlock

	locked bool
	owner  int // pid of the holder, or 0

	sched Scheduler
}

// NewSleepLock creates a sleep lock. sched provides the sleep/wakeup
// primitives; it is ordinarily the kernel's single process scheduler.
func NewSleepLock(name string, sched Scheduler) *SleepLock {
	return &SleepLock{
		name: name,
		spin: New(name + ".spin"),
		sched: sched,
	}
}

// Acquire blocks the calling process (pid, running on cpu) until the lock is
// free, then takes it.
func (s *SleepLock) Acquire(cpu *CPU, pid int) {
	s.spin.Acquire(cpu)

	for s.locked {
		s.sched.Sleep(cpu, s.channel(), s.spin)
	}

	s.locked = true
	s.owner = pid

	s.spin.Release(cpu)
}

// Release frees the lock and wakes every process waiting for it.
func (s *SleepLock) Release(cpu *CPU) {
	s.spin.Acquire(cpu)

	s.locked = false
	s.owner = 0

	s.sched.Wakeup(cpu, s.channel())

	s.spin.Release(cpu)
}

// Holding reports whether pid currently owns the lock.
func (s *SleepLock) Holding(pid int) bool {
	return s.locked && s.owner == pid
}

// channel returns the wait-channel token for this lock: its own address, per
// spec.md's "sleep on the lock's own address" convention.
func (s *SleepLock) channel() any { return s }
