// Package locktest provides a minimal lock.Scheduler double for unit tests
// of packages that sleep/wake through the interface without needing a full
// internal/proc.Table and its goroutine-per-CPU scheduler loop.
package locktest

import (
	"sync"

	"github.com/tinix-os/tinix/internal/lock"
)

// Scheduler backs every wait-channel with its own sync.Cond, broadcasting on
// Wakeup the way internal/proc's Wakeup resumes every sleeper on a channel.
type Scheduler struct {
	mu    sync.Mutex
	conds map[any]*sync.Cond
}

// New creates an empty fake scheduler.
func New() *Scheduler {
	return &Scheduler{conds: make(map[any]*sync.Cond)}
}

func (s *Scheduler) cond(ch any) *sync.Cond {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conds[ch]
	if !ok {
		c = sync.NewCond(&sync.Mutex{})
		s.conds[ch] = c
	}

	return c
}

// Sleep implements lock.Scheduler: release spin, wait for a Wakeup(ch), then
// reacquire spin. The wait is registered before spin is released, so a
// Wakeup racing with this call is never missed.
func (s *Scheduler) Sleep(cpu *lock.CPU, ch any, spin *lock.Spinlock) {
	c := s.cond(ch)

	c.L.Lock()
	spin.Release(cpu)
	c.Wait()
	c.L.Unlock()

	spin.Acquire(cpu)
}

// Wakeup resumes every Sleep call currently waiting on ch.
func (s *Scheduler) Wakeup(cpu *lock.CPU, ch any) {
	c := s.cond(ch)

	c.L.Lock()
	c.Broadcast()
	c.L.Unlock()
}
