package cpu

// context.go implements the voluntary context switch. On real hardware this
// is a few lines of assembly (out of scope per spec.md §1) that saves the
// caller's callee-saved registers and return address into its Context slot,
// then loads the target Context and returns into it. Since processes here
// are simulated as goroutines rather than raw stacks of machine words, the
// "register swap" is simulated with a rendezvous channel pair: Switch parks
// the calling goroutine and resumes exactly the goroutine waiting on the
// target Context, which is the same cooperative handoff the real routine
// performs, with the same contract -- no locks are touched by the switch
// itself.

// NewContext creates a context ready to be switched into. resume is
// unbuffered so a Switch blocks until the target goroutine is actually
// listening, matching the synchronous nature of a real switch.
func NewContext() *Context {
	c := &Context{}
	c.resume = make(chan struct{})

	return c
}

// Park blocks the calling goroutine until some other goroutine calls Switch
// with this context as the target. It is called once by a goroutine when it
// is ready to be scheduled onto, e.g. the top of a CPU's scheduler loop or a
// freshly forked process's entry point.
func (c *Context) Park() {
	<-c.resume
}

// Switch saves control at `from` (conceptually) and transfers control to
// `to`, resuming whatever goroutine most recently called to.Park. The caller
// of Switch itself parks on `from` until something switches back to it.
func Switch(from, to *Context) {
	to.resume <- struct{}{}
	from.Park()
}
