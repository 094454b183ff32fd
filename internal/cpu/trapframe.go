// Package cpu models the hardware the kernel runs on: the per-CPU record, the
// trap frame pushed on every trap, and the context saved by a voluntary
// context switch.
package cpu

// trapframe.go defines TrapFrame, the hardware-defined structure pushed onto
// the kernel stack by the trap stub on every exception, interrupt, and
// syscall. Its layout is part of the trap ABI and is not to be abstracted:
// the assembly stub (out of scope, see spec.md §1) populates it field for
// field, and trap() consumes it the same way.

// TrapFrame is pushed by the (simulated) hardware and assembly entry stub on
// every trap. Field order matters: it mirrors the order pushed on the stack.
type TrapFrame struct {
	// Pushed by the trap stub, callee-saved-equivalent general registers.
	EDI, ESI, EBP, OESP, EBX, EDX, ECX, EAX uint32

	// Pushed by the stub, not hardware.
	GS, FS, ES, DS uint32

	// Processor-pushed trap number and error code (zero if the trap has
	// none).
	TrapNo   uint32
	ErrCode  uint32

	// Pushed by the processor on every trap.
	EIP    uint32
	CS     uint32
	EFlags uint32

	// Pushed by the processor only when crossing privilege levels
	// (user -> kernel).
	ESP uint32
	SS  uint32
}

// Trap numbers recognized by the dispatcher. Values below 32 are reserved
// for CPU exceptions; the rest are assigned by the (simulated) interrupt
// controller and the syscall convention.
const (
	TrapSyscall  = 0x80
	TrapTimer    = 0x20
	TrapIDE      = 0x2e
	TrapKeyboard = 0x21
	TrapSerial   = 0x24
	TrapSpurious = 0x27
)

// Context is the set of callee-saved registers a voluntary context switch
// preserves, plus the return address. It lives at the bottom of a kernel
// stack; the stored *Context is simply that address.
type Context struct {
	EDI, ESI, EBX, EBP uint32
	EIP                uint32 // return address into the switch routine's caller

	resume chan struct{} // rendezvous used by Switch; see context.go
}
