package cpu

import (
	"fmt"

	"github.com/tinix-os/tinix/internal/lock"
)

// CPU is the per-physical-processor record: one exists for every simulated
// core and is created once at boot. It embeds lock.CPU for the
// interrupt-disable nesting stack spec.md requires to live on the CPU
// record, not as a global thread-local.
type CPU struct {
	*lock.CPU

	// Scheduler is this CPU's own scheduling context, the target `switch`
	// jumps to when a process yields the processor.
	Scheduler *Context

	// TSS and GDT stand in for the hardware task-state segment and
	// segment-descriptor table every real CPU record carries. Their
	// contents are opaque to the kernel logic above this package; they
	// exist so CPU has the shape spec.md §3 describes.
	TSS TaskState
	GDT [NumSegments]SegmentDescriptor

	// Proc is the process currently assigned to this CPU, or nil when the
	// CPU is idle in its scheduler loop. It is declared as `any` to avoid a
	// back-reference to package proc; proc.Process is always the dynamic
	// type in practice.
	Proc any
}

// TaskState stands in for the x86 TSS; the kernel only ever uses it to hold
// the system stack pointer to load on a privilege-level change.
type TaskState struct {
	ESP0 uint32
	SS0  uint32
}

// NumSegments is the number of descriptors the kernel installs per CPU:
// null, kernel code, kernel data, user code, user data, and the TSS itself.
const NumSegments = 6

// Segment indices into a CPU's GDT.
const (
	SegNull = iota
	SegKernelCode
	SegKernelData
	SegUserCode
	SegUserData
	SegTSS
)

// DPLUser is the descriptor privilege level encoded into a user-mode
// selector's low two bits.
const DPLUser = 3

// Selector values a trap frame installs to run in user mode, combining a
// segment index with DPLUser the way a real selector packs index and RPL.
const (
	SelUserCode = (SegUserCode << 3) | DPLUser
	SelUserData = (SegUserData << 3) | DPLUser
)

// FlagIF is the interrupt-enable bit in EFLAGS.
const FlagIF uint32 = 0x200

// SegmentDescriptor stands in for one GDT entry.
type SegmentDescriptor struct {
	Base, Limit uint32
	Type        uint8
}

// New creates a CPU record with the given hardware id.
func New(id int) *CPU {
	return &CPU{CPU: lock.NewCPU(id)}
}

func (c *CPU) String() string {
	return fmt.Sprintf("CPU(%d)", c.ID)
}
