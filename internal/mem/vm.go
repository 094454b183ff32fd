package mem

// vm.go implements the per-process address space on top of the frame
// allocator and two-level page table: kernel-mapping setup, user page
// growth/shrink, address-space duplication for fork, and teardown.

import (
	"errors"
	"fmt"

	"github.com/tinix-os/tinix/internal/lock"
	"github.com/tinix-os/tinix/internal/log"
)

// KernelBase is the virtual address at which the kernel's range begins.
// Every address space maps the kernel identically from here up, so the
// kernel is addressable no matter which process is running.
const KernelBase uint32 = 0x80000000

// Fixed kernel regions installed by SetupKernelVM. Offsets are relative to
// physical address 0 of the simulated machine.
const (
	IOSpaceBase  uint32 = 0x00000000 // low I/O region (identity, RW)
	IOSpaceSize  uint32 = 0x00100000
	KernelText   uint32 = 0x00100000 // kernel text+rodata (identity, RO)
	DeviceMMIO   uint32 = 0xfe000000 // high device MMIO (identity, RW)
	DeviceMMIOSz uint32 = 0x01000000
)

var (
	ErrOOM    = errors.New("mem: out of memory")
	ErrRemap  = errors.New("mem: remap")
	ErrKernel = errors.New("mem: refuses to map kernel range")
	ErrPerm   = errors.New("mem: page not user-accessible")
)

// AddressSpace is one process's virtual memory: a page directory frame plus
// the allocator it draws physical frames from.
type AddressSpace struct {
	Dir   Frame
	alloc *Allocator
	log   *log.Logger
}

// NewAddressSpace allocates an empty page directory. It returns an error if
// the allocator is exhausted.
func NewAddressSpace(cpu *lock.CPU, alloc *Allocator) (*AddressSpace, error) {
	dir := alloc.Alloc(cpu)
	if dir == nil {
		return nil, ErrOOM
	}

	asTable(dir).zero()

	return &AddressSpace{Dir: dir, alloc: alloc, log: log.DefaultLogger()}, nil
}

// Walk returns the page-table-entry slot for va, allocating the containing
// page table (and zeroing it) if alloc is true and the slot's page table is
// missing. It returns nil if allocation was requested but failed.
func (as *AddressSpace) Walk(cpu *lock.CPU, va uint32, alloc bool) *PTE {
	pd := asTable(as.Dir)
	pde := pd.get(pdIndex(va))

	var pt table

	if pde.Present() {
		pt = asTable(as.alloc.frameAt(pde.Frame()))
	} else {
		if !alloc {
			return nil
		}

		f := as.alloc.Alloc(cpu)
		if f == nil {
			return nil
		}

		pt = asTable(f)
		pt.zero()

		pd.set(pdIndex(va), NewPTE(as.alloc.addrOf(f), PTEPresent|PTEWrite|PTEUser))
	}

	entry := pt.get(ptIndex(va))

	return &entry
}

// Set installs e as the page-table entry mapping va. Go cannot alias a
// pointer onto the packed bytes a table entry lives in the way a real MMU's
// page-table-entry address can be written through directly, so writes go
// through Set instead of the pointer Walk returns.
func (as *AddressSpace) Set(va uint32, e PTE) {
	pd := asTable(as.Dir)
	pde := pd.get(pdIndex(va))
	pt := asTable(as.alloc.frameAt(pde.Frame()))
	pt.set(ptIndex(va), e)
}

// MapPages installs present mappings for every page in [va, va+size) to
// consecutive physical frames starting at pa. It panics if any target entry
// is already present, mirroring the original kernel's refusal to silently
// remap.
func (as *AddressSpace) MapPages(cpu *lock.CPU, va, size, pa uint32, perm PTE) error {
	start := PageRoundDown(va)
	end := PageRoundDown(va + size - 1)

	for a, p := start, pa; ; a, p = a+PageSize, p+PageSize {
		entry := as.Walk(cpu, a, true)
		if entry == nil {
			return ErrOOM
		}

		if entry.Present() {
			panic(fmt.Sprintf("mem: map_pages: remap at %#x", a))
		}

		as.Set(a, NewPTE(Word(p), perm|PTEPresent))

		if a == end {
			break
		}
	}

	return nil
}

// SetupKernelVM allocates a fresh address space and installs the four fixed
// kernel mappings: low I/O (RW), kernel text/rodata (RO), kernel data+heap
// (RW), and high device MMIO (RW). Any failure unwinds and returns nil.
func SetupKernelVM(cpu *lock.CPU, alloc *Allocator, physTop uint32) (*AddressSpace, error) {
	as, err := NewAddressSpace(cpu, alloc)
	if err != nil {
		return nil, err
	}

	regions := []struct {
		va, pa, size uint32
		perm         PTE
	}{
		{KernelBase + IOSpaceBase, IOSpaceBase, IOSpaceSize, PTEWrite},
		{KernelBase + KernelText, KernelText, physTop/4 - KernelText, 0},
		{KernelBase + physTop/4, physTop / 4, physTop - physTop/4, PTEWrite},
		{DeviceMMIO, DeviceMMIO, DeviceMMIOSz, PTEWrite},
	}

	for _, r := range regions {
		if err := as.MapPages(cpu, r.va, r.size, r.pa, r.perm); err != nil {
			as.FreeVM(cpu)
			return nil, fmt.Errorf("setup_kernel_vm: %w", err)
		}
	}

	return as, nil
}

// AllocUser grows the user portion of the address space from oldSz to newSz,
// allocating and zeroing a frame for each new page and mapping it
// user-writable. On failure it rolls back to oldSz and returns that size.
// Growth into the kernel range is refused.
func (as *AddressSpace) AllocUser(cpu *lock.CPU, oldSz, newSz uint32) (uint32, error) {
	if newSz >= KernelBase {
		return oldSz, ErrKernel
	}

	if newSz < oldSz {
		return newSz, nil
	}

	a := PageRoundUp(oldSz)

	for ; a < newSz; a += PageSize {
		f := as.alloc.Alloc(cpu)
		if f == nil {
			as.DeallocUser(cpu, a, oldSz)
			return oldSz, ErrOOM
		}

		for i := range f {
			f[i] = 0
		}

		if err := as.MapPages(cpu, a, PageSize, uint32(as.alloc.addrOf(f)), PTEWrite|PTEUser); err != nil {
			as.alloc.Free(cpu, f)
			as.DeallocUser(cpu, a, oldSz)

			return oldSz, err
		}
	}

	return newSz, nil
}

// DeallocUser frees the frames backing [newSz, oldSz) and clears their
// entries. It is a no-op if newSz >= oldSz.
func (as *AddressSpace) DeallocUser(cpu *lock.CPU, oldSz, newSz uint32) uint32 {
	if newSz >= oldSz {
		return oldSz
	}

	from := PageRoundUp(newSz)

	for a := from; a < oldSz; a += PageSize {
		entry := as.Walk(cpu, a, false)
		if entry == nil || !entry.Present() {
			continue
		}

		as.alloc.Free(cpu, as.alloc.frameAt(entry.Frame()))
		as.Set(a, 0)
	}

	return newSz
}

// ClearUserPerm removes the user-accessible bit from the page containing va,
// turning it into a supervisor-only guard page (used below the user stack).
func (as *AddressSpace) ClearUserPerm(va uint32) {
	pd := asTable(as.Dir)
	pde := pd.get(pdIndex(va))
	pt := asTable(as.alloc.frameAt(pde.Frame()))
	e := pt.get(ptIndex(va))
	pt.set(ptIndex(va), e&^PTEUser)
}

// CopyUser deep-copies every present user page from as into a freshly
// allocated address space, including the kernel mappings, for use by fork.
func (as *AddressSpace) CopyUser(cpu *lock.CPU, sz uint32, physTop uint32) (*AddressSpace, error) {
	dst, err := SetupKernelVM(cpu, as.alloc, physTop)
	if err != nil {
		return nil, err
	}

	for a := uint32(0); a < sz; a += PageSize {
		entry := as.Walk(cpu, a, false)
		if entry == nil || !entry.Present() {
			continue
		}

		src := as.alloc.frameAt(entry.Frame())

		nf := as.alloc.Alloc(cpu)
		if nf == nil {
			dst.FreeVM(cpu)
			return nil, ErrOOM
		}

		copy(nf, src)

		perm := PTEPresent
		if entry.Writable() {
			perm |= PTEWrite
		}

		if entry.User() {
			perm |= PTEUser
		}

		if err := dst.MapPages(cpu, a, PageSize, uint32(as.alloc.addrOf(nf)), perm&^PTEPresent); err != nil {
			dst.FreeVM(cpu)
			return nil, err
		}
	}

	return dst, nil
}

// CopyOut copies len bytes from kernel memory src into the user address
// range starting at va, walking the user page table one page at a time.
// Writing into a present-but-not-user page (the exec guard page below the
// user stack, for instance) fails with ErrPerm instead of silently
// succeeding into supervisor-only memory.
func (as *AddressSpace) CopyOut(cpu *lock.CPU, va uint32, src []byte) error {
	n := len(src)

	for n > 0 {
		page := PageRoundDown(va)
		entry := as.Walk(cpu, page, false)

		if entry == nil || !entry.Present() {
			return fmt.Errorf("copy_out: %w: va=%#x", ErrOOM, va)
		}

		if !entry.User() {
			return fmt.Errorf("copy_out: %w: va=%#x", ErrPerm, va)
		}

		frame := as.alloc.frameAt(entry.Frame())
		off := va - page
		chunk := PageSize - int(off)

		if chunk > n {
			chunk = n
		}

		copy(frame[off:], src[:chunk])

		src = src[chunk:]
		va += uint32(chunk)
		n -= chunk
	}

	return nil
}

// CopyIn copies len(dst) bytes from the user address range starting at va
// into kernel memory dst, the mirror image of CopyOut. Used to fetch syscall
// arguments and data a process passes by pointer. Like CopyOut, reading a
// present-but-not-user page fails with ErrPerm rather than leaking
// supervisor-only memory back to a process.
func (as *AddressSpace) CopyIn(cpu *lock.CPU, va uint32, dst []byte) error {
	n := len(dst)

	for n > 0 {
		page := PageRoundDown(va)
		entry := as.Walk(cpu, page, false)

		if entry == nil || !entry.Present() {
			return fmt.Errorf("copy_in: %w: va=%#x", ErrOOM, va)
		}

		if !entry.User() {
			return fmt.Errorf("copy_in: %w: va=%#x", ErrPerm, va)
		}

		frame := as.alloc.frameAt(entry.Frame())
		off := va - page
		chunk := PageSize - int(off)

		if chunk > n {
			chunk = n
		}

		copy(dst[:chunk], frame[off:])

		dst = dst[chunk:]
		va += uint32(chunk)
		n -= chunk
	}

	return nil
}

// FreeVM deallocates all user pages, frees each present second-level page
// table, and frees the directory itself.
func (as *AddressSpace) FreeVM(cpu *lock.CPU) {
	as.DeallocUser(cpu, KernelBase, 0)

	pd := asTable(as.Dir)

	for i := 0; i < entriesPerTable; i++ {
		pde := pd.get(i)
		if pde.Present() {
			as.alloc.Free(cpu, as.alloc.frameAt(pde.Frame()))
		}
	}

	as.alloc.Free(cpu, as.Dir)
}
