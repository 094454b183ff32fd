// Package file implements the open-file table: the layer between a
// process's file descriptors and the two things they can point at, an inode
// or a pipe, plus the device switch console and other character devices
// register themselves into.
package file

import (
	"fmt"
	"sync/atomic"

	"github.com/tinix-os/tinix/internal/fs"
	"github.com/tinix-os/tinix/internal/lock"
	"github.com/tinix-os/tinix/internal/pipe"
	"github.com/tinix-os/tinix/internal/proc"
)

// NFile bounds the size of the system-wide open file table.
const NFile = 100

// kind discriminates what a File structure is backed by.
type kind int

const (
	kindNone kind = iota
	kindInode
	kindPipe
)

// File is one entry in the system-wide open file table: a reference-counted
// handle to either an inode (with its own byte offset) or a pipe end.
type File struct {
	table *Table

	kind     kind
	readable bool
	writable bool

	// ref is manipulated with atomic add/CAS rather than the table spinlock
	// so Dup, which proc.File declares with no *lock.CPU parameter to thread
	// through, never needs a calling context to bump it.
	ref atomic.Int32

	ip  *fs.Inode
	off uint32

	p *pipe.Pipe
}

// Table is the system-wide open file table, matching ftable in the teacher
// kernel: a fixed array protected by one spinlock.
type Table struct {
	spin  *lock.Spinlock
	files [NFile]*File
}

// NewTable creates an empty file table.
func NewTable() *Table {
	t := &Table{spin: lock.New("ftable")}

	for i := range t.files {
		t.files[i] = &File{table: t}
	}

	return t
}

// Alloc claims a free file table slot, or returns nil if the table is full.
func (t *Table) Alloc(cpu *lock.CPU) *File {
	t.spin.Acquire(cpu)
	defer t.spin.Release(cpu)

	for _, f := range t.files {
		if f.ref.CompareAndSwap(0, 1) {
			return f
		}
	}

	return nil
}

// Dup increments f's reference count and returns f as a proc.File.
func (f *File) Dup() proc.File {
	if f.ref.Add(1) < 2 {
		panic("file: dup: already closed")
	}

	return f
}

// Close drops the caller's reference to f. Once the reference count reaches
// zero, the underlying pipe end or inode is released.
func (f *File) Close(cpu *lock.CPU, pid int) {
	n := f.ref.Add(-1)

	if n < 0 {
		panic("file: close: already closed")
	}

	if n > 0 {
		return
	}

	k, p, writable, ip := f.kind, f.p, f.writable, f.ip
	f.kind = kindNone

	switch k {
	case kindPipe:
		if writable {
			p.CloseWrite(cpu)
		} else {
			p.CloseRead(cpu)
		}
	case kindInode:
		ip.Put(cpu, pid)
	}
}

// OpenInode backs f with ip, an already dup'd reference this File now owns.
func (f *File) OpenInode(ip *fs.Inode, readable, writable bool) {
	f.kind = kindInode
	f.ip = ip
	f.readable = readable
	f.writable = writable
	f.off = 0
}

// OpenPipe backs f with one end of p: writeEnd selects which.
func (f *File) OpenPipe(p *pipe.Pipe, writeEnd bool) {
	f.kind = kindPipe
	f.p = p
	f.readable = !writeEnd
	f.writable = writeEnd
}

// Read reads up to len(dst) bytes from f, advancing its offset for an inode.
// caller identifies the reading process, both to a blocking pipe read and as
// the pid threaded into the inode's sleep lock.
func (f *File) Read(cpu *lock.CPU, caller pipe.Proc, dst []byte) (int, error) {
	if !f.readable {
		return 0, fmt.Errorf("file: not open for reading")
	}

	switch f.kind {
	case kindPipe:
		return f.p.Read(cpu, caller, dst)
	case kindInode:
		f.ip.Lock(cpu, caller.PID())
		n, err := f.ip.Read(cpu, caller.PID(), dst, f.off, uint32(len(dst)))
		f.off += n
		f.ip.Unlock(cpu)

		return int(n), err
	default:
		panic("file: read: unopened file")
	}
}

// Write writes len(src) bytes to f, advancing its offset for an inode and
// chunking the write into log-transaction-sized pieces the caller performs
// (see internal/trap, which wraps each chunk in BeginOp/EndOp).
func (f *File) Write(cpu *lock.CPU, caller pipe.Proc, src []byte) (int, error) {
	if !f.writable {
		return 0, fmt.Errorf("file: not open for writing")
	}

	switch f.kind {
	case kindPipe:
		return f.p.Write(cpu, caller, src)
	case kindInode:
		f.ip.Lock(cpu, caller.PID())
		n, err := f.ip.Write(cpu, caller.PID(), src, f.off, uint32(len(src)))
		f.off += n
		f.ip.Unlock(cpu)

		return int(n), err
	default:
		panic("file: write: unopened file")
	}
}

// Stat reports the type, size and device numbers of an inode-backed file.
func (f *File) Stat() (typ int16, size uint32, major, minor int16, ok bool) {
	if f.kind != kindInode {
		return 0, 0, 0, 0, false
	}

	return f.ip.Type, f.ip.Size, f.ip.Major, f.ip.Minor, true
}
