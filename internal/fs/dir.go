package fs

// dir.go implements directories as files whose data is a flat array of
// fixed-size entries: a linear scan for lookup, first-free-or-append for
// insertion, same as the on-disk format spec.md §4.12 and §4.13 describe.

import (
	"bytes"
	"fmt"

	"github.com/tinix-os/tinix/internal/lock"
)

// DirSiz is the longest name a directory entry can hold.
const DirSiz = 14

const direntSize = 2 + DirSiz

type dirent struct {
	inum uint16
	name [DirSiz]byte
}

func decodeDirent(b []byte) dirent {
	var d dirent

	d.inum = le16(b[0:2])
	copy(d.name[:], b[2:2+DirSiz])

	return d
}

func encodeDirent(b []byte, d dirent) {
	putLE16(b[0:2], d.inum)
	copy(b[2:2+DirSiz], d.name[:])
}

func direntName(b [DirSiz]byte) string {
	n := bytes.IndexByte(b[:], 0)
	if n < 0 {
		n = len(b)
	}

	return string(b[:n])
}

func makeDirentName(name string) [DirSiz]byte {
	var b [DirSiz]byte
	copy(b[:], name)

	return b
}

// Lookup scans directory dp (which must already be locked) for name,
// returning the matching inode (locked by the caller via Lock, not here) and
// its byte offset within dp, or (nil, 0) if no entry matches.
func (ip *Inode) Lookup(cpu *lock.CPU, pid int, name string) (*Inode, uint32) {
	if ip.Type != TypeDir {
		panic("fs: lookup: not a directory")
	}

	var de dirent
	buf := make([]byte, direntSize)

	for off := uint32(0); off < ip.Size; off += direntSize {
		n, err := ip.Read(cpu, pid, buf, off, direntSize)
		if err != nil || n != direntSize {
			panic("fs: lookup: short directory read")
		}

		de = decodeDirent(buf)

		if de.inum == 0 {
			continue
		}

		if direntName(de.name) == name {
			return ip.fs.Get(uint32(de.inum)), off
		}
	}

	return nil, 0
}

// Link adds a directory entry mapping name to inum inside directory ip,
// which must already be locked and inside a transaction. It fails if name is
// already present.
func (ip *Inode) Link(cpu *lock.CPU, pid int, name string, inum uint32) error {
	if existing, _ := ip.Lookup(cpu, pid, name); existing != nil {
		existing.Put(cpu, pid)
		return fmt.Errorf("fs: link: %s: %w", name, errExists)
	}

	var de dirent
	buf := make([]byte, direntSize)

	off := uint32(0)

	for ; off < ip.Size; off += direntSize {
		n, err := ip.Read(cpu, pid, buf, off, direntSize)
		if err != nil || n != direntSize {
			panic("fs: link: short directory read")
		}

		de = decodeDirent(buf)
		if de.inum == 0 {
			break
		}
	}

	de = dirent{inum: uint16(inum), name: makeDirentName(name)}
	encodeDirent(buf, de)

	if n, err := ip.Write(cpu, pid, buf, off, direntSize); err != nil || n != direntSize {
		return fmt.Errorf("fs: link: %s: short directory write", name)
	}

	return nil
}

// Unlink clears the directory entry at off inside ip: zeroing its inode
// number without shrinking the directory, matching the teacher kernel's
// on-disk layout (a hole left behind for Link to reuse later).
func (ip *Inode) Unlink(cpu *lock.CPU, pid int, off uint32) error {
	zero := make([]byte, direntSize)

	if n, err := ip.Write(cpu, pid, zero, off, direntSize); err != nil || n != direntSize {
		return fmt.Errorf("fs: unlink: short directory write")
	}

	return nil
}

// IsEmpty reports whether directory ip has no entries besides "." and "..".
func (ip *Inode) IsEmpty(cpu *lock.CPU, pid int) bool {
	buf := make([]byte, direntSize)

	for off := uint32(2 * direntSize); off < ip.Size; off += direntSize {
		n, err := ip.Read(cpu, pid, buf, off, direntSize)
		if err != nil || n != direntSize {
			panic("fs: isempty: short directory read")
		}

		if decodeDirent(buf).inum != 0 {
			return false
		}
	}

	return true
}

var errExists = fmt.Errorf("entry exists")
