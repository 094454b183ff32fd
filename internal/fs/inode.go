package fs

// inode.go implements the in-memory inode cache over the on-disk dinode
// array, direct/indirect block mapping, and the block bitmap allocator.

import (
	"errors"
	"fmt"

	"github.com/tinix-os/tinix/internal/lock"
	"github.com/tinix-os/tinix/internal/proc"
)

// ErrNoInodes is returned when every on-disk inode is in use.
var ErrNoInodes = errors.New("fs: no free inodes")

// ErrNoBlocks is returned when the bitmap has no free block left.
var ErrNoBlocks = errors.New("fs: out of disk blocks")

// dinode is the on-disk inode layout: 4 shorts, a size, and NDIRECT+1 block
// addresses (the last being the singly-indirect block).
type dinode struct {
	typ, major, minor, nlink int16
	size                     uint32
	addrs                    [NDIRECT + 1]uint32
}

func decodeDinode(b []byte) dinode {
	var d dinode

	d.typ = int16(le16(b[0:]))
	d.major = int16(le16(b[2:]))
	d.minor = int16(le16(b[4:]))
	d.nlink = int16(le16(b[6:]))
	d.size = le32(b[8:])

	for i := range d.addrs {
		d.addrs[i] = le32(b[12+4*i:])
	}

	return d
}

func encodeDinode(b []byte, d dinode) {
	putLE16(b[0:], uint16(d.typ))
	putLE16(b[2:], uint16(d.major))
	putLE16(b[4:], uint16(d.minor))
	putLE16(b[6:], uint16(d.nlink))
	putLE32(b[8:], d.size)

	for i, a := range d.addrs {
		putLE32(b[12+4*i:], a)
	}
}

// Inode is the kernel's in-memory reference to a file or directory: cached
// fields from its dinode plus the reference count and validity/locking state
// spec.md §4.12 describes.
type Inode struct {
	fs  *FS
	dev int
	Num uint32

	ref   int
	valid bool

	sleep *lock.SleepLock

	Type       int16
	Major      int16
	Minor      int16
	NLink      int16
	Size       uint32
	addrs      [NDIRECT + 1]uint32
}

// iCache is the fixed-size inode cache, per spec.md §4.12's get/put protocol.
type iCache struct {
	inodes []*Inode
}

func newICache() *iCache {
	return &iCache{}
}

// Alloc scans the on-disk inode array for a free (type-0) inode, marks it
// with typ, and returns an in-memory reference to it via the cache. The
// caller must already be inside a log transaction (BeginOp/EndOp).
func (f *FS) Alloc(cpu *lock.CPU, pid int, typ int16) (*Inode, error) {
	for inum := uint32(1); inum < f.sb.NInodes; inum++ {
		blockno := inum/inodesPerBlock + f.sb.InodeStart

		buf := f.cache.Read(cpu, pid, f.dev, blockno)
		off := (inum % inodesPerBlock) * dinodeSize
		d := decodeDinode(buf.Bytes()[off : off+dinodeSize])

		if d.typ == TypeFree {
			d = dinode{typ: typ}
			encodeDinode(buf.Bytes()[off:off+dinodeSize], d)
			f.log.Write(cpu, buf)
			f.cache.Release(cpu, buf)

			return f.Get(inum), nil
		}

		f.cache.Release(cpu, buf)
	}

	return nil, ErrNoInodes
}

// Get returns the in-memory inode for inum, bumping its reference count if
// already cached or claiming a fresh (invalid) slot otherwise.
func (f *FS) Get(inum uint32) *Inode {
	for _, ip := range f.icache.inodes {
		if ip.ref > 0 && ip.dev == f.dev && ip.Num == inum {
			ip.ref++
			return ip
		}
	}

	ip := &Inode{fs: f, dev: f.dev, Num: inum, ref: 1}
	ip.sleep = lock.NewSleepLock(fmt.Sprintf("inode.%d", inum), f.sched)
	f.icache.inodes = append(f.icache.inodes, ip)

	return ip
}

// Lock takes ip's sleep lock and, the first time, reads its fields off disk.
func (ip *Inode) Lock(cpu *lock.CPU, pid int) {
	ip.sleep.Acquire(cpu, pid)

	if ip.valid {
		return
	}

	blockno := ip.Num/inodesPerBlock + ip.fs.sb.InodeStart
	buf := ip.fs.cache.Read(cpu, pid, ip.dev, blockno)

	off := (ip.Num % inodesPerBlock) * dinodeSize
	d := decodeDinode(buf.Bytes()[off : off+dinodeSize])

	ip.fs.cache.Release(cpu, buf)

	ip.Type = d.typ
	ip.Major = d.major
	ip.Minor = d.minor
	ip.NLink = d.nlink
	ip.Size = d.size
	ip.addrs = d.addrs
	ip.valid = true
}

// Unlock releases ip's sleep lock. The reference count is unaffected.
func (ip *Inode) Unlock(cpu *lock.CPU) {
	ip.sleep.Release(cpu)
}

// Put drops one reference to ip. If it was the last reference and the inode
// has no links and is on disk, the file is truncated and freed.
func (ip *Inode) Put(cpu *lock.CPU, pid int) {
	ip.Lock(cpu, pid)

	if ip.valid && ip.NLink == 0 && ip.ref == 1 {
		ip.truncate(cpu)
		ip.Type = TypeFree
		ip.writeBack(cpu)
		ip.valid = false
	}

	ip.Unlock(cpu)

	ip.ref--
}

// Dup increments ip's reference count and returns ip as a proc.Inode,
// satisfying the interface internal/proc uses for a process's current
// directory.
func (ip *Inode) Dup() proc.Inode {
	ip.ref++
	return ip
}

// writeBack flushes ip's in-memory fields to its on-disk dinode. Caller must
// hold ip's sleep lock and be inside a transaction.
func (ip *Inode) writeBack(cpu *lock.CPU) {
	blockno := ip.Num/inodesPerBlock + ip.fs.sb.InodeStart
	buf := ip.fs.cache.Read(cpu, 0, ip.dev, blockno)

	off := (ip.Num % inodesPerBlock) * dinodeSize
	encodeDinode(buf.Bytes()[off:off+dinodeSize], dinode{
		typ: ip.Type, major: ip.Major, minor: ip.Minor, nlink: ip.NLink,
		size: ip.Size, addrs: ip.addrs,
	})

	ip.fs.log.Write(cpu, buf)
	ip.fs.cache.Release(cpu, buf)
}

// Update is writeBack exposed for callers (directory ops, write) that have
// already opened a transaction and hold ip locked.
func (ip *Inode) Update(cpu *lock.CPU) { ip.writeBack(cpu) }

// bmap returns the disk block number holding the bn'th block of ip's data,
// allocating it (direct or, past NDIRECT, via the indirect block) if it does
// not exist yet.
func (ip *Inode) bmap(cpu *lock.CPU, bn uint32) uint32 {
	if bn < NDIRECT {
		if ip.addrs[bn] == 0 {
			ip.addrs[bn] = ip.fs.balloc(cpu)
		}

		return ip.addrs[bn]
	}

	bn -= NDIRECT

	if bn >= NINDIRECT {
		panic("fs: bmap: offset out of range")
	}

	if ip.addrs[NDIRECT] == 0 {
		ip.addrs[NDIRECT] = ip.fs.balloc(cpu)
	}

	buf := ip.fs.cache.Read(cpu, 0, ip.dev, ip.addrs[NDIRECT])

	addr := le32(buf.Bytes()[4*bn:])
	if addr == 0 {
		addr = ip.fs.balloc(cpu)
		putLE32(buf.Bytes()[4*bn:], addr)
		ip.fs.log.Write(cpu, buf)
	}

	ip.fs.cache.Release(cpu, buf)

	return addr
}

// truncate frees every data block (direct and indirect) belonging to ip and
// resets its size to 0.
func (ip *Inode) truncate(cpu *lock.CPU) {
	for i := 0; i < NDIRECT; i++ {
		if ip.addrs[i] != 0 {
			ip.fs.bfree(cpu, ip.addrs[i])
			ip.addrs[i] = 0
		}
	}

	if ip.addrs[NDIRECT] != 0 {
		buf := ip.fs.cache.Read(cpu, 0, ip.dev, ip.addrs[NDIRECT])

		for i := 0; i < NINDIRECT; i++ {
			addr := le32(buf.Bytes()[4*i:])
			if addr != 0 {
				ip.fs.bfree(cpu, addr)
			}
		}

		ip.fs.cache.Release(cpu, buf)
		ip.fs.bfree(cpu, ip.addrs[NDIRECT])
		ip.addrs[NDIRECT] = 0
	}

	ip.Size = 0
	ip.Update(cpu)
}

// Read copies up to n bytes starting at off from ip into dst, dispatching to
// the registered device when ip is a device inode. pid is passed through to
// the device for a blocking read (e.g. console) to identify the caller.
func (ip *Inode) Read(cpu *lock.CPU, pid int, dst []byte, off, n uint32) (uint32, error) {
	if ip.Type == TypeDev {
		dev, ok := ip.fs.devices[int(ip.Major)]
		if !ok {
			return 0, fmt.Errorf("fs: read: no device registered for major %d", ip.Major)
		}

		got, err := dev.Read(cpu, pid, dst[:n])

		return uint32(got), err
	}

	if off > ip.Size || off+n < off {
		return 0, fmt.Errorf("fs: read: offset %d out of range", off)
	}

	if off+n > ip.Size {
		n = ip.Size - off
	}

	var total uint32

	for total < n {
		blockno := ip.bmap(cpu, off/BSIZE)
		buf := ip.fs.cache.Read(cpu, 0, ip.dev, blockno)

		boff := off % BSIZE
		chunk := minU32(n-total, BSIZE-boff)
		copy(dst[total:total+chunk], buf.Bytes()[boff:boff+chunk])

		ip.fs.cache.Release(cpu, buf)

		total += chunk
		off += chunk
	}

	return total, nil
}

// Write copies n bytes from src into ip starting at off, through the
// journaling log, growing the file if necessary. Limited to MAXFILE*BSIZE.
func (ip *Inode) Write(cpu *lock.CPU, pid int, src []byte, off, n uint32) (uint32, error) {
	if ip.Type == TypeDev {
		dev, ok := ip.fs.devices[int(ip.Major)]
		if !ok {
			return 0, fmt.Errorf("fs: write: no device registered for major %d", ip.Major)
		}

		got, err := dev.Write(cpu, pid, src[:n])

		return uint32(got), err
	}

	if uint64(off)+uint64(n) > uint64(MAXFILE)*BSIZE {
		return 0, fmt.Errorf("fs: write: off+n exceeds MAXFILE")
	}

	var total uint32

	for total < n {
		blockno := ip.bmap(cpu, off/BSIZE)
		buf := ip.fs.cache.Read(cpu, 0, ip.dev, blockno)

		boff := off % BSIZE
		chunk := minU32(n-total, BSIZE-boff)
		copy(buf.Bytes()[boff:boff+chunk], src[total:total+chunk])

		ip.fs.log.Write(cpu, buf)
		ip.fs.cache.Release(cpu, buf)

		total += chunk
		off += chunk
	}

	if off > ip.Size {
		ip.Size = off
		ip.Update(cpu)
	}

	return total, nil
}

func minU32(a, b uint32) uint32 {
	if a < b {
		return a
	}

	return b
}

// balloc scans the block bitmap for a free block, marks it used, and returns
// its block number. Every bitmap update goes through the log.
func (f *FS) balloc(cpu *lock.CPU) uint32 {
	for b := uint32(0); b < f.sb.Size; b += bitsPerBlock {
		blockno := b/bitsPerBlock + f.sb.BmapStart
		buf := f.cache.Read(cpu, 0, f.dev, blockno)

		for bi := uint32(0); bi < bitsPerBlock && b+bi < f.sb.Size; bi++ {
			mask := byte(1 << (bi % 8))
			idx := bi / 8

			if buf.Bytes()[idx]&mask == 0 {
				buf.Bytes()[idx] |= mask
				f.log.Write(cpu, buf)
				f.cache.Release(cpu, buf)

				return b + bi
			}
		}

		f.cache.Release(cpu, buf)
	}

	panic(ErrNoBlocks)
}

// bfree clears the bitmap bit for blockno, through the log.
func (f *FS) bfree(cpu *lock.CPU, blockno uint32) {
	bblock := blockno/bitsPerBlock + f.sb.BmapStart
	buf := f.cache.Read(cpu, 0, f.dev, bblock)

	bi := blockno % bitsPerBlock
	mask := byte(1 << (bi % 8))
	idx := bi / 8

	buf.Bytes()[idx] &^= mask

	f.log.Write(cpu, buf)
	f.cache.Release(cpu, buf)
}
