// Package fs implements the on-disk file system format: the superblock, the
// inode cache and its direct/indirect block mapping, the block bitmap, and
// directory/path resolution on top of it.
package fs

import (
	"github.com/tinix-os/tinix/internal/bcache"
	"github.com/tinix-os/tinix/internal/fslog"
	"github.com/tinix-os/tinix/internal/lock"
)

// BSIZE is the disk block size in bytes, matching blockdev.SectorSize.
const BSIZE = 512

// RootIno is the inode number of the root directory.
const RootIno = 1

// File types stored in a dinode's Type field.
const (
	TypeFree = 0
	TypeDir  = 1
	TypeFile = 2
	TypeDev  = 3
)

// NDIRECT is the number of direct block pointers an inode carries; NINDIRECT
// is the fan-out of the single indirect block; MAXFILE is the largest file
// representable by direct + singly-indirect addressing.
const (
	NDIRECT   = 12
	NINDIRECT = BSIZE / 4
	MAXFILE   = NDIRECT + NINDIRECT
)

// dinodeSize is the on-disk size of one inode: 4 shorts, a uint32 size, and
// NDIRECT+1 uint32 block addresses.
const dinodeSize = 8 + 4 + 4*(NDIRECT+1)

// inodesPerBlock is how many dinodes fit in one disk block.
const inodesPerBlock = BSIZE / dinodeSize

// bitsPerBlock is how many free-map bits one bitmap block holds.
const bitsPerBlock = BSIZE * 8

// SuperBlock describes the on-disk layout: total size, the data block count,
// inode count, log region, inode region, and bitmap region, each as a
// starting block number (size/count fields) per spec.md §3.
type SuperBlock struct {
	Size       uint32
	NBlocks    uint32
	NInodes    uint32
	NLog       uint32
	LogStart   uint32
	InodeStart uint32
	BmapStart  uint32
}

func decodeSuperBlock(b []byte) SuperBlock {
	return SuperBlock{
		Size:       le32(b[0:]),
		NBlocks:    le32(b[4:]),
		NInodes:    le32(b[8:]),
		NLog:       le32(b[12:]),
		LogStart:   le32(b[16:]),
		InodeStart: le32(b[20:]),
		BmapStart:  le32(b[24:]),
	}
}

func encodeSuperBlock(b []byte, sb SuperBlock) {
	putLE32(b[0:], sb.Size)
	putLE32(b[4:], sb.NBlocks)
	putLE32(b[8:], sb.NInodes)
	putLE32(b[12:], sb.NLog)
	putLE32(b[16:], sb.LogStart)
	putLE32(b[20:], sb.InodeStart)
	putLE32(b[24:], sb.BmapStart)
}

func le16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func putLE16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// superblockBlock is the fixed block number of the superblock itself: block
// 0 is the boot block, block 1 the superblock.
const superblockBlock = 1

// ReadSuperBlock reads and decodes the superblock of dev.
func ReadSuperBlock(cpu *lock.CPU, cache *bcache.Cache, dev int) SuperBlock {
	buf := cache.Read(cpu, 0, dev, superblockBlock)
	defer cache.Release(cpu, buf)

	return decodeSuperBlock(buf.Bytes())
}

// Device is the minimal read/write contract internal/console and other
// character devices register under, so device-typed inodes can dispatch
// through it instead of the block-mapped read/write path. cpu and pid
// identify the calling process, exactly as every other blocking path in
// this kernel threads them explicitly rather than relying on goroutine-local
// state.
type Device interface {
	Read(cpu *lock.CPU, pid int, dst []byte) (int, error)
	Write(cpu *lock.CPU, pid int, src []byte) (int, error)
}

// FS bundles everything path resolution and the inode cache need: the
// superblock, the buffer cache, the journaling log, and the device switch.
type FS struct {
	dev   int
	sb    SuperBlock
	cache *bcache.Cache
	log   *fslog.Log
	sched lock.Scheduler

	devices map[int]Device

	icache *iCache
}

// New creates an FS over dev using sb, cache, and log, all already set up
// (New does not itself mount or recover; call Recover on log beforehand).
// sched drives each cached inode's sleep lock.
func New(dev int, sb SuperBlock, cache *bcache.Cache, jlog *fslog.Log, sched lock.Scheduler) *FS {
	return &FS{
		dev:     dev,
		sb:      sb,
		cache:   cache,
		log:     jlog,
		sched:   sched,
		devices: make(map[int]Device),
		icache:  newICache(),
	}
}

// RegisterDevice installs dev as the read/write target for inodes of type
// TypeDev with the given major number.
func (f *FS) RegisterDevice(major int, dev Device) {
	f.devices[major] = dev
}
