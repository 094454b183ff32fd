package fs

// mkfs.go builds a file system image directly against a sector-addressable
// device, bypassing the buffer cache and log entirely, exactly as the
// teacher kernel's host-side mkfs tool writes raw sectors instead of going
// through bread/log_write. It exists for tests and for seeding a fresh
// MemDisk; it is not reachable from any running kernel code path.

import "fmt"

// sectorWriter is the minimal device contract mkfs needs; blockdev.MemDisk
// satisfies it structurally.
type sectorWriter interface {
	WriteSector(block uint32, src []byte) error
}

// BuildConfig sizes the image Build produces.
type BuildConfig struct {
	Blocks  uint32 // total device size in BSIZE blocks
	Inodes  uint32 // total inode count
	LogSize uint32 // log region size in blocks, including its header
}

// DefaultBuildConfig is a small image sized for tests: 1000 blocks, 200
// inodes, a 30-block log, mirroring the scale of the teacher's fs.img.
var DefaultBuildConfig = BuildConfig{Blocks: 1000, Inodes: 200, LogSize: 30}

// builder accumulates an image in memory before handing it to a device.
type builder struct {
	cfg   BuildConfig
	sb    SuperBlock
	image [][]byte // one BSIZE slice per block

	nextInode uint32
	nextBlock uint32
}

// Build creates a fresh, empty file system image on dst per cfg: a
// superblock, a zeroed log, a bitmap marking every block in use, and a root
// directory containing only
// "." and "..". It returns the superblock so the caller can mount dst with
// bcache/fslog/fs without re-reading it (though ReadSuperBlock works too).
func Build(dst sectorWriter, cfg BuildConfig) (SuperBlock, error) {
	bitmapBlocks := cfg.Blocks/bitsPerBlock + 1
	inodeBlocks := cfg.Inodes/inodesPerBlock + 1
	nmeta := 2 + cfg.LogSize + inodeBlocks + bitmapBlocks

	if nmeta >= cfg.Blocks {
		return SuperBlock{}, fmt.Errorf("fs: mkfs: metadata (%d blocks) does not fit in %d blocks", nmeta, cfg.Blocks)
	}

	b := &builder{
		cfg: cfg,
		sb: SuperBlock{
			Size:       cfg.Blocks,
			NBlocks:    cfg.Blocks - nmeta,
			NInodes:    cfg.Inodes,
			NLog:       cfg.LogSize,
			LogStart:   2,
			InodeStart: 2 + cfg.LogSize,
			BmapStart:  2 + cfg.LogSize + inodeBlocks,
		},
		image:     make([][]byte, cfg.Blocks),
		nextInode: 1,
		nextBlock: nmeta,
	}

	for i := range b.image {
		b.image[i] = make([]byte, BSIZE)
	}

	sbBlock := make([]byte, BSIZE)
	encodeSuperBlock(sbBlock, b.sb)
	b.image[superblockBlock] = sbBlock

	root := b.allocInode(TypeDir)
	if root != RootIno {
		return SuperBlock{}, fmt.Errorf("fs: mkfs: root inode is %d, want %d", root, RootIno)
	}

	b.appendDirent(root, ".", root)
	b.appendDirent(root, "..", root)
	b.fixInodeLink(root, 2)

	b.markBitmap()

	for i, block := range b.image {
		if err := dst.WriteSector(uint32(i), block); err != nil {
			return SuperBlock{}, fmt.Errorf("fs: mkfs: write block %d: %w", i, err)
		}
	}

	return b.sb, nil
}

func (b *builder) allocInode(typ int16) uint32 {
	inum := b.nextInode
	b.nextInode++

	d := dinode{typ: typ}
	b.writeDinode(inum, d)

	return inum
}

func (b *builder) readDinode(inum uint32) dinode {
	blockno := inum/inodesPerBlock + b.sb.InodeStart
	off := (inum % inodesPerBlock) * dinodeSize

	return decodeDinode(b.image[blockno][off : off+dinodeSize])
}

func (b *builder) writeDinode(inum uint32, d dinode) {
	blockno := inum/inodesPerBlock + b.sb.InodeStart
	off := (inum % inodesPerBlock) * dinodeSize

	encodeDinode(b.image[blockno][off:off+dinodeSize], d)
}

func (b *builder) fixInodeLink(inum uint32, nlink int16) {
	d := b.readDinode(inum)
	d.nlink = nlink
	b.writeDinode(inum, d)
}

// appendDirent grows inode dp by one directory entry mapping name to inum,
// allocating a fresh data block whenever the current one fills up.
func (b *builder) appendDirent(dp uint32, name string, inum uint32) {
	d := b.readDinode(dp)

	off := d.size
	blockIdx := off / BSIZE

	if off%BSIZE == 0 {
		d.addrs[blockIdx] = b.allocBlock()
	}

	de := dirent{inum: uint16(inum), name: makeDirentName(name)}
	buf := make([]byte, direntSize)
	encodeDirent(buf, de)

	blockno := d.addrs[blockIdx]
	copy(b.image[blockno][off%BSIZE:], buf)

	d.size += direntSize
	b.writeDinode(dp, d)
}

func (b *builder) allocBlock() uint32 {
	bn := b.nextBlock
	b.nextBlock++

	return bn
}

// markBitmap sets one bit per block consumed by metadata and the root
// directory's data, matching the teacher mkfs's final balloc(nextBlock)
// pass.
func (b *builder) markBitmap() {
	for bn := uint32(0); bn < b.nextBlock; bn++ {
		blockno := bn/bitsPerBlock + b.sb.BmapStart
		bi := bn % bitsPerBlock
		b.image[blockno][bi/8] |= 1 << (bi % 8)
	}
}
