package fs_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinix-os/tinix/internal/bcache"
	"github.com/tinix-os/tinix/internal/blockdev"
	"github.com/tinix-os/tinix/internal/fs"
	"github.com/tinix-os/tinix/internal/fslog"
	"github.com/tinix-os/tinix/internal/lock"
	"github.com/tinix-os/tinix/internal/lock/locktest"
)

// mount builds a fresh image with fs.Build and mounts it, returning a ready
// *fs.FS, the journal backing it (every mutation in these tests wraps its
// own BeginOp/EndOp, same as a real syscall handler would), and the cpu
// token every call in the test uses.
func mount(t *testing.T) (*fs.FS, *fslog.Log, *lock.CPU) {
	t.Helper()

	cfg := fs.BuildConfig{Blocks: 200, Inodes: 50, LogSize: 30}

	disk := blockdev.NewMemDisk(int(cfg.Blocks))
	require.NoError(t, disk.Init())

	sb, err := fs.Build(disk, cfg)
	require.NoError(t, err)

	queue := blockdev.NewQueue(disk, locktest.New())
	cache := bcache.NewCache(queue, locktest.New())
	jlog := fslog.New(cache, locktest.New(), 0, sb.LogStart, sb.NLog)

	cpu := lock.NewCPU(0)
	jlog.Recover(cpu)

	return fs.New(0, sb, cache, jlog, locktest.New()), jlog, cpu
}

// createFile allocates an inode of typ, gives it one link, and links it into
// dir under name, all inside one transaction -- the common shape of every
// create-style syscall handler.
func createFile(t *testing.T, f *fs.FS, jlog *fslog.Log, cpu *lock.CPU, dir *fs.Inode, name string, typ int16) *fs.Inode {
	t.Helper()

	jlog.BeginOp(cpu)
	defer jlog.EndOp(cpu)

	ip, err := f.Alloc(cpu, 0, typ)
	require.NoError(t, err)

	ip.Lock(cpu, 0)
	ip.NLink = 1
	ip.Update(cpu)
	ip.Unlock(cpu)

	dir.Lock(cpu, 0)
	err = dir.Link(cpu, 0, name, ip.Num)
	dir.Unlock(cpu)
	require.NoError(t, err)

	return ip
}

func TestRootDirectoryHasDotEntries(t *testing.T) {
	f, _, cpu := mount(t)

	root := f.Root()
	root.Lock(cpu, 0)
	defer root.Unlock(cpu)

	dot, _ := root.Lookup(cpu, 0, ".")
	require.NotNil(t, dot)
	require.Equal(t, uint32(fs.RootIno), dot.Num)
	dot.Put(cpu, 0)

	dotdot, _ := root.Lookup(cpu, 0, "..")
	require.NotNil(t, dotdot)
	require.Equal(t, uint32(fs.RootIno), dotdot.Num)
	dotdot.Put(cpu, 0)
}

func TestCreateWriteReadRoundTrip(t *testing.T) {
	f, jlog, cpu := mount(t)
	root := f.Root()

	ip := createFile(t, f, jlog, cpu, root, "hello.txt", fs.TypeFile)

	jlog.BeginOp(cpu)
	ip.Lock(cpu, 0)
	n, err := ip.Write(cpu, 0, []byte("hello world"), 0, 11)
	ip.Unlock(cpu)
	jlog.EndOp(cpu)
	require.NoError(t, err)
	require.Equal(t, uint32(11), n)

	found, err := f.Namei(cpu, 0, root, "hello.txt")
	require.NoError(t, err)

	found.Lock(cpu, 0)
	buf := make([]byte, 11)
	n, err = found.Read(cpu, 0, buf, 0, 11)
	found.Unlock(cpu)
	found.Put(cpu, 0)

	require.NoError(t, err)
	require.Equal(t, "hello world", string(buf[:n]))
}

func TestNameiMissingReturnsNotFound(t *testing.T) {
	f, _, cpu := mount(t)
	root := f.Root()

	_, err := f.Namei(cpu, 0, root, "nope.txt")
	require.ErrorIs(t, err, fs.ErrNotFound)
}

func TestNestedDirectoryCreateAndLookup(t *testing.T) {
	f, jlog, cpu := mount(t)
	root := f.Root()

	sub := createFile(t, f, jlog, cpu, root, "sub", fs.TypeDir)

	jlog.BeginOp(cpu)
	sub.Lock(cpu, 0)
	require.NoError(t, sub.Link(cpu, 0, ".", sub.Num))
	require.NoError(t, sub.Link(cpu, 0, "..", root.Num))
	sub.NLink = 2
	sub.Update(cpu)
	sub.Unlock(cpu)

	root.Lock(cpu, 0)
	root.NLink++
	root.Update(cpu)
	root.Unlock(cpu)
	jlog.EndOp(cpu)

	dir, elem, err := f.NameiParent(cpu, 0, root, "sub/inner.txt")
	require.NoError(t, err)
	require.Equal(t, "inner.txt", elem)
	require.Equal(t, sub.Num, dir.Num)

	inner := createFile(t, f, jlog, cpu, dir, elem, fs.TypeFile)

	resolved, err := f.Namei(cpu, 0, root, "sub/inner.txt")
	require.NoError(t, err)
	require.Equal(t, inner.Num, resolved.Num)
}

func TestUnlinkRemovesDirectoryEntry(t *testing.T) {
	f, jlog, cpu := mount(t)
	root := f.Root()

	ip := createFile(t, f, jlog, cpu, root, "doomed.txt", fs.TypeFile)

	root.Lock(cpu, 0)
	_, off := root.Lookup(cpu, 0, "doomed.txt")
	jlog.BeginOp(cpu)
	require.NoError(t, root.Unlink(cpu, 0, off))
	jlog.EndOp(cpu)
	root.Unlock(cpu)

	_, err := f.Namei(cpu, 0, root, "doomed.txt")
	require.ErrorIs(t, err, fs.ErrNotFound)

	jlog.BeginOp(cpu)
	ip.Lock(cpu, 0)
	ip.NLink = 0
	ip.Update(cpu)
	ip.Unlock(cpu)
	ip.Put(cpu, 0)
	jlog.EndOp(cpu)
}

func TestIsEmptyReflectsOnlyNonDotEntries(t *testing.T) {
	f, jlog, cpu := mount(t)
	root := f.Root()

	sub := createFile(t, f, jlog, cpu, root, "sub", fs.TypeDir)

	jlog.BeginOp(cpu)
	sub.Lock(cpu, 0)
	require.NoError(t, sub.Link(cpu, 0, ".", sub.Num))
	require.NoError(t, sub.Link(cpu, 0, "..", root.Num))
	empty := sub.IsEmpty(cpu, 0)
	sub.Unlock(cpu)
	jlog.EndOp(cpu)

	require.True(t, empty)

	createFile(t, f, jlog, cpu, sub, "file.txt", fs.TypeFile)

	sub.Lock(cpu, 0)
	empty = sub.IsEmpty(cpu, 0)
	sub.Unlock(cpu)

	require.False(t, empty)
}
