package file_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinix-os/tinix/internal/bcache"
	"github.com/tinix-os/tinix/internal/blockdev"
	"github.com/tinix-os/tinix/internal/file"
	"github.com/tinix-os/tinix/internal/fs"
	"github.com/tinix-os/tinix/internal/fslog"
	"github.com/tinix-os/tinix/internal/lock"
	"github.com/tinix-os/tinix/internal/lock/locktest"
	"github.com/tinix-os/tinix/internal/pipe"
)

type testCaller struct{ pid int }

func (c testCaller) PID() int     { return c.pid }
func (c testCaller) Killed() bool { return false }

func TestTableAllocExhaustsAtCapacity(t *testing.T) {
	tbl := file.NewTable()
	cpu := lock.NewCPU(0)

	for i := 0; i < file.NFile; i++ {
		require.NotNil(t, tbl.Alloc(cpu), "slot %d", i)
	}

	require.Nil(t, tbl.Alloc(cpu))
}

func TestFileDupRequiresTwoClosesToRelease(t *testing.T) {
	tbl := file.NewTable()
	cpu := lock.NewCPU(0)

	f := tbl.Alloc(cpu)
	require.NotNil(t, f)

	dup := f.Dup()
	require.Same(t, f, dup)

	f.Close(cpu, 0) // drops the dup's reference; f itself is still open
	f.Close(cpu, 0) // drops the last reference
	require.Panics(t, func() { f.Close(cpu, 0) })
}

func TestPipeBackedFileReadWrite(t *testing.T) {
	tbl := file.NewTable()
	cpu := lock.NewCPU(0)
	caller := testCaller{pid: 1}

	p := pipe.New(locktest.New())

	reader := tbl.Alloc(cpu)
	reader.OpenPipe(p, false)

	writer := tbl.Alloc(cpu)
	writer.OpenPipe(p, true)

	n, err := writer.Write(cpu, caller, []byte("hi"))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	dst := make([]byte, 2)
	n, err = reader.Read(cpu, caller, dst)
	require.NoError(t, err)
	require.Equal(t, "hi", string(dst[:n]))

	_, err = reader.Write(cpu, caller, []byte("x"))
	require.Error(t, err)

	_, err = writer.Read(cpu, caller, dst)
	require.Error(t, err)
}

func mountFS(t *testing.T) (*fs.FS, *fslog.Log, *lock.CPU) {
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

func TestInodeBackedFileReadWriteAdvancesOffset(t *testing.T) {
	fsys, jlog, cpu := mountFS(t)
	root := fsys.Root()
	caller := testCaller{pid: 0}

	jlog.BeginOp(cpu)
	ip, err := fsys.Alloc(cpu, 0, fs.TypeFile)
	require.NoError(t, err)
	ip.Lock(cpu, 0)
	ip.NLink = 1
	ip.Update(cpu)
	ip.Unlock(cpu)
	root.Lock(cpu, 0)
	require.NoError(t, root.Link(cpu, 0, "f", ip.Num))
	root.Unlock(cpu)
	jlog.EndOp(cpu)

	tbl := file.NewTable()
	f := tbl.Alloc(cpu)
	f.OpenInode(ip, true, true)

	jlog.BeginOp(cpu)
	n, err := f.Write(cpu, caller, []byte("abcdef"))
	jlog.EndOp(cpu)
	require.NoError(t, err)
	require.Equal(t, 6, n)

	f2 := tbl.Alloc(cpu)
	f2.OpenInode(ip, true, true)

	buf := make([]byte, 3)
	n, err = f2.Read(cpu, caller, buf)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, "abc", string(buf))

	n, err = f2.Read(cpu, caller, buf)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, "def", string(buf))
}
