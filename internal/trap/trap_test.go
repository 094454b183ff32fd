package trap_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tinix-os/tinix/internal/bcache"
	"github.com/tinix-os/tinix/internal/blockdev"
	kcpu "github.com/tinix-os/tinix/internal/cpu"
	"github.com/tinix-os/tinix/internal/file"
	"github.com/tinix-os/tinix/internal/fs"
	"github.com/tinix-os/tinix/internal/fslog"
	"github.com/tinix-os/tinix/internal/mem"
	"github.com/tinix-os/tinix/internal/proc"
	"github.com/tinix-os/tinix/internal/trap"
)

// boot assembles a one-CPU kernel image exactly the way cmd/tinix's run
// command does, but with a small disk and frame pool sized for a test, and
// hands back the *trap.Kernel and *proc.Table so a test can register its own
// "/init" program and drive it through RunCPU.
func boot(t *testing.T) (*trap.Kernel, *proc.Table) {
	t.Helper()

	const nframes = 4096 // matches cmd/tinix run's default; must clear mem.KernelText

	alloc := mem.NewAllocator(nframes)
	procs := proc.NewTable(1)
	procs.SetMemory(alloc, uint32(nframes*mem.PageSize))

	cfg := fs.BuildConfig{Blocks: 200, Inodes: 50, LogSize: 30}

	disk := blockdev.NewMemDisk(int(cfg.Blocks))
	require.NoError(t, disk.Init())

	sb, err := fs.Build(disk, cfg)
	require.NoError(t, err)

	queue := blockdev.NewQueue(disk, procs)
	cache := bcache.NewCache(queue, procs)
	jlog := fslog.New(cache, procs, 0, sb.LogStart, sb.NLog)
	fsys := fs.New(0, sb, cache, jlog, procs)

	files := file.NewTable()
	k := trap.New(procs, fsys, jlog, files)

	procs.SetRootResolver(func() proc.Inode { return fsys.Root() })
	procs.SetFSInit(func(c *kcpu.CPU) { jlog.Recover(c.CPU) })

	alloc.EndBoot()

	return k, procs
}

// run registers body as "/init", boots it, and waits until body returns
// (closing done) or the deadline passes, whichever is first.
func run(t *testing.T, procs *proc.Table, body func(p *proc.Process, c *kcpu.CPU)) {
	t.Helper()

	done := make(chan struct{})

	procs.RegisterProgram("/init", func(p *proc.Process, c *kcpu.CPU) {
		defer close(done)
		body(p, c)
	})

	require.NoError(t, procs.UserInit(procs.CPUs()[0]))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go procs.RunCPU(ctx, procs.CPUs()[0])

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("init program did not complete in time")
	}
}

func TestFacadeFileLifecycle(t *testing.T) {
	k, procs := boot(t)

	var (
		fd   int
		n    int
		errO error
		errW error
	)

	run(t, procs, func(p *proc.Process, c *kcpu.CPU) {
		fd, errO = k.Open(c, p, "/greeting", trap.OCreate|trap.OWriteOnly)
		if errO != nil {
			return
		}

		n, errW = k.Write(c, p, fd, []byte("hello"))
	})

	require.NoError(t, errO)
	require.GreaterOrEqual(t, fd, 0)
	require.NoError(t, errW)
	require.Equal(t, 5, n)
}

func TestFacadeOpenMissingFileFails(t *testing.T) {
	k, procs := boot(t)

	var err error

	run(t, procs, func(p *proc.Process, c *kcpu.CPU) {
		_, err = k.Open(c, p, "/does-not-exist", trap.OReadWrite)
	})

	require.ErrorIs(t, err, trap.ErrSyscall)
}

func TestFacadeMkdirAndMknod(t *testing.T) {
	k, procs := boot(t)

	var (
		mkdirErr, mknodErr, statErr error
		typ                         int16
	)

	run(t, procs, func(p *proc.Process, c *kcpu.CPU) {
		mkdirErr = k.Mkdir(c, p, "/tmp")
		mknodErr = k.Mknod(c, p, "/console", 1, 1)

		fd, err := k.Open(c, p, "/console", trap.OReadWrite)
		if err != nil {
			statErr = err
			return
		}

		typ, _, _, _, statErr = k.Fstat(c, p, fd)
	})

	require.NoError(t, mkdirErr)
	require.NoError(t, mknodErr)
	require.NoError(t, statErr)
	require.EqualValues(t, fs.TypeDev, typ)
}

func TestFacadeForkAndWait(t *testing.T) {
	k, procs := boot(t)

	var (
		childPID, reaped int
		forkErr          error
	)

	run(t, procs, func(p *proc.Process, c *kcpu.CPU) {
		childPID, forkErr = k.Fork(c, p)
		if forkErr != nil {
			return
		}

		reaped = k.Wait(c, p)
	})

	require.NoError(t, forkErr)
	require.Greater(t, childPID, 0)
	require.Equal(t, childPID, reaped)
}

func TestFacadePipeReadWrite(t *testing.T) {
	k, procs := boot(t)

	var (
		got           string
		pipeErr       error
		writeN, readN int
	)

	run(t, procs, func(p *proc.Process, c *kcpu.CPU) {
		rfd, wfd, err := k.Pipe(c, p)
		if err != nil {
			pipeErr = err
			return
		}

		writeN, err = k.Write(c, p, wfd, []byte("hi"))
		if err != nil {
			pipeErr = err
			return
		}

		buf := make([]byte, 2)

		readN, err = k.Read(c, p, rfd, buf)
		if err != nil {
			pipeErr = err
			return
		}

		got = string(buf[:readN])
	})

	require.NoError(t, pipeErr)
	require.Equal(t, 2, writeN)
	require.Equal(t, 2, readN)
	require.Equal(t, "hi", got)
}
