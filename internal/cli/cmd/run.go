package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/tinix-os/tinix/internal/bcache"
	"github.com/tinix-os/tinix/internal/blockdev"
	"github.com/tinix-os/tinix/internal/cli"
	kcpu "github.com/tinix-os/tinix/internal/cpu"
	"github.com/tinix-os/tinix/internal/console"
	"github.com/tinix-os/tinix/internal/file"
	"github.com/tinix-os/tinix/internal/fs"
	"github.com/tinix-os/tinix/internal/fslog"
	"github.com/tinix-os/tinix/internal/lock"
	"github.com/tinix-os/tinix/internal/log"
	"github.com/tinix-os/tinix/internal/mem"
	"github.com/tinix-os/tinix/internal/proc"
	"github.com/tinix-os/tinix/internal/trap"
)

// consoleMajor is the device-switch major number /console is mknod'd under
// by the init program, matching internal/console.Major.
const consoleMajor = console.Major

// Run returns the "run" sub-command: it assembles a fresh kernel image in
// memory, boots it, and runs its init process to completion.
func Run() cli.Command {
	return &runCmd{}
}

type runCmd struct {
	fs *flag.FlagSet

	ncpu    int
	frames  int
	blocks  uint
	inodes  uint
	logSize uint
}

func (r *runCmd) FlagSet() *cli.FlagSet {
	if r.fs == nil {
		r.fs = flag.NewFlagSet("run", flag.ExitOnError)

		r.fs.IntVar(&r.ncpu, "ncpu", 2, "number of simulated CPUs")
		r.fs.IntVar(&r.frames, "frames", 4096, "physical memory pool size, in pages")
		r.fs.UintVar(&r.blocks, "blocks", uint(fs.DefaultBuildConfig.Blocks), "disk image size, in blocks")
		r.fs.UintVar(&r.inodes, "inodes", uint(fs.DefaultBuildConfig.Inodes), "number of inodes")
		r.fs.UintVar(&r.logSize, "logsize", uint(fs.DefaultBuildConfig.LogSize), "journal size, in blocks")
	}

	return r.fs
}

func (r *runCmd) Description() string { return "boot the kernel and run its init process" }

func (r *runCmd) Usage(out io.Writer) error {
	_, err := fmt.Fprintln(out, "usage: tinix run [-ncpu N] [-frames N] [-blocks N] [-inodes N] [-logsize N]")
	return err
}

// Run assembles and boots a complete kernel image: a physical frame pool and
// process table, a freshly built disk image mounted through the buffer
// cache and journal, the console device wired into the file system's device
// switch, and the trap dispatcher tying syscalls to all of it. It then runs
// the init process to completion across r.ncpu simulated CPUs.
func (r *runCmd) Run(ctx context.Context, _ []string, out io.Writer, logger *log.Logger) cli.ExitStatus {
	alloc := mem.NewAllocator(r.frames)
	physTop := uint32(r.frames * mem.PageSize)

	procs := proc.NewTable(r.ncpu)
	procs.SetMemory(alloc, physTop)

	cfg := fs.BuildConfig{Blocks: uint32(r.blocks), Inodes: uint32(r.inodes), LogSize: uint32(r.logSize)}

	disk := blockdev.NewMemDisk(int(cfg.Blocks))
	if err := disk.Init(); err != nil {
		logger.Error("run: disk init failed", "err", err)
		return cli.ExitBootError
	}

	sb, err := fs.Build(disk, cfg)
	if err != nil {
		logger.Error("run: build file system image failed", "err", err)
		return cli.ExitBootError
	}

	queue := blockdev.NewQueue(disk, procs)
	cache := bcache.NewCache(queue, procs)
	jlog := fslog.New(cache, procs, 0, sb.LogStart, sb.NLog)
	fsys := fs.New(0, sb, cache, jlog, procs)

	con := console.New(out, procs, procs)
	fsys.RegisterDevice(consoleMajor, con)

	// If stdin is a live terminal, put it in raw mode and stream it into
	// the console's line discipline a byte at a time -- the same role the
	// teacher's tty.Console plays between a host terminal and the
	// simulated keyboard. Piped stdin (tests, scripted runs) leaves term
	// nil and the console just has no live keyboard feeding it.
	term, err := openConsoleTerminal()
	if err != nil {
		logger.Error("run: opening console terminal failed", "err", err)
		return cli.ExitBootError
	}

	if term != nil {
		defer term.restore()
	}

	files := file.NewTable()
	k := trap.New(procs, fsys, jlog, files)

	procs.SetRootResolver(func() proc.Inode { return fsys.Root() })

	// Recovery has to wait until a process (and so a CPU identity with
	// sleep/wakeup to block on) actually exists; forkret runs this exactly
	// once, on whichever CPU picks up the first scheduled process. See
	// SetFSInit's doc comment.
	procs.SetFSInit(func(c *kcpu.CPU) {
		jlog.Recover(c.CPU)
	})

	booted := make(chan struct{})

	procs.RegisterProgram("/init", func(p *proc.Process, c *kcpu.CPU) {
		runInit(k, procs, logger, p, c)
		close(booted)
	})

	if err := procs.UserInit(procs.CPUs()[0]); err != nil {
		logger.Error("run: userinit failed", "err", err)
		return cli.ExitBootError
	}

	alloc.EndBoot()

	// Every simulated CPU's scheduler loop is one goroutine in the group;
	// cancelling the group's context (via cancel, once init completes or
	// the caller's ctx is done) is what stops them all.
	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	for _, c := range procs.CPUs() {
		c := c // go1.21: capture this iteration's CPU, not the loop variable

		g.Go(func() error {
			procs.RunCPU(runCtx, c)
			return nil
		})
	}

	if term != nil {
		keyboardCPU := lock.NewCPU(-1)

		g.Go(func() error {
			term.feed(runCtx, func(b byte) { con.Intr(keyboardCPU, b) })
			return nil
		})
	}

	select {
	case <-booted:
	case <-ctx.Done():
	}

	cancel()
	_ = g.Wait()

	return cli.ExitOK
}

// runInit is the body of the "/init" program: it brings up the console
// device node, exercises the syscall surface enough to prove the trap
// dispatcher and file system are wired correctly, and forks a child whose
// exit it reaps, demonstrating the scheduler running more than one process.
//
// Forked children do not inherit a resumable copy of this closure's call
// stack -- a live goroutine's stack can't be duplicated the way a real
// fork() duplicates an address space -- so the child here has no Entry of
// its own and simply exits as soon as it is first scheduled. See DESIGN.md.
func runInit(k *trap.Kernel, procs *proc.Table, logger *log.Logger, p *proc.Process, c *kcpu.CPU) {
	if err := k.Mknod(c, p, "/console", consoleMajor, 1); err != nil {
		logger.Error("init: mknod /console failed", "err", err)
		return
	}

	fd, err := k.Open(c, p, "/console", trap.OReadWrite)
	if err != nil {
		logger.Error("init: open /console failed", "err", err)
		return
	}

	if _, err := k.Dup(c, p, fd); err != nil { // stdout
		logger.Error("init: dup stdout failed", "err", err)
	}

	if _, err := k.Dup(c, p, fd); err != nil { // stderr
		logger.Error("init: dup stderr failed", "err", err)
	}

	banner := fmt.Sprintf("tinix: booted with %d cpus\n", len(procs.CPUs()))
	if _, err := k.Write(c, p, 1, []byte(banner)); err != nil {
		logger.Error("init: write banner failed", "err", err)
	}

	if err := k.Mkdir(c, p, "/tmp"); err != nil {
		logger.Error("init: mkdir /tmp failed", "err", err)
	}

	logFd, err := k.Open(c, p, "/tmp/boot.log", trap.OCreate|trap.OWriteOnly)
	if err != nil {
		logger.Error("init: open /tmp/boot.log failed", "err", err)
	} else {
		if _, err := k.Write(c, p, logFd, []byte("tinix boot log\n")); err != nil {
			logger.Error("init: write boot.log failed", "err", err)
		}

		if err := k.Close(c, p, logFd); err != nil {
			logger.Error("init: close boot.log failed", "err", err)
		}
	}

	pid, err := k.Fork(c, p)
	if err != nil {
		logger.Error("init: fork failed", "err", err)
		return
	}

	if reaped := k.Wait(c, p); reaped != pid {
		logger.Error("init: wait returned unexpected pid", "want", pid, "got", reaped)
	}

	logger.Info("init: boot sequence complete", "pid", p.PID)
}
