package proc_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	kcpu "github.com/tinix-os/tinix/internal/cpu"
	"github.com/tinix-os/tinix/internal/mem"
	"github.com/tinix-os/tinix/internal/proc"
)

// newTable builds a table of ncpu CPUs with a frame pool large enough to clear
// mem.KernelText (see internal/trap's boot helper for why the pool must be
// at least a few megabytes), but with no file system wired in.
func newTable(ncpu int) *proc.Table {
	const nframes = 4096

	alloc := mem.NewAllocator(nframes)
	t := proc.NewTable(ncpu)
	t.SetMemory(alloc, uint32(nframes*mem.PageSize))
	alloc.EndBoot()

	return t
}

func TestUserInitMapsAStack(t *testing.T) {
	procs := newTable(1)

	procs.RegisterProgram("/init", func(p *proc.Process, c *kcpu.CPU) {})

	require.NoError(t, procs.UserInit(procs.CPUs()[0]))

	dump := procs.Dump()
	require.Contains(t, dump, "init")
	require.Contains(t, dump, "RUNNABLE")
}

func TestUserInitMissingProgramFails(t *testing.T) {
	procs := newTable(1)

	err := procs.UserInit(procs.CPUs()[0])
	require.ErrorIs(t, err, proc.ErrNoProgram)
}

func TestForkWaitReapsChild(t *testing.T) {
	procs := newTable(1)

	var (
		childPID, reapedPID, reapedStatus int
	)

	procs.RegisterProgram("/init", func(p *proc.Process, c *kcpu.CPU) {
		var err error

		childPID, err = procs.Fork(c, p)
		require.NoError(t, err)

		reapedPID, reapedStatus = procs.Wait(c, p)
	})

	require.NoError(t, procs.UserInit(procs.CPUs()[0]))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})

	go func() {
		procs.RunCPU(ctx, procs.CPUs()[0])
		close(done)
	}()

	// The child has no Entry of its own (see Process.Entry's doc comment),
	// so it exits with status 0 as soon as it is first scheduled; give the
	// single CPU a moment to reap it through forkret->Exit before checking.
	deadline := time.After(4 * time.Second)

	for childPID == 0 || reapedPID == 0 {
		select {
		case <-deadline:
			t.Fatal("fork/wait did not complete in time")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done

	require.Greater(t, childPID, 0)
	require.Equal(t, childPID, reapedPID)
	require.Equal(t, 0, reapedStatus)
}

func TestExecReplacesTheAddressSpace(t *testing.T) {
	procs := newTable(1)

	var execErr error

	procs.RegisterProgram("/child", func(p *proc.Process, c *kcpu.CPU) {})
	procs.RegisterProgram("/init", func(p *proc.Process, c *kcpu.CPU) {
		execErr = procs.Exec(c, p, "/child", []string{"a", "bb"})
	})

	require.NoError(t, procs.UserInit(procs.CPUs()[0]))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	procs.RunCPU(ctx, procs.CPUs()[0])

	require.NoError(t, execErr)
}

func TestExecArgvExceedingOnePageFails(t *testing.T) {
	procs := newTable(1)

	var execErr error

	// One argument bigger than the single user stack page Exec maps above
	// its guard page: staging it bumps the stack pointer down past the
	// guard boundary, which must fail rather than silently write into
	// supervisor-only memory.
	huge := strings.Repeat("x", mem.PageSize)

	procs.RegisterProgram("/init", func(p *proc.Process, c *kcpu.CPU) {
		execErr = procs.Exec(c, p, "/init", []string{huge})
	})

	require.NoError(t, procs.UserInit(procs.CPUs()[0]))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	procs.RunCPU(ctx, procs.CPUs()[0])

	require.Error(t, execErr)
	require.ErrorIs(t, execErr, mem.ErrPerm)
}

func TestWaitWithNoChildrenReturnsImmediately(t *testing.T) {
	procs := newTable(1)

	var pid, status int

	procs.RegisterProgram("/init", func(p *proc.Process, c *kcpu.CPU) {
		pid, status = procs.Wait(c, p)
	})

	require.NoError(t, procs.UserInit(procs.CPUs()[0]))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	procs.RunCPU(ctx, procs.CPUs()[0])

	require.Equal(t, -1, pid)
	require.Equal(t, 0, status)
}
