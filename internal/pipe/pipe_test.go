package pipe_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tinix-os/tinix/internal/lock"
	"github.com/tinix-os/tinix/internal/lock/locktest"
	"github.com/tinix-os/tinix/internal/pipe"
)

type testProc struct {
	pid     int
	killed  atomic.Bool
}

func (p *testProc) PID() int     { return p.pid }
func (p *testProc) Killed() bool { return p.killed.Load() }

func TestPipeWriteThenReadRoundTrips(t *testing.T) {
	p := pipe.New(locktest.New())
	cpu := lock.NewCPU(0)
	caller := &testProc{pid: 1}

	n, err := p.Write(cpu, caller, []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	dst := make([]byte, 5)
	n, err = p.Read(cpu, caller, dst)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(dst))
}

func TestPipeWriteBlocksUntilReaderDrains(t *testing.T) {
	p := pipe.New(locktest.New())
	writerCPU := lock.NewCPU(0)
	readerCPU := lock.NewCPU(1)
	caller := &testProc{pid: 1}

	full := make([]byte, pipe.Size)
	for i := range full {
		full[i] = byte(i)
	}

	done := make(chan struct{})
	var wrote int

	go func() {
		n, err := p.Write(writerCPU, caller, append(full, 0xFF))
		require.NoError(t, err)
		wrote = n
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("write of a full-buffer-plus-one completed without a reader")
	case <-time.After(50 * time.Millisecond):
	}

	dst := make([]byte, 1)
	n, err := p.Read(readerCPU, caller, dst)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	<-done
	require.Equal(t, pipe.Size+1, wrote)
}

func TestPipeCloseReadUnblocksWriter(t *testing.T) {
	p := pipe.New(locktest.New())
	writerCPU := lock.NewCPU(0)
	closerCPU := lock.NewCPU(1)
	caller := &testProc{pid: 1}

	full := make([]byte, pipe.Size+1)

	var wg sync.WaitGroup
	var err error

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err = p.Write(writerCPU, caller, full)
	}()

	time.Sleep(20 * time.Millisecond)
	p.CloseRead(closerCPU)
	wg.Wait()

	require.ErrorIs(t, err, pipe.ErrClosed)
}

func TestPipeCloseWriteYieldsEOFToReader(t *testing.T) {
	p := pipe.New(locktest.New())
	readerCPU := lock.NewCPU(0)
	closerCPU := lock.NewCPU(1)
	caller := &testProc{pid: 1}

	var wg sync.WaitGroup
	var n int
	var err error

	wg.Add(1)
	go func() {
		defer wg.Done()
		dst := make([]byte, 10)
		n, err = p.Read(readerCPU, caller, dst)
	}()

	time.Sleep(20 * time.Millisecond)
	p.CloseWrite(closerCPU)
	wg.Wait()

	require.NoError(t, err)
	require.Equal(t, 0, n)
}

// TestPipeKilledReaderGivesUp confirms a process already marked killed never
// blocks on an empty pipe, even with the write end still open: the Killed
// check runs before Sleep on every iteration of the wait loop.
func TestPipeKilledReaderGivesUp(t *testing.T) {
	p := pipe.New(locktest.New())
	readerCPU := lock.NewCPU(0)
	caller := &testProc{pid: 1}
	caller.killed.Store(true)

	done := make(chan struct{})
	var n int
	var err error

	go func() {
		dst := make([]byte, 10)
		n, err = p.Read(readerCPU, caller, dst)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("killed reader blocked instead of giving up")
	}

	require.NoError(t, err)
	require.Equal(t, 0, n)
}
