package console_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tinix-os/tinix/internal/console"
	"github.com/tinix-os/tinix/internal/lock"
	"github.com/tinix-os/tinix/internal/lock/locktest"
)

type neverKilled struct{}

func (neverKilled) IsKilled(cpu *lock.CPU, pid int) bool { return false }

func TestConsoleReadReturnsOneLine(t *testing.T) {
	var out bytes.Buffer
	c := console.New(&out, locktest.New(), neverKilled{})
	cpu := lock.NewCPU(0)

	done := make(chan struct{})
	var n int
	var err error

	go func() {
		dst := make([]byte, 32)
		n, err = c.Read(cpu, 1, dst[:])
		close(done)
		_ = dst
	}()

	intrCPU := lock.NewCPU(1)
	for _, b := range []byte("hi\n") {
		c.Intr(intrCPU, b)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("read did not return after a full line")
	}

	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, "hi\n", out.String())
}

func TestConsoleBackspaceErasesLastByte(t *testing.T) {
	var out bytes.Buffer
	c := console.New(&out, locktest.New(), neverKilled{})
	cpu := lock.NewCPU(0)

	done := make(chan struct{})
	var n int
	dst := make([]byte, 32)

	go func() {
		n, _ = c.Read(cpu, 1, dst)
		close(done)
	}()

	intrCPU := lock.NewCPU(1)
	for _, b := range []byte("hX") {
		c.Intr(intrCPU, b)
	}
	c.Intr(intrCPU, 0x08) // backspace erases the uncommitted 'X'
	for _, b := range []byte("i\n") {
		c.Intr(intrCPU, b)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("read did not return")
	}

	require.Equal(t, 3, n)
	require.Equal(t, "hi\n", string(dst[:n]))
}

func TestConsoleKillLineDiscardsBufferedInput(t *testing.T) {
	var out bytes.Buffer
	c := console.New(&out, locktest.New(), neverKilled{})
	cpu := lock.NewCPU(0)

	done := make(chan struct{})
	var n int

	go func() {
		dst := make([]byte, 32)
		n, _ = c.Read(cpu, 1, dst)
		close(done)
	}()

	intrCPU := lock.NewCPU(1)
	for _, b := range []byte("garbage") {
		c.Intr(intrCPU, b)
	}
	c.Intr(intrCPU, 0x15) // ^U: kill line
	for _, b := range []byte("ok\n") {
		c.Intr(intrCPU, b)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("read did not return")
	}

	require.Equal(t, 3, n)
}

type alwaysKilled struct{}

func (alwaysKilled) IsKilled(cpu *lock.CPU, pid int) bool { return true }

func TestConsoleReadGivesUpWhenCallerKilled(t *testing.T) {
	var out bytes.Buffer
	c := console.New(&out, locktest.New(), alwaysKilled{})
	cpu := lock.NewCPU(0)

	dst := make([]byte, 4)
	_, err := c.Read(cpu, 1, dst)
	require.Error(t, err)
}
