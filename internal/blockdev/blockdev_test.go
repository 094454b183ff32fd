package blockdev_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinix-os/tinix/internal/blockdev"
	"github.com/tinix-os/tinix/internal/lock"
	"github.com/tinix-os/tinix/internal/lock/locktest"
)

type testBuf struct {
	dev, block   uint32
	data         [blockdev.SectorSize]byte
	valid, dirty bool
}

func (b *testBuf) DevNo() int      { return int(b.dev) }
func (b *testBuf) BlockNo() uint32 { return b.block }
func (b *testBuf) Bytes() []byte   { return b.data[:] }
func (b *testBuf) IsDirty() bool   { return b.dirty }
func (b *testBuf) SetDirty(d bool) { b.dirty = d }
func (b *testBuf) IsValid() bool   { return b.valid }
func (b *testBuf) SetValid(v bool) { b.valid = v }

func TestQueueSubmitReadsThroughDevice(t *testing.T) {
	disk := blockdev.NewMemDisk(8)
	require.NoError(t, disk.Init())

	want := make([]byte, blockdev.SectorSize)
	for i := range want {
		want[i] = byte(i)
	}
	require.NoError(t, disk.WriteSector(3, want))

	q := blockdev.NewQueue(disk, locktest.New())
	cpu := lock.NewCPU(0)

	buf := &testBuf{block: 3}
	q.Submit(cpu, buf)
	require.NoError(t, q.Wait())

	require.True(t, buf.valid)
	require.Equal(t, want, buf.Bytes())
}

func TestQueueSubmitWritesThroughDevice(t *testing.T) {
	disk := blockdev.NewMemDisk(8)
	require.NoError(t, disk.Init())

	q := blockdev.NewQueue(disk, locktest.New())
	cpu := lock.NewCPU(0)

	buf := &testBuf{block: 5, valid: true}
	for i := range buf.data {
		buf.data[i] = 0xAB
	}

	q.Submit(cpu, buf)
	require.NoError(t, q.Wait())

	got := make([]byte, blockdev.SectorSize)
	require.NoError(t, disk.ReadSector(5, got))

	for _, b := range got {
		require.Equal(t, byte(0xAB), b)
	}
}
