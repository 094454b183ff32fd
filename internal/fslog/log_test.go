package fslog_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinix-os/tinix/internal/bcache"
	"github.com/tinix-os/tinix/internal/blockdev"
	"github.com/tinix-os/tinix/internal/fslog"
	"github.com/tinix-os/tinix/internal/lock"
	"github.com/tinix-os/tinix/internal/lock/locktest"
)

const (
	testDev     = 0
	logStart    = 2
	logSize     = fslog.MaxOpBlocks + 1
	homeBlock   = 20
	numSectors  = 64
)

func newFixture(t *testing.T) (*blockdev.MemDisk, *bcache.Cache, *lock.CPU) {
	t.Helper()

	disk := blockdev.NewMemDisk(numSectors)
	require.NoError(t, disk.Init())

	queue := blockdev.NewQueue(disk, locktest.New())
	cache := bcache.NewCache(queue, locktest.New())

	return disk, cache, lock.NewCPU(0)
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func TestLogCommitsAndInstallsAtHomeBlock(t *testing.T) {
	disk, cache, cpu := newFixture(t)

	l := fslog.New(cache, locktest.New(), testDev, logStart, logSize)
	l.Recover(cpu) // no prior transaction: a no-op

	l.BeginOp(cpu)

	buf := cache.Read(cpu, 0, testDev, homeBlock)
	copy(buf.Bytes(), []byte("committed-data"))
	l.Write(cpu, buf)
	cache.Release(cpu, buf)

	l.EndOp(cpu)

	got := make([]byte, blockdev.SectorSize)
	require.NoError(t, disk.ReadSector(homeBlock, got))
	require.Equal(t, "committed-data", string(got[:len("committed-data")]))
}

// TestLogRecoverReplaysCommittedTransaction simulates a crash that happened
// after the header was written (the commit point) but before installTrans
// ran: the log region already holds the header and the logged block, but
// the home block is still untouched. Recover must replay it.
func TestLogRecoverReplaysCommittedTransaction(t *testing.T) {
	disk, cache, cpu := newFixture(t)

	header := make([]byte, blockdev.SectorSize)
	putLE32(header[0:4], 1)
	putLE32(header[4:8], homeBlock)
	require.NoError(t, disk.WriteSector(logStart, header))

	logSlot := make([]byte, blockdev.SectorSize)
	copy(logSlot, []byte("replayed-data"))
	require.NoError(t, disk.WriteSector(logStart+1, logSlot))

	l := fslog.New(cache, locktest.New(), testDev, logStart, logSize)
	l.Recover(cpu)

	got := make([]byte, blockdev.SectorSize)
	require.NoError(t, disk.ReadSector(homeBlock, got))
	require.Equal(t, "replayed-data", string(got[:len("replayed-data")]))

	clearedHeader := make([]byte, blockdev.SectorSize)
	require.NoError(t, disk.ReadSector(logStart, clearedHeader))
	require.Equal(t, []byte{0, 0, 0, 0}, clearedHeader[0:4])
}

func TestLogAbsorbsRepeatedWritesToSameBlock(t *testing.T) {
	_, cache, cpu := newFixture(t)

	l := fslog.New(cache, locktest.New(), testDev, logStart, logSize)
	l.Recover(cpu)

	l.BeginOp(cpu)

	for i := 0; i < logSize; i++ {
		buf := cache.Read(cpu, 0, testDev, homeBlock)
		l.Write(cpu, buf)
		cache.Release(cpu, buf)
	}

	l.EndOp(cpu)
	// logSize writes would overflow the logSize-1 data slots if each one
	// were appended; no panic confirms the absorption path: repeated writes
	// to the same block log only one entry.
}
