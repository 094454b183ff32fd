package bcache_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinix-os/tinix/internal/bcache"
	"github.com/tinix-os/tinix/internal/blockdev"
	"github.com/tinix-os/tinix/internal/lock"
	"github.com/tinix-os/tinix/internal/lock/locktest"
)

func newCache(t *testing.T, sectors int) (*bcache.Cache, *lock.CPU) {
	t.Helper()

	disk := blockdev.NewMemDisk(sectors)
	require.NoError(t, disk.Init())

	queue := blockdev.NewQueue(disk, locktest.New())
	cache := bcache.NewCache(queue, locktest.New())

	return cache, lock.NewCPU(0)
}

func TestCacheReadFetchesFromDevice(t *testing.T) {
	cache, cpu := newCache(t, 64)

	buf := cache.Read(cpu, 0, 0, 5)
	require.True(t, buf.IsValid())
	require.Equal(t, uint32(5), buf.BlockNo())

	cache.Release(cpu, buf)
}

func TestCacheReadReusesCachedBuffer(t *testing.T) {
	cache, cpu := newCache(t, 64)

	a := cache.Read(cpu, 0, 0, 5)
	b := cache.Read(cpu, 0, 0, 5)

	require.Same(t, a, b)

	cache.Release(cpu, a)
	cache.Release(cpu, b)
}

func TestCacheWritePersistsBytes(t *testing.T) {
	cache, cpu := newCache(t, 64)

	buf := cache.Read(cpu, 0, 0, 9)
	copy(buf.Bytes(), []byte("hello"))
	cache.Write(cpu, buf)
	cache.Release(cpu, buf)

	again := cache.Read(cpu, 0, 0, 9)
	require.Equal(t, byte('h'), again.Bytes()[0])
	cache.Release(cpu, again)
}

// TestCacheEvictsLeastRecentlyUsed exercises every buffer in the pool on
// distinct blocks, then requests one more block: the victim must be the
// buffer released longest ago, the one holding block 0.
func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	cache, cpu := newCache(t, bcache.NBUF+8)

	var oldest *bcache.Buf

	for block := uint32(0); block < bcache.NBUF; block++ {
		buf := cache.Read(cpu, 0, 0, block)
		if block == 0 {
			oldest = buf
		}
		cache.Release(cpu, buf)
	}

	fresh := cache.Read(cpu, 0, 0, bcache.NBUF+1)
	require.Same(t, oldest, fresh)
	require.True(t, fresh.IsValid())
	require.Equal(t, bcache.NBUF+1, int(fresh.BlockNo()))
	cache.Release(cpu, fresh)
}
