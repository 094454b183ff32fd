// Package bcache implements the buffer cache: a fixed pool of disk-block
// buffers kept in most-recently-used order, funnelling every block read and
// write through a single acquire/release discipline the way the teacher's
// Memory controller funnels every logical address through MAR/MDR.
package bcache

import (
	"fmt"

	"github.com/tinix-os/tinix/internal/blockdev"
	"github.com/tinix-os/tinix/internal/lock"
	"github.com/tinix-os/tinix/internal/log"
)

// NBUF is the size of the buffer pool.
const NBUF = 30

// Buf is one cached disk block. Its data reflects the disk, or a pending
// write by its current holder, iff Valid is set.
type Buf struct {
	dev   int
	block uint32
	data  [blockdev.SectorSize]byte

	valid bool
	dirty bool

	refcnt int
	sleep  *lock.SleepLock
}

func (b *Buf) DevNo() int        { return b.dev }
func (b *Buf) BlockNo() uint32   { return b.block }
func (b *Buf) Bytes() []byte     { return b.data[:] }
func (b *Buf) IsDirty() bool     { return b.dirty }
func (b *Buf) SetDirty(d bool)   { b.dirty = d }
func (b *Buf) IsValid() bool     { return b.valid }
func (b *Buf) SetValid(v bool)   { b.valid = v }

// Cache is the buffer pool and the lock serializing access to its identity
// table; each Buf additionally carries its own sleep lock for the data
// itself, per spec.md §4.3's lock hierarchy (cache lock, then per-buffer
// sleep lock).
type Cache struct {
	spin  *lock.Spinlock
	bufs  [NBUF]*Buf
	mru   []*Buf // index 0 is most recently used
	queue *blockdev.Queue
	log   *log.Logger
}

// NewCache creates an empty pool of NBUF buffers backed by queue. sched
// drives each buffer's sleep lock.
func NewCache(queue *blockdev.Queue, sched lock.Scheduler) *Cache {
	c := &Cache{
		spin:  lock.New("bcache"),
		queue: queue,
		log:   log.DefaultLogger(),
	}

	for i := range c.bufs {
		buf := &Buf{sleep: lock.NewSleepLock(fmt.Sprintf("buf.%d", i), sched)}
		c.bufs[i] = buf
		c.mru = append(c.mru, buf)
	}

	return c
}

// Read returns the sleep-locked buffer for (dev, block), reading it from the
// device queue first if it is not already cached. pid identifies the caller
// to the buffer's sleep lock (0 for kernel-only callers with no process,
// e.g. log recovery).
func (c *Cache) Read(cpu *lock.CPU, pid int, dev int, block uint32) *Buf {
	c.spin.Acquire(cpu)

	for _, b := range c.mru {
		if b.dev == dev && b.block == block {
			b.refcnt++
			c.spin.Release(cpu)
			b.sleep.Acquire(cpu, pid)

			if !b.valid {
				c.queue.Submit(cpu, b)
			}

			return b
		}
	}

	var victim *Buf

	for i := len(c.mru) - 1; i >= 0; i-- {
		b := c.mru[i]
		if b.refcnt == 0 && !b.dirty {
			victim = b
			break
		}
	}

	if victim == nil {
		panic("bcache: no free buffer")
	}

	victim.dev = dev
	victim.block = block
	victim.valid = false
	victim.dirty = false
	victim.refcnt = 1

	c.spin.Release(cpu)

	victim.sleep.Acquire(cpu, pid)

	if !victim.valid {
		c.queue.Submit(cpu, victim)
	}

	return victim
}

// Write submits buf for a direct disk write and blocks until it completes.
// It is the "bwrite" primitive: only the journaling log's commit routine
// should call it. Everything else writes through internal/fslog, which pins
// the buffer dirty in the cache until commit instead of writing immediately.
func (c *Cache) Write(cpu *lock.CPU, buf *Buf) {
	buf.dirty = true
	c.queue.Submit(cpu, buf)
}

// Release drops the caller's hold on buf: release its sleep lock, then
// under the cache lock decrement its refcount, promoting it to
// most-recently-used once nothing holds it.
func (c *Cache) Release(cpu *lock.CPU, buf *Buf) {
	buf.sleep.Release(cpu)

	c.spin.Acquire(cpu)
	defer c.spin.Release(cpu)

	buf.refcnt--

	if buf.refcnt != 0 {
		return
	}

	for i, b := range c.mru {
		if b == buf {
			c.mru = append(c.mru[:i], c.mru[i+1:]...)
			c.mru = append([]*Buf{buf}, c.mru...)

			break
		}
	}
}
