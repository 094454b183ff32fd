// Package blockdev implements the single-disk request queue sitting between
// the buffer cache and a storage device: iderw's append-sleep-wake protocol,
// with completion dispatched through an errgroup instead of a real IRQ.
package blockdev

import (
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/tinix-os/tinix/internal/lock"
	"github.com/tinix-os/tinix/internal/log"
)

// SectorSize is the size, in bytes, of one device sector and one cache
// buffer -- xv6's BSIZE.
const SectorSize = 512

// ErrIO wraps an underlying device error when a request fails.
var ErrIO = errors.New("blockdev: i/o error")

// Buf is the minimum view of a cache buffer the queue needs: identity, the
// bytes to transfer, and the valid/dirty flags iderw waits on. The buffer
// cache's concrete buffer type implements it.
type Buf interface {
	DevNo() int
	BlockNo() uint32
	Bytes() []byte
	IsDirty() bool
	SetDirty(bool)
	IsValid() bool
	SetValid(bool)
}

// Device is a block device's driver contract: init once, then sector-at-a-
// time read/write, mirroring the teacher's device Init/Read/Write shape.
type Device interface {
	Init() error
	ReadSector(block uint32, dst []byte) error
	WriteSector(block uint32, src []byte) error
}

// Queue is the FIFO of outstanding requests against one device.
type Queue struct {
	spin *lock.Spinlock
	sched lock.Scheduler
	dev   Device

	pending []Buf

	group *errgroup.Group
	log   *log.Logger
}

// NewQueue creates a request queue over dev. sched provides the sleep/wakeup
// primitives the queue blocks callers on; it is ordinarily the kernel's
// process scheduler.
func NewQueue(dev Device, sched lock.Scheduler) *Queue {
	return &Queue{
		spin:  lock.New("ide"),
		sched: sched,
		dev:   dev,
		group: &errgroup.Group{},
		log:   log.DefaultLogger(),
	}
}

// Submit appends buf to the queue, kicking off service immediately if it is
// the only outstanding request, and blocks the caller until buf is valid and
// no longer dirty.
func (q *Queue) Submit(cpu *lock.CPU, buf Buf) {
	q.spin.Acquire(cpu)

	q.pending = append(q.pending, buf)
	if len(q.pending) == 1 {
		q.start(buf)
	}

	for !(buf.IsValid() && !buf.IsDirty()) {
		q.sched.Sleep(cpu, buf, q.spin)
	}

	q.spin.Release(cpu)
}

// Wait blocks until every request submitted so far has completed. It exists
// for tests.
func (q *Queue) Wait() error {
	return q.group.Wait()
}

// start launches buf's transfer in its own goroutine and reports completion
// through complete, standing in for the hardware interrupt the real driver
// waits for. The caller must hold q.spin.
func (q *Queue) start(buf Buf) {
	q.group.Go(func() error {
		var err error

		if buf.IsDirty() {
			err = q.dev.WriteSector(buf.BlockNo(), buf.Bytes())
		} else {
			err = q.dev.ReadSector(buf.BlockNo(), buf.Bytes())
		}

		q.complete(buf, err)

		if err != nil {
			return fmt.Errorf("%w: block %d", ErrIO, buf.BlockNo())
		}

		return nil
	})
}

// complete is the queue's interrupt handler: dequeue the head, log the
// failure if there was one, clear dirty and mark valid, wake whoever is
// waiting on buf, and start the next request.
func (q *Queue) complete(buf Buf, err error) {
	// Completion runs on its own goroutine standing in for an interrupt
	// context; it gets its own CPU identity token purely for the
	// spinlock's bookkeeping, the same way a real ISR runs without a
	// process of its own.
	isr := lock.NewCPU(-1)

	q.spin.Acquire(isr)

	if len(q.pending) > 0 && q.pending[0] == buf {
		q.pending = q.pending[1:]
	}

	if err != nil {
		q.log.Error("blockdev: request failed", "block", buf.BlockNo(), "err", err)
	}

	buf.SetDirty(false)
	buf.SetValid(true)

	q.sched.Wakeup(isr, buf)

	if len(q.pending) > 0 {
		q.start(q.pending[0])
	}

	q.spin.Release(isr)
}
