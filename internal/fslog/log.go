// Package fslog implements the write-ahead journaling log: every file-system
// system call runs inside a begin_op/end_op transaction, and blocks it
// dirties are copied into the log region and committed atomically before
// they are ever installed at their home location.
package fslog

import (
	"fmt"

	"github.com/tinix-os/tinix/internal/bcache"
	"github.com/tinix-os/tinix/internal/lock"
	"github.com/tinix-os/tinix/internal/log"
)

// MaxOpBlocks bounds how many distinct blocks one transaction may dirty.
const MaxOpBlocks = 10

// headerMax is the most block numbers a logheader can hold and still fit in
// one sector: 4 bytes for the count, 4 bytes per block number.
const headerMax = (blockSize - 4) / 4

const blockSize = 512

// header is the on-disk (and in-memory mirror of the) log header: a count
// followed by the block numbers the log currently holds copies of.
type header struct {
	n     int
	block [headerMax]uint32
}

func decodeHeader(b []byte) header {
	var h header

	h.n = int(le32(b[0:4]))

	for i := 0; i < h.n && i < headerMax; i++ {
		h.block[i] = le32(b[4+4*i:])
	}

	return h
}

func encodeHeader(b []byte, h header) {
	putLE32(b[0:4], uint32(h.n))

	for i := 0; i < h.n; i++ {
		putLE32(b[4+4*i:], h.block[i])
	}
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// Log is one file system's write-ahead log: a fixed region of the device
// starting with a header block followed by size-1 data slots.
type Log struct {
	spin  *lock.Spinlock
	sched lock.Scheduler
	cache *bcache.Cache

	dev   int
	start uint32
	size  uint32

	outstanding int
	committing  bool
	hdr         header

	log *log.Logger
}

// New creates a log over the region [start, start+size) of dev. Call
// Recover before the first BeginOp to replay any committed-but-not-installed
// transaction left by a prior crash.
func New(cache *bcache.Cache, sched lock.Scheduler, dev int, start, size uint32) *Log {
	return &Log{
		spin:  lock.New("log"),
		sched: sched,
		cache: cache,
		dev:   dev,
		start: start,
		size:  size,
		log:   log.DefaultLogger(),
	}
}

// Recover replays any transaction the on-disk header says is committed, then
// clears the header. It must run before any BeginOp.
func (l *Log) Recover(cpu *lock.CPU) {
	l.readHead(cpu)
	l.installTrans(cpu)
	l.hdr.n = 0
	l.writeHead(cpu)
}

// BeginOp reserves space in the log for one more transaction, blocking while
// a commit is in progress or insufficient space remains.
func (l *Log) BeginOp(cpu *lock.CPU) {
	l.spin.Acquire(cpu)

	for {
		if l.committing {
			l.sched.Sleep(cpu, l, l.spin)
			continue
		}

		if l.hdr.n+(l.outstanding+1)*MaxOpBlocks > int(l.size-1) {
			l.sched.Sleep(cpu, l, l.spin)
			continue
		}

		l.outstanding++

		break
	}

	l.spin.Release(cpu)
}

// Write records buf as part of the current transaction: absorbed if already
// logged, otherwise appended. It pins buf dirty in the cache; the actual
// disk write happens at commit.
func (l *Log) Write(cpu *lock.CPU, buf *bcache.Buf) {
	if l.hdr.n >= int(l.size-1) {
		panic("fslog: too big a transaction")
	}

	if l.outstanding < 1 {
		panic("fslog: write outside of a transaction")
	}

	l.spin.Acquire(cpu)
	defer l.spin.Release(cpu)

	for i := 0; i < l.hdr.n; i++ {
		if l.hdr.block[i] == buf.BlockNo() {
			buf.SetDirty(true)
			return
		}
	}

	l.hdr.block[l.hdr.n] = buf.BlockNo()
	l.hdr.n++

	buf.SetDirty(true)
}

// EndOp closes out one transaction. The last outstanding caller runs the
// commit; everyone else just wakes whoever is waiting for log space.
func (l *Log) EndOp(cpu *lock.CPU) {
	commit := false

	l.spin.Acquire(cpu)

	l.outstanding--

	if l.outstanding == 0 {
		commit = true
		l.committing = true
	} else {
		l.sched.Wakeup(cpu, l)
	}

	l.spin.Release(cpu)

	if !commit {
		return
	}

	l.doCommit(cpu)

	l.spin.Acquire(cpu)
	l.committing = false
	l.sched.Wakeup(cpu, l)
	l.spin.Release(cpu)
}

// doCommit runs the four-step commit algorithm: copy logged blocks into the
// log region, write the header (the atomic commit point), install each
// block at its home location, then zero the header.
func (l *Log) doCommit(cpu *lock.CPU) {
	if l.hdr.n == 0 {
		return
	}

	l.writeLog(cpu)
	l.writeHead(cpu)
	l.installTrans(cpu)

	l.hdr.n = 0

	l.writeHead(cpu)
}

func (l *Log) writeLog(cpu *lock.CPU) {
	for tail := 0; tail < l.hdr.n; tail++ {
		to := l.cache.Read(cpu, 0, l.dev, l.start+uint32(tail)+1)
		from := l.cache.Read(cpu, 0, l.dev, l.hdr.block[tail])

		copy(to.Bytes(), from.Bytes())
		l.cache.Write(cpu, to)

		l.cache.Release(cpu, from)
		l.cache.Release(cpu, to)
	}
}

func (l *Log) installTrans(cpu *lock.CPU) {
	for tail := 0; tail < l.hdr.n; tail++ {
		lbuf := l.cache.Read(cpu, 0, l.dev, l.start+uint32(tail)+1)
		dbuf := l.cache.Read(cpu, 0, l.dev, l.hdr.block[tail])

		copy(dbuf.Bytes(), lbuf.Bytes())
		l.cache.Write(cpu, dbuf)

		l.cache.Release(cpu, lbuf)
		l.cache.Release(cpu, dbuf)
	}

	l.log.Debug("fslog: installed transaction", "blocks", l.hdr.n)
}

func (l *Log) readHead(cpu *lock.CPU) {
	buf := l.cache.Read(cpu, 0, l.dev, l.start)
	l.hdr = decodeHeader(buf.Bytes())
	l.cache.Release(cpu, buf)
}

func (l *Log) writeHead(cpu *lock.CPU) {
	buf := l.cache.Read(cpu, 0, l.dev, l.start)
	encodeHeader(buf.Bytes(), l.hdr)
	l.cache.Write(cpu, buf)
	l.cache.Release(cpu, buf)
}

func (l *Log) String() string {
	return fmt.Sprintf("log(dev=%d start=%d size=%d n=%d outstanding=%d)",
		l.dev, l.start, l.size, l.hdr.n, l.outstanding)
}
