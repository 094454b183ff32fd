package trap

// syscall.go implements the argument-fetch helpers and the dispatch table
// for every system call, grounded on the original kernel's sysproc.c and
// sysfile.c: each handler fetches its arguments off the calling process's
// user stack exactly as argint/argstr/argptr do, then calls straight into
// internal/proc, internal/fs, or internal/file.

import (
	"errors"
	"fmt"

	kcpu "github.com/tinix-os/tinix/internal/cpu"
	"github.com/tinix-os/tinix/internal/file"
	"github.com/tinix-os/tinix/internal/fs"
	"github.com/tinix-os/tinix/internal/log"
	"github.com/tinix-os/tinix/internal/pipe"
	"github.com/tinix-os/tinix/internal/proc"
)

// Syscall numbers, in the original kernel's assigned order.
const (
	SysFork = iota + 1
	SysExit
	SysWait
	SysPipe
	SysRead
	SysKill
	SysExec
	SysFstat
	SysChdir
	SysDup
	SysGetpid
	SysSbrk
	SysSleep
	SysUptime
	SysOpen
	SysWrite
	SysMknod
	SysUnlink
	SysLink
	SysMkdir
	SysClose
)

// open(2) flags, matching the original kernel's fcntl.h.
const (
	OReadOnly  = 0x000
	OWriteOnly = 0x001
	OReadWrite = 0x002
	OCreate    = 0x200
)

// maxArg bounds the number of words exec will walk looking for a NULL
// terminator in an argv array.
const maxArg = 32

// maxPath bounds the length fetchStr will scan looking for a NUL before
// giving up.
const maxPath = 128

// statSize is the encoded size of the Fstat payload: type, major, minor
// (each a uint16) followed by size (a uint32). The original kernel's stat
// struct also carries a device and inode number; this kernel's internal
// file.File.Stat does not expose either, so they are omitted rather than
// fabricated.
const statSize = 2 + 2 + 2 + 4

// ErrBadAddr is returned when a syscall argument names memory outside the
// calling process's address space.
var ErrBadAddr = errors.New("trap: bad user address")

// ErrBadFD is returned when a syscall argument names a file descriptor the
// calling process does not have open.
var ErrBadFD = errors.New("trap: bad file descriptor")

// errRet is the uint32 EAX value every failing syscall returns: all bits
// set, read back by user code as the cdecl convention's -1.
const errRet = ^uint32(0)

// syscallTable dispatches a trap number to its handler. It is built once at
// package init time; every handler has the same shape so it can be stored as
// a plain function value.
var syscallTable = map[uint32]func(k *Kernel, c *kcpu.CPU, p *proc.Process) uint32{
	SysFork:   sysFork,
	SysExit:   sysExit,
	SysWait:   sysWait,
	SysPipe:   sysPipe,
	SysRead:   sysRead,
	SysKill:   sysKill,
	SysExec:   sysExec,
	SysFstat:  sysFstat,
	SysChdir:  sysChdir,
	SysDup:    sysDup,
	SysGetpid: sysGetpid,
	SysSbrk:   sysSbrk,
	SysSleep:  sysSleep,
	SysUptime: sysUptime,
	SysOpen:   sysOpen,
	SysWrite:  sysWrite,
	SysMknod:  sysMknod,
	SysUnlink: sysUnlink,
	SysLink:   sysLink,
	SysMkdir:  sysMkdir,
	SysClose:  sysClose,
}

// syscall is Dispatch's TrapSyscall handler: it looks up p.TrapFrame.EAX (the
// syscall number, set by the facade or by a real trap stub) in syscallTable
// and runs it, killing the process on an unrecognized number exactly as the
// original kernel's syscall() does.
func (k *Kernel) syscall(c *kcpu.CPU, p *proc.Process) uint32 {
	num := p.TrapFrame.EAX

	handler, ok := syscallTable[num]
	if !ok {
		log.WithProc(k.log, c.ID, p.PID).Error("trap: unknown syscall", "num", num, "name", p.Name)
		p.Killed = true

		return errRet
	}

	return handler(k, c, p)
}

func le16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func putLE16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
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

// fetchInt reads the uint32 at user address addr, the way the original
// kernel's fetchint validates and reads one stack word.
func (k *Kernel) fetchInt(c *kcpu.CPU, p *proc.Process, addr uint32) (uint32, error) {
	if addr >= p.Sz || addr+4 > p.Sz || addr+4 < addr {
		return 0, ErrBadAddr
	}

	var buf [4]byte

	if err := p.Space.CopyIn(c.CPU, addr, buf[:]); err != nil {
		return 0, fmt.Errorf("trap: fetchint: %w", err)
	}

	return le32(buf[:]), nil
}

// fetchStr reads a NUL-terminated string starting at user address addr, the
// way the original kernel's fetchstr scans forward from a validated address.
func (k *Kernel) fetchStr(c *kcpu.CPU, p *proc.Process, addr uint32) (string, error) {
	if addr >= p.Sz {
		return "", ErrBadAddr
	}

	buf := make([]byte, 0, maxPath)
	var b [1]byte

	for i := uint32(0); i < maxPath; i++ {
		if addr+i >= p.Sz {
			return "", ErrBadAddr
		}

		if err := p.Space.CopyIn(c.CPU, addr+i, b[:]); err != nil {
			return "", fmt.Errorf("trap: fetchstr: %w", err)
		}

		if b[0] == 0 {
			return string(buf), nil
		}

		buf = append(buf, b[0])
	}

	return "", fmt.Errorf("trap: fetchstr: %w: no terminator within %d bytes", ErrBadAddr, maxPath)
}

// argInt fetches the n'th cdecl-convention integer argument: the word at
// esp+4+4*n, below the dummy return address a real call instruction would
// have pushed.
func (k *Kernel) argInt(c *kcpu.CPU, p *proc.Process, n int) (uint32, error) {
	return k.fetchInt(c, p, p.TrapFrame.ESP+4+4*uint32(n))
}

// argStr fetches the n'th argument as a user pointer, then reads the string
// it points to.
func (k *Kernel) argStr(c *kcpu.CPU, p *proc.Process, n int) (string, error) {
	addr, err := k.argInt(c, p, n)
	if err != nil {
		return "", err
	}

	return k.fetchStr(c, p, addr)
}

// argFD fetches the n'th argument as a file descriptor, validating it names
// an open entry in p's file table and recovering the concrete *file.File
// backing it (proc.File is an interface so the kernel's process table stays
// free of a dependency on internal/file; this package is not, and may assert
// the concrete type back out).
func (k *Kernel) argFD(c *kcpu.CPU, p *proc.Process, n int) (int, *file.File, error) {
	raw, err := k.argInt(c, p, n)
	if err != nil {
		return 0, nil, err
	}

	fd := int(raw)
	if fd < 0 || fd >= proc.NOFILE || p.Files[fd] == nil {
		return 0, nil, ErrBadFD
	}

	f, ok := p.Files[fd].(*file.File)
	if !ok {
		return 0, nil, ErrBadFD
	}

	return fd, f, nil
}

// allocFD installs f in the first free descriptor slot of p, reporting
// failure if none remain.
func allocFD(p *proc.Process, f proc.File) (int, bool) {
	for fd := 0; fd < proc.NOFILE; fd++ {
		if p.Files[fd] == nil {
			p.Files[fd] = f
			return fd, true
		}
	}

	return 0, false
}

// procCaller adapts *proc.Process to pipe.Proc, the minimal view a blocking
// pipe or console read needs of the calling process.
type procCaller struct{ p *proc.Process }

func (c procCaller) PID() int     { return c.p.PID }
func (c procCaller) Killed() bool { return c.p.Killed }

// cwd returns p's current directory as the concrete *fs.Inode type path
// resolution needs. Every process's Cwd is always backed by this package's
// fs.Inode: proc.Table.UserInit and Fork set it via fs.FS.Root/Dup, and Exec
// never touches Cwd.
func cwd(p *proc.Process) *fs.Inode {
	return p.Cwd.(*fs.Inode)
}

// create implements the original kernel's create(): find-or-make the inode
// named by the final element of path, of the given type, inside its parent
// directory. On success it returns ip locked (the caller must Unlock and,
// once done with it, Put) with the parent already released.
func (k *Kernel) create(c *kcpu.CPU, p *proc.Process, path string, typ int16, major, minor int16) (*fs.Inode, error) {
	dirIp, name, err := k.FS.NameiParent(c.CPU, p.PID, cwd(p), path)
	if err != nil {
		return nil, err
	}

	dirIp.Lock(c.CPU, p.PID)

	if existing, _ := dirIp.Lookup(c.CPU, p.PID, name); existing != nil {
		existing.Lock(c.CPU, p.PID)
		dirIp.Unlock(c.CPU)
		dirIp.Put(c.CPU, p.PID)

		if typ == fs.TypeFile && existing.Type == fs.TypeFile {
			return existing, nil
		}

		existing.Unlock(c.CPU)
		existing.Put(c.CPU, p.PID)

		return nil, fmt.Errorf("trap: create: %s: already exists", name)
	}

	ip, err := k.FS.Alloc(c.CPU, p.PID, typ)
	if err != nil {
		dirIp.Unlock(c.CPU)
		dirIp.Put(c.CPU, p.PID)

		return nil, err
	}

	ip.Lock(c.CPU, p.PID)
	ip.Major = major
	ip.Minor = minor
	ip.NLink = 1
	ip.Update(c.CPU)

	if typ == fs.TypeDir {
		dirIp.NLink++ // for ".." in the new directory
		dirIp.Update(c.CPU)

		if err := ip.Link(c.CPU, p.PID, ".", ip.Num); err != nil {
			panic(fmt.Sprintf("trap: create: link .: %v", err))
		}

		if err := ip.Link(c.CPU, p.PID, "..", dirIp.Num); err != nil {
			panic(fmt.Sprintf("trap: create: link ..: %v", err))
		}
	}

	if err := dirIp.Link(c.CPU, p.PID, name, ip.Num); err != nil {
		panic(fmt.Sprintf("trap: create: link %s: %v", name, err))
	}

	dirIp.Unlock(c.CPU)
	dirIp.Put(c.CPU, p.PID)

	return ip, nil
}

func sysFork(k *Kernel, c *kcpu.CPU, p *proc.Process) uint32 {
	pid, err := k.Procs.Fork(c, p)
	if err != nil {
		return errRet
	}

	return uint32(pid)
}

func sysExit(k *Kernel, c *kcpu.CPU, p *proc.Process) uint32 {
	status, _ := k.argInt(c, p, 0)

	k.Procs.Exit(c, p, int(int32(status)))

	return 0 // unreachable: Exit never returns to its caller
}

func sysWait(k *Kernel, c *kcpu.CPU, p *proc.Process) uint32 {
	pid, _ := k.Procs.Wait(c, p)
	return uint32(pid)
}

func sysPipe(k *Kernel, c *kcpu.CPU, p *proc.Process) uint32 {
	addr, err := k.argInt(c, p, 0)
	if err != nil {
		return errRet
	}

	rf := k.Files.Alloc(c.CPU)
	wf := k.Files.Alloc(c.CPU)

	if rf == nil || wf == nil {
		if rf != nil {
			rf.Close(c.CPU, p.PID)
		}

		if wf != nil {
			wf.Close(c.CPU, p.PID)
		}

		return errRet
	}

	rfd, ok1 := allocFD(p, rf)
	wfd, ok2 := allocFD(p, wf)

	if !ok1 || !ok2 {
		if ok1 {
			p.Files[rfd] = nil
		}

		if ok2 {
			p.Files[wfd] = nil
		}

		rf.Close(c.CPU, p.PID)
		wf.Close(c.CPU, p.PID)

		return errRet
	}

	pp := pipe.New(k.Procs)
	rf.OpenPipe(pp, false)
	wf.OpenPipe(pp, true)

	var fds [8]byte
	putLE32(fds[0:4], uint32(rfd))
	putLE32(fds[4:8], uint32(wfd))

	if err := p.Space.CopyOut(c.CPU, addr, fds[:]); err != nil {
		return errRet
	}

	return 0
}

func sysRead(k *Kernel, c *kcpu.CPU, p *proc.Process) uint32 {
	_, f, err := k.argFD(c, p, 0)
	if err != nil {
		return errRet
	}

	addr, err := k.argInt(c, p, 1)
	if err != nil {
		return errRet
	}

	n, err := k.argInt(c, p, 2)
	if err != nil {
		return errRet
	}

	buf := make([]byte, n)

	got, err := f.Read(c.CPU, procCaller{p}, buf)
	if err != nil {
		return errRet
	}

	if err := p.Space.CopyOut(c.CPU, addr, buf[:got]); err != nil {
		return errRet
	}

	return uint32(got)
}

func sysKill(k *Kernel, c *kcpu.CPU, p *proc.Process) uint32 {
	pid, err := k.argInt(c, p, 0)
	if err != nil {
		return errRet
	}

	if !k.Procs.Kill(c, int(pid)) {
		return errRet
	}

	return 0
}

func sysExec(k *Kernel, c *kcpu.CPU, p *proc.Process) uint32 {
	path, err := k.argStr(c, p, 0)
	if err != nil {
		return errRet
	}

	argvAddr, err := k.argInt(c, p, 1)
	if err != nil {
		return errRet
	}

	var argv []string

	for i := 0; i < maxArg; i++ {
		word, err := k.fetchInt(c, p, argvAddr+4*uint32(i))
		if err != nil {
			return errRet
		}

		if word == 0 {
			break
		}

		s, err := k.fetchStr(c, p, word)
		if err != nil {
			return errRet
		}

		argv = append(argv, s)
	}

	if err := k.Procs.Exec(c, p, path, argv); err != nil {
		return errRet
	}

	return 0
}

func sysFstat(k *Kernel, c *kcpu.CPU, p *proc.Process) uint32 {
	_, f, err := k.argFD(c, p, 0)
	if err != nil {
		return errRet
	}

	addr, err := k.argInt(c, p, 1)
	if err != nil {
		return errRet
	}

	typ, size, major, minor, ok := f.Stat()
	if !ok {
		return errRet
	}

	var buf [statSize]byte
	putLE16(buf[0:], uint16(typ))
	putLE16(buf[2:], uint16(major))
	putLE16(buf[4:], uint16(minor))
	putLE32(buf[6:], size)

	if err := p.Space.CopyOut(c.CPU, addr, buf[:]); err != nil {
		return errRet
	}

	return 0
}

func sysChdir(k *Kernel, c *kcpu.CPU, p *proc.Process) uint32 {
	path, err := k.argStr(c, p, 0)
	if err != nil {
		return errRet
	}

	ip, err := k.FS.Namei(c.CPU, p.PID, cwd(p), path)
	if err != nil {
		return errRet
	}

	ip.Lock(c.CPU, p.PID)

	if ip.Type != fs.TypeDir {
		ip.Unlock(c.CPU)
		ip.Put(c.CPU, p.PID)

		return errRet
	}

	ip.Unlock(c.CPU)

	cwd(p).Put(c.CPU, p.PID)
	p.Cwd = ip

	return 0
}

func sysDup(k *Kernel, c *kcpu.CPU, p *proc.Process) uint32 {
	_, f, err := k.argFD(c, p, 0)
	if err != nil {
		return errRet
	}

	dup := f.Dup()

	fd, ok := allocFD(p, dup)
	if !ok {
		dup.Close(c.CPU, p.PID)
		return errRet
	}

	return uint32(fd)
}

func sysGetpid(k *Kernel, c *kcpu.CPU, p *proc.Process) uint32 {
	return uint32(p.PID)
}

func sysSbrk(k *Kernel, c *kcpu.CPU, p *proc.Process) uint32 {
	raw, err := k.argInt(c, p, 0)
	if err != nil {
		return errRet
	}

	old := p.Sz
	delta := int32(raw)
	target := uint32(int64(p.Sz) + int64(delta))

	if delta >= 0 {
		sz, err := p.Space.AllocUser(c.CPU, p.Sz, target)
		if err != nil {
			return errRet
		}

		p.Sz = sz
	} else {
		p.Sz = p.Space.DeallocUser(c.CPU, p.Sz, target)
	}

	return old
}

func sysSleep(k *Kernel, c *kcpu.CPU, p *proc.Process) uint32 {
	n, err := k.argInt(c, p, 0)
	if err != nil {
		return errRet
	}

	k.Procs.SleepTicks(c, p, uint64(n))

	return 0
}

func sysUptime(k *Kernel, c *kcpu.CPU, p *proc.Process) uint32 {
	return uint32(k.Procs.Ticks(c))
}

func sysOpen(k *Kernel, c *kcpu.CPU, p *proc.Process) uint32 {
	path, err := k.argStr(c, p, 0)
	if err != nil {
		return errRet
	}

	flags, err := k.argInt(c, p, 1)
	if err != nil {
		return errRet
	}

	var ip *fs.Inode

	if flags&OCreate != 0 {
		k.Journal.BeginOp(c.CPU)
		ip, err = k.create(c, p, path, fs.TypeFile, 0, 0)
		k.Journal.EndOp(c.CPU)

		if err != nil {
			return errRet
		}
	} else {
		ip, err = k.FS.Namei(c.CPU, p.PID, cwd(p), path)
		if err != nil {
			return errRet
		}

		ip.Lock(c.CPU, p.PID)

		if ip.Type == fs.TypeDir && flags != OReadOnly {
			ip.Unlock(c.CPU)
			ip.Put(c.CPU, p.PID)

			return errRet
		}
	}

	f := k.Files.Alloc(c.CPU)
	if f == nil {
		ip.Unlock(c.CPU)
		ip.Put(c.CPU, p.PID)

		return errRet
	}

	fd, ok := allocFD(p, f)
	if !ok {
		f.Close(c.CPU, p.PID)
		ip.Unlock(c.CPU)
		ip.Put(c.CPU, p.PID)

		return errRet
	}

	readable := flags&OWriteOnly == 0
	writable := flags&OWriteOnly != 0 || flags&OReadWrite != 0

	f.OpenInode(ip, readable, writable)
	ip.Unlock(c.CPU)

	return uint32(fd)
}

// maxWriteChunk bounds a single write's block footprint to what one log
// transaction can hold, the same arithmetic as the original kernel's
// sys_write: two blocks of slack for the header and the commit itself, and a
// factor of two since both the data block and its bitmap/inode updates count
// against the transaction's block budget.
const maxWriteChunk = ((10 - 1 - 1 - 2) / 2) * fs.BSIZE

func sysWrite(k *Kernel, c *kcpu.CPU, p *proc.Process) uint32 {
	_, f, err := k.argFD(c, p, 0)
	if err != nil {
		return errRet
	}

	addr, err := k.argInt(c, p, 1)
	if err != nil {
		return errRet
	}

	n, err := k.argInt(c, p, 2)
	if err != nil {
		return errRet
	}

	var total uint32

	for total < n {
		chunk := n - total
		if chunk > maxWriteChunk {
			chunk = maxWriteChunk
		}

		buf := make([]byte, chunk)

		if err := p.Space.CopyIn(c.CPU, addr+total, buf); err != nil {
			return errRet
		}

		k.Journal.BeginOp(c.CPU)
		wrote, err := f.Write(c.CPU, procCaller{p}, buf)
		k.Journal.EndOp(c.CPU)

		if err != nil {
			return errRet
		}

		total += uint32(wrote)

		if uint32(wrote) != chunk {
			break
		}
	}

	return total
}

func sysMknod(k *Kernel, c *kcpu.CPU, p *proc.Process) uint32 {
	path, err := k.argStr(c, p, 0)
	if err != nil {
		return errRet
	}

	major, err := k.argInt(c, p, 1)
	if err != nil {
		return errRet
	}

	minor, err := k.argInt(c, p, 2)
	if err != nil {
		return errRet
	}

	k.Journal.BeginOp(c.CPU)
	ip, err := k.create(c, p, path, fs.TypeDev, int16(major), int16(minor))
	k.Journal.EndOp(c.CPU)

	if err != nil {
		return errRet
	}

	ip.Unlock(c.CPU)
	ip.Put(c.CPU, p.PID)

	return 0
}

func sysUnlink(k *Kernel, c *kcpu.CPU, p *proc.Process) uint32 {
	path, err := k.argStr(c, p, 0)
	if err != nil {
		return errRet
	}

	k.Journal.BeginOp(c.CPU)
	defer k.Journal.EndOp(c.CPU)

	dirIp, name, err := k.FS.NameiParent(c.CPU, p.PID, cwd(p), path)
	if err != nil {
		return errRet
	}

	if name == "." || name == ".." {
		dirIp.Put(c.CPU, p.PID)
		return errRet
	}

	dirIp.Lock(c.CPU, p.PID)

	ip, off := dirIp.Lookup(c.CPU, p.PID, name)
	if ip == nil {
		dirIp.Unlock(c.CPU)
		dirIp.Put(c.CPU, p.PID)

		return errRet
	}

	ip.Lock(c.CPU, p.PID)

	if ip.NLink < 1 {
		panic("trap: unlink: nlink < 1")
	}

	if ip.Type == fs.TypeDir && !ip.IsEmpty(c.CPU, p.PID) {
		ip.Unlock(c.CPU)
		ip.Put(c.CPU, p.PID)
		dirIp.Unlock(c.CPU)
		dirIp.Put(c.CPU, p.PID)

		return errRet
	}

	if err := dirIp.Unlink(c.CPU, p.PID, off); err != nil {
		ip.Unlock(c.CPU)
		ip.Put(c.CPU, p.PID)
		dirIp.Unlock(c.CPU)
		dirIp.Put(c.CPU, p.PID)

		return errRet
	}

	if ip.Type == fs.TypeDir {
		dirIp.NLink--
		dirIp.Update(c.CPU)
	}

	dirIp.Unlock(c.CPU)
	dirIp.Put(c.CPU, p.PID)

	ip.NLink--
	ip.Update(c.CPU)
	ip.Unlock(c.CPU)
	ip.Put(c.CPU, p.PID)

	return 0
}

func sysLink(k *Kernel, c *kcpu.CPU, p *proc.Process) uint32 {
	oldPath, err := k.argStr(c, p, 0)
	if err != nil {
		return errRet
	}

	newPath, err := k.argStr(c, p, 1)
	if err != nil {
		return errRet
	}

	k.Journal.BeginOp(c.CPU)
	defer k.Journal.EndOp(c.CPU)

	ip, err := k.FS.Namei(c.CPU, p.PID, cwd(p), oldPath)
	if err != nil {
		return errRet
	}

	ip.Lock(c.CPU, p.PID)

	if ip.Type == fs.TypeDir {
		ip.Unlock(c.CPU)
		ip.Put(c.CPU, p.PID)

		return errRet
	}

	ip.NLink++
	ip.Update(c.CPU)
	ip.Unlock(c.CPU)

	dirIp, name, err := k.FS.NameiParent(c.CPU, p.PID, cwd(p), newPath)
	if err != nil {
		k.undoLink(c, p, ip)
		return errRet
	}

	dirIp.Lock(c.CPU, p.PID)

	if existing, _ := dirIp.Lookup(c.CPU, p.PID, name); existing != nil {
		existing.Put(c.CPU, p.PID)
		dirIp.Unlock(c.CPU)
		dirIp.Put(c.CPU, p.PID)
		k.undoLink(c, p, ip)

		return errRet
	}

	if err := dirIp.Link(c.CPU, p.PID, name, ip.Num); err != nil {
		dirIp.Unlock(c.CPU)
		dirIp.Put(c.CPU, p.PID)
		k.undoLink(c, p, ip)

		return errRet
	}

	dirIp.Unlock(c.CPU)
	dirIp.Put(c.CPU, p.PID)
	ip.Put(c.CPU, p.PID)

	return 0
}

// undoLink reverses the premature NLink++ sysLink performs before it knows
// whether the new name can actually be installed.
func (k *Kernel) undoLink(c *kcpu.CPU, p *proc.Process, ip *fs.Inode) {
	ip.Lock(c.CPU, p.PID)
	ip.NLink--
	ip.Update(c.CPU)
	ip.Unlock(c.CPU)
	ip.Put(c.CPU, p.PID)
}

func sysMkdir(k *Kernel, c *kcpu.CPU, p *proc.Process) uint32 {
	path, err := k.argStr(c, p, 0)
	if err != nil {
		return errRet
	}

	k.Journal.BeginOp(c.CPU)
	ip, err := k.create(c, p, path, fs.TypeDir, 0, 0)
	k.Journal.EndOp(c.CPU)

	if err != nil {
		return errRet
	}

	ip.Unlock(c.CPU)
	ip.Put(c.CPU, p.PID)

	return 0
}

func sysClose(k *Kernel, c *kcpu.CPU, p *proc.Process) uint32 {
	fd, f, err := k.argFD(c, p, 0)
	if err != nil {
		return errRet
	}

	f.Close(c.CPU, p.PID)
	p.Files[fd] = nil

	return 0
}
