package trap

// facade.go is how a Process.Entry closure issues a system call. Since every
// process in this kernel is a Go closure rather than a compiled instruction
// stream (see internal/proc's doc comment on Process.Entry), there is no
// `int $0x80` instruction for it to execute. Instead each method here plays
// the part of both the user-mode library wrapper and the trap stub: it
// writes its arguments onto the calling process's own simulated user stack
// using the same cdecl layout the original kernel's argint/argstr decode
// (argint(n) = fetchint(esp+4+4*n)), points EAX at the syscall number, calls
// Dispatch directly, and restores ESP afterward so a program issuing many
// syscalls never walks its small stack off the end of its address space.
//
// All of these calls must run on the goroutine of the process they name: the
// facade mutates that process's own TrapFrame, exactly as a real trap would
// only ever be taken by the process that caused it.

import (
	"errors"
	"fmt"

	kcpu "github.com/tinix-os/tinix/internal/cpu"
	"github.com/tinix-os/tinix/internal/proc"
)

// ErrSyscall is returned by the facade methods that return an error when the
// underlying syscall handler reported failure (EAX came back as -1).
var ErrSyscall = errors.New("trap: syscall failed")

// stager accumulates bytes below a process's current stack pointer for one
// syscall invocation, the same bump-allocation discipline Table.Exec uses to
// lay out argv.
type stager struct {
	c    *kcpu.CPU
	p    *proc.Process
	sp   uint32
	orig uint32
}

func newStager(c *kcpu.CPU, p *proc.Process) *stager {
	return &stager{c: c, p: p, sp: p.TrapFrame.ESP, orig: p.TrapFrame.ESP}
}

// restore resets the process's stack pointer to what it was before this
// stager made any reservations. Call it (typically deferred) once the
// syscall this stager served has returned.
func (s *stager) restore() {
	s.p.TrapFrame.ESP = s.orig
}

// pushBytes reserves len(b) bytes below the current bump pointer, writes b
// there, and returns the address.
func (s *stager) pushBytes(b []byte) (uint32, error) {
	sp := s.sp - uint32(len(b))
	sp &^= 3

	if err := s.p.Space.CopyOut(s.c.CPU, sp, b); err != nil {
		return 0, fmt.Errorf("trap: facade: stage bytes: %w", err)
	}

	s.sp = sp

	return sp, nil
}

// pushString stages a NUL-terminated copy of str.
func (s *stager) pushString(str string) (uint32, error) {
	return s.pushBytes(append([]byte(str), 0))
}

// reserve stages n zeroed bytes, for a syscall to fill in via CopyOut (a
// read destination, a stat buffer, a pipe fd pair).
func (s *stager) reserve(n uint32) (uint32, error) {
	return s.pushBytes(make([]byte, n))
}

// call stages num and args as one cdecl-style call frame, traps into
// Dispatch, and returns EAX. It saves and restores the trap frame fields it
// touches so a syscall that fails partway (or one nested inside another
// stager's lifetime is never attempted; these never nest) leaves the process
// state exactly as it found it aside from the stack bump already recorded by
// this stager.
func (s *stager) call(k *Kernel, num uint32, args ...uint32) (uint32, error) {
	word := make([]byte, 4*(len(args)+1)) // +1 for the dummy return address

	for i, a := range args {
		putLE32(word[4+4*i:], a)
	}

	addr, err := s.pushBytes(word)
	if err != nil {
		return 0, err
	}

	savedESP, savedEAX, savedTrapNo := s.p.TrapFrame.ESP, s.p.TrapFrame.EAX, s.p.TrapFrame.TrapNo

	s.p.TrapFrame.ESP = addr
	s.p.TrapFrame.EAX = num
	s.p.TrapFrame.TrapNo = kcpu.TrapSyscall

	k.Dispatch(s.c, s.p)

	ret := s.p.TrapFrame.EAX

	s.p.TrapFrame.ESP = savedESP
	s.p.TrapFrame.EAX = savedEAX
	s.p.TrapFrame.TrapNo = savedTrapNo

	if ret == errRet {
		return ret, ErrSyscall
	}

	return ret, nil
}

// Fork invokes fork(2).
func (k *Kernel) Fork(c *kcpu.CPU, p *proc.Process) (int, error) {
	s := newStager(c, p)
	defer s.restore()

	ret, err := s.call(k, SysFork)
	return int(ret), err
}

// Exit invokes exit(2). It never returns: the process's own goroutine blocks
// forever inside Table.Exit, the same way falling off the end of Entry does.
func (k *Kernel) Exit(c *kcpu.CPU, p *proc.Process, status int) {
	s := newStager(c, p)
	_, _ = s.call(k, SysExit, uint32(int32(status)))
}

// Wait invokes wait(2), returning the exited child's pid, or -1 if p has no
// children. A process killed before or during the call exits inside
// Dispatch and never returns from Wait.
func (k *Kernel) Wait(c *kcpu.CPU, p *proc.Process) int {
	s := newStager(c, p)
	defer s.restore()

	ret, _ := s.call(k, SysWait)
	return int(int32(ret))
}

// Pipe invokes pipe(2), returning the read and write ends' file descriptors.
func (k *Kernel) Pipe(c *kcpu.CPU, p *proc.Process) (readFD, writeFD int, err error) {
	s := newStager(c, p)
	defer s.restore()

	addr, err := s.reserve(8)
	if err != nil {
		return -1, -1, err
	}

	if _, err := s.call(k, SysPipe, addr); err != nil {
		return -1, -1, err
	}

	var buf [8]byte
	if err := p.Space.CopyIn(c.CPU, addr, buf[:]); err != nil {
		return -1, -1, fmt.Errorf("trap: facade: pipe: %w", err)
	}

	return int(le32(buf[0:4])), int(le32(buf[4:8])), nil
}

// Read invokes read(2), copying up to len(dst) bytes into dst and returning
// the count actually read.
func (k *Kernel) Read(c *kcpu.CPU, p *proc.Process, fd int, dst []byte) (int, error) {
	s := newStager(c, p)
	defer s.restore()

	addr, err := s.reserve(uint32(len(dst)))
	if err != nil {
		return -1, err
	}

	ret, err := s.call(k, SysRead, uint32(fd), addr, uint32(len(dst)))
	if err != nil {
		return -1, err
	}

	n := int(ret)

	if err := p.Space.CopyIn(c.CPU, addr, dst[:n]); err != nil {
		return -1, fmt.Errorf("trap: facade: read: %w", err)
	}

	return n, nil
}

// Kill invokes kill(2).
func (k *Kernel) Kill(c *kcpu.CPU, p *proc.Process, pid int) error {
	s := newStager(c, p)
	defer s.restore()

	_, err := s.call(k, SysKill, uint32(pid))
	return err
}

// Exec invokes exec(2), replacing p's program image. Like Table.Exec itself,
// this does not transfer control mid-flight: it takes effect the next time p
// is freshly scheduled.
func (k *Kernel) Exec(c *kcpu.CPU, p *proc.Process, path string, argv []string) error {
	s := newStager(c, p)
	defer s.restore()

	pathAddr, err := s.pushString(path)
	if err != nil {
		return err
	}

	argAddrs := make([]uint32, len(argv))

	for i := len(argv) - 1; i >= 0; i-- {
		addr, err := s.pushString(argv[i])
		if err != nil {
			return err
		}

		argAddrs[i] = addr
	}

	vec := make([]byte, 4*(len(argAddrs)+1)) // NULL-terminated

	for i, a := range argAddrs {
		putLE32(vec[4*i:], a)
	}

	argvAddr, err := s.pushBytes(vec)
	if err != nil {
		return err
	}

	_, err = s.call(k, SysExec, pathAddr, argvAddr)
	return err
}

// Fstat invokes fstat(2).
func (k *Kernel) Fstat(c *kcpu.CPU, p *proc.Process, fd int) (typ, major, minor int16, size uint32, err error) {
	s := newStager(c, p)
	defer s.restore()

	addr, err := s.reserve(statSize)
	if err != nil {
		return 0, 0, 0, 0, err
	}

	if _, err := s.call(k, SysFstat, uint32(fd), addr); err != nil {
		return 0, 0, 0, 0, err
	}

	var buf [statSize]byte
	if err := p.Space.CopyIn(c.CPU, addr, buf[:]); err != nil {
		return 0, 0, 0, 0, fmt.Errorf("trap: facade: fstat: %w", err)
	}

	typ = int16(le16(buf[0:]))
	major = int16(le16(buf[2:]))
	minor = int16(le16(buf[4:]))
	size = le32(buf[6:])

	return typ, major, minor, size, nil
}

// Chdir invokes chdir(2).
func (k *Kernel) Chdir(c *kcpu.CPU, p *proc.Process, path string) error {
	s := newStager(c, p)
	defer s.restore()

	addr, err := s.pushString(path)
	if err != nil {
		return err
	}

	_, err = s.call(k, SysChdir, addr)
	return err
}

// Dup invokes dup(2).
func (k *Kernel) Dup(c *kcpu.CPU, p *proc.Process, fd int) (int, error) {
	s := newStager(c, p)
	defer s.restore()

	ret, err := s.call(k, SysDup, uint32(fd))
	return int(ret), err
}

// Getpid invokes getpid(2).
func (k *Kernel) Getpid(c *kcpu.CPU, p *proc.Process) int {
	s := newStager(c, p)
	defer s.restore()

	ret, _ := s.call(k, SysGetpid)
	return int(ret)
}

// Sbrk invokes sbrk(2), returning the process's previous break.
func (k *Kernel) Sbrk(c *kcpu.CPU, p *proc.Process, n int) (int, error) {
	s := newStager(c, p)
	defer s.restore()

	ret, err := s.call(k, SysSbrk, uint32(int32(n)))
	return int(ret), err
}

// Sleep invokes sleep(2), blocking the calling process for n ticks.
func (k *Kernel) Sleep(c *kcpu.CPU, p *proc.Process, n uint64) error {
	s := newStager(c, p)
	defer s.restore()

	_, err := s.call(k, SysSleep, uint32(n))
	return err
}

// Uptime invokes uptime(2).
func (k *Kernel) Uptime(c *kcpu.CPU, p *proc.Process) uint64 {
	s := newStager(c, p)
	defer s.restore()

	ret, _ := s.call(k, SysUptime)
	return uint64(ret)
}

// Open invokes open(2).
func (k *Kernel) Open(c *kcpu.CPU, p *proc.Process, path string, flags int) (int, error) {
	s := newStager(c, p)
	defer s.restore()

	addr, err := s.pushString(path)
	if err != nil {
		return -1, err
	}

	ret, err := s.call(k, SysOpen, addr, uint32(flags))
	return int(ret), err
}

// Write invokes write(2).
func (k *Kernel) Write(c *kcpu.CPU, p *proc.Process, fd int, src []byte) (int, error) {
	s := newStager(c, p)
	defer s.restore()

	addr, err := s.pushBytes(src)
	if err != nil {
		return -1, err
	}

	ret, err := s.call(k, SysWrite, uint32(fd), addr, uint32(len(src)))
	return int(ret), err
}

// Mknod invokes mknod(2).
func (k *Kernel) Mknod(c *kcpu.CPU, p *proc.Process, path string, major, minor int16) error {
	s := newStager(c, p)
	defer s.restore()

	addr, err := s.pushString(path)
	if err != nil {
		return err
	}

	_, err = s.call(k, SysMknod, addr, uint32(major), uint32(minor))
	return err
}

// Unlink invokes unlink(2).
func (k *Kernel) Unlink(c *kcpu.CPU, p *proc.Process, path string) error {
	s := newStager(c, p)
	defer s.restore()

	addr, err := s.pushString(path)
	if err != nil {
		return err
	}

	_, err = s.call(k, SysUnlink, addr)
	return err
}

// Link invokes link(2).
func (k *Kernel) Link(c *kcpu.CPU, p *proc.Process, oldPath, newPath string) error {
	s := newStager(c, p)
	defer s.restore()

	oldAddr, err := s.pushString(oldPath)
	if err != nil {
		return err
	}

	newAddr, err := s.pushString(newPath)
	if err != nil {
		return err
	}

	_, err = s.call(k, SysLink, oldAddr, newAddr)
	return err
}

// Mkdir invokes mkdir(2).
func (k *Kernel) Mkdir(c *kcpu.CPU, p *proc.Process, path string) error {
	s := newStager(c, p)
	defer s.restore()

	addr, err := s.pushString(path)
	if err != nil {
		return err
	}

	_, err = s.call(k, SysMkdir, addr)
	return err
}

// Close invokes close(2).
func (k *Kernel) Close(c *kcpu.CPU, p *proc.Process, fd int) error {
	s := newStager(c, p)
	defer s.restore()

	_, err := s.call(k, SysClose, uint32(fd))
	return err
}
