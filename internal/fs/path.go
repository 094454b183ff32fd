package fs

// path.go resolves slash-separated path names to inodes, one element at a
// time, exactly as the teacher kernel's namex does: walk directory entries
// left to right, unlocking and releasing each directory before the next one
// is locked.

import (
	"fmt"
	"strings"

	"github.com/tinix-os/tinix/internal/lock"
)

// ErrNotFound is returned when a path element does not exist.
var ErrNotFound = fmt.Errorf("fs: no such file or directory")

// ErrNotDir is returned when a non-final path element is not a directory.
var ErrNotDir = fmt.Errorf("fs: not a directory")

// skipelem splits the next path element off path, returning it and the
// remainder. It collapses repeated and leading/trailing slashes the way the
// original kernel's skipelem does.
func skipelem(path string) (elem, rest string) {
	path = strings.TrimLeft(path, "/")
	if path == "" {
		return "", ""
	}

	if i := strings.IndexByte(path, '/'); i >= 0 {
		elem = path[:i]
		rest = strings.TrimLeft(path[i:], "/")
	} else {
		elem = path
	}

	if len(elem) > DirSiz {
		elem = elem[:DirSiz]
	}

	return elem, rest
}

// Root returns the (unlocked, ref-counted) root directory inode.
func (f *FS) Root() *Inode {
	return f.Get(RootIno)
}

// namex is the shared core of Namei and NameiParent: it walks path one
// element at a time starting from cwd (or the root, for an absolute path),
// locking each directory just long enough to look up the next element.
//
// When parent is true, it stops one element early and returns the directory
// that would contain the final element, along with that element's name,
// without attempting to look it up (it may not exist yet, as for create).
func (f *FS) namex(cpu *lock.CPU, pid int, cwd *Inode, path string, parent bool) (*Inode, string, error) {
	var ip *Inode

	if strings.HasPrefix(path, "/") {
		ip = f.Root()
	} else if cwd != nil {
		ip = cwd.Dup().(*Inode)
	} else {
		ip = f.Root()
	}

	elem, rest := skipelem(path)

	for elem != "" {
		ip.Lock(cpu, pid)

		if ip.Type != TypeDir {
			ip.Unlock(cpu)
			ip.Put(cpu, pid)

			return nil, "", ErrNotDir
		}

		if parent && rest == "" {
			ip.Unlock(cpu)
			return ip, elem, nil
		}

		next, _ := ip.Lookup(cpu, pid, elem)
		ip.Unlock(cpu)
		ip.Put(cpu, pid)

		if next == nil {
			return nil, "", ErrNotFound
		}

		ip = next
		elem, rest = skipelem(rest)
	}

	// path had no elements at all (""  or "/"): mirror the teacher kernel's
	// namex, which simply returns the starting inode untouched either way.
	return ip, "", nil
}

// Namei resolves path to its inode, starting from cwd for a relative path.
func (f *FS) Namei(cpu *lock.CPU, pid int, cwd *Inode, path string) (*Inode, error) {
	ip, _, err := f.namex(cpu, pid, cwd, path, false)
	return ip, err
}

// NameiParent resolves all but the last element of path to the containing
// directory's inode, returning the final element's name unresolved.
func (f *FS) NameiParent(cpu *lock.CPU, pid int, cwd *Inode, path string) (*Inode, string, error) {
	return f.namex(cpu, pid, cwd, path, true)
}
