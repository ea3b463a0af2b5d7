// Copyright 2025 The pintrap Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package host provides a filesystem backed by a directory on the host.
//
// Every lookup is confined to the root directory: paths are cleaned
// lexically, so ".." never climbs above the root, and host resolution is done
// with openat2(RESOLVE_BENEATH|RESOLVE_NO_SYMLINKS) relative to a descriptor
// for the root. The root is locked with an exclusive flock for as long as the
// Filesystem is alive, so two kernels never share one.
//
// Like memfs, the Filesystem does no locking of its own.
package host

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"
	"pintrap.dev/pintrap/pkg/errors/kernerr"
	"pintrap.dev/pintrap/pkg/log"
	"pintrap.dev/pintrap/pkg/sentry/fs"
)

// LockFile is the name of the lock file kept in the root. It is hidden from
// Readdir.
const LockFile = ".pintrap.lock"

// Filesystem implements fs.FileSystem.
type Filesystem struct {
	root   string
	rootFD int
	lock   *flock.Flock

	// denied counts DenyWrite calls by host inode number.
	denied map[uint64]int
}

var _ fs.FileSystem = (*Filesystem)(nil)

// New returns a Filesystem rooted at the host directory root, creating it if
// needed.
func New(root string) (*Filesystem, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating root %q: %w", root, err)
	}
	l := flock.New(filepath.Join(root, LockFile))
	ok, err := l.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking root %q: %w", root, err)
	}
	if !ok {
		return nil, fmt.Errorf("root %q is in use by another kernel", root)
	}
	fd, err := unix.Open(root, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		l.Unlock()
		return nil, fmt.Errorf("opening root %q: %w", root, err)
	}
	// Every lookup depends on openat2; fail here rather than on first use.
	probe, err := unix.Openat2(fd, ".", &unix.OpenHow{Flags: unix.O_RDONLY | unix.O_DIRECTORY | unix.O_CLOEXEC})
	if err != nil {
		unix.Close(fd)
		l.Unlock()
		return nil, fmt.Errorf("openat2 on root %q: %w", root, err)
	}
	unix.Close(probe)
	log.Infof("Host filesystem rooted at %q", root)
	return &Filesystem{
		root:   root,
		rootFD: fd,
		lock:   l,
		denied: make(map[uint64]int),
	}, nil
}

// Root returns the host path of the root directory.
func (fsys *Filesystem) Root() string {
	return fsys.root
}

// Release closes the root and drops the lock on it. Files that are still
// open stay usable.
func (fsys *Filesystem) Release() error {
	if err := unix.Close(fsys.rootFD); err != nil {
		return err
	}
	return fsys.lock.Unlock()
}

// resolve returns path as a clean path relative to the root, with "." for
// the root itself.
func (fsys *Filesystem) resolve(cwd fs.File, path string) (string, error) {
	comps, abs, err := fs.SplitPath(path)
	if err != nil {
		return "", err
	}
	base := "/"
	if !abs && cwd != nil {
		f, ok := cwd.(*file)
		if !ok || f.fs != fsys {
			return "", kernerr.EINVAL
		}
		if !f.dir {
			return "", kernerr.ENOTDIR
		}
		base = "/" + f.rel
	}
	rel := strings.TrimPrefix(filepath.Join(append([]string{base}, comps...)...), "/")
	if rel == "" {
		rel = "."
	}
	return rel, nil
}

func (fsys *Filesystem) openat(rel string, flags int) (int, error) {
	fd, err := unix.Openat2(fsys.rootFD, rel, &unix.OpenHow{
		Flags:   uint64(flags | unix.O_CLOEXEC | unix.O_NOFOLLOW),
		Resolve: unix.RESOLVE_BENEATH | unix.RESOLVE_NO_SYMLINKS,
	})
	return fd, kernerr.FromHost(err)
}

// openParent opens the directory holding the last component of path.
func (fsys *Filesystem) openParent(cwd fs.File, path string) (int, string, error) {
	rel, err := fsys.resolve(cwd, path)
	if err != nil {
		return -1, "", err
	}
	if rel == "." {
		return -1, "", kernerr.EBUSY
	}
	dir, name := filepath.Split(rel)
	if dir == "" {
		dir = "."
	}
	fd, err := fsys.openat(dir, unix.O_RDONLY|unix.O_DIRECTORY)
	if err != nil {
		return -1, "", err
	}
	return fd, name, nil
}

// Open implements fs.FileSystem.Open. Files are opened read-write when the
// host allows it and read-only otherwise.
func (fsys *Filesystem) Open(cwd fs.File, path string) (fs.File, error) {
	rel, err := fsys.resolve(cwd, path)
	if err != nil {
		return nil, err
	}
	fd, err := fsys.openat(rel, unix.O_RDWR)
	switch {
	case kernerr.Equals(kernerr.EISDIR, err):
		fd, err = fsys.openat(rel, unix.O_RDONLY|unix.O_DIRECTORY)
	case kernerr.Equals(kernerr.EACCES, err):
		fd, err = fsys.openat(rel, unix.O_RDONLY)
	}
	if err != nil {
		return nil, err
	}
	return fsys.newFile(fd, rel)
}

// Create implements fs.FileSystem.Create.
func (fsys *Filesystem) Create(cwd fs.File, path string, size int64) error {
	if size < 0 {
		return kernerr.EINVAL
	}
	dirFD, name, err := fsys.openParent(cwd, path)
	if err != nil {
		if err == kernerr.EBUSY {
			return kernerr.EEXIST
		}
		return err
	}
	defer unix.Close(dirFD)
	fd, err := unix.Openat(dirFD, name, unix.O_CREAT|unix.O_EXCL|unix.O_WRONLY|unix.O_CLOEXEC|unix.O_NOFOLLOW, 0644)
	if err != nil {
		return kernerr.FromHost(err)
	}
	defer unix.Close(fd)
	if err := unix.Ftruncate(fd, size); err != nil {
		unix.Unlinkat(dirFD, name, 0)
		return kernerr.FromHost(err)
	}
	return nil
}

// Mkdir implements fs.FileSystem.Mkdir.
func (fsys *Filesystem) Mkdir(cwd fs.File, path string) error {
	dirFD, name, err := fsys.openParent(cwd, path)
	if err != nil {
		if err == kernerr.EBUSY {
			return kernerr.EEXIST
		}
		return err
	}
	defer unix.Close(dirFD)
	return kernerr.FromHost(unix.Mkdirat(dirFD, name, 0755))
}

// Remove implements fs.FileSystem.Remove.
func (fsys *Filesystem) Remove(cwd fs.File, path string) error {
	dirFD, name, err := fsys.openParent(cwd, path)
	if err != nil {
		return err
	}
	defer unix.Close(dirFD)
	if name == LockFile {
		return kernerr.EBUSY
	}
	var st unix.Stat_t
	if err := unix.Fstatat(dirFD, name, &st, unix.AT_SYMLINK_NOFOLLOW); err != nil {
		return kernerr.FromHost(err)
	}
	flags := 0
	if st.Mode&unix.S_IFMT == unix.S_IFDIR {
		flags = unix.AT_REMOVEDIR
	}
	return kernerr.FromHost(unix.Unlinkat(dirFD, name, flags))
}
