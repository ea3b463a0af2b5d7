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

// Package memfs provides an in-memory filesystem: the inode tree is the sole
// source of truth for the state of the filesystem.
//
// memfs does no locking of its own. Callers must serialize every call, which
// the kernel does by wrapping it with fs.Serialize.
package memfs

import (
	"fmt"

	"pintrap.dev/pintrap/pkg/errors/kernerr"
	"pintrap.dev/pintrap/pkg/refs"
	"pintrap.dev/pintrap/pkg/sentry/fs"
)

// RootIno is the inode number of the root directory.
const RootIno = 1

// Options configures a Filesystem.
type Options struct {
	// Capacity bounds the total size of all regular files in bytes. Zero
	// means unbounded.
	Capacity int64
}

// Filesystem implements fs.FileSystem.
type Filesystem struct {
	root *inode

	// capacity and used are in bytes. Data of removed files counts against
	// used until their last File is closed.
	capacity int64
	used     int64

	nextIno uint64
}

var _ fs.FileSystem = (*Filesystem)(nil)

// New returns an empty filesystem.
func New(opts Options) *Filesystem {
	fsys := &Filesystem{
		capacity: opts.Capacity,
		nextIno:  RootIno,
	}
	fsys.root = fsys.newDirectory(nil)
	return fsys
}

// Used returns the number of bytes of file data currently allocated.
func (fsys *Filesystem) Used() int64 {
	return fsys.used
}

// inode represents a filesystem object.
type inode struct {
	// refs is held once by the directory entry that links the inode, and
	// once per open File. The data is freed when the last reference goes.
	refs refs.AtomicRefCount

	fs  *Filesystem
	ino uint64

	// denyWrites counts Files that have called DenyWrite.
	denyWrites int

	// unlinked is set when the inode is removed from its parent.
	unlinked bool

	impl any // *regularFile or *directory
}

func (fsys *Filesystem) newInode(impl any) *inode {
	i := &inode{fs: fsys, ino: fsys.nextIno, impl: impl}
	fsys.nextIno++
	return i
}

func (i *inode) incRef() {
	i.refs.IncRef()
}

func (i *inode) decRef() {
	i.refs.DecRefWithDestructor(func() {
		if rf, ok := i.impl.(*regularFile); ok {
			i.fs.used -= int64(len(rf.data))
			rf.data = nil
		}
	})
}

func (i *inode) isDir() bool {
	_, ok := i.impl.(*directory)
	return ok
}

func (i *inode) String() string {
	kind := "file"
	if i.isDir() {
		kind = "dir"
	}
	return fmt.Sprintf("%s#%d", kind, i.ino)
}

// file implements fs.File.
type file struct {
	inode *inode

	// pos is the read/write position for regular files.
	pos int64

	// iter is the last name returned by Readdir, and started is set once
	// Readdir has returned anything.
	iter    string
	started bool

	denied bool
	closed bool
}

var _ fs.File = (*file)(nil)

func (fsys *Filesystem) newFile(i *inode) *file {
	i.incRef()
	return &file{inode: i}
}

func (f *file) check() error {
	if f.closed {
		return kernerr.EBADF
	}
	return nil
}

// Seek implements fs.File.Seek.
func (f *file) Seek(pos int64) {
	if pos < 0 {
		pos = 0
	}
	f.pos = pos
}

// Tell implements fs.File.Tell.
func (f *file) Tell() int64 {
	return f.pos
}

// IsDir implements fs.File.IsDir.
func (f *file) IsDir() bool {
	return f.inode.isDir()
}

// Inumber implements fs.File.Inumber.
func (f *file) Inumber() uint64 {
	return f.inode.ino
}

// Reopen implements fs.File.Reopen.
func (f *file) Reopen() (fs.File, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	return f.inode.fs.newFile(f.inode), nil
}

// DenyWrite implements fs.File.DenyWrite.
func (f *file) DenyWrite() {
	if !f.denied && !f.closed {
		f.denied = true
		f.inode.denyWrites++
	}
}

// AllowWrite implements fs.File.AllowWrite.
func (f *file) AllowWrite() {
	if f.denied {
		f.denied = false
		f.inode.denyWrites--
	}
}

// Close implements fs.File.Close.
func (f *file) Close() error {
	if err := f.check(); err != nil {
		return err
	}
	f.AllowWrite()
	f.closed = true
	f.inode.decRef()
	return nil
}
