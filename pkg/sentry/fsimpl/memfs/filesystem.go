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

package memfs

import (
	"pintrap.dev/pintrap/pkg/errors/kernerr"
	"pintrap.dev/pintrap/pkg/sentry/fs"
)

// start returns the directory a walk of a path begins at.
func (fsys *Filesystem) start(cwd fs.File, abs bool) (*inode, error) {
	if abs || cwd == nil {
		return fsys.root, nil
	}
	f, ok := cwd.(*file)
	if !ok || f.inode.fs != fsys {
		return nil, kernerr.EINVAL
	}
	if !f.inode.isDir() {
		return nil, kernerr.ENOTDIR
	}
	return f.inode, nil
}

// walk follows comps from dir.
func walk(dir *inode, comps []string) (*inode, error) {
	cur := dir
	for _, name := range comps {
		if cur.unlinked {
			return nil, kernerr.ENOENT
		}
		d := cur.dir()
		if d == nil {
			return nil, kernerr.ENOTDIR
		}
		switch name {
		case ".":
		case "..":
			cur = d.parent
		default:
			next, ok := d.lookup(name)
			if !ok {
				return nil, kernerr.ENOENT
			}
			cur = next
		}
	}
	return cur, nil
}

// walkParent resolves every component of path but the last, and returns the
// directory holding the last component along with its name.
func (fsys *Filesystem) walkParent(cwd fs.File, path string) (*directory, *inode, string, error) {
	comps, abs, err := fs.SplitPath(path)
	if err != nil {
		return nil, nil, "", err
	}
	if len(comps) == 0 {
		// The root.
		return nil, nil, "", kernerr.EBUSY
	}
	start, err := fsys.start(cwd, abs)
	if err != nil {
		return nil, nil, "", err
	}
	parent, err := walk(start, comps[:len(comps)-1])
	if err != nil {
		return nil, nil, "", err
	}
	if parent.unlinked {
		return nil, nil, "", kernerr.ENOENT
	}
	d := parent.dir()
	if d == nil {
		return nil, nil, "", kernerr.ENOTDIR
	}
	return d, parent, comps[len(comps)-1], nil
}

// Open implements fs.FileSystem.Open.
func (fsys *Filesystem) Open(cwd fs.File, path string) (fs.File, error) {
	comps, abs, err := fs.SplitPath(path)
	if err != nil {
		return nil, err
	}
	start, err := fsys.start(cwd, abs)
	if err != nil {
		return nil, err
	}
	i, err := walk(start, comps)
	if err != nil {
		return nil, err
	}
	if i.unlinked {
		return nil, kernerr.ENOENT
	}
	return fsys.newFile(i), nil
}

// Create implements fs.FileSystem.Create.
func (fsys *Filesystem) Create(cwd fs.File, path string, size int64) error {
	if size < 0 {
		return kernerr.EINVAL
	}
	d, _, name, err := fsys.walkParent(cwd, path)
	if err != nil {
		if err == kernerr.EBUSY {
			return kernerr.EEXIST
		}
		return err
	}
	if name == "." || name == ".." {
		return kernerr.EEXIST
	}
	if _, ok := d.lookup(name); ok {
		return kernerr.EEXIST
	}
	i, err := fsys.newRegularFile(size)
	if err != nil {
		return err
	}
	d.link(name, i)
	return nil
}

// Mkdir implements fs.FileSystem.Mkdir.
func (fsys *Filesystem) Mkdir(cwd fs.File, path string) error {
	d, parent, name, err := fsys.walkParent(cwd, path)
	if err != nil {
		if err == kernerr.EBUSY {
			return kernerr.EEXIST
		}
		return err
	}
	if name == "." || name == ".." {
		return kernerr.EEXIST
	}
	if _, ok := d.lookup(name); ok {
		return kernerr.EEXIST
	}
	d.link(name, fsys.newDirectory(parent))
	return nil
}

// Remove implements fs.FileSystem.Remove. Directories must be empty.
func (fsys *Filesystem) Remove(cwd fs.File, path string) error {
	d, _, name, err := fsys.walkParent(cwd, path)
	if err != nil {
		return err
	}
	if name == "." || name == ".." {
		return kernerr.EBUSY
	}
	child, ok := d.lookup(name)
	if !ok {
		return kernerr.ENOENT
	}
	if cd := child.dir(); cd != nil && cd.children.Len() != 0 {
		return kernerr.ENOTEMPTY
	}
	d.unlink(name)
	return nil
}
