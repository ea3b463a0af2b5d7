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
	"io"

	"github.com/google/btree"
	"pintrap.dev/pintrap/pkg/errors/kernerr"
)

const childListDegree = 4

// dentry links an inode into its parent directory under name.
type dentry struct {
	name  string
	inode *inode
}

func dentryLess(a, b *dentry) bool {
	return a.name < b.name
}

type directory struct {
	// parent is the directory's parent. The root is its own parent.
	parent *inode

	// children is ordered by name, which gives Readdir a stable position
	// across insertions and removals.
	children *btree.BTreeG[*dentry]
}

func (fsys *Filesystem) newDirectory(parent *inode) *inode {
	dir := &directory{
		parent:   parent,
		children: btree.NewG[*dentry](childListDegree, dentryLess),
	}
	i := fsys.newInode(dir)
	if parent == nil {
		dir.parent = i
	}
	return i
}

func (i *inode) dir() *directory {
	d, _ := i.impl.(*directory)
	return d
}

func (d *directory) lookup(name string) (*inode, bool) {
	de, ok := d.children.Get(&dentry{name: name})
	if !ok {
		return nil, false
	}
	return de.inode, true
}

// link inserts child under name. The entry holds the reference child was
// created with.
func (d *directory) link(name string, child *inode) {
	d.children.ReplaceOrInsert(&dentry{name: name, inode: child})
}

func (d *directory) unlink(name string) {
	de, ok := d.children.Delete(&dentry{name: name})
	if !ok {
		return
	}
	de.inode.unlinked = true
	de.inode.decRef()
}

// Readdir implements fs.File.Readdir.
func (f *file) Readdir() (string, error) {
	if err := f.check(); err != nil {
		return "", err
	}
	d := f.inode.dir()
	if d == nil {
		return "", kernerr.ENOTDIR
	}
	var next *dentry
	visit := func(de *dentry) bool {
		if f.started && de.name == f.iter {
			return true
		}
		next = de
		return false
	}
	if f.started {
		d.children.AscendGreaterOrEqual(&dentry{name: f.iter}, visit)
	} else {
		d.children.Ascend(visit)
	}
	if next == nil {
		return "", io.EOF
	}
	f.iter = next.name
	f.started = true
	return next.name, nil
}
