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

	"pintrap.dev/pintrap/pkg/errors/kernerr"
)

type regularFile struct {
	data []byte
}

func (fsys *Filesystem) newRegularFile(size int64) (*inode, error) {
	if err := fsys.reserve(size); err != nil {
		return nil, err
	}
	return fsys.newInode(&regularFile{data: make([]byte, size)}), nil
}

// reserve accounts for n more bytes of file data.
func (fsys *Filesystem) reserve(n int64) error {
	if fsys.capacity > 0 && fsys.used+n > fsys.capacity {
		return kernerr.ENOSPC
	}
	fsys.used += n
	return nil
}

func (f *file) regular() (*regularFile, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	rf, ok := f.inode.impl.(*regularFile)
	if !ok {
		return nil, kernerr.EISDIR
	}
	return rf, nil
}

// Length implements fs.File.Length.
func (f *file) Length() int64 {
	if rf, ok := f.inode.impl.(*regularFile); ok {
		return int64(len(rf.data))
	}
	return 0
}

// ReadAt implements fs.File.ReadAt.
func (f *file) ReadAt(dst []byte, off int64) (int, error) {
	rf, err := f.regular()
	if err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, kernerr.EINVAL
	}
	if off >= int64(len(rf.data)) {
		if len(dst) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := copy(dst, rf.data[off:])
	if n < len(dst) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements fs.File.WriteAt. Writes past the end of the file extend
// it, zero-filling any gap.
func (f *file) WriteAt(src []byte, off int64) (int, error) {
	rf, err := f.regular()
	if err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, kernerr.EINVAL
	}
	if f.inode.denyWrites > 0 {
		return 0, nil
	}
	if end := off + int64(len(src)); end > int64(len(rf.data)) {
		grow := end - int64(len(rf.data))
		if err := f.inode.fs.reserve(grow); err != nil {
			return 0, err
		}
		rf.data = append(rf.data, make([]byte, grow)...)
	}
	return copy(rf.data[off:], src), nil
}

// Read implements fs.File.Read. It returns 0, nil at the end of the file.
func (f *file) Read(dst []byte) (int, error) {
	n, err := f.ReadAt(dst, f.pos)
	f.pos += int64(n)
	if err == io.EOF {
		err = nil
	}
	return n, err
}

// Write implements fs.File.Write.
func (f *file) Write(src []byte) (int, error) {
	n, err := f.WriteAt(src, f.pos)
	f.pos += int64(n)
	return n, err
}
