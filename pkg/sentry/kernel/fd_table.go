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

package kernel

import (
	"bytes"
	"fmt"

	"github.com/google/btree"
	"pintrap.dev/pintrap/pkg/abi/pintos"
	"pintrap.dev/pintrap/pkg/errors/kernerr"
	"pintrap.dev/pintrap/pkg/log"
	"pintrap.dev/pintrap/pkg/refs"
	"pintrap.dev/pintrap/pkg/sentry/fs"
	"pintrap.dev/pintrap/pkg/sync"
)

// FileDescription is a reference-counted open file. The file is closed when
// the last reference is dropped.
//
// A FileDescription also implements mm.Backing, so a reopened file can back
// a memory mapping.
type FileDescription struct {
	refs.AtomicRefCount
	fs.File

	// path is the path the file was opened with, for debugging.
	path string
}

// NewFileDescription returns a FileDescription holding one reference, which
// owns f.
func NewFileDescription(f fs.File, path string) *FileDescription {
	fd := &FileDescription{File: f, path: path}
	fd.EnableLeakCheck("kernel.FileDescription")
	return fd
}

// Path returns the path the file was opened with.
func (fd *FileDescription) Path() string {
	return fd.path
}

// DecRef drops a reference, closing the file with the last one.
func (fd *FileDescription) DecRef() {
	fd.DecRefWithDestructor(func() {
		if err := fd.File.Close(); err != nil {
			log.Warningf("Closing %q: %v", fd.path, err)
		}
	})
}

// descriptor is a table entry.
type descriptor struct {
	fd   int32
	file *FileDescription
}

func descriptorLess(a, b descriptor) bool {
	return a.fd < b.fd
}

const fdTableDegree = 8

// FDTable is a process's open-file table.
//
// Handles are allocated from a counter that starts at FirstFD and only ever
// increases, so a handle is never reused within the table's lifetime, even
// after it is closed. The console handles below FirstFD never appear in the
// table.
//
// FDTable is safe for concurrent use. Its mutex is independent of the
// filesystem lock and is never held across a filesystem call.
type FDTable struct {
	// mu protects below.
	mu sync.Mutex

	// descriptors holds the live entries ordered by handle.
	descriptors *btree.BTreeG[descriptor]

	// next is the handle the next NewFD returns.
	next int32

	// limit bounds the number of live entries. Zero means no limit.
	limit int
}

// NewFDTable returns an empty table holding at most limit entries.
func NewFDTable(limit int) *FDTable {
	return &FDTable{
		descriptors: btree.NewG[descriptor](fdTableDegree, descriptorLess),
		next:        pintos.FirstFD,
		limit:       limit,
	}
}

// NewFD installs file under a fresh handle and returns the handle. The table
// takes over the caller's reference on file.
//
// On failure the caller keeps its reference: EMFILE if the table is full,
// ENOSPC if the handle space is exhausted.
func (f *FDTable) NewFD(file *FileDescription) (int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.limit > 0 && f.descriptors.Len() >= f.limit {
		return -1, kernerr.EMFILE
	}
	if f.next < pintos.FirstFD {
		// Wrapped around.
		return -1, kernerr.ENOSPC
	}
	fd := f.next
	f.next++
	f.descriptors.ReplaceOrInsert(descriptor{fd: fd, file: file})
	openFilesCounter.Increment()
	return fd, nil
}

// Get returns a reference to the file for fd, or nil if fd is not open.
//
// N.B. Callers are required to use DecRef when they are done.
func (f *FDTable) Get(fd int32) *FileDescription {
	if fd < pintos.FirstFD {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.descriptors.Get(descriptor{fd: fd})
	if !ok {
		return nil
	}
	// The table's reference keeps the file alive, but a file released
	// through another path must not be revived.
	if !d.file.TryIncRef() {
		return nil
	}
	return d.file
}

// Remove removes fd from the table and returns the table's reference to its
// file, or nil if fd is not open.
//
// N.B. Callers are required to use DecRef when they are done.
func (f *FDTable) Remove(fd int32) *FileDescription {
	if fd < pintos.FirstFD {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.descriptors.Delete(descriptor{fd: fd})
	if !ok {
		return nil
	}
	return d.file
}

// RemoveAll empties the table, dropping its reference on every file. The
// handle counter is left alone.
func (f *FDTable) RemoveAll() {
	f.mu.Lock()
	var files []*FileDescription
	f.descriptors.Ascend(func(d descriptor) bool {
		files = append(files, d.file)
		return true
	})
	f.descriptors.Clear(false)
	f.mu.Unlock()

	// Files are closed without f.mu held; closing takes the filesystem lock.
	for _, file := range files {
		file.DecRef()
	}
}

// Size returns the number of open entries.
func (f *FDTable) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.descriptors.Len()
}

// NextFD returns the handle the next successful NewFD will return.
func (f *FDTable) NextFD() int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.next
}

// GetFDs returns the open handles in ascending order.
func (f *FDTable) GetFDs() []int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	fds := make([]int32, 0, f.descriptors.Len())
	f.descriptors.Ascend(func(d descriptor) bool {
		fds = append(fds, d.fd)
		return true
	})
	return fds
}

// String is a stringer for FDTable.
func (f *FDTable) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var b bytes.Buffer
	f.descriptors.Ascend(func(d descriptor) bool {
		b.WriteString(fmt.Sprintf("\tfd:%d => name %s\n", d.fd, d.file.path))
		return true
	})
	return b.String()
}
