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

// Package fs defines the filesystem collaborator the kernel consumes and the
// kernel-wide lock that serializes access to it.
//
// Implementations live under pkg/sentry/fsimpl. They need not be safe for
// concurrent use: the kernel only reaches them through Serialize, which holds
// a single Lock for the duration of every call.
package fs

import (
	"strings"

	"pintrap.dev/pintrap/pkg/abi/pintos"
	"pintrap.dev/pintrap/pkg/errors/kernerr"
)

// FileSystem is a tree of files and directories.
//
// Paths are resolved relative to cwd, which is a directory previously opened
// from the same FileSystem, or the root if cwd is nil. Absolute paths start
// at the root regardless of cwd.
type FileSystem interface {
	// Open opens the file or directory at path.
	Open(cwd File, path string) (File, error)

	// Create creates a regular file of size bytes, all zero, at path. It
	// fails with EEXIST if path already exists.
	Create(cwd File, path string, size int64) error

	// Remove removes the file or empty directory at path. Files that are
	// open remain usable through their open handles.
	Remove(cwd File, path string) error

	// Mkdir creates an empty directory at path.
	Mkdir(cwd File, path string) error
}

// File is an open file or directory. Each File has its own position.
type File interface {
	// Read reads from the current position and advances it.
	Read(dst []byte) (int, error)

	// Write writes at the current position and advances it, growing the
	// file if needed. While writes are denied it writes nothing and
	// returns 0, nil.
	Write(src []byte) (int, error)

	// ReadAt reads at off without moving the position.
	ReadAt(dst []byte, off int64) (int, error)

	// WriteAt writes at off without moving the position.
	WriteAt(src []byte, off int64) (int, error)

	// Seek sets the position. Positions past the end of the file are
	// allowed; reads there return nothing and writes extend the file.
	Seek(pos int64)

	// Tell returns the position.
	Tell() int64

	// Length returns the size of the file in bytes.
	Length() int64

	// IsDir returns true if the file is a directory.
	IsDir() bool

	// Inumber returns the inode number, unique within the FileSystem.
	Inumber() uint64

	// Readdir returns the next entry of a directory, never "." or "..".
	// It returns io.EOF once every entry has been returned.
	Readdir() (string, error)

	// Reopen returns a new File on the same inode with its own position.
	Reopen() (File, error)

	// DenyWrite prevents writes to the inode until a matching AllowWrite.
	DenyWrite()

	// AllowWrite undoes one DenyWrite.
	AllowWrite()

	// Close releases the file.
	Close() error
}

// SplitPath splits path into its components. Empty components are dropped,
// so "a//b/" is ["a", "b"]. abs is true if path starts with '/'.
func SplitPath(path string) (components []string, abs bool, err error) {
	if path == "" {
		return nil, false, kernerr.ENOENT
	}
	abs = path[0] == '/'
	for _, c := range strings.Split(path, "/") {
		if c == "" {
			continue
		}
		if len(c) > pintos.NameMax {
			return nil, false, kernerr.ENAMETOOLONG
		}
		components = append(components, c)
	}
	return components, abs, nil
}
