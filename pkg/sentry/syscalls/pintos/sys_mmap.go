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

package pintos

import (
	"fmt"

	"pintrap.dev/pintrap/pkg/errors/kernerr"
	"pintrap.dev/pintrap/pkg/sentry/arch"
	"pintrap.dev/pintrap/pkg/sentry/kernel"
)

// Mmap implements Pintos syscall mmap.
//
// The mapping holds its own reference on a reopened file, so closing fd
// leaves the mapping in place.
func Mmap(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	addr := args[1].Pointer()

	file := t.GetFile(fd)
	if file == nil {
		return 0, nil, kernerr.EBADF
	}
	defer file.DecRef()
	if file.IsDir() {
		return 0, nil, kernerr.EISDIR
	}
	length := file.Length()
	if length == 0 {
		return 0, nil, kernerr.EINVAL
	}
	f, err := file.Reopen()
	if err != nil {
		return 0, nil, err
	}
	backing := kernel.NewFileDescription(f, file.Path())
	id, err := t.MemoryManager().MMap(addr, backing, length)
	if err != nil {
		backing.DecRef()
		if kernerr.IsFatal(err) {
			// A bad address for a new mapping is an ordinary failure.
			err = fmt.Errorf("mmap at %v: %w", addr, kernerr.EINVAL)
		}
		return 0, nil, err
	}
	return uintptr(id), nil, nil
}

// Munmap implements Pintos syscall munmap.
func Munmap(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	id := args[0].Int()

	if err := t.MemoryManager().MUnmap(id); err != nil {
		t.Debugf("munmap(%d): %v", id, err)
		return 0, nil, err
	}
	return 0, nil, nil
}
