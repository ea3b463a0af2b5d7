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
	"pintrap.dev/pintrap/pkg/errors/kernerr"
	"pintrap.dev/pintrap/pkg/hostarch"
	"pintrap.dev/pintrap/pkg/usermem"
)

// CopyInString copies a NUL-terminated string of length at most maxlen in
// from the task's memory. The string is a kernel copy: later changes to user
// memory do not affect it.
func (t *Task) CopyInString(addr hostarch.Addr, maxlen int) (string, error) {
	return usermem.CopyStringIn(t, t.MemoryManager(), addr, maxlen, usermem.IOOpts{})
}

// CopyInBytes copies n bytes in from the task's memory.
func (t *Task) CopyInBytes(addr hostarch.Addr, n int) ([]byte, error) {
	return usermem.CopyInBytes(t, t.MemoryManager(), addr, n, usermem.IOOpts{})
}

// CopyOutBytes copies src out to the task's memory.
func (t *Task) CopyOutBytes(addr hostarch.Addr, src []byte) (int, error) {
	return t.MemoryManager().CopyOut(t, addr, src, usermem.IOOpts{})
}

// CheckWritable returns EFAULT unless the n bytes at addr are mapped
// writable.
func (t *Task) CheckWritable(addr hostarch.Addr, n int) error {
	return t.checkRange(addr, n, hostarch.Write)
}

// CheckReadable returns EFAULT unless the n bytes at addr are mapped
// readable.
func (t *Task) CheckReadable(addr hostarch.Addr, n int) error {
	return t.checkRange(addr, n, hostarch.Read)
}

func (t *Task) checkRange(addr hostarch.Addr, n int, at hostarch.AccessType) error {
	ar, ok := addr.ToRange(uint64(n))
	if !ok || n < 0 {
		return kernerr.EFAULT
	}
	return t.MemoryManager().CheckRange(ar, at)
}

// GetFile returns a reference to the open file fd, or nil if fd is not open
// in the task's process.
//
// N.B. Callers are required to use DecRef when they are done.
func (t *Task) GetFile(fd int32) *FileDescription {
	return t.p.fdTable.Get(fd)
}
