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

// Package pintos contains the constants and types of the pintrap user ABI:
// syscall numbers, the trap vector, the user memory layout and the error
// numbers used inside the kernel.
package pintos

import "fmt"

// Sysno is a syscall number. The numbering is part of the ABI and must never
// change; user programs built against it encode these values directly.
type Sysno uint32

// Syscall numbers.
const (
	SYS_HALT     Sysno = 0
	SYS_EXIT     Sysno = 1
	SYS_EXEC     Sysno = 2
	SYS_WAIT     Sysno = 3
	SYS_CREATE   Sysno = 4
	SYS_REMOVE   Sysno = 5
	SYS_OPEN     Sysno = 6
	SYS_FILESIZE Sysno = 7
	SYS_READ     Sysno = 8
	SYS_WRITE    Sysno = 9
	SYS_SEEK     Sysno = 10
	SYS_TELL     Sysno = 11
	SYS_CLOSE    Sysno = 12
	SYS_MMAP     Sysno = 13
	SYS_MUNMAP   Sysno = 14
	SYS_CHDIR    Sysno = 15
	SYS_MKDIR    Sysno = 16
	SYS_READDIR  Sysno = 17
	SYS_ISDIR    Sysno = 18
	SYS_INUMBER  Sysno = 19

	// NumSyscalls is the number of defined syscalls. Every valid Sysno is
	// strictly below it.
	NumSyscalls = 20
)

var sysnoNames = [NumSyscalls]string{
	SYS_HALT:     "halt",
	SYS_EXIT:     "exit",
	SYS_EXEC:     "exec",
	SYS_WAIT:     "wait",
	SYS_CREATE:   "create",
	SYS_REMOVE:   "remove",
	SYS_OPEN:     "open",
	SYS_FILESIZE: "filesize",
	SYS_READ:     "read",
	SYS_WRITE:    "write",
	SYS_SEEK:     "seek",
	SYS_TELL:     "tell",
	SYS_CLOSE:    "close",
	SYS_MMAP:     "mmap",
	SYS_MUNMAP:   "munmap",
	SYS_CHDIR:    "chdir",
	SYS_MKDIR:    "mkdir",
	SYS_READDIR:  "readdir",
	SYS_ISDIR:    "isdir",
	SYS_INUMBER:  "inumber",
}

// Valid returns true if s names a defined syscall.
func (s Sysno) Valid() bool {
	return s < NumSyscalls
}

// String implements fmt.Stringer.String.
func (s Sysno) String() string {
	if !s.Valid() {
		return fmt.Sprintf("sys_%d", uint32(s))
	}
	return sysnoNames[s]
}

// Args returns the number of argument words the syscall takes.
func (s Sysno) Args() int {
	switch s {
	case SYS_HALT:
		return 0
	case SYS_EXIT, SYS_EXEC, SYS_WAIT, SYS_REMOVE, SYS_OPEN, SYS_FILESIZE,
		SYS_TELL, SYS_CLOSE, SYS_MUNMAP, SYS_CHDIR, SYS_MKDIR, SYS_ISDIR,
		SYS_INUMBER:
		return 1
	case SYS_CREATE, SYS_SEEK, SYS_MMAP, SYS_READDIR:
		return 2
	case SYS_READ, SYS_WRITE:
		return 3
	default:
		return 0
	}
}

// SysnoByName returns the syscall with the given name.
func SysnoByName(name string) (Sysno, bool) {
	for i, n := range sysnoNames {
		if n == name {
			return Sysno(i), true
		}
	}
	return 0, false
}
