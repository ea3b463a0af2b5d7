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

// Package pintos provides syscall tables for the Pintos user ABI.
package pintos

import (
	"pintrap.dev/pintrap/pkg/abi/pintos"
	"pintrap.dev/pintrap/pkg/sentry/kernel"
	"pintrap.dev/pintrap/pkg/sentry/syscalls"
)

// ioChunk bounds the kernel buffer used by read and write.
const ioChunk = 64 << 10

// NewTable returns a table of the Pintos syscalls. Each call returns a new
// table, since a table is owned by the kernel that initializes it.
func NewTable() *kernel.SyscallTable {
	return &kernel.SyscallTable{
		Table: map[uintptr]kernel.Syscall{
			uintptr(pintos.SYS_HALT):     syscalls.Supported("halt", Halt, kernel.ResultNoReturn),
			uintptr(pintos.SYS_EXIT):     syscalls.Supported("exit", Exit, kernel.ResultNoReturn),
			uintptr(pintos.SYS_EXEC):     syscalls.Supported("exec", Exec, kernel.ResultInt),
			uintptr(pintos.SYS_WAIT):     syscalls.Supported("wait", Wait, kernel.ResultInt),
			uintptr(pintos.SYS_CREATE):   syscalls.Supported("create", Create, kernel.ResultBool),
			uintptr(pintos.SYS_REMOVE):   syscalls.Supported("remove", Remove, kernel.ResultBool),
			uintptr(pintos.SYS_OPEN):     syscalls.Supported("open", Open, kernel.ResultInt),
			uintptr(pintos.SYS_FILESIZE): syscalls.Supported("filesize", Filesize, kernel.ResultInt),
			uintptr(pintos.SYS_READ):     syscalls.Supported("read", Read, kernel.ResultInt),
			uintptr(pintos.SYS_WRITE):    syscalls.Supported("write", Write, kernel.ResultInt),
			uintptr(pintos.SYS_SEEK):     syscalls.Supported("seek", Seek, kernel.ResultVoid),
			uintptr(pintos.SYS_TELL):     syscalls.Supported("tell", Tell, kernel.ResultInt),
			uintptr(pintos.SYS_CLOSE):    syscalls.Supported("close", Close, kernel.ResultVoid),
			uintptr(pintos.SYS_MMAP):     syscalls.Supported("mmap", Mmap, kernel.ResultInt),
			uintptr(pintos.SYS_MUNMAP):   syscalls.Supported("munmap", Munmap, kernel.ResultVoid),
			uintptr(pintos.SYS_CHDIR):    syscalls.Supported("chdir", Chdir, kernel.ResultBool),
			uintptr(pintos.SYS_MKDIR):    syscalls.Supported("mkdir", Mkdir, kernel.ResultBool),
			uintptr(pintos.SYS_READDIR):  syscalls.Supported("readdir", Readdir, kernel.ResultBool),
			uintptr(pintos.SYS_ISDIR):    syscalls.Supported("isdir", Isdir, kernel.ResultBool),
			uintptr(pintos.SYS_INUMBER):  syscalls.Supported("inumber", Inumber, kernel.ResultInt),
		},
	}
}

// boolResult returns the syscall value for b.
func boolResult(b bool) uintptr {
	if b {
		return 1
	}
	return 0
}
