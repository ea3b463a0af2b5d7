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

package strace

import (
	"fmt"

	"pintrap.dev/pintrap/pkg/abi/pintos"
	"pintrap.dev/pintrap/pkg/sentry/kernel"
)

// FormatSpecifier values describe how an individual syscall argument should be
// formatted.
type FormatSpecifier int

// Valid FormatSpecifiers.
//
// Unless otherwise specified, values are formatted before syscall execution
// and not updated after syscall execution (the same value is output).
const (
	// Hex is just a hexadecimal number.
	Hex FormatSpecifier = iota

	// Int is a signed decimal number.
	Int

	// Uint is an unsigned decimal number.
	Uint

	// FD is a file handle.
	FD

	// ReadBuffer is a buffer for a read-style call. The syscall return
	// value is used for the length.
	//
	// Formatted after syscall execution.
	ReadBuffer

	// WriteBuffer is a buffer for a write-style call. The following arg is
	// used for the length.
	//
	// Contents omitted after syscall execution.
	WriteBuffer

	// Path is a pointer to a char* path.
	Path

	// PostName is a pointer to a directory entry name, formatted after
	// syscall execution.
	PostName
)

// defaultFormat is the syscall argument format to use if the actual format is
// not known. It formats all arguments as hex.
var defaultFormat = []FormatSpecifier{Hex, Hex, Hex}

// SyscallInfo captures the name and printing format of a syscall.
type SyscallInfo struct {
	// name is the name of the syscall.
	name string

	// format contains the format specifiers for each argument.
	//
	// Arguments without a corresponding entry in format will not be
	// printed.
	format []FormatSpecifier
}

// makeSyscallInfo returns a SyscallInfo for a syscall.
func makeSyscallInfo(name string, f ...FormatSpecifier) SyscallInfo {
	return SyscallInfo{name: name, format: f}
}

// SyscallMap maps syscalls into names and printing formats.
type SyscallMap map[uintptr]SyscallInfo

// pintosSyscalls is the map for the Pintos ABI.
var pintosSyscalls = SyscallMap{
	uintptr(pintos.SYS_HALT):     makeSyscallInfo("halt"),
	uintptr(pintos.SYS_EXIT):     makeSyscallInfo("exit", Int),
	uintptr(pintos.SYS_EXEC):     makeSyscallInfo("exec", Path),
	uintptr(pintos.SYS_WAIT):     makeSyscallInfo("wait", Int),
	uintptr(pintos.SYS_CREATE):   makeSyscallInfo("create", Path, Uint),
	uintptr(pintos.SYS_REMOVE):   makeSyscallInfo("remove", Path),
	uintptr(pintos.SYS_OPEN):     makeSyscallInfo("open", Path),
	uintptr(pintos.SYS_FILESIZE): makeSyscallInfo("filesize", FD),
	uintptr(pintos.SYS_READ):     makeSyscallInfo("read", FD, ReadBuffer, Uint),
	uintptr(pintos.SYS_WRITE):    makeSyscallInfo("write", FD, WriteBuffer, Uint),
	uintptr(pintos.SYS_SEEK):     makeSyscallInfo("seek", FD, Uint),
	uintptr(pintos.SYS_TELL):     makeSyscallInfo("tell", FD),
	uintptr(pintos.SYS_CLOSE):    makeSyscallInfo("close", FD),
	uintptr(pintos.SYS_MMAP):     makeSyscallInfo("mmap", FD, Hex),
	uintptr(pintos.SYS_MUNMAP):   makeSyscallInfo("munmap", Int),
	uintptr(pintos.SYS_CHDIR):    makeSyscallInfo("chdir", Path),
	uintptr(pintos.SYS_MKDIR):    makeSyscallInfo("mkdir", Path),
	uintptr(pintos.SYS_READDIR):  makeSyscallInfo("readdir", FD, PostName),
	uintptr(pintos.SYS_ISDIR):    makeSyscallInfo("isdir", FD),
	uintptr(pintos.SYS_INUMBER):  makeSyscallInfo("inumber", FD),
}

// Lookup returns the SyscallInfo for sysno.
func Lookup(sysno uintptr) SyscallInfo {
	if info, ok := pintosSyscalls[sysno]; ok {
		return info
	}
	return SyscallInfo{name: fmt.Sprintf("sys_%d", sysno), format: defaultFormat}
}

// Names returns the names of the syscalls in number order.
func Names() []string {
	names := make([]string, 0, pintos.NumSyscalls)
	for i := 0; i < pintos.NumSyscalls; i++ {
		names = append(names, pintosSyscalls[uintptr(i)].name)
	}
	return names
}

var _ kernel.Stracer = (*Tracer)(nil)
