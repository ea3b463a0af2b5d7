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

// SyscallVector is the software interrupt shared by all syscalls. The
// syscall number on top of the user stack selects the operation.
const SyscallVector = 0x30

// TimerVector is the external timer interrupt. It is reserved for the kernel.
const TimerVector = 0x20

// MaxSyscallArgs is the number of argument words the widest syscall takes.
const MaxSyscallArgs = 3

// Descriptor privilege levels.
const (
	// DPLKernel vectors may only be raised by kernel code.
	DPLKernel = 0

	// DPLUser vectors may be raised from user mode.
	DPLUser = 3
)

// IntrLevel is the interrupt state a handler runs with.
type IntrLevel int

const (
	// IntrOff handlers run with interrupts masked.
	IntrOff IntrLevel = iota

	// IntrOn handlers run with interrupts enabled and may block.
	IntrOn
)

// String implements fmt.Stringer.String.
func (l IntrLevel) String() string {
	if l == IntrOn {
		return "on"
	}
	return "off"
}

// WordSize is the size of a machine word in the user ABI.
const WordSize = 4

// Standard handles. They are served by the console and never live in a
// process's open-file table.
const (
	STDIN_FILENO  = 0
	STDOUT_FILENO = 1

	// FirstFD is the first handle handed out by open.
	FirstFD = 2
)

// MaxPathLen bounds every string argument, including the terminating NUL.
const MaxPathLen = 4096

// NameMax is the longest single path component the filesystems accept.
const NameMax = 14

// ReaddirMaxLen is the maximum length of a name returned by readdir, not
// counting the terminating NUL.
const ReaddirMaxLen = 14

// ExitKilled is the exit status of a process terminated by the kernel.
const ExitKilled = -1

// MapFailed is the mmap return value for failure.
const MapFailed = -1

// ExecMagic prefixes every executable file. It is followed by the name of
// the registered program the file runs and a newline.
const ExecMagic = "\x7fPEX "
