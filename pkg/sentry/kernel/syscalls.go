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
	"fmt"

	"pintrap.dev/pintrap/pkg/abi/pintos"
	"pintrap.dev/pintrap/pkg/sentry/arch"
)

// SyscallFn is a syscall implementation.
//
// A non-nil error means the syscall failed. Fatal errors (see
// kernerr.IsFatal) terminate the calling process; any other error is
// reported to the caller as the syscall's sentinel result.
type SyscallFn func(t *Task, args arch.SyscallArguments) (uintptr, *SyscallControl, error)

// SyscallControl is returned by syscalls to control the behavior of
// the dispatcher after the syscall returns.
type SyscallControl struct {
	// next is the state the calling thread moves to.
	next taskState
}

type taskState int

const (
	taskRunning taskState = iota

	// taskExited means the thread terminates instead of returning to user
	// mode.
	taskExited
)

// CtrlDoExit is returned by the implementations of the exit and halt
// syscalls: the calling thread never returns to user mode.
var CtrlDoExit = &SyscallControl{next: taskExited}

// Result describes the type of a syscall's result, which determines the
// sentinel value reported on failure.
type Result int

const (
	// ResultInt is a signed integer result. The sentinel is -1.
	ResultInt Result = iota

	// ResultBool is a boolean result. The sentinel is 0 (false).
	ResultBool

	// ResultVoid syscalls leave the frame's return register untouched.
	ResultVoid

	// ResultNoReturn syscalls never return to the caller.
	ResultNoReturn
)

// String implements fmt.Stringer.String.
func (r Result) String() string {
	switch r {
	case ResultInt:
		return "int"
	case ResultBool:
		return "bool"
	case ResultVoid:
		return "void"
	case ResultNoReturn:
		return "noreturn"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// Sentinel returns the failure value for the result type. ok is false for
// results that write nothing to the frame.
func (r Result) Sentinel() (v uintptr, ok bool) {
	switch r {
	case ResultInt:
		return uintptr(^uint32(0)), true
	case ResultBool:
		return 0, true
	default:
		return 0, false
	}
}

// Syscall includes the syscall implementation and metadata.
type Syscall struct {
	// Name is the syscall name.
	Name string

	// Fn is the implementation of the syscall.
	Fn SyscallFn

	// Args is the number of argument words the syscall reads from the user
	// stack.
	Args int

	// Result is the type of the syscall's result.
	Result Result
}

// SyscallTable is a lookup table of system calls.
type SyscallTable struct {
	// Table is the collection of syscall implementations, indexed by
	// number.
	Table map[uintptr]Syscall

	// lookup is a fixed-size array that holds the syscalls (indexed by
	// their numbers). It is used for fast look ups.
	lookup [pintos.NumSyscalls]*Syscall
}

// Init initializes the lookup table and validates the table against the
// ABI. It panics on an inconsistent table.
func (s *SyscallTable) Init() {
	for num, sc := range s.Table {
		sysno := pintos.Sysno(num)
		if !sysno.Valid() {
			panic(fmt.Sprintf("syscall %d (%s) out of range", num, sc.Name))
		}
		if sc.Name != sysno.String() {
			panic(fmt.Sprintf("syscall %d named %q, want %q", num, sc.Name, sysno))
		}
		if sc.Args != sysno.Args() {
			panic(fmt.Sprintf("syscall %s takes %d args, want %d", sc.Name, sc.Args, sysno.Args()))
		}
		sc := sc
		s.lookup[num] = &sc
	}
}

// Lookup returns the syscall for sysno, or false if it is not
// implemented.
func (s *SyscallTable) Lookup(sysno uintptr) (*Syscall, bool) {
	if sysno >= uintptr(len(s.lookup)) {
		return nil, false
	}
	sc := s.lookup[sysno]
	return sc, sc != nil
}

// Stracer traces syscall execution.
type Stracer interface {
	// SyscallTraced returns true if sysno is being traced.
	SyscallTraced(sysno uintptr) bool

	// SyscallEnter is called before the syscall runs. Its return value is
	// passed to SyscallExit.
	SyscallEnter(t *Task, sysno uintptr, args arch.SyscallArguments) any

	// SyscallExit is called after the syscall returns, unless it does not
	// return to user mode.
	SyscallExit(info any, t *Task, sysno, rval uintptr, err error)
}
