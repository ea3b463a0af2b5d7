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

// Package arch describes the simulated IA-32 machine state visible to the
// kernel at a trap: the interrupt frame and the syscall arguments carried on
// the user stack.
package arch

import (
	"fmt"

	"pintrap.dev/pintrap/pkg/abi/pintos"
	"pintrap.dev/pintrap/pkg/hostarch"
)

// Segment selectors. The low two bits of a code selector are the privilege
// level it runs at.
const (
	KernelCS uint16 = 0x08
	UserCS   uint16 = 0x1b
)

// TrapFrame is the register state pushed on entry to an interrupt handler.
type TrapFrame struct {
	// EAX carries the syscall result back to user mode.
	EAX uint32

	// ESP is the user stack pointer at the time of the trap.
	ESP hostarch.Addr

	// CS is the code segment the trap was raised from.
	CS uint16

	// VecNo is the interrupt vector number.
	VecNo uint8
}

// CPL returns the privilege level the frame was raised at.
func (f *TrapFrame) CPL() uint8 {
	return uint8(f.CS & 3)
}

// SetReturn sets the value returned to user mode.
func (f *TrapFrame) SetReturn(v uintptr) {
	f.EAX = uint32(v)
}

// Return returns the value that will be returned to user mode.
func (f *TrapFrame) Return() uintptr {
	return uintptr(f.EAX)
}

// String implements fmt.Stringer.String.
func (f *TrapFrame) String() string {
	return fmt.Sprintf("vec=%#02x cs=%#04x esp=%v eax=%#08x", f.VecNo, f.CS, f.ESP, f.EAX)
}

// NewUserFrame returns a frame for a thread entering user mode with the given
// stack pointer.
func NewUserFrame(sp hostarch.Addr) TrapFrame {
	return TrapFrame{ESP: sp, CS: UserCS}
}

// SyscallArgument is an argument supplied to a syscall implementation. The
// methods used to access the arguments are named after the ***C type name*** and
// they convert to the closest Go type available. For example, Int() refers to a
// 32-bit signed integer argument represented in Go as an int32.
//
// Using the accessor methods guarantees that the conversion between types is
// correct, taking into account size and signedness (i.e., zero-extension vs
// signed-extension).
type SyscallArgument struct {
	// Prefer to use accessor methods instead of 'Value' directly.
	Value uintptr
}

// SyscallArguments represents the set of arguments passed to a syscall.
type SyscallArguments [pintos.MaxSyscallArgs]SyscallArgument

// Pointer returns the hostarch.Addr representation of a pointer argument.
func (a SyscallArgument) Pointer() hostarch.Addr {
	return hostarch.Addr(a.Value)
}

// Int returns the int32 representation of a 32-bit signed integer argument.
func (a SyscallArgument) Int() int32 {
	return int32(a.Value)
}

// Uint returns the uint32 representation of a 32-bit unsigned integer argument.
func (a SyscallArgument) Uint() uint32 {
	return uint32(a.Value)
}

// SizeT returns the uint representation of a size_t argument.
func (a SyscallArgument) SizeT() uint {
	return uint(uint32(a.Value))
}
