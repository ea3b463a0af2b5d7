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

// Package user is the user side of the trap: the library user programs call
// to request kernel services.
//
// Every stub pushes its arguments and then the syscall number onto the
// calling thread's user stack, raises the syscall vector, pops what it
// pushed and returns the result register.
package user

import (
	"fmt"

	"pintrap.dev/pintrap/pkg/abi/pintos"
	"pintrap.dev/pintrap/pkg/hostarch"
	"pintrap.dev/pintrap/pkg/sentry/arch"
	"pintrap.dev/pintrap/pkg/sentry/kernel"
	"pintrap.dev/pintrap/pkg/sync"
	"pintrap.dev/pintrap/pkg/usermem"
)

// Env is a user thread's view of the machine.
type Env struct {
	t    *kernel.Task
	heap *heap

	// argvSP is the stack pointer the process started with, where its
	// arguments are laid out.
	argvSP hostarch.Addr

	// scratch is a per-thread buffer in the data segment, allocated on
	// first use.
	scratch hostarch.Addr
}

// scratchSize is the size of Env.scratch.
const scratchSize = 1024

// heap is a bump allocator over the data segment, shared by the threads of
// a process.
type heap struct {
	mu   sync.Mutex
	next hostarch.Addr
	end  hostarch.Addr
}

// Main returns a program that runs fn as its main thread and exits with
// fn's result.
func Main(fn func(e *Env) int32) kernel.Program {
	return func(t *kernel.Task) {
		data := t.Process().DataSegment()
		e := &Env{
			t:      t,
			heap:   &heap{next: data.Start, end: data.End},
			argvSP: t.Frame().ESP,
		}
		e.Exit(fn(e))
	}
}

// Task returns the thread e runs on. User code must only use it to trap.
func (e *Env) Task() *kernel.Task {
	return e.t
}

// Args returns the command line arguments.
func (e *Env) Args() []string {
	argv, err := arch.ReadArgv(e.t, e.t.MemoryManager(), e.argvSP)
	if err != nil {
		e.t.PageFault(e.argvSP, err)
	}
	return argv
}

// Go starts fn on a new thread of the process. It returns the thread id, or
// -1 if the thread could not be created.
func (e *Env) Go(fn func(e *Env)) int32 {
	tid, err := e.t.Clone(func(t *kernel.Task) {
		fn(&Env{t: t, heap: e.heap, argvSP: e.argvSP})
	})
	if err != nil {
		return -1
	}
	return int32(tid)
}

// Alloc returns n bytes of zeroed memory in the data segment. It faults if
// the segment is exhausted. Memory is never freed.
func (e *Env) Alloc(n int) hostarch.Addr {
	e.heap.mu.Lock()
	addr := e.heap.next
	size := hostarch.Addr((n + pintos.WordSize - 1) &^ (pintos.WordSize - 1))
	ok := n >= 0 && e.heap.end-addr >= size
	if ok {
		e.heap.next += size
	}
	e.heap.mu.Unlock()
	if !ok {
		e.t.PageFault(addr, fmt.Errorf("data segment exhausted allocating %d bytes", n))
	}
	return addr
}

func (e *Env) scratchBuf() hostarch.Addr {
	if e.scratch == 0 {
		e.scratch = e.Alloc(scratchSize)
	}
	return e.scratch
}

// CString allocates s and a terminating NUL in the data segment.
func (e *Env) CString(s string) hostarch.Addr {
	addr := e.Alloc(len(s) + 1)
	e.Poke(addr, append([]byte(s), 0))
	return addr
}

// Poke writes b to user memory at addr.
func (e *Env) Poke(addr hostarch.Addr, b []byte) {
	if _, err := e.t.MemoryManager().CopyOut(e.t, addr, b, usermem.IOOpts{}); err != nil {
		e.t.PageFault(addr, err)
	}
}

// Peek reads n bytes of user memory at addr.
func (e *Env) Peek(addr hostarch.Addr, n int) []byte {
	b, err := usermem.CopyInBytes(e.t, e.t.MemoryManager(), addr, n, usermem.IOOpts{})
	if err != nil {
		e.t.PageFault(addr, err)
	}
	return b
}

// PeekString reads a NUL-terminated string at addr.
func (e *Env) PeekString(addr hostarch.Addr) string {
	s, err := usermem.CopyStringIn(e.t, e.t.MemoryManager(), addr, pintos.MaxPathLen, usermem.IOOpts{})
	if err != nil {
		e.t.PageFault(addr, err)
	}
	return s
}

// stack returns the thread's stack, positioned at the stack pointer.
func (e *Env) stack() *arch.Stack {
	return &arch.Stack{IO: e.t.MemoryManager(), Bottom: e.t.Frame().ESP}
}

// Syscall raises the syscall vector with sysno and args on the stack and
// returns the result register. It is the single path into the kernel.
func (e *Env) Syscall(sysno pintos.Sysno, args ...uint32) int32 {
	f := e.t.Frame()
	sp := f.ESP
	s := e.stack()
	for i := len(args) - 1; i >= 0; i-- {
		if err := s.Push(e.t, args[i]); err != nil {
			e.t.PageFault(s.Bottom, err)
		}
	}
	if err := s.Push(e.t, uint32(sysno)); err != nil {
		e.t.PageFault(s.Bottom, err)
	}
	f.ESP = s.Bottom
	e.t.Trap(pintos.SyscallVector)
	f.ESP = sp
	return int32(f.EAX)
}

// withString places str on the stack for the duration of fn, the way a
// caller's local buffer would be.
func (e *Env) withString(str string, fn func(addr hostarch.Addr) int32) int32 {
	f := e.t.Frame()
	sp := f.ESP
	s := e.stack()
	addr, err := s.PushString(e.t, str)
	if err != nil {
		e.t.PageFault(s.Bottom, err)
	}
	s.Align()
	f.ESP = s.Bottom
	defer func() { f.ESP = sp }()
	return fn(addr)
}

// withBytes is like withString for a buffer.
func (e *Env) withBytes(b []byte, fn func(addr hostarch.Addr) int32) int32 {
	f := e.t.Frame()
	sp := f.ESP
	s := e.stack()
	addr, err := s.PushBytes(e.t, b)
	if err != nil {
		e.t.PageFault(s.Bottom, err)
	}
	s.Align()
	f.ESP = s.Bottom
	defer func() { f.ESP = sp }()
	return fn(addr)
}
