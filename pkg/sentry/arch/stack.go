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

package arch

import (
	"context"

	"pintrap.dev/pintrap/pkg/abi/pintos"
	"pintrap.dev/pintrap/pkg/errors/kernerr"
	"pintrap.dev/pintrap/pkg/hostarch"
	"pintrap.dev/pintrap/pkg/usermem"
)

var errFault = kernerr.EFAULT

// Stack is a simple wrapper around a usermem.IO and an address. It grows
// down.
type Stack struct {
	// IO is the user memory the stack lives in.
	IO usermem.IO

	// Bottom is the current stack pointer.
	Bottom hostarch.Addr
}

// Push pushes a word onto the stack.
func (s *Stack) Push(ctx context.Context, v uint32) error {
	sp, err := s.reserve(pintos.WordSize)
	if err != nil {
		return err
	}
	if err := usermem.CopyUint32Out(ctx, s.IO, sp, v, usermem.IOOpts{}); err != nil {
		return err
	}
	s.Bottom = sp
	return nil
}

// PushBytes pushes b onto the stack and returns its address.
func (s *Stack) PushBytes(ctx context.Context, b []byte) (hostarch.Addr, error) {
	sp, err := s.reserve(len(b))
	if err != nil {
		return 0, err
	}
	if _, err := s.IO.CopyOut(ctx, sp, b, usermem.IOOpts{}); err != nil {
		return 0, err
	}
	s.Bottom = sp
	return sp, nil
}

// PushString pushes s and a terminating NUL onto the stack and returns its
// address.
func (s *Stack) PushString(ctx context.Context, str string) (hostarch.Addr, error) {
	b := make([]byte, len(str)+1)
	copy(b, str)
	return s.PushBytes(ctx, b)
}

// Align rounds the stack pointer down to a word boundary.
func (s *Stack) Align() {
	s.Bottom &^= pintos.WordSize - 1
}

// Pop pops a word off the stack.
func (s *Stack) Pop(ctx context.Context) (uint32, error) {
	v, err := usermem.CopyUint32In(ctx, s.IO, s.Bottom, usermem.IOOpts{})
	if err != nil {
		return 0, err
	}
	s.Bottom += pintos.WordSize
	return v, nil
}

func (s *Stack) reserve(n int) (hostarch.Addr, error) {
	sp := s.Bottom - hostarch.Addr(n)
	if sp > s.Bottom {
		return 0, errFault
	}
	return sp, nil
}

// ArgvLayout describes the initial stack of a process, as built by
// PushArgv.
type ArgvLayout struct {
	Argc int
	Argv hostarch.Addr
}

// PushArgv lays argv out on the stack in the conventional i386 form. From the
// top of the stack down:
//
//	argument strings, in reverse order
//	padding to a word boundary
//	argv[argc] (NULL)
//	argv[argc-1] .. argv[0]
//	argv
//	argc
//	fake return address
//
// On return s.Bottom points at the fake return address.
func (s *Stack) PushArgv(ctx context.Context, argv []string) (ArgvLayout, error) {
	ptrs := make([]hostarch.Addr, len(argv))
	for i := len(argv) - 1; i >= 0; i-- {
		addr, err := s.PushString(ctx, argv[i])
		if err != nil {
			return ArgvLayout{}, err
		}
		ptrs[i] = addr
	}
	s.Align()
	if err := s.Push(ctx, 0); err != nil {
		return ArgvLayout{}, err
	}
	for i := len(ptrs) - 1; i >= 0; i-- {
		if err := s.Push(ctx, uint32(ptrs[i])); err != nil {
			return ArgvLayout{}, err
		}
	}
	layout := ArgvLayout{Argc: len(argv), Argv: s.Bottom}
	for _, v := range []uint32{uint32(layout.Argv), uint32(layout.Argc), 0} {
		if err := s.Push(ctx, v); err != nil {
			return ArgvLayout{}, err
		}
	}
	return layout, nil
}

// ReadArgv reads back the argument vector laid out by PushArgv, given the
// stack pointer it returned.
func ReadArgv(ctx context.Context, io usermem.IO, sp hostarch.Addr) ([]string, error) {
	s := Stack{IO: io, Bottom: sp}
	if _, err := s.Pop(ctx); err != nil { // Fake return address.
		return nil, err
	}
	argc, err := s.Pop(ctx)
	if err != nil {
		return nil, err
	}
	argvAddr, err := s.Pop(ctx)
	if err != nil {
		return nil, err
	}
	argv := make([]string, 0, argc)
	for i := uint32(0); i < argc; i++ {
		p, err := usermem.CopyUint32In(ctx, io, hostarch.Addr(argvAddr)+hostarch.Addr(i*pintos.WordSize), usermem.IOOpts{})
		if err != nil {
			return nil, err
		}
		str, err := usermem.CopyStringIn(ctx, io, hostarch.Addr(p), pintos.MaxPathLen, usermem.IOOpts{})
		if err != nil {
			return nil, err
		}
		argv = append(argv, str)
	}
	return argv, nil
}
