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
	"pintrap.dev/pintrap/pkg/hostarch"
	"pintrap.dev/pintrap/pkg/usermem"
)

// SyscallNo reads the syscall number from the top of the user stack.
//
// The stack pointer is user controlled; any failure to read the word is
// reported as EFAULT.
func SyscallNo(ctx context.Context, io usermem.IO, f *TrapFrame) (uintptr, error) {
	v, err := usermem.CopyUint32In(ctx, io, f.ESP, usermem.IOOpts{})
	if err != nil {
		return 0, err
	}
	return uintptr(v), nil
}

// SyscallArgs reads the first n argument words, which follow the syscall
// number on the user stack. Unused arguments are left zero.
func SyscallArgs(ctx context.Context, io usermem.IO, f *TrapFrame, n int) (SyscallArguments, error) {
	var args SyscallArguments
	n = min(n, len(args))
	if ar, ok := SyscallFrameRange(f, n); !ok || !ar.IsUser() {
		return args, errFault
	}
	for i := 0; i < n; i++ {
		addr, ok := f.ESP.AddLength(uint64(pintos.WordSize * (i + 1)))
		if !ok {
			return args, errFault
		}
		v, err := usermem.CopyUint32In(ctx, io, addr, usermem.IOOpts{})
		if err != nil {
			return args, err
		}
		args[i].Value = uintptr(v)
	}
	return args, nil
}

// SyscallFrameRange returns the stack range holding the syscall number and n
// arguments.
func SyscallFrameRange(f *TrapFrame, n int) (hostarch.AddrRange, bool) {
	return f.ESP.ToRange(uint64(pintos.WordSize * (n + 1)))
}
