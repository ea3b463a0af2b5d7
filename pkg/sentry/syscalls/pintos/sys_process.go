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

import (
	"pintrap.dev/pintrap/pkg/abi/pintos"
	"pintrap.dev/pintrap/pkg/sentry/arch"
	"pintrap.dev/pintrap/pkg/sentry/kernel"
)

// Halt implements Pintos syscall halt. The caller powers the machine off
// cleanly, so its exit status is 0.
func Halt(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	t.Process().Exit(0)
	t.Kernel().Halt()
	return 0, kernel.CtrlDoExit, nil
}

// Exit implements Pintos syscall exit.
func Exit(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	status := args[0].Int()

	t.Process().Exit(status)
	return 0, kernel.CtrlDoExit, nil
}

// Exec implements Pintos syscall exec. It returns once the child has been
// loaded.
func Exec(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()

	cmdline, err := t.CopyInString(addr, pintos.MaxPathLen)
	if err != nil {
		return 0, nil, err
	}
	child, err := t.Exec(cmdline)
	if err != nil {
		return 0, nil, err
	}
	return uintptr(child.PID()), nil, nil
}

// Wait implements Pintos syscall wait.
func Wait(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	pid := kernel.ProcessID(args[0].Int())

	status, err := t.Process().WaitChild(pid)
	if err != nil {
		return 0, nil, err
	}
	return uintptr(uint32(status)), nil, nil
}
