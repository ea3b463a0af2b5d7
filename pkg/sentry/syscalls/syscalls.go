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

// Package syscalls is the interface from the application to the kernel.
// Traps are handled by the kernel, which dispatches them to the functions in
// this package's subpackages.
package syscalls

import (
	"fmt"

	"pintrap.dev/pintrap/pkg/abi/pintos"
	"pintrap.dev/pintrap/pkg/sentry/arch"
	"pintrap.dev/pintrap/pkg/sentry/kernel"
)

// Supported returns a syscall that is fully supported. The argument count is
// taken from the ABI.
func Supported(name string, fn kernel.SyscallFn, result kernel.Result) kernel.Syscall {
	sysno, ok := pintos.SysnoByName(name)
	if !ok {
		panic(fmt.Sprintf("unknown syscall %q", name))
	}
	return kernel.Syscall{
		Name:   name,
		Fn:     fn,
		Args:   sysno.Args(),
		Result: result,
	}
}

// Error returns a syscall handler that will always give the passed error.
func Error(name string, err error, result kernel.Result) kernel.Syscall {
	return Supported(name, func(*kernel.Task, arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
		return 0, nil, err
	}, result)
}
