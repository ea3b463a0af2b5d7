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
	"io"

	"pintrap.dev/pintrap/pkg/abi/pintos"
	"pintrap.dev/pintrap/pkg/errors/kernerr"
	"pintrap.dev/pintrap/pkg/sentry/arch"
	"pintrap.dev/pintrap/pkg/sentry/kernel"
)

// Chdir implements Pintos syscall chdir.
func Chdir(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()

	path, err := copyInPath(t, addr)
	if err != nil {
		return 0, nil, err
	}
	cwd := t.Process().Cwd()
	f, err := t.Kernel().FileSystem().Open(cwd.File, path)
	cwd.DecRef()
	if err != nil {
		return 0, nil, err
	}
	dir := kernel.NewFileDescription(f, path)
	if !dir.IsDir() {
		dir.DecRef()
		return 0, nil, kernerr.ENOTDIR
	}
	t.Process().SetCwd(dir)
	return 1, nil, nil
}

// Mkdir implements Pintos syscall mkdir.
func Mkdir(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()

	path, err := copyInPath(t, addr)
	if err != nil {
		return 0, nil, err
	}
	cwd := t.Process().Cwd()
	defer cwd.DecRef()
	if err := t.Kernel().FileSystem().Mkdir(cwd.File, path); err != nil {
		return 0, nil, err
	}
	return 1, nil, nil
}

// Readdir implements Pintos syscall readdir. The name is written to a
// buffer of ReaddirMaxLen+1 bytes, NUL terminated.
func Readdir(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	addr := args[1].Pointer()

	if err := t.CheckWritable(addr, pintos.ReaddirMaxLen+1); err != nil {
		return 0, nil, err
	}
	file := t.GetFile(fd)
	if file == nil {
		return 0, nil, kernerr.EBADF
	}
	defer file.DecRef()
	if !file.IsDir() {
		return 0, nil, kernerr.ENOTDIR
	}
	for {
		name, err := file.Readdir()
		if err == io.EOF {
			return 0, nil, nil
		}
		if err != nil {
			return 0, nil, err
		}
		if name == "." || name == ".." || len(name) > pintos.ReaddirMaxLen {
			continue
		}
		buf := append([]byte(name), 0)
		if _, err := t.CopyOutBytes(addr, buf); err != nil {
			return 0, nil, err
		}
		return 1, nil, nil
	}
}

// Isdir implements Pintos syscall isdir.
func Isdir(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()

	file := t.GetFile(fd)
	if file == nil {
		return 0, nil, kernerr.EBADF
	}
	defer file.DecRef()
	return boolResult(file.IsDir()), nil, nil
}

// Inumber implements Pintos syscall inumber.
func Inumber(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()

	file := t.GetFile(fd)
	if file == nil {
		return 0, nil, kernerr.EBADF
	}
	defer file.DecRef()
	return uintptr(uint32(file.Inumber())), nil, nil
}
