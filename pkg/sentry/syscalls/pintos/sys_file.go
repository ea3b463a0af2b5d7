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
	"pintrap.dev/pintrap/pkg/errors/kernerr"
	"pintrap.dev/pintrap/pkg/hostarch"
	"pintrap.dev/pintrap/pkg/sentry/arch"
	"pintrap.dev/pintrap/pkg/sentry/kernel"
)

// copyInPath copies in a path argument. A path too long for the buffer is
// an ordinary failure; only a fault is fatal.
func copyInPath(t *kernel.Task, addr hostarch.Addr) (string, error) {
	return t.CopyInString(addr, pintos.MaxPathLen)
}

// Create implements Pintos syscall create.
func Create(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	size := args[1].Uint()

	path, err := copyInPath(t, addr)
	if err != nil {
		return 0, nil, err
	}
	cwd := t.Process().Cwd()
	defer cwd.DecRef()
	if err := t.Kernel().FileSystem().Create(cwd.File, path, int64(size)); err != nil {
		return 0, nil, err
	}
	return 1, nil, nil
}

// Remove implements Pintos syscall remove.
func Remove(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()

	path, err := copyInPath(t, addr)
	if err != nil {
		return 0, nil, err
	}
	cwd := t.Process().Cwd()
	defer cwd.DecRef()
	if err := t.Kernel().FileSystem().Remove(cwd.File, path); err != nil {
		return 0, nil, err
	}
	return 1, nil, nil
}

// Open implements Pintos syscall open.
//
// The file is opened with the filesystem lock held, and installed in the
// open-file table after it has been released.
func Open(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
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
	file := kernel.NewFileDescription(f, path)
	fd, err := t.FDTable().NewFD(file)
	if err != nil {
		file.DecRef()
		return 0, nil, err
	}
	return uintptr(fd), nil, nil
}

// Filesize implements Pintos syscall filesize.
func Filesize(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()

	file := t.GetFile(fd)
	if file == nil {
		return 0, nil, kernerr.EBADF
	}
	defer file.DecRef()
	return uintptr(uint32(file.Length())), nil, nil
}

// Read implements Pintos syscall read.
func Read(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	addr := args[1].Pointer()
	size := int(args[2].SizeT())

	// Check that the destination is writable before doing any work.
	if err := t.CheckWritable(addr, size); err != nil {
		return 0, nil, err
	}

	var read func([]byte) (int, error)
	switch fd {
	case pintos.STDIN_FILENO:
		read = t.Kernel().Console().Read
	case pintos.STDOUT_FILENO:
		return 0, nil, kernerr.EBADF
	default:
		file := t.GetFile(fd)
		if file == nil {
			return 0, nil, kernerr.EBADF
		}
		defer file.DecRef()
		read = file.Read
	}

	buf := make([]byte, min(size, ioChunk))
	var done int
	for done < size {
		chunk := buf[:min(size-done, len(buf))]
		n, err := read(chunk)
		if n > 0 {
			if _, err := t.CopyOutBytes(addr+hostarch.Addr(done), chunk[:n]); err != nil {
				return 0, nil, err
			}
			done += n
		}
		if err != nil {
			if done > 0 {
				break
			}
			return 0, nil, err
		}
		if n < len(chunk) {
			break
		}
	}
	return uintptr(done), nil, nil
}

// Write implements Pintos syscall write.
func Write(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	addr := args[1].Pointer()
	size := int(args[2].SizeT())

	// Check that the source is readable before doing any work.
	if err := t.CheckReadable(addr, size); err != nil {
		return 0, nil, err
	}

	var write func([]byte) (int, error)
	switch fd {
	case pintos.STDIN_FILENO:
		return 0, nil, kernerr.EBADF
	case pintos.STDOUT_FILENO:
		write = t.Kernel().Console().Write
	default:
		file := t.GetFile(fd)
		if file == nil {
			return 0, nil, kernerr.EBADF
		}
		defer file.DecRef()
		write = file.Write
	}

	var done int
	for done < size {
		chunk, err := t.CopyInBytes(addr+hostarch.Addr(done), min(size-done, ioChunk))
		if err != nil {
			return 0, nil, err
		}
		n, err := write(chunk)
		done += n
		if err != nil {
			if done > 0 {
				break
			}
			return 0, nil, err
		}
		if n < len(chunk) {
			break
		}
	}
	return uintptr(done), nil, nil
}

// Seek implements Pintos syscall seek. A bad handle is ignored.
func Seek(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	pos := args[1].Uint()

	file := t.GetFile(fd)
	if file == nil {
		return 0, nil, kernerr.EBADF
	}
	defer file.DecRef()
	file.Seek(int64(pos))
	return 0, nil, nil
}

// Tell implements Pintos syscall tell.
func Tell(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()

	file := t.GetFile(fd)
	if file == nil {
		return 0, nil, kernerr.EBADF
	}
	defer file.DecRef()
	return uintptr(uint32(file.Tell())), nil, nil
}

// Close implements Pintos syscall close. A bad handle is ignored.
func Close(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()

	file := t.FDTable().Remove(fd)
	if file == nil {
		return 0, nil, kernerr.EBADF
	}
	file.DecRef()
	return 0, nil, nil
}
