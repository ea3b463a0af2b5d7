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

package user

import (
	"fmt"

	"pintrap.dev/pintrap/pkg/abi/pintos"
	"pintrap.dev/pintrap/pkg/hostarch"
)

// Halt powers off the machine. It does not return.
func (e *Env) Halt() {
	e.Syscall(pintos.SYS_HALT)
	panic("halt returned")
}

// Exit terminates the process with status. It does not return.
func (e *Env) Exit(status int32) {
	e.Syscall(pintos.SYS_EXIT, uint32(status))
	panic("exit returned")
}

// Exec runs cmdline in a child process and returns its pid, or -1 if the
// program could not be loaded.
func (e *Env) Exec(cmdline string) int32 {
	return e.withString(cmdline, func(addr hostarch.Addr) int32 {
		return e.Syscall(pintos.SYS_EXEC, uint32(addr))
	})
}

// Wait waits for the child pid and returns its exit status.
func (e *Env) Wait(pid int32) int32 {
	return e.Syscall(pintos.SYS_WAIT, uint32(pid))
}

// Create creates a file of the given initial size.
func (e *Env) Create(path string, size uint32) bool {
	return e.withString(path, func(addr hostarch.Addr) int32 {
		return e.Syscall(pintos.SYS_CREATE, uint32(addr), size)
	}) != 0
}

// Remove removes a file or an empty directory.
func (e *Env) Remove(path string) bool {
	return e.withString(path, func(addr hostarch.Addr) int32 {
		return e.Syscall(pintos.SYS_REMOVE, uint32(addr))
	}) != 0
}

// Open opens path and returns a handle, or -1.
func (e *Env) Open(path string) int32 {
	return e.withString(path, func(addr hostarch.Addr) int32 {
		return e.Syscall(pintos.SYS_OPEN, uint32(addr))
	})
}

// Filesize returns the size of the open file fd.
func (e *Env) Filesize(fd int32) int32 {
	return e.Syscall(pintos.SYS_FILESIZE, uint32(fd))
}

// Read reads up to n bytes from fd into buf.
func (e *Env) Read(fd int32, buf hostarch.Addr, n uint32) int32 {
	return e.Syscall(pintos.SYS_READ, uint32(fd), uint32(buf), n)
}

// Write writes n bytes at buf to fd.
func (e *Env) Write(fd int32, buf hostarch.Addr, n uint32) int32 {
	return e.Syscall(pintos.SYS_WRITE, uint32(fd), uint32(buf), n)
}

// Seek sets the position of fd.
func (e *Env) Seek(fd int32, pos uint32) {
	e.Syscall(pintos.SYS_SEEK, uint32(fd), pos)
}

// Tell returns the position of fd.
func (e *Env) Tell(fd int32) uint32 {
	return uint32(e.Syscall(pintos.SYS_TELL, uint32(fd)))
}

// Close closes fd.
func (e *Env) Close(fd int32) {
	e.Syscall(pintos.SYS_CLOSE, uint32(fd))
}

// Mmap maps fd at addr and returns a mapping id, or -1.
func (e *Env) Mmap(fd int32, addr hostarch.Addr) int32 {
	return e.Syscall(pintos.SYS_MMAP, uint32(fd), uint32(addr))
}

// Munmap removes mapping id.
func (e *Env) Munmap(id int32) {
	e.Syscall(pintos.SYS_MUNMAP, uint32(id))
}

// Chdir changes the working directory.
func (e *Env) Chdir(dir string) bool {
	return e.withString(dir, func(addr hostarch.Addr) int32 {
		return e.Syscall(pintos.SYS_CHDIR, uint32(addr))
	}) != 0
}

// Mkdir creates a directory.
func (e *Env) Mkdir(dir string) bool {
	return e.withString(dir, func(addr hostarch.Addr) int32 {
		return e.Syscall(pintos.SYS_MKDIR, uint32(addr))
	}) != 0
}

// Readdir reads the next entry of directory fd into name, which must hold
// ReaddirMaxLen+1 bytes.
func (e *Env) Readdir(fd int32, name hostarch.Addr) bool {
	return e.Syscall(pintos.SYS_READDIR, uint32(fd), uint32(name)) != 0
}

// Isdir returns true if fd is a directory.
func (e *Env) Isdir(fd int32) bool {
	return e.Syscall(pintos.SYS_ISDIR, uint32(fd)) != 0
}

// Inumber returns the inode number of fd.
func (e *Env) Inumber(fd int32) int32 {
	return e.Syscall(pintos.SYS_INUMBER, uint32(fd))
}

// WriteBytes writes b to fd through a buffer on the stack and returns the
// number of bytes written.
func (e *Env) WriteBytes(fd int32, b []byte) int32 {
	const chunk = 1024
	var done int32
	for len(b) > 0 {
		n := min(len(b), chunk)
		w := e.withBytes(b[:n], func(addr hostarch.Addr) int32 {
			return e.Write(fd, addr, uint32(n))
		})
		if w < 0 {
			if done == 0 {
				return w
			}
			break
		}
		done += w
		if int(w) < n {
			break
		}
		b = b[n:]
	}
	return done
}

// Printf writes formatted output to the console.
func (e *Env) Printf(format string, v ...any) {
	e.WriteBytes(pintos.STDOUT_FILENO, []byte(fmt.Sprintf(format, v...)))
}

// ReadAll reads fd until end of file.
func (e *Env) ReadAll(fd int32) ([]byte, bool) {
	buf := e.scratchBuf()
	var out []byte
	for {
		n := e.Read(fd, buf, scratchSize)
		if n < 0 {
			return out, false
		}
		if n == 0 {
			return out, true
		}
		out = append(out, e.Peek(buf, int(n))...)
	}
}

// ReaddirAll returns the names in directory fd.
func (e *Env) ReaddirAll(fd int32) ([]string, bool) {
	name := e.scratchBuf()
	var names []string
	for e.Readdir(fd, name) {
		names = append(names, e.PeekString(name))
	}
	return names, e.Isdir(fd)
}
