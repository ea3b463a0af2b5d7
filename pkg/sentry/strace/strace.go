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

// Package strace implements the logic to print out the input and the return
// value of each traced syscall.
package strace

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"pintrap.dev/pintrap/pkg/abi/pintos"
	"pintrap.dev/pintrap/pkg/hostarch"
	"pintrap.dev/pintrap/pkg/log"
	"pintrap.dev/pintrap/pkg/sentry/arch"
	"pintrap.dev/pintrap/pkg/sentry/kernel"
	"pintrap.dev/pintrap/pkg/sync"
)

// DefaultLogMaximumSize is the default LogMaximumSize.
const DefaultLogMaximumSize = 1024

// Tracer logs syscalls. It implements kernel.Stracer.
type Tracer struct {
	// LogMaximumSize determines the maximum display size for data buffers.
	LogMaximumSize uint

	mu sync.RWMutex

	// traced holds the syscalls being traced. nil means all of them.
	traced map[uintptr]bool
}

// New returns a Tracer that traces every syscall.
func New(logMaximumSize uint) *Tracer {
	return &Tracer{LogMaximumSize: logMaximumSize}
}

// Enable restricts tracing to the named syscalls. No names means all
// syscalls.
func (s *Tracer) Enable(names []string) error {
	var traced map[uintptr]bool
	if len(names) > 0 {
		traced = make(map[uintptr]bool)
		for _, name := range names {
			sysno, ok := pintos.SysnoByName(name)
			if !ok {
				return fmt.Errorf("syscall %q not found", name)
			}
			traced[uintptr(sysno)] = true
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.traced = traced
	return nil
}

// SyscallTraced implements kernel.Stracer.SyscallTraced.
func (s *Tracer) SyscallTraced(sysno uintptr) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.traced == nil || s.traced[sysno]
}

// syscallEvent is the state carried from SyscallEnter to SyscallExit.
type syscallEvent struct {
	info  SyscallInfo
	args  arch.SyscallArguments
	start time.Time
}

// SyscallEnter implements kernel.Stracer.SyscallEnter.
func (s *Tracer) SyscallEnter(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) any {
	ev := &syscallEvent{info: Lookup(sysno), args: args, start: time.Now()}
	log.Infof("%v E %s(%s)", t, ev.info.name, strings.Join(s.pre(t, ev.info, args), ", "))
	return ev
}

// SyscallExit implements kernel.Stracer.SyscallExit.
func (s *Tracer) SyscallExit(info any, t *kernel.Task, sysno, rval uintptr, err error) {
	ev, ok := info.(*syscallEvent)
	if !ok {
		return
	}
	elapsed := time.Since(ev.start)
	args := strings.Join(s.post(t, ev.info, ev.args, rval, err), ", ")
	if err != nil {
		log.Infof("%v X %s(%s) = %s (%v) (%v)", t, ev.info.name, args, rvalString(rval), err, elapsed)
	} else {
		log.Infof("%v X %s(%s) = %s (%v)", t, ev.info.name, args, rvalString(rval), elapsed)
	}
}

func rvalString(rval uintptr) string {
	return strconv.FormatInt(int64(int32(rval)), 10)
}

// pre formats the arguments before the syscall runs.
func (s *Tracer) pre(t *kernel.Task, info SyscallInfo, args arch.SyscallArguments) []string {
	output := make([]string, 0, len(info.format))
	for i, f := range info.format {
		if i >= len(args) {
			break
		}
		a := args[i]
		switch f {
		case Int:
			output = append(output, strconv.FormatInt(int64(a.Int()), 10))
		case Uint:
			output = append(output, strconv.FormatUint(uint64(a.Uint()), 10))
		case FD:
			output = append(output, fd(t, a.Int()))
		case Path:
			output = append(output, path(t, a.Pointer()))
		case WriteBuffer:
			if i+1 < len(args) {
				output = append(output, s.dump(t, a.Pointer(), uint(args[i+1].SizeT())))
				continue
			}
			fallthrough
		default:
			output = append(output, fmt.Sprintf("%#x", a.Value))
		}
	}
	return output
}

// post formats the arguments after the syscall ran. Arguments formatted
// before the syscall are formatted again, except for buffers that are
// omitted.
func (s *Tracer) post(t *kernel.Task, info SyscallInfo, args arch.SyscallArguments, rval uintptr, err error) []string {
	output := s.pre(t, info, args)
	for i, f := range info.format {
		if i >= len(output) {
			break
		}
		a := args[i]
		switch f {
		case WriteBuffer:
			output[i] = fmt.Sprintf("%#x", a.Value)
		case ReadBuffer:
			if err == nil && int32(rval) > 0 {
				output[i] = s.dump(t, a.Pointer(), uint(uint32(rval)))
			}
		case PostName:
			if err == nil && rval != 0 {
				output[i] = path(t, a.Pointer())
			}
		}
	}
	return output
}

func fd(t *kernel.Task, fd int32) string {
	switch fd {
	case pintos.STDIN_FILENO:
		return "0 (stdin)"
	case pintos.STDOUT_FILENO:
		return "1 (stdout)"
	}
	file := t.GetFile(fd)
	if file == nil {
		return fmt.Sprintf("%d (bad FD)", fd)
	}
	defer file.DecRef()
	return fmt.Sprintf("%d %s", fd, file.Path())
}

func path(t *kernel.Task, addr hostarch.Addr) string {
	p, err := t.CopyInString(addr, pintos.MaxPathLen)
	if err != nil {
		return fmt.Sprintf("%#x (error decoding path: %s)", uint32(addr), err)
	}
	return fmt.Sprintf("%#x %q", uint32(addr), p)
}

// dump formats the buffer at addr, truncated to LogMaximumSize.
func (s *Tracer) dump(t *kernel.Task, addr hostarch.Addr, size uint) string {
	origSize := size
	if s.LogMaximumSize > 0 && size > s.LogMaximumSize {
		size = s.LogMaximumSize
	}
	if size == 0 {
		return fmt.Sprintf("%#x \"\"", uint32(addr))
	}
	b, err := t.CopyInBytes(addr, int(size))
	if err != nil {
		return fmt.Sprintf("%#x (error decoding string: %s)", uint32(addr), err)
	}
	dot := ""
	if size != origSize {
		dot = "..."
	}
	return fmt.Sprintf("%#x %q%s", uint32(addr), b, dot)
}
