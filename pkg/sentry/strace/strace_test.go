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

package strace_test

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"pintrap.dev/pintrap/pkg/abi/pintos"
	"pintrap.dev/pintrap/pkg/log"
	"pintrap.dev/pintrap/pkg/sentry/kernel/kerneltest"
	"pintrap.dev/pintrap/pkg/sentry/strace"
	sys "pintrap.dev/pintrap/pkg/sentry/syscalls/pintos"
	"pintrap.dev/pintrap/pkg/sync"
	"pintrap.dev/pintrap/pkg/user"
)

type recorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *recorder) Emit(_ int, _ log.Level, _ time.Time, format string, v ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, fmt.Sprintf(format, v...))
}

func (r *recorder) contains(s string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, line := range r.lines {
		if strings.Contains(line, s) {
			return true
		}
	}
	return false
}

func (r *recorder) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.lines, "\n")
}

func TestNames(t *testing.T) {
	names := strace.Names()
	if len(names) != pintos.NumSyscalls {
		t.Fatalf("Names() has %d entries, want %d", len(names), pintos.NumSyscalls)
	}
	for i, name := range names {
		if want := pintos.Sysno(i).String(); name != want {
			t.Errorf("Names()[%d] = %q, want %q", i, name, want)
		}
	}
}

func TestEnable(t *testing.T) {
	s := strace.New(strace.DefaultLogMaximumSize)
	if !s.SyscallTraced(uintptr(pintos.SYS_READ)) {
		t.Errorf("read not traced by default")
	}
	if err := s.Enable([]string{"open", "close"}); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}
	if s.SyscallTraced(uintptr(pintos.SYS_READ)) || !s.SyscallTraced(uintptr(pintos.SYS_OPEN)) {
		t.Errorf("Enable(open, close) traces the wrong syscalls")
	}
	if err := s.Enable([]string{"fork"}); err == nil {
		t.Errorf("Enable(fork) succeeded")
	}
	if err := s.Enable(nil); err != nil || !s.SyscallTraced(uintptr(pintos.SYS_READ)) {
		t.Errorf("Enable(nil) did not restore tracing of every syscall")
	}
}

func TestTrace(t *testing.T) {
	rec := &recorder{}
	old := log.Log().Emitter
	log.SetTarget(rec)
	defer log.SetTarget(old)

	k := kerneltest.Boot(t, kerneltest.Options{
		Syscalls: sys.NewTable(),
		Stracer:  strace.New(8),
	})
	k.RunAndWait(t, "traced", func(e *user.Env) int32 {
		e.Create("file", 0)
		fd := e.Open("file")
		e.WriteBytes(fd, []byte("0123456789abcdef"))
		e.Close(fd)
		e.Close(fd)
		return 0
	})

	for _, want := range []string{
		`E create(`,
		`"file"`,
		`X open(`,
		`= 2 (`,
		`"01234567"...`,
		`E close(2 file)`,
		`E close(2 (bad FD))`,
	} {
		if !rec.contains(want) {
			t.Errorf("no trace line contains %q in:\n%s", want, rec)
		}
	}
}
