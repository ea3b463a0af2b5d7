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

// Package kerneltest provides utilities for testing with a booted kernel.
package kerneltest

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"pintrap.dev/pintrap/pkg/sentry/fsimpl/memfs"
	"pintrap.dev/pintrap/pkg/sentry/kernel"
	"pintrap.dev/pintrap/pkg/sync"
	"pintrap.dev/pintrap/pkg/user"
	"pintrap.dev/pintrap/pkg/user/programs"
)

// Timeout bounds every wait in this package.
const Timeout = 10 * time.Second

// Options configures Boot.
type Options struct {
	// Syscalls is the syscall table. Required.
	Syscalls *kernel.SyscallTable

	// Input is the keyboard input.
	Input string

	// FDLimit is passed to the kernel.
	FDLimit int

	// Capacity is the memfs capacity. Zero means unlimited.
	Capacity int64

	// Stracer is passed to the kernel.
	Stracer kernel.Stracer
}

// Kernel is a kernel booted over a memfs with a captured console.
type Kernel struct {
	*kernel.Kernel

	// FS is the unserialized filesystem.
	FS *memfs.Filesystem

	// Out holds the console output.
	Out *Buffer
}

// Buffer is a bytes.Buffer safe for concurrent use.
type Buffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// Write implements io.Writer.Write.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// String returns the contents of the buffer.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Boot returns an initialized kernel.
func Boot(t testing.TB, opts Options) *Kernel {
	t.Helper()
	fsys := memfs.New(memfs.Options{Capacity: opts.Capacity})
	out := &Buffer{}
	k := &kernel.Kernel{}
	if err := k.Init(kernel.InitKernelArgs{
		FileSystem: fsys,
		Console:    kernel.NewConsole(strings.NewReader(opts.Input), out),
		Syscalls:   opts.Syscalls,
		Stracer:    opts.Stracer,
		FDLimit:    opts.FDLimit,
	}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return &Kernel{Kernel: k, FS: fsys, Out: out}
}

// Install registers prog as name and writes its executable to /name.
func (k *Kernel) Install(t testing.TB, name string, prog kernel.Program) {
	t.Helper()
	if err := k.RegisterProgram(name, prog); err != nil {
		t.Fatalf("RegisterProgram(%q) failed: %v", name, err)
	}
	if err := programs.WriteExecutable(k.FileSystem(), "/"+name, name); err != nil {
		t.Fatalf("WriteExecutable(%q) failed: %v", name, err)
	}
}

// Run installs fn as name and starts it with no arguments.
func (k *Kernel) Run(t testing.TB, name string, fn func(e *user.Env) int32) *kernel.Process {
	t.Helper()
	k.Install(t, name, user.Main(fn))
	p, err := k.Start(name)
	if err != nil {
		t.Fatalf("Start(%q) failed: %v", name, err)
	}
	return p
}

// WaitExit waits for p to be torn down and returns its exit status.
func WaitExit(t testing.TB, p *kernel.Process) int32 {
	t.Helper()
	select {
	case <-p.Exited().Done():
		return p.ExitStatus()
	case <-time.After(Timeout):
		t.Fatalf("timed out waiting for %v", p)
		return 0
	}
}

// RunAndWait runs fn as name and returns its exit status.
func (k *Kernel) RunAndWait(t testing.TB, name string, fn func(e *user.Env) int32) int32 {
	t.Helper()
	return WaitExit(t, k.Run(t, name, fn))
}
