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

package kernel

import (
	"context"
	"fmt"
	"runtime"

	"pintrap.dev/pintrap/pkg/hostarch"
	"pintrap.dev/pintrap/pkg/log"
	"pintrap.dev/pintrap/pkg/sentry/arch"
	"pintrap.dev/pintrap/pkg/sentry/mm"
)

// Task is a thread of a process.
//
// A Task is used by exactly one goroutine, the one running its program.
// That goroutine plays the part of the CPU: it executes user code and, in
// Trap, the kernel code servicing the thread.
type Task struct {
	context.Context

	k   *Kernel
	p   *Process
	tid ThreadID

	// frame is the register state exchanged with the kernel at a trap.
	frame arch.TrapFrame

	// stack is the thread's user stack.
	stack hostarch.AddrRange
}

// Kernel returns the kernel t runs on.
func (t *Task) Kernel() *Kernel {
	return t.k
}

// Process returns the process t belongs to.
func (t *Task) Process() *Process {
	return t.p
}

// ThreadID returns the thread identifier.
func (t *Task) ThreadID() ThreadID {
	return t.tid
}

// MemoryManager returns the address space of t's process.
func (t *Task) MemoryManager() *mm.MemoryManager {
	return t.p.mm
}

// FDTable returns the open-file table of t's process.
func (t *Task) FDTable() *FDTable {
	return t.p.fdTable
}

// Frame returns the thread's register state. User code sets the stack
// pointer before a trap and reads the result register after it.
func (t *Task) Frame() *arch.TrapFrame {
	return &t.frame
}

// Stack returns the thread's user stack.
func (t *Task) Stack() hostarch.AddrRange {
	return t.stack
}

// String implements fmt.Stringer.String.
func (t *Task) String() string {
	return fmt.Sprintf("%v/%d", t.p, t.tid)
}

// Debugf logs a message at debug level, prefixed with the thread.
func (t *Task) Debugf(format string, v ...any) {
	if log.IsLogging(log.Debug) {
		log.DebugfAtDepth(1, "[%v] "+format, append([]any{t}, v...)...)
	}
}

// Warningf logs a message at warning level, prefixed with the thread.
func (t *Task) Warningf(format string, v ...any) {
	log.Log().WarningfAtDepth(1, "[%v] "+format, append([]any{t}, v...)...)
}

// Trap raises interrupt vec from user mode and returns once the kernel
// returns to user mode. It never returns if the thread is terminated.
func (t *Task) Trap(vec uint8) {
	t.checkRunning()
	t.frame.VecNo = vec
	t.frame.CS = arch.UserCS
	if !t.k.intrs.dispatch(t, &t.frame) {
		// Unregistered vector, or a kernel-only one.
		t.Warningf("General protection fault on vector %#x", vec)
		t.kill()
	}
	t.checkRunning()
}

// PageFault is called when user code running on t faults on addr. Like any
// user fault taken outside a syscall, it kills the process.
func (t *Task) PageFault(addr hostarch.Addr, err error) {
	killLog.Warningf("[%v] Page fault at %v: %v", t, addr, err)
	t.kill()
}

// checkRunning terminates t if its process is exiting or the kernel has
// halted.
func (t *Task) checkRunning() {
	if t.k.Halted() || t.p.Exiting() {
		t.exit()
	}
}

// kill terminates t's process with status ExitKilled, and then t.
func (t *Task) kill() {
	t.p.killed()
	t.exit()
}

// exit terminates the calling goroutine, which must be t's. Deferred calls
// run, so locks taken with defer are released.
func (t *Task) exit() {
	runtime.Goexit()
}

// Clone starts a new thread in t's process running fn on a fresh stack.
func (t *Task) Clone(fn func(*Task)) (ThreadID, error) {
	stack, err := t.p.allocStack()
	if err != nil {
		return 0, err
	}
	nt := t.k.newTask(t.p, stack, stack.End)
	if err := t.p.addTask(nt); err != nil {
		return 0, err
	}
	go nt.run(fn)
	return nt.tid, nil
}

func (k *Kernel) newTask(p *Process, stack hostarch.AddrRange, sp hostarch.Addr) *Task {
	return &Task{
		Context: context.Background(),
		k:       k,
		p:       p,
		tid:     k.newThreadID(),
		frame:   arch.NewUserFrame(sp),
		stack:   stack,
	}
}

// run runs fn as the body of t. The thread ends when fn returns or the
// thread is terminated.
func (t *Task) run(fn func(*Task)) {
	defer t.p.removeTask(t)
	defer func() {
		if r := recover(); r != nil {
			// A crash in user code takes down its process only.
			t.Warningf("User code panicked: %v", r)
			t.p.killed()
		}
	}()
	fn(t)
}
