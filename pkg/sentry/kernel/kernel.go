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

// Package kernel provides the process, thread, trap and open-file machinery
// of the kernel.
//
// User threads are goroutines running a Program against a Task. They enter
// the kernel only through Task.Trap, which routes the trap through the
// interrupt table to the syscall dispatcher.
//
// Lock order:
//
//	Kernel.mu
//	  Process.mu
//
//	fs.Lock (filesystem calls)
//	  mm.MemoryManager.mu
//
// FDTable.mu is a leaf: it is never held while calling into the filesystem.
package kernel

import (
	"fmt"

	"pintrap.dev/pintrap/pkg/abi/pintos"
	"pintrap.dev/pintrap/pkg/errors/kernerr"
	"pintrap.dev/pintrap/pkg/log"
	"pintrap.dev/pintrap/pkg/sentry/arch"
	"pintrap.dev/pintrap/pkg/sentry/fs"
	"pintrap.dev/pintrap/pkg/sync"
)

// Defaults for InitKernelArgs.
const (
	DefaultFDLimit    = 128
	DefaultDataPages  = 16
	DefaultStackPages = 16
)

// Program is the body of a user program. It runs on its own goroutine as the
// main thread of a process and must only reach the kernel through t.Trap.
type Program func(t *Task)

// InitKernelArgs holds arguments to Init.
type InitKernelArgs struct {
	// FileSystem is the filesystem collaborator. The kernel serializes
	// every call into it.
	FileSystem fs.FileSystem

	// Console serves handles 0 and 1.
	Console *Console

	// Syscalls is the syscall table. Init initializes it.
	Syscalls *SyscallTable

	// Stracer, if not nil, traces syscalls.
	Stracer Stracer

	// FDLimit bounds each process's open-file table. Zero selects
	// DefaultFDLimit; negative means no limit.
	FDLimit int

	// DataPages is the size of each process's data segment in pages.
	DataPages int

	// StackPages is the size of each thread's stack in pages.
	StackPages int
}

// Kernel represents an emulated kernel.
type Kernel struct {
	// fsLock serializes every call into the filesystem, and fs is the
	// filesystem wrapped with it.
	fsLock fs.Lock
	fs     fs.FileSystem

	console  *Console
	intrs    InterruptTable
	syscalls *SyscallTable
	stracer  Stracer

	fdLimit    int
	dataPages  int
	stackPages int

	progMu   sync.RWMutex
	programs map[string]Program

	// mu protects below.
	mu        sync.Mutex
	cond      *sync.Cond
	processes map[ProcessID]*Process
	nextPID   ProcessID
	nextTID   ThreadID
	halted    bool

	// haltEvent is signalled by Halt.
	haltEvent *sync.Event

	// ticks counts timer interrupts.
	ticks uint64
}

// Init initializes the kernel and installs the trap handlers.
func (k *Kernel) Init(args InitKernelArgs) error {
	if args.FileSystem == nil {
		return fmt.Errorf("FileSystem is nil")
	}
	if args.Console == nil {
		return fmt.Errorf("Console is nil")
	}
	if args.Syscalls == nil {
		return fmt.Errorf("Syscalls is nil")
	}
	k.fs = fs.Serialize(&k.fsLock, args.FileSystem)
	k.console = args.Console
	k.syscalls = args.Syscalls
	k.syscalls.Init()
	k.stracer = args.Stracer

	k.fdLimit = args.FDLimit
	switch {
	case k.fdLimit == 0:
		k.fdLimit = DefaultFDLimit
	case k.fdLimit < 0:
		k.fdLimit = 0
	}
	k.dataPages = args.DataPages
	if k.dataPages <= 0 {
		k.dataPages = DefaultDataPages
	}
	k.stackPages = args.StackPages
	if k.stackPages <= 0 {
		k.stackPages = DefaultStackPages
	}

	k.programs = make(map[string]Program)
	k.cond = sync.NewCond(&k.mu)
	k.processes = make(map[ProcessID]*Process)
	k.nextPID = 1
	k.nextTID = 1
	k.haltEvent = sync.NewEvent()

	k.intrs.Register(pintos.SyscallVector, pintos.DPLUser, pintos.IntrOn, "syscall", syscallHandler)
	k.intrs.Register(pintos.TimerVector, pintos.DPLKernel, pintos.IntrOff, "timer", k.timerHandler)
	return nil
}

// FileSystem returns the serialized filesystem.
func (k *Kernel) FileSystem() fs.FileSystem {
	return k.fs
}

// FSLock returns the filesystem lock.
func (k *Kernel) FSLock() *fs.Lock {
	return &k.fsLock
}

// Console returns the console.
func (k *Kernel) Console() *Console {
	return k.console
}

// Interrupts returns the interrupt table.
func (k *Kernel) Interrupts() *InterruptTable {
	return &k.intrs
}

// SyscallTable returns the syscall table.
func (k *Kernel) SyscallTable() *SyscallTable {
	return k.syscalls
}

// RegisterProgram makes prog runnable under name by executables that name
// it.
func (k *Kernel) RegisterProgram(name string, prog Program) error {
	k.progMu.Lock()
	defer k.progMu.Unlock()
	if _, ok := k.programs[name]; ok {
		return fmt.Errorf("program %q already registered", name)
	}
	k.programs[name] = prog
	return nil
}

// LookupProgram returns the program registered under name.
func (k *Kernel) LookupProgram(name string) (Program, bool) {
	k.progMu.RLock()
	defer k.progMu.RUnlock()
	prog, ok := k.programs[name]
	return prog, ok
}

// Start runs cmdline as a process with no parent.
func (k *Kernel) Start(cmdline string) (*Process, error) {
	return k.exec(nil, cmdline)
}

// Halt powers the machine off: no trap returns to user mode after it, and
// Wait returns.
func (k *Kernel) Halt() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.halted {
		return
	}
	log.Infof("Halting")
	k.halted = true
	k.haltEvent.Signal()
	k.cond.Broadcast()
}

// Halted returns true once Halt has been called.
func (k *Kernel) Halted() bool {
	return k.haltEvent.Signalled()
}

// HaltEvent returns an event signalled by Halt.
func (k *Kernel) HaltEvent() *sync.Event {
	return k.haltEvent
}

// Wait blocks until every process has exited or the kernel is halted.
func (k *Kernel) Wait() {
	k.mu.Lock()
	defer k.mu.Unlock()
	for len(k.processes) > 0 && !k.halted {
		k.cond.Wait()
	}
}

// Process returns the live process with the given pid.
func (k *Kernel) Process(pid ProcessID) (*Process, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, ok := k.processes[pid]
	return p, ok
}

// NumProcesses returns the number of live processes.
func (k *Kernel) NumProcesses() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.processes)
}

// Tick raises a timer interrupt from kernel mode.
func (k *Kernel) Tick() {
	f := arch.TrapFrame{CS: arch.KernelCS, VecNo: pintos.TimerVector}
	if !k.intrs.dispatch(nil, &f) {
		panic("timer interrupt refused in kernel mode")
	}
}

// Ticks returns the number of timer interrupts handled.
func (k *Kernel) Ticks() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.ticks
}

func (k *Kernel) timerHandler(*Task, *arch.TrapFrame) {
	k.mu.Lock()
	k.ticks++
	k.mu.Unlock()
}

// addProcess assigns p a pid and registers it. It fails once the kernel is
// halted.
func (k *Kernel) addProcess(p *Process) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.halted {
		return kernerr.ESRCH
	}
	p.pid = k.nextPID
	k.nextPID++
	k.processes[p.pid] = p
	return nil
}

func (k *Kernel) removeProcess(pid ProcessID) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.processes, pid)
	k.cond.Broadcast()
}

func (k *Kernel) newThreadID() ThreadID {
	k.mu.Lock()
	defer k.mu.Unlock()
	tid := k.nextTID
	k.nextTID++
	return tid
}
