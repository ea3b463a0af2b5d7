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
	"fmt"

	"pintrap.dev/pintrap/pkg/abi/pintos"
	"pintrap.dev/pintrap/pkg/errors/kernerr"
	"pintrap.dev/pintrap/pkg/hostarch"
	"pintrap.dev/pintrap/pkg/log"
	"pintrap.dev/pintrap/pkg/sentry/mm"
	"pintrap.dev/pintrap/pkg/sync"
)

// ProcessID is a process identifier. Identifiers start at 1 and are not
// reused.
type ProcessID int32

// ThreadID is a thread identifier, unique across the kernel.
type ThreadID int32

// Process is a running program: an address space, an open-file table, a
// working directory and one or more threads.
type Process struct {
	k      *Kernel
	pid    ProcessID
	name   string
	argv   []string
	parent *Process

	// mm and fdTable are immutable references; the objects are internally
	// synchronized.
	mm      *mm.MemoryManager
	fdTable *FDTable

	// data is the data segment.
	data hostarch.AddrRange

	// exited is signalled once the process has been torn down and its exit
	// status is final.
	exited *sync.Event

	// mu protects below.
	mu sync.Mutex

	// cwd is the working directory. The process holds one reference.
	cwd *FileDescription

	// exe is the executable file, which denies writes while the process
	// runs.
	exe *FileDescription

	// children holds the children that have not been waited for.
	children map[ProcessID]*Process

	// status is the exit status. It is ExitKilled until exit is called.
	status    int32
	statusSet bool

	// exiting is set once the process is exiting. Threads terminate at
	// their next trap.
	exiting bool

	// tasks holds the live threads.
	tasks map[ThreadID]*Task

	// stackTop is the top of the next thread stack to be allocated.
	stackTop hostarch.Addr
}

// PID returns the process identifier.
func (p *Process) PID() ProcessID {
	return p.pid
}

// Name returns the process name, the first word of its command line.
func (p *Process) Name() string {
	return p.name
}

// Argv returns the command line the process was started with.
func (p *Process) Argv() []string {
	return append([]string(nil), p.argv...)
}

// Parent returns the process that started p, or nil.
func (p *Process) Parent() *Process {
	return p.parent
}

// MemoryManager returns the address space.
func (p *Process) MemoryManager() *mm.MemoryManager {
	return p.mm
}

// FDTable returns the open-file table.
func (p *Process) FDTable() *FDTable {
	return p.fdTable
}

// DataSegment returns the range of the data segment.
func (p *Process) DataSegment() hostarch.AddrRange {
	return p.data
}

// Exited returns an event signalled once the process has been torn down.
func (p *Process) Exited() *sync.Event {
	return p.exited
}

// String implements fmt.Stringer.String.
func (p *Process) String() string {
	return fmt.Sprintf("%s[%d]", p.name, p.pid)
}

// Cwd returns a reference to the working directory.
//
// N.B. Callers are required to use DecRef when they are done.
func (p *Process) Cwd() *FileDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cwd.IncRef()
	return p.cwd
}

// SetCwd replaces the working directory, taking over the caller's reference
// on dir.
func (p *Process) SetCwd(dir *FileDescription) {
	p.mu.Lock()
	old := p.cwd
	p.cwd = dir
	p.mu.Unlock()
	old.DecRef()
}

// Exit records status as the exit status and starts the exit of every
// thread. Only the first status recorded counts.
func (p *Process) Exit(status int32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.statusSet {
		p.status = status
		p.statusSet = true
	}
	p.exiting = true
}

// Exiting returns true once the process has started exiting.
func (p *Process) Exiting() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exiting
}

// killed marks the process as terminated by the kernel.
func (p *Process) killed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exiting && p.statusSet {
		return
	}
	p.status = pintos.ExitKilled
	p.statusSet = true
	p.exiting = true
	killedCounter.Increment()
}

// ExitStatus returns the exit status. It is only final once Exited has been
// signalled.
func (p *Process) ExitStatus() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// NumThreads returns the number of live threads.
func (p *Process) NumThreads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks)
}

// WaitChild waits for the child pid to exit and returns its exit status.
// A child can be waited for once; ECHILD is returned if pid is not a child
// of p or has already been waited for.
//
// If the kernel halts while waiting, WaitChild returns ESRCH.
func (p *Process) WaitChild(pid ProcessID) (int32, error) {
	p.mu.Lock()
	child, ok := p.children[pid]
	delete(p.children, pid)
	p.mu.Unlock()
	if !ok {
		return pintos.ExitKilled, kernerr.ECHILD
	}
	select {
	case <-child.exited.Done():
		return child.ExitStatus(), nil
	case <-p.k.haltEvent.Done():
		return pintos.ExitKilled, kernerr.ESRCH
	}
}

func (p *Process) addChild(child *Process) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.children[child.pid] = child
}

// allocStack maps a fresh stack for a new thread below the existing ones and
// returns it. It fails with ENOMEM once the stack reserve is used up.
func (p *Process) allocStack() (hostarch.AddrRange, error) {
	size := hostarch.Addr(p.k.stackPages * hostarch.PageSize)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exiting {
		return hostarch.AddrRange{}, kernerr.ESRCH
	}
	top := p.stackTop
	if floor := hostarch.PhysBase - mm.StackReserve; top-floor < size {
		return hostarch.AddrRange{}, kernerr.ENOMEM
	}
	ar := hostarch.AddrRange{Start: top - size, End: top}
	if err := p.mm.MapAnonymous(ar, hostarch.ReadWrite); err != nil {
		return hostarch.AddrRange{}, err
	}
	p.stackTop = ar.Start
	return ar, nil
}

// addTask registers t as a live thread. It fails once the process is
// exiting.
func (p *Process) addTask(t *Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exiting {
		return kernerr.ESRCH
	}
	p.tasks[t.tid] = t
	return nil
}

// removeTask unregisters t and tears the process down if t was its last
// thread.
func (p *Process) removeTask(t *Task) {
	p.mu.Lock()
	delete(p.tasks, t.tid)
	last := len(p.tasks) == 0
	if last {
		p.exiting = true
	}
	p.mu.Unlock()
	if last {
		p.teardown()
	}
}

// teardown releases every resource held by the process and reports its
// exit. The filesystem lock is taken by the calls below as needed.
func (p *Process) teardown() {
	p.mu.Lock()
	status := p.status
	cwd, exe := p.cwd, p.exe
	p.cwd, p.exe = nil, nil
	p.mu.Unlock()

	if !p.k.Halted() {
		p.k.console.Printf("%s: exit(%d)\n", p.name, status)
	}
	log.Debugf("Process %v exited with status %d", p, status)

	p.fdTable.RemoveAll()
	if err := p.mm.Release(); err != nil {
		log.Warningf("Process %v: writing back mappings: %v", p, err)
	}
	if cwd != nil {
		cwd.DecRef()
	}
	if exe != nil {
		exe.AllowWrite()
		exe.DecRef()
	}
	p.exited.Signal()
	p.k.removeProcess(p.pid)
}
