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
	"time"

	"pintrap.dev/pintrap/pkg/errors/kernerr"
	"pintrap.dev/pintrap/pkg/log"
	"pintrap.dev/pintrap/pkg/sentry/arch"
)

// killLog reports processes killed for bad syscalls. User code controls how
// often that happens, so it is rate limited.
var killLog = log.BasicRateLimitedLogger(time.Second)

// syscallHandler is the handler for the syscall vector. It runs with
// interrupts on, so syscalls from different threads run concurrently.
func syscallHandler(t *Task, f *arch.TrapFrame) {
	t.doSyscall(f)
}

// doSyscall reads the syscall number and arguments from the user stack,
// runs the syscall and stores its result in f.
//
// Bad stack pointers, bad syscall numbers and faults on user memory
// terminate the process with status -1. No other error reaches user code
// except as the syscall's sentinel value.
func (t *Task) doSyscall(f *arch.TrapFrame) {
	uio := t.MemoryManager()
	sysno, err := arch.SyscallNo(t, uio, f)
	if err != nil {
		killLog.Warningf("[%v] Bad stack pointer %v: %v", t, f.ESP, err)
		t.kill()
	}
	sc, ok := t.k.syscalls.Lookup(sysno)
	if !ok {
		syscallCounter.Increment(unknownSyscall)
		killLog.Warningf("[%v] Unknown syscall %d", t, sysno)
		t.kill()
	}
	args, err := arch.SyscallArgs(t, uio, f, sc.Args)
	if err != nil {
		killLog.Warningf("[%v] Bad arguments for %s at %v: %v", t, sc.Name, f.ESP, err)
		t.kill()
	}
	syscallCounter.Increment(sc.Name)

	var info any
	traced := t.k.stracer != nil && t.k.stracer.SyscallTraced(sysno)
	if traced {
		info = t.k.stracer.SyscallEnter(t, sysno, args)
	}

	rval, ctrl, err := t.executeSyscall(sc, args)

	returns := ctrl == nil || ctrl.next != taskExited
	if traced && returns {
		t.k.stracer.SyscallExit(info, t, sysno, rval, err)
	}
	if err != nil && kernerr.IsFatal(err) {
		killLog.Warningf("[%v] Killed in %s: %v", t, sc.Name, err)
		t.kill()
	}
	if !returns {
		t.exit()
	}
	if err != nil {
		if v, ok := sc.Result.Sentinel(); ok {
			f.SetReturn(v)
		}
		return
	}
	if sc.Result != ResultVoid {
		f.SetReturn(rval)
	}
}

// executeSyscall runs sc. It is separate from doSyscall so that it shows up
// on its own in stack traces.
func (t *Task) executeSyscall(sc *Syscall, args arch.SyscallArguments) (uintptr, *SyscallControl, error) {
	rval, ctrl, err := sc.Fn(t, args)
	if err != nil {
		t.Debugf("%s: %v", sc.Name, err)
	}
	return rval, ctrl, err
}
