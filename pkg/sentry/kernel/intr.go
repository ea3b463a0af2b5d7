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
	"pintrap.dev/pintrap/pkg/sentry/arch"
	"pintrap.dev/pintrap/pkg/sync"
)

// IntrHandler handles an interrupt raised by t. f is the frame the handler
// may modify; changes are visible to user mode once the handler returns.
type IntrHandler func(t *Task, f *arch.TrapFrame)

type intrEntry struct {
	name    string
	dpl     uint8
	level   pintos.IntrLevel
	handler IntrHandler
}

// InterruptTable maps vectors to handlers.
type InterruptTable struct {
	// mu protects entries.
	mu      sync.RWMutex
	entries [256]*intrEntry

	// intrMu is held while a handler registered with IntrOff runs, which is
	// what running with interrupts masked amounts to here.
	intrMu sync.Mutex
}

// Register installs h for vec. dpl is the least privileged level that may
// raise vec: DPLUser vectors may be raised from user mode, DPLKernel vectors
// only from the kernel. Registering a vector twice panics.
func (it *InterruptTable) Register(vec uint8, dpl uint8, level pintos.IntrLevel, name string, h IntrHandler) {
	if dpl != pintos.DPLKernel && dpl != pintos.DPLUser {
		panic(fmt.Sprintf("invalid DPL %d for vector %#x", dpl, vec))
	}
	it.mu.Lock()
	defer it.mu.Unlock()
	if e := it.entries[vec]; e != nil {
		panic(fmt.Sprintf("vector %#x already registered to %s", vec, e.name))
	}
	it.entries[vec] = &intrEntry{name: name, dpl: dpl, level: level, handler: h}
}

// Name returns the name of the handler for vec, or "" if there is none.
func (it *InterruptTable) Name(vec uint8) string {
	it.mu.RLock()
	defer it.mu.RUnlock()
	if e := it.entries[vec]; e != nil {
		return e.name
	}
	return ""
}

// Level returns the interrupt level vec's handler runs at.
func (it *InterruptTable) Level(vec uint8) (pintos.IntrLevel, bool) {
	it.mu.RLock()
	defer it.mu.RUnlock()
	if e := it.entries[vec]; e != nil {
		return e.level, true
	}
	return pintos.IntrOff, false
}

// dispatch runs the handler for f.VecNo. It returns false if the frame may
// not raise the vector, which is a general protection fault.
func (it *InterruptTable) dispatch(t *Task, f *arch.TrapFrame) bool {
	it.mu.RLock()
	e := it.entries[f.VecNo]
	it.mu.RUnlock()
	if e == nil || f.CPL() > e.dpl {
		return false
	}
	if e.level == pintos.IntrOff {
		it.intrMu.Lock()
		defer it.intrMu.Unlock()
	}
	e.handler(t, f)
	return true
}
