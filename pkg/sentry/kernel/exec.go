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
	"bytes"
	"context"
	"io"
	"strings"

	"pintrap.dev/pintrap/pkg/abi/pintos"
	"pintrap.dev/pintrap/pkg/cleanup"
	"pintrap.dev/pintrap/pkg/errors/kernerr"
	"pintrap.dev/pintrap/pkg/hostarch"
	"pintrap.dev/pintrap/pkg/log"
	"pintrap.dev/pintrap/pkg/sentry/arch"
	"pintrap.dev/pintrap/pkg/sentry/fs"
	"pintrap.dev/pintrap/pkg/sentry/mm"
	"pintrap.dev/pintrap/pkg/sync"
)

// maxExecHeader bounds the executable header: the magic, a program name and
// the newline.
const maxExecHeader = len(pintos.ExecMagic) + 64

// ExecutableImage returns the contents of an executable file that runs the
// program registered under name.
func ExecutableImage(name string) []byte {
	return []byte(pintos.ExecMagic + name + "\n")
}

// parseExecutable returns the program name from an executable header.
func parseExecutable(hdr []byte) (string, error) {
	rest, ok := bytes.CutPrefix(hdr, []byte(pintos.ExecMagic))
	if !ok {
		return "", kernerr.ENOEXEC
	}
	name, _, ok := bytes.Cut(rest, []byte{'\n'})
	if !ok || len(name) == 0 {
		return "", kernerr.ENOEXEC
	}
	return string(name), nil
}

// Exec starts cmdline as a child of t's process. It returns once the child
// is loaded, or fails if it could not be.
func (t *Task) Exec(cmdline string) (*Process, error) {
	return t.k.exec(t.p, cmdline)
}

// exec loads and starts cmdline. The first word of cmdline is the path of
// the executable, resolved against parent's working directory, or the root
// if parent is nil.
func (k *Kernel) exec(parent *Process, cmdline string) (*Process, error) {
	argv := strings.Fields(cmdline)
	if len(argv) == 0 {
		return nil, kernerr.ENOENT
	}

	var cwd fs.File
	if parent != nil {
		dir := parent.Cwd()
		defer dir.DecRef()
		cwd = dir.File
	}

	f, err := k.fs.Open(cwd, argv[0])
	if err != nil {
		return nil, err
	}
	exe := NewFileDescription(f, argv[0])
	cu := cleanup.Make(exe.DecRef)
	defer cu.Clean()

	prog, err := k.loadProgram(exe)
	if err != nil {
		log.Debugf("exec %q: %v", argv[0], err)
		return nil, err
	}
	exe.DenyWrite()
	cu.Add(exe.AllowWrite)

	// The child gets its own reference on its working directory.
	var dir fs.File
	if cwd != nil {
		dir, err = cwd.Reopen()
	} else {
		dir, err = k.fs.Open(nil, "/")
	}
	if err != nil {
		return nil, err
	}
	childCwd := NewFileDescription(dir, ".")
	cu.Add(childCwd.DecRef)

	p := &Process{
		k:        k,
		name:     argv[0],
		argv:     argv,
		parent:   parent,
		mm:       mm.NewMemoryManager(),
		fdTable:  NewFDTable(k.fdLimit),
		exited:   sync.NewEvent(),
		cwd:      childCwd,
		exe:      exe,
		children: make(map[ProcessID]*Process),
		status:   pintos.ExitKilled,
		tasks:    make(map[ThreadID]*Task),
		stackTop: hostarch.StackTop,
	}
	if i := strings.LastIndexByte(p.name, '/'); i >= 0 && i < len(p.name)-1 {
		p.name = p.name[i+1:]
	}
	cu.Add(func() { p.mm.Release() })

	stack, sp, err := k.loadImage(p)
	if err != nil {
		return nil, err
	}

	t := k.newTask(p, stack, sp)
	p.tasks[t.tid] = t

	if err := k.addProcess(p); err != nil {
		return nil, err
	}
	cu.Release()

	if parent != nil {
		parent.addChild(p)
	}
	log.Debugf("Started %v: %q", p, argv)
	go t.run(prog)
	return p, nil
}

// loadProgram reads the header of exe and returns the program it names.
func (k *Kernel) loadProgram(exe *FileDescription) (Program, error) {
	if exe.IsDir() {
		return nil, kernerr.EISDIR
	}
	hdr := make([]byte, maxExecHeader)
	n, err := exe.ReadAt(hdr, 0)
	if err != nil && err != io.EOF {
		return nil, err
	}
	name, err := parseExecutable(hdr[:n])
	if err != nil {
		return nil, err
	}
	prog, ok := k.LookupProgram(name)
	if !ok {
		return nil, kernerr.ENOEXEC
	}
	return prog, nil
}

// loadImage maps the data segment and the main thread's stack, and lays the
// arguments out on the stack. It returns the stack and the initial stack
// pointer.
func (k *Kernel) loadImage(p *Process) (hostarch.AddrRange, hostarch.Addr, error) {
	data, ok := hostarch.CodeBase.ToRange(uint64(k.dataPages * hostarch.PageSize))
	if !ok {
		return hostarch.AddrRange{}, 0, kernerr.ENOMEM
	}
	if err := p.mm.MapAnonymous(data, hostarch.ReadWrite); err != nil {
		return hostarch.AddrRange{}, 0, err
	}
	p.data = data
	stack, err := p.allocStack()
	if err != nil {
		return hostarch.AddrRange{}, 0, err
	}
	s := arch.Stack{IO: p.mm, Bottom: stack.End}
	if _, err := s.PushArgv(context.Background(), p.argv); err != nil {
		// The arguments do not fit in the stack.
		return hostarch.AddrRange{}, 0, kernerr.ENOMEM
	}
	return stack, s.Bottom, nil
}
