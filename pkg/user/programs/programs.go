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

// Package programs contains the built-in user programs.
package programs

import (
	"fmt"
	"sort"
	"strings"

	"pintrap.dev/pintrap/pkg/errors/kernerr"
	"pintrap.dev/pintrap/pkg/sentry/fs"
	"pintrap.dev/pintrap/pkg/sentry/kernel"
	"pintrap.dev/pintrap/pkg/user"
)

// All maps program names to the programs.
var All = map[string]kernel.Program{
	"cat":   user.Main(cat),
	"cp":    user.Main(cp),
	"echo":  user.Main(echo),
	"halt":  user.Main(halt),
	"ls":    user.Main(ls),
	"mkdir": user.Main(mkdir),
	"rm":    user.Main(rm),
}

// Names returns the program names in order.
func Names() []string {
	names := make([]string, 0, len(All))
	for name := range All {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Register registers every program with k.
func Register(k *kernel.Kernel) error {
	for _, name := range Names() {
		if err := k.RegisterProgram(name, All[name]); err != nil {
			return err
		}
	}
	return nil
}

// WriteExecutables writes an executable for every program into the root
// directory of fsys. Existing executables are rewritten.
func WriteExecutables(fsys fs.FileSystem) error {
	for _, name := range Names() {
		if err := WriteExecutable(fsys, "/"+name, name); err != nil {
			return fmt.Errorf("installing %s: %w", name, err)
		}
	}
	return nil
}

// WriteExecutable writes an executable running the program registered as
// name at path, an absolute path in fsys.
func WriteExecutable(fsys fs.FileSystem, path, name string) error {
	image := kernel.ExecutableImage(name)
	if err := fsys.Create(nil, path, 0); err != nil && !kernerr.Equals(kernerr.EEXIST, err) {
		return err
	}
	f, err := fsys.Open(nil, path)
	if err != nil {
		return err
	}
	defer f.Close()
	n, err := f.WriteAt(image, 0)
	if err != nil {
		return err
	}
	if n != len(image) {
		// The file is in use by a running process.
		return kernerr.ETXTBSY
	}
	return nil
}

// Install registers every program with k and writes its executables into
// k's filesystem.
func Install(k *kernel.Kernel) error {
	if err := Register(k); err != nil {
		return err
	}
	return WriteExecutables(k.FileSystem())
}

func echo(e *user.Env) int32 {
	e.Printf("%s\n", strings.Join(e.Args()[1:], " "))
	return 0
}

func halt(e *user.Env) int32 {
	e.Halt()
	return 0
}

func cat(e *user.Env) int32 {
	status := int32(0)
	for _, path := range e.Args()[1:] {
		fd := e.Open(path)
		if fd < 0 {
			e.Printf("cat: %s: open failed\n", path)
			status = 1
			continue
		}
		data, ok := e.ReadAll(fd)
		e.Close(fd)
		e.WriteBytes(1, data)
		if !ok {
			e.Printf("cat: %s: read failed\n", path)
			status = 1
		}
	}
	return status
}

func cp(e *user.Env) int32 {
	args := e.Args()
	if len(args) != 3 {
		e.Printf("usage: cp SOURCE DEST\n")
		return 1
	}
	src, dst := args[1], args[2]
	in := e.Open(src)
	if in < 0 {
		e.Printf("cp: %s: open failed\n", src)
		return 1
	}
	data, ok := e.ReadAll(in)
	e.Close(in)
	if !ok {
		e.Printf("cp: %s: read failed\n", src)
		return 1
	}
	if !e.Create(dst, 0) {
		e.Printf("cp: %s: create failed\n", dst)
		return 1
	}
	out := e.Open(dst)
	if out < 0 {
		e.Printf("cp: %s: open failed\n", dst)
		return 1
	}
	defer e.Close(out)
	if n := e.WriteBytes(out, data); int(n) != len(data) {
		e.Printf("cp: %s: write failed\n", dst)
		return 1
	}
	return 0
}

func ls(e *user.Env) int32 {
	paths := e.Args()[1:]
	if len(paths) == 0 {
		paths = []string{"."}
	}
	status := int32(0)
	for _, path := range paths {
		fd := e.Open(path)
		if fd < 0 {
			e.Printf("ls: %s: open failed\n", path)
			status = 1
			continue
		}
		if !e.Isdir(fd) {
			e.Printf("%s\n", path)
			e.Close(fd)
			continue
		}
		if len(paths) > 1 {
			e.Printf("%s:\n", path)
		}
		names, _ := e.ReaddirAll(fd)
		for _, name := range names {
			e.Printf("%s\n", name)
		}
		e.Close(fd)
	}
	return status
}

func mkdir(e *user.Env) int32 {
	status := int32(0)
	for _, path := range e.Args()[1:] {
		if !e.Mkdir(path) {
			e.Printf("mkdir: %s: failed\n", path)
			status = 1
		}
	}
	return status
}

func rm(e *user.Env) int32 {
	status := int32(0)
	for _, path := range e.Args()[1:] {
		if !e.Remove(path) {
			e.Printf("rm: %s: failed\n", path)
			status = 1
		}
	}
	return status
}
