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

package cmd

import (
	"fmt"
	"io"

	"pintrap.dev/pintrap/pintrap/config"
	"pintrap.dev/pintrap/pkg/cleanup"
	"pintrap.dev/pintrap/pkg/log"
	"pintrap.dev/pintrap/pkg/sentry/fs"
	"pintrap.dev/pintrap/pkg/sentry/fsimpl/host"
	"pintrap.dev/pintrap/pkg/sentry/fsimpl/memfs"
	"pintrap.dev/pintrap/pkg/sentry/kernel"
	"pintrap.dev/pintrap/pkg/sentry/strace"
	"pintrap.dev/pintrap/pkg/sentry/syscalls/pintos"
	"pintrap.dev/pintrap/pkg/user/programs"
)

// openFileSystem returns the filesystem selected by conf and a function that
// releases it.
func openFileSystem(conf *config.Config) (fs.FileSystem, func(), error) {
	switch conf.FileSystem {
	case config.FileSystemMemory:
		return memfs.New(memfs.Options{}), func() {}, nil
	case config.FileSystemHost:
		fsys, err := host.New(conf.RootDir)
		if err != nil {
			return nil, nil, err
		}
		release := func() {
			if err := fsys.Release(); err != nil {
				log.Warningf("Releasing %q: %v", fsys.Root(), err)
			}
		}
		return fsys, release, nil
	}
	return nil, nil, fmt.Errorf("invalid filesystem type %v", conf.FileSystem)
}

// newKernel boots a kernel configured by conf with the built-in programs
// installed. The returned function releases the filesystem.
func newKernel(conf *config.Config, stdin io.Reader, stdout io.Writer) (*kernel.Kernel, func(), error) {
	fsys, release, err := openFileSystem(conf)
	if err != nil {
		return nil, nil, err
	}
	cu := cleanup.Make(release)
	defer cu.Clean()

	var stracer kernel.Stracer
	if conf.Strace {
		s := strace.New(conf.StraceLogSize)
		if err := s.Enable(conf.StraceSyscallNames()); err != nil {
			return nil, nil, err
		}
		stracer = s
	}

	k := &kernel.Kernel{}
	if err := k.Init(kernel.InitKernelArgs{
		FileSystem: fsys,
		Console:    kernel.NewConsole(stdin, stdout),
		Syscalls:   pintos.NewTable(),
		Stracer:    stracer,
		FDLimit:    conf.FDLimit,
		DataPages:  conf.DataPages,
	}); err != nil {
		return nil, nil, fmt.Errorf("initializing kernel: %w", err)
	}
	if err := programs.Install(k); err != nil {
		return nil, nil, fmt.Errorf("installing programs: %w", err)
	}
	return k, cu.Release(), nil
}
