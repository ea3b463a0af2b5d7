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
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"pintrap.dev/pintrap/pintrap/config"
	"pintrap.dev/pintrap/pkg/sentry/fsimpl/host"
	"pintrap.dev/pintrap/pkg/user/programs"
)

// Install implements subcommands.Command for the "install" command.
type Install struct{}

// Name implements subcommands.Command.Name.
func (*Install) Name() string {
	return "install"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Install) Synopsis() string {
	return "write executables for the built-in programs into the host root"
}

// Usage implements subcommands.Command.Usage.
func (*Install) Usage() string {
	return `install [program]... - write executables for the named programs, or all of them, into the root directory given by --root.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Install) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (i *Install) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config.Config)
	if conf.RootDir == "" {
		f.Usage()
		return subcommands.ExitUsageError
	}
	if err := install(conf.RootDir, f.Args(), os.Stdout); err != nil {
		return Errorf("%v", err)
	}
	return subcommands.ExitSuccess
}

// install writes the executables of names, or of every program if names is
// empty, into the host directory root.
func install(root string, names []string, out io.Writer) error {
	if len(names) == 0 {
		names = programs.Names()
	}
	for _, name := range names {
		if _, ok := programs.All[name]; !ok {
			return fmt.Errorf("unknown program %q", name)
		}
	}
	fsys, err := host.New(root)
	if err != nil {
		return err
	}
	defer fsys.Release()
	for _, name := range names {
		if err := programs.WriteExecutable(fsys, "/"+name, name); err != nil {
			return fmt.Errorf("installing %s: %w", name, err)
		}
		fmt.Fprintf(out, "Installed /%s\n", name)
	}
	return nil
}
