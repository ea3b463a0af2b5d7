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
	"os/signal"
	"time"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
	"pintrap.dev/pintrap/pintrap/config"
	"pintrap.dev/pintrap/pkg/log"
	"pintrap.dev/pintrap/pkg/metric"
	"pintrap.dev/pintrap/pkg/sentry/kernel"
)

// Run implements subcommands.Command for the "run" command.
type Run struct {
	// tick is the timer interrupt period. Zero disables the timer.
	tick time.Duration
}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "boot a kernel and run command lines in it"
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return `run [flags] <command line>... - boot a kernel, run each command line as a process and exit with the status of the first one.

Programs: cat, cp, echo, halt, ls, mkdir, rm. Example:

  pintrap run "mkdir /d" "ls /"
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Run) SetFlags(f *flag.FlagSet) {
	f.DurationVar(&r.tick, "tick", 0, "raise a timer interrupt with this period, e.g. 10ms. Zero disables the timer.")
}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() < 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	status := args[1].(*int32)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	s, err := r.run(ctx, conf, f.Args(), os.Stdin, os.Stdout)
	if err != nil {
		return Errorf("%v", err)
	}
	*status = s
	return subcommands.ExitSuccess
}

// run boots a kernel, starts every command line and waits for them. It
// returns the exit status of the first command line.
func (r *Run) run(ctx context.Context, conf *config.Config, cmdlines []string, stdin io.Reader, stdout io.Writer) (int32, error) {
	k, release, err := newKernel(conf, stdin, stdout)
	if err != nil {
		return 0, err
	}
	defer release()
	defer k.Halt()

	if r.tick > 0 {
		ticker := time.NewTicker(r.tick)
		defer ticker.Stop()
		go func() {
			for {
				select {
				case <-ticker.C:
					k.Tick()
				case <-k.HaltEvent().Done():
					return
				}
			}
		}()
	}

	procs := make([]*kernel.Process, 0, len(cmdlines))
	for _, cmdline := range cmdlines {
		p, err := k.Start(cmdline)
		if err != nil {
			return 0, fmt.Errorf("starting %q: %w", cmdline, err)
		}
		log.Infof("Started %v: %q", p, cmdline)
		procs = append(procs, p)
	}

	statuses := make([]int32, len(procs))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range procs {
		i, p := i, p
		g.Go(func() error {
			select {
			case <-p.Exited().Done():
			case <-k.HaltEvent().Done():
			case <-gctx.Done():
				return gctx.Err()
			}
			statuses[i] = p.ExitStatus()
			return nil
		})
	}
	// Children started by the command lines are waited for too.
	g.Go(func() error {
		done := make(chan struct{})
		go func() {
			k.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-gctx.Done():
			k.Halt()
			return gctx.Err()
		}
	})
	werr := g.Wait()

	if conf.MetricsFile != "" {
		if err := writeMetrics(conf.MetricsFile); err != nil {
			return 0, err
		}
	}
	if werr != nil {
		return 0, werr
	}
	if len(statuses) == 0 {
		return 0, nil
	}
	return statuses[0], nil
}

func writeMetrics(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating metrics file: %w", err)
	}
	if err := metric.WritePrometheus(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
