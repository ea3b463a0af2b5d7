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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sys/unix"
	"pintrap.dev/pintrap/pintrap/config"
	"pintrap.dev/pintrap/pkg/abi/pintos"
	"pintrap.dev/pintrap/pkg/sentry/kernel/kerneltest"
	syscalls "pintrap.dev/pintrap/pkg/sentry/syscalls/pintos"
	"pintrap.dev/pintrap/pkg/user/programs"
)

func newConfig(t *testing.T, flags map[string]string) *config.Config {
	t.Helper()
	flagSet := flag.NewFlagSet("test", flag.ContinueOnError)
	config.RegisterFlags(flagSet)
	for name, value := range flags {
		if err := flagSet.Set(name, value); err != nil {
			t.Fatalf("Flag set: %v", err)
		}
	}
	conf, err := config.NewFromFlags(flagSet)
	if err != nil {
		t.Fatalf("NewFromFlags failed: %v", err)
	}
	return conf
}

func runCmdlines(t *testing.T, r *Run, conf *config.Config, cmdlines ...string) (int32, string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), kerneltest.Timeout)
	defer cancel()
	out := &kerneltest.Buffer{}
	status, err := r.run(ctx, conf, cmdlines, strings.NewReader(""), out)
	if err != nil {
		t.Fatalf("run(%q) failed: %v", cmdlines, err)
	}
	return status, out.String()
}

func TestRun(t *testing.T) {
	for _, tc := range []struct {
		name     string
		cmdlines []string
		status   int32
		out      string
	}{
		{
			name:     "echo",
			cmdlines: []string{"echo hello  world"},
			out:      "hello world\necho: exit(0)\n",
		},
		{
			name:     "status",
			cmdlines: []string{"cat /missing"},
			status:   1,
			out:      "cat: /missing: open failed\ncat: exit(1)\n",
		},
		{
			name:     "halt",
			cmdlines: []string{"halt"},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			status, out := runCmdlines(t, &Run{}, newConfig(t, nil), tc.cmdlines...)
			if status != tc.status {
				t.Errorf("status = %d, want %d", status, tc.status)
			}
			if diff := cmp.Diff(tc.out, out); diff != "" {
				t.Errorf("output mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRunConcurrent(t *testing.T) {
	status, out := runCmdlines(t, &Run{}, newConfig(t, nil), "cat /missing", "mkdir /a", "mkdir /b")
	if status != 1 {
		t.Errorf("status = %d, want the status of the first command line, 1", status)
	}
	for _, want := range []string{"cat: exit(1)\n", "mkdir: exit(0)\n"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q does not contain %q", out, want)
		}
	}
	if got := strings.Count(out, "mkdir: exit(0)\n"); got != 2 {
		t.Errorf("%d mkdir processes exited, want 2", got)
	}
}

func TestRunTick(t *testing.T) {
	status, out := runCmdlines(t, &Run{tick: time.Millisecond}, newConfig(t, nil), "echo tick")
	if status != 0 || out != "tick\necho: exit(0)\n" {
		t.Errorf("run = %d, %q, want 0, %q", status, out, "tick\necho: exit(0)\n")
	}
}

func TestRunBadCommandLine(t *testing.T) {
	for _, cmdline := range []string{"", "nosuch", "/"} {
		ctx, cancel := context.WithTimeout(context.Background(), kerneltest.Timeout)
		_, err := (&Run{}).run(ctx, newConfig(t, nil), []string{cmdline}, strings.NewReader(""), &kerneltest.Buffer{})
		cancel()
		if err == nil {
			t.Errorf("run(%q) succeeded, want error", cmdline)
		}
	}
}

func TestRunMetrics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.txt")
	conf := newConfig(t, map[string]string{"metrics-file": path})
	runCmdlines(t, &Run{}, conf, "echo metrics")
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"# TYPE pintrap_kernel_syscalls counter",
		`pintrap_kernel_syscalls{sysno="write"}`,
		`pintrap_kernel_syscalls{sysno="exit"}`,
	} {
		if !bytes.Contains(b, []byte(want)) {
			t.Errorf("metrics do not contain %q:\n%s", want, b)
		}
	}
}

func TestInstallAndRunOnHost(t *testing.T) {
	root := t.TempDir()
	var out bytes.Buffer
	err := install(root, []string{"echo", "ls"}, &out)
	if errors.Is(err, unix.ENOSYS) {
		t.Skipf("openat2 not supported: %v", err)
	}
	if err != nil {
		t.Fatalf("install failed: %v", err)
	}
	if want := "Installed /echo\nInstalled /ls\n"; out.String() != want {
		t.Errorf("install output = %q, want %q", out.String(), want)
	}
	for _, name := range []string{"echo", "ls"} {
		if _, err := os.Stat(filepath.Join(root, name)); err != nil {
			t.Errorf("executable %s not installed: %v", name, err)
		}
	}
	if err := install(root, []string{"sh"}, &out); err == nil {
		t.Errorf("install(sh) succeeded")
	}

	conf := newConfig(t, map[string]string{"fs": "host", "root": root})
	status, got := runCmdlines(t, &Run{}, conf, "mkdir /dir")
	if status != 0 || got != "mkdir: exit(0)\n" {
		t.Errorf("mkdir = %d, %q", status, got)
	}
	if fi, err := os.Stat(filepath.Join(root, "dir")); err != nil || !fi.IsDir() {
		t.Errorf("/dir not created on the host: %v", err)
	}

	// Every program is installed when the kernel boots.
	status, got = runCmdlines(t, &Run{}, conf, "ls /")
	if status != 0 {
		t.Errorf("ls status = %d, want 0", status)
	}
	for _, name := range append(programs.Names(), "dir") {
		if !strings.Contains(got, name+"\n") {
			t.Errorf("ls output %q does not list %s", got, name)
		}
	}
}

func TestSyscallDocs(t *testing.T) {
	docs := syscallDocs(syscalls.NewTable())
	if len(docs) != pintos.NumSyscalls {
		t.Fatalf("got %d syscalls, want %d", len(docs), pintos.NumSyscalls)
	}
	for i, want := range []SyscallDoc{
		{Num: 0, Name: "halt", Args: 0, Result: "noreturn"},
		{Num: 1, Name: "exit", Args: 1, Result: "noreturn"},
		{Num: 6, Name: "open", Args: 1, Result: "int"},
	} {
		if diff := cmp.Diff(want, docs[want.Num]); diff != "" {
			t.Errorf("doc %d mismatch (-want +got):\n%s", i, diff)
		}
	}

	var buf bytes.Buffer
	if err := outputJSON(&buf, docs); err != nil {
		t.Fatal(err)
	}
	var decoded []SyscallDoc
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if diff := cmp.Diff(docs, decoded); diff != "" {
		t.Errorf("JSON round trip mismatch (-want +got):\n%s", diff)
	}

	buf.Reset()
	if err := outputCSV(&buf, docs); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != pintos.NumSyscalls+1 || lines[0] != "Num,Name,Args,Result" || lines[20] != "19,inumber,1,int" {
		t.Errorf("unexpected CSV output:\n%s", buf.String())
	}

	buf.Reset()
	if err := outputTable(&buf, docs); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), "NUM") || !strings.Contains(buf.String(), "readdir") {
		t.Errorf("unexpected table output:\n%s", buf.String())
	}
}
