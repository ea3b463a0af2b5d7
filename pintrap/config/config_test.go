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

package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"pintrap.dev/pintrap/pkg/refs"
)

func newFlagSet() *flag.FlagSet {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	return testFlags
}

func TestDefault(t *testing.T) {
	c, err := NewFromFlags(newFlagSet())
	if err != nil {
		t.Fatal(err)
	}
	// All defaults doesn't require setting flags.
	if flags := c.ToFlags(); len(flags) > 0 {
		t.Errorf("default flags not set correctly for: %s", flags)
	}
	if c.FileSystem != FileSystemMemory {
		t.Errorf("FileSystem=%v, want: %v", c.FileSystem, FileSystemMemory)
	}
}

func TestFromFlags(t *testing.T) {
	testFlags := newFlagSet()
	for name, value := range map[string]string{
		"root":            "some-path",
		"fs":              "host",
		"debug":           "true",
		"fdlimit":         "16",
		"ref-leak-mode":   "panic",
		"strace-syscalls": "open,close",
	} {
		if err := testFlags.Set(name, value); err != nil {
			t.Errorf("Flag set: %v", err)
		}
	}

	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	if want := "some-path"; c.RootDir != want {
		t.Errorf("RootDir=%v, want: %v", c.RootDir, want)
	}
	if want := FileSystemHost; c.FileSystem != want {
		t.Errorf("FileSystem=%v, want: %v", c.FileSystem, want)
	}
	if want := true; c.Debug != want {
		t.Errorf("Debug=%v, want: %v", c.Debug, want)
	}
	if want := 16; c.FDLimit != want {
		t.Errorf("FDLimit=%v, want: %v", c.FDLimit, want)
	}
	if want := refs.LeaksPanic; c.ReferenceLeak != want {
		t.Errorf("ReferenceLeak=%v, want: %v", c.ReferenceLeak, want)
	}
	if diff := cmp.Diff([]string{"open", "close"}, c.StraceSyscallNames()); diff != "" {
		t.Errorf("StraceSyscallNames mismatch (-want +got):\n%s", diff)
	}
}

func TestToFlagsFromFlags(t *testing.T) {
	testFlags := newFlagSet()
	testFlags.Set("root", "some-path")
	testFlags.Set("debug", "true")
	testFlags.Set("strace", "false") // Matches default value.
	testFlags.Set("data-pages", "4")
	testFlags.Set("fs", "host")
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"--root=some-path", "--fs=host", "--debug=true", "--data-pages=4"}
	if diff := cmp.Diff(want, c.ToFlags()); diff != "" {
		t.Errorf("ToFlags mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name  string
		flags map[string]string
	}{
		{name: "host-without-root", flags: map[string]string{"fs": "host"}},
		{name: "bad-log-format", flags: map[string]string{"log-format": "xml"}},
		{name: "bad-debug-log-format", flags: map[string]string{"debug-log-format": "json-k8s"}},
		{name: "negative-data-pages", flags: map[string]string{"data-pages": "-1"}},
		{name: "unknown-syscall", flags: map[string]string{"strace-syscalls": "open,fork"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			testFlags := newFlagSet()
			for name, value := range tc.flags {
				if err := testFlags.Set(name, value); err != nil {
					t.Fatalf("Flag set: %v", err)
				}
			}
			if _, err := NewFromFlags(testFlags); err == nil {
				t.Errorf("NewFromFlags succeeded, want error")
			}
		})
	}
}

func TestInvalidFlagValues(t *testing.T) {
	testFlags := newFlagSet()
	if err := testFlags.Set("fs", "nfs"); err == nil {
		t.Errorf("--fs=nfs accepted")
	}
	if err := testFlags.Set("ref-leak-mode", "sometimes"); err == nil {
		t.Errorf("--ref-leak-mode=sometimes accepted")
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestConfigFile(t *testing.T) {
	for _, tc := range []struct {
		name    string
		content string
	}{
		{
			name: "pintrap.toml",
			content: `
debug = true
fdlimit = 32
strace-syscalls = ["read", "write"]
log-format = "json"
`,
		},
		{
			name: "pintrap.yaml",
			content: `
debug: true
fdlimit: 32
strace-syscalls: [read, write]
log-format: json
`,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			testFlags := newFlagSet()
			testFlags.Set("config", writeFile(t, tc.name, tc.content))
			// Explicit flags win over the file.
			testFlags.Set("fdlimit", "8")

			c, err := NewFromFlags(testFlags)
			if err != nil {
				t.Fatal(err)
			}
			if !c.Debug {
				t.Errorf("Debug=false, want: true")
			}
			if want := 8; c.FDLimit != want {
				t.Errorf("FDLimit=%v, want: %v", c.FDLimit, want)
			}
			if want := "read,write"; c.StraceSyscalls != want {
				t.Errorf("StraceSyscalls=%q, want: %q", c.StraceSyscalls, want)
			}
			if want := "json"; c.LogFormat != want {
				t.Errorf("LogFormat=%q, want: %q", c.LogFormat, want)
			}
		})
	}
}

func TestConfigFileErrors(t *testing.T) {
	for _, tc := range []struct {
		name    string
		file    string
		content string
		want    string
	}{
		{name: "unknown-flag", file: "c.toml", content: "platform = \"kvm\"\n", want: "not found"},
		{name: "bad-value", file: "c.yaml", content: "fdlimit: many\n", want: "fdlimit"},
		{name: "nested", file: "c.yml", content: "config: other.yml\n", want: "nested"},
		{name: "extension", file: "c.json", content: "{}", want: "unknown extension"},
		{name: "syntax", file: "c.toml", content: "debug = = true\n", want: "decode"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			testFlags := newFlagSet()
			testFlags.Set("config", writeFile(t, tc.file, tc.content))
			_, err := NewFromFlags(testFlags)
			if err == nil {
				t.Fatalf("NewFromFlags succeeded, want error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("NewFromFlags error %q does not contain %q", err, tc.want)
			}
		})
	}
}

func TestEmptyConfigFile(t *testing.T) {
	testFlags := newFlagSet()
	testFlags.Set("config", writeFile(t, "empty.yaml", ""))
	if _, err := NewFromFlags(testFlags); err != nil {
		t.Errorf("NewFromFlags with an empty file: %v", err)
	}
}

func TestOverride(t *testing.T) {
	testFlags := newFlagSet()
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Override(testFlags, "strace", "true"); err != nil {
		t.Fatalf("Override(strace) failed: %v", err)
	}
	if !c.Strace {
		t.Errorf("Strace=false after override")
	}

	// An override that leaves the config invalid is rejected and leaves c
	// unchanged.
	if err := c.Override(testFlags, "fs", "host"); err == nil {
		t.Errorf("Override(fs=host) without a root succeeded")
	}
	if c.FileSystem != FileSystemMemory {
		t.Errorf("FileSystem=%v after failed override, want: %v", c.FileSystem, FileSystemMemory)
	}

	if err := c.Override(testFlags, "no-such-flag", "1"); err == nil {
		t.Errorf("Override(no-such-flag) succeeded")
	}
}

func TestCopy(t *testing.T) {
	c := &Config{
		RootDir:        "some-path",
		FileSystem:     FileSystemHost,
		StraceSyscalls: "open",
		ReferenceLeak:  refs.LeaksLogWarning,
	}
	cp := c.Copy()
	if diff := cmp.Diff(c, cp); diff != "" {
		t.Errorf("Copy mismatch (-want +got):\n%s", diff)
	}
	cp.RootDir = "other"
	if c.RootDir != "some-path" {
		t.Errorf("modifying the copy changed the original")
	}
}
