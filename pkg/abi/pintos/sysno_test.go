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

package pintos

import "testing"

// TestSysnoABI pins the numeric values; changing any of them breaks every
// user program built against the ABI.
func TestSysnoABI(t *testing.T) {
	want := []string{
		"halt", "exit", "exec", "wait", "create", "remove", "open",
		"filesize", "read", "write", "seek", "tell", "close", "mmap",
		"munmap", "chdir", "mkdir", "readdir", "isdir", "inumber",
	}
	if len(want) != NumSyscalls {
		t.Fatalf("NumSyscalls = %d, want %d", NumSyscalls, len(want))
	}
	for i, name := range want {
		s := Sysno(i)
		if got := s.String(); got != name {
			t.Errorf("Sysno(%d).String() = %q, want %q", i, got, name)
		}
		if got, ok := SysnoByName(name); !ok || got != s {
			t.Errorf("SysnoByName(%q) = %v, %t, want %v, true", name, got, ok, s)
		}
	}
	if Sysno(NumSyscalls).Valid() {
		t.Errorf("Sysno(%d).Valid() = true, want false", NumSyscalls)
	}
	if got := Sysno(99).String(); got != "sys_99" {
		t.Errorf("Sysno(99).String() = %q, want sys_99", got)
	}
}

func TestSysnoArgs(t *testing.T) {
	for _, tc := range []struct {
		sysno Sysno
		args  int
	}{
		{SYS_HALT, 0},
		{SYS_EXIT, 1},
		{SYS_CREATE, 2},
		{SYS_READ, 3},
		{SYS_WRITE, 3},
		{SYS_READDIR, 2},
		{SYS_INUMBER, 1},
	} {
		if got := tc.sysno.Args(); got != tc.args {
			t.Errorf("%v.Args() = %d, want %d", tc.sysno, got, tc.args)
		}
	}
}
