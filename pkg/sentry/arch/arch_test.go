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

package arch

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"pintrap.dev/pintrap/pkg/errors/kernerr"
	"pintrap.dev/pintrap/pkg/hostarch"
	"pintrap.dev/pintrap/pkg/usermem"
)

func TestSyscallFromStack(t *testing.T) {
	ctx := context.Background()
	mem := &usermem.BytesIO{Bytes: make([]byte, 64)}
	s := Stack{IO: mem, Bottom: 64}
	// Pushed right to left, so the number ends up on top.
	for _, w := range []uint32{300, 0x20, 2, 9} {
		if err := s.Push(ctx, w); err != nil {
			t.Fatalf("Push(%d): %v", w, err)
		}
	}
	f := NewUserFrame(s.Bottom)

	sysno, err := SyscallNo(ctx, mem, &f)
	if err != nil || sysno != 9 {
		t.Fatalf("SyscallNo = %d, %v, want 9, nil", sysno, err)
	}
	args, err := SyscallArgs(ctx, mem, &f, 3)
	if err != nil {
		t.Fatalf("SyscallArgs: %v", err)
	}
	if args[0].Int() != 2 || args[1].Pointer() != 0x20 || args[2].SizeT() != 300 {
		t.Errorf("SyscallArgs = %+v, want [2 0x20 300]", args)
	}

	// Only the declared number of words is read.
	f.ESP = 60
	if _, err := SyscallArgs(ctx, mem, &f, 0); err != nil {
		t.Errorf("SyscallArgs(0) with the number on the last word: %v", err)
	}
	if _, err := SyscallArgs(ctx, mem, &f, 1); !kernerr.Equals(kernerr.EFAULT, err) {
		t.Errorf("SyscallArgs(1) past the end of memory: got %v, want EFAULT", err)
	}

	// A frame reaching PhysBase is refused before any word is read.
	f.ESP = hostarch.PhysBase - 8
	if ar, ok := SyscallFrameRange(&f, 2); !ok || ar.IsUser() {
		t.Errorf("SyscallFrameRange(2) = %v, %t, want a range past PhysBase", ar, ok)
	}
	if _, err := SyscallArgs(ctx, mem, &f, 2); !kernerr.Equals(kernerr.EFAULT, err) {
		t.Errorf("SyscallArgs(2) crossing PhysBase: got %v, want EFAULT", err)
	}
}

func TestNegativeArgument(t *testing.T) {
	a := SyscallArgument{Value: uintptr(0xffffffff)}
	if a.Int() != -1 {
		t.Errorf("Int() = %d, want -1", a.Int())
	}
	if a.Uint() != 0xffffffff {
		t.Errorf("Uint() = %#x, want 0xffffffff", a.Uint())
	}
}

func TestFramePrivilege(t *testing.T) {
	f := NewUserFrame(0x1000)
	if f.CPL() != 3 {
		t.Errorf("user frame CPL = %d, want 3", f.CPL())
	}
	f.CS = KernelCS
	if f.CPL() != 0 {
		t.Errorf("kernel frame CPL = %d, want 0", f.CPL())
	}
}

func TestArgvRoundTrip(t *testing.T) {
	ctx := context.Background()
	mem := &usermem.BytesIO{Bytes: make([]byte, 256)}
	s := Stack{IO: mem, Bottom: 256}
	argv := []string{"echo", "x", "hello"}
	layout, err := s.PushArgv(ctx, argv)
	if err != nil {
		t.Fatalf("PushArgv: %v", err)
	}
	if layout.Argc != 3 {
		t.Errorf("Argc = %d, want 3", layout.Argc)
	}
	if s.Bottom%4 != 0 {
		t.Errorf("stack pointer %v is not word aligned", s.Bottom)
	}
	got, err := ReadArgv(ctx, mem, s.Bottom)
	if err != nil {
		t.Fatalf("ReadArgv: %v", err)
	}
	if diff := cmp.Diff(argv, got); diff != "" {
		t.Errorf("argv mismatch (-want +got):\n%s", diff)
	}
	// argv[argc] is NULL.
	null, err := usermem.CopyUint32In(ctx, mem, layout.Argv+hostarch.Addr(4*layout.Argc), usermem.IOOpts{})
	if err != nil || null != 0 {
		t.Errorf("argv[argc] = %#x, %v, want 0, nil", null, err)
	}
}

func TestPushOverflow(t *testing.T) {
	s := Stack{IO: &usermem.BytesIO{Bytes: make([]byte, 8)}, Bottom: 2}
	if err := s.Push(context.Background(), 1); !kernerr.Equals(kernerr.EFAULT, err) {
		t.Errorf("Push below address zero: got %v, want EFAULT", err)
	}
}
