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

package refs

import (
	"strings"
	"testing"
)

func TestDestructorRunsOnce(t *testing.T) {
	var r AtomicRefCount
	destroyed := 0
	destroy := func() { destroyed++ }

	r.IncRef()
	if got := r.ReadRefs(); got != 2 {
		t.Fatalf("ReadRefs() = %d, want 2", got)
	}
	r.DecRefWithDestructor(destroy)
	if destroyed != 0 {
		t.Fatalf("destructor ran with a reference outstanding")
	}
	r.DecRefWithDestructor(destroy)
	if destroyed != 1 {
		t.Fatalf("destructor ran %d times, want 1", destroyed)
	}
	if r.TryIncRef() {
		t.Errorf("TryIncRef succeeded on a destroyed object")
	}
}

func TestDecRefPastZeroPanics(t *testing.T) {
	var r AtomicRefCount
	r.DecRef()
	defer func() {
		if recover() == nil {
			t.Errorf("DecRef on a destroyed object did not panic")
		}
	}()
	r.DecRef()
}

func TestLeakCheck(t *testing.T) {
	SetLeakMode(LeaksLogWarning)
	defer SetLeakMode(NoLeakChecking)

	before := Leaked()
	var a, b AtomicRefCount
	a.EnableLeakCheck("a")
	b.EnableLeakCheck("b")
	if got := Leaked(); got != before+2 {
		t.Fatalf("Leaked() = %d, want %d", got, before+2)
	}
	a.DecRef()
	if got := Leaked(); got != before+1 {
		t.Errorf("Leaked() after release = %d, want %d", got, before+1)
	}
	b.DecRef()
	if got := Leaked(); got != before {
		t.Errorf("Leaked() after releasing all = %d, want %d", got, before)
	}
}

func TestLeakReport(t *testing.T) {
	SetLeakMode(LeaksLogWarning)
	defer SetLeakMode(NoLeakChecking)

	var a, b, c AtomicRefCount
	a.EnableLeakCheck("test.File")
	b.EnableLeakCheck("test.File")
	c.EnableLeakCheck("test.Dir")
	defer func() {
		a.DecRef()
		b.DecRef()
		c.DecRef()
	}()

	report := leakReport()
	for _, want := range []string{"  test.Dir: 1\n", "  test.File: 2\n", "reference count of 1 instead of 0"} {
		if !strings.Contains(report, want) {
			t.Errorf("leakReport() = %q, missing %q", report, want)
		}
	}
	if dir, file := strings.Index(report, "test.Dir:"), strings.Index(report, "test.File:"); dir > file {
		t.Errorf("leakReport() owners not sorted:\n%s", report)
	}
}

func TestLeakModeFlag(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want LeakMode
	}{
		{"disabled", NoLeakChecking},
		{"log-names", LeaksLogWarning},
		{"panic", LeaksPanic},
	} {
		var m LeakMode
		if err := m.Set(tc.in); err != nil {
			t.Errorf("Set(%q): %v", tc.in, err)
			continue
		}
		if m != tc.want {
			t.Errorf("Set(%q) = %v, want %v", tc.in, m, tc.want)
		}
	}
	var m LeakMode
	if err := m.Set("bogus"); err == nil {
		t.Errorf("Set(bogus) succeeded")
	}
}
