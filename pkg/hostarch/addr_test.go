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

package hostarch

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAddLength(t *testing.T) {
	if end, ok := Addr(0x1000).AddLength(0x10); !ok || end != 0x1010 {
		t.Errorf("AddLength(0x10) = %v, %t, want 0x1010, true", end, ok)
	}
	if _, ok := Addr(0xfffffff0).AddLength(0x20); ok {
		t.Errorf("AddLength overflow: got ok, want !ok")
	}
	if _, ok := Addr(0).AddLength(1 << 33); ok {
		t.Errorf("AddLength(1<<33): got ok, want !ok")
	}
}

func TestRounding(t *testing.T) {
	for _, tc := range []struct {
		addr Addr
		down Addr
		up   Addr
	}{
		{0, 0, 0},
		{1, 0, PageSize},
		{PageSize, PageSize, PageSize},
		{PageSize + 1, PageSize, 2 * PageSize},
	} {
		if got := tc.addr.RoundDown(); got != tc.down {
			t.Errorf("%v.RoundDown() = %v, want %v", tc.addr, got, tc.down)
		}
		if got, ok := tc.addr.RoundUp(); !ok || got != tc.up {
			t.Errorf("%v.RoundUp() = %v, %t, want %v, true", tc.addr, got, ok, tc.up)
		}
	}
	if _, ok := Addr(0xffffffff).RoundUp(); ok {
		t.Errorf("RoundUp of the last page: got ok, want !ok")
	}
}

func TestIsUser(t *testing.T) {
	if !(PhysBase - 1).IsUser() {
		t.Errorf("PhysBase-1 is not a user address")
	}
	if PhysBase.IsUser() {
		t.Errorf("PhysBase is a user address")
	}
	if (AddrRange{PhysBase - 4, PhysBase + 4}).IsUser() {
		t.Errorf("range straddling PhysBase is a user range")
	}
}

func TestPages(t *testing.T) {
	var got []Addr
	AddrRange{0x1ff0, 0x3001}.Pages(func(p Addr) bool {
		got = append(got, p)
		return true
	})
	want := []Addr{0x1000, 0x2000, 0x3000}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Pages mismatch (-want +got):\n%s", diff)
	}

	got = nil
	AddrRange{0x1000, 0x1000}.Pages(func(p Addr) bool {
		got = append(got, p)
		return true
	})
	if len(got) != 0 {
		t.Errorf("empty range visited pages %v", got)
	}
}
