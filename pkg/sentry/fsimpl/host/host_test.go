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

package host

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sys/unix"
	"pintrap.dev/pintrap/pkg/errors/kernerr"
	"pintrap.dev/pintrap/pkg/sentry/fs"
)

func newFS(t *testing.T) *Filesystem {
	t.Helper()
	fsys, err := New(t.TempDir())
	if errors.Is(err, unix.ENOSYS) {
		t.Skipf("openat2 not supported: %v", err)
	}
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { fsys.Release() })
	return fsys
}

func readdirAll(t *testing.T, f fs.File) []string {
	t.Helper()
	var names []string
	for {
		name, err := f.Readdir()
		if err == io.EOF {
			sort.Strings(names)
			return names
		}
		if err != nil {
			t.Fatalf("Readdir failed: %v", err)
		}
		names = append(names, name)
	}
}

func TestCreateReadWrite(t *testing.T) {
	fsys := newFS(t)
	if err := fsys.Create(nil, "f", 3); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := fsys.Create(nil, "f", 3); !kernerr.Equals(kernerr.EEXIST, err) {
		t.Errorf("second Create = %v, want EEXIST", err)
	}
	f, err := fsys.Open(nil, "f")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()
	if got := f.Length(); got != 3 {
		t.Errorf("Length() = %d, want 3", got)
	}
	if n, err := f.Write([]byte("hello")); n != 5 || err != nil {
		t.Fatalf("Write = %d, %v, want 5, nil", n, err)
	}
	got, err := os.ReadFile(filepath.Join(fsys.Root(), "f"))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if diff := cmp.Diff([]byte("hello"), got); diff != "" {
		t.Errorf("host contents mismatch (-want +got):\n%s", diff)
	}
	f.Seek(1)
	buf := make([]byte, 8)
	n, err := f.Read(buf)
	if err != nil || string(buf[:n]) != "ello" {
		t.Errorf("Read = %q, %v, want \"ello\", nil", buf[:n], err)
	}
}

func TestConfinedToRoot(t *testing.T) {
	fsys := newFS(t)
	outside := filepath.Join(filepath.Dir(fsys.Root()), "outside")
	if err := os.WriteFile(outside, []byte("secret"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	defer os.Remove(outside)
	if _, err := fsys.Open(nil, "../outside"); !kernerr.Equals(kernerr.ENOENT, err) {
		t.Errorf("Open(../outside) = %v, want ENOENT", err)
	}
	if err := os.Symlink(outside, filepath.Join(fsys.Root(), "link")); err != nil {
		t.Fatalf("Symlink failed: %v", err)
	}
	if _, err := fsys.Open(nil, "link"); err == nil {
		t.Errorf("Open(link) succeeded, want an error")
	}
}

func TestDirectories(t *testing.T) {
	fsys := newFS(t)
	if err := fsys.Mkdir(nil, "d"); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	d, err := fsys.Open(nil, "d")
	if err != nil {
		t.Fatalf("Open(d) failed: %v", err)
	}
	defer d.Close()
	if !d.IsDir() {
		t.Errorf("IsDir() = false for a directory")
	}
	for _, n := range []string{"a", "b"} {
		if err := fsys.Create(d, n, 0); err != nil {
			t.Fatalf("Create(%q) failed: %v", n, err)
		}
	}
	if diff := cmp.Diff([]string{"a", "b"}, readdirAll(t, d)); diff != "" {
		t.Errorf("Readdir(d) mismatch (-want +got):\n%s", diff)
	}
	root, err := fsys.Open(d, "..")
	if err != nil {
		t.Fatalf("Open(..) failed: %v", err)
	}
	defer root.Close()
	if diff := cmp.Diff([]string{"d"}, readdirAll(t, root)); diff != "" {
		t.Errorf("Readdir(/) mismatch (-want +got):\n%s", diff)
	}
	if _, err := d.Write([]byte("x")); !kernerr.Equals(kernerr.EISDIR, err) {
		t.Errorf("Write to directory = %v, want EISDIR", err)
	}
	if err := fsys.Remove(nil, "d"); !kernerr.Equals(kernerr.ENOTEMPTY, err) {
		t.Errorf("Remove(non-empty) = %v, want ENOTEMPTY", err)
	}
	if err := fsys.Remove(nil, LockFile); err != kernerr.EBUSY {
		t.Errorf("Remove(lock file) = %v, want EBUSY", err)
	}
}

func TestDenyWriteAndRemoveOpen(t *testing.T) {
	fsys := newFS(t)
	if err := fsys.Create(nil, "exe", 4); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	exe, err := fsys.Open(nil, "exe")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	exe.DenyWrite()
	w, err := exe.Reopen()
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	if n, err := w.Write([]byte("x")); n != 0 || err != nil {
		t.Errorf("Write to denied file = %d, %v, want 0, nil", n, err)
	}
	exe.Close()
	if err := fsys.Remove(nil, "exe"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if n, err := w.Write([]byte("x")); n != 1 || err != nil {
		t.Errorf("Write to removed open file = %d, %v, want 1, nil", n, err)
	}
	w.Close()
}

func TestRootLocked(t *testing.T) {
	fsys := newFS(t)
	if _, err := New(fsys.Root()); err == nil {
		t.Fatalf("second New on a locked root succeeded")
	}
}
