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

package kernel

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"
	"pintrap.dev/pintrap/pkg/errors/kernerr"
	"pintrap.dev/pintrap/pkg/sentry/fsimpl/memfs"
)

const (
	// maxFD is the maximum number of entries to create in the table.
	maxFD = 2 * 1024
)

func runTest(t testing.TB, fn func(fdTable *FDTable, newFile func() *FileDescription)) {
	t.Helper() // Don't show in stacks.

	fsys := memfs.New(memfs.Options{})
	if err := fsys.Create(nil, "/file", 0); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	newFile := func() *FileDescription {
		f, err := fsys.Open(nil, "/file")
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		return NewFileDescription(f, "/file")
	}
	fn(NewFDTable(maxFD), newFile)
}

// TestFDTableMany allocates maxFD entries, i.e. maxes out the table, until
// there is no room, then makes sure that removing one makes room for exactly
// one more, under a fresh handle.
func TestFDTableMany(t *testing.T) {
	runTest(t, func(fdTable *FDTable, newFile func() *FileDescription) {
		for i := 0; i < maxFD; i++ {
			if _, err := fdTable.NewFD(newFile()); err != nil {
				t.Fatalf("Allocated %v FDs but wanted to allocate %v: %v", i, maxFD, err)
			}
		}

		file := newFile()
		if _, err := fdTable.NewFD(file); !kernerr.Equals(kernerr.EMFILE, err) {
			t.Fatalf("fdTable.NewFD in full table: got %v, wanted EMFILE", err)
		}

		fdTable.Remove(2).DecRef()
		fd, err := fdTable.NewFD(file)
		if err != nil {
			t.Fatalf("fdTable.NewFD after Remove: got %v, wanted nil", err)
		}
		if want := int32(2 + maxFD); fd != want {
			t.Fatalf("fdTable.NewFD after Remove: got fd %d, wanted %d", fd, want)
		}
		fdTable.RemoveAll()
	})
}

// TestFDTable does a set of simple tests to make sure simple adds, removes,
// Gets and DecRefs work.
func TestFDTable(t *testing.T) {
	runTest(t, func(fdTable *FDTable, newFile func() *FileDescription) {
		file := newFile()
		if fd, err := fdTable.NewFD(file); err != nil || fd != 2 {
			t.Fatalf("fdTable.NewFD: got %d, %v, wanted 2, nil", fd, err)
		}

		if ref := fdTable.Get(2); ref == nil {
			t.Fatalf("fdTable.Get(2): got nil, wanted %v", file)
		} else {
			if got := ref.ReadRefs(); got != 2 {
				t.Errorf("ReadRefs while held: got %d, wanted 2", got)
			}
			ref.DecRef()
		}

		for _, fd := range []int32{-1, 0, 1, 3} {
			if ref := fdTable.Get(fd); ref != nil {
				t.Errorf("fdTable.Get(%d): got %v, wanted nil", fd, ref)
				ref.DecRef()
			}
		}

		if removed := fdTable.Remove(2); removed == nil {
			t.Fatalf("fdTable.Remove(2): got nil, wanted the file")
		} else {
			removed.DecRef()
		}
		if removed := fdTable.Remove(2); removed != nil {
			t.Fatalf("second fdTable.Remove(2): got %v, wanted nil", removed)
		}
		if got := fdTable.NextFD(); got != 3 {
			t.Errorf("NextFD after Remove: got %d, wanted 3", got)
		}
	})
}

// TestFDTableGetReleased checks that Get does not hand out a file whose last
// reference has already been dropped.
func TestFDTableGetReleased(t *testing.T) {
	runTest(t, func(fdTable *FDTable, newFile func() *FileDescription) {
		file := newFile()
		fd, err := fdTable.NewFD(file)
		if err != nil {
			t.Fatalf("fdTable.NewFD: %v", err)
		}
		// Drop the table's reference behind its back.
		file.DecRef()
		if ref := fdTable.Get(fd); ref != nil {
			t.Errorf("fdTable.Get(%d) on a released file: got %v, wanted nil", fd, ref)
		}
	})
}

// TestFDTableNeverReuses checks that closing the newest entry does not make
// its handle available again.
func TestFDTableNeverReuses(t *testing.T) {
	runTest(t, func(fdTable *FDTable, newFile func() *FileDescription) {
		var got []int32
		for i := 0; i < 4; i++ {
			fd, err := fdTable.NewFD(newFile())
			if err != nil {
				t.Fatalf("NewFD failed: %v", err)
			}
			got = append(got, fd)
			fdTable.Remove(fd).DecRef()
		}
		if diff := cmp.Diff([]int32{2, 3, 4, 5}, got); diff != "" {
			t.Errorf("handles mismatch (-want +got):\n%s", diff)
		}
		if n := fdTable.Size(); n != 0 {
			t.Errorf("Size: got %d, wanted 0", n)
		}
	})
}

func TestFDTableConcurrent(t *testing.T) {
	runTest(t, func(fdTable *FDTable, newFile func() *FileDescription) {
		const workers, perWorker = 8, 64
		results := make([][]int32, workers)
		var g errgroup.Group
		for w := 0; w < workers; w++ {
			w := w
			g.Go(func() error {
				for i := 0; i < perWorker; i++ {
					fd, err := fdTable.NewFD(newFile())
					if err != nil {
						return err
					}
					results[w] = append(results[w], fd)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			t.Fatalf("NewFD failed: %v", err)
		}

		seen := make(map[int32]bool)
		for _, fds := range results {
			for i, fd := range fds {
				if seen[fd] {
					t.Fatalf("handle %d allocated twice", fd)
				}
				seen[fd] = true
				if i > 0 && fd <= fds[i-1] {
					t.Errorf("handles not increasing within a thread: %d after %d", fd, fds[i-1])
				}
			}
		}
		if got, want := fdTable.Size(), workers*perWorker; got != want {
			t.Errorf("Size: got %d, wanted %d", got, want)
		}
		if got, want := fdTable.NextFD(), int32(2+workers*perWorker); got != want {
			t.Errorf("NextFD: got %d, wanted %d", got, want)
		}
		fdTable.RemoveAll()
		if got := fdTable.GetFDs(); len(got) != 0 {
			t.Errorf("GetFDs after RemoveAll: got %v, wanted none", got)
		}
	})
}

func TestFDTableRemoveAllCloses(t *testing.T) {
	runTest(t, func(fdTable *FDTable, newFile func() *FileDescription) {
		file := newFile()
		if _, err := fdTable.NewFD(file); err != nil {
			t.Fatalf("NewFD failed: %v", err)
		}
		file.IncRef()
		fdTable.RemoveAll()
		if got := file.ReadRefs(); got != 1 {
			t.Errorf("ReadRefs after RemoveAll: got %d, wanted 1", got)
		}
		file.DecRef()
		buf := make([]byte, 1)
		if _, err := file.Read(buf); !kernerr.Equals(kernerr.EBADF, err) {
			t.Errorf("Read after last DecRef: got %v, wanted EBADF", err)
		}
	})
}
