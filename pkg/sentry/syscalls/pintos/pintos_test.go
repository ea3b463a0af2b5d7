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

package pintos_test

import (
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"pintrap.dev/pintrap/pkg/abi/pintos"
	"pintrap.dev/pintrap/pkg/hostarch"
	"pintrap.dev/pintrap/pkg/sentry/arch"
	"pintrap.dev/pintrap/pkg/sentry/kernel"
	"pintrap.dev/pintrap/pkg/sentry/kernel/kerneltest"
	sys "pintrap.dev/pintrap/pkg/sentry/syscalls/pintos"
	"pintrap.dev/pintrap/pkg/sync"
	"pintrap.dev/pintrap/pkg/user"
)

// mapBase is a free, page-aligned address for file mappings.
const mapBase hostarch.Addr = 0x10000000

func boot(t *testing.T, opts kerneltest.Options) *kerneltest.Kernel {
	opts.Syscalls = sys.NewTable()
	return kerneltest.Boot(t, opts)
}

func mustCreate(t *testing.T, k *kerneltest.Kernel, path, contents string) {
	t.Helper()
	if err := k.FS.Create(nil, path, 0); err != nil {
		t.Fatalf("Create(%q) failed: %v", path, err)
	}
	f, err := k.FS.Open(nil, path)
	if err != nil {
		t.Fatalf("Open(%q) failed: %v", path, err)
	}
	defer f.Close()
	if _, err := f.Write([]byte(contents)); err != nil {
		t.Fatalf("Write(%q) failed: %v", path, err)
	}
}

func TestTableMatchesABI(t *testing.T) {
	table := sys.NewTable()
	table.Init()
	for i := 0; i < pintos.NumSyscalls; i++ {
		sc, ok := table.Lookup(uintptr(i))
		if !ok {
			t.Errorf("syscall %d missing", i)
			continue
		}
		if sc.Name != pintos.Sysno(i).String() {
			t.Errorf("syscall %d named %q, want %q", i, sc.Name, pintos.Sysno(i))
		}
	}
}

func TestHandlesIncrease(t *testing.T) {
	k := boot(t, kerneltest.Options{})
	mustCreate(t, k, "/a", "")
	var fds []int32
	k.RunAndWait(t, "opener", func(e *user.Env) int32 {
		for i := 0; i < 3; i++ {
			fds = append(fds, e.Open("a"))
		}
		e.Close(fds[1])
		fds = append(fds, e.Open("/a"))
		return 0
	})
	if diff := cmp.Diff([]int32{2, 3, 4, 5}, fds); diff != "" {
		t.Errorf("handles mismatch (-want +got):\n%s", diff)
	}
}

// TestMissingThenReadme is the reference scenario: a failed open allocates
// nothing, create makes the file, the first handle is 2, and closing it leaves
// the counter at 3.
func TestMissingThenReadme(t *testing.T) {
	k := boot(t, kerneltest.Options{})
	type state struct {
		created         bool
		missing, readme int32
		sizeAfterMiss   int
		nextAfterMiss   int32
		nextAfterClose  int32
		sizeAfterClose  int
	}
	var got state
	k.RunAndWait(t, "scenario", func(e *user.Env) int32 {
		fdt := e.Task().FDTable()
		got.missing = e.Open("missing.txt")
		got.sizeAfterMiss = fdt.Size()
		got.nextAfterMiss = fdt.NextFD()
		got.created = e.Create("readme.txt", 0)
		got.readme = e.Open("readme.txt")
		e.Close(got.readme)
		got.nextAfterClose = fdt.NextFD()
		got.sizeAfterClose = fdt.Size()
		return 0
	})
	want := state{created: true, missing: -1, readme: 2, nextAfterMiss: 2, nextAfterClose: 3}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(state{})); diff != "" {
		t.Errorf("scenario mismatch (-want +got):\n%s", diff)
	}
}

func TestFailedOpenLeaksNothing(t *testing.T) {
	k := boot(t, kerneltest.Options{FDLimit: 1})
	mustCreate(t, k, "/a", "")
	mustCreate(t, k, "/b", strings.Repeat("b", 100))
	used := k.FS.Used()

	var a, b, size int32
	k.RunAndWait(t, "limited", func(e *user.Env) int32 {
		a = e.Open("a")
		b = e.Open("b")
		size = int32(e.Task().FDTable().Size())
		return 0
	})
	if a != 2 || b != -1 || size != 1 {
		t.Errorf("open a, b, table size = %d, %d, %d, want 2, -1, 1", a, b, size)
	}
	// The rejected file was closed: its data is freed as soon as it is
	// unlinked. The executable installed for the run is not counted.
	for _, path := range []string{"/b", "/limited"} {
		if err := k.FS.Remove(nil, path); err != nil {
			t.Fatalf("Remove(%q) failed: %v", path, err)
		}
	}
	if got, want := k.FS.Used(), used-100; got != want {
		t.Errorf("Used() after remove = %d, want %d", got, want)
	}
}

func TestBadPointerKillsOnlyProcess(t *testing.T) {
	k := boot(t, kerneltest.Options{})
	mustCreate(t, k, "/data", strings.Repeat("d", 10))
	used := k.FS.Used()

	status := k.RunAndWait(t, "victim", func(e *user.Env) int32 {
		if e.Open("data") != 2 {
			return 1
		}
		e.Read(2, hostarch.PhysBase-4, 10)
		return 0
	})
	if status != -1 {
		t.Errorf("exit status = %d, want -1", status)
	}
	if k.FSLock().Held() {
		t.Errorf("filesystem lock held after kill")
	}
	// Teardown closed the open file.
	for _, path := range []string{"/data", "/victim"} {
		if err := k.FS.Remove(nil, path); err != nil {
			t.Fatalf("Remove(%q) failed: %v", path, err)
		}
	}
	if got, want := k.FS.Used(), used-10; got != want {
		t.Errorf("Used() after remove = %d, want %d", got, want)
	}
	if got := k.RunAndWait(t, "bystander", func(e *user.Env) int32 { return 5 }); got != 5 {
		t.Errorf("bystander exit status = %d, want 5", got)
	}
}

func TestBadPointers(t *testing.T) {
	for _, tc := range []struct {
		name string
		fn   func(e *user.Env)
	}{
		{"create", func(e *user.Env) { e.Syscall(pintos.SYS_CREATE, 0, 0) }},
		{"remove", func(e *user.Env) { e.Syscall(pintos.SYS_REMOVE, uint32(hostarch.PhysBase)) }},
		{"exec", func(e *user.Env) { e.Syscall(pintos.SYS_EXEC, 0x1000) }},
		{"write", func(e *user.Env) { e.Write(pintos.STDOUT_FILENO, hostarch.PhysBase-1, 2) }},
		{"read", func(e *user.Env) { e.Read(pintos.STDIN_FILENO, hostarch.CodeBase-1, 2) }},
		{"readdir", func(e *user.Env) { e.Readdir(2, hostarch.PhysBase-8) }},
		{"mkdir", func(e *user.Env) { e.Syscall(pintos.SYS_MKDIR, 0xdeadbeef) }},
		{"chdir", func(e *user.Env) { e.Syscall(pintos.SYS_CHDIR, 0) }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			k := boot(t, kerneltest.Options{})
			status := k.RunAndWait(t, tc.name, func(e *user.Env) int32 {
				tc.fn(e)
				return 0
			})
			if status != -1 {
				t.Errorf("exit status = %d, want -1", status)
			}
		})
	}
}

func TestConcurrentOpensNeverDuplicate(t *testing.T) {
	k := boot(t, kerneltest.Options{FDLimit: -1})
	mustCreate(t, k, "/shared", "")
	const threads, perThread = 8, 32

	var (
		mu  sync.Mutex
		all []int32
	)
	status := k.RunAndWait(t, "racer", func(e *user.Env) int32 {
		done := make(chan struct{}, threads)
		for i := 0; i < threads; i++ {
			e.Go(func(e *user.Env) {
				defer func() { done <- struct{}{} }()
				var mine []int32
				for j := 0; j < perThread; j++ {
					mine = append(mine, e.Open("shared"))
				}
				mu.Lock()
				all = append(all, mine...)
				mu.Unlock()
			})
		}
		for i := 0; i < threads; i++ {
			<-done
		}
		return 0
	})
	if status != 0 {
		t.Fatalf("exit status = %d, want 0", status)
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	want := make([]int32, threads*perThread)
	for i := range want {
		want[i] = int32(2 + i)
	}
	if diff := cmp.Diff(want, all); diff != "" {
		t.Errorf("handles mismatch (-want +got):\n%s", diff)
	}
}

// lockChecker records whether the filesystem lock is held when each syscall
// returns.
type lockChecker struct {
	k *kernel.Kernel

	mu       sync.Mutex
	heldAt   []string
	syscalls int
}

func (c *lockChecker) SyscallTraced(uintptr) bool { return true }

func (c *lockChecker) SyscallEnter(*kernel.Task, uintptr, arch.SyscallArguments) any { return nil }

func (c *lockChecker) SyscallExit(_ any, _ *kernel.Task, sysno, _ uintptr, _ error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syscalls++
	if c.k.FSLock().Held() {
		c.heldAt = append(c.heldAt, pintos.Sysno(sysno).String())
	}
}

func TestLockNeverHeldAfterSyscall(t *testing.T) {
	checker := &lockChecker{}
	k := boot(t, kerneltest.Options{Stracer: checker})
	checker.k = k.Kernel
	mustCreate(t, k, "/f", "contents")

	before := k.FSLock().Acquisitions()
	k.RunAndWait(t, "everything", func(e *user.Env) int32 {
		buf := e.Alloc(pintos.ReaddirMaxLen + 1)
		e.Create("g", 10)
		fd := e.Open("f")
		e.Filesize(fd)
		e.Read(fd, buf, 4)
		e.Seek(fd, 0)
		e.Tell(fd)
		e.Write(fd, buf, 4)
		id := e.Mmap(fd, mapBase)
		e.Munmap(id)
		e.Inumber(fd)
		e.Isdir(fd)
		e.Close(fd)
		e.Mkdir("d")
		e.Chdir("d")
		e.Chdir("..")
		dir := e.Open(".")
		e.Readdir(dir, buf)
		e.Remove("g")
		e.Open("missing")
		e.Remove("missing")
		return 0
	})
	if len(checker.heldAt) != 0 {
		t.Errorf("lock held after %v", checker.heldAt)
	}
	if checker.syscalls < 20 {
		t.Errorf("traced %d syscalls, want at least 20", checker.syscalls)
	}
	if k.FSLock().Acquisitions() == before {
		t.Errorf("filesystem lock never taken")
	}
}

func TestFileIO(t *testing.T) {
	k := boot(t, kerneltest.Options{})
	type state struct {
		created, again bool
		size           int32
		wrote, read    int32
		tell           uint32
		contents       string
		dirWrite       int32
		closedRead     int32
		consoleRead    int32
		stdoutRead     int32
		stdinWrite     int32
	}
	var got state
	k.RunAndWait(t, "io", func(e *user.Env) int32 {
		buf := e.Alloc(64)
		got.created = e.Create("file", 4)
		got.again = e.Create("file", 4)
		fd := e.Open("file")
		got.size = e.Filesize(fd)
		e.Poke(buf, []byte("hello, world"))
		got.wrote = e.Write(fd, buf, 12)
		e.Seek(fd, 7)
		got.tell = e.Tell(fd)
		e.Seek(fd, 0)
		got.read = e.Read(fd, buf+16, 64-16)
		got.contents = string(e.Peek(buf+16, int(got.read)))
		e.Close(fd)
		got.closedRead = e.Read(fd, buf, 4)

		dir := e.Open("/")
		got.dirWrite = e.Write(dir, buf, 4)
		e.Close(dir)

		got.stdoutRead = e.Read(pintos.STDOUT_FILENO, buf, 4)
		got.stdinWrite = e.Write(pintos.STDIN_FILENO, buf, 4)
		got.consoleRead = e.Read(pintos.STDIN_FILENO, buf, 64)
		return 0
	})
	want := state{
		created:     true,
		size:        4,
		wrote:       12,
		tell:        7,
		read:        12,
		contents:    "hello, world",
		dirWrite:    -1,
		closedRead:  -1,
		stdoutRead:  -1,
		stdinWrite:  -1,
		consoleRead: 0,
	}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(state{})); diff != "" {
		t.Errorf("file I/O mismatch (-want +got):\n%s", diff)
	}
}

func TestConsole(t *testing.T) {
	k := boot(t, kerneltest.Options{Input: "typed"})
	var read string
	k.RunAndWait(t, "console", func(e *user.Env) int32 {
		buf := e.Alloc(16)
		n := e.Read(pintos.STDIN_FILENO, buf, 16)
		read = string(e.Peek(buf, int(n)))
		e.Printf("%s!\n", strings.ToUpper(read))
		return 0
	})
	if read != "typed" {
		t.Errorf("read %q from the keyboard, want %q", read, "typed")
	}
	if got, want := k.Out.String(), "TYPED!\nconsole: exit(0)\n"; got != want {
		t.Errorf("console = %q, want %q", got, want)
	}
}

func TestBadHandlesFailSilently(t *testing.T) {
	k := boot(t, kerneltest.Options{})
	type state struct {
		filesize, tell, inumber, mmap int32
		isdir, readdir                bool
	}
	var got state
	status := k.RunAndWait(t, "badfd", func(e *user.Env) int32 {
		for _, fd := range []int32{-1, 0, 1, 2, 99} {
			e.Close(fd)
			e.Seek(fd, 3)
			e.Munmap(fd)
		}
		got.filesize = e.Filesize(99)
		got.tell = int32(e.Tell(99))
		got.inumber = e.Inumber(99)
		got.mmap = e.Mmap(0, mapBase)
		got.isdir = e.Isdir(99)
		got.readdir = e.Readdir(99, e.Alloc(pintos.ReaddirMaxLen+1))
		return 0
	})
	if status != 0 {
		t.Errorf("exit status = %d, want 0", status)
	}
	want := state{filesize: -1, tell: -1, inumber: -1, mmap: -1}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(state{})); diff != "" {
		t.Errorf("bad handle results mismatch (-want +got):\n%s", diff)
	}
}

func TestDirectories(t *testing.T) {
	k := boot(t, kerneltest.Options{})
	type state struct {
		mkdir, mkdirAgain, chdir, chdirFile bool
		create                              bool
		names                               []string
		isdir, fileIsdir                    bool
		distinctInumbers                    bool
		removeNonEmpty, removeFile, rmdir   bool
		longName                            bool
	}
	var got state
	k.RunAndWait(t, "dirs", func(e *user.Env) int32 {
		got.mkdir = e.Mkdir("/d")
		got.mkdirAgain = e.Mkdir("/d")
		got.chdir = e.Chdir("d")
		got.create = e.Create("f", 0)
		e.Mkdir("sub")
		got.chdirFile = e.Chdir("f")

		dir := e.Open(".")
		got.names, got.isdir = e.ReaddirAll(dir)
		file := e.Open("/d/f")
		got.fileIsdir = e.Isdir(file)
		got.distinctInumbers = e.Inumber(dir) != e.Inumber(file) && e.Inumber(file) > 0
		e.Close(file)
		e.Close(dir)

		got.removeNonEmpty = e.Remove("/d")
		got.removeFile = e.Remove("f")
		got.rmdir = e.Remove("sub")
		got.longName = e.Create("a-name-longer-than-fourteen", 0)
		return 0
	})
	sort.Strings(got.names)
	want := state{
		mkdir:            true,
		chdir:            true,
		create:           true,
		names:            []string{"f", "sub"},
		isdir:            true,
		distinctInumbers: true,
		removeFile:       true,
		rmdir:            true,
	}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(state{})); diff != "" {
		t.Errorf("directory results mismatch (-want +got):\n%s", diff)
	}
}

func TestExecInheritsCwd(t *testing.T) {
	k := boot(t, kerneltest.Options{})
	k.Install(t, "child", user.Main(func(e *user.Env) int32 {
		fd := e.Open("here")
		if fd < 0 {
			return 1
		}
		return e.Filesize(fd)
	}))
	status := k.RunAndWait(t, "parent", func(e *user.Env) int32 {
		e.Mkdir("/d")
		e.Chdir("/d")
		e.Create("here", 9)
		return e.Wait(e.Exec("/child"))
	})
	if status != 9 {
		t.Errorf("child status seen by parent = %d, want 9", status)
	}
}

func TestMmap(t *testing.T) {
	k := boot(t, kerneltest.Options{})
	mustCreate(t, k, "/m", "mapped file")
	type state struct {
		id, second                           int32
		contents                             string
		null, unaligned, overlap, kernel, dir int32
		empty                                int32
	}
	var got state
	k.RunAndWait(t, "mapper", func(e *user.Env) int32 {
		fd := e.Open("m")
		got.id = e.Mmap(fd, mapBase)
		// The mapping outlives the handle.
		e.Close(fd)
		got.contents = string(e.Peek(mapBase, 11))
		e.Poke(mapBase, []byte("MAPPED"))

		fd = e.Open("m")
		got.null = e.Mmap(fd, 0)
		got.unaligned = e.Mmap(fd, mapBase+hostarch.PageSize+1)
		got.overlap = e.Mmap(fd, mapBase)
		got.kernel = e.Mmap(fd, hostarch.PhysBase)
		got.second = e.Mmap(fd, mapBase+hostarch.PageSize)
		e.Munmap(got.id)
		e.Munmap(got.second)

		got.dir = e.Mmap(e.Open("/"), mapBase)
		e.Create("empty", 0)
		got.empty = e.Mmap(e.Open("empty"), mapBase)
		return 0
	})
	want := state{
		id:        1,
		second:    2,
		contents:  "mapped file",
		null:      -1,
		unaligned: -1,
		overlap:   -1,
		kernel:    -1,
		dir:       -1,
		empty:     -1,
	}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(state{})); diff != "" {
		t.Errorf("mmap results mismatch (-want +got):\n%s", diff)
	}

	f, err := k.FS.Open(nil, "/m")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()
	buf := make([]byte, 32)
	n, _ := f.Read(buf)
	if got, want := string(buf[:n]), "MAPPED file"; got != want {
		t.Errorf("file after munmap = %q, want %q", got, want)
	}
}

func TestExitStatusThroughWait(t *testing.T) {
	k := boot(t, kerneltest.Options{})
	k.Install(t, "neg", user.Main(func(e *user.Env) int32 {
		e.Exit(-7)
		return 0
	}))
	status := k.RunAndWait(t, "parent", func(e *user.Env) int32 {
		return e.Wait(e.Exec("neg"))
	})
	if status != -7 {
		t.Errorf("status = %d, want -7", status)
	}
}
