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
	"io"

	"golang.org/x/sys/unix"
	"pintrap.dev/pintrap/pkg/errors/kernerr"
	"pintrap.dev/pintrap/pkg/sentry/fs"
)

// direntBufSize is the size of the buffer handed to getdents.
const direntBufSize = 4096

// file implements fs.File over a host file descriptor. Reads and writes use
// pread/pwrite so the host offset is only used for directory iteration.
type file struct {
	fs  *Filesystem
	fd  int
	rel string
	ino uint64
	dir bool

	pos int64

	// names holds directory entries read from the host but not yet
	// returned by Readdir.
	names []string
	eof   bool

	denied bool
	closed bool
}

var _ fs.File = (*file)(nil)

func (fsys *Filesystem) newFile(fd int, rel string) (*file, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return nil, kernerr.FromHost(err)
	}
	return &file{
		fs:  fsys,
		fd:  fd,
		rel: rel,
		ino: st.Ino,
		dir: st.Mode&unix.S_IFMT == unix.S_IFDIR,
	}, nil
}

func (f *file) check() error {
	if f.closed {
		return kernerr.EBADF
	}
	return nil
}

func (f *file) checkRegular() error {
	if err := f.check(); err != nil {
		return err
	}
	if f.dir {
		return kernerr.EISDIR
	}
	return nil
}

// ReadAt implements fs.File.ReadAt.
func (f *file) ReadAt(dst []byte, off int64) (int, error) {
	if err := f.checkRegular(); err != nil {
		return 0, err
	}
	done := 0
	for done < len(dst) {
		n, err := unix.Pread(f.fd, dst[done:], off+int64(done))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return done, kernerr.FromHost(err)
		}
		if n == 0 {
			return done, io.EOF
		}
		done += n
	}
	return done, nil
}

// WriteAt implements fs.File.WriteAt.
func (f *file) WriteAt(src []byte, off int64) (int, error) {
	if err := f.checkRegular(); err != nil {
		return 0, err
	}
	if f.fs.denied[f.ino] > 0 {
		return 0, nil
	}
	done := 0
	for done < len(src) {
		n, err := unix.Pwrite(f.fd, src[done:], off+int64(done))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			if err == unix.EBADF {
				// Opened read-only.
				return done, kernerr.EACCES
			}
			return done, kernerr.FromHost(err)
		}
		done += n
	}
	return done, nil
}

// Read implements fs.File.Read.
func (f *file) Read(dst []byte) (int, error) {
	n, err := f.ReadAt(dst, f.pos)
	f.pos += int64(n)
	if err == io.EOF {
		err = nil
	}
	return n, err
}

// Write implements fs.File.Write.
func (f *file) Write(src []byte) (int, error) {
	n, err := f.WriteAt(src, f.pos)
	f.pos += int64(n)
	return n, err
}

// Seek implements fs.File.Seek.
func (f *file) Seek(pos int64) {
	if pos < 0 {
		pos = 0
	}
	f.pos = pos
}

// Tell implements fs.File.Tell.
func (f *file) Tell() int64 {
	return f.pos
}

// Length implements fs.File.Length.
func (f *file) Length() int64 {
	if f.closed || f.dir {
		return 0
	}
	var st unix.Stat_t
	if err := unix.Fstat(f.fd, &st); err != nil {
		return 0
	}
	return st.Size
}

// IsDir implements fs.File.IsDir.
func (f *file) IsDir() bool {
	return f.dir
}

// Inumber implements fs.File.Inumber.
func (f *file) Inumber() uint64 {
	return f.ino
}

// Readdir implements fs.File.Readdir.
func (f *file) Readdir() (string, error) {
	if err := f.check(); err != nil {
		return "", err
	}
	if !f.dir {
		return "", kernerr.ENOTDIR
	}
	for {
		for len(f.names) > 0 {
			name := f.names[0]
			f.names = f.names[1:]
			if f.rel == "." && name == LockFile {
				continue
			}
			return name, nil
		}
		if f.eof {
			return "", io.EOF
		}
		buf := make([]byte, direntBufSize)
		n, err := unix.ReadDirent(f.fd, buf)
		if err != nil {
			return "", kernerr.FromHost(err)
		}
		if n == 0 {
			f.eof = true
			continue
		}
		// ParseDirent skips "." and "..".
		_, _, f.names = unix.ParseDirent(buf[:n], -1, f.names)
	}
}

// Reopen implements fs.File.Reopen. The new File shares the host open file
// but has its own position.
func (f *file) Reopen() (fs.File, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	fd, err := unix.Dup(f.fd)
	if err != nil {
		return nil, kernerr.FromHost(err)
	}
	unix.CloseOnExec(fd)
	return &file{fs: f.fs, fd: fd, rel: f.rel, ino: f.ino, dir: f.dir}, nil
}

// DenyWrite implements fs.File.DenyWrite.
func (f *file) DenyWrite() {
	if !f.denied && !f.closed {
		f.denied = true
		f.fs.denied[f.ino]++
	}
}

// AllowWrite implements fs.File.AllowWrite.
func (f *file) AllowWrite() {
	if !f.denied {
		return
	}
	f.denied = false
	if f.fs.denied[f.ino]--; f.fs.denied[f.ino] == 0 {
		delete(f.fs.denied, f.ino)
	}
}

// Close implements fs.File.Close.
func (f *file) Close() error {
	if err := f.check(); err != nil {
		return err
	}
	f.AllowWrite()
	f.closed = true
	return kernerr.FromHost(unix.Close(f.fd))
}
