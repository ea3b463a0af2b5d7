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

package fs

// Serialize returns a FileSystem that holds l for the duration of every call
// into fsys and into every File it returns. The lock is released with defer,
// so it is dropped even if the calling thread is terminated mid-call.
func Serialize(l *Lock, fsys FileSystem) FileSystem {
	return &serialFS{l: l, fs: fsys}
}

type serialFS struct {
	l  *Lock
	fs FileSystem
}

// unwrap returns the File that f wraps, so that the underlying FileSystem
// only ever sees its own files.
func unwrap(f File) File {
	if sf, ok := f.(*serialFile); ok {
		return sf.f
	}
	return f
}

// Open implements FileSystem.Open.
func (s *serialFS) Open(cwd File, path string) (File, error) {
	s.l.Lock()
	defer s.l.Unlock()
	f, err := s.fs.Open(unwrap(cwd), path)
	if err != nil {
		return nil, err
	}
	return &serialFile{l: s.l, f: f}, nil
}

// Create implements FileSystem.Create.
func (s *serialFS) Create(cwd File, path string, size int64) error {
	s.l.Lock()
	defer s.l.Unlock()
	return s.fs.Create(unwrap(cwd), path, size)
}

// Remove implements FileSystem.Remove.
func (s *serialFS) Remove(cwd File, path string) error {
	s.l.Lock()
	defer s.l.Unlock()
	return s.fs.Remove(unwrap(cwd), path)
}

// Mkdir implements FileSystem.Mkdir.
func (s *serialFS) Mkdir(cwd File, path string) error {
	s.l.Lock()
	defer s.l.Unlock()
	return s.fs.Mkdir(unwrap(cwd), path)
}

type serialFile struct {
	l *Lock
	f File
}

// Read implements File.Read.
func (s *serialFile) Read(dst []byte) (int, error) {
	s.l.Lock()
	defer s.l.Unlock()
	return s.f.Read(dst)
}

// Write implements File.Write.
func (s *serialFile) Write(src []byte) (int, error) {
	s.l.Lock()
	defer s.l.Unlock()
	return s.f.Write(src)
}

// ReadAt implements File.ReadAt.
func (s *serialFile) ReadAt(dst []byte, off int64) (int, error) {
	s.l.Lock()
	defer s.l.Unlock()
	return s.f.ReadAt(dst, off)
}

// WriteAt implements File.WriteAt.
func (s *serialFile) WriteAt(src []byte, off int64) (int, error) {
	s.l.Lock()
	defer s.l.Unlock()
	return s.f.WriteAt(src, off)
}

// Seek implements File.Seek.
func (s *serialFile) Seek(pos int64) {
	s.l.Lock()
	defer s.l.Unlock()
	s.f.Seek(pos)
}

// Tell implements File.Tell.
func (s *serialFile) Tell() int64 {
	s.l.Lock()
	defer s.l.Unlock()
	return s.f.Tell()
}

// Length implements File.Length.
func (s *serialFile) Length() int64 {
	s.l.Lock()
	defer s.l.Unlock()
	return s.f.Length()
}

// IsDir implements File.IsDir.
func (s *serialFile) IsDir() bool {
	s.l.Lock()
	defer s.l.Unlock()
	return s.f.IsDir()
}

// Inumber implements File.Inumber.
func (s *serialFile) Inumber() uint64 {
	s.l.Lock()
	defer s.l.Unlock()
	return s.f.Inumber()
}

// Readdir implements File.Readdir.
func (s *serialFile) Readdir() (string, error) {
	s.l.Lock()
	defer s.l.Unlock()
	return s.f.Readdir()
}

// Reopen implements File.Reopen.
func (s *serialFile) Reopen() (File, error) {
	s.l.Lock()
	defer s.l.Unlock()
	f, err := s.f.Reopen()
	if err != nil {
		return nil, err
	}
	return &serialFile{l: s.l, f: f}, nil
}

// DenyWrite implements File.DenyWrite.
func (s *serialFile) DenyWrite() {
	s.l.Lock()
	defer s.l.Unlock()
	s.f.DenyWrite()
}

// AllowWrite implements File.AllowWrite.
func (s *serialFile) AllowWrite() {
	s.l.Lock()
	defer s.l.Unlock()
	s.f.AllowWrite()
}

// Close implements File.Close.
func (s *serialFile) Close() error {
	s.l.Lock()
	defer s.l.Unlock()
	return s.f.Close()
}
