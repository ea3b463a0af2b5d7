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

// Package usermem governs access to user memory.
package usermem

import (
	"context"
	"encoding/binary"
	"strings"

	"pintrap.dev/pintrap/pkg/abi/pintos"
	"pintrap.dev/pintrap/pkg/errors/kernerr"
	"pintrap.dev/pintrap/pkg/hostarch"
)

// IO provides access to the contents of a virtual memory space.
type IO interface {
	// CopyOut copies len(src) bytes from src to the memory mapped at addr. It
	// returns the number of bytes copied. If the number of bytes copied is <
	// len(src), it returns a non-nil error explaining why.
	CopyOut(ctx context.Context, addr hostarch.Addr, src []byte, opts IOOpts) (int, error)

	// CopyIn copies len(dst) bytes from the memory mapped at addr to dst.
	// It returns the number of bytes copied. If the number of bytes copied is
	// < len(dst), it returns a non-nil error explaining why.
	CopyIn(ctx context.Context, addr hostarch.Addr, dst []byte, opts IOOpts) (int, error)

	// ZeroOut sets toZero bytes to 0, starting at addr. It returns the number
	// of bytes zeroed. If the number of bytes zeroed is < toZero, it returns a
	// non-nil error explaining why.
	ZeroOut(ctx context.Context, addr hostarch.Addr, toZero int64, opts IOOpts) (int64, error)
}

// IOOpts contains options applicable to all IO methods.
type IOOpts struct {
	// If IgnorePermissions is true, application-defined memory protections set
	// by mmap(2) or mprotect(2) will be ignored. (Memory protections required
	// by the target of the mapping are never ignored.)
	IgnorePermissions bool
}

// CopyUint32In copies a little-endian machine word from addr.
func CopyUint32In(ctx context.Context, uio IO, addr hostarch.Addr, opts IOOpts) (uint32, error) {
	var buf [pintos.WordSize]byte
	if _, err := uio.CopyIn(ctx, addr, buf[:], opts); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// CopyUint32Out copies v to addr as a little-endian machine word.
func CopyUint32Out(ctx context.Context, uio IO, addr hostarch.Addr, v uint32, opts IOOpts) error {
	var buf [pintos.WordSize]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := uio.CopyOut(ctx, addr, buf[:], opts)
	return err
}

const (
	copyStringIncrement     = 64
	copyStringMaxInitBufLen = 256
)

// CopyStringIn copies a
// NUL-terminated string of unknown length from the memory mapped at addr in
// uio and returns it as a string (not including the trailing NUL). If the
// length of the string, including the terminating NUL, would exceed maxlen,
// CopyStringIn returns the string truncated to maxlen and ENAMETOOLONG.
//
// Every byte up to and including the terminator is validated, and a page is
// never touched before the bytes preceding it on the same page: the scan
// copies in small increments that never cross a page boundary.
func CopyStringIn(ctx context.Context, uio IO, addr hostarch.Addr, maxlen int, opts IOOpts) (string, error) {
	initLen := maxlen
	if initLen > copyStringMaxInitBufLen {
		initLen = copyStringMaxInitBufLen
	}
	buf := make([]byte, initLen)
	var done int
	for done < maxlen {
		start, ok := addr.AddLength(uint64(done))
		if !ok {
			return string(buf[:done]), kernerr.EFAULT
		}
		// Read up to copyStringIncrement bytes at a time.
		readlen := copyStringIncrement
		if readlen > maxlen-done {
			readlen = maxlen - done
		}
		// Stay within the current page so that a fault is only raised for
		// the page the terminator search actually reached.
		if toPage := hostarch.PageSize - int(start.PageOffset()); readlen > toPage {
			readlen = toPage
		}
		// Expand buf as needed.
		if done+readlen > len(buf) {
			newBufLen := 2 * len(buf)
			if newBufLen > maxlen {
				newBufLen = maxlen
			}
			buf = append(buf, make([]byte, newBufLen-len(buf))...)
		}
		// Copy bytes in.
		n, err := uio.CopyIn(ctx, start, buf[done:done+readlen], opts)
		// Look for the terminating zero byte, which may have occurred before
		// hitting err.
		if i := strings.IndexByte(string(buf[done:done+n]), 0); i >= 0 {
			return string(buf[:done+i]), nil
		}
		done += n
		if err != nil {
			return string(buf[:done]), err
		}
	}
	return string(buf), kernerr.ENAMETOOLONG
}

// CopyInBytes copies n bytes from addr into a new slice. On a fault no bytes
// are returned.
func CopyInBytes(ctx context.Context, uio IO, addr hostarch.Addr, n int, opts IOOpts) ([]byte, error) {
	if n < 0 {
		return nil, kernerr.EINVAL
	}
	buf := make([]byte, n)
	if _, err := uio.CopyIn(ctx, addr, buf, opts); err != nil {
		return nil, err
	}
	return buf, nil
}
