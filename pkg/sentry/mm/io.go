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

package mm

import (
	"context"

	"pintrap.dev/pintrap/pkg/errors/kernerr"
	"pintrap.dev/pintrap/pkg/hostarch"
	"pintrap.dev/pintrap/pkg/usermem"
)

var _ usermem.IO = (*MemoryManager)(nil)

// CopyOut implements usermem.IO.CopyOut.
func (mm *MemoryManager) CopyOut(ctx context.Context, addr hostarch.Addr, src []byte, opts usermem.IOOpts) (int, error) {
	return mm.withPages(addr, len(src), hostarch.Write, opts, func(p *page, off, n, done int) {
		copy(p.data[off:off+n], src[done:done+n])
	})
}

// CopyIn implements usermem.IO.CopyIn.
func (mm *MemoryManager) CopyIn(ctx context.Context, addr hostarch.Addr, dst []byte, opts usermem.IOOpts) (int, error) {
	return mm.withPages(addr, len(dst), hostarch.Read, opts, func(p *page, off, n, done int) {
		copy(dst[done:done+n], p.data[off:off+n])
	})
}

// ZeroOut implements usermem.IO.ZeroOut.
func (mm *MemoryManager) ZeroOut(ctx context.Context, addr hostarch.Addr, toZero int64, opts usermem.IOOpts) (int64, error) {
	if toZero > int64(^uint32(0)) {
		return 0, kernerr.EFAULT
	}
	n, err := mm.withPages(addr, int(toZero), hostarch.Write, opts, func(p *page, off, n, _ int) {
		clear(p.data[off : off+n])
	})
	return int64(n), err
}

// withPages calls fn for each page-sized piece of [addr, addr+length), in
// ascending order, stopping at the first byte that is not mapped with at.
// It returns the number of bytes fn was called for.
func (mm *MemoryManager) withPages(addr hostarch.Addr, length int, at hostarch.AccessType, opts usermem.IOOpts, fn func(p *page, off, n, done int)) (int, error) {
	if length == 0 {
		return 0, nil
	}
	if _, ok := addr.AddLength(uint64(length)); !ok {
		return 0, kernerr.EFAULT
	}
	if at.Write {
		mm.mu.Lock()
		defer mm.mu.Unlock()
	} else {
		mm.mu.RLock()
		defer mm.mu.RUnlock()
	}

	done := 0
	for done < length {
		cur := addr + hostarch.Addr(done)
		if !cur.IsUser() {
			return done, kernerr.EFAULT
		}
		p, ok := mm.findLocked(cur)
		if !ok {
			return done, kernerr.EFAULT
		}
		if !opts.IgnorePermissions && !p.perms.Effective().SupersetOf(at) {
			return done, kernerr.EFAULT
		}
		off := int(cur.PageOffset())
		n := hostarch.PageSize - off
		if n > length-done {
			n = length - done
		}
		fn(p, off, n, done)
		if at.Write {
			p.dirty = true
		}
		done += n
	}
	return done, nil
}
