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
	"pintrap.dev/pintrap/pkg/errors/kernerr"
	"pintrap.dev/pintrap/pkg/hostarch"
	"pintrap.dev/pintrap/pkg/log"
)

// Backing is the file behind a file mapping. The mapping owns one reference
// to it, dropped with DecRef when the mapping goes away.
type Backing interface {
	// ReadAt reads from the file at off.
	ReadAt(dst []byte, off int64) (int, error)

	// WriteAt writes to the file at off.
	WriteAt(src []byte, off int64) (int, error)

	// DecRef releases the mapping's reference.
	DecRef()
}

// Mapping is a file mapped into the address space.
type Mapping struct {
	// ID is the mapid returned to the user.
	ID int32

	// AddrRange is the page-aligned range the mapping covers.
	hostarch.AddrRange

	// Length is the length of the file when it was mapped. Only bytes below
	// it are written back.
	Length int64

	backing Backing
}

// MMap maps length bytes of backing at addr and returns the new mapping's
// id. The contents are read eagerly; the pages past the end of the file
// read as zero. The range must be page aligned, non-empty, below the stack
// reserve, and not overlap existing pages.
//
// On success the mapping owns the caller's reference on backing.
func (mm *MemoryManager) MMap(addr hostarch.Addr, backing Backing, length int64) (int32, error) {
	if addr == 0 || !addr.IsPageAligned() || length <= 0 {
		return 0, kernerr.EINVAL
	}
	size, ok := hostarch.PageRoundUp(uint64(length))
	if !ok {
		return 0, kernerr.ENOMEM
	}
	ar, ok := addr.ToRange(size)
	if !ok || ar.End > hostarch.PhysBase-StackReserve {
		return 0, kernerr.ENOMEM
	}
	if err := checkUserRange(ar); err != nil {
		return 0, err
	}

	// Read the contents before taking mm.mu; Backing may block.
	contents := make([]byte, size)
	n, err := backing.ReadAt(contents[:length], 0)
	if err != nil && int64(n) < length {
		log.Debugf("mmap of %d bytes at %v: short read %d: %v", length, addr, n, err)
		return 0, err
	}

	mm.mu.Lock()
	defer mm.mu.Unlock()
	if mm.anyMappedLocked(ar) {
		return 0, kernerr.EEXIST
	}
	m := &Mapping{
		ID:        mm.nextMapID,
		AddrRange: ar,
		Length:    length,
		backing:   backing,
	}
	mm.nextMapID++
	mm.mappings[m.ID] = m
	mm.insertLocked(ar, hostarch.ReadWrite, m)
	off := 0
	ar.Pages(func(a hostarch.Addr) bool {
		p, _ := mm.findLocked(a)
		copy(p.data, contents[off:])
		off += hostarch.PageSize
		return true
	})
	return m.ID, nil
}

// MUnmap writes back the dirty pages of mapping id, unmaps it and drops its
// reference on the backing file. The mapping is removed even if writing back
// fails; the first write-back error is returned.
func (mm *MemoryManager) MUnmap(id int32) error {
	mm.mu.Lock()
	m, ok := mm.mappings[id]
	if !ok {
		mm.mu.Unlock()
		return kernerr.EINVAL
	}
	delete(mm.mappings, id)
	type dirtyPage struct {
		off  int64
		data []byte
	}
	var dirty []dirtyPage
	m.Pages(func(a hostarch.Addr) bool {
		p, ok := mm.findLocked(a)
		if !ok {
			return true
		}
		mm.pages.Delete(p)
		off := int64(a - m.Start)
		if p.dirty && off < m.Length {
			end := m.Length - off
			if end > hostarch.PageSize {
				end = hostarch.PageSize
			}
			dirty = append(dirty, dirtyPage{off: off, data: p.data[:end]})
		}
		return true
	})
	mm.mu.Unlock()

	var firstErr error
	for _, d := range dirty {
		if _, err := m.backing.WriteAt(d.data, d.off); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.backing.DecRef()
	return firstErr
}

// Mappings returns the ids of the live file mappings.
func (mm *MemoryManager) Mappings() []int32 {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	ids := make([]int32, 0, len(mm.mappings))
	for id := range mm.mappings {
		ids = append(ids, id)
	}
	return ids
}
