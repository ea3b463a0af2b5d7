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

// Package mm provides a process's user address space.
//
// The address space is a page table keyed by page address. Every page is
// backed by a private page-sized buffer; pages of a file mapping also
// remember the mapping so that dirty pages can be written back when it is
// torn down.
//
// Lock order: MemoryManager.mu is taken before any file mapping backing
// call. Backings are expected to do their own locking.
package mm

import (
	"fmt"

	"github.com/google/btree"
	"pintrap.dev/pintrap/pkg/errors/kernerr"
	"pintrap.dev/pintrap/pkg/hostarch"
	"pintrap.dev/pintrap/pkg/sync"
)

// StackReserve is the size of the region below PhysBase reserved for thread
// stacks. File mappings may not be placed in it.
const StackReserve = 8 << 20

// pageTableDegree is the btree degree of the page table.
const pageTableDegree = 8

// page is a single mapped user page.
type page struct {
	// addr is the page-aligned user address of the page.
	addr hostarch.Addr

	// perms is the access the user has to the page.
	perms hostarch.AccessType

	// data is the page contents. It is nil for the search keys used by
	// lookups.
	data []byte

	// dirty is set by every write into the page.
	dirty bool

	// mapping is the file mapping this page belongs to, if any.
	mapping *Mapping
}

func pageLess(a, b *page) bool {
	return a.addr < b.addr
}

// MemoryManager implements a process's virtual address space.
type MemoryManager struct {
	// mu protects the fields below.
	mu sync.RWMutex

	// pages holds every mapped page, ordered by address.
	pages *btree.BTreeG[*page]

	// mappings holds the live file mappings by id.
	mappings map[int32]*Mapping

	// nextMapID is the id of the next file mapping. It starts at 1 and
	// never decreases, so ids are not reused.
	nextMapID int32
}

// NewMemoryManager returns an empty address space.
func NewMemoryManager() *MemoryManager {
	return &MemoryManager{
		pages:     btree.NewG[*page](pageTableDegree, pageLess),
		mappings:  make(map[int32]*Mapping),
		nextMapID: 1,
	}
}

// String implements fmt.Stringer.String.
func (mm *MemoryManager) String() string {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return fmt.Sprintf("mm{pages: %d, mappings: %d}", mm.pages.Len(), len(mm.mappings))
}

// checkUserRange validates that ar is a non-empty, page-aligned range in the
// user part of the address space.
func checkUserRange(ar hostarch.AddrRange) error {
	if !ar.WellFormed() || ar.Length() == 0 {
		return kernerr.EINVAL
	}
	if !ar.Start.IsPageAligned() || !ar.End.IsPageAligned() {
		return kernerr.EINVAL
	}
	if !ar.IsUser() {
		return kernerr.EFAULT
	}
	return nil
}

// findLocked returns the page containing addr.
//
// Preconditions: mm.mu must be locked.
func (mm *MemoryManager) findLocked(addr hostarch.Addr) (*page, bool) {
	return mm.pages.Get(&page{addr: addr.RoundDown()})
}

// anyMappedLocked returns true if any page of ar is mapped.
//
// Preconditions: mm.mu must be locked. ar is page aligned.
func (mm *MemoryManager) anyMappedLocked(ar hostarch.AddrRange) bool {
	found := false
	mm.pages.AscendRange(&page{addr: ar.Start}, &page{addr: ar.End}, func(*page) bool {
		found = true
		return false
	})
	return found
}

// MapAnonymous maps zero-filled pages over ar with the given permissions.
// ar must be page aligned, user, and not overlap any existing page.
func (mm *MemoryManager) MapAnonymous(ar hostarch.AddrRange, perms hostarch.AccessType) error {
	if err := checkUserRange(ar); err != nil {
		return err
	}
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if mm.anyMappedLocked(ar) {
		return kernerr.EEXIST
	}
	mm.insertLocked(ar, perms, nil)
	return nil
}

// insertLocked maps fresh pages over ar.
//
// Preconditions: mm.mu must be locked. ar is page aligned and unmapped.
func (mm *MemoryManager) insertLocked(ar hostarch.AddrRange, perms hostarch.AccessType, m *Mapping) {
	ar.Pages(func(p hostarch.Addr) bool {
		mm.pages.ReplaceOrInsert(&page{
			addr:    p,
			perms:   perms,
			data:    make([]byte, hostarch.PageSize),
			mapping: m,
		})
		return true
	})
}

// Protect changes the permissions of every mapped page in ar.
func (mm *MemoryManager) Protect(ar hostarch.AddrRange, perms hostarch.AccessType) error {
	if err := checkUserRange(ar); err != nil {
		return err
	}
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.pages.AscendRange(&page{addr: ar.Start}, &page{addr: ar.End}, func(p *page) bool {
		p.perms = perms
		return true
	})
	return nil
}

// Unmap removes the anonymous pages in ar. Pages that belong to a file
// mapping are left alone; they are removed with MUnmap.
func (mm *MemoryManager) Unmap(ar hostarch.AddrRange) error {
	if err := checkUserRange(ar); err != nil {
		return err
	}
	mm.mu.Lock()
	defer mm.mu.Unlock()
	var doomed []*page
	mm.pages.AscendRange(&page{addr: ar.Start}, &page{addr: ar.End}, func(p *page) bool {
		if p.mapping == nil {
			doomed = append(doomed, p)
		}
		return true
	})
	for _, p := range doomed {
		mm.pages.Delete(p)
	}
	return nil
}

// IsMapped returns true if the page containing addr is mapped.
func (mm *MemoryManager) IsMapped(addr hostarch.Addr) bool {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	_, ok := mm.findLocked(addr)
	return ok
}

// CheckRange returns EFAULT unless every byte of ar lies in a user page
// that allows at. Syscalls use it to validate output buffers before doing any
// work.
func (mm *MemoryManager) CheckRange(ar hostarch.AddrRange, at hostarch.AccessType) error {
	if !ar.WellFormed() {
		return kernerr.EFAULT
	}
	if ar.Length() == 0 {
		return nil
	}
	if !ar.IsUser() {
		return kernerr.EFAULT
	}
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	var err error
	ar.Pages(func(addr hostarch.Addr) bool {
		p, ok := mm.findLocked(addr)
		if !ok || !p.perms.Effective().SupersetOf(at) {
			err = kernerr.EFAULT
			return false
		}
		return true
	})
	return err
}

// Release unmaps every page, writing dirty file mapping pages back first.
// It returns the first write-back error.
func (mm *MemoryManager) Release() error {
	mm.mu.Lock()
	ids := make([]int32, 0, len(mm.mappings))
	for id := range mm.mappings {
		ids = append(ids, id)
	}
	mm.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := mm.MUnmap(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	mm.mu.Lock()
	mm.pages.Clear(false)
	mm.mu.Unlock()
	return firstErr
}
