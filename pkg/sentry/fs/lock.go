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

import (
	"sync/atomic"

	"pintrap.dev/pintrap/pkg/sync"
)

// Lock is the kernel-wide filesystem lock. At most one thread holds it at a
// time.
type Lock struct {
	mu   sync.Mutex
	held atomic.Bool

	// acquisitions counts successful Lock calls.
	acquisitions atomic.Uint64
}

// Lock acquires l.
func (l *Lock) Lock() {
	l.mu.Lock()
	l.held.Store(true)
	l.acquisitions.Add(1)
}

// Unlock releases l.
func (l *Lock) Unlock() {
	l.held.Store(false)
	l.mu.Unlock()
}

// Held returns true if some thread holds l. The result is racy and only
// useful for assertions made when no thread can be inside the filesystem.
func (l *Lock) Held() bool {
	return l.held.Load()
}

// Acquisitions returns the number of times l has been acquired.
func (l *Lock) Acquisitions() uint64 {
	return l.acquisitions.Load()
}
