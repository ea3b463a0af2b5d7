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

package refs

import (
	"fmt"
	"sort"
	"strings"

	"pintrap.dev/pintrap/pkg/log"
	"pintrap.dev/pintrap/pkg/sync"
)

// live holds every AtomicRefCount registered through EnableLeakCheck that has
// not yet been destroyed.
var live struct {
	mu      sync.Mutex
	objects map[*AtomicRefCount]struct{}
}

// LeakCheckEnabled returns whether leak checking is enabled.
func LeakCheckEnabled() bool {
	return GetLeakMode() != NoLeakChecking
}

func register(r *AtomicRefCount) {
	live.mu.Lock()
	defer live.mu.Unlock()
	if live.objects == nil {
		live.objects = make(map[*AtomicRefCount]struct{})
	}
	if _, ok := live.objects[r]; ok {
		panic(fmt.Sprintf("[%s %p] registered twice for leak checking", r.name, r))
	}
	live.objects[r] = struct{}{}
}

func unregister(r *AtomicRefCount) {
	live.mu.Lock()
	defer live.mu.Unlock()
	// Objects registered before leak checking was turned off are still
	// removed; objects never registered are ignored.
	delete(live.objects, r)
}

// Leaked returns the number of registered objects that are still live.
func Leaked() int {
	live.mu.Lock()
	defer live.mu.Unlock()
	return len(live.objects)
}

// checkOnce makes sure that leak checking is only done once.
var checkOnce sync.Once

// DoLeakCheck reports every object that is still live. It should be called
// once nothing reference counted is reachable, at which point anything left
// is a leak. Only the first call does any work.
func DoLeakCheck() {
	if LeakCheckEnabled() {
		checkOnce.Do(doLeakCheck)
	}
}

func doLeakCheck() {
	msg := leakReport()
	if msg == "" {
		return
	}
	if GetLeakMode() == LeaksPanic {
		panic(msg)
	}
	log.Warningf("%s", msg)
}

// leakReport summarizes the live objects by owner, followed by one line per
// object. It returns "" when nothing leaked.
func leakReport() string {
	live.mu.Lock()
	defer live.mu.Unlock()
	if len(live.objects) == 0 {
		return ""
	}
	byName := make(map[string][]*AtomicRefCount)
	for r := range live.objects {
		byName[r.name] = append(byName[r.name], r)
	}
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "Leak checking detected %d leaked objects:\n", len(live.objects))
	for _, name := range names {
		fmt.Fprintf(&b, "  %s: %d\n", name, len(byName[name]))
		for _, r := range byName[name] {
			fmt.Fprintf(&b, "    %s\n", r.leakMessage())
		}
	}
	return b.String()
}
