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

package sync

// Event is a one-shot broadcast. Waiters block until Signal is called; every
// wait after that returns immediately.
//
// The zero value is not usable; use NewEvent.
type Event struct {
	once Once
	ch   chan struct{}
}

// NewEvent returns an unsignalled event.
func NewEvent() *Event {
	return &Event{ch: make(chan struct{})}
}

// Signal marks the event as having happened. Extra calls are ignored.
func (e *Event) Signal() {
	e.once.Do(func() { close(e.ch) })
}

// Done returns a channel that is closed once the event is signalled.
func (e *Event) Done() <-chan struct{} {
	return e.ch
}

// Wait blocks until the event is signalled.
func (e *Event) Wait() {
	<-e.ch
}

// Signalled returns true if Signal has been called.
func (e *Event) Signalled() bool {
	select {
	case <-e.ch:
		return true
	default:
		return false
	}
}
