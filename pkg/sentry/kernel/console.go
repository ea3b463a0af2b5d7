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

package kernel

import (
	"fmt"
	"io"

	"pintrap.dev/pintrap/pkg/sync"
)

// consoleChunk is the largest piece of a write that is passed to the output
// in one call. Writes from different threads never interleave within a
// write.
const consoleChunk = 256

// Console is the keyboard and display behind handles 0 and 1.
type Console struct {
	inMu sync.Mutex
	in   io.Reader

	outMu sync.Mutex
	out   io.Writer
}

// NewConsole returns a console reading from in and writing to out. A nil in
// reads as end of input.
func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{in: in, out: out}
}

// Read reads len(dst) bytes of keyboard input, or fewer at end of input.
func (c *Console) Read(dst []byte) (int, error) {
	if c.in == nil {
		return 0, nil
	}
	c.inMu.Lock()
	defer c.inMu.Unlock()
	n, err := io.ReadFull(c.in, dst)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		err = nil
	}
	return n, err
}

// Write writes src to the display.
func (c *Console) Write(src []byte) (int, error) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	done := 0
	for done < len(src) {
		end := done + consoleChunk
		if end > len(src) {
			end = len(src)
		}
		n, err := c.out.Write(src[done:end])
		done += n
		if err != nil {
			return done, err
		}
	}
	return done, nil
}

// Printf formats a message onto the display.
func (c *Console) Printf(format string, v ...any) {
	c.Write([]byte(fmt.Sprintf(format, v...)))
}
