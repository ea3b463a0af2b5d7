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
	"pintrap.dev/pintrap/pkg/abi/pintos"
	"pintrap.dev/pintrap/pkg/metric"
)

// unknownSyscall is the sysno field value for numbers outside the table.
const unknownSyscall = "unknown"

func sysnoFieldValues() []string {
	vals := make([]string, 0, pintos.NumSyscalls+1)
	for i := 0; i < pintos.NumSyscalls; i++ {
		vals = append(vals, pintos.Sysno(i).String())
	}
	return append(vals, unknownSyscall)
}

var (
	syscallCounter   = metric.MustCreateNewUint64Metric("/kernel/syscalls", "Number of syscalls dispatched, by syscall.", metric.NewField("sysno", sysnoFieldValues()))
	killedCounter    = metric.MustCreateNewUint64Metric("/kernel/processes_killed", "Number of processes terminated by the kernel.")
	openFilesCounter = metric.MustCreateNewUint64Metric("/kernel/open_files", "Number of entries added to open-file tables.")
)
