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

// Package config provides basic infrastructure to set configuration settings
// for pintrap. Each setting that can be changed from the command line must
// have a corresponding field in Config and a flag registered in
// RegisterFlags.
package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/mohae/deepcopy"
	"pintrap.dev/pintrap/pkg/abi/pintos"
	"pintrap.dev/pintrap/pkg/log"
	"pintrap.dev/pintrap/pkg/refs"
)

// Config holds configuration that is not part of the command lines being
// run.
//
// Follow these steps to add a new flag:
//  1. Create a new field in Config.
//  2. Add a field tag with the flag name.
//  3. Register a new flag in flags.go, with the same name and add a
//     description.
//  4. Add any necessary validation into validate().
type Config struct {
	// RootDir is the host directory used as the root of the host
	// filesystem.
	RootDir string `flag:"root"`

	// ConfigFile is a TOML or YAML file whose keys are flag names.
	ConfigFile string `flag:"config"`

	// FileSystem selects the filesystem user programs see.
	FileSystem FileSystemType `flag:"fs"`

	// LogFilename is the filename to log to, if not empty.
	LogFilename string `flag:"log"`

	// LogFormat is the log format.
	LogFormat string `flag:"log-format"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug"`

	// DebugLog is the path to log debug information to, if not empty.
	DebugLog string `flag:"debug-log"`

	// DebugLogFormat is the log format for debug.
	DebugLogFormat string `flag:"debug-log-format"`

	// AlsoLogToStderr allows to send log messages to stderr.
	AlsoLogToStderr bool `flag:"alsologtostderr"`

	// Strace indicates that strace should be enabled.
	Strace bool `flag:"strace"`

	// StraceSyscalls is the set of syscalls to trace (comma-separated
	// values). If empty, all syscalls will be traced.
	StraceSyscalls string `flag:"strace-syscalls"`

	// StraceLogSize is the max size of data blobs to display.
	StraceLogSize uint `flag:"strace-log-size"`

	// FDLimit bounds the open-file table of each process. Zero selects the
	// kernel default and a negative value removes the bound.
	FDLimit int `flag:"fdlimit"`

	// DataPages is the size of each process's data segment in pages. Zero
	// selects the kernel default.
	DataPages int `flag:"data-pages"`

	// ReferenceLeak sets reference leak check mode.
	ReferenceLeak refs.LeakMode `flag:"ref-leak-mode"`

	// MetricsFile is where metrics are written in the Prometheus text
	// format when the run command ends, if not empty.
	MetricsFile string `flag:"metrics-file"`
}

func (c *Config) validate() error {
	if c.FileSystem == FileSystemHost && c.RootDir == "" {
		return fmt.Errorf("--fs=host requires --root")
	}
	for _, format := range []string{c.LogFormat, c.DebugLogFormat} {
		if format != "text" && format != "json" {
			return fmt.Errorf("invalid log format %q, must be 'text' or 'json'", format)
		}
	}
	if c.DataPages < 0 {
		return fmt.Errorf("--data-pages must be positive, got %d", c.DataPages)
	}
	for _, name := range c.StraceSyscallNames() {
		if _, ok := pintos.SysnoByName(name); !ok {
			return fmt.Errorf("--strace-syscalls: syscall %q not found", name)
		}
	}
	return nil
}

// StraceSyscallNames returns StraceSyscalls as a list.
func (c *Config) StraceSyscallNames() []string {
	if c.StraceSyscalls == "" {
		return nil
	}
	return strings.Split(c.StraceSyscalls, ",")
}

// Copy returns a deep copy of c.
func (c *Config) Copy() *Config {
	return deepcopy.Copy(c).(*Config)
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config:")
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		name, ok := st.Field(i).Tag.Lookup("flag")
		if !ok {
			continue
		}
		log.Infof("\t%s (--%s): %s", st.Field(i).Name, name, getVal(obj.Field(i)))
	}
}

// FileSystemType tells which filesystem user programs see.
type FileSystemType int

const (
	// FileSystemMemory runs programs on an empty in-memory filesystem.
	FileSystemMemory FileSystemType = iota

	// FileSystemHost runs programs on a host directory.
	FileSystemHost
)

func fileSystemTypePtr(v FileSystemType) *FileSystemType {
	return &v
}

// Set implements flag.Value.
func (f *FileSystemType) Set(v string) error {
	switch v {
	case "memory":
		*f = FileSystemMemory
	case "host":
		*f = FileSystemHost
	default:
		return fmt.Errorf("invalid filesystem type %q", v)
	}
	return nil
}

// Get implements flag.Getter.
func (f *FileSystemType) Get() any {
	return *f
}

// String implements flag.Value.
func (f FileSystemType) String() string {
	switch f {
	case FileSystemMemory:
		return "memory"
	case FileSystemHost:
		return "host"
	}
	panic(fmt.Sprintf("Invalid filesystem type %d", f))
}

func leakModePtr(v refs.LeakMode) *refs.LeakMode {
	return &v
}
