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

// Package kernerr contains the kernel's error values. Like every other
// kernel-internal error they never reach user code: the syscall dispatcher
// turns fatal errors into process termination and everything else into the
// syscall's sentinel return value.
package kernerr

import (
	goerrors "errors"
	"fmt"

	"golang.org/x/sys/unix"
	"pintrap.dev/pintrap/pkg/abi/pintos"
	"pintrap.dev/pintrap/pkg/errors"
)

// The following errors are semantically identical to Errno of type unix.Errno
// or syscall.Errno. However, since the kernel runs no host syscalls on behalf
// of user code, they are declared here as *errors.Error values.
var (
	noError      *errors.Error = nil
	EPERM                      = errors.New(pintos.EPERM, "operation not permitted")
	ENOENT                     = errors.New(pintos.ENOENT, "no such file or directory")
	ESRCH                      = errors.New(pintos.ESRCH, "no such process")
	ENOEXEC                    = errors.New(pintos.ENOEXEC, "exec format error")
	EBADF                      = errors.New(pintos.EBADF, "bad file number")
	ECHILD                     = errors.New(pintos.ECHILD, "no child processes")
	ENOMEM                     = errors.New(pintos.ENOMEM, "out of memory")
	EACCES                     = errors.New(pintos.EACCES, "permission denied")
	EFAULT                     = errors.New(pintos.EFAULT, "bad address")
	EBUSY                      = errors.New(pintos.EBUSY, "device or resource busy")
	EEXIST                     = errors.New(pintos.EEXIST, "file exists")
	ENOTDIR                    = errors.New(pintos.ENOTDIR, "not a directory")
	EISDIR                     = errors.New(pintos.EISDIR, "is a directory")
	EINVAL                     = errors.New(pintos.EINVAL, "invalid argument")
	EMFILE                     = errors.New(pintos.EMFILE, "too many open files")
	ETXTBSY                    = errors.New(pintos.ETXTBSY, "text file busy")
	ENOSPC                     = errors.New(pintos.ENOSPC, "no space left on device")
	ENAMETOOLONG               = errors.New(pintos.ENAMETOOLONG, "file name too long")
	ENOSYS                     = errors.New(pintos.ENOSYS, "invalid system call number")
	ENOTEMPTY                  = errors.New(pintos.ENOTEMPTY, "directory not empty")
)

// errorSlice holds errors by errno for fast translation between errnos and
// *errors.Error.
var errorSlice = []*errors.Error{
	pintos.NOERRNO:      noError,
	pintos.EPERM:        EPERM,
	pintos.ENOENT:       ENOENT,
	pintos.ESRCH:        ESRCH,
	pintos.ENOEXEC:      ENOEXEC,
	pintos.EBADF:        EBADF,
	pintos.ECHILD:       ECHILD,
	pintos.ENOMEM:       ENOMEM,
	pintos.EACCES:       EACCES,
	pintos.EFAULT:       EFAULT,
	pintos.EBUSY:        EBUSY,
	pintos.EEXIST:       EEXIST,
	pintos.ENOTDIR:      ENOTDIR,
	pintos.EISDIR:       EISDIR,
	pintos.EINVAL:       EINVAL,
	pintos.EMFILE:       EMFILE,
	pintos.ETXTBSY:      ETXTBSY,
	pintos.ENOSPC:       ENOSPC,
	pintos.ENAMETOOLONG: ENAMETOOLONG,
	pintos.ENOSYS:       ENOSYS,
	pintos.ENOTEMPTY:    ENOTEMPTY,
}

// ToError converts an *errors.Error to an error, mapping the nil *Error to a
// nil interface.
func ToError(err *errors.Error) error {
	if err == noError {
		return nil
	}
	return err
}

// Equals reports whether err is, or wraps, e.
func Equals(e *errors.Error, err error) bool {
	if e == noError {
		return err == nil
	}
	return goerrors.Is(err, e)
}

// ToErrno extracts the errno carried by err. ok is false if err does not wrap
// an *errors.Error.
func ToErrno(err error) (e pintos.Errno, ok bool) {
	var kerr *errors.Error
	if goerrors.As(err, &kerr) && kerr != nil {
		return kerr.Errno(), true
	}
	return pintos.NOERRNO, false
}

// IsFatal reports whether err must terminate the calling process instead of
// being reported through the syscall's return value. Only protocol
// violations and invalid user memory are fatal.
func IsFatal(err error) bool {
	return Equals(EFAULT, err) || Equals(ENOSYS, err)
}

// ErrorFromUnix returns the kernel error for the given host errno. Host
// errnos without a kernel equivalent are reported as EINVAL, wrapped so the
// original value is kept for logging.
func ErrorFromUnix(err unix.Errno) error {
	if err == unix.Errno(0) {
		return nil
	}
	if err == unix.ENOSYS {
		// A missing host syscall is not a bad user syscall.
		return fmt.Errorf("host error %v: %w", err, EINVAL)
	}
	if int(err) < len(errorSlice) {
		if e := errorSlice[err]; e != nil {
			return e
		}
	}
	return fmt.Errorf("host error %v: %w", err, EINVAL)
}

// FromHost translates an error returned by a host file operation. Errors that
// already carry a kernel errno are returned unchanged.
func FromHost(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := ToErrno(err); ok {
		return err
	}
	var errno unix.Errno
	if goerrors.As(err, &errno) {
		return ErrorFromUnix(errno)
	}
	return fmt.Errorf("%v: %w", err, EINVAL)
}
