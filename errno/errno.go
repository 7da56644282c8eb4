// Package errno defines the rustnix-fs error taxonomy: a fixed set of named
// errors, each carrying the POSIX errno code the syscall layer reports to
// callers, with support for attaching context as the error rises through the
// stack.
package errno

import (
	"fmt"
	"syscall"
)

// DiskoError is a named error constant, analogous to a single errno value.
// Its string form is the human-readable description; its Errno method
// returns the POSIX code a syscall shim would return.
type DiskoError string

func (e DiskoError) Error() string {
	return string(e)
}

// WithMessage attaches additional context to the error without losing the
// underlying errno.
func (e DiskoError) WithMessage(message string) DriverError {
	return &wrappedError{
		message:  fmt.Sprintf("%s: %s", message, e.Error()),
		original: e,
	}
}

// Wrap records err as the cause of e, keeping e's errno as the reported
// code while preserving err for Unwrap.
func (e DiskoError) Wrap(err error) DriverError {
	return &wrappedError{
		message:  fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		original: err,
		errno:    e,
	}
}

// Errno reports the POSIX errno code this error maps to.
func (e DiskoError) Errno() syscall.Errno {
	code, ok := errnoTable[e]
	if !ok {
		return syscall.EIO
	}
	return code
}

// The error taxonomy, one DiskoError per filesystem failure mode.
const (
	ErrInvalidPath         = DiskoError("invalid path")
	ErrFileNotFound        = DiskoError("file not found")
	ErrFileExists          = DiskoError("file exists")
	ErrDiskFull            = DiskoError("disk full")
	ErrOutOfInodes         = DiskoError("out of inodes")
	ErrOutOfDataBlocks     = DiskoError("out of data blocks")
	ErrInvalidInode        = DiskoError("invalid inode")
	ErrInvalidDataBlock    = DiskoError("invalid data block")
	ErrInvalidSuperblock   = DiskoError("invalid superblock")
	ErrInvalidInodeTable   = DiskoError("invalid inode table")
	ErrInvalidMetadata     = DiskoError("invalid metadata")
	ErrWriteError          = DiskoError("write error")
	ErrReadError           = DiskoError("read error")
	ErrUnwritableFile      = DiskoError("file is not writable")
	ErrUnreadableFile      = DiskoError("file is not readable")
	ErrFilesystemNotFound  = DiskoError("filesystem not found")
	ErrFilesystemExists    = DiskoError("filesystem already mounted")
	ErrInvalidFileDescriptor = DiskoError("invalid file descriptor")
)

var errnoTable = map[DiskoError]syscall.Errno{
	ErrInvalidPath:           syscall.EINVAL,
	ErrFileNotFound:          syscall.ENOENT,
	ErrFileExists:            syscall.EEXIST,
	ErrDiskFull:              syscall.ENOSPC,
	ErrOutOfInodes:           syscall.ENOSPC,
	ErrOutOfDataBlocks:       syscall.ENOSPC,
	ErrInvalidInode:          syscall.EIO,
	ErrInvalidDataBlock:      syscall.EIO,
	ErrInvalidSuperblock:     syscall.EIO,
	ErrInvalidInodeTable:     syscall.EIO,
	ErrInvalidMetadata:       syscall.EIO,
	ErrWriteError:            syscall.EIO,
	ErrReadError:             syscall.EIO,
	ErrUnwritableFile:        syscall.EBADF,
	ErrUnreadableFile:        syscall.EBADF,
	ErrFilesystemNotFound:    syscall.ENODEV,
	ErrFilesystemExists:      syscall.EBUSY,
	ErrInvalidFileDescriptor: syscall.EBADF,
}

// DriverError is the interface satisfied by the errors WithMessage and Wrap
// return: a plain error that also knows the errno code it maps to and can
// be wrapped with more context as it propagates. A bare DiskoError has no
// Unwrap method and so does not satisfy it.
type DriverError interface {
	error
	Errno() syscall.Errno
	WithMessage(message string) DriverError
	Wrap(err error) DriverError
	Unwrap() error
}

type wrappedError struct {
	message  string
	original error
	errno    DiskoError
}

func (e *wrappedError) Error() string {
	return e.message
}

func (e *wrappedError) Errno() syscall.Errno {
	if e.errno != "" {
		return e.errno.Errno()
	}
	var de DiskoError
	if asDiskoError(e.original, &de) {
		return de.Errno()
	}
	return syscall.EIO
}

func (e *wrappedError) WithMessage(message string) DriverError {
	return &wrappedError{
		message:  fmt.Sprintf("%s: %s", message, e.message),
		original: e,
		errno:    e.errno,
	}
}

func (e *wrappedError) Wrap(err error) DriverError {
	return &wrappedError{
		message:  fmt.Sprintf("%s: %s", e.message, err.Error()),
		original: err,
		errno:    e.errno,
	}
}

func (e *wrappedError) Unwrap() error {
	return e.original
}

func asDiskoError(err error, target *DiskoError) bool {
	de, ok := err.(DiskoError)
	if !ok {
		return false
	}
	*target = de
	return true
}
