package asyncio

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
)

// Kind classifies a file operation failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindAccessDenied
	KindAlreadyExists
	KindIsADirectory
	KindTooManyOpenFiles
	KindDiskFull
	KindReadOnly
	KindInvalidPath
	KindPathTooLong
	KindCancelled
	KindIO
)

// String returns the taxonomy name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindAccessDenied:
		return "access_denied"
	case KindAlreadyExists:
		return "already_exists"
	case KindIsADirectory:
		return "is_a_directory"
	case KindTooManyOpenFiles:
		return "too_many_open_files"
	case KindDiskFull:
		return "disk_full"
	case KindReadOnly:
		return "read_only"
	case KindInvalidPath:
		return "invalid_path"
	case KindPathTooLong:
		return "path_too_long"
	case KindCancelled:
		return "cancelled"
	case KindIO:
		return "io"
	default:
		return "unknown"
	}
}

// ErrCancelled is returned for operations started after CancelAll.
var ErrCancelled = errors.New("operation cancelled")

// Error wraps an underlying OS error with its taxonomy kind and the path
// the operation targeted.
type Error struct {
	Op   string
	Path string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Path, e.Kind)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Classify maps an OS-level error to the fixed failure taxonomy.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if errors.Is(err, ErrCancelled) {
		return KindCancelled
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return KindNotFound
	case errors.Is(err, fs.ErrPermission):
		return KindAccessDenied
	case errors.Is(err, fs.ErrExist):
		return KindAlreadyExists
	case errors.Is(err, fs.ErrInvalid):
		return KindInvalidPath
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ENOENT:
			return KindNotFound
		case syscall.EACCES, syscall.EPERM:
			return KindAccessDenied
		case syscall.EEXIST:
			return KindAlreadyExists
		case syscall.EISDIR:
			return KindIsADirectory
		case syscall.EMFILE, syscall.ENFILE:
			return KindTooManyOpenFiles
		case syscall.ENOSPC, syscall.EDQUOT:
			return KindDiskFull
		case syscall.EROFS:
			return KindReadOnly
		case syscall.EINVAL, syscall.ENOTDIR:
			return KindInvalidPath
		case syscall.ENAMETOOLONG:
			return KindPathTooLong
		case syscall.EIO:
			return KindIO
		}
	}
	return KindUnknown
}

func wrapError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Path: path, Kind: Classify(err), Err: err}
}

// KindOf extracts the taxonomy kind from an error. Errors that did not pass
// through this package report KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, ErrCancelled) {
		return KindCancelled
	}
	return KindUnknown
}
