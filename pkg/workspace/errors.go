package workspace

import (
	"errors"
	"io/fs"
)

// Sentinel causes. Every error returned by this package wraps one of them.
var (
	ErrInvalidPath      = errors.New("invalid path")
	ErrOutsideWorkspace = errors.New("path escapes workspace")
	ErrNotFound         = errors.New("path does not exist")
	ErrPermission       = errors.New("operation not permitted")
	ErrTooLarge         = errors.New("content too large")
	ErrIO               = errors.New("i/o failure")
)

// PathError records the operation and workspace path that failed.
type PathError struct {
	Op   string
	Path string
	Err  error
	// cause is the underlying OS error, kept for the message only.
	cause error
}

func (e *PathError) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	msg += ": " + e.Err.Error()
	if e.cause != nil {
		msg += " (" + e.cause.Error() + ")"
	}
	return msg
}

func (e *PathError) Unwrap() error {
	return e.Err
}

func newPathError(op string, path string, sentinel error) error {
	return &PathError{Op: op, Path: path, Err: sentinel}
}

// osError maps an OS error to the matching sentinel.
func osError(op string, path string, err error) error {
	if err == nil {
		return nil
	}

	sentinel := ErrIO
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return newPathError(op, path, ErrNotFound)
	case errors.Is(err, fs.ErrPermission):
		return newPathError(op, path, ErrPermission)
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		err = pathErr.Err
	}
	return &PathError{Op: op, Path: path, Err: sentinel, cause: err}
}
