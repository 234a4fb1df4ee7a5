package storagekit

import (
	"context"
	"errors"
	"fmt"
)

// Common filesystem errors
var (
	ErrNotExist     = errors.New("file does not exist")
	ErrExist        = errors.New("file already exists")
	ErrPermission   = errors.New("permission denied")
	ErrClosed       = errors.New("file already closed")
	ErrNotDir       = errors.New("not a directory")
	ErrIsDir        = errors.New("is a directory")
	ErrNotEmpty     = errors.New("directory not empty")
	ErrInvalidName  = errors.New("invalid name")
	ErrNotSupported = errors.New("operation not supported")
	ErrNotAllowed   = errors.New("operation not allowed")
)

// Handler error kinds. Every error returned by a Handler operation matches
// at most one of these with errors.Is, or is a *BackendError.
var (
	// ErrConfiguration reports an unsupported protocol, missing required
	// settings, or a path that escapes the base path.
	ErrConfiguration = errors.New("storage configuration error")

	// ErrDirectory reports that a parent directory could not be created.
	ErrDirectory = errors.New("directory could not be created")

	// ErrMount reports a failed mount or unmount of a remote filesystem.
	ErrMount = errors.New("mount failed")

	// ErrUnsupported reports an operation the active backend cannot perform.
	ErrUnsupported = fmt.Errorf("unsupported operation: %w", ErrNotSupported)

	// ErrStreamConsumed is yielded when a stream read sequence is ranged
	// over a second time.
	ErrStreamConsumed = errors.New("stream already consumed")
)

// PathError records an error and the operation and file path that caused it
type PathError struct {
	Op   string
	Path string
	Err  error
}

// Error implements the error interface
func (e *PathError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error
func (e *PathError) Unwrap() error {
	return e.Err
}

// BackendError wraps a driver failure that has no more specific kind:
// permission denial, network failure, quota and the like.
type BackendError struct {
	Op   string
	Path string
	Err  error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// IsNotExist reports whether an error indicates that a file or directory
// does not exist
func IsNotExist(err error) bool {
	return errors.Is(err, ErrNotExist)
}

// IsNotFound is an alias of IsNotExist.
func IsNotFound(err error) bool {
	return IsNotExist(err)
}

// IsExist reports whether an error indicates that a file or directory
// already exists
func IsExist(err error) bool {
	return errors.Is(err, ErrExist)
}

// IsPermission reports whether an error indicates that permission is denied
func IsPermission(err error) bool {
	return errors.Is(err, ErrPermission)
}

// IsUnsupported reports whether err is an unsupported operation error.
func IsUnsupported(err error) bool {
	return errors.Is(err, ErrNotSupported)
}

// IsBackendError reports whether err is a catch-all backend failure.
func IsBackendError(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}

// classify turns a driver error into one of the handler error kinds.
// Recognised kinds keep their PathError; everything else becomes a
// BackendError.
func classify(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	switch {
	case errors.Is(err, ErrConfiguration),
		errors.Is(err, ErrDirectory),
		errors.Is(err, ErrMount),
		errors.Is(err, ErrNotSupported):
		return err
	case errors.Is(err, ErrNotAllowed):
		return &PathError{Op: op, Path: path, Err: fmt.Errorf("%w: %w", ErrConfiguration, err)}
	case errors.Is(err, ErrNotExist):
		return &PathError{Op: op, Path: path, Err: ErrNotExist}
	}
	// Shape violations such as ErrIsDir or ErrNotEmpty stay matchable
	// through Unwrap.
	return &BackendError{Op: op, Path: path, Err: err}
}
