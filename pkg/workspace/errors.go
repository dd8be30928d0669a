package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"
)

const (
	ErrorInvalidPath      = "invalid_path"
	ErrorOutsideStorage   = "outside_storage"
	ErrorPathNotFound     = "path_not_found"
	ErrorPermissionDenied = "permission_denied"
	ErrorNoSpace          = "no_space"
	ErrorIO               = "io_error"
)

// Error represents a stable, categorized storage failure.
type Error struct {
	Category string
	Detail   string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Detail == "" {
		return e.Category
	}

	return fmt.Sprintf("%s: %s", e.Category, e.Detail)
}

// NewError creates a categorized storage error.
func NewError(category string, detail string) error {
	return &Error{Category: category, Detail: detail}
}

// IsNotFound reports whether err means the file is gone.
func IsNotFound(err error) bool {
	return CategoryFromError(err) == ErrorPathNotFound
}

// CategoryFromError returns the stable category for an error when available.
func CategoryFromError(err error) string {
	if err == nil {
		return ""
	}

	var categorized *Error
	if errors.As(err, &categorized) {
		return categorized.Category
	}

	if errors.Is(err, fs.ErrNotExist) {
		return ErrorPathNotFound
	}
	if errors.Is(err, fs.ErrPermission) {
		return ErrorPermissionDenied
	}
	if errors.Is(err, syscall.ENOSPC) {
		return ErrorNoSpace
	}

	return ErrorIO
}

// NormalizeIOError converts OS-level errors into stable category errors.
func NormalizeIOError(err error, detail string) error {
	if err == nil {
		return nil
	}

	category := CategoryFromError(err)
	if detail == "" {
		detail = err.Error()
	}

	// Keep os.PathError context out of user-visible text by default.
	if category == ErrorPathNotFound {
		return NewError(category, "path does not exist")
	}
	if category == ErrorPermissionDenied {
		return NewError(category, "operation not permitted")
	}
	if category == ErrorNoSpace {
		return NewError(category, "storage root is full")
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return NewError(category, pathErr.Err.Error())
	}

	return NewError(category, detail)
}
