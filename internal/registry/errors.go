package registry

import "errors"

var (
	// ErrOutdatedWorkingCopy indicates the working copy format is too old for
	// the client. The path needs an upgrade before it can be opened.
	ErrOutdatedWorkingCopy = errors.New("working copy format is outdated")

	// ErrNotWorkingCopy indicates the path is not a working copy.
	ErrNotWorkingCopy = errors.New("not a working copy")

	// ErrHandleDisposed indicates the handle was disposed before the open
	// completed.
	ErrHandleDisposed = errors.New("handle disposed while opening")

	// ErrClosed is returned by Open after the registry has been closed.
	ErrClosed = errors.New("registry is closed")
)
