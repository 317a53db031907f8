package archive

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownFormat   = errors.New("unrecognised archive format")
	ErrTooManyEntries  = errors.New("archive contains too many entries")
	ErrArchiveTooLarge = errors.New("archive expands beyond the permitted size")
	ErrSizeLimitTooBig = errors.New("size limit exceeds the largest supported value")

	// ErrConflictingEntry is returned when an archive places an entry beneath
	// a path which it also contains as a regular file.
	ErrConflictingEntry = errors.New("archive entry conflicts with a file of the same name")
)

// CorruptArchiveError is returned when an archive cannot be parsed, or when
// its contents exceed the configured extraction limits. It is always the
// fault of the uploaded content rather than the server.
type CorruptArchiveError struct {
	Err error
}

func (e *CorruptArchiveError) Error() string {
	return fmt.Sprintf("archive is corrupt or unreadable: %s", e.Err)
}

func (e *CorruptArchiveError) Unwrap() error { return e.Err }

// sourceError tags an error as having originated while reading from the
// archive (as opposed to writing to the workspace).
type sourceError struct {
	err error
}

func (e *sourceError) Error() string { return e.err.Error() }
func (e *sourceError) Unwrap() error { return e.err }
