package blob

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidFilename = errors.New("blob filename is invalid")
	ErrSourceMissing   = errors.New("source file does not exist")
)

type (
	// StorageWriteError indicates that new content could not be written in to
	// the store. The cause is retained for logging, but deliberately omitted from
	// the error message as it typically contains host paths.
	StorageWriteError struct {
		Filename string
		Err      error
	}

	// StorageMoveError indicates an existing local file could not be relocated
	// in to the store.
	StorageMoveError struct {
		Source   string
		Filename string
		Err      error
	}

	// StorageDeleteError indicates an unexpected failure removing a blob. A
	// missing blob is never a StorageDeleteError.
	StorageDeleteError struct {
		Filename string
		Err      error
	}
)

func (e *StorageWriteError) Error() string {
	if e.Filename == "" {
		return "failed to write blob to storage"
	}
	return fmt.Sprintf("failed to write blob '%s' to storage", e.Filename)
}

func (e *StorageWriteError) Unwrap() error { return e.Err }

func (e *StorageMoveError) Error() string {
	return fmt.Sprintf("failed to move file '%s' in to storage", e.Source)
}

func (e *StorageMoveError) Unwrap() error { return e.Err }

func (e *StorageDeleteError) Error() string {
	return fmt.Sprintf("failed to delete blob '%s' from storage", e.Filename)
}

func (e *StorageDeleteError) Unwrap() error { return e.Err }
