package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/hbomb79/Lumen/internal/archive"
	"github.com/hbomb79/Lumen/internal/blob"
	"github.com/hbomb79/Lumen/internal/catalog"
)

type (
	// UnsupportedMediaError is returned when an upload is neither a recognised
	// video format nor a recognised archive format.
	UnsupportedMediaError struct {
		Filename string
	}

	// ValidationError is returned when the upload request itself is malformed.
	ValidationError struct {
		Field  string
		Reason string
	}

	// UploadTooLargeError is returned when the upload exceeds the configured limit.
	UploadTooLargeError struct {
		Limit uint64
	}

	// NotFoundError is returned when a media record which does not exist is
	// requested or deleted.
	NotFoundError struct {
		ID uuid.UUID
	}

	// IngestError wraps a failure which occurred part way through an ingestion, recording
	// the stage it failed in and the client-side name of the upload.
	IngestError struct {
		Filename string
		Stage    IngestState
		Err      error
	}
)

func (e *UnsupportedMediaError) Error() string {
	if e.Filename == "" {
		return "upload has no filename"
	}
	return fmt.Sprintf("file '%s' is not a supported video or archive format", e.Filename)
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("field '%s' is invalid: %s", e.Field, e.Reason)
}

func (e *UploadTooLargeError) Error() string {
	return fmt.Sprintf("upload exceeds maximum permitted size of %s", humanize.Bytes(e.Limit))
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("media %s not found", e.ID)
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("ingestion of '%s' failed while %s: %s", e.Filename, e.Stage.Describe(), publicMessage(e.Err))
}

func (e *IngestError) Unwrap() error { return e.Err }

// publicMessage returns the message for errors which are known to be safe to
// show to clients. Anything else is replaced with a generic message, as it may
// contain host paths or other internal detail.
func publicMessage(err error) string {
	var (
		corruptErr  *archive.CorruptArchiveError
		writeErr    *blob.StorageWriteError
		moveErr     *blob.StorageMoveError
		deleteErr   *blob.StorageDeleteError
		catalogErr  *catalog.CatalogError
		tooLargeErr *UploadTooLargeError
	)

	switch {
	case errors.As(err, &corruptErr):
		return corruptErr.Error()
	case errors.As(err, &tooLargeErr):
		return tooLargeErr.Error()
	case errors.As(err, &writeErr):
		return writeErr.Error()
	case errors.As(err, &moveErr):
		return moveErr.Error()
	case errors.As(err, &deleteErr):
		return deleteErr.Error()
	case errors.As(err, &catalogErr):
		return catalogErr.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "ingestion timed out"
	case errors.Is(err, context.Canceled):
		return "ingestion was cancelled"
	default:
		return "an internal error occurred"
	}
}
