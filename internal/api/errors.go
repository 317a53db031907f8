package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/hbomb79/Lumen/internal/archive"
	"github.com/hbomb79/Lumen/internal/blob"
	"github.com/hbomb79/Lumen/internal/catalog"
	"github.com/hbomb79/Lumen/internal/ingest"
	"github.com/hbomb79/Lumen/pkg/logger"
	"github.com/labstack/echo/v4"
)

const genericErrorMessage = "an internal error occurred"

// ErrorResponse is the body returned for every failed request. Detail
// mirrors Message, as existing clients read either.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

// errorHandler renders any error returned from a handler as an ErrorResponse, choosing
// the status code based on the type of error.
func errorHandler(err error, ec echo.Context) {
	if ec.Response().Committed {
		return
	}

	status, message := classifyError(err)
	if status >= http.StatusInternalServerError {
		log.Emit(logger.ERROR, "%s %s failed: %v\n", ec.Request().Method, ec.Request().URL.Path, err)
	}

	var writeErr error
	if ec.Request().Method == http.MethodHead {
		writeErr = ec.NoContent(status)
	} else {
		writeErr = ec.JSON(status, ErrorResponse{Status: "error", Message: message, Detail: message})
	}
	if writeErr != nil {
		log.Emit(logger.WARNING, "Failed to write error response: %v\n", writeErr)
	}
}

// classifyError returns the HTTP status and client-safe message for the error
// provided. Errors of an unrecognised type are reported with a generic message, as
// their text may include internal detail such as filesystem paths.
func classifyError(err error) (int, string) {
	var (
		httpErr        *echo.HTTPError
		unsupportedErr *ingest.UnsupportedMediaError
		validationErr  *ingest.ValidationError
		corruptErr     *archive.CorruptArchiveError
		tooLargeErr    *ingest.UploadTooLargeError
		notFoundErr    *ingest.NotFoundError
		ingestErr      *ingest.IngestError
		catalogErr     *catalog.CatalogError
		writeErr       *blob.StorageWriteError
		moveErr        *blob.StorageMoveError
		deleteErr      *blob.StorageDeleteError
	)

	switch {
	case errors.As(err, &httpErr):
		if httpErr.Internal != nil {
			log.Emit(logger.DEBUG, "HTTP error %d caused by: %v\n", httpErr.Code, httpErr.Internal)
		}
		return httpErr.Code, fmt.Sprint(httpErr.Message)
	case errors.As(err, &unsupportedErr), errors.As(err, &validationErr), errors.As(err, &corruptErr):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &tooLargeErr):
		return http.StatusRequestEntityTooLarge, err.Error()
	case errors.As(err, &notFoundErr):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "request timed out"
	case errors.As(err, &ingestErr), errors.As(err, &catalogErr),
		errors.As(err, &writeErr), errors.As(err, &moveErr), errors.As(err, &deleteErr):
		return http.StatusInternalServerError, err.Error()
	default:
		return http.StatusInternalServerError, genericErrorMessage
	}
}
