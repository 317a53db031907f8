// Package uploads serves stored video blobs directly, so that clients can
// download (or play) the media referenced by a catalog record.
package uploads

import (
	"errors"
	"net/http"
	"os"

	"github.com/hbomb79/Lumen/internal/blob"
	"github.com/hbomb79/Lumen/pkg/logger"
	"github.com/labstack/echo/v4"
)

var log = logger.Get("Uploads")

type (
	BlobReader interface {
		Open(filename string) (*os.File, error)
	}

	Controller struct {
		blobs BlobReader
	}
)

func New(blobs BlobReader) *Controller {
	return &Controller{blobs: blobs}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/:filename/", controller.serve)
	eg.HEAD("/:filename/", controller.serve)
}

func (controller *Controller) serve(ec echo.Context) error {
	file, err := controller.blobs.Open(ec.Param("filename"))
	if err != nil {
		// Invalid names (hidden or traversing) are indistinguishable from missing ones
		if !errors.Is(err, os.ErrNotExist) && !errors.Is(err, blob.ErrInvalidFilename) {
			log.Emit(logger.WARNING, "Failed to open blob for download: %v\n", err)
		}

		return echo.NewHTTPError(http.StatusNotFound, "File not found")
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil || !info.Mode().IsRegular() {
		return echo.NewHTTPError(http.StatusNotFound, "File not found")
	}

	http.ServeContent(ec.Response(), ec.Request(), info.Name(), info.ModTime(), file)
	return nil
}
