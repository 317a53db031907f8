package videos

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hbomb79/Lumen/internal/catalog"
	"github.com/hbomb79/Lumen/internal/ingest"
	"github.com/labstack/echo/v4"
)

type (
	Service interface {
		Ingest(ctx context.Context, upload ingest.Upload) (*ingest.Result, error)
		Delete(ctx context.Context, id uuid.UUID) error
		List(ctx context.Context) ([]*catalog.MediaRecord, error)
		Get(ctx context.Context, id uuid.UUID) (*catalog.MediaRecord, error)
	}

	Controller struct {
		service  Service
		validate *validator.Validate
	}
)

func New(validate *validator.Validate, service Service) *Controller {
	return &Controller{service: service, validate: validate}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/", controller.list)
	eg.GET("/:id/", controller.get)
	eg.POST("/upload/", controller.upload)
	eg.POST("/delete/", controller.delete)
}

// upload accepts a multipart form containing a single video, or an archive of
// videos, which is ingested in to the catalog.
func (controller *Controller) upload(ec echo.Context) error {
	var request UploadRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid body: %s", err.Error()))
	}

	if err := controller.validate.Struct(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid body: %s", err.Error()))
	}

	header, err := ec.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid body: 'file' is required")
	}

	file, err := header.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid body: 'file' could not be read")
	}
	defer file.Close()

	result, err := controller.service.Ingest(ec.Request().Context(), ingest.Upload{
		Filename:    header.Filename,
		Content:     file,
		Title:       request.Title,
		Description: request.Description,
		Tags:        request.Tags,
		School:      request.School,
	})
	if err != nil {
		return err
	}

	return ec.JSON(http.StatusOK, UploadResponse{
		Status:        "success",
		Message:       fmt.Sprintf("Uploaded %d video(s) from '%s'", len(result.Records), header.Filename),
		UploadedFiles: result.Filenames(),
		Videos:        NewDtos(result.Records),
	})
}

func (controller *Controller) delete(ec echo.Context) error {
	var request DeleteRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid body: %s", err.Error()))
	}

	if err := controller.validate.Struct(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid body: %s", err.Error()))
	}

	id, err := uuid.Parse(request.VideoID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid body: 'video_id' is not a valid UUID")
	}

	if err := controller.service.Delete(ec.Request().Context(), id); err != nil {
		return err
	}

	return ec.JSON(http.StatusOK, DeleteResponse{Status: "success", Message: fmt.Sprintf("Video %s deleted", id)})
}

func (controller *Controller) list(ec echo.Context) error {
	records, err := controller.service.List(ec.Request().Context())
	if err != nil {
		return err
	}

	return ec.JSON(http.StatusOK, NewDtos(records))
}

func (controller *Controller) get(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "ID is not a valid UUID")
	}

	record, err := controller.service.Get(ec.Request().Context(), id)
	if err != nil {
		return err
	}

	return ec.JSON(http.StatusOK, NewDto(record))
}
