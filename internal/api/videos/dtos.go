package videos

import (
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Lumen/internal/api/util"
	"github.com/hbomb79/Lumen/internal/catalog"
)

type (
	MetadataDto struct {
		Title       string   `json:"title"`
		Description string   `json:"description"`
		Tags        []string `json:"tags"`
		School      string   `json:"school"`
	}

	// Dto is the public representation of a media record. URL is the path
	// the stored video can be downloaded from.
	Dto struct {
		ID        uuid.UUID   `json:"id"`
		Filename  string      `json:"filename"`
		URL       string      `json:"url"`
		Metadata  MetadataDto `json:"metadata"`
		CreatedAt time.Time   `json:"created_at"`
	}

	UploadRequest struct {
		Title       string `form:"title" validate:"required"`
		Description string `form:"description"`
		Tags        string `form:"tags"`
		School      string `form:"school"`
	}

	UploadResponse struct {
		Status        string   `json:"status"`
		Message       string   `json:"message"`
		UploadedFiles []string `json:"uploaded_files"`
		Videos        []Dto    `json:"videos"`
	}

	DeleteRequest struct {
		VideoID string `form:"video_id" validate:"required,uuid"`
	}

	DeleteResponse struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
)

func NewDto(record *catalog.MediaRecord) Dto {
	tags := record.Metadata.Tags
	if tags == nil {
		tags = []string{}
	}

	return Dto{
		ID:       record.ID,
		Filename: record.Filename,
		URL:      "/uploads/" + record.Filename,
		Metadata: MetadataDto{
			Title:       record.Metadata.Title,
			Description: record.Metadata.Description,
			Tags:        tags,
			School:      record.Metadata.School,
		},
		CreatedAt: record.CreatedAt,
	}
}

func NewDtos(records []*catalog.MediaRecord) []Dto {
	return util.ApplyConversion(records, NewDto)
}
