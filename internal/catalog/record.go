package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

type (
	// Metadata is the descriptive information supplied alongside an
	// upload. Tags retain the order they were supplied in.
	Metadata struct {
		Title       string   `json:"title" bson:"title" validate:"required"`
		Description string   `json:"description" bson:"description"`
		Tags        []string `json:"tags" bson:"tags" validate:"dive,required"`
		School      string   `json:"school" bson:"school"`
	}

	// MediaRecord is a single catalog entry linking a stored blob to
	// its metadata. Records are immutable once inserted.
	MediaRecord struct {
		ID        uuid.UUID `json:"id"`
		Filename  string    `json:"filename"`
		Metadata  Metadata  `json:"metadata"`
		CreatedAt time.Time `json:"created_at"`
	}

	// NewRecord is the input for an insertion, before the store has
	// assigned an identifier.
	NewRecord struct {
		Filename string   `validate:"required,bare_filename"`
		Metadata Metadata `validate:"required"`
	}

	// Store is the durable catalog of media records.
	Store interface {
		Insert(ctx context.Context, record NewRecord) (*MediaRecord, error)
		List(ctx context.Context) ([]*MediaRecord, error)
		FindByID(ctx context.Context, id uuid.UUID) (*MediaRecord, error)
		DeleteByID(ctx context.Context, id uuid.UUID) (bool, error)
	}

	// BatchInserter is implemented by stores which are able to insert
	// a group of records atomically.
	BatchInserter interface {
		InsertAll(ctx context.Context, records []NewRecord) ([]*MediaRecord, error)
	}
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("bare_filename", func(fl validator.FieldLevel) bool {
		name := fl.Field().String()
		return name != "" && name == filepath.Base(name) && !strings.ContainsAny(name, `/\`) && name != "." && name != ".."
	}); err != nil {
		panic(fmt.Sprintf("failed to register catalog validators: %s", err))
	}

	return v
}

// Validate ensures the record has all required fields populated, returning an
// error wrapping ErrInvalidRecord if not.
func (record NewRecord) Validate() error {
	if err := validate.Struct(record); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRecord, err.Error())
	}

	return nil
}

func (record NewRecord) toMediaRecord(createdAt time.Time) *MediaRecord {
	tags := record.Metadata.Tags
	if tags == nil {
		tags = []string{}
	}

	return &MediaRecord{
		ID:       uuid.New(),
		Filename: record.Filename,
		Metadata: Metadata{
			Title:       record.Metadata.Title,
			Description: record.Metadata.Description,
			Tags:        tags,
			School:      record.Metadata.School,
		},
		CreatedAt: createdAt.UTC(),
	}
}
