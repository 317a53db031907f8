package ingest

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dustin/go-humanize"
)

// Config contains configuration options that allow
// customization of how Lumen ingests uploaded media.
type Config struct {
	// Upper bound on the time a single ingestion may take, including
	// persisting the upload, extraction and committing to the catalog.
	Timeout time.Duration `yaml:"timeout" env:"INGEST_TIMEOUT" env-default:"10m"`

	// The largest upload (before extraction) which will be accepted, as a
	// human readable size (e.g. "2GB").
	MaxUploadSize string `yaml:"max_upload_size" env:"INGEST_MAX_UPLOAD_SIZE" env-default:"2GB"`
}

var ErrUploadLimitTooBig = errors.New("limit exceeds the largest supported size")

// MaxUploadBytes parses the configured MaxUploadSize. Limits which cannot be
// represented as a signed 64-bit byte count are rejected.
func (config Config) MaxUploadBytes() (uint64, error) {
	size, err := humanize.ParseBytes(config.MaxUploadSize)
	if err != nil {
		return 0, fmt.Errorf("max upload size '%s' is invalid: %w", config.MaxUploadSize, err)
	} else if size >= math.MaxInt64 {
		return 0, fmt.Errorf("max upload size '%s' is invalid: %w", config.MaxUploadSize, ErrUploadLimitTooBig)
	}

	return size, nil
}
