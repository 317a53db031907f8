package ingest

import (
	"strings"

	"github.com/google/uuid"
	"github.com/hbomb79/Lumen/internal/archive"
	"github.com/hbomb79/Lumen/internal/catalog"
	"github.com/hbomb79/Lumen/internal/media"
	"github.com/hbomb79/Lumen/pkg/logger"
)

// ingestion tracks the progress of a single call to Ingest, including every
// resource it has created so that they can be released or compensated for.
type ingestion struct {
	id        uuid.UUID
	upload    Upload
	kind      media.Kind
	extension string
	tags      []string

	state    IngestState
	failedIn IngestState

	tempPath  string
	workspace *archive.Workspace
	moved     []string
	pending   []catalog.NewRecord
	inserted  []*catalog.MediaRecord
}

func newIngestion(upload Upload, kind media.Kind) *ingestion {
	extension := strings.ToLower(media.Ext(upload.Filename))
	if kind == media.Archive {
		extension = media.ArchiveExtension(upload.Filename)
	}

	return &ingestion{
		id:        uuid.New(),
		upload:    upload,
		kind:      kind,
		extension: extension,
		tags:      ParseTags(upload.Tags),
		state:     RECEIVED,
		failedIn:  RECEIVED,
	}
}

func (job *ingestion) transition(next IngestState) {
	if !job.state.canTransition(next) {
		log.Emit(logger.WARNING, "Ingestion %s cannot transition from %s to %s\n", job.id, job.state, next)
		return
	}

	log.Emit(logger.VERBOSE, "Ingestion %s transitioned from %s to %s\n", job.id, job.state, next)
	if next == FAILED {
		job.failedIn = job.state
	}
	job.state = next
}

// stage records a blob which has been moved in to the store, along with the
// metadata its catalog record will carry.
func (job *ingestion) stage(filename string, metadata catalog.Metadata) {
	job.moved = append(job.moved, filename)
	job.pending = append(job.pending, catalog.NewRecord{Filename: filename, Metadata: metadata})
}

func (job *ingestion) metadata(title string) catalog.Metadata {
	tags := make([]string, len(job.tags))
	copy(tags, job.tags)

	return catalog.Metadata{
		Title:       title,
		Description: job.upload.Description,
		Tags:        tags,
		School:      job.upload.School,
	}
}
