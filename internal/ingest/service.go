package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/hbomb79/Lumen/internal/archive"
	"github.com/hbomb79/Lumen/internal/catalog"
	"github.com/hbomb79/Lumen/internal/event"
	"github.com/hbomb79/Lumen/internal/media"
	"github.com/hbomb79/Lumen/pkg/logger"
)

var log = logger.Get("IngestServ")

const rollbackTimeout = 30 * time.Second

type (
	BlobStore interface {
		CreateTemp(extension string) (*os.File, error)
		Move(sourcePath string, extension string) (string, error)
		Delete(filename string) error
	}

	ArchiveInspector interface {
		Unpack(ctx context.Context, archivePath string) (*archive.Workspace, error)
		FindMediaEntries(workspace *archive.Workspace) ([]archive.Entry, error)
		Cleanup(workspace *archive.Workspace)
	}

	CatalogStore interface {
		catalog.Store
	}

	// Upload is a single file received from a client, along with the metadata
	// which should be applied to every record produced from it.
	Upload struct {
		Filename    string
		Content     io.Reader
		Title       string
		Description string
		Tags        string
		School      string
	}

	// Result is returned from a successful ingestion. Records may be empty
	// if the upload was an archive containing no media.
	Result struct {
		ID      uuid.UUID
		Records []*catalog.MediaRecord
	}

	// Service is responsible for turning uploads in to catalog records. Each
	// call to Ingest is independent of any other, and so concurrent calls
	// require no coordination beyond what the stores themselves provide.
	Service struct {
		config    Config
		maxUpload uint64
		blobs     BlobStore
		inspector ArchiveInspector
		catalog   CatalogStore
		events    event.EventDispatcher
	}
)

// Filenames returns the stored filename of each record produced.
func (result *Result) Filenames() []string {
	names := make([]string, 0, len(result.Records))
	for _, record := range result.Records {
		names = append(names, record.Filename)
	}

	return names
}

func New(config Config, blobs BlobStore, inspector ArchiveInspector, store CatalogStore, events event.EventDispatcher) (*Service, error) {
	maxUpload, err := config.MaxUploadBytes()
	if err != nil {
		return nil, err
	}
	if config.Timeout <= 0 {
		return nil, fmt.Errorf("ingest timeout must be positive (got %s)", config.Timeout)
	}

	return &Service{
		config:    config,
		maxUpload: maxUpload,
		blobs:     blobs,
		inspector: inspector,
		catalog:   store,
		events:    events,
	}, nil
}

// Ingest accepts the upload provided, storing the media it contains and
// committing a catalog record for each. The upload is validated before anything
// is written, and if any later step fails then all blobs and records created
// by this call are removed before the error is returned.
func (service *Service) Ingest(ctx context.Context, upload Upload) (*Result, error) {
	kind, err := validateUpload(upload)
	if err != nil {
		ingestionsTotal.WithLabelValues(kind.String(), "rejected").Inc()
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, service.config.Timeout)
	defer cancel()

	job := newIngestion(upload, kind)
	defer service.cleanup(job)

	log.Emit(logger.NEW, "Ingesting %s upload '%s' (%s)\n", kind, upload.Filename, job.id)
	started := time.Now()
	if err := service.run(ctx, job); err != nil {
		job.transition(FAILED)
		service.rollback(ctx, job)
		service.events.Dispatch(event.INGEST_FAILED, job.id)
		ingestionsTotal.WithLabelValues(kind.String(), "failed").Inc()

		log.Emit(logger.ERROR, "Ingestion %s of '%s' failed while %s: %v\n", job.id, upload.Filename, job.failedIn.Describe(), err)
		return nil, &IngestError{Filename: upload.Filename, Stage: job.failedIn, Err: err}
	}

	job.transition(DONE)
	ingestionsTotal.WithLabelValues(kind.String(), "succeeded").Inc()
	ingestDuration.WithLabelValues(kind.String()).Observe(time.Since(started).Seconds())
	recordsCommitted.Add(float64(len(job.inserted)))
	for _, record := range job.inserted {
		service.events.Dispatch(event.MEDIA_CREATED, record.ID)
	}
	service.events.Dispatch(event.INGEST_COMPLETE, job.id)

	log.Emit(logger.SUCCESS, "Ingestion %s of '%s' committed %d record(s)\n", job.id, upload.Filename, len(job.inserted))
	return &Result{ID: job.id, Records: job.inserted}, nil
}

func (service *Service) run(ctx context.Context, job *ingestion) error {
	if err := service.persistUpload(ctx, job); err != nil {
		return err
	}
	job.transition(STAGED)

	switch job.kind {
	case media.Video:
		if err := service.stageVideo(job); err != nil {
			return err
		}
	case media.Archive:
		if err := service.stageArchive(ctx, job); err != nil {
			return err
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	job.transition(COMMITTING)
	return service.commit(ctx, job)
}

// persistUpload streams the upload content to a temporary file, so that
// the payload is never held in memory in its entirety.
func (service *Service) persistUpload(ctx context.Context, job *ingestion) error {
	file, err := service.blobs.CreateTemp(job.extension)
	if err != nil {
		return err
	}
	job.tempPath = file.Name()

	limited := io.LimitReader(&contextReader{ctx: ctx, r: job.upload.Content}, int64(service.maxUpload)+1)
	written, copyErr := io.Copy(file, limited)
	closeErr := file.Close()

	if copyErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("failed to persist upload: %w", copyErr)
	} else if closeErr != nil {
		return fmt.Errorf("failed to persist upload: %w", closeErr)
	} else if uint64(written) > service.maxUpload {
		return &UploadTooLargeError{Limit: service.maxUpload}
	}

	log.Emit(logger.DEBUG, "Persisted upload for ingestion %s (%d bytes)\n", job.id, written)
	return nil
}

func (service *Service) stageVideo(job *ingestion) error {
	if mime, err := mimetype.DetectFile(job.tempPath); err == nil && !strings.HasPrefix(mime.String(), "video/") {
		log.Emit(logger.WARNING, "Upload '%s' for ingestion %s has content type %s, expected video\n", job.upload.Filename, job.id, mime)
	}

	filename, err := service.blobs.Move(job.tempPath, job.extension)
	if err != nil {
		return err
	}

	job.tempPath = ""
	job.stage(filename, job.metadata(job.upload.Title))
	return nil
}

func (service *Service) stageArchive(ctx context.Context, job *ingestion) error {
	workspace, err := service.inspector.Unpack(ctx, job.tempPath)
	if err != nil {
		return err
	}
	job.workspace = workspace

	entries, err := service.inspector.FindMediaEntries(workspace)
	if err != nil {
		return err
	}

	log.Emit(logger.INFO, "Ingestion %s found %d media entries in archive '%s'\n", job.id, len(entries), job.upload.Filename)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		filename, err := service.blobs.Move(entry.Path, media.Ext(entry.Name))
		if err != nil {
			return err
		}

		title := fmt.Sprintf("%s - %s", job.upload.Title, media.Stem(entry.Name))
		job.stage(filename, job.metadata(title))
	}

	return nil
}

// commit inserts all pending records in to the catalog, using a single
// batch insertion if the catalog supports it.
func (service *Service) commit(ctx context.Context, job *ingestion) error {
	if len(job.pending) == 0 {
		return nil
	}

	if batcher, ok := service.catalog.(catalog.BatchInserter); ok {
		records, err := batcher.InsertAll(ctx, job.pending)
		if err != nil {
			return err
		}

		job.inserted = records
		return nil
	}

	for _, pending := range job.pending {
		record, err := service.catalog.Insert(ctx, pending)
		if err != nil {
			return err
		}

		job.inserted = append(job.inserted, record)
	}

	return nil
}

// rollback compensates for a failed ingestion by removing any catalog records
// and blobs created by it. The compensation is best-effort: failures are
// logged and counted, but otherwise ignored. A fresh context is used as
// the ingestion context may have already been cancelled.
func (service *Service) rollback(ctx context.Context, job *ingestion) {
	if len(job.inserted) == 0 && len(job.moved) == 0 {
		return
	}

	rollbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	log.Emit(logger.WARNING, "Rolling back ingestion %s (%d record(s), %d blob(s))\n", job.id, len(job.inserted), len(job.moved))
	for _, record := range job.inserted {
		if _, err := service.catalog.DeleteByID(rollbackCtx, record.ID); err != nil {
			log.Emit(logger.ERROR, "Rollback of ingestion %s failed to delete record %s: %v\n", job.id, record.ID, err)
			rollbacksTotal.WithLabelValues("record", "failed").Inc()
			continue
		}

		rollbacksTotal.WithLabelValues("record", "succeeded").Inc()
	}

	for _, filename := range job.moved {
		if err := service.blobs.Delete(filename); err != nil {
			log.Emit(logger.ERROR, "Rollback of ingestion %s failed to delete blob %s: %v\n", job.id, filename, err)
			rollbacksTotal.WithLabelValues("blob", "failed").Inc()
			continue
		}

		rollbacksTotal.WithLabelValues("blob", "succeeded").Inc()
	}
}

// cleanup releases the temporary resources held by an ingestion, regardless of
// its outcome. Failures are logged only.
func (service *Service) cleanup(job *ingestion) {
	service.inspector.Cleanup(job.workspace)

	if job.tempPath != "" {
		if err := os.Remove(job.tempPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Emit(logger.WARNING, "Failed to remove temporary upload for ingestion %s: %v\n", job.id, err)
		}
	}
}

// Delete removes the media record with the given ID from the catalog, followed
// by its blob. If the blob cannot be removed the error is only logged, as the
// record is already gone.
func (service *Service) Delete(ctx context.Context, id uuid.UUID) error {
	record, err := service.catalog.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, catalog.ErrRecordNotFound) {
			deletionsTotal.WithLabelValues("not_found").Inc()
			return &NotFoundError{ID: id}
		}
		return err
	}

	existed, err := service.catalog.DeleteByID(ctx, id)
	if err != nil {
		deletionsTotal.WithLabelValues("failed").Inc()
		return err
	} else if !existed {
		deletionsTotal.WithLabelValues("not_found").Inc()
		return &NotFoundError{ID: id}
	}

	if err := service.blobs.Delete(record.Filename); err != nil {
		log.Emit(logger.ERROR, "Media %s deleted, but its blob %s could not be removed: %v\n", id, record.Filename, err)
	}

	deletionsTotal.WithLabelValues("succeeded").Inc()
	service.events.Dispatch(event.MEDIA_DELETED, id)
	log.Emit(logger.REMOVE, "Deleted media %s (%s)\n", id, record.Filename)
	return nil
}

func (service *Service) List(ctx context.Context) ([]*catalog.MediaRecord, error) {
	return service.catalog.List(ctx)
}

func (service *Service) Get(ctx context.Context, id uuid.UUID) (*catalog.MediaRecord, error) {
	record, err := service.catalog.FindByID(ctx, id)
	if errors.Is(err, catalog.ErrRecordNotFound) {
		return nil, &NotFoundError{ID: id}
	}

	return record, err
}

// validateUpload checks the upload is acceptable before any work is performed,
// returning the kind of upload it is.
func validateUpload(upload Upload) (media.Kind, error) {
	if upload.Content == nil {
		return media.Unsupported, &ValidationError{Field: "file", Reason: "no file content provided"}
	}

	kind := media.Classify(upload.Filename)
	if kind == media.Unsupported {
		return kind, &UnsupportedMediaError{Filename: upload.Filename}
	}
	if strings.TrimSpace(upload.Title) == "" {
		return kind, &ValidationError{Field: "title", Reason: "must not be empty"}
	}

	return kind, nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}

	return cr.r.Read(p)
}
