package ingest_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Lumen/internal/archive"
	"github.com/hbomb79/Lumen/internal/blob"
	"github.com/hbomb79/Lumen/internal/catalog"
	"github.com/hbomb79/Lumen/internal/event"
	"github.com/hbomb79/Lumen/internal/ingest"
	"github.com/hbomb79/Lumen/pkg/logger"
	"github.com/hbomb79/Lumen/tests/helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// A default event bus which should be used as a NOOP event bus. DO NOT subscribe to this
// inside of a test as the subscriber are not removed between tests.
var defaultEventBus = event.New()

var defaultConfig = ingest.Config{Timeout: time.Minute, MaxUploadSize: "1MB"}

func init() {
	logger.SetMinLoggingLevel(logger.VERBOSE.Level())
}

type mockCatalog struct {
	mock.Mock
}

func (mock *mockCatalog) Insert(ctx context.Context, record catalog.NewRecord) (*catalog.MediaRecord, error) {
	args := mock.Called(ctx, record)
	if fn, ok := args.Get(0).(func(catalog.NewRecord) *catalog.MediaRecord); ok {
		return fn(record), args.Error(1)
	}

	//nolint:forcetypeassert
	return args.Get(0).(*catalog.MediaRecord), args.Error(1)
}

func (mock *mockCatalog) List(ctx context.Context) ([]*catalog.MediaRecord, error) {
	args := mock.Called(ctx)
	//nolint:forcetypeassert
	return args.Get(0).([]*catalog.MediaRecord), args.Error(1)
}

func (mock *mockCatalog) FindByID(ctx context.Context, id uuid.UUID) (*catalog.MediaRecord, error) {
	args := mock.Called(ctx, id)
	//nolint:forcetypeassert
	return args.Get(0).(*catalog.MediaRecord), args.Error(1)
}

func (mock *mockCatalog) DeleteByID(ctx context.Context, id uuid.UUID) (bool, error) {
	args := mock.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

type mockBatchCatalog struct {
	mockCatalog
}

func (mock *mockBatchCatalog) InsertAll(ctx context.Context, records []catalog.NewRecord) ([]*catalog.MediaRecord, error) {
	args := mock.Called(ctx, records)
	if fn, ok := args.Get(0).(func([]catalog.NewRecord) []*catalog.MediaRecord); ok {
		return fn(records), args.Error(1)
	}

	//nolint:forcetypeassert
	return args.Get(0).([]*catalog.MediaRecord), args.Error(1)
}

func recordFor(record catalog.NewRecord) *catalog.MediaRecord {
	return &catalog.MediaRecord{ID: uuid.New(), Filename: record.Filename, Metadata: record.Metadata, CreatedAt: time.Now()}
}

func recordsFor(records []catalog.NewRecord) []*catalog.MediaRecord {
	out := make([]*catalog.MediaRecord, len(records))
	for k, v := range records {
		out[k] = recordFor(v)
	}
	return out
}

type fixture struct {
	service *ingest.Service
	blobs   *blob.Store
}

func newFixture(t *testing.T, store ingest.CatalogStore, events event.EventDispatcher) *fixture {
	blobs, err := blob.NewStore(t.TempDir())
	require.NoError(t, err)

	inspector, err := archive.NewInspector(blobs.ScratchDir(), archive.Config{MaxEntries: 100, MaxTotalSize: "10MB"})
	require.NoError(t, err)

	service, err := ingest.New(defaultConfig, blobs, inspector, store, events)
	require.NoError(t, err)

	return &fixture{service: service, blobs: blobs}
}

func (f *fixture) readBlob(t *testing.T, filename string) []byte {
	file, err := f.blobs.Open(filename)
	require.NoError(t, err)
	defer file.Close()

	b, err := io.ReadAll(file)
	require.NoError(t, err)
	return b
}

// assertNoResidue checks that the store contains exactly the blobs expected, and
// that no temporary uploads or extraction workspaces were left behind.
func (f *fixture) assertNoResidue(t *testing.T, expectedBlobs ...string) {
	assert.ElementsMatch(t, expectedBlobs, helpers.DirEntries(t, f.blobs.Root()))
	assert.Empty(t, helpers.DirEntries(t, filepath.Join(f.blobs.Root(), ".tmp")))
	assert.Empty(t, helpers.DirEntries(t, f.blobs.ScratchDir()))
}

func upload(filename string, content []byte) ingest.Upload {
	return ingest.Upload{
		Filename:    filename,
		Content:     bytes.NewReader(content),
		Title:       "Lecture",
		Description: "First week",
		Tags:        " history, ,hebrew ,history",
		School:      "Jerusalem",
	}
}

func TestIngest_SingleVideo(t *testing.T) {
	t.Parallel()
	store := &mockCatalog{}
	store.On("Insert", mock.Anything, mock.Anything).Return(recordFor, nil).Once()
	f := newFixture(t, store, defaultEventBus)

	content := []byte("definitely a video")
	result, err := f.service.Ingest(context.Background(), upload("Intro.MP4", content))
	require.NoError(t, err)
	require.Len(t, result.Records, 1)

	record := result.Records[0]
	assert.Equal(t, "Lecture", record.Metadata.Title)
	assert.Equal(t, "First week", record.Metadata.Description)
	assert.Equal(t, []string{"history", "hebrew", "history"}, record.Metadata.Tags)
	assert.Equal(t, "Jerusalem", record.Metadata.School)
	assert.Equal(t, ".mp4", filepath.Ext(record.Filename))
	assert.Equal(t, []string{record.Filename}, result.Filenames())
	assert.Equal(t, content, f.readBlob(t, record.Filename))

	f.assertNoResidue(t, record.Filename)
	store.AssertExpectations(t)
}

func TestIngest_Archive(t *testing.T) {
	t.Parallel()
	entries := helpers.Files(
		"clips/b.mkv", "second",
		"a.MP4", "first",
		"readme.txt", "ignored",
	)

	store := &mockCatalog{}
	store.On("Insert", mock.Anything, mock.Anything).Return(recordFor, nil).Twice()
	f := newFixture(t, store, defaultEventBus)

	result, err := f.service.Ingest(context.Background(), upload("week1.zip", helpers.ZipBytes(t, entries)))
	require.NoError(t, err)
	require.Len(t, result.Records, 2)

	contents := make(map[string]string)
	for _, record := range result.Records {
		contents[record.Metadata.Title] = string(f.readBlob(t, record.Filename))
		assert.Equal(t, []string{"history", "hebrew", "history"}, record.Metadata.Tags)
	}
	assert.Equal(t, map[string]string{"Lecture - a": "first", "Lecture - b": "second"}, contents)

	f.assertNoResidue(t, result.Filenames()...)
	store.AssertExpectations(t)
}

func TestIngest_ArchiveFormats(t *testing.T) {
	t.Parallel()
	entries := helpers.Files("clip.webm", "content")
	tests := []struct {
		filename string
		content  []byte
	}{
		{"bundle.tar", helpers.TarBytes(t, entries)},
		{"bundle.tar.gz", helpers.TarGzBytes(t, entries)},
		{"bundle.TGZ", helpers.TarGzBytes(t, entries)},
		{"bundle.tar.zst", helpers.TarZstBytes(t, entries)},
	}

	for _, test := range tests {
		test := test
		t.Run(test.filename, func(t *testing.T) {
			t.Parallel()
			store := &mockCatalog{}
			store.On("Insert", mock.Anything, mock.Anything).Return(recordFor, nil).Once()
			f := newFixture(t, store, defaultEventBus)

			result, err := f.service.Ingest(context.Background(), upload(test.filename, test.content))
			require.NoError(t, err)
			require.Len(t, result.Records, 1)
			assert.Equal(t, "Lecture - clip", result.Records[0].Metadata.Title)
			assert.Equal(t, ".webm", filepath.Ext(result.Records[0].Filename))
			f.assertNoResidue(t, result.Filenames()...)
		})
	}
}

func TestIngest_ArchiveWithoutMedia(t *testing.T) {
	t.Parallel()
	store := &mockCatalog{}
	f := newFixture(t, store, defaultEventBus)

	result, err := f.service.Ingest(context.Background(), upload("notes.zip", helpers.ZipBytes(t, helpers.Files("notes.txt", "hello"))))
	require.NoError(t, err)
	assert.Empty(t, result.Records)
	assert.Empty(t, result.Filenames())

	f.assertNoResidue(t)
	store.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestIngest_CorruptArchive(t *testing.T) {
	t.Parallel()
	store := &mockCatalog{}
	f := newFixture(t, store, defaultEventBus)

	_, err := f.service.Ingest(context.Background(), upload("broken.zip", []byte("PK\x03\x04 this is not a zip")))
	require.Error(t, err)

	var corruptErr *archive.CorruptArchiveError
	assert.True(t, errors.As(err, &corruptErr), "expected CorruptArchiveError, got %v", err)

	var ingestErr *ingest.IngestError
	require.True(t, errors.As(err, &ingestErr))
	assert.Equal(t, "broken.zip", ingestErr.Filename)
	assert.Equal(t, ingest.STAGED, ingestErr.Stage)
	assert.NotContains(t, err.Error(), f.blobs.Root())

	f.assertNoResidue(t)
	store.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestIngest_ArchiveEntryBeneathFile(t *testing.T) {
	t.Parallel()
	entries := helpers.Files("clips", "plain file", "clips/a.mp4", "video")

	for name, content := range map[string][]byte{
		"bad.zip": helpers.ZipBytes(t, entries),
		"bad.tar": helpers.TarBytes(t, entries),
	} {
		name, content := name, content
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			store := &mockCatalog{}
			f := newFixture(t, store, defaultEventBus)

			_, err := f.service.Ingest(context.Background(), upload(name, content))
			require.Error(t, err)

			var corruptErr *archive.CorruptArchiveError
			assert.True(t, errors.As(err, &corruptErr), "expected CorruptArchiveError, got %v", err)
			assert.ErrorIs(t, err, archive.ErrConflictingEntry)

			var ingestErr *ingest.IngestError
			require.True(t, errors.As(err, &ingestErr))
			assert.Equal(t, ingest.STAGED, ingestErr.Stage)
			assert.NotContains(t, err.Error(), "internal error")
			assert.NotContains(t, err.Error(), f.blobs.Root())

			f.assertNoResidue(t)
			store.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
		})
	}
}

func TestIngest_ArchiveIgnoresExtensionOnlyEntries(t *testing.T) {
	t.Parallel()
	store := &mockCatalog{}
	store.On("Insert", mock.Anything, mock.Anything).Return(recordFor, nil).Once()
	f := newFixture(t, store, defaultEventBus)

	archiveBytes := helpers.ZipBytes(t, helpers.Files(".mp4", "dotfile", "real.mp4", "video"))
	result, err := f.service.Ingest(context.Background(), upload("dots.zip", archiveBytes))
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, "Lecture - real", result.Records[0].Metadata.Title)
	assert.Equal(t, "video", string(f.readBlob(t, result.Records[0].Filename)))

	f.assertNoResidue(t, result.Filenames()...)
	store.AssertExpectations(t)
}

func TestIngest_RejectsBeforeWriting(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		upload   ingest.Upload
		expected any
	}{
		{"Unsupported extension", upload("slides.pdf", []byte("pdf")), &ingest.UnsupportedMediaError{}},
		{"Missing filename", upload("", []byte("pdf")), &ingest.UnsupportedMediaError{}},
		{"Extension only", upload(".zip", []byte("zip")), &ingest.UnsupportedMediaError{}},
		{"Empty title", ingest.Upload{Filename: "a.mp4", Content: bytes.NewReader(nil), Title: "  "}, &ingest.ValidationError{}},
		{"No content", ingest.Upload{Filename: "a.mp4", Title: "A"}, &ingest.ValidationError{}},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			store := &mockCatalog{}
			f := newFixture(t, store, defaultEventBus)

			_, err := f.service.Ingest(context.Background(), test.upload)
			require.Error(t, err)
			assert.IsType(t, test.expected, err)

			f.assertNoResidue(t)
			store.AssertExpectations(t)
		})
	}
}

func TestIngest_UploadTooLarge(t *testing.T) {
	t.Parallel()
	store := &mockCatalog{}
	f := newFixture(t, store, defaultEventBus)

	_, err := f.service.Ingest(context.Background(), upload("huge.mp4", make([]byte, 2*1000*1000)))
	require.Error(t, err)

	var tooLarge *ingest.UploadTooLargeError
	require.True(t, errors.As(err, &tooLarge))
	assert.Equal(t, uint64(1000*1000), tooLarge.Limit)
	f.assertNoResidue(t)
}

func TestIngest_CommitFailureRollsBack(t *testing.T) {
	t.Parallel()
	entries := helpers.Files("a.mp4", "first", "b.mp4", "second", "c.mp4", "third")

	var inserted *catalog.MediaRecord
	store := &mockCatalog{}
	store.On("Insert", mock.Anything, mock.Anything).Return(func(record catalog.NewRecord) *catalog.MediaRecord {
		inserted = recordFor(record)
		return inserted
	}, nil).Once()
	store.On("Insert", mock.Anything, mock.Anything).Return((*catalog.MediaRecord)(nil), &catalog.CatalogError{Op: "insert", Err: errors.New("connection reset")}).Once()
	store.On("DeleteByID", mock.Anything, mock.MatchedBy(func(id uuid.UUID) bool { return inserted != nil && id == inserted.ID })).Return(true, nil).Once()

	bus := event.New()
	failures := make(event.HandlerChannel, 1)
	bus.RegisterHandlerChannel(failures, event.INGEST_FAILED)
	f := newFixture(t, store, bus)

	_, err := f.service.Ingest(context.Background(), upload("week.zip", helpers.ZipBytes(t, entries)))
	require.Error(t, err)

	var catalogErr *catalog.CatalogError
	assert.True(t, errors.As(err, &catalogErr))

	var ingestErr *ingest.IngestError
	require.True(t, errors.As(err, &ingestErr))
	assert.Equal(t, ingest.COMMITTING, ingestErr.Stage)
	assert.Contains(t, err.Error(), "week.zip")
	assert.NotContains(t, err.Error(), "connection reset")

	f.assertNoResidue(t)
	store.AssertExpectations(t)
	store.AssertNumberOfCalls(t, "Insert", 2)

	select {
	case ev := <-failures:
		assert.Equal(t, event.INGEST_FAILED, ev.Event)
	default:
		t.Fatal("expected ingest failure event")
	}
}

func TestIngest_PrefersBatchInsert(t *testing.T) {
	t.Parallel()
	entries := helpers.Files("a.mp4", "first", "b.mp4", "second")

	store := &mockBatchCatalog{}
	store.On("InsertAll", mock.Anything, mock.MatchedBy(func(records []catalog.NewRecord) bool { return len(records) == 2 })).Return(recordsFor, nil).Once()

	bus := event.New()
	created := make(event.HandlerChannel, 2)
	bus.RegisterHandlerChannel(created, event.MEDIA_CREATED)
	f := newFixture(t, store, bus)

	result, err := f.service.Ingest(context.Background(), upload("pair.zip", helpers.ZipBytes(t, entries)))
	require.NoError(t, err)
	require.Len(t, result.Records, 2)
	assert.Len(t, created, 2)

	store.AssertExpectations(t)
	store.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestIngest_BatchFailureRemovesBlobs(t *testing.T) {
	t.Parallel()
	store := &mockBatchCatalog{}
	store.On("InsertAll", mock.Anything, mock.Anything).Return(([]*catalog.MediaRecord)(nil), &catalog.CatalogError{Op: "insert", Err: errors.New("tx aborted")}).Once()
	f := newFixture(t, store, defaultEventBus)

	_, err := f.service.Ingest(context.Background(), upload("pair.zip", helpers.ZipBytes(t, helpers.Files("a.mp4", "a", "b.mp4", "b"))))
	require.Error(t, err)

	f.assertNoResidue(t)
	store.AssertNotCalled(t, "DeleteByID", mock.Anything, mock.Anything)
}

func TestIngest_CancelledContext(t *testing.T) {
	t.Parallel()
	store := &mockCatalog{}
	f := newFixture(t, store, defaultEventBus)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.service.Ingest(ctx, upload("clip.mp4", []byte("content")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	f.assertNoResidue(t)
	store.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestIngest_ConcurrentUploads(t *testing.T) {
	t.Parallel()
	store := &mockCatalog{}
	store.On("Insert", mock.Anything, mock.Anything).Return(recordFor, nil)
	f := newFixture(t, store, defaultEventBus)

	const count = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		filenames []string
	)
	for i := 0; i < count; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.service.Ingest(context.Background(), upload("clip.mov", []byte("same content")))
			if !assert.NoError(t, err) {
				return
			}

			mu.Lock()
			filenames = append(filenames, result.Filenames()...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, filenames, count)
	f.assertNoResidue(t, filenames...)
}

func TestDelete(t *testing.T) {
	t.Parallel()
	store := &mockCatalog{}
	f := newFixture(t, store, defaultEventBus)

	filename, err := f.blobs.Put(context.Background(), bytes.NewReader([]byte("video")), ".mp4")
	require.NoError(t, err)
	record := &catalog.MediaRecord{ID: uuid.New(), Filename: filename}

	store.On("FindByID", mock.Anything, record.ID).Return(record, nil).Once()
	store.On("DeleteByID", mock.Anything, record.ID).Return(true, nil).Once()

	require.NoError(t, f.service.Delete(context.Background(), record.ID))
	exists, err := f.blobs.Exists(filename)
	require.NoError(t, err)
	assert.False(t, exists)

	store.On("FindByID", mock.Anything, record.ID).Return((*catalog.MediaRecord)(nil), catalog.ErrRecordNotFound).Once()
	err = f.service.Delete(context.Background(), record.ID)
	var notFound *ingest.NotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, record.ID, notFound.ID)

	store.AssertExpectations(t)
}

func TestDelete_RecordVanishes(t *testing.T) {
	t.Parallel()
	store := &mockCatalog{}
	f := newFixture(t, store, defaultEventBus)

	filename, err := f.blobs.Put(context.Background(), bytes.NewReader([]byte("video")), ".mp4")
	require.NoError(t, err)
	record := &catalog.MediaRecord{ID: uuid.New(), Filename: filename}

	store.On("FindByID", mock.Anything, record.ID).Return(record, nil).Once()
	store.On("DeleteByID", mock.Anything, record.ID).Return(false, nil).Once()

	err = f.service.Delete(context.Background(), record.ID)
	assert.IsType(t, &ingest.NotFoundError{}, err)

	exists, err := f.blobs.Exists(filename)
	require.NoError(t, err)
	assert.True(t, exists, "blob must not be removed when the record was not deleted")
}

func TestDelete_MissingBlob(t *testing.T) {
	t.Parallel()
	store := &mockCatalog{}
	f := newFixture(t, store, defaultEventBus)

	record := &catalog.MediaRecord{ID: uuid.New(), Filename: uuid.NewString() + ".mp4"}
	store.On("FindByID", mock.Anything, record.ID).Return(record, nil).Once()
	store.On("DeleteByID", mock.Anything, record.ID).Return(true, nil).Once()

	assert.NoError(t, f.service.Delete(context.Background(), record.ID))
}

func TestGet_NotFound(t *testing.T) {
	t.Parallel()
	store := &mockCatalog{}
	store.On("FindByID", mock.Anything, mock.Anything).Return((*catalog.MediaRecord)(nil), catalog.ErrRecordNotFound)
	f := newFixture(t, store, defaultEventBus)

	_, err := f.service.Get(context.Background(), uuid.New())
	assert.IsType(t, &ingest.NotFoundError{}, err)
}

func TestParseTags(t *testing.T) {
	t.Parallel()
	tests := []struct {
		input    string
		expected []string
	}{
		{"", []string{}},
		{" , ,", []string{}},
		{"a", []string{"a"}},
		{" a , b,,c ", []string{"a", "b", "c"}},
		{"a,a", []string{"a", "a"}},
	}

	for _, test := range tests {
		assert.Equal(t, test.expected, ingest.ParseTags(test.input), "input %q", test.input)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()
	_, err := ingest.New(ingest.Config{Timeout: time.Minute, MaxUploadSize: "lots"}, nil, nil, &mockCatalog{}, defaultEventBus)
	assert.Error(t, err)

	_, err = ingest.New(ingest.Config{MaxUploadSize: "1MB"}, nil, nil, &mockCatalog{}, defaultEventBus)
	assert.Error(t, err)

	// Limits beyond the signed 64-bit range would wrap and truncate every upload
	_, err = ingest.New(ingest.Config{Timeout: time.Minute, MaxUploadSize: "10EB"}, nil, nil, &mockCatalog{}, defaultEventBus)
	assert.ErrorIs(t, err, ingest.ErrUploadLimitTooBig)
}

func TestIngest_LargestUploadLimit(t *testing.T) {
	t.Parallel()
	store := &mockCatalog{}
	store.On("Insert", mock.Anything, mock.Anything).Return(recordFor, nil).Once()

	blobs, err := blob.NewStore(t.TempDir())
	require.NoError(t, err)
	inspector, err := archive.NewInspector(blobs.ScratchDir(), archive.Config{MaxEntries: 10, MaxTotalSize: "1MB"})
	require.NoError(t, err)
	service, err := ingest.New(ingest.Config{Timeout: time.Minute, MaxUploadSize: "9EB"}, blobs, inspector, store, defaultEventBus)
	require.NoError(t, err)

	content := []byte("twelve bytes")
	result, err := service.Ingest(context.Background(), upload("clip.mp4", content))
	require.NoError(t, err)
	require.Len(t, result.Records, 1)

	f := &fixture{service: service, blobs: blobs}
	assert.Equal(t, content, f.readBlob(t, result.Records[0].Filename))
}

func TestIngestError_HidesInternalDetail(t *testing.T) {
	t.Parallel()
	err := &ingest.IngestError{Filename: "a.mp4", Stage: ingest.STAGED, Err: &os.PathError{Op: "rename", Path: "/srv/uploads/.tmp/upload-1.mp4", Err: os.ErrPermission}}
	assert.Equal(t, "ingestion of 'a.mp4' failed while staging files: an internal error occurred", err.Error())
}
