// Package blob manages the flat content directory in which uploaded media
// is kept. Every blob is named using a freshly generated UUID (plus the
// lower-cased extension of the original file), and content only ever appears
// under its final name once it has been completely written.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/hbomb79/Lumen/pkg/logger"
)

const (
	tempDirName    = ".tmp"
	scratchDirName = ".scratch"

	dirPerms  = 0o750
	filePerms = 0o640
)

var log = logger.Get("BlobStore")

// Store is a filesystem backed blob store rooted at a single directory. The
// temp and scratch areas live beneath the root so that a rename from either
// in to the store never has to cross a device boundary.
type Store struct {
	root       string
	tempDir    string
	scratchDir string
}

// NewStore creates a Store at the root directory given, creating the
// directory (and its internal temp/scratch areas) if required.
func NewStore(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("blob store root '%s' is invalid: %w", root, err)
	}

	store := &Store{
		root:       abs,
		tempDir:    filepath.Join(abs, tempDirName),
		scratchDir: filepath.Join(abs, scratchDirName),
	}
	for _, dir := range []string{store.root, store.tempDir, store.scratchDir} {
		if err := os.MkdirAll(dir, dirPerms); err != nil {
			return nil, fmt.Errorf("failed to create blob store directory '%s': %w", dir, err)
		}
	}

	log.Emit(logger.INFO, "Blob store ready at %s\n", store.root)
	return store, nil
}

// Put streams the content of the reader in to the store under a newly generated
// name with the extension provided. The returned filename is only visible in the
// store once the content has been fully written and synced.
func (store *Store) Put(ctx context.Context, reader io.Reader, extension string) (string, error) {
	filename, err := generateFilename(extension)
	if err != nil {
		return "", &StorageWriteError{Err: err}
	}

	tmp, err := os.CreateTemp(store.tempDir, "put-*")
	if err != nil {
		return "", &StorageWriteError{Filename: filename, Err: err}
	}

	written, err := copyAndSync(ctx, tmp, reader)
	if err != nil {
		os.Remove(tmp.Name())
		return "", &StorageWriteError{Filename: filename, Err: err}
	}

	if err := os.Rename(tmp.Name(), store.blobPath(filename)); err != nil {
		os.Remove(tmp.Name())
		os.Remove(store.blobPath(filename))
		return "", &StorageWriteError{Filename: filename, Err: err}
	}

	log.Emit(logger.NEW, "Stored blob %s (%s)\n", filename, humanize.Bytes(uint64(written)))
	return filename, nil
}

// Move relocates the local file at sourcePath in to the store under a newly
// generated name using the extension provided. A rename is attempted first, falling
// back to a copy (followed by removal of the source) if the source lives on a
// different device.
func (store *Store) Move(sourcePath string, extension string) (string, error) {
	sourceName := filepath.Base(sourcePath)
	info, err := os.Stat(sourcePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = ErrSourceMissing
		}
		return "", &StorageMoveError{Source: sourceName, Err: err}
	} else if !info.Mode().IsRegular() {
		return "", &StorageMoveError{Source: sourceName, Err: fmt.Errorf("source is not a regular file (mode %s)", info.Mode())}
	}

	filename, err := generateFilename(extension)
	if err != nil {
		return "", &StorageMoveError{Source: sourceName, Err: err}
	}

	dest := store.blobPath(filename)
	if err := os.Rename(sourcePath, dest); err != nil {
		if !errors.Is(err, syscall.EXDEV) {
			return "", &StorageMoveError{Source: sourceName, Filename: filename, Err: err}
		}

		log.Emit(logger.DEBUG, "Rename of %s crosses devices, falling back to copy\n", sourceName)
		if err := store.copyInto(sourcePath, dest); err != nil {
			return "", &StorageMoveError{Source: sourceName, Filename: filename, Err: err}
		}
		if err := os.Remove(sourcePath); err != nil {
			log.Emit(logger.WARNING, "Failed to remove source %s after cross-device move: %v\n", sourceName, err)
		}
	}

	log.Emit(logger.NEW, "Moved %s in to store as %s (%s)\n", sourceName, filename, humanize.Bytes(uint64(info.Size())))
	return filename, nil
}

// Delete removes the blob with the given filename. Deleting a blob which does
// not exist is not an error.
func (store *Store) Delete(filename string) error {
	if err := validateFilename(filename); err != nil {
		return &StorageDeleteError{Filename: filename, Err: err}
	}

	if err := os.Remove(store.blobPath(filename)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Emit(logger.DEBUG, "Blob %s already absent, nothing to delete\n", filename)
			return nil
		}

		return &StorageDeleteError{Filename: filename, Err: err}
	}

	log.Emit(logger.REMOVE, "Deleted blob %s\n", filename)
	return nil
}

// Open returns a read handle for the blob with the given filename. The caller
// is responsible for closing the file.
func (store *Store) Open(filename string) (*os.File, error) {
	if err := validateFilename(filename); err != nil {
		return nil, err
	}

	return os.Open(store.blobPath(filename))
}

// Exists reports whether a blob with the given filename is present.
func (store *Store) Exists(filename string) (bool, error) {
	if err := validateFilename(filename); err != nil {
		return false, err
	}

	info, err := os.Stat(store.blobPath(filename))
	if err == nil {
		return info.Mode().IsRegular(), nil
	} else if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}

	return false, err
}

// CreateTemp creates a new file in the store's temp area, suitable for staging
// an incoming upload before it is moved in to the store.
func (store *Store) CreateTemp(extension string) (*os.File, error) {
	ext := strings.ToLower(extension)
	if strings.ContainsAny(ext, `/\`) {
		return nil, &StorageWriteError{Err: fmt.Errorf("extension '%s': %w", extension, ErrInvalidFilename)}
	}

	f, err := os.CreateTemp(store.tempDir, "upload-*"+ext)
	if err != nil {
		return nil, &StorageWriteError{Err: err}
	}

	return f, nil
}

// Root returns the directory blobs are stored in.
func (store *Store) Root() string { return store.root }

// ScratchDir returns the directory beneath which extraction workspaces should be created.
func (store *Store) ScratchDir() string { return store.scratchDir }

func (store *Store) blobPath(filename string) string {
	return filepath.Join(store.root, filename)
}

func (store *Store) copyInto(sourcePath string, dest string) error {
	src, err := os.Open(sourcePath)
	if err != nil {
		return err
	}
	defer src.Close()

	tmp, err := os.CreateTemp(store.tempDir, "move-*")
	if err != nil {
		return err
	}

	if _, err := copyAndSync(context.Background(), tmp, src); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	return nil
}

// copyAndSync copies the reader in to the file given, syncs it to disk, and
// closes it. The file is always closed, regardless of error.
func copyAndSync(ctx context.Context, dst *os.File, src io.Reader) (int64, error) {
	written, err := io.Copy(dst, &contextReader{ctx, src})
	if err != nil {
		dst.Close()
		return written, err
	}

	if err := dst.Chmod(filePerms); err != nil {
		dst.Close()
		return written, err
	}

	if err := dst.Sync(); err != nil {
		dst.Close()
		return written, err
	}

	return written, dst.Close()
}

func generateFilename(extension string) (string, error) {
	ext := strings.ToLower(strings.TrimSpace(extension))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if strings.ContainsAny(ext, `/\`) || strings.Contains(ext, "..") {
		return "", fmt.Errorf("extension '%s': %w", extension, ErrInvalidFilename)
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}

	return id.String() + ext, nil
}

func validateFilename(filename string) error {
	if filename == "" || filename == "." || strings.ContainsAny(filename, `/\`) || strings.Contains(filename, "..") {
		return fmt.Errorf("'%s': %w", filename, ErrInvalidFilename)
	}
	if strings.HasPrefix(filename, ".") {
		// Hidden names are reserved for the stores internal directories
		return fmt.Errorf("'%s': %w", filename, ErrInvalidFilename)
	}

	return nil
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
