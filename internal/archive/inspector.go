// Package archive safely unpacks uploaded archive containers in to a private
// scratch workspace, and enumerates the media files found within.
package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/hbomb79/Lumen/internal/media"
	"github.com/hbomb79/Lumen/pkg/logger"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

var log = logger.Get("Archive")

const (
	mimeZip  = "application/zip"
	mimeTar  = "application/x-tar"
	mimeGzip = "application/gzip"
	mimeZstd = "application/zstd"

	dirPerms  = 0o750
	filePerms = 0o640
)

type (
	Config struct {
		MaxEntries   int    `yaml:"max_entries" env:"ARCHIVE_MAX_ENTRIES" env-default:"10000"`
		MaxTotalSize string `yaml:"max_total_size" env:"ARCHIVE_MAX_TOTAL_SIZE" env-default:"20GB"`
	}

	// Workspace is the scratch directory an archive has been extracted in to. It
	// is owned by exactly one ingestion and must be released via Cleanup.
	Workspace struct {
		Path string
	}

	// Entry is a media file found inside of an extracted archive. Name is the
	// slash-separated path of the entry relative to the archive root.
	Entry struct {
		Name string
		Path string
	}

	Inspector struct {
		scratchRoot string
		maxEntries  int
		maxBytes    uint64
	}

	// extraction tracks the limits for a single Unpack call
	extraction struct {
		ctx       context.Context
		root      string
		entries   int
		remaining uint64
		limits    *Inspector
	}
)

// NewInspector constructs an Inspector which will create its workspaces
// beneath the scratch root provided.
func NewInspector(scratchRoot string, config Config) (*Inspector, error) {
	maxBytes, err := humanize.ParseBytes(config.MaxTotalSize)
	if err != nil {
		return nil, fmt.Errorf("archive max_total_size '%s' is invalid: %w", config.MaxTotalSize, err)
	} else if maxBytes >= math.MaxInt64 {
		return nil, fmt.Errorf("archive max_total_size '%s' is invalid: %w", config.MaxTotalSize, ErrSizeLimitTooBig)
	}
	if config.MaxEntries <= 0 {
		return nil, fmt.Errorf("archive max_entries must be positive (got %d)", config.MaxEntries)
	}
	if err := os.MkdirAll(scratchRoot, dirPerms); err != nil {
		return nil, fmt.Errorf("failed to create scratch root: %w", err)
	}

	return &Inspector{scratchRoot: scratchRoot, maxEntries: config.MaxEntries, maxBytes: maxBytes}, nil
}

// Unpack detects the format of the archive at the path given and extracts it in to
// a freshly created workspace. If the archive cannot be parsed, a CorruptArchiveError
// is returned. On any failure, the partially populated workspace is removed
// before returning.
func (inspector *Inspector) Unpack(ctx context.Context, archivePath string) (*Workspace, error) {
	mime, err := mimetype.DetectFile(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect archive: %w", err)
	}

	dir, err := os.MkdirTemp(inspector.scratchRoot, "ws-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create extraction workspace: %w", err)
	}
	workspace := &Workspace{Path: dir}

	ex := &extraction{ctx: ctx, root: dir, remaining: inspector.maxBytes, limits: inspector}
	if err := ex.extract(archivePath, mime); err != nil {
		inspector.Cleanup(workspace)

		var srcErr *sourceError
		if errors.As(err, &srcErr) {
			return nil, &CorruptArchiveError{Err: srcErr.err}
		}

		return nil, err
	}

	log.Emit(logger.SUCCESS, "Extracted %d entries (%s) from %s archive\n",
		ex.entries, humanize.Bytes(inspector.maxBytes-ex.remaining), mime.Extension())
	return workspace, nil
}

// FindMediaEntries walks the workspace (in lexical order) and returns every regular
// file whose extension is a supported video format.
func (inspector *Inspector) FindMediaEntries(workspace *Workspace) ([]Entry, error) {
	if workspace == nil {
		return nil, errors.New("cannot search nil workspace")
	}

	entries := make([]Entry, 0)
	err := filepath.WalkDir(workspace.Path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(workspace.Path, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if d.Name() == "__MACOSX" {
				return fs.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() || strings.HasPrefix(d.Name(), "._") {
			log.Emit(logger.DEBUG, "Ignoring non-media entry %s\n", rel)
			return nil
		}

		if media.IsVideoExtension(media.Ext(d.Name())) {
			entries = append(entries, Entry{Name: rel, Path: p})
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search workspace: %w", err)
	}

	return entries, nil
}

// Cleanup recursively removes the workspace. Failures are logged, but never
// returned, as there is nothing a caller could do to recover.
func (inspector *Inspector) Cleanup(workspace *Workspace) {
	if workspace == nil || workspace.Path == "" {
		return
	}

	if err := os.RemoveAll(workspace.Path); err != nil {
		log.Emit(logger.WARNING, "Failed to clean up extraction workspace %s: %v\n", filepath.Base(workspace.Path), err)
		return
	}

	log.Emit(logger.REMOVE, "Cleaned up extraction workspace %s\n", filepath.Base(workspace.Path))
}

func (ex *extraction) extract(archivePath string, mime *mimetype.MIME) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer file.Close()

	for m := mime; m != nil; m = m.Parent() {
		switch {
		case m.Is(mimeZip):
			info, err := file.Stat()
			if err != nil {
				return err
			}
			return ex.extractZip(file, info.Size())
		case m.Is(mimeTar):
			return ex.extractTar(file)
		case m.Is(mimeGzip):
			gz, err := gzip.NewReader(file)
			if err != nil {
				return &sourceError{err}
			}
			defer gz.Close()

			return ex.extractTar(gz)
		case m.Is(mimeZstd):
			dec, err := zstd.NewReader(file)
			if err != nil {
				return &sourceError{err}
			}
			defer dec.Close()

			return ex.extractTar(dec)
		}
	}

	return &sourceError{fmt.Errorf("%w (detected %s)", ErrUnknownFormat, mime.String())}
}

func (ex *extraction) extractZip(r io.ReaderAt, size int64) error {
	zr, err := zip.NewReader(r, size)
	if zr == nil {
		return &sourceError{err}
	} else if err != nil {
		log.Emit(logger.WARNING, "Zip reader reported %v, unsafe entries will be skipped\n", err)
	}
	zr.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor())

	for _, f := range zr.File {
		if err := ex.checkEntry(); err != nil {
			return err
		}

		mode := f.Mode()
		if mode.IsDir() {
			if dest, ok := ex.destination(f.Name); ok {
				if err := ex.mkdirAll(dest); err != nil {
					return err
				}
			}
			continue
		} else if !mode.IsRegular() {
			log.Emit(logger.WARNING, "Skipping non-regular archive entry %q (mode %s)\n", f.Name, mode)
			continue
		}

		dest, ok := ex.destination(f.Name)
		if !ok {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return &sourceError{err}
		}
		err = ex.writeFile(dest, rc)
		rc.Close()
		if err != nil {
			return err
		}
	}

	return nil
}

func (ex *extraction) extractTar(r io.Reader) error {
	tr := tar.NewReader(r)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		} else if err != nil {
			return &sourceError{err}
		}

		if err := ex.checkEntry(); err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if dest, ok := ex.destination(header.Name); ok {
				if err := ex.mkdirAll(dest); err != nil {
					return err
				}
			}
		case tar.TypeReg, tar.TypeRegA:
			dest, ok := ex.destination(header.Name)
			if !ok {
				continue
			}
			if err := ex.writeFile(dest, tr); err != nil {
				return err
			}
		default:
			log.Emit(logger.WARNING, "Skipping non-regular archive entry %q (type %c)\n", header.Name, header.Typeflag)
		}
	}
}

func (ex *extraction) checkEntry() error {
	if err := ex.ctx.Err(); err != nil {
		return err
	}

	ex.entries++
	if ex.entries > ex.limits.maxEntries {
		return &sourceError{fmt.Errorf("%w (limit %d)", ErrTooManyEntries, ex.limits.maxEntries)}
	}

	return nil
}

// destination resolves the archive entry name to a path inside of the
// workspace. Absolute names, and names which would escape the workspace, are
// rejected (and logged).
func (ex *extraction) destination(name string) (string, bool) {
	normalised := strings.ReplaceAll(name, `\`, "/")
	if path.IsAbs(normalised) || hasVolumeName(normalised) || hasParentSegment(normalised) {
		log.Emit(logger.WARNING, "Skipping unsafe archive entry %q\n", name)
		return "", false
	}

	cleaned := path.Clean(normalised)
	if cleaned == "." || cleaned == "" {
		return "", false
	}

	dest := filepath.Join(ex.root, filepath.FromSlash(cleaned))
	if rel, err := filepath.Rel(ex.root, dest); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		log.Emit(logger.WARNING, "Skipping unsafe archive entry %q\n", name)
		return "", false
	}

	return dest, true
}

// mkdirAll creates the directory inside the workspace. An archive which places
// entries beneath one of its own regular files cannot be extracted, which is
// reported as a fault of the archive.
func (ex *extraction) mkdirAll(dir string) error {
	err := os.MkdirAll(dir, dirPerms)
	if err == nil {
		return nil
	}

	if errors.Is(err, syscall.ENOTDIR) || errors.Is(err, fs.ErrExist) {
		rel, relErr := filepath.Rel(ex.root, dir)
		if relErr != nil {
			rel = filepath.Base(dir)
		}
		return &sourceError{fmt.Errorf("%w (%s)", ErrConflictingEntry, filepath.ToSlash(rel))}
	}

	return err
}

func (ex *extraction) writeFile(dest string, src io.Reader) error {
	if err := ex.mkdirAll(filepath.Dir(dest)); err != nil {
		return err
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, filePerms)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			log.Emit(logger.WARNING, "Skipping duplicate archive entry %s\n", filepath.Base(dest))
			return nil
		}
		return err
	}
	defer out.Close()

	// Allow one byte beyond the budget so that exceeding it can be detected
	limited := io.LimitReader(&taggedReader{ctx: ex.ctx, r: src}, int64(ex.remaining)+1)
	written, err := io.Copy(out, limited)
	if err != nil {
		return err
	}
	if uint64(written) > ex.remaining {
		return &sourceError{fmt.Errorf("%w (limit %s)", ErrArchiveTooLarge, humanize.Bytes(ex.limits.maxBytes))}
	}

	ex.remaining -= uint64(written)
	return nil
}

// taggedReader wraps errors from the underlying archive stream as sourceErrors,
// and aborts the read once the context is cancelled.
type taggedReader struct {
	ctx context.Context
	r   io.Reader
}

func (tr *taggedReader) Read(p []byte) (int, error) {
	if err := tr.ctx.Err(); err != nil {
		return 0, err
	}

	n, err := tr.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, &sourceError{err}
	}

	return n, err
}

func hasParentSegment(name string) bool {
	for _, segment := range strings.Split(name, "/") {
		if segment == ".." {
			return true
		}
	}

	return false
}

func hasVolumeName(name string) bool {
	return len(name) >= 2 && name[1] == ':'
}
