package helpers

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
)

// ArchiveEntry describes a single entry to be written in to a test archive. A
// nil Content with IsDir set creates a directory entry.
type ArchiveEntry struct {
	Name    string
	Content []byte
	IsDir   bool
	Symlink string
}

// Files is a convenience for building a slice of regular-file ArchiveEntries
// in the order given.
func Files(nameContentPairs ...string) []ArchiveEntry {
	entries := make([]ArchiveEntry, 0, len(nameContentPairs)/2)
	for i := 0; i+1 < len(nameContentPairs); i += 2 {
		entries = append(entries, ArchiveEntry{Name: nameContentPairs[i], Content: []byte(nameContentPairs[i+1])})
	}

	return entries
}

// ZipBytes builds an in-memory zip archive containing the entries given.
func ZipBytes(t *testing.T, entries []ArchiveEntry) []byte {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	for _, entry := range entries {
		name := entry.Name
		if entry.IsDir && name[len(name)-1] != '/' {
			name += "/"
		}

		header := &zip.FileHeader{Name: name, Method: zip.Deflate}
		if entry.Symlink != "" {
			header.SetMode(os.ModeSymlink | 0o777)
		}

		w, err := zw.CreateHeader(header)
		require.NoError(t, err)
		if entry.Symlink != "" {
			_, err = w.Write([]byte(entry.Symlink))
		} else if !entry.IsDir {
			_, err = w.Write(entry.Content)
		}
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	return buf.Bytes()
}

// TarBytes builds an uncompressed in-memory tarball containing the entries given.
func TarBytes(t *testing.T, entries []ArchiveEntry) []byte {
	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	for _, entry := range entries {
		header := &tar.Header{Name: entry.Name, Mode: 0o644, Size: int64(len(entry.Content)), Typeflag: tar.TypeReg}
		if entry.IsDir {
			header.Typeflag = tar.TypeDir
			header.Mode = 0o755
			header.Size = 0
		} else if entry.Symlink != "" {
			header.Typeflag = tar.TypeSymlink
			header.Linkname = entry.Symlink
			header.Size = 0
		}

		require.NoError(t, tw.WriteHeader(header))
		if header.Typeflag == tar.TypeReg {
			_, err := tw.Write(entry.Content)
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())

	return buf.Bytes()
}

// TarGzBytes builds a gzip compressed tarball containing the entries given.
func TarGzBytes(t *testing.T, entries []ArchiveEntry) []byte {
	buf := &bytes.Buffer{}
	gz := gzip.NewWriter(buf)
	_, err := io.Copy(gz, bytes.NewReader(TarBytes(t, entries)))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	return buf.Bytes()
}

// TarZstBytes builds a zstandard compressed tarball containing the entries given.
func TarZstBytes(t *testing.T, entries []ArchiveEntry) []byte {
	buf := &bytes.Buffer{}
	enc, err := zstd.NewWriter(buf)
	require.NoError(t, err)
	_, err = io.Copy(enc, bytes.NewReader(TarBytes(t, entries)))
	require.NoError(t, err)
	require.NoError(t, enc.Close())

	return buf.Bytes()
}

// WriteTempFile writes the content to a new file named 'name' inside of a
// test-scoped temporary directory, returning the path.
func WriteTempFile(t *testing.T, name string, content []byte) string {
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, content, 0o640))
	return p
}
