package helpers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TempDirWithFiles creates a temporary directory (removed automatically at
// the end of the test) containing a file for each entry in the map provided. Keys
// may contain slashes, in which case intermediate directories are created.
func TempDirWithFiles(t *testing.T, files map[string][]byte) (string, []string) {
	dirPath := t.TempDir()
	filePaths := make([]string, 0, len(files))
	for name, content := range files {
		p := filepath.Join(dirPath, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
		require.NoError(t, os.WriteFile(p, content, 0o640), "failed to create temporary file in temporary dir")
		filePaths = append(filePaths, p)
	}

	assert.Len(t, filePaths, len(files), "Expected file paths recorded to match length of requested files")
	return dirPath, filePaths
}

// DirEntries returns the names of all entries directly inside the directory
// given, excluding hidden entries.
func DirEntries(t *testing.T, dir string) []string {
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Name()[0] == '.' {
			continue
		}
		names = append(names, e.Name())
	}

	return names
}
