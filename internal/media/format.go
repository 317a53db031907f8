// Package media describes the kinds of file Lumen is willing to accept,
// either as a standalone video or as an archive containing videos.
package media

import (
	"path"
	"strings"
)

type Kind int

const (
	Unsupported Kind = iota
	Video
	Archive
)

func (k Kind) String() string {
	switch k {
	case Video:
		return "VIDEO"
	case Archive:
		return "ARCHIVE"
	default:
		return "UNSUPPORTED"
	}
}

var (
	videoExtensions = map[string]struct{}{
		".mp4":  {},
		".avi":  {},
		".mov":  {},
		".mkv":  {},
		".webm": {},
	}

	// Compound extensions must be checked before their single-part suffix
	archiveExtensions = []string{".tar.gz", ".tar.zst", ".zip", ".tar", ".tgz", ".tzst"}
)

// IsVideoExtension reports whether the extension (with leading dot) is one
// of the supported video container formats. Comparison is case-insensitive.
func IsVideoExtension(ext string) bool {
	_, ok := videoExtensions[strings.ToLower(ext)]
	return ok
}

// ArchiveExtension returns the (lower-cased) archive extension of the filename
// provided, or an empty string if the filename is not a recognised archive.
func ArchiveExtension(filename string) string {
	lower := strings.ToLower(filename)
	for _, ext := range archiveExtensions {
		if strings.HasSuffix(lower, ext) && len(lower) > len(ext) {
			return ext
		}
	}

	return ""
}

// Classify determines how an uploaded file should be handled based on its name.
func Classify(filename string) Kind {
	if filename == "" {
		return Unsupported
	}
	if ArchiveExtension(filename) != "" {
		return Archive
	}
	if IsVideoExtension(Ext(filename)) {
		return Video
	}

	return Unsupported
}

// Ext returns the final extension of the base name of a slash or backslash
// separated path. Leading dots belong to the name, so ".mp4" has no extension
// while ".intro.mp4" has ".mp4".
func Ext(name string) string {
	base := path.Base(strings.ReplaceAll(name, `\`, "/"))
	return path.Ext(strings.TrimLeft(base, "."))
}

// Stem returns the base name of a slash-separated path, stripped of its
// final extension ("clips/Intro.MP4" becomes "Intro").
func Stem(name string) string {
	base := path.Base(strings.ReplaceAll(name, `\`, "/"))
	return strings.TrimSuffix(base, Ext(base))
}
