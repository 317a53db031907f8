package ingest

import "strings"

// ParseTags splits a comma separated list of tags, trimming surrounding
// whitespace and dropping any empty entries. Order is preserved, and duplicates
// are retained.
func ParseTags(csv string) []string {
	tags := make([]string, 0)
	for _, tag := range strings.Split(csv, ",") {
		if trimmed := strings.TrimSpace(tag); trimmed != "" {
			tags = append(tags, trimmed)
		}
	}

	return tags
}
