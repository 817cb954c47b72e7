package cwl

import (
	"net/url"
	"path/filepath"
	"strings"
)

// DecodePath URL-decodes a file path. CWL allows locations to contain
// URL-encoded characters such as %23 for #.
func DecodePath(path string) string {
	if path == "" {
		return path
	}
	if decoded, err := url.PathUnescape(path); err == nil {
		return decoded
	}
	return path
}

// RelativeRun rewrites an absolute run path so it is relative to the
// directory holding the referencing document. Paths that cannot be made
// relative are returned unchanged.
func RelativeRun(fromDir, run string) string {
	if !filepath.IsAbs(run) || strings.Contains(run, "://") {
		return run
	}
	rel, err := filepath.Rel(fromDir, run)
	if err != nil {
		return run
	}
	return filepath.ToSlash(rel)
}
