// Package paths provides path normalization helpers shared by the scanner,
// the registry and the watcher.
package paths

import (
	"os"
	"path/filepath"
	"strings"
)

// DefaultMetadataDir is the Subversion working-copy marker.
const DefaultMetadataDir = ".svn"

// Normalize returns the absolute, cleaned form of path.
// If the absolute path cannot be determined the cleaned input is returned.
//
// Input normalization:
//   - "" -> current working directory
//   - "./a/../b" -> "<cwd>/b"
//   - "/a/b/" -> "/a/b"
func Normalize(path string) string {
	if path == "" {
		path = "."
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}

// IsDescendant reports whether path equals root or is nested under it.
// Both arguments must already be normalized.
func IsDescendant(root, path string) bool {
	if path == root {
		return true
	}
	if !strings.HasPrefix(path, root) {
		return false
	}
	if strings.HasSuffix(root, string(os.PathSeparator)) {
		return true
	}
	return path[len(root)] == os.PathSeparator
}

// SplitMetadata finds the first path segment equal to metadataDir and returns
// the directory that contains it. The second result is false when path does
// not touch the metadata directory at all.
//
//   - "/ws/app/.svn/wc.db" -> "/ws/app", true
//   - "/ws/app/.svn"       -> "/ws/app", true
//   - "/ws/app/src/x.c"    -> "", false
func SplitMetadata(path, metadataDir string) (string, bool) {
	if metadataDir == "" {
		return "", false
	}
	sep := string(os.PathSeparator)
	clean := filepath.Clean(path)

	if filepath.Base(clean) == metadataDir {
		return filepath.Dir(clean), true
	}

	needle := sep + metadataDir + sep
	if idx := strings.Index(clean, needle); idx >= 0 {
		if idx == 0 {
			return sep, true
		}
		return clean[:idx], true
	}
	return "", false
}

// Depth returns the number of path segments between root and path, or -1 when
// path is not a descendant of root.
func Depth(root, path string) int {
	if !IsDescendant(root, path) {
		return -1
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return 0
	}
	return strings.Count(rel, string(os.PathSeparator)) + 1
}
