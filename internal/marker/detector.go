// Package marker detects working-copy roots by the presence of the
// version-control metadata directory.
package marker

import (
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/zjrosen/wcroots/internal/log"
	"github.com/zjrosen/wcroots/internal/paths"
)

// Detector checks directories for the metadata marker.
type Detector struct {
	fs          afero.Fs
	metadataDir string
}

// New creates a Detector. An empty metadataDir defaults to ".svn".
func New(fs afero.Fs, metadataDir string) *Detector {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if metadataDir == "" {
		metadataDir = paths.DefaultMetadataDir
	}
	return &Detector{fs: fs, metadataDir: metadataDir}
}

// MetadataDir returns the marker directory name.
func (d *Detector) MetadataDir() string {
	return d.metadataDir
}

// IsWorkingCopyRoot reports whether path (or, with checkAncestors, any of its
// ancestors) holds the metadata marker.
func (d *Detector) IsWorkingCopyRoot(path string, checkAncestors bool) bool {
	_, ok := d.FindRoot(path, checkAncestors)
	return ok
}

// FindRoot returns the directory holding the marker: path itself, or with
// checkAncestors the nearest ancestor. Filesystem errors count as "no marker".
func (d *Detector) FindRoot(path string, checkAncestors bool) (string, bool) {
	current := filepath.Clean(path)
	for {
		if d.hasMarker(current) {
			return current, true
		}
		if !checkAncestors {
			return "", false
		}

		parent := filepath.Dir(current)
		if parent == current {
			// Reached filesystem root (or a normalization fixed point)
			return "", false
		}
		current = parent
	}
}

// HasMarker reports whether the marker exists directly under dir.
func (d *Detector) HasMarker(dir string) bool {
	return d.hasMarker(filepath.Clean(dir))
}

func (d *Detector) hasMarker(dir string) bool {
	ok, err := afero.DirExists(d.fs, filepath.Join(dir, d.metadataDir))
	if err != nil {
		log.Debug(log.CatScan, "marker probe failed", "dir", dir, "error", err)
		return false
	}
	return ok
}
