// Package store persists rendered result images under the results directory
// and hands them back to the download endpoint. Names are flat: the store
// never serves anything outside its directory.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"xrayd/internal/common/fsutil"
)

// namePattern admits the characters result names are built from. The method
// segment may carry '+' (gradcam++).
var namePattern = regexp.MustCompile(`^[A-Za-z0-9._+-]+$`)

// ValidateName rejects anything that could escape the store directory.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("invalid result name %q", name)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("invalid result name %q", name)
	}
	return nil
}

// HeatmapName builds the file name for a pure heatmap result.
func HeatmapName(method, id string) string {
	return fmt.Sprintf("heatmap_%s_%s.png", method, id)
}

// OverlayName builds the file name for a heatmap blended over the original.
func OverlayName(method, id string) string {
	return fmt.Sprintf("superimposed_%s_%s.png", method, id)
}

// FS is a flat directory of PNG results.
type FS struct {
	dir string
}

// New ensures dir exists and returns a store over it.
func New(dir string) (*FS, error) {
	if dir == "" {
		return nil, fmt.Errorf("store: results directory not configured")
	}
	if err := fsutil.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	return &FS{dir: dir}, nil
}

// Dir returns the backing directory.
func (s *FS) Dir() string { return s.dir }

// Save writes one result blob atomically.
func (s *FS) Save(name string, data []byte) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}

// Open opens a stored result for reading. The caller closes it. A missing
// name surfaces as an fs.ErrNotExist wrapped error.
func (s *FS) Open(name string) (*os.File, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", name, err)
	}
	return f, nil
}
