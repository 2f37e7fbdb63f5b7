// Package workspace derives and creates the on-disk working-directory layout
// for one pipeline run.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// PathError reports a failed filesystem operation while planning the layout.
type PathError struct {
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("workspace: %s: %v", e.Path, e.Err)
}

func (e *PathError) Unwrap() error { return e.Err }

// Layout is the set of directories under the working root. Every path is
// absolute: relative paths must never leak into expanded commands.
type Layout struct {
	Root              string
	Frames            string // extracted video frames
	Colmap            string // reconstruction workspace
	Sparse            string // colmap/sparse
	Undistorted       string // colmap/undistorted
	UndistortedImages string // colmap/undistorted/images
	UndistortedSparse string // colmap/undistorted/sparse
	Database          string // colmap/<database file>
	Train             string // training workspace
	Model             string // train/model
	Output            string
	Logs              string
}

// Plan computes the layout under root and creates every directory, parents
// before children. Creation is idempotent: re-running on a populated working
// directory neither fails nor clears existing contents.
func Plan(root, database string) (*Layout, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, &PathError{Path: root, Err: err}
	}

	l := &Layout{
		Root:        absRoot,
		Frames:      filepath.Join(absRoot, "frames"),
		Colmap:      filepath.Join(absRoot, "colmap"),
		Sparse:      filepath.Join(absRoot, "colmap", "sparse"),
		Undistorted: filepath.Join(absRoot, "colmap", "undistorted"),
		Train:       filepath.Join(absRoot, "train"),
		Model:       filepath.Join(absRoot, "train", "model"),
		Output:      filepath.Join(absRoot, "output"),
		Logs:        filepath.Join(absRoot, "logs"),
	}
	l.UndistortedImages = filepath.Join(l.Undistorted, "images")
	l.UndistortedSparse = filepath.Join(l.Undistorted, "sparse")
	l.Database = filepath.Join(l.Colmap, database)

	for _, dir := range []string{
		l.Root,
		l.Frames,
		l.Colmap,
		l.Sparse,
		l.Undistorted,
		l.UndistortedImages,
		l.UndistortedSparse,
		l.Train,
		l.Model,
		l.Output,
		l.Logs,
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &PathError{Path: dir, Err: err}
		}
	}

	return l, nil
}

// OutputFile is the deterministic final artifact path for a project.
func (l *Layout) OutputFile(project string) string {
	return filepath.Join(l.Output, project+"_gaussians.ply")
}

// LogFile is the per-run log path, timestamped and tagged with the run ID.
func (l *Layout) LogFile(runID string, now time.Time) string {
	name := fmt.Sprintf("run_%s_%s.log", now.Format("20060102_150405"), runID)
	return filepath.Join(l.Logs, name)
}
